package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/drover-ai/drover/internal/tools"
	"github.com/drover-ai/drover/pkg/models"
)

func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the built-in tools and their policy classes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCLASS\tDESCRIPTION")
			for _, tool := range tools.All(tools.Config{}, 0) {
				class := string(models.ConfirmationRead)
				if conf := tool.GetConfirmation(nil); conf != nil {
					class = string(conf.Type)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", tool.Name(), class, tool.Description())
			}
			return w.Flush()
		},
	}
	return cmd
}
