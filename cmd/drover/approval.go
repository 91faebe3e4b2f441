package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/drover-ai/drover/internal/agent"
)

// terminalApprover prompts on the controlling terminal for
// approval-required tool calls. When stdin is not a terminal every
// request is denied, matching the no-approver behavior.
func terminalApprover() agent.ApprovalFunc {
	reader := bufio.NewReader(os.Stdin)
	return func(ctx context.Context, req *agent.ApprovalRequest) (bool, error) {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return false, nil
		}

		message := req.ToolName
		if req.Confirmation != nil && req.Confirmation.Message != "" {
			message = req.Confirmation.Message
		}
		fmt.Fprintf(os.Stderr, "\n%s\n", message)
		if len(req.Params) > 0 && (req.Confirmation == nil || req.Confirmation.Message == "") {
			fmt.Fprintf(os.Stderr, "  params: %s\n", truncate(string(req.Params), 200))
		}
		fmt.Fprint(os.Stderr, "Allow? [y/N] ")

		type answer struct {
			line string
			err  error
		}
		ch := make(chan answer, 1)
		go func() {
			line, err := reader.ReadString('\n')
			ch <- answer{line: line, err: err}
		}()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case a := <-ch:
			if a.err != nil {
				return false, nil
			}
			switch strings.ToLower(strings.TrimSpace(a.line)) {
			case "y", "yes":
				return true, nil
			default:
				return false, nil
			}
		}
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
