package main

import (
	"fmt"
	"io"
	"time"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/pkg/models"
)

// renderer turns runtime activity events into terminal output. Content
// chunks stream to out; everything else goes to status as one-line
// notes.
type renderer struct {
	out     io.Writer
	status  io.Writer
	verbose bool

	wroteContent bool
}

func newRenderer(out, status io.Writer, verbose bool) *renderer {
	return &renderer{out: out, status: status, verbose: verbose}
}

func (r *renderer) activity() agent.ActivityFunc {
	return func(event *models.AgentEvent) {
		switch event.Type {
		case models.AgentEventContentChunk:
			if event.Content != nil {
				fmt.Fprint(r.out, event.Content.Delta)
				r.wroteContent = true
			}
		case models.AgentEventThinking:
			if r.verbose && event.Content != nil {
				fmt.Fprint(r.status, event.Content.Delta)
			}
		case models.AgentEventToolStarted:
			if event.Tool != nil {
				r.breakLine()
				fmt.Fprintf(r.status, "[tool] %s %s\n", event.Tool.Name, truncate(string(event.Tool.ArgsJSON), 120))
			}
		case models.AgentEventToolFinished:
			if event.Tool != nil && (!event.Tool.Success || r.verbose) {
				status := "ok"
				if !event.Tool.Success {
					status = "failed"
				}
				fmt.Fprintf(r.status, "[tool] %s %s (%s)\n", event.Tool.Name, status, event.Tool.Elapsed.Round(time.Millisecond))
			}
		case models.AgentEventLoopWarning:
			if event.Loop != nil {
				r.breakLine()
				fmt.Fprintf(r.status, "[loop] %s repeated %d times\n", event.Loop.ToolName, event.Loop.Count)
			}
		case models.AgentEventLoopDetected:
			if event.Loop != nil {
				r.breakLine()
				fmt.Fprintf(r.status, "[loop] stopping: %s\n", event.Loop.Suggestion)
			}
		case models.AgentEventCompressed:
			fmt.Fprintln(r.status, "[context] compressed older conversation history")
		case models.AgentEventRouteChanged:
			if event.Route != nil && r.verbose {
				fmt.Fprintf(r.status, "[route] %s provider=%s reason=%s\n", event.Route.Kind, event.Route.Provider, event.Route.Reason)
			}
		case models.AgentEventError:
			if event.Error != nil {
				r.breakLine()
				fmt.Fprintf(r.status, "[error] %s\n", event.Error.Message)
			}
		}
	}
}

// breakLine ends a partially streamed content line before a status note.
func (r *renderer) breakLine() {
	if r.wroteContent {
		fmt.Fprintln(r.out)
		r.wroteContent = false
	}
}

func (r *renderer) finish() {
	if r.wroteContent {
		fmt.Fprintln(r.out)
		r.wroteContent = false
	}
}
