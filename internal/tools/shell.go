package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/pkg/models"
)

const (
	defaultCommandTimeout = 2 * time.Minute
	maxCommandOutput      = 64_000
)

// destructivePrefixes marks commands that get the destructive
// confirmation class instead of the plain execute class.
var destructivePrefixes = []string{
	"rm ", "rm\t", "rmdir ", "sudo ", "mkfs", "dd ",
	"shutdown", "reboot", "chmod -r", "chown -r",
	"git push --force", "git push -f", "git reset --hard", "git clean",
	"truncate ", "> /dev/",
}

// ShellTool runs shell commands in the workspace.
type ShellTool struct {
	config   Config
	resolver resolver
	timeout  time.Duration
}

type shellParams struct {
	Command        string `json:"command" jsonschema:"description=Shell command to execute"`
	Cwd            string `json:"cwd,omitempty" jsonschema:"description=Workspace-relative working directory"`
	Input          string `json:"input,omitempty" jsonschema:"description=Stdin content to pass to the command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"description=Timeout in seconds (0 uses the default)"`
}

type shellResult struct {
	Command    string `json:"command"`
	Cwd        string `json:"cwd,omitempty"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	Error      string `json:"error,omitempty"`
}

func NewShellTool(config Config, timeout time.Duration) *ShellTool {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &ShellTool{config: config, resolver: resolver{root: config.Workspace}, timeout: timeout}
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Run a shell command in the workspace and return its stdout, stderr, and exit code."
}

func (t *ShellTool) Schema() json.RawMessage {
	return schemaFor(&shellParams{})
}

func (t *ShellTool) GetConfirmation(params json.RawMessage) *models.Confirmation {
	var p shellParams
	command := "command"
	if err := json.Unmarshal(params, &p); err == nil && strings.TrimSpace(p.Command) != "" {
		command = strings.TrimSpace(p.Command)
	}
	confType := models.ConfirmationExecute
	if isDestructive(command) {
		confType = models.ConfirmationDestructive
	}
	return &models.Confirmation{
		Type:    confType,
		Message: "Run: " + command,
	}
}

func isDestructive(command string) bool {
	lowered := strings.ToLower(strings.TrimSpace(command)) + " "
	for _, prefix := range destructivePrefixes {
		if strings.HasPrefix(lowered, prefix) || strings.Contains(lowered, "&& "+prefix) ||
			strings.Contains(lowered, "; "+prefix) || strings.Contains(lowered, "| "+prefix) {
			return true
		}
	}
	return false
}

func (t *ShellTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p shellParams
	if err := json.Unmarshal(params, &p); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	command := strings.TrimSpace(p.Command)
	if command == "" {
		return toolError("command is required"), nil
	}

	dir, err := t.resolver.resolve(".")
	if err != nil {
		return toolError(err.Error()), nil
	}
	if p.Cwd != "" {
		dir, err = t.resolver.resolve(p.Cwd)
		if err != nil {
			return toolError(err.Error()), nil
		}
	}

	timeout := t.timeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = dir
	stdout := newLimitedBuffer(maxCommandOutput)
	stderr := newLimitedBuffer(maxCommandOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if p.Input != "" {
		cmd.Stdin = strings.NewReader(p.Input)
	}

	start := time.Now()
	runErr := cmd.Run()

	result := shellResult{
		Command:    command,
		Cwd:        dir,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ExitCode:   exitCode(runErr),
		DurationMS: time.Since(start).Milliseconds(),
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.Error = fmt.Sprintf("command timed out after %v", timeout)
	} else if runErr != nil {
		result.Error = runErr.Error()
	}

	out := toolJSON(result)
	out.IsError = result.Error != ""
	return out, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// limitedBuffer keeps the first maxBytes written and drops the rest.
type limitedBuffer struct {
	mu        sync.Mutex
	data      []byte
	max       int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.max - len(b.data)
	if remaining > 0 {
		if len(p) > remaining {
			b.data = append(b.data, p[:remaining]...)
			b.truncated = true
		} else {
			b.data = append(b.data, p...)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return string(b.data) + "\n[output truncated]"
	}
	return string(b.data)
}
