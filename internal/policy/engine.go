// Package policy decides whether tool calls may execute, and whether they
// need explicit user approval first. Decisions are pure functions of the
// request and the engine's configuration; the engine never performs I/O.
package policy

import (
	"strings"
	"sync"

	"github.com/drover-ai/drover/pkg/models"
)

// Mode controls how much the agent may do without asking.
type Mode string

const (
	// ModeDefault auto-approves reads; everything else needs approval.
	ModeDefault Mode = "default"

	// ModeAutoEdit auto-approves reads and writes; execute and destructive
	// calls still need approval.
	ModeAutoEdit Mode = "auto_edit"

	// ModePlan allows only reads; mutating calls are denied outright.
	ModePlan Mode = "plan"

	// ModeYolo approves everything without asking.
	ModeYolo Mode = "yolo"
)

// Request describes one tool call to evaluate.
type Request struct {
	// ToolName is the tool being invoked.
	ToolName string

	// Confirmation is the tool's self-reported risk class for this call.
	// Nil means the call is read-class and safe.
	Confirmation *models.Confirmation
}

// Decision is the outcome of evaluating a request.
type Decision struct {
	// Allowed reports whether the call may proceed at all.
	Allowed bool

	// RequiresApproval reports whether the user must confirm first.
	// Only meaningful when Allowed is true.
	RequiresApproval bool

	// Reason explains the decision.
	Reason string
}

// Config configures a policy engine.
type Config struct {
	// Mode is the approval mode. Empty defaults to ModeDefault.
	Mode Mode `yaml:"mode"`

	// Allowlist contains tool patterns that are always approved without
	// asking. Supports exact match, "prefix*", "*suffix" and "*".
	Allowlist []string `yaml:"allowlist"`

	// Denylist contains tool patterns that are always denied. Takes
	// precedence over the allowlist and the mode.
	Denylist []string `yaml:"denylist"`
}

// Engine evaluates tool calls against the configured mode and lists.
// One engine is shared process-wide across sessions; mode changes are
// rare and reads dominate.
type Engine struct {
	mu        sync.RWMutex
	mode      Mode
	allowlist []string
	denylist  []string
}

// NewEngine creates a policy engine from cfg.
func NewEngine(cfg Config) *Engine {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeDefault
	}
	return &Engine{
		mode:      mode,
		allowlist: append([]string(nil), cfg.Allowlist...),
		denylist:  append([]string(nil), cfg.Denylist...),
	}
}

// Mode returns the current approval mode.
func (e *Engine) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// SetMode switches the approval mode.
func (e *Engine) SetMode(mode Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
}

// Evaluate decides whether the request may execute. The denylist wins over
// everything; the allowlist wins over the mode; otherwise the mode and the
// call's confirmation class decide.
func (e *Engine) Evaluate(req Request) Decision {
	e.mu.RLock()
	mode := e.mode
	allowlist := e.allowlist
	denylist := e.denylist
	e.mu.RUnlock()

	if matchesPattern(denylist, req.ToolName) {
		return Decision{Allowed: false, Reason: "tool in denylist"}
	}
	if matchesPattern(allowlist, req.ToolName) {
		return Decision{Allowed: true, Reason: "tool in allowlist"}
	}

	class := models.ConfirmationRead
	if req.Confirmation != nil {
		class = req.Confirmation.Type
	}

	switch mode {
	case ModeYolo:
		return Decision{Allowed: true, Reason: "yolo mode"}

	case ModePlan:
		if class == models.ConfirmationRead {
			return Decision{Allowed: true, Reason: "read allowed in plan mode"}
		}
		return Decision{Allowed: false, Reason: "mutations denied in plan mode"}

	case ModeAutoEdit:
		switch class {
		case models.ConfirmationRead, models.ConfirmationWrite:
			return Decision{Allowed: true, Reason: "auto-approved in auto-edit mode"}
		default:
			return Decision{
				Allowed:          true,
				RequiresApproval: true,
				Reason:           string(class) + " requires approval",
			}
		}

	default:
		if class == models.ConfirmationRead {
			return Decision{Allowed: true, Reason: "read auto-approved"}
		}
		return Decision{
			Allowed:          true,
			RequiresApproval: true,
			Reason:           string(class) + " requires approval",
		}
	}
}

// matchesPattern checks if toolName matches any pattern in the list.
// Supports exact match, prefix* match, *suffix match, and * (all).
func matchesPattern(patterns []string, toolName string) bool {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if pattern == "*" || pattern == toolName {
			return true
		}
		if len(pattern) > 1 && pattern[len(pattern)-1] == '*' {
			if strings.HasPrefix(toolName, pattern[:len(pattern)-1]) {
				return true
			}
		}
		if len(pattern) > 1 && pattern[0] == '*' {
			if strings.HasSuffix(toolName, pattern[1:]) {
				return true
			}
		}
	}
	return false
}
