// Package tools provides the built-in collaborator tools: reading and
// writing workspace files, globbing, and shell execution. Each tool
// reports a confirmation class so the policy engine can gate it.
package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/pkg/models"
)

// Config controls workspace tool defaults.
type Config struct {
	// Workspace is the root directory tools operate in. Paths that
	// escape it are rejected. Empty means the current directory.
	Workspace string

	// MaxReadBytes caps file reads. Default: 200000.
	MaxReadBytes int

	// MaxGlobResults caps glob matches. Default: 500.
	MaxGlobResults int
}

// All returns the full built-in tool set for a workspace.
func All(config Config, shellTimeout time.Duration) []agent.Tool {
	return []agent.Tool{
		NewReadTool(config),
		NewGlobTool(config),
		NewWriteTool(config),
		NewShellTool(config, shellTimeout),
	}
}

// resolver resolves and validates workspace-relative paths.
type resolver struct {
	root string
}

// resolve returns an absolute, cleaned path within the workspace root.
func (r resolver) resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(r.root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return targetAbs, nil
}

// schemaFor derives a JSON schema from a parameter struct. Schemas are
// inlined (no $ref) so backends and the validator see a plain object.
func schemaFor(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)
	schema.Version = ""
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}

func toolJSON(v any) *agent.ToolResult {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err))
	}
	return &agent.ToolResult{Content: string(payload)}
}

func writeConfirmation(path string) *models.Confirmation {
	return &models.Confirmation{
		Type:    models.ConfirmationWrite,
		Message: "Write to " + path,
	}
}
