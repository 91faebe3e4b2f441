package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/pkg/models"
)

// WriteTool writes a file inside the workspace, creating parent
// directories as needed.
type WriteTool struct {
	config   Config
	resolver resolver
}

type writeParams struct {
	Path    string `json:"path" jsonschema:"description=Workspace-relative path to the file"`
	Content string `json:"content" jsonschema:"description=Full content to write"`
	Append  bool   `json:"append,omitempty" jsonschema:"description=Append to the file instead of replacing it"`
}

type writeResult struct {
	Path    string `json:"path"`
	Bytes   int    `json:"bytes"`
	Created bool   `json:"created"`
}

func NewWriteTool(config Config) *WriteTool {
	return &WriteTool{config: config, resolver: resolver{root: config.Workspace}}
}

func (t *WriteTool) Name() string { return "write_file" }

func (t *WriteTool) Description() string {
	return "Write content to a file in the workspace. Creates the file and any missing parent directories."
}

func (t *WriteTool) Schema() json.RawMessage {
	return schemaFor(&writeParams{})
}

func (t *WriteTool) GetConfirmation(params json.RawMessage) *models.Confirmation {
	var p writeParams
	if err := json.Unmarshal(params, &p); err != nil || p.Path == "" {
		return writeConfirmation("file")
	}
	return writeConfirmation(p.Path)
}

func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p writeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	path, err := t.resolver.resolve(p.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return toolError(fmt.Sprintf("create parent directory: %v", err)), nil
	}

	if p.Append {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return toolError(fmt.Sprintf("open file: %v", err)), nil
		}
		defer f.Close()
		if _, err := f.WriteString(p.Content); err != nil {
			return toolError(fmt.Sprintf("append to file: %v", err)), nil
		}
	} else if err := os.WriteFile(path, []byte(p.Content), 0o644); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	return toolJSON(writeResult{Path: p.Path, Bytes: len(p.Content), Created: created}), nil
}
