package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/pkg/models"
)

const defaultMaxReadBytes = 200_000

// ReadTool reads a file from the workspace.
type ReadTool struct {
	config   Config
	resolver resolver
}

type readParams struct {
	Path     string `json:"path" jsonschema:"description=Workspace-relative path to the file"`
	Offset   int    `json:"offset,omitempty" jsonschema:"description=Byte offset to start reading from"`
	MaxBytes int    `json:"max_bytes,omitempty" jsonschema:"description=Maximum number of bytes to return"`
}

type readResult struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Size      int64  `json:"size"`
	Offset    int    `json:"offset,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

func NewReadTool(config Config) *ReadTool {
	return &ReadTool{config: config, resolver: resolver{root: config.Workspace}}
}

func (t *ReadTool) Name() string { return "read_file" }

func (t *ReadTool) Description() string {
	return "Read the contents of a file in the workspace. Supports byte offset and size limits for large files."
}

func (t *ReadTool) Schema() json.RawMessage {
	return schemaFor(&readParams{})
}

func (t *ReadTool) GetConfirmation(params json.RawMessage) *models.Confirmation {
	return nil
}

func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p readParams
	if err := json.Unmarshal(params, &p); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	path, err := t.resolver.resolve(p.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return toolError(fmt.Sprintf("file not found: %s", p.Path)), nil
		}
		return toolError(fmt.Sprintf("stat file: %v", err)), nil
	}
	if info.IsDir() {
		return toolError(fmt.Sprintf("%s is a directory", p.Path)), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}

	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(data) {
		offset = len(data)
	}
	data = data[offset:]

	limit := p.MaxBytes
	if limit <= 0 {
		limit = t.config.MaxReadBytes
	}
	if limit <= 0 {
		limit = defaultMaxReadBytes
	}
	truncated := false
	if len(data) > limit {
		data = data[:limit]
		truncated = true
	}

	content := strings.ToValidUTF8(string(data), "�")

	return toolJSON(readResult{
		Path:      p.Path,
		Content:   content,
		Size:      info.Size(),
		Offset:    offset,
		Truncated: truncated,
	}), nil
}
