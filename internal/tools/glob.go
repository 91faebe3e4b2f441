package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/pkg/models"
)

const defaultMaxGlobResults = 500

// GlobTool lists workspace files matching a glob pattern. Patterns may
// use "**" to match across directory boundaries.
type GlobTool struct {
	config   Config
	resolver resolver
}

type globParams struct {
	Pattern string `json:"pattern" jsonschema:"description=Glob pattern such as *.go or internal/**/*_test.go"`
	Dir     string `json:"dir,omitempty" jsonschema:"description=Workspace-relative directory to search"`
}

type globResult struct {
	Pattern   string   `json:"pattern"`
	Matches   []string `json:"matches"`
	Truncated bool     `json:"truncated,omitempty"`
}

func NewGlobTool(config Config) *GlobTool {
	return &GlobTool{config: config, resolver: resolver{root: config.Workspace}}
}

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return "Find workspace files matching a glob pattern. Results are workspace-relative and sorted."
}

func (t *GlobTool) Schema() json.RawMessage {
	return schemaFor(&globParams{})
}

func (t *GlobTool) GetConfirmation(params json.RawMessage) *models.Confirmation {
	return nil
}

func (t *GlobTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p globParams
	if err := json.Unmarshal(params, &p); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(p.Pattern) == "" {
		return toolError("pattern is required"), nil
	}

	dir := p.Dir
	if dir == "" {
		dir = "."
	}
	root, err := t.resolver.resolve(dir)
	if err != nil {
		return toolError(err.Error()), nil
	}

	limit := t.config.MaxGlobResults
	if limit <= 0 {
		limit = defaultMaxGlobResults
	}

	var matches []string
	truncated := false
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			base := d.Name()
			if base == ".git" || base == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		ok, matchErr := matchGlob(p.Pattern, rel)
		if matchErr != nil {
			return matchErr
		}
		if !ok {
			return nil
		}
		if len(matches) >= limit {
			truncated = true
			return filepath.SkipAll
		}
		matches = append(matches, rel)
		return nil
	})
	if walkErr != nil {
		if walkErr == ctx.Err() {
			return toolError("glob canceled"), nil
		}
		return toolError(fmt.Sprintf("invalid pattern: %v", walkErr)), nil
	}

	sort.Strings(matches)
	if matches == nil {
		matches = []string{}
	}
	return toolJSON(globResult{Pattern: p.Pattern, Matches: matches, Truncated: truncated}), nil
}

// matchGlob matches a slash-separated path against a pattern. A "**"
// segment matches zero or more path segments; other segments use
// path.Match semantics.
func matchGlob(pattern, name string) (bool, error) {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, name []string) (bool, error) {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			for skip := 0; skip <= len(name); skip++ {
				ok, err := matchSegments(pattern[1:], name[skip:])
				if ok || err != nil {
					return ok, err
				}
			}
			return false, nil
		}
		if len(name) == 0 {
			return false, nil
		}
		ok, err := filepath.Match(pattern[0], name[0])
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		pattern = pattern[1:]
		name = name[1:]
	}
	return len(name) == 0, nil
}
