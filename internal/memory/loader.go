// Package memory loads persistent instruction files (DROVER.md) and
// exposes them as system prompt context.
package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFileName is the instruction file looked up in the workspace
// and its ancestors.
const DefaultFileName = "DROVER.md"

const maxFileBytes = 64_000

// Loader discovers instruction files for a workspace. Project files are
// found by walking up from the workspace root; a global file under the
// user's config directory applies everywhere.
type Loader struct {
	// Root is the workspace directory to start the walk from. Empty
	// means the current directory.
	Root string

	// FileName overrides DefaultFileName.
	FileName string

	// GlobalDir overrides the global config directory. Empty uses
	// ~/.drover.
	GlobalDir string

	// DisableGlobal skips the global file entirely.
	DisableGlobal bool
}

// Source is one discovered instruction file.
type Source struct {
	Path    string
	Content string
	Global  bool
}

// GetContent loads and joins all discovered instruction files, outermost
// first, each prefixed with its origin path. Missing files are not an
// error; an empty string means nothing was found.
func (l *Loader) GetContent(ctx context.Context) (string, error) {
	sources, err := l.Discover()
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	var parts []string
	for _, src := range sources {
		parts = append(parts, fmt.Sprintf("# Instructions from %s\n\n%s", src.Path, src.Content))
	}
	return strings.Join(parts, "\n\n"), nil
}

// Discover returns every instruction file that applies to the
// workspace: the global file first, then project files from the
// outermost ancestor down to the workspace root.
func (l *Loader) Discover() ([]Source, error) {
	name := l.FileName
	if name == "" {
		name = DefaultFileName
	}

	var sources []Source

	if !l.DisableGlobal {
		if global, ok := l.globalSource(name); ok {
			sources = append(sources, global)
		}
	}

	root := l.Root
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	// Collect ancestors root-last so outer instructions come first.
	var dirs []string
	for dir := rootAbs; ; {
		dirs = append([]string{dir}, dirs...)
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	for _, dir := range dirs {
		path := filepath.Join(dir, name)
		content, err := readCapped(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		sources = append(sources, Source{Path: path, Content: content})
	}

	return sources, nil
}

func (l *Loader) globalSource(name string) (Source, bool) {
	dir := l.GlobalDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Source{}, false
		}
		dir = filepath.Join(home, ".drover")
	}
	path := filepath.Join(dir, name)
	content, err := readCapped(path)
	if err != nil || strings.TrimSpace(content) == "" {
		return Source{}, false
	}
	return Source{Path: path, Content: content, Global: true}, true
}

func readCapped(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) > maxFileBytes {
		data = data[:maxFileBytes]
	}
	return strings.TrimRight(string(data), "\n"), nil
}
