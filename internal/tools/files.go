package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/forge/internal/sandbox"
)

const (
	maxReadBytes    = 1 << 20
	defaultReadLine = 2000
	maxGrepMatches  = 100
)

// ReadTool reads a workspace file with optional line offset and limit.
type ReadTool struct {
	Supervisor *sandbox.Supervisor
}

func (t *ReadTool) Name() string { return "Read" }

func (t *ReadTool) Description() string {
	return "Read a file from the project. Supports offset and limit for large files."
}

func (t *ReadTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"file_path": {"type": "string", "description": "Path relative to the project root"},
			"offset": {"type": "integer", "minimum": 1, "description": "1-based first line to return"},
			"limit": {"type": "integer", "minimum": 1, "description": "Maximum number of lines"}
		},
		"required": ["file_path"],
		"additionalProperties": false
	}`)
}

func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("invalid input: %v", err), nil
	}

	path, err := t.Supervisor.Resolve(params.FilePath)
	if err != nil {
		return Errorf("%v", err), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return Errorf("read %s: %v", params.FilePath, err), nil
	}
	if info.IsDir() {
		return Errorf("%s is a directory", params.FilePath), nil
	}
	if info.Size() > maxReadBytes {
		return Errorf("%s is %d bytes, over the %d byte limit; use offset and limit",
			params.FilePath, info.Size(), maxReadBytes), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf("read %s: %v", params.FilePath, err), nil
	}

	lines := strings.Split(string(data), "\n")
	offset := params.Offset
	if offset < 1 {
		offset = 1
	}
	limit := params.Limit
	if limit < 1 {
		limit = defaultReadLine
	}
	if offset > len(lines) {
		return Errorf("offset %d past end of file (%d lines)", offset, len(lines)), nil
	}
	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&b, "%d\t%s\n", i+1, lines[i])
	}
	return Text(b.String()), nil
}

// WriteTool creates or overwrites a workspace file, making parent
// directories as needed.
type WriteTool struct {
	Supervisor *sandbox.Supervisor
}

func (t *WriteTool) Name() string { return "Write" }

func (t *WriteTool) Description() string {
	return "Write a file in the project, creating parent directories."
}

func (t *WriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"file_path": {"type": "string"},
			"content": {"type": "string"}
		},
		"required": ["file_path", "content"],
		"additionalProperties": false
	}`)
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("invalid input: %v", err), nil
	}

	path, err := t.Supervisor.Resolve(params.FilePath)
	if err != nil {
		return Errorf("%v", err), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Errorf("create directories for %s: %v", params.FilePath, err), nil
	}
	if err := os.WriteFile(path, []byte(params.Content), 0o644); err != nil {
		return Errorf("write %s: %v", params.FilePath, err), nil
	}
	return Text(fmt.Sprintf("wrote %d bytes to %s", len(params.Content), params.FilePath)), nil
}

// EditTool replaces an exact string in a workspace file.
type EditTool struct {
	Supervisor *sandbox.Supervisor
}

func (t *EditTool) Name() string { return "Edit" }

func (t *EditTool) Description() string {
	return "Replace an exact string in a file. old_string must match exactly once unless replace_all is set."
}

func (t *EditTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"file_path": {"type": "string"},
			"old_string": {"type": "string", "minLength": 1},
			"new_string": {"type": "string"},
			"replace_all": {"type": "boolean"}
		},
		"required": ["file_path", "old_string", "new_string"],
		"additionalProperties": false
	}`)
}

func (t *EditTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("invalid input: %v", err), nil
	}

	path, err := t.Supervisor.Resolve(params.FilePath)
	if err != nil {
		return Errorf("%v", err), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf("read %s: %v", params.FilePath, err), nil
	}

	content := string(data)
	count := strings.Count(content, params.OldString)
	switch {
	case count == 0:
		return Errorf("old_string not found in %s", params.FilePath), nil
	case count > 1 && !params.ReplaceAll:
		return Errorf("old_string appears %d times in %s; pass replace_all or make it unique", count, params.FilePath), nil
	}

	if params.ReplaceAll {
		content = strings.ReplaceAll(content, params.OldString, params.NewString)
	} else {
		content = strings.Replace(content, params.OldString, params.NewString, 1)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Errorf("write %s: %v", params.FilePath, err), nil
	}
	return Text(fmt.Sprintf("replaced %d occurrence(s) in %s", count, params.FilePath)), nil
}

// GlobTool lists workspace files matching a pattern with ** support.
type GlobTool struct {
	Supervisor *sandbox.Supervisor
}

func (t *GlobTool) Name() string { return "Glob" }

func (t *GlobTool) Description() string {
	return "List project files matching a glob pattern. ** matches across directories."
}

func (t *GlobTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string"},
			"path": {"type": "string", "description": "Directory to search, relative to the project root"}
		},
		"required": ["pattern"],
		"additionalProperties": false
	}`)
}

func (t *GlobTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("invalid input: %v", err), nil
	}

	base := params.Path
	if base == "" {
		base = "."
	}
	root, err := t.Supervisor.Resolve(base)
	if err != nil {
		return Errorf("%v", err), nil
	}

	var matches []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "node_modules" || d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if matchGlob(params.Pattern, filepath.ToSlash(rel)) {
			matches = append(matches, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return Errorf("glob: %v", err), nil
	}
	if len(matches) == 0 {
		return Text("no files match " + params.Pattern), nil
	}
	return Text(strings.Join(matches, "\n")), nil
}

// GrepTool searches workspace file contents with a regular expression.
type GrepTool struct {
	Supervisor *sandbox.Supervisor
}

func (t *GrepTool) Name() string { return "Grep" }

func (t *GrepTool) Description() string {
	return "Search project file contents with a regular expression."
}

func (t *GrepTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string"},
			"path": {"type": "string"},
			"include": {"type": "string", "description": "Glob filter on file paths"}
		},
		"required": ["pattern"],
		"additionalProperties": false
	}`)
}

func (t *GrepTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
		Include string `json:"include"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("invalid input: %v", err), nil
	}

	re, err := compileSearchPattern(params.Pattern)
	if err != nil {
		return Errorf("invalid pattern: %v", err), nil
	}

	base := params.Path
	if base == "" {
		base = "."
	}
	root, err := t.Supervisor.Resolve(base)
	if err != nil {
		return Errorf("%v", err), nil
	}

	var b strings.Builder
	matched := 0
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || matched >= maxGrepMatches {
			if matched >= maxGrepMatches {
				return filepath.SkipAll
			}
			return nil
		}
		if d.IsDir() {
			if d.Name() == "node_modules" || d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if params.Include != "" && !matchGlob(params.Include, rel) {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil || !isProbablyText(data) {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				fmt.Fprintf(&b, "%s:%d: %s\n", rel, i+1, strings.TrimSpace(line))
				matched++
				if matched >= maxGrepMatches {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return Errorf("grep: %v", err), nil
	}
	if matched == 0 {
		return Text("no matches for " + params.Pattern), nil
	}
	out := b.String()
	if matched >= maxGrepMatches {
		out += fmt.Sprintf("[stopped after %d matches]\n", maxGrepMatches)
	}
	return Text(out), nil
}

func isProbablyText(data []byte) bool {
	n := len(data)
	if n > 512 {
		n = 512
	}
	for _, c := range data[:n] {
		if c == 0 {
			return false
		}
	}
	return true
}
