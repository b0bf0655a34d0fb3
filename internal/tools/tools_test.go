package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/forge/internal/config"
	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/internal/sandbox"
)

func testWorkspace(t *testing.T) *sandbox.Supervisor {
	t.Helper()
	cfg := config.Default().Sandbox
	cfg.Root = t.TempDir()
	log := observability.NewLogger(observability.LogConfig{Level: "error", Output: os.Stderr})
	sup := sandbox.NewSupervisor(cfg, "sess-tools", log, nil)
	if _, err := sup.Materialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return sup
}

func mustInput(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestRegistryValidatesInput(t *testing.T) {
	sup := testWorkspace(t)
	reg := NewRegistry()
	reg.MustRegister(&ReadTool{Supervisor: sup})

	// Missing required field fails validation as an error result.
	res, err := reg.Execute(context.Background(), "Read", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "validation") {
		t.Fatalf("expected validation error result, got %+v", res)
	}

	// Unknown field fails with additionalProperties: false.
	res, err = reg.Execute(context.Background(), "Read",
		json.RawMessage(`{"file_path":"a.txt","bogus":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("unknown field accepted")
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry()
	res, err := reg.Execute(context.Background(), "Nope", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "unknown tool") {
		t.Fatalf("got %+v", res)
	}
}

func TestRegistrySubset(t *testing.T) {
	sup := testWorkspace(t)
	reg := NewRegistry()
	reg.MustRegister(&ReadTool{Supervisor: sup})
	reg.MustRegister(&WriteTool{Supervisor: sup})

	sub := reg.Subset([]string{"Read", "NotRegistered"})
	if _, ok := sub.Get("Read"); !ok {
		t.Error("Read missing from subset")
	}
	if _, ok := sub.Get("Write"); ok {
		t.Error("Write leaked into subset")
	}
}

func TestWriteReadEditRoundTrip(t *testing.T) {
	sup := testWorkspace(t)
	ctx := context.Background()
	write := &WriteTool{Supervisor: sup}
	read := &ReadTool{Supervisor: sup}
	edit := &EditTool{Supervisor: sup}

	res, err := write.Execute(ctx, mustInput(t, map[string]string{
		"file_path": "src/app.ts",
		"content":   "const port = 3000\nconsole.log(port)\n",
	}))
	if err != nil || res.IsError {
		t.Fatalf("write: %v / %+v", err, res)
	}

	res, err = edit.Execute(ctx, mustInput(t, map[string]string{
		"file_path":  "src/app.ts",
		"old_string": "3000",
		"new_string": "4000",
	}))
	if err != nil || res.IsError {
		t.Fatalf("edit: %v / %+v", err, res)
	}

	res, err = read.Execute(ctx, mustInput(t, map[string]string{"file_path": "src/app.ts"}))
	if err != nil || res.IsError {
		t.Fatalf("read: %v / %+v", err, res)
	}
	if !strings.Contains(res.Content, "4000") || strings.Contains(res.Content, "3000") {
		t.Fatalf("edit not applied: %s", res.Content)
	}
}

func TestEditErrors(t *testing.T) {
	sup := testWorkspace(t)
	ctx := context.Background()
	write := &WriteTool{Supervisor: sup}
	edit := &EditTool{Supervisor: sup}

	if _, err := write.Execute(ctx, mustInput(t, map[string]string{
		"file_path": "dup.txt",
		"content":   "x y x",
	})); err != nil {
		t.Fatal(err)
	}

	res, _ := edit.Execute(ctx, mustInput(t, map[string]string{
		"file_path": "dup.txt", "old_string": "absent", "new_string": "z",
	}))
	if !res.IsError || !strings.Contains(res.Content, "not found") {
		t.Errorf("missing old_string: %+v", res)
	}

	res, _ = edit.Execute(ctx, mustInput(t, map[string]string{
		"file_path": "dup.txt", "old_string": "x", "new_string": "z",
	}))
	if !res.IsError || !strings.Contains(res.Content, "2 times") {
		t.Errorf("ambiguous old_string: %+v", res)
	}

	res, _ = edit.Execute(ctx, mustInput(t, map[string]any{
		"file_path": "dup.txt", "old_string": "x", "new_string": "z", "replace_all": true,
	}))
	if res.IsError {
		t.Errorf("replace_all failed: %+v", res)
	}
}

func TestReadOffsetLimit(t *testing.T) {
	sup := testWorkspace(t)
	ctx := context.Background()
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = strings.Repeat("x", i+1)
	}
	if _, err := (&WriteTool{Supervisor: sup}).Execute(ctx, mustInput(t, map[string]string{
		"file_path": "lines.txt", "content": strings.Join(lines, "\n"),
	})); err != nil {
		t.Fatal(err)
	}

	res, err := (&ReadTool{Supervisor: sup}).Execute(ctx, mustInput(t, map[string]any{
		"file_path": "lines.txt", "offset": 3, "limit": 2,
	}))
	if err != nil || res.IsError {
		t.Fatalf("read: %v / %+v", err, res)
	}
	if !strings.Contains(res.Content, "3\txxx") || strings.Contains(res.Content, "5\t") {
		t.Fatalf("offset/limit wrong: %q", res.Content)
	}
}

func TestGlobAndGrep(t *testing.T) {
	sup := testWorkspace(t)
	ctx := context.Background()
	write := &WriteTool{Supervisor: sup}
	for path, content := range map[string]string{
		"app/page.tsx":       "export default function Page() {}",
		"app/about/page.tsx": "// TODO: finish about page",
		"lib/util.ts":        "export const noop = () => {}",
		"README.md":          "readme",
	} {
		if _, err := write.Execute(ctx, mustInput(t, map[string]string{
			"file_path": path, "content": content,
		})); err != nil {
			t.Fatal(err)
		}
	}

	res, err := (&GlobTool{Supervisor: sup}).Execute(ctx, mustInput(t, map[string]string{
		"pattern": "**/*.tsx",
	}))
	if err != nil || res.IsError {
		t.Fatalf("glob: %v / %+v", err, res)
	}
	if !strings.Contains(res.Content, "app/page.tsx") ||
		!strings.Contains(res.Content, "app/about/page.tsx") ||
		strings.Contains(res.Content, "util.ts") {
		t.Fatalf("glob matches: %q", res.Content)
	}

	res, err = (&GrepTool{Supervisor: sup}).Execute(ctx, mustInput(t, map[string]string{
		"pattern": "TODO", "include": "**/*.tsx",
	}))
	if err != nil || res.IsError {
		t.Fatalf("grep: %v / %+v", err, res)
	}
	if !strings.Contains(res.Content, "app/about/page.tsx:1") {
		t.Fatalf("grep matches: %q", res.Content)
	}
}

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"*.ts", "util.ts", true},
		{"*.ts", "lib/util.ts", true}, // base-name match
		{"**/*.ts", "lib/util.ts", true},
		{"**/*.ts", "util.ts", true},
		{"app/**/*.tsx", "app/a/b/page.tsx", true},
		{"app/*.tsx", "app/a/page.tsx", false},
		{"**/node_modules/**", "a/node_modules/x/y.js", true},
	}
	for _, tc := range cases {
		if got := matchGlob(tc.pattern, tc.name); got != tc.want {
			t.Errorf("matchGlob(%q, %q) = %v", tc.pattern, tc.name, got)
		}
	}
}

func TestBashForeground(t *testing.T) {
	sup := testWorkspace(t)
	ctx := context.Background()
	bash := &BashTool{Supervisor: sup}

	res, err := bash.Execute(ctx, mustInput(t, map[string]string{"command": "echo hello"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError || !strings.Contains(res.Content, "hello") {
		t.Fatalf("echo: %+v", res)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("exit code: %+v", res.ExitCode)
	}

	res, err = bash.Execute(ctx, mustInput(t, map[string]string{"command": "exit 3"}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || res.ExitCode == nil || *res.ExitCode != 3 {
		t.Fatalf("nonzero exit: %+v", res)
	}
}

func TestBashBackground(t *testing.T) {
	sup := testWorkspace(t)
	defer sup.DrainChildren(context.Background())

	bash := &BashTool{Supervisor: sup}
	ctx := WithToolCallID(context.Background(), "call-bg")
	res, err := bash.Execute(ctx, mustInput(t, map[string]any{
		"command": "sleep 30", "background": true,
	}))
	if err != nil || res.IsError {
		t.Fatalf("background: %v / %+v", err, res)
	}

	children := sup.Children()
	if len(children) != 1 {
		t.Fatalf("children = %d", len(children))
	}
	if children[0].ToolCallID != "call-bg" {
		t.Errorf("tool call id = %q", children[0].ToolCallID)
	}
	if !children[0].Alive() {
		t.Error("background child not running")
	}
}

func TestFileToolsStayInWorkspace(t *testing.T) {
	sup := testWorkspace(t)
	ctx := context.Background()

	res, err := (&ReadTool{Supervisor: sup}).Execute(ctx, mustInput(t, map[string]string{
		"file_path": "../../../etc/passwd",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("escape read succeeded")
	}

	res, err = (&WriteTool{Supervisor: sup}).Execute(ctx, mustInput(t, map[string]string{
		"file_path": "/tmp/forge-escape.txt", "content": "x",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("escape write succeeded")
	}
	if _, statErr := os.Stat(filepath.Join("/tmp", "forge-escape.txt")); statErr == nil {
		os.Remove("/tmp/forge-escape.txt")
		t.Fatal("escape write created a file")
	}
}
