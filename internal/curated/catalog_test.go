package curated

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "registry.json"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadAndRender(t *testing.T) {
	dir := writeRegistry(t, `{
		"components": [
			{
				"name": "DataTable",
				"path": "curated/data-table",
				"description": "Sortable, paginated table.",
				"useWhen": "showing tabular records",
				"features": ["sorting", "pagination"]
			},
			{
				"name": "StatCard",
				"path": "curated/stat-card",
				"description": "Single-metric summary card."
			}
		]
	}`)

	c, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Components) != 2 {
		t.Fatalf("components = %d", len(c.Components))
	}

	out := c.Render()
	for _, want := range []string{"DataTable", "curated/data-table", "sorting, pagination", "StatCard"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered catalog missing %q:\n%s", want, out)
		}
	}
}

func TestLoadMissingRegistryIsEmpty(t *testing.T) {
	c, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if c.Render() != "" {
		t.Fatalf("render = %q", c.Render())
	}
}

func TestLoadEmptyDir(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Components) != 0 {
		t.Fatal("expected empty catalog")
	}
}

func TestLoadRejectsIncompleteEntry(t *testing.T) {
	dir := writeRegistry(t, `{"components":[{"name":"NoPath"}]}`)
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for entry without path")
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	dir := writeRegistry(t, `{nope`)
	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}
