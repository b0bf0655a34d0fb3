// Package curated loads the curated component library and renders it into
// the prompt layer that advertises the components to the agent.
package curated

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Component is one entry of the curated library.
type Component struct {
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Description string   `json:"description"`
	UseWhen     string   `json:"useWhen,omitempty"`
	Features    []string `json:"features,omitempty"`
}

// Catalog is the parsed component registry.
type Catalog struct {
	Components []Component `json:"components"`
}

// Load reads registry.json from the curated directory. An empty dir or a
// missing registry yields an empty catalog, not an error; the session just
// runs without the curated prompt layer.
func Load(dir string) (*Catalog, error) {
	if dir == "" {
		return &Catalog{}, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, "registry.json"))
	if os.IsNotExist(err) {
		return &Catalog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read curated registry: %w", err)
	}

	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse curated registry: %w", err)
	}
	for i, comp := range c.Components {
		if comp.Name == "" || comp.Path == "" {
			return nil, fmt.Errorf("curated registry entry %d missing name or path", i)
		}
	}
	return &c, nil
}

// Render produces the prompt text for the catalog. Empty catalogs render
// to the empty string so the prompt layer is skipped entirely.
func (c *Catalog) Render() string {
	if len(c.Components) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Prefer these pre-built components over writing equivalents from scratch. They live under curated/ in the workspace; import them from the listed path.\n")
	for _, comp := range c.Components {
		fmt.Fprintf(&b, "\n- %s (%s): %s", comp.Name, comp.Path, comp.Description)
		if comp.UseWhen != "" {
			fmt.Fprintf(&b, " Use when: %s.", strings.TrimSuffix(comp.UseWhen, "."))
		}
		if len(comp.Features) > 0 {
			fmt.Fprintf(&b, " Features: %s.", strings.Join(comp.Features, ", "))
		}
	}
	return b.String()
}
