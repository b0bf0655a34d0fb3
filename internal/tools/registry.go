// Package tools implements the tool surface exposed to the reasoning model:
// file access, shell execution, preview management, review sign-off and
// sub-agent delegation. The registry validates every input against the
// tool's declared JSON schema before execution.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	maxToolNameLen  = 64
	maxToolInputLen = 256 * 1024
)

// Result is the outcome of one tool execution. Failures the model should see
// are results with IsError set; Go errors from Execute mean the runtime
// itself broke.
type Result struct {
	Content  string
	IsError  bool
	ExitCode *int
	URL      string
}

// Errorf builds an error result for the model.
func Errorf(format string, args ...any) *Result {
	return &Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Text builds a plain success result.
func Text(content string) *Result {
	return &Result{Content: content}
}

// Tool is one callable exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}

// Registry holds the tool set for one session and validates inputs.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, compiling its schema. Registering a duplicate or an
// invalid schema is a programming error and fails loudly.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" || len(name) > maxToolNameLen {
		return fmt.Errorf("invalid tool name %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	compiler := jsonschema.NewCompiler()
	url := "inmem://" + name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(t.Schema())); err != nil {
		return fmt.Errorf("tool %q schema: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("tool %q schema: %w", name, err)
	}

	r.tools[name] = t
	r.schemas[name] = schema
	return nil
}

// MustRegister panics on registration failure; used for the fixed tool set
// built at session start.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns a registered tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}

// Subset returns a new registry restricted to the named tools. Unknown names
// are skipped; sub-agent profiles may reference tools the session disabled.
func (r *Registry) Subset(names []string) *Registry {
	sub := NewRegistry()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			sub.tools[n] = t
			sub.schemas[n] = r.schemas[n]
		}
	}
	return sub
}

// Execute validates input against the tool's schema and runs it. Unknown
// tools and invalid inputs come back as error results, not Go errors, so the
// model can recover.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (*Result, error) {
	if len(input) > maxToolInputLen {
		return Errorf("input for %s exceeds %d bytes", name, maxToolInputLen), nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return Errorf("unknown tool: %s", name), nil
	}

	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return Errorf("input for %s is not valid JSON: %v", name, err), nil
	}
	if err := schema.Validate(decoded); err != nil {
		return Errorf("input for %s failed validation: %v", name, err), nil
	}

	return tool.Execute(ctx, input)
}
