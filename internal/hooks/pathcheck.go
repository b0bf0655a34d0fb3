package hooks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/forge/internal/sandbox"
)

// pathFields lists the path-bearing input field per file tool.
var pathFields = map[string]string{
	"Read":  "file_path",
	"Write": "file_path",
	"Edit":  "file_path",
	"Glob":  "path",
	"Grep":  "path",
}

// PathValidationHook re-checks workspace containment right before execution.
// The policy gate already enforces this; the hook catches registry
// configurations that bypass the gate.
type PathValidationHook struct {
	Supervisor *sandbox.Supervisor
}

func (h *PathValidationHook) Name() string    { return "path-validation" }
func (h *PathValidationHook) Pattern() string { return "*" }

func (h *PathValidationHook) Before(ctx context.Context, call *Call) (*Denial, error) {
	field, ok := pathFields[call.Tool]
	if !ok {
		return nil, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(call.Input, &fields); err != nil {
		return nil, nil
	}
	p, _ := fields[field].(string)
	if p == "" {
		return nil, nil
	}
	if _, err := h.Supervisor.Resolve(p); err != nil {
		return &Denial{
			Rule:   "path_escape",
			Reason: fmt.Sprintf("path %q is outside the workspace", p),
		}, nil
	}
	return nil, nil
}
