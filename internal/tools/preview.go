package tools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/forge/internal/sandbox"
	"github.com/haasonsaas/forge/internal/state"
)

// GetPreviewURLTool reports the public endpoint for the session's app.
type GetPreviewURLTool struct {
	Supervisor *sandbox.Supervisor
}

func (t *GetPreviewURLTool) Name() string { return "GetPreviewURL" }

func (t *GetPreviewURLTool) Description() string {
	return "Get the public URL where the running app can be previewed."
}

func (t *GetPreviewURLTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}, "additionalProperties": false}`)
}

func (t *GetPreviewURLTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	url, err := t.Supervisor.PreviewURL()
	if err != nil {
		return Errorf("no preview endpoint available; start the dev server first (%v)", err), nil
	}
	return &Result{Content: url, URL: url}, nil
}

// StartDevServerTool starts the dev server on the session's allocated port.
// The policy gate already rejects calls without a passed review; the check
// here guards direct registry use.
type StartDevServerTool struct {
	Supervisor *sandbox.Supervisor
	Review     *state.Review
}

func (t *StartDevServerTool) Name() string { return "StartDevServer" }

func (t *StartDevServerTool) Description() string {
	return "Start the development server and wait for it to become ready. The port is assigned by the runtime; a requested port is ignored."
}

func (t *StartDevServerTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"port": {"type": "integer", "description": "Ignored; the runtime assigns the port"}
		},
		"additionalProperties": false
	}`)
}

func (t *StartDevServerTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	if t.Review != nil && !t.Review.Passed() {
		return Errorf("security review is %s; it must pass before the dev server starts", t.Review.Status()), nil
	}
	url, err := t.Supervisor.StartDevServer(ctx, toolCallID(ctx))
	if err != nil {
		return Errorf("dev server failed to start: %v", err), nil
	}
	return &Result{Content: "dev server ready at " + url, URL: url}, nil
}
