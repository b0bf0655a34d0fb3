package tools

import (
	"context"
	"encoding/json"
	"strings"
)

// SubAgentRunner executes a named sub-agent with a task prompt and returns
// its final report. Implemented by the agent package; declared here so the
// tool surface stays free of a dependency on the model transport.
type SubAgentRunner interface {
	Run(ctx context.Context, agent, prompt string) (string, error)
	Agents() []string
}

// TaskTool delegates a focused task to a specialist sub-agent. Sub-agents
// run with a restricted tool subset against the same workspace and policy
// gate as the main agent.
type TaskTool struct {
	Runner SubAgentRunner
}

func (t *TaskTool) Name() string { return "Task" }

func (t *TaskTool) Description() string {
	return "Delegate a task to a specialist sub-agent (code review, error fixing, security review, planning, data exploration, component generation)."
}

func (t *TaskTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"agent": {"type": "string", "minLength": 1, "description": "Sub-agent name"},
			"prompt": {"type": "string", "minLength": 1, "description": "Task description for the sub-agent"}
		},
		"required": ["agent", "prompt"],
		"additionalProperties": false
	}`)
}

func (t *TaskTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params struct {
		Agent  string `json:"agent"`
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("invalid input: %v", err), nil
	}

	known := false
	for _, name := range t.Runner.Agents() {
		if name == params.Agent {
			known = true
			break
		}
	}
	if !known {
		return Errorf("unknown sub-agent %q; available: %s",
			params.Agent, strings.Join(t.Runner.Agents(), ", ")), nil
	}

	report, err := t.Runner.Run(ctx, params.Agent, params.Prompt)
	if err != nil {
		return Errorf("sub-agent %s failed: %v", params.Agent, err), nil
	}
	return Text(report), nil
}
