package hooks

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/forge/internal/state"
)

// exploratoryPrefixes mark read-only shell commands that count as data
// discovery.
var exploratoryPrefixes = []string{
	"ls", "cat", "head", "tail", "wc", "curl", "jq", "find", "grep",
}

// PlanningTrackerHook advances the planning machine from observed tool
// traffic: exploratory shell commands, planner and analyzer sub-agent runs,
// and the first mutating call of the build phase.
type PlanningTrackerHook struct {
	Planning *state.Planning
}

func (h *PlanningTrackerHook) Name() string    { return "planning-tracker" }
func (h *PlanningTrackerHook) Pattern() string { return "*" }

func (h *PlanningTrackerHook) After(ctx context.Context, call *Call, result *Result) (*Injection, error) {
	if result.IsError {
		return nil, nil
	}

	switch call.Tool {
	case "Bash":
		var params struct {
			Command string `json:"command"`
		}
		if json.Unmarshal(call.Input, &params) == nil && isExploratory(params.Command) {
			h.Planning.RecordExploration()
		}
	case "Task":
		var params struct {
			Agent string `json:"agent"`
		}
		if json.Unmarshal(call.Input, &params) != nil {
			return nil, nil
		}
		switch params.Agent {
		case "data-explorer":
			h.Planning.RecordExploration()
		case "requirements-analyzer":
			h.Planning.AwaitClarification()
		case "planner", "plan-validator":
			h.Planning.RecordPlan()
		}
	case "Write", "Edit":
		h.Planning.RecordBuildStart()
	}
	return nil, nil
}

func isExploratory(command string) bool {
	first := strings.Fields(command)
	if len(first) == 0 {
		return false
	}
	for _, p := range exploratoryPrefixes {
		if first[0] == p {
			return true
		}
	}
	return false
}

// DiscoveryReminderHook nudges the model once per session when it starts
// writing code without having explored the available data first.
type DiscoveryReminderHook struct {
	Planning *state.Planning
}

func (h *DiscoveryReminderHook) Name() string    { return "discovery-reminder" }
func (h *DiscoveryReminderHook) Pattern() string { return "*" }

func (h *DiscoveryReminderHook) After(ctx context.Context, call *Call, result *Result) (*Injection, error) {
	if call.Tool != "Write" && call.Tool != "Edit" {
		return nil, nil
	}
	if !h.Planning.ShouldRemindDiscovery() {
		return nil, nil
	}
	return &Injection{
		Message: "Reminder: no data exploration has happened in this session. Before building further, consider inspecting the available data sources (or delegating to the data-explorer sub-agent) so the app matches the real data shape.",
	}, nil
}
