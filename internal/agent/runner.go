package agent

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/forge/internal/subagents"
	"github.com/haasonsaas/forge/pkg/models"
)

// subAgentRunner executes sub-agent profiles against the session's
// workspace. Each run drives the Messages API directly on the profile's
// model tier, with the tool subset the profile allows; every tool call still
// passes the session's gate and hooks.
type subAgentRunner struct {
	session *Session
	client  anthropic.Client
}

func newSubAgentRunner(s *Session, apiKey string) *subAgentRunner {
	return &subAgentRunner{
		session: s,
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Agents lists the available sub-agent names.
func (r *subAgentRunner) Agents() []string { return subagents.Names() }

// Run executes one sub-agent task and returns its final report.
func (r *subAgentRunner) Run(ctx context.Context, name, prompt string) (string, error) {
	profile, ok := subagents.Registry()[name]
	if !ok {
		return "", fmt.Errorf("unknown sub-agent %q", name)
	}

	reg := r.session.registry.Subset(profile.Tools)
	model := subagents.ModelFor(profile.Tier)

	r.session.log.Info(ctx, "sub-agent started", "agent", name, "model", model)
	report, err := runToolLoop(ctx, r.client, model, profile.Prompt, prompt, toolDefs(reg),
		func(ctx context.Context, call models.ToolCall) models.ToolResult {
			// Injections steer the main conversation only; state updates
			// from the hooks still apply.
			result, _, _ := r.session.dispatch(ctx, call, reg)
			return result
		})
	if err != nil {
		return "", err
	}
	return report, nil
}
