package tools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/forge/internal/state"
)

// MarkSecurityReviewPassedTool records a successful security review,
// unlocking the dev server until the next code mutation.
type MarkSecurityReviewPassedTool struct {
	Review *state.Review
}

func (t *MarkSecurityReviewPassedTool) Name() string { return "MarkSecurityReviewPassed" }

func (t *MarkSecurityReviewPassedTool) Description() string {
	return "Record that the security review of the current code passed. Call only after the security-reviewer found no blocking issues."
}

func (t *MarkSecurityReviewPassedTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"summary": {"type": "string", "minLength": 1, "description": "Reviewer's findings summary"}
		},
		"required": ["summary"],
		"additionalProperties": false
	}`)
}

func (t *MarkSecurityReviewPassedTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("invalid input: %v", err), nil
	}
	t.Review.MarkPassed(params.Summary)
	return Text("security review recorded as passed"), nil
}
