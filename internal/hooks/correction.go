package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/haasonsaas/forge/internal/observability"
)

// buildCommands are the compiles whose failures trigger self-correction.
var buildCommands = []string{
	"npm run build",
	"npx tsc",
	"next build",
	"npm run type-check",
}

const correctionOutputCap = 2000

// CorrectionHook watches build commands and, on failure, injects an
// instruction to diagnose and fix before continuing. Consecutive failures
// are bounded; past the limit the hook tells the model to stop and report
// instead of looping.
type CorrectionHook struct {
	Max     int
	Metrics *observability.Metrics

	mu       sync.Mutex
	failures int
}

func (h *CorrectionHook) Name() string    { return "build-correction" }
func (h *CorrectionHook) Pattern() string { return "Bash" }

// ResetTurn clears the consecutive-failure counter. Called at turn start.
func (h *CorrectionHook) ResetTurn() {
	h.mu.Lock()
	h.failures = 0
	h.mu.Unlock()
}

func (h *CorrectionHook) After(ctx context.Context, call *Call, result *Result) (*Injection, error) {
	var params struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(call.Input, &params); err != nil {
		return nil, nil
	}
	if !isBuildCommand(params.Command) {
		return nil, nil
	}

	failed := result.IsError || (result.ExitCode != nil && *result.ExitCode != 0)

	h.mu.Lock()
	defer h.mu.Unlock()

	if !failed {
		h.failures = 0
		return nil, nil
	}

	h.failures++
	if h.failures > h.Max {
		return &Injection{
			Terminal: true,
			Message: fmt.Sprintf(
				"The build has failed %d times in a row. Stop attempting fixes. Summarize the remaining errors for the user and ask how to proceed.",
				h.failures),
		}, nil
	}

	if h.Metrics != nil {
		h.Metrics.CorrectionCycles.Inc()
	}

	output := result.Content
	if len(output) > correctionOutputCap {
		output = output[:correctionOutputCap] + "\n[truncated]"
	}
	return &Injection{
		Message: fmt.Sprintf(
			"The build command failed (attempt %d of %d). Output:\n%s\n\nUse the code-reviewer sub-agent to identify the root cause, then the error-fixer sub-agent to apply a fix, and run the build again.",
			h.failures, h.Max, output),
	}, nil
}

func isBuildCommand(command string) bool {
	for _, b := range buildCommands {
		if strings.Contains(command, b) {
			return true
		}
	}
	return false
}
