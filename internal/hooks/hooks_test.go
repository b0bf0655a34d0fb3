package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/internal/state"
)

func testPipeline() *Pipeline {
	log := observability.NewLogger(observability.LogConfig{Level: "error", Output: os.Stderr})
	return NewPipeline(log, nil)
}

type fakePre struct {
	name    string
	pattern string
	denial  *Denial
	err     error
	panics  bool
	calls   int
}

func (f *fakePre) Name() string    { return f.name }
func (f *fakePre) Pattern() string { return f.pattern }
func (f *fakePre) Before(ctx context.Context, call *Call) (*Denial, error) {
	f.calls++
	if f.panics {
		panic("boom")
	}
	return f.denial, f.err
}

func TestPipelinePatternMatching(t *testing.T) {
	all := &fakePre{name: "all", pattern: "*"}
	bash := &fakePre{name: "bash", pattern: "Bash"}
	prefix := &fakePre{name: "prefix", pattern: "Mark*"}
	p := testPipeline().Pre(all, bash, prefix)

	p.RunPre(context.Background(), &Call{Tool: "Read"})
	p.RunPre(context.Background(), &Call{Tool: "Bash"})
	p.RunPre(context.Background(), &Call{Tool: "MarkSecurityReviewPassed"})

	if all.calls != 3 {
		t.Errorf("wildcard calls = %d", all.calls)
	}
	if bash.calls != 1 {
		t.Errorf("exact calls = %d", bash.calls)
	}
	if prefix.calls != 1 {
		t.Errorf("prefix calls = %d", prefix.calls)
	}
}

func TestPipelineSurvivesHookFailures(t *testing.T) {
	broken := &fakePre{name: "broken", pattern: "*", panics: true}
	failing := &fakePre{name: "failing", pattern: "*", err: errors.New("db down")}
	denying := &fakePre{name: "denying", pattern: "*", denial: &Denial{Rule: "r", Reason: "no"}}
	p := testPipeline().Pre(broken, failing, denying)

	denial := p.RunPre(context.Background(), &Call{Tool: "Read"})
	if denial == nil || denial.Rule != "r" {
		t.Fatalf("denial = %+v", denial)
	}
}

func TestAuditStoreRoundTrip(t *testing.T) {
	store, err := NewAuditStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	hook := &AuditHook{Store: store}
	calls := []*Call{
		{SessionID: "s1", ID: "c1", Tool: "Read", Input: json.RawMessage(`{"file_path":"a"}`), Decision: "allow"},
		{SessionID: "s1", ID: "c2", Tool: "Read", Input: json.RawMessage(`{"file_path":"../x"}`), Decision: "path_escape"},
		{SessionID: "s2", ID: "c3", Tool: "Bash", Input: json.RawMessage(`{"command":"ls"}`), Decision: "allow"},
	}
	for _, c := range calls {
		if _, err := hook.Before(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := store.EntriesForSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries for s1 = %d", len(entries))
	}
	if entries[1].Decision != "path_escape" {
		t.Errorf("denied call not recorded: %+v", entries[1])
	}
	if entries[0].Tool != "Read" || entries[0].CallID != "c1" {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestCorrectionHookBoundedCycles(t *testing.T) {
	h := &CorrectionHook{Max: 3}
	h.ResetTurn()
	ctx := context.Background()
	call := &Call{Tool: "Bash", Input: json.RawMessage(`{"command":"npm run build"}`)}
	exit1 := 1
	failed := &Result{Content: "error TS2304", IsError: true, ExitCode: &exit1}

	for i := 1; i <= 3; i++ {
		inj, err := h.After(ctx, call, failed)
		if err != nil {
			t.Fatal(err)
		}
		if inj == nil || inj.Terminal {
			t.Fatalf("cycle %d: inj = %+v", i, inj)
		}
		if !strings.Contains(inj.Message, "code-reviewer") || !strings.Contains(inj.Message, "error-fixer") {
			t.Fatalf("cycle %d message missing delegation: %q", i, inj.Message)
		}
	}

	inj, err := h.After(ctx, call, failed)
	if err != nil {
		t.Fatal(err)
	}
	if inj == nil || !inj.Terminal {
		t.Fatalf("fourth failure should be terminal: %+v", inj)
	}
}

func TestCorrectionHookResetOnSuccess(t *testing.T) {
	h := &CorrectionHook{Max: 3}
	ctx := context.Background()
	call := &Call{Tool: "Bash", Input: json.RawMessage(`{"command":"npx tsc"}`)}
	exit0, exit2 := 0, 2
	failed := &Result{IsError: true, ExitCode: &exit2}
	ok := &Result{ExitCode: &exit0}

	h.After(ctx, call, failed)
	h.After(ctx, call, failed)
	h.After(ctx, call, ok)

	// Counter cleared; the next failure is attempt 1 again.
	inj, _ := h.After(ctx, call, failed)
	if inj == nil || inj.Terminal {
		t.Fatalf("inj = %+v", inj)
	}
	if !strings.Contains(inj.Message, "attempt 1 of 3") {
		t.Fatalf("counter not reset: %q", inj.Message)
	}
}

func TestCorrectionHookIgnoresNonBuildCommands(t *testing.T) {
	h := &CorrectionHook{Max: 3}
	exit1 := 1
	inj, err := h.After(context.Background(),
		&Call{Tool: "Bash", Input: json.RawMessage(`{"command":"ls missing-dir"}`)},
		&Result{IsError: true, ExitCode: &exit1})
	if err != nil || inj != nil {
		t.Fatalf("non-build failure triggered correction: %+v, %v", inj, err)
	}
}

func TestReviewInvalidationHook(t *testing.T) {
	review := state.NewReview()
	review.MarkPassed("ok")
	h := &ReviewInvalidationHook{Review: review}
	ctx := context.Background()

	// Failed writes do not invalidate.
	h.After(ctx, &Call{Tool: "Write"}, &Result{IsError: true})
	if review.Status() != state.ReviewPassed {
		t.Fatalf("failed write changed review: %s", review.Status())
	}

	// Non-mutating tools do not invalidate.
	h.After(ctx, &Call{Tool: "Read"}, &Result{})
	if review.Status() != state.ReviewPassed {
		t.Fatalf("read changed review: %s", review.Status())
	}

	h.After(ctx, &Call{Tool: "Edit"}, &Result{})
	if review.Status() != state.ReviewInvalidated {
		t.Fatalf("edit did not invalidate: %s", review.Status())
	}
}

func TestPlanningTrackerHook(t *testing.T) {
	planning := state.NewPlanning()
	h := &PlanningTrackerHook{Planning: planning}
	ctx := context.Background()

	h.After(ctx, &Call{Tool: "Bash", Input: json.RawMessage(`{"command":"curl http://localhost/api/items"}`)}, &Result{})
	if planning.Phase() != state.PlanningExploring {
		t.Fatalf("phase after exploration = %s", planning.Phase())
	}

	h.After(ctx, &Call{Tool: "Task", Input: json.RawMessage(`{"agent":"planner","prompt":"plan it"}`)}, &Result{})
	if planning.Phase() != state.PlanningPlanned {
		t.Fatalf("phase after planner = %s", planning.Phase())
	}

	h.After(ctx, &Call{Tool: "Write", Input: json.RawMessage(`{}`)}, &Result{})
	if planning.Phase() != state.PlanningBuilding {
		t.Fatalf("phase after write = %s", planning.Phase())
	}
}

func TestDiscoveryReminderOncePerSession(t *testing.T) {
	planning := state.NewPlanning()
	h := &DiscoveryReminderHook{Planning: planning}
	ctx := context.Background()

	inj, _ := h.After(ctx, &Call{Tool: "Write"}, &Result{})
	if inj == nil {
		t.Fatal("first unexplored write should remind")
	}
	inj, _ = h.After(ctx, &Call{Tool: "Write"}, &Result{})
	if inj != nil {
		t.Fatal("reminder repeated")
	}
}
