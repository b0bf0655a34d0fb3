package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/forge/internal/config"
	"github.com/haasonsaas/forge/internal/hooks"
	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/internal/state"
	"github.com/haasonsaas/forge/pkg/models"
)

// fakeTransport replays a scripted event stream stamped with the turn that
// queried it. After a tool_use event it waits for the tool result, like a
// real model would.
type fakeTransport struct {
	script   []Event
	events   chan Event
	resultCh chan models.ToolResult

	mu      sync.Mutex
	turn    uint64
	results []models.ToolResult
	systems []string
	users   []string
}

func newFakeTransport(script ...Event) *fakeTransport {
	return &fakeTransport{
		script:   script,
		events:   make(chan Event, 64),
		resultCh: make(chan models.ToolResult, 16),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error { return nil }

func (f *fakeTransport) SendUser(ctx context.Context, turn uint64, text string) error {
	f.mu.Lock()
	f.turn = turn
	f.users = append(f.users, text)
	f.mu.Unlock()
	go func() {
		for _, ev := range f.script {
			ev.Turn = turn
			f.events <- ev
			if ev.Type == EventToolUse {
				<-f.resultCh
			}
		}
	}()
	return nil
}

func (f *fakeTransport) SendToolResult(ctx context.Context, r models.ToolResult) error {
	f.mu.Lock()
	f.results = append(f.results, r)
	f.mu.Unlock()
	f.resultCh <- r
	return nil
}

func (f *fakeTransport) SendSystem(ctx context.Context, text string) error {
	f.mu.Lock()
	f.systems = append(f.systems, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Events() <-chan Event { return f.events }
func (f *fakeTransport) Close() error         { return nil }

func (f *fakeTransport) sentSystems() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.systems...)
}

func (f *fakeTransport) sentResults() []models.ToolResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ToolResult{}, f.results...)
}

func testSession(t *testing.T, transport Transport) *Session {
	t.Helper()
	cfg := config.Default()
	cfg.Agent.APIKey = "sk-test"
	cfg.Sandbox.Root = t.TempDir()

	log := observability.NewLogger(observability.LogConfig{Level: "error", Output: os.Stderr})
	audit, err := hooks.NewAuditStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { audit.Close() })

	s, err := NewSession(Options{
		Config:    cfg,
		SessionID: "sess-agent",
		Log:       log,
		Audit:     audit,
		Transport: transport,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Cleanup(context.Background()) })
	return s
}

func collect(t *testing.T, stream <-chan models.Envelope) []models.Envelope {
	t.Helper()
	var out []models.Envelope
	timeout := time.After(10 * time.Second)
	for {
		select {
		case e, ok := <-stream:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("turn did not finish; envelopes so far: %+v", out)
		}
	}
}

func TestChatBeforeInitialize(t *testing.T) {
	s := testSession(t, newFakeTransport())
	if _, err := s.Chat(context.Background(), "hi"); err != ErrNotInitialized {
		t.Fatalf("err = %v", err)
	}
}

func TestTurnStreamShape(t *testing.T) {
	input := json.RawMessage(`{"file_path":"app/hello.txt","content":"hi"}`)
	ft := newFakeTransport(
		Event{Type: EventText, Text: "Creating the file."},
		Event{Type: EventToolUse, Call: &models.ToolCall{ID: "c1", Name: "Write", Input: input}},
		Event{Type: EventResult, Stats: &models.TurnStats{CostUSD: 0.01, NumTurns: 2}},
	)
	s := testSession(t, ft)
	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	stream, err := s.Chat(ctx, "make hello.txt")
	if err != nil {
		t.Fatal(err)
	}
	envelopes := collect(t, stream)

	types := make([]models.EnvelopeType, len(envelopes))
	for i, e := range envelopes {
		types[i] = e.Type
	}
	want := []models.EnvelopeType{
		models.EnvelopeText, models.EnvelopeToolUse, models.EnvelopeToolResult, models.EnvelopeDone,
	}
	if len(types) != len(want) {
		t.Fatalf("envelope types = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("envelope types = %v, want %v", types, want)
		}
	}

	// Exactly one terminal envelope, last.
	for i, e := range envelopes {
		if e.Terminal() != (i == len(envelopes)-1) {
			t.Fatalf("terminal placement wrong: %v", types)
		}
	}

	// The tool really executed in the workspace.
	ws := s.Supervisor().Workspace()
	if _, err := os.Stat(filepath.Join(ws, "app", "hello.txt")); err != nil {
		t.Errorf("tool did not write file: %v", err)
	}

	// A successful write requests a security review.
	if s.Review().Status() != state.ReviewRequested {
		t.Errorf("review status = %s", s.Review().Status())
	}

	// The result went back to the model.
	results := ft.sentResults()
	if len(results) != 1 || results[0].ToolUseID != "c1" || results[0].IsError {
		t.Errorf("results = %+v", results)
	}
}

func TestTurnSerialization(t *testing.T) {
	ft := newFakeTransport()
	s := testSession(t, ft)
	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	stream, err := s.Chat(ctx, "first")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Chat(ctx, "second"); err != ErrTurnInProgress {
		t.Fatalf("concurrent chat err = %v", err)
	}

	ft.events <- Event{Type: EventResult, Turn: 1}
	collect(t, stream)

	// After the turn finishes, a new one is accepted.
	stream, err = s.Chat(ctx, "third")
	if err != nil {
		t.Fatalf("chat after turn end: %v", err)
	}
	ft.events <- Event{Type: EventResult, Turn: 2}
	collect(t, stream)
}

func TestStaleEventsFromTimedOutTurnAreDiscarded(t *testing.T) {
	ft := newFakeTransport() // the first question gets no answer in time
	s := testSession(t, ft)
	s.cfg.Agent.TurnTimeout = 100 * time.Millisecond
	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	stream, err := s.Chat(ctx, "first question")
	if err != nil {
		t.Fatal(err)
	}
	envelopes := collect(t, stream)
	if len(envelopes) != 1 || envelopes[0].Type != models.EnvelopeError {
		t.Fatalf("first turn envelopes = %+v", envelopes)
	}

	// The model finishes answering the first question after its turn
	// already timed out.
	ft.events <- Event{Type: EventText, Text: "late answer to the first question", Turn: 1}
	ft.events <- Event{Type: EventResult, Turn: 1}

	s.cfg.Agent.TurnTimeout = 10 * time.Second
	stream, err = s.Chat(ctx, "second question")
	if err != nil {
		t.Fatal(err)
	}
	ft.events <- Event{Type: EventText, Text: "answer to the second question", Turn: 2}
	ft.events <- Event{Type: EventResult, Turn: 2}
	envelopes = collect(t, stream)

	if len(envelopes) != 2 {
		t.Fatalf("second turn envelopes = %+v", envelopes)
	}
	if envelopes[0].Type != models.EnvelopeText ||
		envelopes[0].Content != "answer to the second question" {
		t.Fatalf("second turn streamed %+v", envelopes[0])
	}
	if envelopes[1].Type != models.EnvelopeDone {
		t.Fatalf("terminal = %+v", envelopes[1])
	}
}

func TestDeniedToolCallBecomesErrorResult(t *testing.T) {
	input := json.RawMessage(`{"command":"rm -rf /"}`)
	ft := newFakeTransport(
		Event{Type: EventToolUse, Call: &models.ToolCall{ID: "c1", Name: "Bash", Input: input}},
		Event{Type: EventResult},
	)
	s := testSession(t, ft)
	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	stream, err := s.Chat(ctx, "clean up")
	if err != nil {
		t.Fatal(err)
	}
	envelopes := collect(t, stream)

	var toolResult *models.Envelope
	for i := range envelopes {
		if envelopes[i].Type == models.EnvelopeToolResult {
			toolResult = &envelopes[i]
		}
	}
	if toolResult == nil || !toolResult.IsError {
		t.Fatalf("no error tool_result: %+v", envelopes)
	}

	results := ft.sentResults()
	if len(results) != 1 || !results[0].IsError ||
		!strings.Contains(results[0].Content, "blocked by policy") {
		t.Fatalf("model saw %+v", results)
	}
	// The turn still ends with done; a denial is not a turn failure.
	if envelopes[len(envelopes)-1].Type != models.EnvelopeDone {
		t.Fatalf("terminal = %s", envelopes[len(envelopes)-1].Type)
	}
}

func TestReviewGateSequenceThroughDispatch(t *testing.T) {
	s := testSession(t, newFakeTransport())
	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	// Writing code requests a review.
	res, _, _ := s.dispatch(ctx, models.ToolCall{
		ID: "c1", Name: "Write",
		Input: json.RawMessage(`{"file_path":"app/page.tsx","content":"hello world"}`),
	}, s.registry)
	if res.IsError {
		t.Fatalf("write failed: %+v", res)
	}
	if s.Review().Status() != state.ReviewRequested {
		t.Fatalf("after write, review = %s", s.Review().Status())
	}

	// A recorded pass unlocks the dev server.
	res, _, _ = s.dispatch(ctx, models.ToolCall{
		ID: "c2", Name: "MarkSecurityReviewPassed",
		Input: json.RawMessage(`{"summary":"no findings"}`),
	}, s.registry)
	if res.IsError {
		t.Fatalf("mark passed failed: %+v", res)
	}
	if s.Review().Status() != state.ReviewPassed {
		t.Fatalf("after pass, review = %s", s.Review().Status())
	}
	if d := s.gate.Decide("StartDevServer", json.RawMessage(`{}`)); !d.Allowed {
		t.Fatalf("dev server still gated after pass: %+v", d)
	}

	// Any further mutation invalidates the pass.
	res, _, _ = s.dispatch(ctx, models.ToolCall{
		ID: "c3", Name: "Edit",
		Input: json.RawMessage(`{"file_path":"app/page.tsx","old_string":"world","new_string":"again"}`),
	}, s.registry)
	if res.IsError {
		t.Fatalf("edit failed: %+v", res)
	}
	if s.Review().Status() != state.ReviewInvalidated {
		t.Fatalf("after edit, review = %s", s.Review().Status())
	}

	// The denial short-circuits before the tool runs, so nothing starts.
	res, _, _ = s.dispatch(ctx, models.ToolCall{
		ID: "c4", Name: "StartDevServer", Input: json.RawMessage(`{}`),
	}, s.registry)
	if !res.IsError || !strings.Contains(res.Content, "blocked by policy") {
		t.Fatalf("dev server after invalidation: %+v", res)
	}
	if s.Supervisor().DevServerRunning() {
		t.Fatal("dev server started despite denial")
	}
}

func TestBuildFailureInjectsCorrection(t *testing.T) {
	input := json.RawMessage(`{"command":"npm run build"}`)
	ft := newFakeTransport(
		Event{Type: EventToolUse, Call: &models.ToolCall{ID: "c1", Name: "Bash", Input: input}},
		Event{Type: EventResult},
	)
	s := testSession(t, ft)
	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	// npm is absent from the test environment, so the build command fails,
	// which is exactly the condition the hook watches for.
	stream, err := s.Chat(ctx, "build it")
	if err != nil {
		t.Fatal(err)
	}
	collect(t, stream)

	systems := ft.sentSystems()
	if len(systems) == 0 {
		t.Fatal("no correction injected")
	}
	if !strings.Contains(systems[0], "code-reviewer") || !strings.Contains(systems[0], "error-fixer") {
		t.Fatalf("correction message = %q", systems[0])
	}
}

func TestTurnTimeout(t *testing.T) {
	ft := newFakeTransport() // never emits a result
	s := testSession(t, ft)
	s.cfg.Agent.TurnTimeout = 100 * time.Millisecond
	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	stream, err := s.Chat(ctx, "hang")
	if err != nil {
		t.Fatal(err)
	}
	envelopes := collect(t, stream)
	if len(envelopes) != 1 || envelopes[0].Type != models.EnvelopeError {
		t.Fatalf("envelopes = %+v", envelopes)
	}
}

func TestCleanupIdempotent(t *testing.T) {
	s := testSession(t, newFakeTransport())
	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	s.Cleanup(ctx)
	s.Cleanup(ctx) // second call is a no-op, not a panic
}

func TestComposePrompt(t *testing.T) {
	p := ComposePrompt(PromptConfig{})
	if strings.Contains(p, "Curated components") || strings.Contains(p, "## Data") {
		t.Error("optional layers present without config")
	}
	if !strings.Contains(p, "## Workflow") || !strings.Contains(p, "security-reviewer") {
		t.Error("workflow layer missing")
	}

	p = ComposePrompt(PromptConfig{CuratedCatalog: "- Chart: renders charts", DataPlatform: true})
	if !strings.Contains(p, "Chart: renders charts") {
		t.Error("catalog layer missing")
	}
	if !strings.Contains(p, ".env.local") {
		t.Error("data layer missing")
	}
}
