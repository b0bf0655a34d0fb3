package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/forge/internal/config"
	"github.com/haasonsaas/forge/internal/hooks"
	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/internal/policy"
	"github.com/haasonsaas/forge/internal/sandbox"
	"github.com/haasonsaas/forge/internal/state"
	"github.com/haasonsaas/forge/internal/subagents"
	"github.com/haasonsaas/forge/internal/tools"
	"github.com/haasonsaas/forge/pkg/models"
)

var (
	// ErrNotInitialized means Chat ran before Initialize succeeded.
	ErrNotInitialized = errors.New("session not initialized")

	// ErrTurnInProgress means a chat turn is already running.
	ErrTurnInProgress = errors.New("a turn is already in progress")
)

// Options configures a session.
type Options struct {
	Config    *config.Config
	SessionID string
	Log       *observability.Logger
	Metrics   *observability.Metrics
	Audit     *hooks.AuditStore

	// CuratedCatalog is the rendered component catalog for the prompt.
	CuratedCatalog string

	// Transport overrides the configured transport; tests use this.
	Transport Transport
}

// Session binds one conversation to a sandbox, a policy gate, a hook
// pipeline and a model transport. Initialize once, then Chat serially,
// then Cleanup.
type Session struct {
	id      string
	cfg     *config.Config
	log     *observability.Logger
	metrics *observability.Metrics

	supervisor *sandbox.Supervisor
	review     *state.Review
	planning   *state.Planning
	gate       *policy.Gate
	registry   *tools.Registry
	pipeline   *hooks.Pipeline
	correction *hooks.CorrectionHook
	runner     *subAgentRunner

	transport     Transport
	override      Transport
	promptCatalog string

	initOnce    sync.Once
	initErr     error
	initialized atomic.Bool
	cleanupOnce sync.Once
	turnActive  atomic.Bool
	turnSeq     atomic.Uint64
	createdAt   time.Time
}

// NewSession wires a session's components. Nothing touches the filesystem
// or the network until Initialize.
func NewSession(opts Options) (*Session, error) {
	if opts.SessionID == "" {
		return nil, errors.New("session id required")
	}
	// Hooks steer the model toward these agents; a rename must fail at
	// construction, not mid-turn.
	if err := subagents.Validate(
		"code-reviewer", "error-fixer", "security-reviewer",
		"planner", "plan-validator", "requirements-analyzer",
		"data-explorer", "component-generator",
	); err != nil {
		return nil, err
	}

	log := opts.Log.WithFields("session_id", opts.SessionID)
	s := &Session{
		id:         opts.SessionID,
		cfg:        opts.Config,
		log:        log,
		metrics:    opts.Metrics,
		supervisor: sandbox.NewSupervisor(opts.Config.Sandbox, opts.SessionID, opts.Log, opts.Metrics),
		review:     state.NewReview(),
		planning:   state.NewPlanning(),
		override:   opts.Transport,
		createdAt:  time.Now(),
	}
	s.gate = policy.NewGate(s.supervisor, s.review, opts.Metrics)
	s.runner = newSubAgentRunner(s, opts.Config.Agent.APIKey)

	reg := tools.NewRegistry()
	reg.MustRegister(&tools.ReadTool{Supervisor: s.supervisor})
	reg.MustRegister(&tools.WriteTool{Supervisor: s.supervisor})
	reg.MustRegister(&tools.EditTool{Supervisor: s.supervisor})
	reg.MustRegister(&tools.GlobTool{Supervisor: s.supervisor})
	reg.MustRegister(&tools.GrepTool{Supervisor: s.supervisor})
	reg.MustRegister(&tools.BashTool{Supervisor: s.supervisor})
	reg.MustRegister(&tools.GetPreviewURLTool{Supervisor: s.supervisor})
	reg.MustRegister(&tools.StartDevServerTool{Supervisor: s.supervisor, Review: s.review})
	reg.MustRegister(&tools.MarkSecurityReviewPassedTool{Review: s.review})
	reg.MustRegister(&tools.TaskTool{Runner: s.runner})
	s.registry = reg

	s.correction = &hooks.CorrectionHook{
		Max:     opts.Config.Agent.MaxCorrectionCycles,
		Metrics: opts.Metrics,
	}
	pipeline := hooks.NewPipeline(opts.Log, opts.Metrics)
	if opts.Audit != nil {
		pipeline.Pre(&hooks.AuditHook{Store: opts.Audit})
	}
	pipeline.Pre(&hooks.PathValidationHook{Supervisor: s.supervisor})
	pipeline.Post(
		s.correction,
		&hooks.ReviewInvalidationHook{Review: s.review},
		&hooks.PlanningTrackerHook{Planning: s.planning},
		&hooks.DiscoveryReminderHook{Planning: s.planning},
	)
	s.pipeline = pipeline

	s.promptCatalog = opts.CuratedCatalog
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Review returns the session's review machine.
func (s *Session) Review() *state.Review { return s.review }

// Planning returns the session's planning machine.
func (s *Session) Planning() *state.Planning { return s.planning }

// Supervisor returns the session's sandbox supervisor.
func (s *Session) Supervisor() *sandbox.Supervisor { return s.supervisor }

// CreatedAt returns when the session was constructed.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Initialize materializes the workspace and connects the model transport.
// Exactly one caller wins; the rest observe its result.
func (s *Session) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.initialize(ctx)
		if s.initErr == nil {
			s.initialized.Store(true)
		}
	})
	return s.initErr
}

func (s *Session) initialize(ctx context.Context) error {
	ws, err := s.supervisor.Materialize(ctx)
	if err != nil {
		return fmt.Errorf("materialize workspace: %w", err)
	}

	if s.cfg.Sandbox.Watch {
		err := s.supervisor.StartWatcher(ctx, func(path string) {
			s.review.Invalidate()
		})
		if err != nil {
			return fmt.Errorf("start workspace watcher: %w", err)
		}
	}

	prompt := ComposePrompt(PromptConfig{
		CuratedCatalog: s.promptCatalog,
		DataPlatform:   len(s.cfg.Sandbox.PreviewEnv) > 0,
	})

	transport := s.override
	if transport == nil {
		defs := toolDefs(s.registry)
		if len(s.cfg.Agent.Command) > 0 {
			transport = NewProcTransport(
				s.cfg.Agent.Command, ws, s.cfg.Agent.Model, prompt,
				s.cfg.Agent.APIKey, defs, s.log)
		} else {
			t, err := NewAPITransport(s.cfg.Agent.APIKey, s.cfg.Agent.Model, prompt, defs, s.log)
			if err != nil {
				return err
			}
			transport = t
		}
	}
	if err := transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect model transport: %w", err)
	}
	s.transport = transport
	s.log.Info(ctx, "session initialized", "workspace", ws)
	return nil
}

// Chat runs one turn. The returned stream carries the turn's envelopes and
// ends with exactly one done or error envelope. Turns are serial; a second
// concurrent call fails with ErrTurnInProgress.
func (s *Session) Chat(ctx context.Context, text string) (<-chan models.Envelope, error) {
	if !s.initialized.Load() {
		return nil, ErrNotInitialized
	}
	if !s.turnActive.CompareAndSwap(false, true) {
		return nil, ErrTurnInProgress
	}

	out := make(chan models.Envelope, 32)
	go s.runTurn(ctx, text, out)
	return out, nil
}

// TurnActive reports whether a chat turn is currently running.
func (s *Session) TurnActive() bool { return s.turnActive.Load() }

func (s *Session) runTurn(ctx context.Context, text string, out chan<- models.Envelope) {
	defer close(out)
	defer s.turnActive.Store(false)

	turnCtx, cancel := context.WithTimeout(ctx, s.cfg.Agent.TurnTimeout)
	defer cancel()
	turnCtx = observability.WithSessionID(turnCtx, s.id)

	start := time.Now()
	emit := func(e models.Envelope) {
		if s.metrics != nil {
			s.metrics.RecordEnvelope(string(e.Type))
		}
		out <- e
	}

	s.correction.ResetTurn()

	turn := s.turnSeq.Add(1)
	if err := s.transport.SendUser(turnCtx, turn, text); err != nil {
		s.finishTurn("error", start)
		emit(models.ErrorEnvelope("the agent is unavailable"))
		return
	}

	for {
		select {
		case <-turnCtx.Done():
			s.log.Warn(turnCtx, "turn aborted", "error", turnCtx.Err())
			outcome := "timeout"
			msg := "the turn timed out"
			if errors.Is(turnCtx.Err(), context.Canceled) {
				outcome, msg = "canceled", "the turn was canceled"
			}
			s.finishTurn(outcome, start)
			emit(models.ErrorEnvelope(msg))
			return

		case ev, ok := <-s.transport.Events():
			if !ok {
				s.finishTurn("error", start)
				emit(models.ErrorEnvelope("the agent disconnected"))
				return
			}
			if ev.Turn != turn {
				// A leftover from a turn that timed out; its reply must
				// not surface as this turn's.
				s.log.Debug(turnCtx, "discarding stale model event",
					"event_turn", ev.Turn, "turn", turn, "type", string(ev.Type))
				continue
			}
			switch ev.Type {
			case EventText:
				emit(models.TextEnvelope(ev.Text))

			case EventToolUse:
				s.handleToolCall(turnCtx, *ev.Call, emit)

			case EventResult:
				stats := ev.Stats
				if stats == nil {
					stats = &models.TurnStats{}
				}
				preview := stats.PreviewURL
				if preview == "" && s.supervisor.DevServerRunning() {
					if url, err := s.supervisor.PreviewURL(); err == nil {
						preview = url
					}
				}
				if stats.DurationMS == 0 {
					stats.DurationMS = time.Since(start).Milliseconds()
				}
				s.finishTurn("done", start)
				emit(models.DoneEnvelope(preview, stats.CostUSD, stats.DurationMS, stats.NumTurns))
				return

			case EventError:
				s.log.Error(turnCtx, "model error", "message", ev.Message)
				s.finishTurn("error", start)
				emit(models.ErrorEnvelope("the agent hit an internal error"))
				return
			}
		}
	}
}

func (s *Session) finishTurn(outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordTurn(outcome, time.Since(start).Seconds())
	}
}

// toolResultPayload is the tool_result envelope content.
type toolResultPayload struct {
	Output   string `json:"output"`
	ExitCode *int   `json:"exit_code,omitempty"`
	URL      string `json:"url,omitempty"`
}

func (s *Session) handleToolCall(ctx context.Context, call models.ToolCall, emit func(models.Envelope)) {
	emit(models.ToolUseEnvelope(call.ID, call.Name, call.Input))

	result, res, injections := s.dispatch(ctx, call, s.registry)

	emit(models.ToolResultEnvelope(call.ID, toolResultPayload{
		Output:   res.Content,
		ExitCode: res.ExitCode,
		URL:      res.URL,
	}, res.IsError))

	if err := s.transport.SendToolResult(ctx, result); err != nil {
		s.log.Error(ctx, "tool result not delivered", "tool", call.Name, "error", err)
		return
	}
	for _, inj := range injections {
		if err := s.transport.SendSystem(ctx, inj.Message); err != nil {
			s.log.Error(ctx, "injection not delivered", "error", err)
		}
	}
}

// dispatch runs one tool call through gate, pre-hooks, execution and
// post-hooks. Shared by the main turn loop and sub-agent loops.
func (s *Session) dispatch(ctx context.Context, call models.ToolCall, reg *tools.Registry) (models.ToolResult, *tools.Result, []hooks.Injection) {
	decision := s.gate.Decide(call.Name, call.Input)
	label := "allow"
	if !decision.Allowed {
		label = decision.Rule
	}

	hcall := &hooks.Call{
		SessionID: s.id,
		ID:        call.ID,
		Tool:      call.Name,
		Input:     call.Input,
		Decision:  label,
	}
	denial := s.pipeline.RunPre(ctx, hcall)

	var res *tools.Result
	switch {
	case !decision.Allowed:
		res = tools.Errorf("blocked by policy (%s): %s", decision.Rule, decision.Reason)
	case denial != nil:
		res = tools.Errorf("blocked by policy (%s): %s", denial.Rule, denial.Reason)
	default:
		started := time.Now()
		s.supervisor.BeginTool()
		r, err := reg.Execute(tools.WithToolCallID(ctx, call.ID), call.Name, call.Input)
		s.supervisor.EndTool()
		if err != nil {
			s.log.Error(ctx, "tool execution failed", "tool", call.Name, "error", err)
			r = tools.Errorf("internal error running %s", call.Name)
		}
		res = r
		if s.metrics != nil {
			status := "success"
			if res.IsError {
				status = "error"
			}
			s.metrics.RecordToolExecution(call.Name, status, time.Since(started).Seconds())
		}
	}
	if (!decision.Allowed || denial != nil) && s.metrics != nil {
		s.metrics.ToolExecutions.WithLabelValues(call.Name, "denied").Inc()
	}

	var injections []hooks.Injection
	if decision.Allowed && denial == nil {
		injections = s.pipeline.RunPost(ctx, hcall, &hooks.Result{
			Content:  res.Content,
			IsError:  res.IsError,
			ExitCode: res.ExitCode,
		})
	}

	return models.ToolResult{
		ToolUseID: call.ID,
		Content:   res.Content,
		IsError:   res.IsError,
		ExitCode:  res.ExitCode,
		URL:       res.URL,
	}, res, injections
}

// Cleanup disconnects the transport and tears down the sandbox. Idempotent
// and panic-safe; it runs on every teardown path.
func (s *Session) Cleanup(ctx context.Context) {
	s.cleanupOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error(ctx, "cleanup panicked", "panic", fmt.Sprint(r))
			}
		}()
		if s.transport != nil {
			if err := s.transport.Close(); err != nil {
				s.log.Warn(ctx, "transport close failed", "error", err)
			}
		}
		s.supervisor.Teardown(ctx)
		s.log.Info(ctx, "session cleaned up")
	})
}

// toolDefs renders a registry as transport tool definitions.
func toolDefs(reg *tools.Registry) []ToolDef {
	var defs []ToolDef
	for _, name := range reg.Names() {
		t, ok := reg.Get(name)
		if !ok {
			continue
		}
		defs = append(defs, ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return defs
}
