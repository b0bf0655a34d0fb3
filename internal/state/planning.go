package state

import "sync"

// PlanningPhase is the position of a session in the plan-then-build workflow.
type PlanningPhase string

const (
	PlanningNotStarted            PlanningPhase = "NOT_STARTED"
	PlanningExploring             PlanningPhase = "EXPLORING"
	PlanningAwaitingClarification PlanningPhase = "AWAITING_CLARIFICATION"
	PlanningPlanned               PlanningPhase = "PLANNED"
	PlanningBuilding              PlanningPhase = "BUILDING"
	PlanningDone                  PlanningPhase = "DONE"
)

// Planning tracks the planning machine for one session. Advanced by
// post-hooks observing tool traffic; safe for concurrent use.
type Planning struct {
	mu sync.Mutex

	phase        PlanningPhase
	explorations int
	reminded     bool
}

// NewPlanning returns a planning machine in NOT_STARTED.
func NewPlanning() *Planning {
	return &Planning{phase: PlanningNotStarted}
}

// Phase returns the current position.
func (p *Planning) Phase() PlanningPhase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// RecordExploration notes a successful data-exploration command. The first
// one moves NOT_STARTED to EXPLORING.
func (p *Planning) RecordExploration() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.explorations++
	if p.phase == PlanningNotStarted {
		p.phase = PlanningExploring
	}
}

// Explorations returns how many exploration commands succeeded.
func (p *Planning) Explorations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.explorations
}

// AwaitClarification marks the session as blocked on a user answer.
func (p *Planning) AwaitClarification() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase == PlanningNotStarted || p.phase == PlanningExploring {
		p.phase = PlanningAwaitingClarification
	}
}

// RecordPlan notes a completed planner pass. Valid from any pre-build phase.
func (p *Planning) RecordPlan() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.phase {
	case PlanningNotStarted, PlanningExploring, PlanningAwaitingClarification:
		p.phase = PlanningPlanned
	}
}

// RecordBuildStart notes the first mutating tool call of the build phase.
func (p *Planning) RecordBuildStart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase != PlanningDone {
		p.phase = PlanningBuilding
	}
}

// RecordDone marks the workflow complete.
func (p *Planning) RecordDone() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = PlanningDone
}

// ShouldRemindDiscovery reports whether a discovery reminder is due before a
// mutating call, and latches so the reminder fires at most once per session.
func (p *Planning) ShouldRemindDiscovery() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reminded || p.explorations > 0 {
		return false
	}
	p.reminded = true
	return true
}

// Reset returns the machine to NOT_STARTED. Used by session reset.
func (p *Planning) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = PlanningNotStarted
	p.explorations = 0
	p.reminded = false
}
