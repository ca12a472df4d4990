// Package pipeline sequences the run stages and owns all run-level state.
package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/storymill/storymill/pkg/models"
)

// Tracker owns the single writable PipelineRun for one run id. The
// orchestrator is the only writer; any caller may take snapshots at any time
// without blocking a stage in progress. Phase and counter updates happen under
// one lock so a reader never observes a phase with counters from another.
type Tracker struct {
	mu            sync.RWMutex
	run           models.PipelineRun
	stopRequested bool
}

// NewTracker creates a Tracker for a fresh pending run.
func NewTracker(windowStart, windowEnd time.Time) *Tracker {
	return &Tracker{
		run: models.PipelineRun{
			ID:          uuid.New(),
			Phase:       models.PhasePending,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
			Warnings:    []string{},
			StartedAt:   time.Now().UTC(),
		},
	}
}

// ID returns the run id.
func (t *Tracker) ID() uuid.UUID {
	return t.run.ID
}

// Snapshot returns a consistent copy of the run state.
func (t *Tracker) Snapshot() models.PipelineRun {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := t.run
	snap.Warnings = append([]string{}, t.run.Warnings...)
	if t.run.FinishedAt != nil {
		finished := *t.run.FinishedAt
		snap.FinishedAt = &finished
	}
	return snap
}

// Advance moves the run to the next phase and applies any counter mutation in
// the same critical section.
func (t *Tracker) Advance(phase string, mutate func(*models.RunCounters)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run.Phase = phase
	if mutate != nil {
		mutate(&t.run.Counters)
	}
}

// UpdateCounters applies a counter mutation without a phase change.
func (t *Tracker) UpdateCounters(mutate func(*models.RunCounters)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mutate(&t.run.Counters)
}

// AddWarnings appends run warnings.
func (t *Tracker) AddWarnings(warnings ...string) {
	if len(warnings) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run.Warnings = append(t.run.Warnings, warnings...)
}

// RequestStop asks the run to stop at the next stage boundary. No-op once the
// run is terminal.
func (t *Tracker) RequestStop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if models.TerminalPhase(t.run.Phase) {
		return
	}
	t.stopRequested = true
	t.run.Phase = models.PhaseStopping
}

// StopRequested reports whether a stop was requested.
func (t *Tracker) StopRequested() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stopRequested
}

// Complete marks the run completed.
func (t *Tracker) Complete() {
	t.finish(models.PhaseCompleted, "")
}

// MarkStopped marks the run stopped; whatever was finalized before the stop
// was observed stays as-is.
func (t *Tracker) MarkStopped() {
	t.finish(models.PhaseStopped, "")
}

// Fail marks the run failed with a human-readable error.
func (t *Tracker) Fail(msg string) {
	t.finish(models.PhaseFailed, msg)
}

func (t *Tracker) finish(phase, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if models.TerminalPhase(t.run.Phase) {
		return
	}
	t.run.Phase = phase
	t.run.Error = errMsg
	now := time.Now().UTC()
	t.run.FinishedAt = &now
}
