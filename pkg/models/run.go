package models

import (
	"time"

	"github.com/google/uuid"
)

// Pipeline run phases. A run advances pending -> classification -> clustering
// -> review -> synthesis -> completed. stopping/stopped are reachable from any
// in-progress phase on external cancellation; failed on unrecoverable error.
const (
	PhasePending        = "pending"
	PhaseClassification = "classification"
	PhaseClustering     = "clustering"
	PhaseReview         = "review"
	PhaseSynthesis      = "synthesis"
	PhaseCompleted      = "completed"
	PhaseStopping       = "stopping"
	PhaseStopped        = "stopped"
	PhaseFailed         = "failed"
)

// TerminalPhase reports whether a run in phase p will no longer change.
func TerminalPhase(p string) bool {
	return p == PhaseCompleted || p == PhaseStopped || p == PhaseFailed
}

// RunCounters are the running totals for one pipeline run. Gate drops, review
// splits/rejections, and synthesis orphans are expected outcomes, not errors.
type RunCounters struct {
	RecordsSeen      int `json:"records_seen"`
	RecordsFiltered  int `json:"records_filtered"`
	ClustersBuilt    int `json:"clusters_built"`
	ClustersSplit    int `json:"clusters_split"`
	ClustersRejected int `json:"clusters_rejected"`
	StoriesCreated   int `json:"stories_created"`
	OrphansCreated   int `json:"orphans_created"`
}

// PipelineRun is per-invocation pipeline state. It is mutated only by the
// orchestrator and becomes immutable once the phase is terminal.
type PipelineRun struct {
	ID          uuid.UUID   `db:"id"            json:"id"`
	Phase       string      `db:"phase"         json:"phase"`
	WindowStart time.Time   `db:"window_start"  json:"window_start"`
	WindowEnd   time.Time   `db:"window_end"    json:"window_end"`
	Counters    RunCounters `db:"counters"      json:"counters"`
	Warnings    []string    `db:"warnings"      json:"warnings"`
	Error       string      `db:"error_message" json:"error,omitempty"`
	StartedAt   time.Time   `db:"started_at"    json:"started_at"`
	FinishedAt  *time.Time  `db:"finished_at"   json:"finished_at,omitempty"`
}
