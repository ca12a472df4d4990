package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/storymill/storymill/internal/cache"
	"github.com/storymill/storymill/internal/cluster"
	"github.com/storymill/storymill/internal/gate"
	"github.com/storymill/storymill/internal/review"
	"github.com/storymill/storymill/internal/source"
	"github.com/storymill/storymill/internal/store"
	"github.com/storymill/storymill/internal/synthesis"
	"github.com/storymill/storymill/pkg/models"
)

const statusTTL = 30 * time.Minute

// Config holds orchestrator tuning that is not owned by a stage.
type Config struct {
	FetchPageSize    int
	FetchConcurrency int
}

// Dependencies wires the stages and collaborators into the orchestrator.
type Dependencies struct {
	Source      source.Client
	Strategy    cluster.Strategy
	GateConfig  gate.Config
	ReviewGate  *review.Gate
	Synthesizer *synthesis.Synthesizer
	Store       store.Store
	Cache       cache.Cache
	Config      Config
}

// Orchestrator sequences the pipeline stages for each run and owns all
// run-level state. Stages are pure over their inputs; only the orchestrator
// touches counters and warnings. Gate drops, splits, rejections, and orphans
// are expected, counted outcomes. Only unrecoverable faults fail a run.
type Orchestrator struct {
	source   source.Client
	strategy cluster.Strategy
	gateCfg  gate.Config
	reviewer *review.Gate
	synth    *synthesis.Synthesizer
	store    store.Store
	cache    cache.Cache
	cfg      Config
	registry *Registry
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps Dependencies) *Orchestrator {
	return &Orchestrator{
		source:   deps.Source,
		strategy: deps.Strategy,
		gateCfg:  deps.GateConfig,
		reviewer: deps.ReviewGate,
		synth:    deps.Synthesizer,
		store:    deps.Store,
		cache:    deps.Cache,
		cfg:      deps.Config,
		registry: NewRegistry(),
	}
}

// StartRun registers a pending run for the window and dispatches execution in
// a background goroutine. Returns the initial snapshot immediately.
func (o *Orchestrator) StartRun(ctx context.Context, windowStart, windowEnd time.Time) (models.PipelineRun, error) {
	if !windowEnd.After(windowStart) {
		return models.PipelineRun{}, fmt.Errorf("invalid window: end %s not after start %s", windowEnd, windowStart)
	}

	tracker := NewTracker(windowStart, windowEnd)
	snap := tracker.Snapshot()
	if err := o.store.CreateRun(ctx, &snap); err != nil {
		return models.PipelineRun{}, fmt.Errorf("creating run: %w", err)
	}

	o.registry.Add(tracker)
	o.publishStatus(ctx, tracker)

	go o.execute(tracker)

	return snap, nil
}

// RunStatus returns the current snapshot for a run without blocking on any
// in-progress stage. Runs owned by this process come from the registry;
// anything else falls back to the persisted row.
func (o *Orchestrator) RunStatus(ctx context.Context, runID uuid.UUID) (models.PipelineRun, error) {
	if tracker, ok := o.registry.Get(runID); ok {
		return tracker.Snapshot(), nil
	}
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return models.PipelineRun{}, err
	}
	return *run, nil
}

// StopRun requests a cooperative stop. The run observes it at its next stage
// boundary; stories finalized before that point are preserved.
func (o *Orchestrator) StopRun(runID uuid.UUID) bool {
	tracker, ok := o.registry.Get(runID)
	if !ok {
		return false
	}
	tracker.RequestStop()
	return true
}

// execute drives one run through classification, clustering, review, and
// synthesis. It recovers from panics and always leaves the run in a terminal
// phase.
func (o *Orchestrator) execute(t *Tracker) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in pipeline run", "error", r, "run_id", t.ID())
			t.Fail(fmt.Sprintf("panic: %v", r))
			o.finalize(ctx, t)
		}
	}()

	records, ok := o.classificationStage(ctx, t)
	if !ok {
		return
	}

	clusters, ok := o.clusteringStage(ctx, t, records)
	if !ok {
		return
	}

	accepted, ok := o.reviewStage(ctx, t, clusters)
	if !ok {
		return
	}

	if !o.synthesisStage(ctx, t, accepted) {
		return
	}

	t.Complete()
	o.finalize(ctx, t)
	snap := t.Snapshot()
	slog.Info("pipeline run completed", "run_id", t.ID(),
		"records_seen", snap.Counters.RecordsSeen,
		"clusters_built", snap.Counters.ClustersBuilt,
		"stories_created", snap.Counters.StoriesCreated)
}

// classificationStage fetches and gates the window's records.
func (o *Orchestrator) classificationStage(ctx context.Context, t *Tracker) ([]models.Record, bool) {
	if o.stopAtBoundary(ctx, t) {
		return nil, false
	}
	t.Advance(models.PhaseClassification, nil)
	o.publishStatus(ctx, t)

	snap := t.Snapshot()
	fetched, err := o.source.FetchClassified(ctx, source.FetchRequest{
		Start:       snap.WindowStart,
		End:         snap.WindowEnd,
		PageSize:    o.cfg.FetchPageSize,
		Concurrency: o.cfg.FetchConcurrency,
	})
	if err != nil {
		// Total loss of the record source is the canonical fatal fault.
		t.Fail(fmt.Sprintf("fetching records: %v", err))
		o.finalize(ctx, t)
		return nil, false
	}

	// Per-record fetch failures are recoverable: skip, warn, continue.
	for _, failure := range fetched.PartialFailures {
		t.AddWarnings("fetch failure: " + failure)
	}

	gated := gate.Filter(fetched.Records, o.gateCfg)
	t.AddWarnings(gated.Warnings...)
	t.UpdateCounters(func(c *models.RunCounters) {
		c.RecordsSeen = len(fetched.Records) + len(fetched.PartialFailures)
		c.RecordsFiltered = gated.Filtered + len(fetched.PartialFailures)
	})
	return gated.Kept, true
}

// clusteringStage builds and signs candidate clusters.
func (o *Orchestrator) clusteringStage(ctx context.Context, t *Tracker, records []models.Record) ([]models.Cluster, bool) {
	if o.stopAtBoundary(ctx, t) {
		return nil, false
	}
	t.Advance(models.PhaseClustering, nil)
	o.publishStatus(ctx, t)

	clusters := o.strategy.Build(records)
	for i := range clusters {
		clusters[i].Signature = cluster.Sign(clusters[i])
	}
	t.UpdateCounters(func(c *models.RunCounters) {
		c.ClustersBuilt = len(clusters)
	})
	return clusters, true
}

// reviewStage runs the review gate over every cluster, whatever strategy
// built it. Splits yield freshly signed sub-clusters; rejections are counted.
func (o *Orchestrator) reviewStage(ctx context.Context, t *Tracker, clusters []models.Cluster) ([]models.Cluster, bool) {
	if o.stopAtBoundary(ctx, t) {
		return nil, false
	}
	t.Advance(models.PhaseReview, nil)
	o.publishStatus(ctx, t)

	accepted := make([]models.Cluster, 0, len(clusters))
	for _, c := range clusters {
		outcome, err := o.reviewer.Review(c)
		if err != nil {
			// A partition violation means the gate can no longer be trusted
			// to keep evidence attributable. Abort rather than emit
			// commingled stories.
			t.Fail(fmt.Sprintf("reviewing cluster %d: %v", c.RunLocalID, err))
			o.finalize(ctx, t)
			return nil, false
		}

		switch outcome.Decision {
		case models.ReviewAccepted:
			accepted = append(accepted, outcome.Cluster)
		case models.ReviewSplit:
			t.UpdateCounters(func(rc *models.RunCounters) { rc.ClustersSplit++ })
			for _, sub := range outcome.SubClusters {
				sub.Signature = cluster.Sign(sub)
				accepted = append(accepted, sub)
			}
		case models.ReviewRejected:
			t.UpdateCounters(func(rc *models.RunCounters) { rc.ClustersRejected++ })
			slog.Debug("cluster rejected", "run_id", t.ID(),
				"cluster", c.RunLocalID, "reason", outcome.Reason)
		}
	}
	return accepted, true
}

// synthesisStage turns accepted clusters into stories and hands them to the
// store. Orphans and per-story persist failures are counted, not fatal.
func (o *Orchestrator) synthesisStage(ctx context.Context, t *Tracker, clusters []models.Cluster) bool {
	if o.stopAtBoundary(ctx, t) {
		return false
	}
	t.Advance(models.PhaseSynthesis, nil)
	o.publishStatus(ctx, t)

	for _, c := range clusters {
		story, warnings, err := o.synth.Synthesize(ctx, c)
		t.AddWarnings(warnings...)
		if errors.Is(err, synthesis.ErrOrphan) {
			t.UpdateCounters(func(rc *models.RunCounters) { rc.OrphansCreated++ })
			continue
		}
		if err != nil {
			t.AddWarnings(fmt.Sprintf("synthesis failed for cluster %d: %v", c.RunLocalID, err))
			continue
		}

		if _, err := o.store.UpsertStory(ctx, story); err != nil {
			t.AddWarnings(fmt.Sprintf("storing story for cluster %d: %v", c.RunLocalID, err))
			continue
		}
		t.UpdateCounters(func(rc *models.RunCounters) { rc.StoriesCreated++ })
	}
	return true
}

// stopAtBoundary checks for a requested stop at a stage boundary. Stops are
// never observed mid-stage, so finished stories stay finished and no partial
// cluster is ever persisted as complete.
func (o *Orchestrator) stopAtBoundary(ctx context.Context, t *Tracker) bool {
	if !t.StopRequested() {
		return false
	}
	t.MarkStopped()
	o.finalize(ctx, t)
	slog.Info("pipeline run stopped", "run_id", t.ID())
	return true
}

// finalize persists the terminal run state and refreshes the status cache.
func (o *Orchestrator) finalize(ctx context.Context, t *Tracker) {
	snap := t.Snapshot()
	if err := o.store.UpdateRun(ctx, &snap); err != nil {
		slog.Error("persisting run state", "error", err, "run_id", snap.ID)
	}
	o.publishStatus(ctx, t)
}

// publishStatus caches the current snapshot. Cache trouble never affects the
// run.
func (o *Orchestrator) publishStatus(ctx context.Context, t *Tracker) {
	if o.cache == nil {
		return
	}
	snap := t.Snapshot()
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = o.cache.SetRunStatus(ctx, snap.ID, payload, statusTTL)
}
