package review

import (
	"errors"
	"fmt"

	"github.com/storymill/storymill/pkg/models"
)

// ErrInvariantViolation marks a detector result that drops or duplicates a
// member. It is a fatal run fault, never a counted outcome.
var ErrInvariantViolation = errors.New("review outcome violates member partition invariant")

// Gate applies a cause detector to every cluster and translates its grouping
// into a review outcome. The gate runs for every cluster regardless of the
// strategy that built it; toggling review off swaps in PassDetector, not a
// second code path.
type Gate struct {
	detector CauseDetector
}

// NewGate creates a Gate around the given detector.
func NewGate(d CauseDetector) *Gate {
	return &Gate{detector: d}
}

// DetectorName returns the active detector's identifier.
func (g *Gate) DetectorName() string { return g.detector.Name() }

// Review inspects one cluster. Accepted when all members share a root cause,
// Split when the detector distinguishes 2+ causes, Rejected when no member
// carries actionable content. Returns an error only on a partition invariant
// violation, which callers must treat as fatal.
func (g *Gate) Review(c models.Cluster) (models.ReviewOutcome, error) {
	if len(c.Members) == 0 {
		return models.ReviewOutcome{}, fmt.Errorf("%w: empty cluster %d", ErrInvariantViolation, c.RunLocalID)
	}

	groups := g.detector.DetectCauses(c)
	if groups == nil {
		return models.ReviewOutcome{
			Decision: models.ReviewRejected,
			Cluster:  c,
			Reason:   "no member has actionable content",
		}, nil
	}

	if err := validatePartition(c, groups); err != nil {
		return models.ReviewOutcome{}, err
	}

	if len(groups) == 1 {
		return models.ReviewOutcome{Decision: models.ReviewAccepted, Cluster: c}, nil
	}

	subs := make([]models.Cluster, len(groups))
	for i, members := range groups {
		subs[i] = models.Cluster{
			RunLocalID: c.RunLocalID,
			Facet:      c.Facet,
			Members:    members,
		}
	}
	return models.ReviewOutcome{
		Decision:    models.ReviewSplit,
		Cluster:     c,
		SubClusters: subs,
	}, nil
}

// validatePartition checks that the groups exactly partition the cluster's
// members: no record dropped, none duplicated.
func validatePartition(c models.Cluster, groups [][]models.Record) error {
	seen := make(map[string]bool, len(c.Members))
	var total int
	for _, g := range groups {
		if len(g) == 0 {
			return fmt.Errorf("%w: empty sub-cluster for cluster %d", ErrInvariantViolation, c.RunLocalID)
		}
		for _, m := range g {
			if seen[m.ID] {
				return fmt.Errorf("%w: record %s duplicated", ErrInvariantViolation, m.ID)
			}
			seen[m.ID] = true
			total++
		}
	}
	if total != len(c.Members) {
		return fmt.Errorf("%w: cluster %d has %d members, outcome covers %d",
			ErrInvariantViolation, c.RunLocalID, len(c.Members), total)
	}
	for _, m := range c.Members {
		if !seen[m.ID] {
			return fmt.Errorf("%w: record %s dropped", ErrInvariantViolation, m.ID)
		}
	}
	return nil
}
