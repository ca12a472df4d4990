package review_test

import (
	"testing"

	"github.com/storymill/storymill/internal/review"
	"github.com/storymill/storymill/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func member(id, excerpt string) models.Record {
	return models.Record{
		ID:              id,
		Excerpt:         excerpt,
		ActionType:      "bug_report",
		Direction:       "complaint",
		Embedding:       []float32{1, 0, 0},
		Confidence:      0.9,
		VocabularyKnown: true,
	}
}

func testCluster(members ...models.Record) models.Cluster {
	return models.Cluster{
		RunLocalID: 1,
		Facet:      models.FacetKey{ActionType: "bug_report", Direction: "complaint"},
		Members:    members,
	}
}

func allIDs(groups ...models.Cluster) map[string]int {
	counts := make(map[string]int)
	for _, g := range groups {
		for _, m := range g.Members {
			counts[m.ID]++
		}
	}
	return counts
}

func TestReview_AcceptsCoherentCluster(t *testing.T) {
	g := review.NewGate(&review.KeywordDetector{MinOverlap: 0.25})

	c := testCluster(
		member("r-1", "the csv export drops rows after ten thousand"),
		member("r-2", "csv export missing rows on large files"),
		member("r-3", "export to csv drops most of my rows"),
	)

	outcome, err := g.Review(c)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewAccepted, outcome.Decision)
	assert.Len(t, outcome.Cluster.Members, 3)
}

func TestReview_SplitsMixedCauses(t *testing.T) {
	g := review.NewGate(&review.KeywordDetector{MinOverlap: 0.25})

	c := testCluster(
		member("r-1", "the csv export drops rows after ten thousand"),
		member("r-2", "csv export missing rows on large files"),
		member("r-3", "login page redirects me to a blank screen"),
		member("r-4", "login redirect loops forever on a blank screen"),
	)

	outcome, err := g.Review(c)
	require.NoError(t, err)
	require.Equal(t, models.ReviewSplit, outcome.Decision)
	require.Len(t, outcome.SubClusters, 2)

	// Every member lands in exactly one sub-cluster.
	counts := allIDs(outcome.SubClusters...)
	assert.Len(t, counts, 4)
	for id, n := range counts {
		assert.Equal(t, 1, n, "record %s assigned %d times", id, n)
	}

	// Sub-clusters inherit the parent facet.
	for _, sub := range outcome.SubClusters {
		assert.Equal(t, c.Facet, sub.Facet)
	}
}

func TestReview_RejectsContentFreeCluster(t *testing.T) {
	g := review.NewGate(&review.KeywordDetector{MinOverlap: 0.25})

	c := testCluster(
		member("r-1", "!!!"),
		member("r-2", "   "),
	)

	outcome, err := g.Review(c)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewRejected, outcome.Decision)
	assert.NotEmpty(t, outcome.Reason)
}

func TestReview_FoldsContentFreeMembersIntoLargestGroup(t *testing.T) {
	g := review.NewGate(&review.KeywordDetector{MinOverlap: 0.25})

	c := testCluster(
		member("r-1", "the csv export drops rows after ten thousand"),
		member("r-2", "csv export missing rows on large files"),
		member("r-3", "+1"),
	)

	outcome, err := g.Review(c)
	require.NoError(t, err)
	// One real cause plus an unattributable member: still coherent.
	assert.Equal(t, models.ReviewAccepted, outcome.Decision)
}

func TestReview_EmptyClusterIsInvariantViolation(t *testing.T) {
	g := review.NewGate(&review.KeywordDetector{MinOverlap: 0.25})

	_, err := g.Review(testCluster())
	assert.ErrorIs(t, err, review.ErrInvariantViolation)
}

func TestReview_PassDetectorAcceptsEverything(t *testing.T) {
	g := review.NewGate(review.PassDetector{})
	assert.Equal(t, "pass", g.DetectorName())

	c := testCluster(
		member("r-1", "the csv export drops rows"),
		member("r-2", "login redirects to a blank screen"),
		member("r-3", "!!!"),
	)

	outcome, err := g.Review(c)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewAccepted, outcome.Decision)
}

// dropDetector loses a member, violating the partition invariant.
type dropDetector struct{}

func (dropDetector) Name() string { return "drop" }
func (dropDetector) DetectCauses(c models.Cluster) [][]models.Record {
	return [][]models.Record{c.Members[:len(c.Members)-1]}
}

// dupDetector assigns one member to two groups.
type dupDetector struct{}

func (dupDetector) Name() string { return "dup" }
func (dupDetector) DetectCauses(c models.Cluster) [][]models.Record {
	return [][]models.Record{c.Members, {c.Members[0]}}
}

func TestReview_DetectorDroppingMemberIsFatal(t *testing.T) {
	g := review.NewGate(dropDetector{})

	c := testCluster(
		member("r-1", "first report"),
		member("r-2", "second report"),
	)

	_, err := g.Review(c)
	assert.ErrorIs(t, err, review.ErrInvariantViolation)
}

func TestReview_DetectorDuplicatingMemberIsFatal(t *testing.T) {
	g := review.NewGate(dupDetector{})

	c := testCluster(
		member("r-1", "first report"),
		member("r-2", "second report"),
	)

	_, err := g.Review(c)
	assert.ErrorIs(t, err, review.ErrInvariantViolation)
}

func TestKeywordDetector_Deterministic(t *testing.T) {
	d := &review.KeywordDetector{MinOverlap: 0.25}

	c := testCluster(
		member("r-2", "csv export missing rows on large files"),
		member("r-1", "the csv export drops rows after ten thousand"),
		member("r-4", "login redirect loops forever on a blank screen"),
		member("r-3", "login page redirects me to a blank screen"),
	)
	reordered := testCluster(
		member("r-3", "login page redirects me to a blank screen"),
		member("r-1", "the csv export drops rows after ten thousand"),
		member("r-4", "login redirect loops forever on a blank screen"),
		member("r-2", "csv export missing rows on large files"),
	)

	a := d.DetectCauses(c)
	b := d.DetectCauses(reordered)

	require.Equal(t, len(a), len(b))
	for i := range a {
		require.Equal(t, len(a[i]), len(b[i]))
		for j := range a[i] {
			assert.Equal(t, a[i][j].ID, b[i][j].ID)
		}
	}
}
