// Package cluster groups gated records into candidate same-issue clusters and
// assigns each cluster a run-independent signature.
package cluster

import (
	"math"
	"sort"

	"github.com/storymill/storymill/pkg/models"
)

// Strategy is implemented by anything that can turn gated records into
// candidate clusters. Every strategy's output passes through the review gate;
// there is no strategy-specific bypass.
type Strategy interface {
	Name() string
	Build(records []models.Record) []models.Cluster
}

// Builder groups records by exact facet tuple, then merges same-facet records
// whose embedding cosine similarity meets the threshold using single-linkage:
// a record joins a cluster if it is similar enough to any existing member.
// That favors recall over precision, which is why the review gate downstream
// is mandatory.
type Builder struct {
	threshold float64
}

// NewBuilder creates a Builder with the given cosine-similarity threshold.
func NewBuilder(threshold float64) *Builder {
	return &Builder{threshold: threshold}
}

func (b *Builder) Name() string { return "facet-embedding" }

// Build returns clusters for the given records. Output membership is
// order-independent: records are sorted by id before processing and
// single-linkage merging is computed over all same-facet pairs.
// A record similar to no other same-facet record becomes a singleton cluster.
func (b *Builder) Build(records []models.Record) []models.Cluster {
	if len(records) == 0 {
		return []models.Cluster{}
	}

	sorted := make([]models.Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	// Hard partition: different facet tuples never merge.
	partitions := make(map[models.FacetKey][]models.Record)
	facets := make([]models.FacetKey, 0)
	for _, r := range sorted {
		key := r.Facet()
		if _, seen := partitions[key]; !seen {
			facets = append(facets, key)
		}
		partitions[key] = append(partitions[key], r)
	}
	sort.Slice(facets, func(i, j int) bool {
		return facets[i].String() < facets[j].String()
	})

	var clusters []models.Cluster
	for _, key := range facets {
		clusters = append(clusters, b.linkPartition(key, partitions[key])...)
	}

	// Order by first (lowest) member id so run-local ids are stable for a
	// given input set.
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].Members[0].ID < clusters[j].Members[0].ID
	})
	for i := range clusters {
		clusters[i].RunLocalID = i + 1
	}
	return clusters
}

// linkPartition runs single-linkage merging within one facet partition.
// records must already be sorted by id.
func (b *Builder) linkPartition(key models.FacetKey, records []models.Record) []models.Cluster {
	parent := make([]int, len(records))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(i, j int) {
		ri, rj := find(i), find(j)
		if ri != rj {
			// Attach the higher root to the lower so roots stay at the
			// lowest-id member.
			if ri < rj {
				parent[rj] = ri
			} else {
				parent[ri] = rj
			}
		}
	}

	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			if Cosine(records[i].Embedding, records[j].Embedding) >= b.threshold {
				union(i, j)
			}
		}
	}

	componentMembers := make(map[int][]models.Record)
	roots := make([]int, 0)
	for i, r := range records {
		root := find(i)
		if _, seen := componentMembers[root]; !seen {
			roots = append(roots, root)
		}
		componentMembers[root] = append(componentMembers[root], r)
	}
	sort.Ints(roots)

	clusters := make([]models.Cluster, 0, len(roots))
	for _, root := range roots {
		clusters = append(clusters, models.Cluster{
			Facet:   key,
			Members: componentMembers[root],
		})
	}
	return clusters
}

// Cosine computes cosine similarity between two embeddings. Mismatched or
// zero-magnitude vectors score 0 rather than erroring: such records end up as
// singleton clusters instead of being dropped.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ Strategy = (*Builder)(nil)
