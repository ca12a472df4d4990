// Package review inspects candidate clusters for heterogeneous root causes
// and may accept, split, or reject them, independent of which clustering
// strategy produced them.
package review

import (
	"sort"

	"github.com/storymill/storymill/pkg/models"
	"github.com/storymill/storymill/pkg/textsig"
)

// CauseDetector partitions a cluster's members into groups of shared root
// cause. One group means the cluster is coherent; two or more mean it should
// split. A nil result means no member carries attributable content and the
// cluster is degenerate. Implementations must be deterministic and, when
// returning groups, assign every member to exactly one group.
type CauseDetector interface {
	Name() string
	DetectCauses(c models.Cluster) [][]models.Record
}

// detectorKeywords bounds the keyword set compared per member.
const detectorKeywords = 12

// KeywordDetector groups members by overlap of their normalized excerpt
// keyword sets. Members naming disjoint subsystems land in separate groups
// even when their facets and embeddings agree.
type KeywordDetector struct {
	// MinOverlap is the Jaccard similarity at or above which two members are
	// considered to describe the same root cause.
	MinOverlap float64
}

func (d *KeywordDetector) Name() string { return "keyword-overlap" }

// DetectCauses assigns each member to the first existing group whose seed
// member overlaps it sufficiently, else opens a new group. Members are
// processed in id order so the grouping is input-order independent.
// Members with no extractable keywords form their own group of unactionable
// content; the gate rejects clusters where that is all there is.
func (d *KeywordDetector) DetectCauses(c models.Cluster) [][]models.Record {
	members := make([]models.Record, len(c.Members))
	copy(members, c.Members)
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

	type group struct {
		seed    []string
		members []models.Record
	}
	var groups []*group
	var empty []models.Record

	for _, m := range members {
		keywords := textsig.Keywords(m.Excerpt, detectorKeywords)
		if len(keywords) == 0 {
			empty = append(empty, m)
			continue
		}

		placed := false
		for _, g := range groups {
			if textsig.Jaccard(keywords, g.seed) >= d.MinOverlap {
				g.members = append(g.members, m)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, &group{seed: keywords, members: []models.Record{m}})
		}
	}

	// Every member content-free: nothing to attribute a cause to.
	if len(groups) == 0 {
		return nil
	}

	// Content-free members cannot be attributed to any cause; fold them into
	// the largest group rather than dropping them, keeping the no-drop
	// invariant.
	if len(empty) > 0 {
		largest := groups[0]
		for _, g := range groups[1:] {
			if len(g.members) > len(largest.members) {
				largest = g
			}
		}
		largest.members = append(largest.members, empty...)
		sort.Slice(largest.members, func(i, j int) bool {
			return largest.members[i].ID < largest.members[j].ID
		})
	}

	out := make([][]models.Record, len(groups))
	for i, g := range groups {
		out[i] = g.members
	}
	return out
}

// PassDetector reports every cluster as a single coherent cause. It is what
// runs when review is toggled off: the gate still executes for every cluster,
// only the detection is inert. There is no separate disabled code path.
type PassDetector struct{}

func (PassDetector) Name() string { return "pass" }

func (PassDetector) DetectCauses(c models.Cluster) [][]models.Record {
	return [][]models.Record{c.Members}
}

var (
	_ CauseDetector = (*KeywordDetector)(nil)
	_ CauseDetector = PassDetector{}
)
