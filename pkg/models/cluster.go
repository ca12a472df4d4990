package models

// Cluster is a candidate grouping of records believed to describe the same
// underlying issue. RunLocalID is unique only within one pipeline run;
// cross-run identity comes from Signature.
type Cluster struct {
	RunLocalID int       `json:"run_local_id"`
	Facet      FacetKey  `json:"facet"`
	Members    []Record  `json:"members"`
	Signature  string    `json:"signature,omitempty"`
}

// MemberIDs returns the member record IDs in member order.
func (c Cluster) MemberIDs() []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.ID
	}
	return ids
}

// Centroid recomputes the mean embedding over all members. It is derived
// state, never stored. Returns nil when members carry no embeddings.
func (c Cluster) Centroid() []float32 {
	var dim int
	for _, m := range c.Members {
		if len(m.Embedding) > 0 {
			dim = len(m.Embedding)
			break
		}
	}
	if dim == 0 {
		return nil
	}

	centroid := make([]float32, dim)
	var n float32
	for _, m := range c.Members {
		if len(m.Embedding) != dim {
			continue
		}
		for i, v := range m.Embedding {
			centroid[i] += v
		}
		n++
	}
	if n == 0 {
		return nil
	}
	for i := range centroid {
		centroid[i] /= n
	}
	return centroid
}

// Review decisions.
const (
	ReviewAccepted = "accepted"
	ReviewSplit    = "split"
	ReviewRejected = "rejected"
)

// ReviewOutcome is the result of running the review gate over one cluster.
// For ReviewSplit, SubClusters holds 2+ valid clusters whose member sets
// partition the original cluster's members. For ReviewRejected, Reason says why.
type ReviewOutcome struct {
	Decision    string    `json:"decision"`
	Cluster     Cluster   `json:"cluster"`
	SubClusters []Cluster `json:"sub_clusters,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}
