// Package models contains shared data models used across the Storymill codebase.
package models

import "time"

// Record is one classified feedback conversation. Records are produced by the
// upstream intake/classifier service and are read-only inside the pipeline.
type Record struct {
	ID              string    `json:"id"`
	Excerpt         string    `json:"excerpt"`
	ActionType      string    `json:"action_type"`
	Direction       string    `json:"direction"`
	Embedding       []float32 `json:"embedding"`
	Confidence      float64   `json:"confidence"`
	VocabularyKnown bool      `json:"vocabulary_known"`
	CreatedAt       time.Time `json:"created_at"`
}

// Facet returns the categorical key used to partition records before
// similarity grouping.
func (r Record) Facet() FacetKey {
	return FacetKey{ActionType: r.ActionType, Direction: r.Direction}
}

// FacetKey is the (action_type, direction) tuple. Records with different
// facet keys are never clustered together.
type FacetKey struct {
	ActionType string `json:"action_type"`
	Direction  string `json:"direction"`
}

func (k FacetKey) String() string {
	return k.ActionType + "/" + k.Direction
}
