package models

import (
	"time"

	"github.com/google/uuid"
)

// Story statuses. A story moves candidate -> triaged -> closed, or is rejected.
const (
	StoryStatusCandidate = "candidate"
	StoryStatusTriaged   = "triaged"
	StoryStatusClosed    = "closed"
	StoryStatusRejected  = "rejected"
)

// ValidStoryStatus reports whether s is a known story status.
func ValidStoryStatus(s string) bool {
	switch s {
	case StoryStatusCandidate, StoryStatusTriaged, StoryStatusClosed, StoryStatusRejected:
		return true
	}
	return false
}

// ValidStoryTransition reports whether a story may move from one status to another.
func ValidStoryTransition(from, to string) bool {
	switch from {
	case StoryStatusCandidate:
		return to == StoryStatusTriaged || to == StoryStatusRejected
	case StoryStatusTriaged:
		return to == StoryStatusClosed || to == StoryStatusRejected
	}
	return false
}

// EvidenceItem is one excerpt backing a story, tagged with its source record.
type EvidenceItem struct {
	RecordID string `json:"record_id"`
	Excerpt  string `json:"excerpt"`
}

// EvidenceBundle is the ordered, source-tagged excerpt collection backing a
// story. It is owned by the story and rebuilt whenever the story's underlying
// cluster changes.
type EvidenceBundle []EvidenceItem

// CodeRef is one implementation pointer returned by the code-exploration
// collaborator.
type CodeRef struct {
	FilePath string `json:"file_path"`
	Note     string `json:"note"`
}

// CodeContext holds implementation detail attached to a story in dual-format
// mode. A non-nil CodeContext with zero refs is valid: exploration ran and
// found nothing.
type CodeContext struct {
	Topic string    `json:"topic"`
	Refs  []CodeRef `json:"refs"`
}

// Story is the synthesized output for one accepted cluster: an actionable
// ticket draft backed by evidence from every member record.
type Story struct {
	ID          uuid.UUID      `db:"id"           json:"id"`
	Signature   string         `db:"signature"    json:"signature"`
	Title       string         `db:"title"        json:"title"`
	Description string         `db:"description"  json:"description"`
	CodeContext *CodeContext   `db:"code_context" json:"code_context,omitempty"`
	Evidence    EvidenceBundle `db:"evidence"     json:"evidence"`
	Status      string         `db:"status"       json:"status"`
	CreatedAt   time.Time      `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"   json:"updated_at"`
}
