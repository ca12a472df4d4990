// Package synthesis turns accepted clusters into stories: a title and
// description from the most informative member, an evidence bundle from every
// member, and optional implementation context.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/storymill/storymill/pkg/models"
	"github.com/storymill/storymill/pkg/textsig"
)

// ErrOrphan is returned when a cluster cannot produce a minimally valid
// story. Orphans are counted run outcomes, not failures.
var ErrOrphan = errors.New("cluster has no usable content for a story")

const (
	maxTitleBytes   = 120
	maxExcerptBytes = 2000
	topicKeywords   = 6
)

// Explorer is the code-exploration collaborator used in dual-format mode.
// Zero results is a valid answer.
type Explorer interface {
	Explore(ctx context.Context, topic string) ([]models.CodeRef, error)
}

// Synthesizer builds stories from reviewed clusters. With a nil explorer,
// implementation-detail mode is off and stories carry no code context.
type Synthesizer struct {
	explorer Explorer
}

// NewSynthesizer creates a Synthesizer. Pass a nil explorer to disable
// dual-format synthesis.
func NewSynthesizer(explorer Explorer) *Synthesizer {
	return &Synthesizer{explorer: explorer}
}

// Synthesize produces a story for one accepted (or split-branch) cluster.
// Title and description come from the highest-scoring member, never from
// whichever record happens to sort first. Returns ErrOrphan when no member
// has usable content; warnings report non-fatal collaborator trouble.
func (s *Synthesizer) Synthesize(ctx context.Context, c models.Cluster) (*models.Story, []string, error) {
	usable := usableMembers(c)
	if len(usable) == 0 {
		return nil, nil, fmt.Errorf("cluster %d: %w", c.RunLocalID, ErrOrphan)
	}

	// Rank by informativeness, ties by id. Evidence keeps this order.
	sort.Slice(usable, func(i, j int) bool {
		si, sj := informativeness(usable[i]), informativeness(usable[j])
		if si != sj {
			return si > sj
		}
		return usable[i].ID < usable[j].ID
	})
	best := usable[0]

	evidence := make(models.EvidenceBundle, len(usable))
	for i, m := range usable {
		evidence[i] = models.EvidenceItem{
			RecordID: m.ID,
			Excerpt:  truncate(strings.TrimSpace(m.Excerpt), maxExcerptBytes),
		}
	}

	story := &models.Story{
		ID:          uuid.New(),
		Signature:   c.Signature,
		Title:       title(best.Excerpt),
		Description: description(best, c),
		Evidence:    evidence,
		Status:      models.StoryStatusCandidate,
	}

	var warnings []string
	if s.explorer != nil {
		topic := strings.Join(textsig.Keywords(best.Excerpt, topicKeywords), " ")
		refs, err := s.explorer.Explore(ctx, topic)
		if err != nil {
			warnings = append(warnings,
				fmt.Sprintf("code exploration failed for cluster %d: %v", c.RunLocalID, err))
			refs = nil
		}
		if refs == nil {
			refs = []models.CodeRef{}
		}
		story.CodeContext = &models.CodeContext{Topic: topic, Refs: refs}
	}

	return story, warnings, nil
}

// usableMembers filters out members whose excerpts carry nothing to quote.
func usableMembers(c models.Cluster) []models.Record {
	usable := make([]models.Record, 0, len(c.Members))
	for _, m := range c.Members {
		if strings.TrimSpace(m.Excerpt) != "" {
			usable = append(usable, m)
		}
	}
	return usable
}

// informativeness scores how much extractable signal a member carries.
// Meaningful token count dominates; classifier confidence breaks near-ties so
// a one-word follow-up never outranks a real report.
func informativeness(r models.Record) float64 {
	return float64(len(textsig.Tokens(r.Excerpt))) + r.Confidence
}

// title derives a story title from the representative excerpt: its first
// sentence, truncated at a word boundary.
func title(excerpt string) string {
	text := strings.Join(strings.Fields(excerpt), " ")
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if i := strings.Index(text, sep); i > 0 {
			text = text[:i+1]
			break
		}
	}
	text = strings.TrimSpace(text)
	if len(text) <= maxTitleBytes {
		return text
	}
	cut := truncate(text, maxTitleBytes)
	if i := strings.LastIndex(cut, " "); i > maxTitleBytes/2 {
		cut = cut[:i]
	}
	return cut + "…"
}

// description composes the story body from the representative excerpt plus
// how widely the issue was reported.
func description(best models.Record, c models.Cluster) string {
	var b strings.Builder
	b.WriteString(truncate(strings.TrimSpace(best.Excerpt), maxExcerptBytes))
	b.WriteString("\n\n")
	if len(c.Members) == 1 {
		b.WriteString(fmt.Sprintf("Reported once (%s).", c.Facet))
	} else {
		b.WriteString(fmt.Sprintf("Reported in %d conversations (%s).", len(c.Members), c.Facet))
	}
	return b.String()
}

// truncate cuts s to maxBytes without splitting UTF-8 runes.
func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
