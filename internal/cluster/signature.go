package cluster

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/storymill/storymill/pkg/models"
	"github.com/storymill/storymill/pkg/textsig"
)

// signatureKeywords bounds how many keywords feed the digest. Enough to
// distinguish issues, few enough that rephrasings of the same issue converge.
const signatureKeywords = 8

// Sign computes a stable identity for a cluster from content-level features
// only: the facet tuple plus the normalized keyword set of the most
// informative member. It never reads run-local ids, insertion order, or any
// per-run counter, so the same real-world issue signs identically across runs.
func Sign(c models.Cluster) string {
	best := representative(c)
	keywords := textsig.Keywords(best.Excerpt, signatureKeywords)

	canonical := c.Facet.ActionType + "|" + c.Facet.Direction + "|" + strings.Join(keywords, ",")
	hash := sha256.Sum256([]byte(canonical))
	return fmt.Sprintf("%x", hash)
}

// representative picks the member whose excerpt anchors the signature:
// highest confidence, ties broken by lowest id.
func representative(c models.Cluster) models.Record {
	best := c.Members[0]
	for _, m := range c.Members[1:] {
		if m.Confidence > best.Confidence ||
			(m.Confidence == best.Confidence && m.ID < best.ID) {
			best = m
		}
	}
	return best
}
