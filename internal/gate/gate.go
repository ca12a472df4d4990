// Package gate filters low-confidence and out-of-vocabulary records before
// they can influence clustering.
package gate

import (
	"fmt"
	"math"

	"github.com/storymill/storymill/pkg/models"
)

// Config holds quality gate thresholds.
type Config struct {
	// MinConfidence drops records whose classifier confidence is below it.
	MinConfidence float64
	// DropRateWarnThreshold emits a warning once this fraction of a run's
	// records has been dropped. Signals vocabulary/model drift upstream.
	DropRateWarnThreshold float64
}

// Result is the outcome of filtering one run's records.
type Result struct {
	Kept     []models.Record
	Filtered int
	Warnings []string
}

// Filter applies the quality gate to records. A record is dropped when its
// confidence is below the threshold or its category is not in the known
// vocabulary. A malformed record is dropped with a warning, never fatal.
func Filter(records []models.Record, cfg Config) Result {
	res := Result{Kept: make([]models.Record, 0, len(records))}

	for _, r := range records {
		if reason := malformed(r); reason != "" {
			res.Filtered++
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("record %s dropped: %s", r.ID, reason))
			continue
		}
		if !r.VocabularyKnown || r.Confidence < cfg.MinConfidence {
			res.Filtered++
			continue
		}
		res.Kept = append(res.Kept, r)
	}

	if len(records) > 0 && cfg.DropRateWarnThreshold > 0 {
		rate := float64(res.Filtered) / float64(len(records))
		if rate > cfg.DropRateWarnThreshold {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"quality gate dropped %.0f%% of %d records; check upstream classifier vocabulary",
				rate*100, len(records)))
		}
	}

	return res
}

// malformed returns a non-empty reason when a record cannot be safely
// processed by the stages downstream of the gate.
func malformed(r models.Record) string {
	switch {
	case r.ID == "":
		return "missing id"
	case r.ActionType == "" || r.Direction == "":
		return "missing facet"
	case len(r.Embedding) == 0:
		return "missing embedding"
	case math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1:
		return fmt.Sprintf("confidence %v out of range", r.Confidence)
	}
	return ""
}
