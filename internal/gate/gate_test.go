package gate_test

import (
	"math"
	"testing"

	"github.com/storymill/storymill/internal/gate"
	"github.com/storymill/storymill/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id string, confidence float64, known bool) models.Record {
	return models.Record{
		ID:              id,
		Excerpt:         "the export button does nothing",
		ActionType:      "bug_report",
		Direction:       "complaint",
		Embedding:       []float32{0.1, 0.2, 0.3},
		Confidence:      confidence,
		VocabularyKnown: known,
	}
}

func TestFilter_KeepsConfidentKnownRecords(t *testing.T) {
	records := []models.Record{
		record("r-1", 0.9, true),
		record("r-2", 0.7, true),
	}

	res := gate.Filter(records, gate.Config{MinConfidence: 0.55})

	assert.Len(t, res.Kept, 2)
	assert.Zero(t, res.Filtered)
	assert.Empty(t, res.Warnings)
}

func TestFilter_DropsLowConfidence(t *testing.T) {
	records := []models.Record{
		record("r-1", 0.54, true),
		record("r-2", 0.56, true),
	}

	res := gate.Filter(records, gate.Config{MinConfidence: 0.55})

	require.Len(t, res.Kept, 1)
	assert.Equal(t, "r-2", res.Kept[0].ID)
	assert.Equal(t, 1, res.Filtered)
}

func TestFilter_DropsUnknownVocabulary(t *testing.T) {
	records := []models.Record{
		record("r-1", 0.99, false),
	}

	res := gate.Filter(records, gate.Config{MinConfidence: 0.55})

	assert.Empty(t, res.Kept)
	assert.Equal(t, 1, res.Filtered)
	// A silently dropped record is an expected outcome, not a warning.
	assert.Empty(t, res.Warnings)
}

func TestFilter_MalformedRecordsWarn(t *testing.T) {
	missing := record("", 0.9, true)
	noFacet := record("r-2", 0.9, true)
	noFacet.ActionType = ""
	noEmbedding := record("r-3", 0.9, true)
	noEmbedding.Embedding = nil
	nanConf := record("r-4", math.NaN(), true)

	res := gate.Filter([]models.Record{missing, noFacet, noEmbedding, nanConf},
		gate.Config{MinConfidence: 0.55})

	assert.Empty(t, res.Kept)
	assert.Equal(t, 4, res.Filtered)
	require.GreaterOrEqual(t, len(res.Warnings), 4)
	assert.Contains(t, res.Warnings[0], "missing id")
	assert.Contains(t, res.Warnings[1], "missing facet")
	assert.Contains(t, res.Warnings[2], "missing embedding")
	assert.Contains(t, res.Warnings[3], "out of range")
}

func TestFilter_DropRateWarning(t *testing.T) {
	records := []models.Record{
		record("r-1", 0.1, true),
		record("r-2", 0.1, true),
		record("r-3", 0.9, true),
	}

	res := gate.Filter(records, gate.Config{
		MinConfidence:         0.55,
		DropRateWarnThreshold: 0.5,
	})

	assert.Len(t, res.Kept, 1)
	assert.Equal(t, 2, res.Filtered)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "quality gate dropped 67%")
}

func TestFilter_NoWarningAtOrBelowThreshold(t *testing.T) {
	records := []models.Record{
		record("r-1", 0.1, true),
		record("r-2", 0.9, true),
	}

	res := gate.Filter(records, gate.Config{
		MinConfidence:         0.55,
		DropRateWarnThreshold: 0.5,
	})

	assert.Equal(t, 1, res.Filtered)
	assert.Empty(t, res.Warnings)
}

func TestFilter_EmptyInput(t *testing.T) {
	res := gate.Filter(nil, gate.Config{MinConfidence: 0.55, DropRateWarnThreshold: 0.5})

	assert.Empty(t, res.Kept)
	assert.Zero(t, res.Filtered)
	assert.Empty(t, res.Warnings)
}
