package feedback_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iaros/recommend-engine/internal/config"
	"github.com/iaros/recommend-engine/internal/feedback"
	"github.com/iaros/recommend-engine/internal/model"
)

var refDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestLowRatingDropsBelowScoreCutoff(t *testing.T) {
	cfg := config.Default()
	recs := []model.RecommendationRow{
		{CustomerID: "C1", RecommendedProduct: "P1", Score: 0.5, Rank: 1},
	}
	fb := []model.FeedbackRow{
		{CustomerID: "C1", ProductID: "P1", Rating: model.RatingLow, FeedbackDate: refDate},
	}

	out, _ := feedback.Calibrate(recs, fb, refDate, cfg)

	assert.Empty(t, out, "0.5 * WEIGHT_LOW(0.1) = 0.05 < SCORE_CUTOFF(0.08), so the row must be dropped")
}

func TestHighRatingBoostsScoreAndSurvives(t *testing.T) {
	cfg := config.Default()
	recs := []model.RecommendationRow{
		{CustomerID: "C1", RecommendedProduct: "P1", Score: 0.5, Rank: 2},
		{CustomerID: "C1", RecommendedProduct: "P2", Score: 0.55, Rank: 1},
	}
	fb := []model.FeedbackRow{
		{CustomerID: "C1", ProductID: "P1", Rating: model.RatingHigh, FeedbackDate: refDate},
	}

	out, _ := feedback.Calibrate(recs, fb, refDate, cfg)

	require.Len(t, out, 2)
	top := out[0]
	assert.Equal(t, "P1", top.RecommendedProduct, "0.5*1.3=0.65 now outranks P2's untouched 0.55")
	assert.Equal(t, 1, top.Rank)
	assert.InDelta(t, 0.65, top.Score, 1e-9)
}

func TestMissingFeedbackPassesThroughUnchanged(t *testing.T) {
	cfg := config.Default()
	recs := []model.RecommendationRow{
		{CustomerID: "C1", RecommendedProduct: "P1", Score: 0.5, Rank: 1},
	}

	out, summary := feedback.Calibrate(recs, nil, refDate, cfg)

	require.Len(t, out, 1)
	assert.Equal(t, 0.5, out[0].Score)
	assert.Equal(t, 0, summary.Overall.TotalFeedback)
	assert.Equal(t, "hold", summary.ThresholdAction)
}

func TestFeedbackOlderThanRecencyWindowIsExcluded(t *testing.T) {
	cfg := config.Default()
	recs := []model.RecommendationRow{
		{CustomerID: "C1", RecommendedProduct: "P1", Score: 0.5, Rank: 1},
	}
	stale := refDate.AddDate(0, 0, -cfg.FeedbackRecencyDays-1)
	fb := []model.FeedbackRow{
		{CustomerID: "C1", ProductID: "P1", Rating: model.RatingLow, FeedbackDate: stale},
	}

	out, summary := feedback.Calibrate(recs, fb, refDate, cfg)

	require.Len(t, out, 1, "stale feedback must not apply its weight")
	assert.Equal(t, 0.5, out[0].Score)
	assert.Equal(t, 0, summary.Overall.TotalFeedback)
}

func TestDedupeByMostRecentFeedbackDateWins(t *testing.T) {
	cfg := config.Default()
	recs := []model.RecommendationRow{
		{CustomerID: "C1", RecommendedProduct: "P1", Score: 0.5, Rank: 1},
	}
	fb := []model.FeedbackRow{
		{CustomerID: "C1", ProductID: "P1", Rating: model.RatingLow, FeedbackDate: refDate.AddDate(0, 0, -10)},
		{CustomerID: "C1", ProductID: "P1", Rating: model.RatingHigh, FeedbackDate: refDate.AddDate(0, 0, -1)},
	}

	out, _ := feedback.Calibrate(recs, fb, refDate, cfg)

	require.Len(t, out, 1)
	assert.InDelta(t, 0.65, out[0].Score, 1e-9, "the more recent High rating must win over the older Low rating")
}

func TestMediumWithKnownNegativeReasonCodeAppliesMedNegWeight(t *testing.T) {
	cfg := config.Default()
	recs := []model.RecommendationRow{
		{CustomerID: "C1", RecommendedProduct: "P1", Score: 1.0, Rank: 1},
	}
	fb := []model.FeedbackRow{
		{CustomerID: "C1", ProductID: "P1", Rating: model.RatingMedium, ReasonCode: "price_too_high", FeedbackDate: refDate},
	}

	out, _ := feedback.Calibrate(recs, fb, refDate, cfg)

	require.Len(t, out, 1)
	assert.InDelta(t, cfg.FeedbackWeights.MediumNeg, out[0].Score, 1e-9)
}

func TestOverallAcceptanceBelowLowBandSuggestsTightening(t *testing.T) {
	cfg := config.Default()
	recs := []model.RecommendationRow{
		{CustomerID: "C1", RecommendedProduct: "P1", Score: 1.0, Rank: 1},
		{CustomerID: "C2", RecommendedProduct: "P2", Score: 1.0, Rank: 1},
	}
	fb := []model.FeedbackRow{
		{CustomerID: "C1", ProductID: "P1", Rating: model.RatingLow, FeedbackDate: refDate},
		{CustomerID: "C2", ProductID: "P2", Rating: model.RatingLow, FeedbackDate: refDate},
	}

	_, summary := feedback.Calibrate(recs, fb, refDate, cfg)

	assert.Equal(t, "tighten", summary.ThresholdAction)
	assert.Greater(t, summary.SuggestedMinConfidence, cfg.MinConfidence)
	assert.Equal(t, 0.0, summary.Overall.AcceptanceRate)
}

func TestOverallAcceptanceAboveHighBandSuggestsLoosening(t *testing.T) {
	cfg := config.Default()
	recs := []model.RecommendationRow{
		{CustomerID: "C1", RecommendedProduct: "P1", Score: 1.0, Rank: 1},
	}
	fb := []model.FeedbackRow{
		{CustomerID: "C1", ProductID: "P1", Rating: model.RatingHigh, FeedbackDate: refDate},
	}

	_, summary := feedback.Calibrate(recs, fb, refDate, cfg)

	assert.Equal(t, "loosen", summary.ThresholdAction)
	assert.Less(t, summary.SuggestedScoreCutoff, cfg.ScoreCutoff)
	assert.Equal(t, 1.0, summary.Overall.AcceptanceRate)
}

func TestReRankAfterCalibrationIsContiguousWithinTopK(t *testing.T) {
	cfg := config.Default()
	cfg.TopK = 2
	recs := []model.RecommendationRow{
		{CustomerID: "C1", RecommendedProduct: "P1", Score: 0.9, Rank: 1},
		{CustomerID: "C1", RecommendedProduct: "P2", Score: 0.8, Rank: 2},
		{CustomerID: "C1", RecommendedProduct: "P3", Score: 0.7, Rank: 3},
	}
	fb := []model.FeedbackRow{
		{CustomerID: "C1", ProductID: "P3", Rating: model.RatingMedium, FeedbackDate: refDate},
	}
	out, _ := feedback.Calibrate(recs, fb, refDate, cfg)

	require.Len(t, out, 2, "TOP_K cap must be reapplied after calibration")
	assert.Equal(t, 1, out[0].Rank)
	assert.Equal(t, 2, out[1].Rank)
}
