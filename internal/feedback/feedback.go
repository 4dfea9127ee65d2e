// Package feedback recalibrates recommendation scores with
// account-manager feedback from prior cycles (S5), and computes the
// structured feedback summary that the next cycle reads to auto-tune
// thresholds. Grounded on the platform's CustomerIntelligenceEngine
// orchestration (customer_intelligence_engine.go), which resolves a
// weighted signal onto a base value and republishes a derived
// artifact in the same shape.
package feedback

import (
	"sort"
	"time"

	"github.com/iaros/recommend-engine/internal/config"
	"github.com/iaros/recommend-engine/internal/model"
)

// Summary is the published feedback_summary.json document.
type Summary struct {
	Overall                AcceptanceStats            `json:"overall"`
	BySegment              map[string]AcceptanceStats `json:"by_segment"`
	ByL2Category           map[string]AcceptanceStats `json:"by_l2_category"`
	ReasonCodeCounts       map[string]int             `json:"reason_code_distribution"`
	SuggestedMinConfidence float64                    `json:"suggested_min_confidence"`
	SuggestedScoreCutoff   float64                    `json:"suggested_score_cutoff"`
	ThresholdAction        string                     `json:"threshold_action"`
}

// AcceptanceStats is the acceptance-rate breakdown at some grouping level.
type AcceptanceStats struct {
	TotalFeedback  int     `json:"total_feedback"`
	AcceptedCount  int     `json:"accepted_count"`
	AcceptanceRate float64 `json:"acceptance_rate"`
}

// Calibrate dedups and filters feedback, joins resolved weights onto
// recommendations, rescoes and re-ranks within TOP_K, and produces the
// feedback summary. Missing/empty feedback is never an error — the
// input recommendations pass through unchanged.
func Calibrate(recs []model.RecommendationRow, feedbackRows []model.FeedbackRow, refDate time.Time, cfg *config.Config) ([]model.RecommendationRow, *Summary) {
	deduped := dedupeByMostRecent(feedbackRows)

	cutoff := refDate.AddDate(0, 0, -cfg.FeedbackRecencyDays)
	var recent []model.FeedbackRow
	for _, f := range deduped {
		if f.FeedbackDate.IsZero() || !f.FeedbackDate.Before(cutoff) {
			recent = append(recent, f)
		}
	}

	summary := buildSummary(recent, recs, cfg)

	if len(recent) == 0 {
		return recs, summary
	}

	weightByPair := make(map[string]float64, len(recent))
	for _, f := range recent {
		weightByPair[f.CustomerID+"|"+f.ProductID] = resolveWeight(f, cfg)
	}

	byCustomer := make(map[string][]model.RecommendationRow)
	var customerOrder []string
	for _, r := range recs {
		weight := 1.0
		if w, ok := weightByPair[r.CustomerID+"|"+r.RecommendedProduct]; ok {
			weight = w
		}
		r.Score = r.Score * weight
		if r.Score < cfg.ScoreCutoff {
			continue
		}
		if _, exists := byCustomer[r.CustomerID]; !exists {
			customerOrder = append(customerOrder, r.CustomerID)
		}
		byCustomer[r.CustomerID] = append(byCustomer[r.CustomerID], r)
	}

	sort.Strings(customerOrder)
	var out []model.RecommendationRow
	for _, cust := range customerOrder {
		rows := byCustomer[cust]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Score > rows[j].Score })
		if len(rows) > cfg.TopK {
			rows = rows[:cfg.TopK]
		}
		for i := range rows {
			rows[i].Rank = i + 1
		}
		out = append(out, rows...)
	}
	return out, summary
}

// dedupeByMostRecent keeps one row per (customer, product), preferring
// the row with the latest feedback_date.
func dedupeByMostRecent(rows []model.FeedbackRow) []model.FeedbackRow {
	best := make(map[string]model.FeedbackRow)
	for _, r := range rows {
		key := r.CustomerID + "|" + r.ProductID
		existing, ok := best[key]
		if !ok || r.FeedbackDate.After(existing.FeedbackDate) {
			best[key] = r
		}
	}
	out := make([]model.FeedbackRow, 0, len(best))
	for _, v := range best {
		out = append(out, v)
	}
	return out
}

// resolveWeight implements the rating/sentiment/reason_code weight
// table.
func resolveWeight(f model.FeedbackRow, cfg *config.Config) float64 {
	w := cfg.FeedbackWeights
	switch f.Rating {
	case model.RatingHigh:
		return w.High
	case model.RatingLow:
		return w.Low
	case model.RatingMedium:
		switch f.Sentiment {
		case model.SentimentPositive:
			return w.MediumPos
		case model.SentimentNegative:
			return w.MediumNeg
		}
		if config.KnownNegativeReasonCodes[f.ReasonCode] {
			return w.MediumNeg
		}
		if config.KnownPositiveReasonCodes[f.ReasonCode] {
			return w.MediumPos
		}
		return w.MediumPos
	default:
		return 1.0
	}
}

func isAccepted(f model.FeedbackRow, cfg *config.Config) bool {
	return resolveWeight(f, cfg) >= cfg.FeedbackWeights.MediumPos
}

func buildSummary(recent []model.FeedbackRow, recs []model.RecommendationRow, cfg *config.Config) *Summary {
	l2ByPair := make(map[string]string, len(recs))
	segmentByCustomer := make(map[string]string, len(recs))
	for _, r := range recs {
		l2ByPair[r.CustomerID+"|"+r.RecommendedProduct] = r.L2Category
		segmentByCustomer[r.CustomerID] = r.Segment
	}

	overall := AcceptanceStats{}
	bySegment := make(map[string]AcceptanceStats)
	byL2 := make(map[string]AcceptanceStats)
	reasonCodes := make(map[string]int)

	for _, f := range recent {
		overall.TotalFeedback++
		accepted := isAccepted(f, cfg)
		if accepted {
			overall.AcceptedCount++
		}
		if f.ReasonCode != "" {
			reasonCodes[f.ReasonCode]++
		}

		if seg, ok := segmentByCustomer[f.CustomerID]; ok {
			s := bySegment[seg]
			s.TotalFeedback++
			if accepted {
				s.AcceptedCount++
			}
			bySegment[seg] = s
		}
		if l2, ok := l2ByPair[f.CustomerID+"|"+f.ProductID]; ok {
			s := byL2[l2]
			s.TotalFeedback++
			if accepted {
				s.AcceptedCount++
			}
			byL2[l2] = s
		}
	}

	finalizeRate(&overall)
	for k, v := range bySegment {
		finalizeRate(&v)
		bySegment[k] = v
	}
	for k, v := range byL2 {
		finalizeRate(&v)
		byL2[k] = v
	}

	summary := &Summary{
		Overall: overall, BySegment: bySegment, ByL2Category: byL2, ReasonCodeCounts: reasonCodes,
		SuggestedMinConfidence: cfg.MinConfidence, SuggestedScoreCutoff: cfg.ScoreCutoff,
		ThresholdAction: "hold",
	}

	if overall.TotalFeedback == 0 {
		return summary
	}
	switch {
	case overall.AcceptanceRate < cfg.AcceptanceLowBand:
		summary.ThresholdAction = "tighten"
		summary.SuggestedMinConfidence = cfg.MinConfidence * 1.2
		summary.SuggestedScoreCutoff = cfg.ScoreCutoff * 1.2
	case overall.AcceptanceRate > cfg.AcceptanceHighBand:
		summary.ThresholdAction = "loosen"
		summary.SuggestedMinConfidence = cfg.MinConfidence * 0.8
		summary.SuggestedScoreCutoff = cfg.ScoreCutoff * 0.8
	}
	return summary
}

func finalizeRate(s *AcceptanceStats) {
	if s.TotalFeedback == 0 {
		return
	}
	s.AcceptanceRate = float64(s.AcceptedCount) / float64(s.TotalFeedback)
}
