// Package ranking turns association rules into per-customer ranked
// recommendations (S4): rule filtering, composite scoring, the L3
// affinity tiebreak, quantity estimation, and the category-aware
// popularity fallback for customers with too few qualifying rules.
// Grounded on the platform's scoring-and-ranking shape in
// recommendation_engine.go (RuleBasedRecommendationEngine's "score,
// then sort, then take top N" structure), generalized to this
// system's weighted composite score.
package ranking

import (
	"fmt"
	"math"
	"sort"

	"github.com/iaros/recommend-engine/internal/config"
	"github.com/iaros/recommend-engine/internal/model"
	"github.com/iaros/recommend-engine/internal/pipelineerr"
)

const stageName = "ranking"

// customerProfile is precomputed once per customer to avoid repeated
// basket scans while scoring every rule candidate.
type customerProfile struct {
	purchased       map[string]bool
	meanRecencyDays float64
	l2Share         map[string]float64 // this customer's share of purchases in each L2 category
	l3Share         map[string]float64
	quantityByPair  map[string][]float64 // product_id -> per-order quantities
}

// Rank produces up to TOP_K recommendations for every customer present
// in the basket table. Input rules are validated against the
// pair_freq <= product_freq <= total_baskets invariant before any
// scoring happens — a corrupt rule table must never flow through.
func Rank(basketRows []model.BasketRow, assignments []model.ClusterAssignment, rules []model.AssociationRule, cfg *config.Config) ([]model.RecommendationRow, error) {
	if err := validateRules(rules); err != nil {
		return nil, err
	}

	profiles := buildProfiles(basketRows)
	assignByCustomer := make(map[string]model.ClusterAssignment, len(assignments))
	for _, a := range assignments {
		assignByCustomer[a.CustomerID] = a
	}

	type ruleKey struct{ segment, clusterID string }
	rulesByCluster := make(map[ruleKey][]model.AssociationRule)
	for _, r := range rules {
		k := ruleKey{r.Segment, r.ClusterID}
		rulesByCluster[k] = append(rulesByCluster[k], r)
	}

	inStockByProduct := make(map[string]bool)
	segmentPopularity := make(map[string]map[string]int) // segment -> product -> distinct purchasing customers
	l2ByProduct := make(map[string]string)
	l3ByProduct := make(map[string]string)
	for _, r := range basketRows {
		inStockByProduct[r.ProductID] = r.InStock
		l2ByProduct[r.ProductID] = r.L2Category
		l3ByProduct[r.ProductID] = r.L3Category
		if segmentPopularity[r.Segment] == nil {
			segmentPopularity[r.Segment] = make(map[string]int)
		}
		segmentPopularity[r.Segment][r.ProductID]++
	}

	customerIDs := make([]string, 0, len(profiles))
	for c := range profiles {
		customerIDs = append(customerIDs, c)
	}
	sort.Strings(customerIDs)

	var out []model.RecommendationRow
	for _, custID := range customerIDs {
		profile := profiles[custID]
		assignment, ok := assignByCustomer[custID]
		if !ok {
			continue
		}
		key := ruleKey{assignment.Segment, assignment.ClusterID}

		candidates := make(map[string]model.RecommendationRow)
		for _, rule := range rulesByCluster[key] {
			if profile.purchased[rule.ProductB] {
				continue
			}
			if !profile.purchased[rule.ProductA] {
				continue
			}
			if !inStockByProduct[rule.ProductB] {
				continue
			}
			if rule.Support < cfg.MinSupport || rule.Confidence < cfg.MinConfidence || rule.Lift < cfg.MinLift {
				continue
			}

			score := compositeScore(rule, profile, cfg)
			score += l3Bonus(rule.ProductB, profile, l3ByProduct, cfg)

			row := model.RecommendationRow{
				CustomerID: custID, RecommendedProduct: rule.ProductB, TriggerProduct: rule.ProductA,
				ClusterID: assignment.ClusterID, Segment: assignment.Segment,
				L2Category: l2ByProduct[rule.ProductB], L3Category: l3ByProduct[rule.ProductB],
				Support: rule.Support, Confidence: rule.Confidence, Lift: rule.Lift,
				Score: score, RecommendedQty: estimateQuantity(profile, rule.ProductA),
				Reason: "frequently_bought_with:" + rule.ProductA,
			}
			if existing, exists := candidates[rule.ProductB]; !exists || row.Score > existing.Score {
				candidates[rule.ProductB] = row
			}
		}

		if len(candidates) < cfg.TopK {
			fallbackCandidates := categoryFallback(custID, profile, assignment.Segment, segmentPopularity[assignment.Segment], inStockByProduct, l2ByProduct, l3ByProduct, candidates, cfg)
			for _, fc := range fallbackCandidates {
				if len(candidates) >= cfg.TopK*3 {
					break
				}
				if _, exists := candidates[fc.RecommendedProduct]; !exists {
					candidates[fc.RecommendedProduct] = fc
				}
			}
		}

		ranked := make([]model.RecommendationRow, 0, len(candidates))
		for _, c := range candidates {
			ranked = append(ranked, c)
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Score > ranked[j].Score
		})
		if len(ranked) > cfg.TopK {
			ranked = ranked[:cfg.TopK]
		}
		for i := range ranked {
			ranked[i].Rank = i + 1
		}
		out = append(out, ranked...)
	}
	return out, nil
}

// validateRules re-checks the pair_freq <= product_freq <=
// total_baskets invariant (spec.md §3/§8) on every incoming rule. This
// guards the stage boundary independently of associations.Mine's own
// check, since S4 may consume a rule table produced or tampered with
// outside this pipeline's own S3 run.
func validateRules(rules []model.AssociationRule) error {
	for _, r := range rules {
		if r.PairFreq > r.ProductFreqA || r.ProductFreqA > r.TotalBaskets || r.Confidence > 1 || r.Support > 1 {
			return pipelineerr.NewInvariantError(stageName,
				fmt.Sprintf("association rule %s -> %s violates pair_freq <= product_freq <= total_baskets (pair_freq=%d, product_freq=%d, total_baskets=%d)",
					r.ProductA, r.ProductB, r.PairFreq, r.ProductFreqA, r.TotalBaskets),
				1)
		}
	}
	return nil
}

func compositeScore(rule model.AssociationRule, profile customerProfile, cfg *config.Config) float64 {
	w := cfg.ScoringWeights
	sum := w.Confidence + w.Support + w.Lift + w.Recency
	if math.Abs(sum-1.0) > 1e-6 && sum > 0 {
		w = config.ScoringWeights{
			Confidence: w.Confidence / sum, Support: w.Support / sum,
			Lift: w.Lift / sum, Recency: w.Recency / sum,
		}
	}

	recencyScore := 1 / (1 + profile.meanRecencyDays)
	liftContribution := clip((rule.Lift-1)/(cfg.MaxLiftNormalise-1), 0, 1)

	return w.Confidence*rule.Confidence + w.Support*rule.WeightedSupport + w.Lift*liftContribution + w.Recency*recencyScore
}

func l3Bonus(product string, profile customerProfile, l3ByProduct map[string]string, cfg *config.Config) float64 {
	l3 := l3ByProduct[product]
	share, ok := profile.l3Share[l3]
	if !ok {
		return 0
	}
	topThreshold := topL3Threshold(profile.l3Share)
	if share < topThreshold {
		return 0
	}
	return share * cfg.L3TiebreakMargin
}

// topL3Threshold treats the top three L3 categories by share as the
// customer's "top" categories by purchase frequency share.
func topL3Threshold(shares map[string]float64) float64 {
	if len(shares) == 0 {
		return math.Inf(1)
	}
	vals := make([]float64, 0, len(shares))
	for _, v := range shares {
		vals = append(vals, v)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(vals)))
	idx := 2
	if idx >= len(vals) {
		idx = len(vals) - 1
	}
	return vals[idx]
}

func clip(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func estimateQuantity(profile customerProfile, triggerProduct string) int {
	qtys, ok := profile.quantityByPair[triggerProduct]
	if !ok || len(qtys) == 0 {
		return 1
	}
	sorted := append([]float64(nil), qtys...)
	sort.Float64s(sorted)
	n := len(sorted)
	var med float64
	if n%2 == 1 {
		med = sorted[n/2]
	} else {
		med = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	q := int(math.Round(med))
	if q < 1 {
		return 1
	}
	return q
}

func categoryFallback(custID string, profile customerProfile, segment string, popularity map[string]int, inStockByProduct map[string]bool, l2ByProduct, l3ByProduct map[string]string, existing map[string]model.RecommendationRow, cfg *config.Config) []model.RecommendationRow {
	type candidate struct {
		product  string
		affinity float64
		pop      int
	}
	var candidates []candidate
	for product, pop := range popularity {
		if profile.purchased[product] || !inStockByProduct[product] {
			continue
		}
		if _, already := existing[product]; already {
			continue
		}
		l2 := l2ByProduct[product]
		affinity := profile.l2Share[l2]
		candidates = append(candidates, candidate{product, affinity, pop})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].affinity != candidates[j].affinity {
			return candidates[i].affinity > candidates[j].affinity
		}
		return candidates[i].pop > candidates[j].pop
	})

	out := make([]model.RecommendationRow, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, model.RecommendationRow{
			CustomerID: custID, RecommendedProduct: c.product, TriggerProduct: "fallback",
			Segment: segment, L2Category: l2ByProduct[c.product], L3Category: l3ByProduct[c.product],
			Support: 0, Confidence: 0, Lift: 0,
			Score: 0.1 + c.affinity, RecommendedQty: 1,
			Reason: "category_popularity_fallback",
		})
	}
	return out
}

func buildProfiles(rows []model.BasketRow) map[string]customerProfile {
	type accum struct {
		purchased      map[string]bool
		recencyDays    []int
		l2Qty          map[string]int
		l3Qty          map[string]int
		totalQty       int
		quantityByPair map[string][]float64
	}
	byCust := make(map[string]*accum)
	for _, r := range rows {
		a, ok := byCust[r.CustomerID]
		if !ok {
			a = &accum{
				purchased: make(map[string]bool), l2Qty: make(map[string]int),
				l3Qty: make(map[string]int), quantityByPair: make(map[string][]float64),
			}
			byCust[r.CustomerID] = a
		}
		a.purchased[r.ProductID] = true
		a.recencyDays = append(a.recencyDays, r.RecencyDays)
		a.l2Qty[r.L2Category] += r.TotalQuantity
		a.l3Qty[r.L3Category] += r.TotalQuantity
		a.totalQty += r.TotalQuantity

		perOrder := float64(r.TotalQuantity) / math.Max(1, float64(r.PurchaseFrequency))
		a.quantityByPair[r.ProductID] = append(a.quantityByPair[r.ProductID], perOrder)
	}

	out := make(map[string]customerProfile, len(byCust))
	for cust, a := range byCust {
		var meanRecency float64
		for _, d := range a.recencyDays {
			meanRecency += float64(d)
		}
		if len(a.recencyDays) > 0 {
			meanRecency /= float64(len(a.recencyDays))
		}

		l2Share := make(map[string]float64, len(a.l2Qty))
		l3Share := make(map[string]float64, len(a.l3Qty))
		if a.totalQty > 0 {
			for k, v := range a.l2Qty {
				l2Share[k] = float64(v) / float64(a.totalQty)
			}
			for k, v := range a.l3Qty {
				l3Share[k] = float64(v) / float64(a.totalQty)
			}
		}

		out[cust] = customerProfile{
			purchased: a.purchased, meanRecencyDays: meanRecency,
			l2Share: l2Share, l3Share: l3Share, quantityByPair: a.quantityByPair,
		}
	}
	return out
}
