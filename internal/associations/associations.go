// Package associations mines directed product co-occurrence rules
// within each (segment, cluster) pair (S3). Basket sessionization is
// the load-bearing subroutine here: a bug in global_basket_id
// construction silently produces confidence > 1, which is why it is
// isolated in its own function and covered by dedicated tests.
// Grounded on the platform's TrendAnalyzer/RFMAnalyzer pairing
// (segmentation_engine.go) for the "gap-based session, then aggregate"
// shape; the pair-metric arithmetic itself is new, since no sibling
// service in the platform mines association rules.
package associations

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/iaros/recommend-engine/internal/config"
	"github.com/iaros/recommend-engine/internal/logging"
	"github.com/iaros/recommend-engine/internal/model"
	"github.com/iaros/recommend-engine/internal/pipelineerr"
)

const stageName = "associations"

// Basket is one sessionized purchase event: a set of distinct products
// bought by a customer within a WINDOW_DAYS gap of each other.
type Basket struct {
	GlobalBasketID string
	CustomerID     string
	ClusterID      string
	Segment        string
	Date           time.Time
	Products       []string
}

// Sessionize groups invoice lines into baskets. lines
// must already be joined to a (cluster_id, segment) via assignments.
func Sessionize(lines []model.InvoiceLine, assignments map[string]model.ClusterAssignment, windowDays int) []Basket {
	byCustomer := make(map[string][]model.InvoiceLine)
	for _, ln := range lines {
		if _, ok := assignments[ln.CustomerID]; !ok {
			continue
		}
		byCustomer[ln.CustomerID] = append(byCustomer[ln.CustomerID], ln)
	}

	effectiveWindow := float64(windowDays)
	if windowDays == 0 {
		effectiveWindow = adaptiveWindow(byCustomer)
	}

	customerIDs := make([]string, 0, len(byCustomer))
	for c := range byCustomer {
		customerIDs = append(customerIDs, c)
	}
	sort.Strings(customerIDs)

	var baskets []Basket
	for _, cust := range customerIDs {
		custLines := byCustomer[cust]
		sort.SliceStable(custLines, func(i, j int) bool {
			return custLines[i].InvoiceDate.Before(custLines[j].InvoiceDate)
		})

		assignment := assignments[cust]
		sessionIdx := 0
		var sessionLines []model.InvoiceLine
		flush := func() {
			if len(sessionLines) == 0 {
				return
			}
			products := distinctProducts(sessionLines)
			baskets = append(baskets, Basket{
				GlobalBasketID: cust + "_" + strconv.Itoa(sessionIdx),
				CustomerID:     cust,
				ClusterID:      assignment.ClusterID,
				Segment:        assignment.Segment,
				Date:           sessionLines[len(sessionLines)-1].InvoiceDate,
				Products:       products,
			})
			sessionIdx++
		}

		for i, ln := range custLines {
			if i == 0 {
				sessionLines = []model.InvoiceLine{ln}
				continue
			}
			gapDays := ln.InvoiceDate.Sub(custLines[i-1].InvoiceDate).Hours() / 24
			if gapDays > effectiveWindow {
				flush()
				sessionLines = []model.InvoiceLine{ln}
				continue
			}
			sessionLines = append(sessionLines, ln)
		}
		flush()
	}
	return baskets
}

func distinctProducts(lines []model.InvoiceLine) []string {
	seen := make(map[string]bool)
	var out []string
	for _, ln := range lines {
		if !seen[ln.ProductID] {
			seen[ln.ProductID] = true
			out = append(out, ln.ProductID)
		}
	}
	sort.Strings(out)
	return out
}

// adaptiveWindow computes the dataset-wide median of each customer's
// median inter-purchase gap, clamped to [7, 90] days.
func adaptiveWindow(byCustomer map[string][]model.InvoiceLine) float64 {
	var medians []float64
	for _, lines := range byCustomer {
		if len(lines) < 2 {
			continue
		}
		sorted := append([]model.InvoiceLine(nil), lines...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].InvoiceDate.Before(sorted[j].InvoiceDate) })
		var gaps []float64
		for i := 1; i < len(sorted); i++ {
			gaps = append(gaps, sorted[i].InvoiceDate.Sub(sorted[i-1].InvoiceDate).Hours()/24)
		}
		medians = append(medians, median(gaps))
	}
	if len(medians) == 0 {
		return 30
	}
	m := median(medians)
	if m < 7 {
		return 7
	}
	if m > 90 {
		return 90
	}
	return m
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Mine computes association rules per (segment, cluster) from a set of
// sessionized baskets, applying the full filtering pipeline.
func Mine(baskets []Basket, refDate time.Time, cfg *config.Config, log *logging.Logger) ([]model.AssociationRule, error) {
	if len(baskets) == 0 {
		return nil, pipelineerr.NewDataQualityError(stageName, "no baskets produced by sessionization", "check WINDOW_DAYS and invoice coverage", 0)
	}

	type clusterKey struct{ segment, clusterID string }
	byCluster := make(map[clusterKey][]Basket)
	for _, b := range baskets {
		k := clusterKey{b.Segment, b.ClusterID}
		byCluster[k] = append(byCluster[k], b)
	}

	var rules []model.AssociationRule
	for key, clusterBaskets := range byCluster {
		clusterRules, err := mineCluster(key.segment, key.clusterID, clusterBaskets, refDate, cfg)
		if err != nil {
			return nil, err
		}
		rules = append(rules, clusterRules...)
	}

	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Segment != rules[j].Segment {
			return rules[i].Segment < rules[j].Segment
		}
		if rules[i].ClusterID != rules[j].ClusterID {
			return rules[i].ClusterID < rules[j].ClusterID
		}
		if rules[i].ProductA != rules[j].ProductA {
			return rules[i].ProductA < rules[j].ProductA
		}
		return rules[i].ProductB < rules[j].ProductB
	})
	return rules, nil
}

func mineCluster(segment, clusterID string, baskets []Basket, refDate time.Time, cfg *config.Config) ([]model.AssociationRule, error) {
	totalBaskets := len(baskets)

	pairFreq := make(map[[2]string]int)
	weightedPairFreq := make(map[[2]string]float64)
	productFreq := make(map[string]int)

	for _, b := range baskets {
		ageDays := refDate.Sub(b.Date).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		weight := math.Exp(-cfg.DecayLambda * ageDays)

		for _, p := range b.Products {
			productFreq[p]++
		}
		if len(b.Products) < 2 {
			continue
		}
		for _, a := range b.Products {
			for _, bProd := range b.Products {
				if a == bProd {
					continue
				}
				key := [2]string{a, bProd}
				pairFreq[key]++
				weightedPairFreq[key] += weight
			}
		}
	}

	floorFn := func() int {
		proportional := int(math.Ceil(cfg.MinFreqRatio * float64(totalBaskets)))
		if cfg.MinAbsFreq > proportional {
			return cfg.MinAbsFreq
		}
		return proportional
	}
	floor := floorFn()

	var out []model.AssociationRule
	for key, pf := range pairFreq {
		a, b := key[0], key[1]
		freqA := productFreq[a]
		freqB := productFreq[b]

		if freqA < floor {
			continue
		}

		confidence := 0.0
		if freqA > 0 {
			confidence = float64(pf) / float64(freqA)
		}
		support := 0.0
		if totalBaskets > 0 {
			support = float64(pf) / float64(totalBaskets)
		}
		weightedSupport := 0.0
		if totalBaskets > 0 {
			weightedSupport = weightedPairFreq[key] / float64(totalBaskets)
		}
		lift := 0.0
		if totalBaskets > 0 && freqB > 0 {
			probB := float64(freqB) / float64(totalBaskets)
			if probB > 0 {
				lift = confidence / probB
			}
		}

		if lift < cfg.MinLift {
			continue
		}

		if confidence > 1 || support > 1 || pf > freqA || freqA > totalBaskets {
			return nil, pipelineerr.NewInvariantError(stageName,
				"confidence/support exceeded 1.0 or pair_freq > product_freq > total_baskets", 1)
		}

		out = append(out, model.AssociationRule{
			Segment: segment, ClusterID: clusterID,
			ProductA: a, ProductB: b,
			PairFreq: pf, WeightedPairFreq: weightedPairFreq[key],
			ProductFreqA: freqA, ProductFreqB: freqB, TotalBaskets: totalBaskets,
			Confidence: confidence, Support: support, WeightedSupport: weightedSupport, Lift: lift,
		})
	}
	return out, nil
}
