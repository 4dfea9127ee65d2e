package ranking_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iaros/recommend-engine/internal/config"
	"github.com/iaros/recommend-engine/internal/model"
	"github.com/iaros/recommend-engine/internal/pipelineerr"
	"github.com/iaros/recommend-engine/internal/ranking"
)

func TestRankRecommendsAssociationDrivenProduct(t *testing.T) {
	cfg := config.Default()
	basketRows := []model.BasketRow{
		{CustomerID: "C1", ProductID: "P1", TotalQuantity: 20, PurchaseFrequency: 4, RecencyDays: 10, L2Category: "Valves", L3Category: "Ball", Segment: "West_Plumbing", InStock: true},
		{CustomerID: "C1", ProductID: "P2", TotalQuantity: 5, PurchaseFrequency: 1, RecencyDays: 5, L2Category: "Fittings", L3Category: "Elbow", Segment: "West_Plumbing", InStock: true},
		{CustomerID: "C2", ProductID: "P3", TotalQuantity: 10, PurchaseFrequency: 2, RecencyDays: 3, L2Category: "Valves", L3Category: "Gate", Segment: "West_Plumbing", InStock: true},
	}
	assignments := []model.ClusterAssignment{
		{CustomerID: "C1", Segment: "West_Plumbing", ClusterID: "West_Plumbing_0"},
		{CustomerID: "C2", Segment: "West_Plumbing", ClusterID: "West_Plumbing_0"},
	}
	rules := []model.AssociationRule{
		{Segment: "West_Plumbing", ClusterID: "West_Plumbing_0", ProductA: "P1", ProductB: "P3", Support: 0.5, Confidence: 0.9, Lift: 2.0, WeightedSupport: 0.5},
	}

	recs, err := ranking.Rank(basketRows, assignments, rules, cfg)
	require.NoError(t, err)

	var c1Recs []model.RecommendationRow
	for _, r := range recs {
		if r.CustomerID == "C1" {
			c1Recs = append(c1Recs, r)
		}
	}
	require.NotEmpty(t, c1Recs)
	top := c1Recs[0]
	assert.Equal(t, "P3", top.RecommendedProduct)
	assert.Equal(t, "P1", top.TriggerProduct, "trigger product must be something the customer actually purchased")
	assert.Equal(t, 1, top.Rank)
	assert.Equal(t, 5, top.RecommendedQty, "median per-order quantity for P1 is 20/4 = 5")
}

func TestRankNeverRecommendsAlreadyPurchasedProducts(t *testing.T) {
	cfg := config.Default()
	basketRows := []model.BasketRow{
		{CustomerID: "C1", ProductID: "P1", TotalQuantity: 10, PurchaseFrequency: 2, L2Category: "Valves", Segment: "West_Plumbing", InStock: true},
		{CustomerID: "C1", ProductID: "P3", TotalQuantity: 10, PurchaseFrequency: 2, L2Category: "Valves", Segment: "West_Plumbing", InStock: true},
	}
	assignments := []model.ClusterAssignment{{CustomerID: "C1", Segment: "West_Plumbing", ClusterID: "West_Plumbing_0"}}
	rules := []model.AssociationRule{
		{Segment: "West_Plumbing", ClusterID: "West_Plumbing_0", ProductA: "P1", ProductB: "P3", Support: 0.5, Confidence: 0.9, Lift: 2.0, WeightedSupport: 0.5},
	}

	recs, err := ranking.Rank(basketRows, assignments, rules, cfg)
	require.NoError(t, err)
	for _, r := range recs {
		assert.NotEqual(t, "P3", r.RecommendedProduct, "P3 was already purchased by C1 and must never be recommended to them")
	}
}

func TestRankNeverRecommendsOutOfStockProducts(t *testing.T) {
	cfg := config.Default()
	basketRows := []model.BasketRow{
		{CustomerID: "C1", ProductID: "P1", TotalQuantity: 10, PurchaseFrequency: 2, L2Category: "Valves", Segment: "West_Plumbing", InStock: true},
		{CustomerID: "C2", ProductID: "P3", TotalQuantity: 10, PurchaseFrequency: 2, L2Category: "Valves", Segment: "West_Plumbing", InStock: false},
	}
	assignments := []model.ClusterAssignment{
		{CustomerID: "C1", Segment: "West_Plumbing", ClusterID: "West_Plumbing_0"},
		{CustomerID: "C2", Segment: "West_Plumbing", ClusterID: "West_Plumbing_0"},
	}
	rules := []model.AssociationRule{
		{Segment: "West_Plumbing", ClusterID: "West_Plumbing_0", ProductA: "P1", ProductB: "P3", Support: 0.5, Confidence: 0.9, Lift: 2.0, WeightedSupport: 0.5},
	}

	recs, err := ranking.Rank(basketRows, assignments, rules, cfg)
	require.NoError(t, err)
	for _, r := range recs {
		assert.NotEqual(t, "P3", r.RecommendedProduct, "out of stock products must never be recommended")
	}
}

func TestRankFallsBackToCategoryPopularityWithNoQualifyingRules(t *testing.T) {
	cfg := config.Default()
	basketRows := []model.BasketRow{
		{CustomerID: "C1", ProductID: "P1", TotalQuantity: 10, PurchaseFrequency: 2, L2Category: "Valves", Segment: "West_Plumbing", InStock: true},
		{CustomerID: "C2", ProductID: "P2", TotalQuantity: 10, PurchaseFrequency: 2, L2Category: "Fittings", Segment: "West_Plumbing", InStock: true},
	}
	assignments := []model.ClusterAssignment{
		{CustomerID: "C1", Segment: "West_Plumbing", ClusterID: "West_Plumbing_0"},
		{CustomerID: "C2", Segment: "West_Plumbing", ClusterID: "West_Plumbing_1"},
	}

	recs, err := ranking.Rank(basketRows, assignments, nil, cfg)
	require.NoError(t, err)
	var c1Recs []model.RecommendationRow
	for _, r := range recs {
		if r.CustomerID == "C1" {
			c1Recs = append(c1Recs, r)
		}
	}
	require.NotEmpty(t, c1Recs)
	assert.Equal(t, "fallback", c1Recs[0].TriggerProduct)
	assert.Equal(t, "P2", c1Recs[0].RecommendedProduct)
}

func TestRankProducesContiguousRanksWithNoGapsOrTies(t *testing.T) {
	cfg := config.Default()
	cfg.TopK = 3
	basketRows := []model.BasketRow{
		{CustomerID: "C1", ProductID: "P1", TotalQuantity: 10, PurchaseFrequency: 1, L2Category: "Valves", Segment: "S", InStock: true},
	}
	for i, other := range []string{"P2", "P3", "P4", "P5"} {
		basketRows = append(basketRows, model.BasketRow{CustomerID: "C2", ProductID: other, TotalQuantity: 10 - i, PurchaseFrequency: 1, L2Category: "Valves", Segment: "S", InStock: true})
	}
	assignments := []model.ClusterAssignment{
		{CustomerID: "C1", Segment: "S", ClusterID: "S_0"},
		{CustomerID: "C2", Segment: "S", ClusterID: "S_1"},
	}

	recs, err := ranking.Rank(basketRows, assignments, nil, cfg)
	require.NoError(t, err)
	var ranks []int
	for _, r := range recs {
		if r.CustomerID == "C1" {
			ranks = append(ranks, r.Rank)
		}
	}
	require.LessOrEqual(t, len(ranks), cfg.TopK)
	for i, rank := range ranks {
		assert.Equal(t, i+1, rank, "ranks must be contiguous starting at 1 with no gaps or ties")
	}
}

func TestRankRejectsRuleTableWithPairFreqExceedingProductFreq(t *testing.T) {
	cfg := config.Default()
	basketRows := []model.BasketRow{
		{CustomerID: "C1", ProductID: "P1", TotalQuantity: 10, PurchaseFrequency: 2, L2Category: "Valves", Segment: "West_Plumbing", InStock: true},
	}
	assignments := []model.ClusterAssignment{{CustomerID: "C1", Segment: "West_Plumbing", ClusterID: "West_Plumbing_0"}}
	rules := []model.AssociationRule{
		{
			Segment: "West_Plumbing", ClusterID: "West_Plumbing_0", ProductA: "P1", ProductB: "P3",
			PairFreq: 10, ProductFreqA: 5, TotalBaskets: 20,
			Support: 0.5, Confidence: 0.9, Lift: 2.0, WeightedSupport: 0.5,
		},
	}

	recs, err := ranking.Rank(basketRows, assignments, rules, cfg)

	require.Error(t, err, "a fabricated rule with pair_freq > product_freq must be refused, not silently ranked")
	assert.Nil(t, recs)
	var stageErr *pipelineerr.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, pipelineerr.Invariant, stageErr.Type)
	assert.Contains(t, stageErr.Message, "P1")
	assert.Contains(t, stageErr.Message, "P3")
}
