package associations_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iaros/recommend-engine/internal/associations"
	"github.com/iaros/recommend-engine/internal/config"
	"github.com/iaros/recommend-engine/internal/logging"
	"github.com/iaros/recommend-engine/internal/model"
)

func testLogger() *logging.Logger { return logging.New("associations-test") }

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func line(cust, prod string, d time.Time) model.InvoiceLine {
	return model.InvoiceLine{CustomerID: cust, ProductID: prod, InvoiceDate: d, Quantity: 1, LineTotal: decimal.NewFromFloat(10)}
}

func assignment(cust, segment, clusterID string) model.ClusterAssignment {
	return model.ClusterAssignment{CustomerID: cust, Segment: segment, ClusterID: clusterID}
}

// Invoices on days 1, 40, 80 (gaps of 39 and 40 days) with WINDOW_DAYS=0
// produce a median gap of 39.5, already inside [7,90], so day 40 stays in
// the first basket (39 does not exceed the window) and day 80 starts a
// second one (40 does): two baskets are produced, not three.
func TestAdaptiveWindowProducesTwoBasketsNotThree(t *testing.T) {
	lines := []model.InvoiceLine{
		line("C1", "P1", day(1)),
		line("C1", "P2", day(40)),
		line("C1", "P3", day(80)),
	}
	assignments := map[string]model.ClusterAssignment{"C1": assignment("C1", "West_Plumbing", "West_Plumbing_0")}

	baskets := associations.Sessionize(lines, assignments, 0)
	require.Len(t, baskets, 2)
	assert.ElementsMatch(t, []string{"P1", "P2"}, baskets[0].Products)
	assert.ElementsMatch(t, []string{"P3"}, baskets[1].Products)
}

func TestSessionizeSkipsCustomersWithoutAnAssignment(t *testing.T) {
	lines := []model.InvoiceLine{line("C1", "P1", day(1))}
	baskets := associations.Sessionize(lines, map[string]model.ClusterAssignment{}, 30)
	assert.Empty(t, baskets)
}

func TestGlobalBasketIDIsPrefixedByCustomer(t *testing.T) {
	lines := []model.InvoiceLine{
		line("C1", "P1", day(1)),
		line("C2", "P1", day(1)),
	}
	assignments := map[string]model.ClusterAssignment{
		"C1": assignment("C1", "West_Plumbing", "West_Plumbing_0"),
		"C2": assignment("C2", "West_Plumbing", "West_Plumbing_0"),
	}
	baskets := associations.Sessionize(lines, assignments, 30)
	require.Len(t, baskets, 2)
	ids := map[string]bool{baskets[0].GlobalBasketID: true, baskets[1].GlobalBasketID: true}
	assert.True(t, ids["C1_0"])
	assert.True(t, ids["C2_0"])
}

// Two customers each buying X and Y together in a single basket yields
// confidence 1.0 both directions but lift == total_baskets/product_freq
// == 2/2 == 1.0, filtered out by the default MIN_LIFT of 1.2.
func TestTrivialCoOccurrenceIsFilteredByDefaultMinLift(t *testing.T) {
	cfg := config.Default()
	cfg.MinAbsFreq = 1
	cfg.MinFreqRatio = 0
	baskets := []associations.Basket{
		{GlobalBasketID: "C1_0", CustomerID: "C1", ClusterID: "West_Plumbing_0", Segment: "West_Plumbing", Date: day(1), Products: []string{"X", "Y"}},
		{GlobalBasketID: "C2_0", CustomerID: "C2", ClusterID: "West_Plumbing_0", Segment: "West_Plumbing", Date: day(1), Products: []string{"X", "Y"}},
	}

	rules, err := associations.Mine(baskets, day(1), cfg, testLogger())
	require.NoError(t, err)
	assert.Empty(t, rules, "lift == 1.0 must be filtered out by the default MIN_LIFT of 1.2")
}

func TestRuleWithGenuineAffinitySurvivesFiltering(t *testing.T) {
	cfg := config.Default()
	cfg.MinAbsFreq = 1
	cfg.MinFreqRatio = 0
	baskets := []associations.Basket{
		{GlobalBasketID: "C1_0", CustomerID: "C1", ClusterID: "K", Segment: "S", Date: day(1), Products: []string{"X", "Y"}},
		{GlobalBasketID: "C2_0", CustomerID: "C2", ClusterID: "K", Segment: "S", Date: day(1), Products: []string{"X", "Y"}},
		{GlobalBasketID: "C3_0", CustomerID: "C3", ClusterID: "K", Segment: "S", Date: day(1), Products: []string{"X"}},
		{GlobalBasketID: "C4_0", CustomerID: "C4", ClusterID: "K", Segment: "S", Date: day(1), Products: []string{"Z"}},
	}

	rules, err := associations.Mine(baskets, day(1), cfg, testLogger())
	require.NoError(t, err)
	require.NotEmpty(t, rules)
	for _, r := range rules {
		assert.GreaterOrEqual(t, r.Confidence, 0.0)
		assert.LessOrEqual(t, r.Confidence, 1.0)
		assert.GreaterOrEqual(t, r.Support, 0.0)
		assert.LessOrEqual(t, r.Support, 1.0)
		assert.LessOrEqual(t, r.PairFreq, r.ProductFreqA)
		assert.LessOrEqual(t, r.ProductFreqA, r.TotalBaskets)
		assert.GreaterOrEqual(t, r.Lift, cfg.MinLift)
	}
}

func TestMineOnEmptyBasketsIsFatal(t *testing.T) {
	_, err := associations.Mine(nil, day(1), config.Default(), testLogger())
	assert.Error(t, err)
}

func TestWeightedSupportDecaysWithAge(t *testing.T) {
	cfg := config.Default()
	cfg.MinAbsFreq = 1
	cfg.MinFreqRatio = 0
	cfg.MinLift = 0

	fresh := []associations.Basket{
		{GlobalBasketID: "C1_0", CustomerID: "C1", ClusterID: "K", Segment: "S", Date: day(100), Products: []string{"X", "Y"}},
		{GlobalBasketID: "C2_0", CustomerID: "C2", ClusterID: "K", Segment: "S", Date: day(1), Products: []string{"Z"}},
	}
	old := []associations.Basket{
		{GlobalBasketID: "C1_0", CustomerID: "C1", ClusterID: "K", Segment: "S", Date: day(1), Products: []string{"X", "Y"}},
		{GlobalBasketID: "C2_0", CustomerID: "C2", ClusterID: "K", Segment: "S", Date: day(1), Products: []string{"Z"}},
	}

	freshRules, err := associations.Mine(fresh, day(100), cfg, testLogger())
	require.NoError(t, err)
	oldRules, err := associations.Mine(old, day(100), cfg, testLogger())
	require.NoError(t, err)

	freshWS := findRule(t, freshRules, "X", "Y").WeightedSupport
	oldWS := findRule(t, oldRules, "X", "Y").WeightedSupport
	assert.Greater(t, freshWS, oldWS, "a more recent basket must carry a larger decay weight than an older one of equal raw support")
}

func findRule(t *testing.T, rules []model.AssociationRule, a, b string) model.AssociationRule {
	t.Helper()
	for _, r := range rules {
		if r.ProductA == a && r.ProductB == b {
			return r
		}
	}
	t.Fatalf("no rule %s -> %s found", a, b)
	return model.AssociationRule{}
}
