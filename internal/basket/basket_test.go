package basket_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iaros/recommend-engine/internal/basket"
	"github.com/iaros/recommend-engine/internal/config"
	"github.com/iaros/recommend-engine/internal/logging"
	"github.com/iaros/recommend-engine/internal/model"
)

func testLogger() *logging.Logger { return logging.New("basket-test") }

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func invoice(id, cust, prod string, qty int, d time.Time, price float64) model.InvoiceLine {
	return model.InvoiceLine{
		InvoiceID: id, CustomerID: cust, ProductID: prod, Quantity: qty,
		InvoiceDate: d, UnitPrice: decimal.NewFromFloat(price), LineTotal: decimal.NewFromFloat(price * float64(qty)),
	}
}

func baseCustomers() []model.Customer {
	return []model.Customer{
		{CustomerID: "C1", Region: "West", EndUse: "Plumbing"},
		{CustomerID: "C2", Region: "West", EndUse: "Plumbing"},
	}
}

func baseProducts() []model.Product {
	return []model.Product{
		{ProductID: "P1", Brand: "Acme", L2Category: "Valves", L3Category: "Ball", Functionality: "Shutoff", InStock: true, UnitPrice: decimal.NewFromFloat(10)},
		{ProductID: "P2", Brand: "Acme", L2Category: "Valves", L3Category: "Gate", Functionality: "Shutoff", InStock: true, UnitPrice: decimal.NewFromFloat(20)},
	}
}

func TestMinOrderCountBoundary(t *testing.T) {
	cfg := config.Default()
	cfg.MinOrderCount = 2

	lines := []model.InvoiceLine{
		invoice("I1", "C1", "P1", 1, day(1), 10),
		invoice("I2", "C1", "P1", 1, day(5), 10),
		invoice("I3", "C2", "P1", 1, day(1), 10),
	}

	res, err := basket.Build(baseCustomers(), baseProducts(), lines, cfg, testLogger())
	require.NoError(t, err)

	customers := customerSet(res.Rows)
	assert.True(t, customers["C1"], "a customer with exactly MIN_ORDER_COUNT invoices must survive S1")
	assert.False(t, customers["C2"], "a customer with one fewer invoice than MIN_ORDER_COUNT must be dropped")
}

func TestRecencyCutoffDropsOldInvoices(t *testing.T) {
	cfg := config.Default()
	cfg.RecencyCutoffDays = 30
	cfg.MinOrderCount = 1

	lines := []model.InvoiceLine{
		invoice("I1", "C1", "P1", 1, day(1), 10),
		invoice("I2", "C1", "P2", 1, day(1).AddDate(0, 0, 400), 10),
	}

	res, err := basket.Build(baseCustomers(), baseProducts(), lines, cfg, testLogger())
	require.NoError(t, err)

	products := make(map[string]bool)
	for _, r := range res.Rows {
		products[r.ProductID] = true
	}
	assert.False(t, products["P1"], "invoice older than the recency cutoff relative to reference date must be dropped")
	assert.True(t, products["P2"])
}

func TestConstantRFMColumnEmitsPointFive(t *testing.T) {
	cfg := config.Default()
	lines := []model.InvoiceLine{
		invoice("I1", "C1", "P1", 1, day(1), 10),
		invoice("I2", "C2", "P1", 1, day(1), 10),
	}

	res, err := basket.Build(baseCustomers(), baseProducts(), lines, cfg, testLogger())
	require.NoError(t, err)

	for _, r := range res.Rows {
		assert.Equal(t, 0.5, r.RFMRecencyScore, "identical recency across all customers must normalize to 0.5, not 0 or NaN")
		assert.Equal(t, 0.5, r.RFMFrequencyScore)
		assert.Equal(t, 0.5, r.RFMMonetaryScore)
	}
}

func TestPriceBandFallsBackToMidWithFewerThanThreeDistinctPrices(t *testing.T) {
	cfg := config.Default()
	lines := []model.InvoiceLine{
		invoice("I1", "C1", "P1", 1, day(1), 10),
		invoice("I2", "C1", "P2", 1, day(1), 20),
	}

	res, err := basket.Build(baseCustomers(), baseProducts(), lines, cfg, testLogger())
	require.NoError(t, err)

	for _, r := range res.Rows {
		assert.Equal(t, model.PriceBandMid, r.PriceBand, "fewer than three distinct prices in the segment must fall back to Mid")
	}
}

func TestEmptyInvoicesIsFatal(t *testing.T) {
	_, err := basket.Build(baseCustomers(), baseProducts(), nil, config.Default(), testLogger())
	assert.Error(t, err)
}

func TestAllFilteredIsFatal(t *testing.T) {
	cfg := config.Default()
	cfg.MinOrderCount = 99
	lines := []model.InvoiceLine{invoice("I1", "C1", "P1", 1, day(1), 10)}
	_, err := basket.Build(baseCustomers(), baseProducts(), lines, cfg, testLogger())
	assert.Error(t, err)
}

func TestReferenceDateIsMaxInvoiceTimestamp(t *testing.T) {
	cfg := config.Default()
	lines := []model.InvoiceLine{
		invoice("I1", "C1", "P1", 1, day(1), 10),
		invoice("I2", "C1", "P2", 1, day(10), 10),
	}
	res, err := basket.Build(baseCustomers(), baseProducts(), lines, cfg, testLogger())
	require.NoError(t, err)
	assert.True(t, res.ReferenceDate.Equal(day(10)))
}

func customerSet(rows []model.BasketRow) map[string]bool {
	out := make(map[string]bool)
	for _, r := range rows {
		out[r.CustomerID] = true
	}
	return out
}
