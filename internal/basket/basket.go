// Package basket implements the market-basket feature builder (S1):
// it turns raw customer/product/invoice tables into one row per
// (customer, product) carrying aggregated purchase stats, normalized
// RFM scores and a price tertile. Grounded on the platform's
// RFMAnalyzer (segmentation_engine.go) for the RFM scoring shape, with
// the join/aggregate plumbing rebuilt in plain Go since the pipeline
// here is table-to-table rather than Mongo-document-to-document.
package basket

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/iaros/recommend-engine/internal/config"
	"github.com/iaros/recommend-engine/internal/logging"
	"github.com/iaros/recommend-engine/internal/model"
	"github.com/iaros/recommend-engine/internal/pipelineerr"
)

const stageName = "market_basket"

// Result bundles the basket table with the reference date derived
// from it, since every later stage's "age" computation anchors to
// this same value rather than wall-clock time.
type Result struct {
	Rows          []model.BasketRow
	ReferenceDate time.Time
	DroppedRows   int
}

// Build runs the full market-basket construction algorithm.
func Build(customers []model.Customer, products []model.Product, lines []model.InvoiceLine, cfg *config.Config, log *logging.Logger) (*Result, error) {
	if len(lines) == 0 {
		return nil, pipelineerr.NewDataQualityError(stageName, "no invoice lines supplied", "verify the invoice extract is non-empty", 0)
	}

	custByID := make(map[string]model.Customer, len(customers))
	for _, c := range customers {
		custByID[c.CustomerID] = c
	}
	prodByID := make(map[string]model.Product, len(products))
	for _, p := range products {
		prodByID[p.ProductID] = p
	}

	refDate := referenceDate(lines)

	cutoff := refDate.AddDate(0, 0, -cfg.RecencyCutoffDays)
	kept := make([]model.InvoiceLine, 0, len(lines))
	var cutRows int
	for _, ln := range lines {
		if ln.InvoiceDate.Before(cutoff) {
			cutRows++
			continue
		}
		kept = append(kept, ln)
	}
	if cutRows > 0 {
		log.FilterLogger("recency_cutoff", cutRows, len(lines))
	}

	var unmatchedCustomer, unmatchedProduct int
	type joined struct {
		line model.InvoiceLine
		cust model.Customer
		prod model.Product
	}
	joinedRows := make([]joined, 0, len(kept))
	for _, ln := range kept {
		c, ok := custByID[ln.CustomerID]
		if !ok {
			unmatchedCustomer++
			c = model.Customer{CustomerID: ln.CustomerID, Region: "Unknown", EndUse: "Unknown", CustomerType: "Unknown"}
		}
		p, ok := prodByID[ln.ProductID]
		if !ok {
			unmatchedProduct++
			p = model.Product{ProductID: ln.ProductID, Brand: "Unknown", L2Category: "Unknown", L3Category: "Unknown", Functionality: "Unknown", InStock: true}
		}
		joinedRows = append(joinedRows, joined{ln, c, p})
	}
	if unmatchedCustomer > 0 {
		log.FilterLogger("unmatched_customer_join", unmatchedCustomer, len(kept))
	}
	if unmatchedProduct > 0 {
		log.FilterLogger("unmatched_product_join", unmatchedProduct, len(kept))
	}

	orderCounts := make(map[string]map[string]bool)
	for _, j := range joinedRows {
		invoices, ok := orderCounts[j.line.CustomerID]
		if !ok {
			invoices = make(map[string]bool)
			orderCounts[j.line.CustomerID] = invoices
		}
		invoices[invoiceKey(j.line)] = true
	}
	eligibleCustomers := make(map[string]bool, len(orderCounts))
	for cust, invoices := range orderCounts {
		if len(invoices) >= cfg.MinOrderCount {
			eligibleCustomers[cust] = true
		}
	}

	type aggKey struct{ customerID, productID string }
	type agg struct {
		invoiceSet    map[string]bool
		totalQuantity int
		lastPurchase  time.Time
	}
	aggs := make(map[aggKey]*agg)
	order := make([]aggKey, 0)
	for _, j := range joinedRows {
		if !eligibleCustomers[j.line.CustomerID] {
			continue
		}
		k := aggKey{j.line.CustomerID, j.line.ProductID}
		a, ok := aggs[k]
		if !ok {
			a = &agg{invoiceSet: make(map[string]bool)}
			aggs[k] = a
			order = append(order, k)
		}
		a.invoiceSet[invoiceKey(j.line)] = true
		a.totalQuantity += j.line.Quantity
		if j.line.InvoiceDate.After(a.lastPurchase) {
			a.lastPurchase = j.line.InvoiceDate
		}
	}

	if len(aggs) == 0 {
		return nil, pipelineerr.NewDataQualityError(stageName, "no (customer, product) pairs survived filtering", "loosen RECENCY_CUTOFF_DAYS or MIN_ORDER_COUNT", 0)
	}

	custRFM := computeRFM(joinedRows, eligibleCustomers, refDate)

	priceBands := computePriceBands(joinedRows, prodByID)

	sort.Slice(order, func(i, j int) bool {
		if order[i].customerID != order[j].customerID {
			return order[i].customerID < order[j].customerID
		}
		return order[i].productID < order[j].productID
	})

	rows := make([]model.BasketRow, 0, len(order))
	for _, k := range order {
		a := aggs[k]
		c, ok := custByID[k.customerID]
		if !ok {
			c = model.Customer{CustomerID: k.customerID, Region: "Unknown", EndUse: "Unknown", CustomerType: "Unknown"}
		}
		p, ok := prodByID[k.productID]
		if !ok {
			p = model.Product{ProductID: k.productID, Brand: "Unknown", L2Category: "Unknown", L3Category: "Unknown", Functionality: "Unknown", InStock: true}
		}
		rfm := custRFM[k.customerID]
		segment := c.Region + "_" + c.EndUse
		pb := model.PriceBandUnknown
		if band, ok := priceBands[segment+"|"+k.productID]; ok {
			pb = band
		}
		rows = append(rows, model.BasketRow{
			CustomerID:        k.customerID,
			ProductID:         k.productID,
			PurchaseFrequency: len(a.invoiceSet),
			TotalQuantity:     a.totalQuantity,
			RecencyDays:       int(refDate.Sub(a.lastPurchase).Hours() / 24),
			RFMRecencyScore:   rfm.recency,
			RFMFrequencyScore: rfm.frequency,
			RFMMonetaryScore:  rfm.monetary,
			PriceBand:         pb,
			Brand:             p.Brand,
			L2Category:        p.L2Category,
			L3Category:        p.L3Category,
			Functionality:     p.Functionality,
			Segment:           segment,
			InStock:           p.InStock,
		})
	}

	return &Result{Rows: rows, ReferenceDate: refDate, DroppedRows: unmatchedCustomer + unmatchedProduct}, nil
}

func invoiceKey(ln model.InvoiceLine) string {
	if ln.InvoiceID != "" {
		return ln.InvoiceID
	}
	return fmt.Sprintf("%s|%s", ln.ProductID, ln.InvoiceDate.Format(time.RFC3339))
}

func referenceDate(lines []model.InvoiceLine) time.Time {
	max := lines[0].InvoiceDate
	for _, ln := range lines[1:] {
		if ln.InvoiceDate.After(max) {
			max = ln.InvoiceDate
		}
	}
	return max
}

type rfmScores struct{ recency, frequency, monetary float64 }

func computeRFM(joinedRows []struct {
	line model.InvoiceLine
	cust model.Customer
	prod model.Product
}, eligible map[string]bool, refDate time.Time) map[string]rfmScores {
	type raw struct {
		lastPurchase time.Time
		frequency    int
		monetary     float64
		invoices     map[string]bool
	}
	byCust := make(map[string]*raw)
	for _, j := range joinedRows {
		if !eligible[j.line.CustomerID] {
			continue
		}
		r, ok := byCust[j.line.CustomerID]
		if !ok {
			r = &raw{invoices: make(map[string]bool)}
			byCust[j.line.CustomerID] = r
		}
		if j.line.InvoiceDate.After(r.lastPurchase) {
			r.lastPurchase = j.line.InvoiceDate
		}
		r.invoices[invoiceKey(j.line)] = true
		f, _ := j.line.LineTotal.Float64()
		r.monetary += f
	}
	for _, r := range byCust {
		r.frequency = len(r.invoices)
	}

	recencyRaw := make(map[string]float64, len(byCust))
	frequencyRaw := make(map[string]float64, len(byCust))
	monetaryRaw := make(map[string]float64, len(byCust))
	for cust, r := range byCust {
		recencyRaw[cust] = refDate.Sub(r.lastPurchase).Hours() / 24
		frequencyRaw[cust] = float64(r.frequency)
		monetaryRaw[cust] = r.monetary
	}

	recencyNorm := minMaxInverted(recencyRaw)
	frequencyNorm := minMax(frequencyRaw)
	monetaryNorm := minMax(monetaryRaw)

	out := make(map[string]rfmScores, len(byCust))
	for cust := range byCust {
		out[cust] = rfmScores{
			recency:   recencyNorm[cust],
			frequency: frequencyNorm[cust],
			monetary:  monetaryNorm[cust],
		}
	}
	return out
}

// minMax normalizes values to [0,1]. Constant columns emit 0.5 for
// every member, not 0 and not NaN.
func minMax(values map[string]float64) map[string]float64 {
	if len(values) == 0 {
		return map[string]float64{}
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make(map[string]float64, len(values))
	if max == min {
		for k := range values {
			out[k] = 0.5
		}
		return out
	}
	for k, v := range values {
		out[k] = (v - min) / (max - min)
	}
	return out
}

// minMaxInverted normalizes then inverts, so that a lower raw value
// (more recent) maps to a higher score.
func minMaxInverted(values map[string]float64) map[string]float64 {
	normalized := minMax(values)
	out := make(map[string]float64, len(normalized))
	for k, v := range normalized {
		out[k] = 1 - v
	}
	return out
}

// computePriceBands buckets each product into a Low/Mid/High tertile of
// mean unit price within its (region, end_use) segment. The population
// a segment's tertile is computed over is the set of products actually
// purchased by customers in that segment (via joinedRows), not the
// full product catalogue — two segments whose customers buy disjoint
// price ranges must get different tertile cuts.
func computePriceBands(joinedRows []struct {
	line model.InvoiceLine
	cust model.Customer
	prod model.Product
}, prodByID map[string]model.Product) map[string]model.PriceBand {
	type priced struct {
		productID string
		price     float64
	}
	bySegment := make(map[string]map[string][]float64) // segment -> productID -> observed unit prices
	for _, j := range joinedRows {
		segment := j.cust.Region + "_" + j.cust.EndUse
		price, _ := j.prod.UnitPrice.Float64()
		if price <= 0 {
			continue
		}
		products, ok := bySegment[segment]
		if !ok {
			products = make(map[string][]float64)
			bySegment[segment] = products
		}
		products[j.line.ProductID] = append(products[j.line.ProductID], price)
	}

	result := make(map[string]model.PriceBand)
	for segment, products := range bySegment {
		var priceList []priced
		for productID, prices := range products {
			var sum float64
			for _, p := range prices {
				sum += p
			}
			priceList = append(priceList, priced{productID, sum / float64(len(prices))})
		}

		distinct := make(map[float64]bool)
		for _, pr := range priceList {
			distinct[pr.price] = true
		}
		if len(distinct) < 3 {
			for _, pr := range priceList {
				result[segment+"|"+pr.productID] = model.PriceBandMid
			}
			continue
		}
		sorted := append([]priced(nil), priceList...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].price < sorted[j].price })
		n := len(sorted)
		lowCut := sorted[n/3].price
		highCut := sorted[(2*n)/3].price
		for _, pr := range priceList {
			switch {
			case pr.price <= lowCut:
				result[segment+"|"+pr.productID] = model.PriceBandLow
			case pr.price >= highCut:
				result[segment+"|"+pr.productID] = model.PriceBandHigh
			default:
				result[segment+"|"+pr.productID] = model.PriceBandMid
			}
		}
	}
	return result
}
