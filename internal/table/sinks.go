package table

import "github.com/iaros/recommend-engine/internal/model"

// BasketColumns is the market_basket output schema.
var BasketColumns = []string{
	"customer_id", "product_id", "purchase_frequency", "total_quantity",
	"recency_days", "rfm_recency_score", "rfm_frequency_score", "rfm_monetary_score",
	"price_band", "brand", "l2_category", "l3_category", "functionality",
	"segment", "in_stock",
}

// WriteBasket writes the S1 output table.
func WriteBasket(path string, rows []model.BasketRow) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			r.CustomerID, r.ProductID,
			FormatInt(r.PurchaseFrequency), FormatInt(r.TotalQuantity), FormatInt(r.RecencyDays),
			FormatFloat(r.RFMRecencyScore), FormatFloat(r.RFMFrequencyScore), FormatFloat(r.RFMMonetaryScore),
			string(r.PriceBand), r.Brand, r.L2Category, r.L3Category, r.Functionality,
			r.Segment, FormatBool(r.InStock),
		})
	}
	return WriteRows(path, BasketColumns, out)
}

// ReadBasket reads the S1 output table back in (consumed by S2-S4).
func ReadBasket(path string) ([]model.BasketRow, error) {
	rows, err := ReadRows(path)
	if err != nil {
		return nil, err
	}
	out := make([]model.BasketRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.BasketRow{
			CustomerID:        r["customer_id"],
			ProductID:         r["product_id"],
			PurchaseFrequency: ParseInt(r["purchase_frequency"]),
			TotalQuantity:     ParseInt(r["total_quantity"]),
			RecencyDays:       ParseInt(r["recency_days"]),
			RFMRecencyScore:   parseFloatOr(r["rfm_recency_score"], 0),
			RFMFrequencyScore: parseFloatOr(r["rfm_frequency_score"], 0),
			RFMMonetaryScore:  parseFloatOr(r["rfm_monetary_score"], 0),
			PriceBand:         model.PriceBand(r["price_band"]),
			Brand:             r["brand"],
			L2Category:        r["l2_category"],
			L3Category:        r["l3_category"],
			Functionality:     r["functionality"],
			Segment:           r["segment"],
			InStock:           ParseBool(r["in_stock"]),
		})
	}
	return out, nil
}

// ClusterColumns is the customer_clusters output schema.
var ClusterColumns = []string{"customer_id", "cluster_id", "segment"}

// WriteClusters writes the S2 customer_clusters.csv artifact.
func WriteClusters(path string, rows []model.ClusterAssignment) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{r.CustomerID, r.ClusterID, r.Segment})
	}
	return WriteRows(path, ClusterColumns, out)
}

// ReadClusters reads the S2 customer_clusters.csv artifact.
func ReadClusters(path string) ([]model.ClusterAssignment, error) {
	rows, err := ReadRows(path)
	if err != nil {
		return nil, err
	}
	out := make([]model.ClusterAssignment, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.ClusterAssignment{
			CustomerID: r["customer_id"],
			ClusterID:  r["cluster_id"],
			Segment:    r["segment"],
		})
	}
	return out, nil
}

// AssociationColumns is the associations output schema.
var AssociationColumns = []string{
	"segment", "cluster_id", "product_a", "product_b", "pair_freq",
	"product_freq", "confidence", "support", "weighted_support", "lift",
}

// WriteAssociations writes the S3 output table. product_freq in the
// output is product_freq(A) — the trigger's basket count — matching
// the published external schema.
func WriteAssociations(path string, rows []model.AssociationRule) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			r.Segment, r.ClusterID, r.ProductA, r.ProductB,
			FormatInt(r.PairFreq), FormatInt(r.ProductFreqA),
			FormatFloat(r.Confidence), FormatFloat(r.Support),
			FormatFloat(r.WeightedSupport), FormatFloat(r.Lift),
		})
	}
	return WriteRows(path, AssociationColumns, out)
}

// ReadAssociations reads the S3 output table. TotalBaskets and
// ProductFreqB are not part of the published schema (only
// product_freq(A) is exposed); callers needing them recompute from S1/S2
// inputs directly rather than round-tripping through this file.
func ReadAssociations(path string) ([]model.AssociationRule, error) {
	rows, err := ReadRows(path)
	if err != nil {
		return nil, err
	}
	out := make([]model.AssociationRule, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.AssociationRule{
			Segment:         r["segment"],
			ClusterID:       r["cluster_id"],
			ProductA:        r["product_a"],
			ProductB:        r["product_b"],
			PairFreq:        ParseInt(r["pair_freq"]),
			ProductFreqA:    ParseInt(r["product_freq"]),
			Confidence:      parseFloatOr(r["confidence"], 0),
			Support:         parseFloatOr(r["support"], 0),
			WeightedSupport: parseFloatOr(r["weighted_support"], 0),
			Lift:            parseFloatOr(r["lift"], 0),
		})
	}
	return out, nil
}

// RecommendationColumns is the recommendations/final_recommendations schema.
var RecommendationColumns = []string{
	"customer_id", "recommended_product", "cluster_id", "segment",
	"l2_category", "l3_category", "trigger_product", "support",
	"confidence", "lift", "score", "recommended_qty", "reason", "rank",
}

// WriteRecommendations writes either the S4 intermediate table or the
// S5 final table — same schema either way.
func WriteRecommendations(path string, rows []model.RecommendationRow) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			r.CustomerID, r.RecommendedProduct, r.ClusterID, r.Segment,
			r.L2Category, r.L3Category, r.TriggerProduct,
			FormatFloat(r.Support), FormatFloat(r.Confidence), FormatFloat(r.Lift),
			FormatFloat(r.Score), FormatInt(r.RecommendedQty), r.Reason, FormatInt(r.Rank),
		})
	}
	return WriteRows(path, RecommendationColumns, out)
}

// ReadRecommendations reads either the S4 or S5 output table.
func ReadRecommendations(path string) ([]model.RecommendationRow, error) {
	rows, err := ReadRows(path)
	if err != nil {
		return nil, err
	}
	out := make([]model.RecommendationRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.RecommendationRow{
			CustomerID:         r["customer_id"],
			RecommendedProduct: r["recommended_product"],
			ClusterID:          r["cluster_id"],
			Segment:            r["segment"],
			L2Category:         r["l2_category"],
			L3Category:         r["l3_category"],
			TriggerProduct:     r["trigger_product"],
			Support:            parseFloatOr(r["support"], 0),
			Confidence:         parseFloatOr(r["confidence"], 0),
			Lift:               parseFloatOr(r["lift"], 0),
			Score:              parseFloatOr(r["score"], 0),
			RecommendedQty:     ParseInt(r["recommended_qty"]),
			Reason:             r["reason"],
			Rank:               ParseInt(r["rank"]),
		})
	}
	return out, nil
}

func parseFloatOr(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	d := ParseDecimal(s)
	f, _ := d.Float64()
	return f
}
