// Package model holds the shared row types that flow between pipeline
// stages. Every identifier is a string — no numeric
// coercion — and every monetary field is a decimal.Decimal, matching
// the convention every pricing-adjacent sibling service in the
// platform already uses for money instead of float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer is immutable within a pipeline run.
type Customer struct {
	CustomerID   string
	CustomerName string
	Region       string
	EndUse       string
	CustomerType string
	City         string
	State        string
	TenureDays   int
	CreditLimit  decimal.Decimal
}

// Segment returns the customer's coarse (region x end_use) grouping.
func (c Customer) Segment() string {
	return c.Region + "_" + c.EndUse
}

// Product is immutable within a pipeline run.
type Product struct {
	ProductID     string
	ProductName   string
	Brand         string
	L2Category    string
	L3Category    string
	Functionality string
	UnitPrice     decimal.Decimal
	UnitOfMeasure string
	InStock       bool
}

// InvoiceLine is append-only and read-only to the pipeline.
type InvoiceLine struct {
	InvoiceID   string
	CustomerID  string
	ProductID   string
	Quantity    int
	InvoiceDate time.Time
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// PriceBand is a tertile of a product's mean unit price within its
// (region x end_use) segment.
type PriceBand string

const (
	PriceBandLow     PriceBand = "Low"
	PriceBandMid     PriceBand = "Mid"
	PriceBandHigh    PriceBand = "High"
	PriceBandUnknown PriceBand = "Unknown"
)

// BasketRow is one (customer, product) aggregate row — the S1 output.
type BasketRow struct {
	CustomerID        string
	ProductID         string
	PurchaseFrequency int
	TotalQuantity     int
	RecencyDays       int

	RFMRecencyScore   float64
	RFMFrequencyScore float64
	RFMMonetaryScore  float64

	PriceBand     PriceBand
	Brand         string
	L2Category    string
	L3Category    string
	Functionality string
	Segment       string
	InStock       bool
}

// ClusterAssignment is the S2 per-customer output. cluster_id is
// globally unique by construction: "{segment}_{k}".
type ClusterAssignment struct {
	CustomerID string
	ClusterID  string
	Segment    string
}

// SegmentModel is the S2 per-segment persisted artifact reference.
type SegmentModel struct {
	Segment       string
	K             int
	Inertia       float64
	Silhouette    *float64
	FeatureGroups []string
	FeatureCols   []string
	NCustomers    int
}

// AssociationRule is the S3 output: a directed pair (A -> B) scoped to
// (segment, cluster).
type AssociationRule struct {
	Segment           string
	ClusterID         string
	ProductA          string
	ProductB          string
	PairFreq          int
	WeightedPairFreq  float64
	ProductFreqA      int
	ProductFreqB      int
	TotalBaskets      int
	Confidence        float64
	Support           float64
	WeightedSupport   float64
	Lift              float64
}

// RecommendationRow is the S4/S5 output.
type RecommendationRow struct {
	CustomerID          string
	RecommendedProduct  string
	TriggerProduct      string
	ClusterID           string
	Segment             string
	L2Category          string
	L3Category          string
	Support             float64
	Confidence          float64
	Lift                float64
	Score               float64
	RecommendedQty      int
	Reason              string
	Rank                int
}

// FeedbackRatingType classifies an account manager's rating.
type FeedbackRatingType string

const (
	RatingHigh   FeedbackRatingType = "High"
	RatingMedium FeedbackRatingType = "Medium"
	RatingLow    FeedbackRatingType = "Low"
)

// FeedbackSentiment is an optional explicit sentiment on a Medium rating.
type FeedbackSentiment string

const (
	SentimentPositive FeedbackSentiment = "positive"
	SentimentNegative FeedbackSentiment = "negative"
)

// FeedbackRow is the S5 input, one row per (customer, product, cycle).
type FeedbackRow struct {
	CustomerID   string
	ProductID    string
	Rating       FeedbackRatingType
	ReasonCode   string
	Sentiment    FeedbackSentiment
	FeedbackDate time.Time
}
