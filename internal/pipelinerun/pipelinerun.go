// Package pipelinerun orchestrates S1 through S5 sequentially and
// writes a run manifest recording each stage's row counts and
// duration, grounded on the platform's DataPipelineEngine
// orchestration loop (data_analytics/engines/data_pipeline_engine.go),
// which drives a fixed stage sequence and records per-stage metrics
// the same way.
package pipelinerun

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/iaros/recommend-engine/internal/archive"
	"github.com/iaros/recommend-engine/internal/associations"
	"github.com/iaros/recommend-engine/internal/basket"
	"github.com/iaros/recommend-engine/internal/cluster"
	"github.com/iaros/recommend-engine/internal/config"
	"github.com/iaros/recommend-engine/internal/feedback"
	"github.com/iaros/recommend-engine/internal/logging"
	"github.com/iaros/recommend-engine/internal/metrics"
	"github.com/iaros/recommend-engine/internal/model"
	"github.com/iaros/recommend-engine/internal/pipelineerr"
	"github.com/iaros/recommend-engine/internal/ranking"
	"github.com/iaros/recommend-engine/internal/table"
)

// StageRecord is one entry in the run manifest.
type StageRecord struct {
	Stage           string  `json:"stage"`
	RowsIn          int     `json:"rows_in"`
	RowsOut         int     `json:"rows_out"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Manifest is written to run_manifest.json at the end of a run.
type Manifest struct {
	RunID         string        `json:"run_id"`
	ReferenceDate time.Time     `json:"reference_date"`
	Stages        []StageRecord `json:"stages"`
}

// Inputs names the three source tables S1 consumes.
type Inputs struct {
	CustomersPath string
	ProductsPath  string
	InvoicesPath  string
}

// Run executes the full S1-S5 sequence and writes every artifact under
// outputDir, returning the run manifest.
func Run(inputs Inputs, outputDir string, cfg *config.Config, log *logging.Logger, feedbackRows []model.FeedbackRow, summaryPublisher *feedback.SummaryPublisher) (*Manifest, error) {
	runID := uuid.New().String()
	manifest := &Manifest{RunID: runID}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}

	customers, err := table.LoadCustomers(inputs.CustomersPath)
	if err != nil {
		return nil, pipelineerr.NewDataQualityError("market_basket", "customers table: "+err.Error(), "check the customers table path and header row", 0)
	}
	products, err := table.LoadProducts(inputs.ProductsPath, cfg.PriceAliases)
	if err != nil {
		return nil, pipelineerr.NewDataQualityError("market_basket", "products table: "+err.Error(), "check the products table path and header row", 0)
	}
	invoiceResult, err := table.LoadInvoiceLines(inputs.InvoicesPath)
	if err != nil {
		return nil, pipelineerr.NewDataQualityError("market_basket", "invoices table: "+err.Error(), "check the invoices table path and header row", 0)
	}
	if invoiceResult.DroppedRows > 0 {
		log.FilterLogger("unparseable_invoice_timestamp", invoiceResult.DroppedRows, len(invoiceResult.Lines)+invoiceResult.DroppedRows)
	}

	s1Metrics := metrics.NewStage("market_basket")
	s1Start := time.Now()
	basketResult, err := basket.Build(customers, products, invoiceResult.Lines, cfg, log)
	if err != nil {
		return nil, err
	}
	s1Duration := time.Since(s1Start).Seconds()
	s1Metrics.Observe(len(invoiceResult.Lines), len(basketResult.Rows), s1Duration)
	manifest.ReferenceDate = basketResult.ReferenceDate
	manifest.Stages = append(manifest.Stages, StageRecord{"market_basket", len(invoiceResult.Lines), len(basketResult.Rows), s1Duration})
	if err := table.WriteBasket(filepath.Join(outputDir, "market_basket.csv"), basketResult.Rows); err != nil {
		return nil, err
	}
	log.StageLogger("market_basket", len(invoiceResult.Lines), len(basketResult.Rows), s1Duration)

	s2Metrics := metrics.NewStage("clustering")
	s2Start := time.Now()
	segmentResults, err := cluster.Run(basketResult.Rows, cfg, log)
	if err != nil {
		return nil, err
	}
	var assignments []model.ClusterAssignment
	clusterManifest := &archive.Manifest{GeneratedAt: s1Start, RandomSeed: cfg.RandomSeed, Segments: make(map[string]model.SegmentModel)}
	for _, seg := range segmentResults {
		assignments = append(assignments, seg.Assignments...)
		clusterManifest.Segments[seg.Segment] = seg.Model
		if err := archive.WriteSegment(outputDir, seg.Segment, seg.Scaler, seg.KMeans); err != nil {
			return nil, err
		}
	}
	if err := archive.WriteManifest(outputDir, clusterManifest); err != nil {
		return nil, err
	}
	s2Duration := time.Since(s2Start).Seconds()
	s2Metrics.Observe(len(basketResult.Rows), len(assignments), s2Duration)
	manifest.Stages = append(manifest.Stages, StageRecord{"clustering", len(basketResult.Rows), len(assignments), s2Duration})
	if err := table.WriteClusters(filepath.Join(outputDir, "customer_clusters.csv"), assignments); err != nil {
		return nil, err
	}
	log.StageLogger("clustering", len(basketResult.Rows), len(assignments), s2Duration)

	assignmentByCustomer := make(map[string]model.ClusterAssignment, len(assignments))
	for _, a := range assignments {
		assignmentByCustomer[a.CustomerID] = a
	}

	s3Metrics := metrics.NewStage("associations")
	s3Start := time.Now()
	baskets := associations.Sessionize(invoiceResult.Lines, assignmentByCustomer, cfg.WindowDays)
	rules, err := associations.Mine(baskets, basketResult.ReferenceDate, cfg, log)
	if err != nil {
		return nil, err
	}
	s3Duration := time.Since(s3Start).Seconds()
	s3Metrics.Observe(len(baskets), len(rules), s3Duration)
	manifest.Stages = append(manifest.Stages, StageRecord{"associations", len(baskets), len(rules), s3Duration})
	if err := table.WriteAssociations(filepath.Join(outputDir, "associations.csv"), rules); err != nil {
		return nil, err
	}
	log.StageLogger("associations", len(baskets), len(rules), s3Duration)

	s4Metrics := metrics.NewStage("ranking")
	s4Start := time.Now()
	recs, err := ranking.Rank(basketResult.Rows, assignments, rules, cfg)
	if err != nil {
		return nil, err
	}
	s4Duration := time.Since(s4Start).Seconds()
	s4Metrics.Observe(len(rules), len(recs), s4Duration)
	manifest.Stages = append(manifest.Stages, StageRecord{"ranking", len(rules), len(recs), s4Duration})
	if err := table.WriteRecommendations(filepath.Join(outputDir, "recommendations.csv"), recs); err != nil {
		return nil, err
	}
	log.StageLogger("ranking", len(rules), len(recs), s4Duration)

	s5Metrics := metrics.NewStage("feedback_calibration")
	s5Start := time.Now()
	finalRecs, summary := feedback.Calibrate(recs, feedbackRows, basketResult.ReferenceDate, cfg)
	s5Duration := time.Since(s5Start).Seconds()
	s5Metrics.Observe(len(recs), len(finalRecs), s5Duration)
	manifest.Stages = append(manifest.Stages, StageRecord{"feedback_calibration", len(recs), len(finalRecs), s5Duration})
	if err := table.WriteRecommendations(filepath.Join(outputDir, "final_recommendations.csv"), finalRecs); err != nil {
		return nil, err
	}
	if err := writeSummary(filepath.Join(outputDir, "feedback_summary.json"), summary); err != nil {
		return nil, err
	}
	if summaryPublisher != nil {
		summaryPublisher.Publish(context.Background(), runID, summary)
	}
	log.StageLogger("feedback_calibration", len(recs), len(finalRecs), s5Duration)

	if err := writeManifest(filepath.Join(outputDir, "run_manifest.json"), manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

func writeSummary(path string, summary *feedback.Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func writeManifest(path string, manifest *Manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(manifest)
}
