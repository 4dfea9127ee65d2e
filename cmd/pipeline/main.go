// Command pipeline runs the six-stage recommendation engine batch over
// a customers/products/invoices extract and writes every stage
// artifact under -out, grounded on the platform's batch-entrypoint
// shape in data_analytics/engines/data_pipeline_engine.go.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/iaros/recommend-engine/internal/config"
	"github.com/iaros/recommend-engine/internal/feedback"
	"github.com/iaros/recommend-engine/internal/logging"
	"github.com/iaros/recommend-engine/internal/model"
	"github.com/iaros/recommend-engine/internal/pipelinerun"
)

func main() {
	customersPath := flag.String("customers", "testdata/customers.csv", "path to customers table")
	productsPath := flag.String("products", "testdata/products.csv", "path to products table")
	invoicesPath := flag.String("invoices", "testdata/invoices.csv", "path to invoice line items table")
	outDir := flag.String("out", "./artifacts", "output directory for pipeline artifacts")
	configPath := flag.String("config", "", "optional YAML config overriding defaults")
	skipFeedback := flag.Bool("skip-feedback-store", false, "run S5 in pass-through mode without a Mongo feedback store")
	flag.Parse()

	log := logging.New("recommend-engine-pipeline")
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if cfg.Normalize() {
		log.Warn("scoring weights did not sum to 1.0; renormalized")
	}

	var feedbackRows []model.FeedbackRow
	var publisher *feedback.SummaryPublisher

	if !*skipFeedback {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err := feedback.NewStore(ctx, cfg.MongoURI, cfg.MongoDatabase, log)
		cancel()
		if err != nil {
			log.WithError(err).Warn("feedback store unavailable; continuing with pass-through calibration")
		} else {
			loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
			feedbackRows = store.Load(loadCtx)
			loadCancel()
		}
		publisher = feedback.NewSummaryPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		defer publisher.Close()
	}

	inputs := pipelinerun.Inputs{
		CustomersPath: *customersPath,
		ProductsPath:  *productsPath,
		InvoicesPath:  *invoicesPath,
	}

	manifest, err := pipelinerun.Run(inputs, *outDir, cfg, log, feedbackRows, publisher)
	if err != nil {
		log.WithError(err).Fatal("pipeline run failed")
	}
	log.WithFields(map[string]interface{}{
		"run_id":         manifest.RunID,
		"reference_date": manifest.ReferenceDate,
		"stages":         len(manifest.Stages),
	}).Info("pipeline run complete")
}
