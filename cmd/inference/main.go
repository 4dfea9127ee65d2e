// Command inference serves the S6 HTTP surface: precomputed
// recommendation lookups and cold-start cluster assignment, with a
// background cron job that reloads the archive on a schedule so a
// long-lived process picks up a freshly published pipeline run
// without a restart. Grounded on the platform's graceful-shutdown
// server loop in customer_intelligence_platform/main.go.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/iaros/recommend-engine/internal/config"
	"github.com/iaros/recommend-engine/internal/inference"
	"github.com/iaros/recommend-engine/internal/logging"
	"github.com/iaros/recommend-engine/internal/metrics"
	"github.com/iaros/recommend-engine/internal/table"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config overriding defaults")
	flag.Parse()

	log := logging.New("recommend-engine-inference")
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	snap, err := loadSnapshot(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to load initial snapshot")
	}
	holder := inference.NewHolder(snap)

	c := cron.New()
	_, err = c.AddFunc(cfg.SnapshotRefreshCron, func() {
		next, err := loadSnapshot(cfg, log)
		if err != nil {
			log.WithError(err).Warn("snapshot refresh failed; keeping previous snapshot")
			return
		}
		holder.Swap(next)
		log.Info("snapshot refreshed")
	})
	if err != nil {
		log.WithError(err).Fatal("invalid snapshot refresh schedule")
	}
	c.Start()
	defer c.Stop()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	inferenceMetrics := metrics.NewInference()
	server := inference.NewServer(holder, redisClient, inferenceMetrics, log, cfg)

	r := gin.Default()
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	server.Routes(r)

	srv := &http.Server{Addr: ":" + cfg.InferencePort, Handler: r}
	go func() {
		log.WithFields(map[string]interface{}{"port": cfg.InferencePort}).Info("starting inference surface")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("inference server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
}

func loadSnapshot(cfg *config.Config, log *logging.Logger) (*inference.Snapshot, error) {
	finalRecs, err := table.ReadRecommendations(cfg.ArchiveDir + "/final_recommendations.csv")
	if err != nil {
		return nil, err
	}
	return inference.Load(cfg.ArchiveDir, finalRecs)
}
