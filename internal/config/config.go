// Package config loads the pipeline's typed configuration: every
// threshold named in spec.md §6 as a named, typed parameter with the
// documented default, overridable by an optional YAML file and then by
// environment variables (env wins, matching the platform's own
// getEnv-last-word convention).
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// ScoringWeights controls the S4 composite score. Must sum to 1.0; if
// they don't, Config.Normalize renormalizes them (cmd/pipeline logs a
// warning when it does), and the ranker renormalizes again on use.
type ScoringWeights struct {
	Confidence float64 `yaml:"confidence"`
	Support    float64 `yaml:"support"`
	Lift       float64 `yaml:"lift"`
	Recency    float64 `yaml:"recency"`
}

// FeedbackWeights controls S5's rating/sentiment/reason_code resolution.
type FeedbackWeights struct {
	High       float64 `yaml:"high"`
	Low        float64 `yaml:"low"`
	MediumPos  float64 `yaml:"medium_positive"`
	MediumNeg  float64 `yaml:"medium_negative"`
	Unknown    float64 `yaml:"unknown"`
}

// Config is the full set of named, typed pipeline parameters.
type Config struct {
	// S1 Market Basket
	RecencyCutoffDays int      `yaml:"recency_cutoff_days"`
	MinOrderCount     int      `yaml:"min_order_count"`
	PriceAliases      []string `yaml:"price_aliases"`

	// S2 Cluster Engine
	MaxK                 int      `yaml:"max_k"`
	MinClusterCustomers  int      `yaml:"min_cluster_customers"`
	ElbowThresholdPct    float64  `yaml:"elbow_threshold_pct"`
	FeatureGroups        []string `yaml:"feature_groups"`
	RandomSeed           int64    `yaml:"random_seed"`
	SilhouetteWarnBelow  float64  `yaml:"silhouette_warn_below"`

	// S3 Association Miner
	WindowDays    int     `yaml:"window_days"`
	DecayLambda   float64 `yaml:"decay_lambda"`
	MinAbsFreq    int     `yaml:"min_abs_freq"`
	MinFreqRatio  float64 `yaml:"min_freq_ratio"`
	MinLift       float64 `yaml:"min_lift"`

	// S4 Ranker
	TopK               int            `yaml:"top_k"`
	MinSupport         float64        `yaml:"min_support"`
	MinConfidence      float64        `yaml:"min_confidence"`
	MaxLiftNormalise   float64        `yaml:"max_lift_normalise"`
	ScoringWeights     ScoringWeights `yaml:"scoring_weights"`
	L3TiebreakMargin   float64        `yaml:"l3_tiebreak_margin"`

	// S5 Feedback Calibrator
	FeedbackRecencyDays int             `yaml:"feedback_recency_days"`
	FeedbackWeights     FeedbackWeights `yaml:"feedback_weights"`
	ScoreCutoff         float64         `yaml:"score_cutoff"`
	AcceptanceLowBand   float64         `yaml:"acceptance_low_band"`
	AcceptanceHighBand  float64         `yaml:"acceptance_high_band"`

	// Ambient: stores and servers
	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	RedisAddr       string `yaml:"redis_addr"`
	KafkaBrokers    []string `yaml:"kafka_brokers"`
	KafkaTopic      string `yaml:"kafka_topic"`
	ArchiveDir      string `yaml:"archive_dir"`
	InferencePort   string `yaml:"inference_port"`
	JWTSigningKey   string `yaml:"jwt_signing_key"`
	SnapshotRefreshCron string `yaml:"snapshot_refresh_cron"`
}

// KnownNegativeReasonCodes are feedback reason codes that resolve to
// WEIGHT_MED_NEG for a Medium rating with no explicit sentiment.
var KnownNegativeReasonCodes = map[string]bool{
	"not_relevant":             true,
	"wrong_category":           true,
	"already_have_contract":    true,
	"customer_not_interested":  true,
	"price_too_high":           true,
	"out_of_territory":         true,
	"competitor_product":       true,
	"not_applicable":           true,
	"poor_quality_signal":      true,
}

// KnownPositiveReasonCodes are feedback reason codes that resolve to
// WEIGHT_MED_POS for a Medium rating with no explicit sentiment.
var KnownPositiveReasonCodes = map[string]bool{
	"good_fit":                true,
	"high_potential":          true,
	"customer_interested":     true,
	"complements_existing":    true,
	"strong_affinity":         true,
	"recommended_and_sold":    true,
}

// Default returns the configuration with every spec-documented default.
func Default() *Config {
	return &Config{
		RecencyCutoffDays: 730,
		MinOrderCount:     1,
		PriceAliases:      []string{"unit_price", "price", "list_price", "unit_cost", "sale_price"},

		MaxK:                8,
		MinClusterCustomers: 6,
		ElbowThresholdPct:   10.0,
		FeatureGroups:       []string{"l2_qty", "brand", "functionality", "rfm"},
		RandomSeed:          42,
		SilhouetteWarnBelow: 0.2,

		WindowDays:   0,
		DecayLambda:  0.001,
		MinAbsFreq:   5,
		MinFreqRatio: 0.02,
		MinLift:      1.2,

		TopK:             5,
		MinSupport:       0.01,
		MinConfidence:    0.05,
		MaxLiftNormalise: 3.0,
		ScoringWeights: ScoringWeights{
			Confidence: 0.40,
			Support:    0.25,
			Lift:       0.20,
			Recency:    0.15,
		},
		L3TiebreakMargin: 0.02,

		FeedbackRecencyDays: 365,
		FeedbackWeights: FeedbackWeights{
			High:      1.3,
			Low:       0.1,
			MediumPos: 1.0,
			MediumNeg: 0.4,
			Unknown:   1.0,
		},
		ScoreCutoff:        0.08,
		AcceptanceLowBand:  0.5,
		AcceptanceHighBand: 0.8,

		MongoURI:            "mongodb://localhost:27017",
		MongoDatabase:       "recommend_engine",
		RedisAddr:           "localhost:6379",
		KafkaBrokers:        []string{"localhost:9092"},
		KafkaTopic:          "feedback-summary",
		ArchiveDir:          "./artifacts",
		InferencePort:       "8080",
		JWTSigningKey:       "",
		SnapshotRefreshCron: "@every 5m",
	}
}

// Load reads defaults, applies an optional YAML file, then applies
// environment variable overrides. path == "" skips the YAML step.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RECO_MONGO_URI"); v != "" {
		cfg.MongoURI = v
	}
	if v := os.Getenv("RECO_MONGO_DATABASE"); v != "" {
		cfg.MongoDatabase = v
	}
	if v := os.Getenv("RECO_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("RECO_ARCHIVE_DIR"); v != "" {
		cfg.ArchiveDir = v
	}
	if v := os.Getenv("RECO_INFERENCE_PORT"); v != "" {
		cfg.InferencePort = v
	}
	if v := os.Getenv("RECO_JWT_SIGNING_KEY"); v != "" {
		cfg.JWTSigningKey = v
	}
	if v := os.Getenv("RECO_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TopK = n
		}
	}
	if v := os.Getenv("RECO_MIN_LIFT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MinLift = f
		}
	}
	if v := os.Getenv("RECO_SCORE_CUTOFF"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ScoreCutoff = f
		}
	}
}

// Normalize renormalizes scoring weights to sum to 1.0 when
// misconfigured, returning whether a renormalization happened.
func (c *Config) Normalize() bool {
	sum := c.ScoringWeights.Confidence + c.ScoringWeights.Support + c.ScoringWeights.Lift + c.ScoringWeights.Recency
	if sum <= 0 {
		c.ScoringWeights = Default().ScoringWeights
		return true
	}
	if sum > 0.999 && sum < 1.001 {
		return false
	}
	c.ScoringWeights.Confidence /= sum
	c.ScoringWeights.Support /= sum
	c.ScoringWeights.Lift /= sum
	c.ScoringWeights.Recency /= sum
	return true
}
