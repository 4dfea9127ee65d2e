package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/iaros/recommend-engine/internal/config"
	"github.com/iaros/recommend-engine/internal/logging"
	"github.com/iaros/recommend-engine/internal/metrics"
	"github.com/iaros/recommend-engine/internal/model"
)

// Request is the per-customer recommendation query.
type Request struct {
	CustomerID     string             `json:"customer_id"`
	Segment        string             `json:"segment,omitempty"`
	PurchaseVector map[string]float64 `json:"purchase_vector,omitempty"`
}

// Response is returned for both the precomputed and cold-start paths.
type Response struct {
	CustomerID      string                     `json:"customer_id"`
	Source          string                     `json:"source"`
	ClusterID       string                     `json:"cluster_id,omitempty"`
	Recommendations []model.RecommendationRow  `json:"recommendations"`
	Message         string                     `json:"message,omitempty"`
	Error           string                     `json:"error,omitempty"`
}

// BatchRequest wraps multiple per-customer requests.
type BatchRequest struct {
	Instances []Request `json:"instances"`
}

// BatchResponse returns one Response per input instance, in order. A
// per-instance failure is captured in that entry's Error field rather
// than aborting the batch.
type BatchResponse struct {
	Predictions []Response `json:"predictions"`
}

// Server holds the dependencies every handler needs.
type Server struct {
	holder        *Holder
	coldStartCache *cache.Cache
	responseCache *redis.Client
	metrics       *metrics.Inference
	log           *logging.Logger
	jwtSigningKey []byte
	cfgMu         sync.Mutex
	cfg           *config.Config
}

// NewServer constructs the inference server. redisClient may be nil,
// in which case the response cache is skipped (degrade to snapshot-only).
func NewServer(holder *Holder, redisClient *redis.Client, m *metrics.Inference, log *logging.Logger, cfg *config.Config) *Server {
	return &Server{
		holder:         holder,
		coldStartCache: cache.New(5*time.Minute, 10*time.Minute),
		responseCache:  redisClient,
		metrics:        m,
		log:            log,
		jwtSigningKey:  []byte(cfg.JWTSigningKey),
		cfg:            cfg,
	}
}

// Routes registers every handler on the gin engine.
func (s *Server) Routes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)
	r.POST("/v1/recommendations", s.handleRecommend)
	r.POST("/v1/recommendations/batch", s.handleBatch)
	r.POST("/v1/admin/thresholds", s.requireJWT(), s.handleAdminThresholds)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRecommend(c *gin.Context) {
	start := time.Now()
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.metrics.RequestsTotal.WithLabelValues("recommendations", "error").Inc()
		c.JSON(http.StatusBadRequest, Response{Error: "invalid request body: " + err.Error()})
		return
	}
	resp := s.resolve(c.Request.Context(), req)
	source := resp.Source
	if resp.Error != "" {
		source = "error"
	}
	s.metrics.RequestsTotal.WithLabelValues("recommendations", source).Inc()
	s.metrics.RequestDuration.WithLabelValues("recommendations").Observe(time.Since(start).Seconds())
	if resp.Error != "" {
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	predictions := make([]Response, len(req.Instances))
	for i, instance := range req.Instances {
		predictions[i] = s.resolve(c.Request.Context(), instance)
	}
	c.JSON(http.StatusOK, BatchResponse{Predictions: predictions})
}

// resolve implements the precomputed-vs-cold-start resolution logic.
// It never panics or returns a bare error to the
// caller — every failure is a structured Response with Error set.
func (s *Server) resolve(ctx context.Context, req Request) Response {
	if req.CustomerID == "" {
		return Response{Error: "customer_id is required"}
	}
	snap := s.holder.Get()

	if cached, ok := s.cachedResponse(ctx, req.CustomerID); ok {
		return cached
	}

	if rows, ok := snap.Precomputed(req.CustomerID); ok {
		resp := Response{CustomerID: req.CustomerID, Source: "precomputed", Recommendations: rows}
		s.cacheResponse(ctx, req.CustomerID, resp)
		return resp
	}

	if req.Segment == "" || req.PurchaseVector == nil {
		return Response{
			CustomerID: req.CustomerID,
			Error:      "customer not found in precomputed recommendations; segment and purchase_vector are required for cold-start assignment",
		}
	}
	if !snap.KnownSegment(req.Segment) {
		return Response{CustomerID: req.CustomerID, Error: "unknown segment: " + req.Segment}
	}

	if cacheKey := coldStartKey(req.Segment, req.PurchaseVector); cacheKey != "" {
		if v, found := s.coldStartCache.Get(cacheKey); found {
			return v.(Response)
		}
		clusterID, _ := snap.ColdStart(req.Segment, req.PurchaseVector)
		resp := Response{
			CustomerID:      req.CustomerID,
			Source:          "realtime_assignment",
			ClusterID:       clusterID,
			Recommendations: []model.RecommendationRow{},
			Message:         "customer assigned to cluster via real-time feature scoring; no precomputed recommendations available yet",
		}
		s.coldStartCache.Set(cacheKey, resp, cache.DefaultExpiration)
		return resp
	}

	clusterID, _ := snap.ColdStart(req.Segment, req.PurchaseVector)
	return Response{
		CustomerID:      req.CustomerID,
		Source:          "realtime_assignment",
		ClusterID:       clusterID,
		Recommendations: []model.RecommendationRow{},
		Message:         "customer assigned to cluster via real-time feature scoring; no precomputed recommendations available yet",
	}
}

func coldStartKey(segment string, vector map[string]float64) string {
	payload, err := json.Marshal(vector)
	if err != nil {
		return ""
	}
	return segment + "|" + string(payload)
}

func (s *Server) cachedResponse(ctx context.Context, customerID string) (Response, bool) {
	if s.responseCache == nil {
		return Response{}, false
	}
	val, err := s.responseCache.Get(ctx, "reco:"+customerID).Result()
	if err != nil {
		return Response{}, false
	}
	var resp Response
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return Response{}, false
	}
	return resp, true
}

func (s *Server) cacheResponse(ctx context.Context, customerID string, resp Response) {
	if s.responseCache == nil {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	s.responseCache.Set(ctx, "reco:"+customerID, payload, 10*time.Minute)
}

// adminClaims is the JWT payload expected on the threshold-override endpoint.
type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (s *Server) requireJWT() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if len(header) < 8 || header[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := header[7:]
		var claims adminClaims
		token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
			return s.jwtSigningKey, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.Role != "account_manager" && claims.Role != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

// thresholdOverride lets an authorized account manager apply the
// calibration stage's suggested threshold changes: suggested values
// are recorded but not applied automatically, the next cycle decides.
type thresholdOverride struct {
	MinConfidence *float64 `json:"min_confidence"`
	ScoreCutoff   *float64 `json:"score_cutoff"`
}

func (s *Server) handleAdminThresholds(c *gin.Context) {
	var override thresholdOverride
	if err := c.ShouldBindJSON(&override); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	s.cfgMu.Lock()
	if override.MinConfidence != nil {
		s.cfg.MinConfidence = *override.MinConfidence
	}
	if override.ScoreCutoff != nil {
		s.cfg.ScoreCutoff = *override.ScoreCutoff
	}
	minConfidence, scoreCutoff := s.cfg.MinConfidence, s.cfg.ScoreCutoff
	s.cfgMu.Unlock()

	s.log.WithFields(map[string]interface{}{
		"min_confidence": minConfidence,
		"score_cutoff":   scoreCutoff,
	}).Info("thresholds overridden by admin")
	c.JSON(http.StatusOK, gin.H{"min_confidence": minConfidence, "score_cutoff": scoreCutoff})
}
