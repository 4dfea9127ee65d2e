// Package inference serves per-customer recommendation queries at
// request time (S6): the precomputed lookup path, and the cold-start
// path that places a new customer into an existing segment's
// clustering. Grounded on the platform's DistributionController
// (distribution_service) for the gin handler shape, and AuthService
// (api_gateway) for the JWT-guarded admin endpoint.
package inference

import (
	"fmt"
	"sort"
	"sync"

	"github.com/iaros/recommend-engine/internal/archive"
	"github.com/iaros/recommend-engine/internal/model"
)

// Snapshot is the read-only state loaded at startup: models and the
// final recommendation table are loaded once into a read-only shared
// snapshot, and requests read it without locking. A refreshed snapshot
// replaces the pointer atomically; in-flight requests keep using the
// snapshot they started with.
type Snapshot struct {
	ArchiveDir      string
	Manifest        *archive.Manifest
	RecommendationsByCustomer map[string][]model.RecommendationRow
	scalers map[string]*archive.Scaler
	models  map[string]*archive.KMeansModel
}

// Load reads the archive directory and final recommendation table
// into a new Snapshot.
func Load(archiveDir string, finalRecs []model.RecommendationRow) (*Snapshot, error) {
	manifest, err := archive.ReadManifest(archiveDir)
	if err != nil {
		return nil, fmt.Errorf("load model registry: %w", err)
	}

	byCustomer := make(map[string][]model.RecommendationRow)
	for _, r := range finalRecs {
		byCustomer[r.CustomerID] = append(byCustomer[r.CustomerID], r)
	}
	for cust := range byCustomer {
		rows := byCustomer[cust]
		sort.Slice(rows, func(i, j int) bool { return rows[i].Rank < rows[j].Rank })
		byCustomer[cust] = rows
	}

	scalers := make(map[string]*archive.Scaler)
	models := make(map[string]*archive.KMeansModel)
	for segment := range manifest.Segments {
		scaler, km, err := archive.ReadSegment(archiveDir, segment)
		if err != nil {
			return nil, fmt.Errorf("load segment %s: %w", segment, err)
		}
		scalers[segment] = scaler
		models[segment] = km
	}

	return &Snapshot{
		ArchiveDir:                archiveDir,
		Manifest:                  manifest,
		RecommendationsByCustomer: byCustomer,
		scalers:                   scalers,
		models:                    models,
	}, nil
}

// Holder lets the inference server atomically swap snapshots when the
// background refresh (cmd/inference's cron job) loads a newer archive.
type Holder struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewHolder wraps an initial snapshot.
func NewHolder(initial *Snapshot) *Holder {
	return &Holder{snap: initial}
}

// Get returns the current snapshot.
func (h *Holder) Get() *Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}

// Swap replaces the snapshot.
func (h *Holder) Swap(next *Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap = next
}

// Precomputed returns the customer's precomputed recommendations, if any.
func (s *Snapshot) Precomputed(customerID string) ([]model.RecommendationRow, bool) {
	rows, ok := s.RecommendationsByCustomer[customerID]
	return rows, ok
}

// ColdStart builds a feature vector in the segment's column order
// (missing features default to 0), standardizes it, and predicts a
// cluster_id.
func (s *Snapshot) ColdStart(segment string, purchaseVector map[string]float64) (clusterID string, ok bool) {
	km, hasModel := s.models[segment]
	scaler, hasScaler := s.scalers[segment]
	if !hasModel || !hasScaler {
		return "", false
	}
	vec := make([]float64, len(km.FeatureCols))
	for i, col := range km.FeatureCols {
		if v, present := purchaseVector[col]; present {
			vec[i] = v
		}
	}
	standardized := scaler.Transform(vec)
	return km.Predict(standardized), true
}

// KnownSegment reports whether the snapshot has a model for segment.
func (s *Snapshot) KnownSegment(segment string) bool {
	_, ok := s.models[segment]
	return ok
}
