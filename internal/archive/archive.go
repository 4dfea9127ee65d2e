// Package archive persists the S2 clustering artifacts that S3, S4 and
// S6 all depend on: the per-segment standardization scaler, the
// feature-column ordering used to build that scaler, and a manifest
// tying every segment's model files together. Grounded on the
// platform's ModelManager pattern (versioned model blobs addressed
// through a registry) seen in segmentation_engine.go, adapted here to
// a filesystem-backed registry instead of Mongo since the artifacts
// are produced and consumed by the same batch run.
package archive

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iaros/recommend-engine/internal/model"
)

// Scaler holds the per-feature mean/stddev used to standardize a
// segment's feature matrix before k-means, so S6 can place a new
// customer's feature vector on the same scale at inference time.
type Scaler struct {
	Mean   []float64
	StdDev []float64
}

// Transform standardizes a single feature vector into a new slice,
// leaving the input unchanged. A zero-variance column (StdDev == 0) maps to 0, matching
// the training-time convention of dropping such columns before they
// ever reach the scaler.
func (s *Scaler) Transform(features []float64) []float64 {
	out := make([]float64, len(features))
	for i, v := range features {
		if i >= len(s.Mean) || i >= len(s.StdDev) || s.StdDev[i] == 0 {
			out[i] = 0
			continue
		}
		out[i] = (v - s.Mean[i]) / s.StdDev[i]
	}
	return out
}

// KMeansModel is the persisted form of a fitted segment model: cluster
// centroids in standardized feature space, plus enough metadata to
// reconstruct the cluster_id that S2 assigned.
type KMeansModel struct {
	Segment     string
	K           int
	Centroids   [][]float64
	FeatureCols []string
}

// Predict returns the cluster_id of the nearest centroid to a
// standardized feature vector, using squared Euclidean distance.
func (m *KMeansModel) Predict(standardized []float64) string {
	best := 0
	bestDist := -1.0
	for i, c := range m.Centroids {
		d := squaredDistance(c, standardized)
		if bestDist < 0 || d < bestDist {
			bestDist = d
			best = i
		}
	}
	return fmt.Sprintf("%s_%d", m.Segment, best)
}

func squaredDistance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Manifest is the top-level registry written alongside customer_clusters.csv
// (model_registry.json), one entry per segment: a single archive that
// downstream stages consume without needing to re-fit anything.
type Manifest struct {
	GeneratedAt time.Time                `json:"generated_at"`
	RandomSeed  int64                    `json:"random_seed"`
	Segments    map[string]model.SegmentModel `json:"segments"`
}

func segmentFile(dir, segment, suffix string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s", segment, suffix))
}

// WriteSegment persists one segment's scaler, model and feature column
// list, grouped under dir, the shared archive directory.
func WriteSegment(dir, segment string, scaler *Scaler, km *KMeansModel) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeGob(segmentFile(dir, segment, "scaler.bin"), scaler); err != nil {
		return fmt.Errorf("write scaler for segment %s: %w", segment, err)
	}
	if err := writeGob(segmentFile(dir, segment, "model.bin"), km); err != nil {
		return fmt.Errorf("write model for segment %s: %w", segment, err)
	}
	if err := writeJSON(segmentFile(dir, segment, "columns.json"), km.FeatureCols); err != nil {
		return fmt.Errorf("write columns for segment %s: %w", segment, err)
	}
	return nil
}

// ReadSegment loads one segment's scaler and model back from dir.
func ReadSegment(dir, segment string) (*Scaler, *KMeansModel, error) {
	var scaler Scaler
	if err := readGob(segmentFile(dir, segment, "scaler.bin"), &scaler); err != nil {
		return nil, nil, fmt.Errorf("read scaler for segment %s: %w", segment, err)
	}
	var km KMeansModel
	if err := readGob(segmentFile(dir, segment, "model.bin"), &km); err != nil {
		return nil, nil, fmt.Errorf("read model for segment %s: %w", segment, err)
	}
	return &scaler, &km, nil
}

// WriteManifest writes model_registry.json.
func WriteManifest(dir string, m *Manifest) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, "model_registry.json"), m)
}

// ReadManifest reads model_registry.json.
func ReadManifest(dir string) (*Manifest, error) {
	var m Manifest
	if err := readJSON(filepath.Join(dir, "model_registry.json"), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func writeGob(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(v)
}

func readGob(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewDecoder(f).Decode(v)
}

func writeJSON(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSON(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}
