package archive_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iaros/recommend-engine/internal/archive"
	"github.com/iaros/recommend-engine/internal/model"
)

func TestScalerTransformStandardizes(t *testing.T) {
	s := &archive.Scaler{Mean: []float64{2, 10}, StdDev: []float64{2, 5}}
	out := s.Transform([]float64{4, 15})
	assert.InDelta(t, 1.0, out[0], 1e-9)
	assert.InDelta(t, 1.0, out[1], 1e-9)
}

func TestScalerTransformZeroVarianceColumnMapsToZero(t *testing.T) {
	s := &archive.Scaler{Mean: []float64{2}, StdDev: []float64{0}}
	out := s.Transform([]float64{99})
	assert.Equal(t, 0.0, out[0])
}

func TestKMeansModelPredictNearestCentroid(t *testing.T) {
	km := &archive.KMeansModel{
		Segment:     "West_Plumbing",
		K:           2,
		Centroids:   [][]float64{{0, 0}, {5, 5}},
		FeatureCols: []string{"a", "b"},
	}
	assert.Equal(t, "West_Plumbing_0", km.Predict([]float64{0.1, 0.1}))
	assert.Equal(t, "West_Plumbing_1", km.Predict([]float64{4.9, 4.9}))
}

func TestWriteSegmentThenReadSegmentRoundTrips(t *testing.T) {
	dir := t.TempDir()
	scaler := &archive.Scaler{Mean: []float64{1, 2}, StdDev: []float64{3, 4}}
	km := &archive.KMeansModel{
		Segment:     "West_Plumbing",
		K:           2,
		Centroids:   [][]float64{{0, 0}, {1, 1}},
		FeatureCols: []string{"l2:Valves", "rfm:recency"},
	}

	require.NoError(t, archive.WriteSegment(dir, "West_Plumbing", scaler, km))

	gotScaler, gotModel, err := archive.ReadSegment(dir, "West_Plumbing")
	require.NoError(t, err)
	assert.Equal(t, scaler.Mean, gotScaler.Mean)
	assert.Equal(t, scaler.StdDev, gotScaler.StdDev)
	assert.Equal(t, km.Centroids, gotModel.Centroids)
	assert.Equal(t, km.FeatureCols, gotModel.FeatureCols)
}

func TestWriteManifestThenReadManifestRoundTrips(t *testing.T) {
	dir := t.TempDir()
	sil := 0.42
	manifest := &archive.Manifest{
		GeneratedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		RandomSeed:  42,
		Segments: map[string]model.SegmentModel{
			"West_Plumbing": {Segment: "West_Plumbing", K: 3, Silhouette: &sil, FeatureCols: []string{"a"}},
		},
	}

	require.NoError(t, archive.WriteManifest(dir, manifest))

	got, err := archive.ReadManifest(dir)
	require.NoError(t, err)
	require.Contains(t, got.Segments, "West_Plumbing")
	assert.Equal(t, 3, got.Segments["West_Plumbing"].K)
	require.NotNil(t, got.Segments["West_Plumbing"].Silhouette)
	assert.InDelta(t, 0.42, *got.Segments["West_Plumbing"].Silhouette, 1e-9)
}

func TestReadSegmentMissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := archive.ReadSegment(dir, "does_not_exist")
	assert.Error(t, err)
}
