// Package cluster implements per-segment customer clustering (S2):
// proportion-feature construction, zero-variance column dropping,
// standardization, elbow-method k selection and a deterministic
// k-means. There is no linear-algebra or ML library anywhere in the
// retrieval pack (no gonum, no goml, no golearn) so the estimator
// itself is hand-rolled standard-library Go; the surrounding pipeline
// shape is grounded on the platform's BehavioralClusterer
// (segmentation_engine.go), which frames clustering the same way:
// feature extraction -> fit -> persisted model -> cluster profile.
package cluster

import (
	"math"
	mathrand "math/rand"
	"sort"
	"strconv"

	"github.com/iaros/recommend-engine/internal/archive"
	"github.com/iaros/recommend-engine/internal/config"
	"github.com/iaros/recommend-engine/internal/logging"
	"github.com/iaros/recommend-engine/internal/model"
	"github.com/iaros/recommend-engine/internal/pipelineerr"
)

const stageName = "clustering"

// SegmentResult is one segment's fitted outcome.
type SegmentResult struct {
	Segment     string
	Assignments []model.ClusterAssignment
	Model       model.SegmentModel
	Scaler      *archive.Scaler
	KMeans      *archive.KMeansModel
}

// Run clusters every segment present in the basket rows independently.
// Segments are independent and could be fit concurrently; this runs
// them sequentially so log output stays in a deterministic order.
func Run(rows []model.BasketRow, cfg *config.Config, log *logging.Logger) ([]SegmentResult, error) {
	if len(rows) == 0 {
		return nil, pipelineerr.NewDataQualityError(stageName, "no basket rows supplied", "rerun market basket with looser thresholds", 0)
	}

	bySegment := make(map[string][]model.BasketRow)
	for _, r := range rows {
		bySegment[r.Segment] = append(bySegment[r.Segment], r)
	}

	segments := make([]string, 0, len(bySegment))
	for seg := range bySegment {
		segments = append(segments, seg)
	}
	sort.Strings(segments)

	results := make([]SegmentResult, 0, len(segments))
	for _, seg := range segments {
		res, err := fitSegment(seg, bySegment[seg], cfg, log)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	return results, nil
}

func fitSegment(segment string, rows []model.BasketRow, cfg *config.Config, log *logging.Logger) (*SegmentResult, error) {
	customerIDs, featureCols, matrix := buildFeatureMatrix(rows, cfg.FeatureGroups)
	n := len(customerIDs)

	if n < cfg.MinClusterCustomers {
		assignments := make([]model.ClusterAssignment, 0, n)
		clusterID := segment + "_0"
		for _, cid := range customerIDs {
			assignments = append(assignments, model.ClusterAssignment{CustomerID: cid, ClusterID: clusterID, Segment: segment})
		}
		return &SegmentResult{
			Segment:     segment,
			Assignments: assignments,
			Model: model.SegmentModel{
				Segment: segment, K: 1, FeatureGroups: cfg.FeatureGroups, FeatureCols: featureCols, NCustomers: n,
			},
			Scaler: &archive.Scaler{Mean: make([]float64, len(featureCols)), StdDev: make([]float64, len(featureCols))},
			KMeans: &archive.KMeansModel{Segment: segment, K: 1, Centroids: [][]float64{meanVector(matrix)}, FeatureCols: featureCols},
		}, nil
	}

	featureCols, matrix = dropZeroVariance(featureCols, matrix)
	scaler, standardized := standardize(featureCols, matrix)

	maxK := cfg.MaxK
	if maxK > n-1 {
		maxK = n - 1
	}
	if maxK < 2 {
		maxK = 2
	}

	type fit struct {
		k         int
		inertia   float64
		centroids [][]float64
		labels    []int
	}
	fits := make([]fit, 0, maxK-1)
	for k := 2; k <= maxK; k++ {
		centroids, labels, inertia := kmeans(standardized, k, cfg.RandomSeed)
		fits = append(fits, fit{k, inertia, centroids, labels})
	}

	// fits[i-1] is k=i+1, fits[i] is k=i+2: the drop computed here is the
	// drop *into* fits[i], so a drop below threshold means fits[i] (not
	// fits[i-1]) is the elbow.
	chosenIdx := len(fits) - 1
	for i := 1; i < len(fits); i++ {
		prev, cur := fits[i-1].inertia, fits[i].inertia
		if prev <= 0 {
			chosenIdx = i
			break
		}
		pctDrop := (prev - cur) / prev * 100
		if pctDrop < cfg.ElbowThresholdPct {
			chosenIdx = i
			break
		}
	}
	chosen := fits[chosenIdx]

	sil := silhouette(standardized, chosen.labels, chosen.k)
	if sil < cfg.SilhouetteWarnBelow {
		log.InvariantLogger("low_silhouette_score", map[string]interface{}{
			"segment": segment, "silhouette": sil, "k": chosen.k,
		})
	}

	assignments := make([]model.ClusterAssignment, 0, n)
	for i, cid := range customerIDs {
		assignments = append(assignments, model.ClusterAssignment{
			CustomerID: cid,
			ClusterID:  clusterLabel(segment, chosen.labels[i]),
			Segment:    segment,
		})
	}

	silCopy := sil
	return &SegmentResult{
		Segment:     segment,
		Assignments: assignments,
		Model: model.SegmentModel{
			Segment: segment, K: chosen.k, Inertia: chosen.inertia, Silhouette: &silCopy,
			FeatureGroups: cfg.FeatureGroups, FeatureCols: featureCols, NCustomers: n,
		},
		Scaler: scaler,
		KMeans: &archive.KMeansModel{Segment: segment, K: chosen.k, Centroids: chosen.centroids, FeatureCols: featureCols},
	}, nil
}

func clusterLabel(segment string, raw int) string {
	return segment + "_" + strconv.Itoa(raw)
}

// buildFeatureMatrix assembles the proportion feature matrix: L2
// category share of quantity, brand share, functionality share, plus
// the three RFM columns, outer-joined on customer_id with missing
// values filled with 0.
func buildFeatureMatrix(rows []model.BasketRow, featureGroups []string) (customerIDs, featureCols []string, matrix [][]float64) {
	enabled := make(map[string]bool, len(featureGroups))
	for _, g := range featureGroups {
		enabled[g] = true
	}

	custSet := make(map[string]bool)
	custTotalQty := make(map[string]int)
	for _, r := range rows {
		custSet[r.CustomerID] = true
		custTotalQty[r.CustomerID] += r.TotalQuantity
	}
	customerIDs = make([]string, 0, len(custSet))
	for c := range custSet {
		customerIDs = append(customerIDs, c)
	}
	sort.Strings(customerIDs)
	custIndex := make(map[string]int, len(customerIDs))
	for i, c := range customerIDs {
		custIndex[c] = i
	}

	type colSpec struct {
		name string
		key  func(model.BasketRow) string
	}
	var groupSpecs []colSpec
	if enabled["l2_qty"] {
		groupSpecs = append(groupSpecs, colSpec{"l2", func(r model.BasketRow) string { return r.L2Category }})
	}
	if enabled["brand"] {
		groupSpecs = append(groupSpecs, colSpec{"brand", func(r model.BasketRow) string { return r.Brand }})
	}
	if enabled["functionality"] {
		groupSpecs = append(groupSpecs, colSpec{"func", func(r model.BasketRow) string { return r.Functionality }})
	}

	colValues := make(map[string]map[string]float64) // colName -> customerID -> proportion numerator (qty)
	colNamesByGroup := make(map[string][]string)
	for _, spec := range groupSpecs {
		values := make(map[string]bool)
		for _, r := range rows {
			values[spec.key(r)] = true
		}
		names := make([]string, 0, len(values))
		for v := range values {
			names = append(names, v)
		}
		sort.Strings(names)
		for _, v := range names {
			colName := spec.name + ":" + v
			colNamesByGroup[spec.name] = append(colNamesByGroup[spec.name], colName)
			colValues[colName] = make(map[string]float64)
		}
		for _, r := range rows {
			colName := spec.name + ":" + spec.key(r)
			colValues[colName][r.CustomerID] += float64(r.TotalQuantity)
		}
	}

	for _, spec := range groupSpecs {
		featureCols = append(featureCols, colNamesByGroup[spec.name]...)
	}
	if enabled["rfm"] {
		featureCols = append(featureCols, "rfm:recency", "rfm:frequency", "rfm:monetary")
	}

	rfmByCust := make(map[string][3]float64)
	for _, r := range rows {
		rfmByCust[r.CustomerID] = [3]float64{r.RFMRecencyScore, r.RFMFrequencyScore, r.RFMMonetaryScore}
	}

	matrix = make([][]float64, len(customerIDs))
	for i, cid := range customerIDs {
		vec := make([]float64, len(featureCols))
		total := float64(custTotalQty[cid])
		for j, col := range featureCols {
			if len(col) >= 4 && col[:4] == "rfm:" {
				continue
			}
			if total <= 0 {
				continue
			}
			vec[j] = colValues[col][cid] / total
		}
		if enabled["rfm"] {
			rfm := rfmByCust[cid]
			n := len(featureCols)
			vec[n-3] = rfm[0]
			vec[n-2] = rfm[1]
			vec[n-1] = rfm[2]
		}
		matrix[i] = vec
	}
	return customerIDs, featureCols, matrix
}

// dropZeroVariance removes columns whose standard deviation is zero,
// preventing the NaN corruption a division-by-zero-stddev would cause
// in standardize.
func dropZeroVariance(cols []string, matrix [][]float64) ([]string, [][]float64) {
	if len(matrix) == 0 {
		return cols, matrix
	}
	numCols := len(cols)
	keep := make([]bool, numCols)
	for j := 0; j < numCols; j++ {
		mean := 0.0
		for _, row := range matrix {
			mean += row[j]
		}
		mean /= float64(len(matrix))
		var variance float64
		for _, row := range matrix {
			d := row[j] - mean
			variance += d * d
		}
		keep[j] = variance > 1e-12
	}
	newCols := make([]string, 0, numCols)
	for j, k := range keep {
		if k {
			newCols = append(newCols, cols[j])
		}
	}
	newMatrix := make([][]float64, len(matrix))
	for i, row := range matrix {
		newRow := make([]float64, 0, len(newCols))
		for j, k := range keep {
			if k {
				newRow = append(newRow, row[j])
			}
		}
		newMatrix[i] = newRow
	}
	return newCols, newMatrix
}

func standardize(cols []string, matrix [][]float64) (*archive.Scaler, [][]float64) {
	numCols := len(cols)
	mean := make([]float64, numCols)
	stddev := make([]float64, numCols)
	if len(matrix) == 0 {
		return &archive.Scaler{Mean: mean, StdDev: stddev}, matrix
	}
	for j := 0; j < numCols; j++ {
		for _, row := range matrix {
			mean[j] += row[j]
		}
		mean[j] /= float64(len(matrix))
	}
	for j := 0; j < numCols; j++ {
		var variance float64
		for _, row := range matrix {
			d := row[j] - mean[j]
			variance += d * d
		}
		variance /= float64(len(matrix))
		stddev[j] = math.Sqrt(variance)
	}
	out := make([][]float64, len(matrix))
	scaler := &archive.Scaler{Mean: mean, StdDev: stddev}
	for i, row := range matrix {
		out[i] = scaler.Transform(row)
	}
	return scaler, out
}

func meanVector(matrix [][]float64) []float64 {
	if len(matrix) == 0 {
		return nil
	}
	out := make([]float64, len(matrix[0]))
	for _, row := range matrix {
		for j, v := range row {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(len(matrix))
	}
	return out
}

// kmeans is a deterministic Lloyd's-algorithm implementation seeded by
// seed so reruns are byte-identical. Centroids are seeded with a
// fixed-seed shuffle of the data points (k-means++ is not used,
// keeping the algorithm simple and auditable).
func kmeans(points [][]float64, k int, seed int64) (centroids [][]float64, labels []int, inertia float64) {
	n := len(points)
	rng := mathrand.New(mathrand.NewSource(seed))
	perm := rng.Perm(n)
	centroids = make([][]float64, k)
	for i := 0; i < k; i++ {
		centroids[i] = append([]float64(nil), points[perm[i%n]]...)
	}

	labels = make([]int, n)
	const maxIters = 100
	for iter := 0; iter < maxIters; iter++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				d := sqDist(p, centroid)
				if d < bestDist {
					bestDist = d
					best = c
				}
			}
			if labels[i] != best {
				changed = true
			}
			labels[i] = best
		}

		newCentroids := make([][]float64, k)
		counts := make([]int, k)
		dims := len(points[0])
		for i := range newCentroids {
			newCentroids[i] = make([]float64, dims)
		}
		for i, p := range points {
			c := labels[i]
			counts[c]++
			for j, v := range p {
				newCentroids[c][j] += v
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				newCentroids[c] = centroids[c]
				continue
			}
			for j := range newCentroids[c] {
				newCentroids[c][j] /= float64(counts[c])
			}
		}
		centroids = newCentroids
		if !changed && iter > 0 {
			break
		}
	}

	for i, p := range points {
		inertia += sqDist(p, centroids[labels[i]])
	}
	return centroids, labels, inertia
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// silhouette computes the mean silhouette coefficient across all
// points. O(n^2); acceptable for the per-segment customer counts this
// pipeline targets.
func silhouette(points [][]float64, labels []int, k int) float64 {
	n := len(points)
	if n < 2 || k < 2 {
		return 0
	}
	byCluster := make(map[int][]int)
	for i, l := range labels {
		byCluster[l] = append(byCluster[l], i)
	}
	var total float64
	var counted int
	for i, p := range points {
		own := labels[i]
		if len(byCluster[own]) <= 1 {
			continue
		}
		a := meanDistTo(p, points, byCluster[own], i)
		b := math.Inf(1)
		for c, idxs := range byCluster {
			if c == own || len(idxs) == 0 {
				continue
			}
			d := meanDistTo(p, points, idxs, -1)
			if d < b {
				b = d
			}
		}
		s := 0.0
		if max := math.Max(a, b); max > 0 {
			s = (b - a) / max
		}
		total += s
		counted++
	}
	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}

func meanDistTo(p []float64, points [][]float64, idxs []int, exclude int) float64 {
	var sum float64
	var n int
	for _, idx := range idxs {
		if idx == exclude {
			continue
		}
		sum += math.Sqrt(sqDist(p, points[idx]))
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
