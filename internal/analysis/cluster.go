package analysis

import (
	"fmt"
	"math"
)

// Metric selects the distance function used by clustering.
type Metric string

const (
	// MetricCosine measures angular distance, 1 - cosine similarity.
	MetricCosine Metric = "cosine"
	// MetricEuclidean measures straight-line distance.
	MetricEuclidean Metric = "euclidean"
)

// DistanceFunc computes the distance between two vectors.
type DistanceFunc func(a, b []float32) float64

// distanceFor maps a metric name to its distance function.
func distanceFor(m Metric) (DistanceFunc, error) {
	switch m {
	case MetricCosine, "":
		return CosineDistance, nil
	case MetricEuclidean:
		return EuclideanDistance, nil
	default:
		return nil, fmt.Errorf("%w: unknown distance metric %q", ErrInvalidConfig, m)
	}
}

// CosineDistance is 1 minus the cosine similarity of a and b. Zero vectors
// are treated as maximally distant.
func CosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// EuclideanDistance is the L2 distance between a and b.
func EuclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Noise labels points that belong to no cluster.
const Noise = -1

// Cluster runs DBSCAN over points and returns one label per point: cluster
// indices starting at 0, or Noise. A core point has at least minSamples
// points (itself included) within eps.
//
// The scan order is the input order, so labels are deterministic for a given
// point sequence.
func Cluster(points [][]float32, eps float64, minSamples int, dist DistanceFunc) []int {
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = Noise
	}
	visited := make([]bool, len(points))

	region := func(i int) []int {
		var nbrs []int
		for j := range points {
			if dist(points[i], points[j]) <= eps {
				nbrs = append(nbrs, j)
			}
		}
		return nbrs
	}

	cluster := 0
	for i := range points {
		if visited[i] {
			continue
		}
		visited[i] = true

		nbrs := region(i)
		if len(nbrs) < minSamples {
			continue // noise unless later claimed as a border point
		}

		labels[i] = cluster
		queue := append([]int(nil), nbrs...)
		for qi := 0; qi < len(queue); qi++ {
			j := queue[qi]
			if labels[j] == Noise {
				labels[j] = cluster
			}
			if visited[j] {
				continue
			}
			visited[j] = true
			labels[j] = cluster

			jn := region(j)
			if len(jn) >= minSamples {
				queue = append(queue, jn...)
			}
		}
		cluster++
	}
	return labels
}

// clusterSizes counts members per cluster label, ignoring noise.
func clusterSizes(labels []int) map[int]int {
	sizes := make(map[int]int)
	for _, l := range labels {
		if l == Noise {
			continue
		}
		sizes[l]++
	}
	return sizes
}

// largestCluster returns the label of the biggest non-noise cluster and its
// size. Ties go to the lower label, which corresponds to the earlier scan
// position, keeping selection deterministic. Returns (Noise, 0) when every
// point is noise.
func largestCluster(labels []int) (int, int) {
	sizes := clusterSizes(labels)
	best, bestSize := Noise, 0
	for label, size := range sizes {
		if size > bestSize || (size == bestSize && label < best) {
			best, bestSize = label, size
		}
	}
	return best, bestSize
}
