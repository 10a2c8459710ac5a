package services

import (
	"math"
	"math/rand"
)

// kmeansSeed fixes the PRNG so a given sample always yields the same
// partition. Drift scores must be reproducible across re-runs over the
// same windows.
const kmeansSeed = 42

const kmeansMaxIterations = 50

// kmeansModel is a fitted k-means partition: centroids plus the
// assignment of the training sample.
type kmeansModel struct {
	centroids [][]float64
	labels    []int
}

// fitKMeans clusters the sample into k groups with Lloyd's algorithm
// and k-means++ seeding. Deterministic for a given sample and k.
// Callers must ensure len(vecs) >= k.
func fitKMeans(vecs [][]float32, k int) kmeansModel {
	rng := rand.New(rand.NewSource(kmeansSeed))
	dim := len(vecs[0])

	points := make([][]float64, len(vecs))
	for i, v := range vecs {
		row := make([]float64, dim)
		for j := 0; j < dim; j++ {
			row[j] = float64(v[j])
		}
		points[i] = row
	}

	centroids := seedCentroids(points, k, rng)
	labels := make([]int, len(points))

	for iter := 0; iter < kmeansMaxIterations; iter++ {
		moved := false
		for i, p := range points {
			best := nearestCentroid(p, centroids)
			if best != labels[i] {
				labels[i] = best
				moved = true
			}
		}

		// Recompute centroids; an emptied cluster keeps its position.
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, p := range points {
			c := labels[i]
			counts[c]++
			for j, x := range p {
				sums[c][j] += x
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			for j := range sums[c] {
				centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}

		if !moved && iter > 0 {
			break
		}
	}

	return kmeansModel{centroids: centroids, labels: labels}
}

// assign labels each vector with its nearest centroid.
func (m kmeansModel) assign(vecs [][]float32) []int {
	labels := make([]int, len(vecs))
	point := make([]float64, len(m.centroids[0]))
	for i, v := range vecs {
		for j := range point {
			point[j] = float64(v[j])
		}
		labels[i] = nearestCentroid(point, m.centroids)
	}
	return labels
}

// seedCentroids implements k-means++ initialisation.
func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := points[rng.Intn(len(points))]
	centroids = append(centroids, append([]float64(nil), first...))

	dists := make([]float64, len(points))
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			d := math.Inf(1)
			for _, c := range centroids {
				if dd := squaredDistance(p, c); dd < d {
					d = dd
				}
			}
			dists[i] = d
			total += d
		}
		if total == 0 {
			// All remaining points coincide with a centroid.
			centroids = append(centroids, append([]float64(nil), points[rng.Intn(len(points))]...))
			continue
		}
		target := rng.Float64() * total
		var acc float64
		chosen := len(points) - 1
		for i, d := range dists {
			acc += d
			if acc >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, append([]float64(nil), points[chosen]...))
	}
	return centroids
}

func nearestCentroid(p []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := squaredDistance(p, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// silhouetteScore computes the mean silhouette coefficient of the given
// partition. Vectors in singleton or empty clusters contribute 0.
// Returns 0 when fewer than 2 clusters are populated.
func silhouetteScore(vecs [][]float32, labels []int, k int) float64 {
	n := len(vecs)
	if n < 2 {
		return 0
	}

	counts := make([]int, k)
	for _, l := range labels {
		counts[l]++
	}
	populated := 0
	for _, c := range counts {
		if c > 0 {
			populated++
		}
	}
	if populated < 2 {
		return 0
	}

	points := make([][]float64, n)
	for i, v := range vecs {
		row := make([]float64, len(v))
		for j, x := range v {
			row[j] = float64(x)
		}
		points[i] = row
	}

	var total float64
	meanDist := make([]float64, k)
	for i, p := range points {
		for c := range meanDist {
			meanDist[c] = 0
		}
		for j, q := range points {
			if i == j {
				continue
			}
			meanDist[labels[j]] += math.Sqrt(squaredDistance(p, q))
		}

		own := labels[i]
		if counts[own] < 2 {
			continue // singleton: silhouette defined as 0
		}
		a := meanDist[own] / float64(counts[own]-1)

		b := math.Inf(1)
		for c := 0; c < k; c++ {
			if c == own || counts[c] == 0 {
				continue
			}
			if d := meanDist[c] / float64(counts[c]); d < b {
				b = d
			}
		}

		if max := math.Max(a, b); max > 0 {
			total += (b - a) / max
		}
	}
	return total / float64(n)
}
