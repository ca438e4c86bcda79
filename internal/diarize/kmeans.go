package diarize

import "math"

type kmeansResult struct {
	labels    []int
	centroids [][]float64
}

// standardize rescales every dimension to zero mean and unit variance.
// Dimensions with std below floor are divided by floor instead, so nearly
// constant features stay nearly constant.
func standardize(points [][]float64, floor float64) [][]float64 {
	if len(points) == 0 {
		return nil
	}
	dim := len(points[0])
	mean := make([]float64, dim)
	for _, p := range points {
		for d, v := range p {
			mean[d] += v
		}
	}
	for d := range mean {
		mean[d] /= float64(len(points))
	}
	std := make([]float64, dim)
	for _, p := range points {
		for d, v := range p {
			diff := v - mean[d]
			std[d] += diff * diff
		}
	}
	for d := range std {
		std[d] = math.Max(math.Sqrt(std[d]/float64(len(points))), floor)
	}

	out := make([][]float64, len(points))
	for i, p := range points {
		row := make([]float64, dim)
		for d, v := range p {
			row[d] = (v - mean[d]) / std[d]
		}
		out[i] = row
	}
	return out
}

// kmeans runs Lloyd's algorithm from a farthest-first seeding that starts
// at the first point. Ties always go to the lowest index, which makes the
// result fully deterministic.
func kmeans(points [][]float64, k, maxIter int) kmeansResult {
	centroids := seed(points, k)
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			best := nearestCentroid(p, centroids)
			if best != labels[i] {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		updateCentroids(points, labels, centroids)
	}
	return kmeansResult{labels: labels, centroids: centroids}
}

func seed(points [][]float64, k int) [][]float64 {
	centroids := [][]float64{clone(points[0])}
	minDist := make([]float64, len(points))
	for i, p := range points {
		minDist[i] = sqDist(p, centroids[0])
	}
	for len(centroids) < k {
		far := 0
		for i := range points {
			if minDist[i] > minDist[far] {
				far = i
			}
		}
		c := clone(points[far])
		centroids = append(centroids, c)
		for i, p := range points {
			minDist[i] = math.Min(minDist[i], sqDist(p, c))
		}
	}
	return centroids
}

func updateCentroids(points [][]float64, labels []int, centroids [][]float64) {
	dim := len(points[0])
	counts := make([]int, len(centroids))
	sums := make([][]float64, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, p := range points {
		counts[labels[i]]++
		for d, v := range p {
			sums[labels[i]][d] += v
		}
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue // keep the previous position for an empty cluster
		}
		for d := range centroids[c] {
			centroids[c][d] = sums[c][d] / float64(counts[c])
		}
	}
}

func nearestCentroid(p []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, cen := range centroids {
		if d := sqDist(p, cen); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// silhouette is the mean silhouette coefficient over the sampled points,
// computed against the sample only. Points in singleton clusters score 0.
func silhouette(points [][]float64, labels []int, k int, sample []int) float64 {
	if len(sample) < 2 {
		return 0
	}
	var total float64
	for _, i := range sample {
		sums := make([]float64, k)
		counts := make([]int, k)
		for _, j := range sample {
			if i == j {
				continue
			}
			sums[labels[j]] += math.Sqrt(sqDist(points[i], points[j]))
			counts[labels[j]]++
		}
		own := labels[i]
		if counts[own] == 0 {
			continue
		}
		a := sums[own] / float64(counts[own])
		b := math.Inf(1)
		for c := 0; c < k; c++ {
			if c == own || counts[c] == 0 {
				continue
			}
			b = math.Min(b, sums[c]/float64(counts[c]))
		}
		if math.IsInf(b, 1) {
			continue
		}
		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	return total / float64(len(sample))
}

// strideSample picks at most limit evenly spaced indices from [0, n).
func strideSample(n, limit int) []int {
	if n <= limit {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, limit)
	for i := range out {
		out[i] = i * n / limit
	}
	return out
}

// means returns the mean of each non-empty cluster.
func means(points [][]float64, labels []int, k int) [][]float64 {
	dim := len(points[0])
	sums := make([][]float64, k)
	counts := make([]int, k)
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, p := range points {
		counts[labels[i]]++
		for d, v := range p {
			sums[labels[i]][d] += v
		}
	}
	var out [][]float64
	for c, sum := range sums {
		if counts[c] == 0 {
			continue
		}
		for d := range sum {
			sum[d] /= float64(counts[c])
		}
		out = append(out, sum)
	}
	return out
}

func minCentroidDistance(centroids [][]float64) float64 {
	best := math.Inf(1)
	for i := range centroids {
		for j := i + 1; j < len(centroids); j++ {
			best = math.Min(best, math.Sqrt(sqDist(centroids[i], centroids[j])))
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func clone(p []float64) []float64 { return append([]float64(nil), p...) }
