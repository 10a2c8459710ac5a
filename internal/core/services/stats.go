package services

import "math"

// Numeric kernels for the embedding drift detector. All arithmetic is
// done in float64 regardless of the stored vector precision.

// meanVector returns the component-wise mean of the vectors.
// All vectors must share the same length.
func meanVector(vecs [][]float32) []float64 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	mean := make([]float64, dim)
	for _, v := range vecs {
		for i := 0; i < dim; i++ {
			mean[i] += float64(v[i])
		}
	}
	n := float64(len(vecs))
	for i := range mean {
		mean[i] /= n
	}
	return mean
}

// euclideanDistance returns the L2 distance between two vectors.
func euclideanDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// cosineDistance returns 1 - cos(a, b). Zero vectors yield distance 0.
func cosineDistance(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Guard rounding outside [-1, 1].
	if cos > 1 {
		cos = 1
	}
	if cos < -1 {
		cos = -1
	}
	return 1 - cos
}

// scalarVariance returns the population variance over every component of
// every vector, treating the whole sample as one flat population.
func scalarVariance(vecs [][]float32) float64 {
	var n int
	var sum float64
	for _, v := range vecs {
		for _, x := range v {
			sum += float64(x)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	var ss float64
	for _, v := range vecs {
		for _, x := range v {
			d := float64(x) - mean
			ss += d * d
		}
	}
	return ss / float64(n)
}

// principalAxis estimates the first principal axis of the sample via
// power iteration on the centred data. The returned unit vector is
// deterministic for a given sample. Falls back to the first basis
// vector when the sample has no variance.
func principalAxis(vecs [][]float32, iterations int) []float64 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	mean := meanVector(vecs)

	centred := make([][]float64, len(vecs))
	for i, v := range vecs {
		row := make([]float64, dim)
		for j := 0; j < dim; j++ {
			row[j] = float64(v[j]) - mean[j]
		}
		centred[i] = row
	}

	// Deterministic start: all-ones, normalised.
	axis := make([]float64, dim)
	for i := range axis {
		axis[i] = 1
	}
	normalise(axis)

	// v <- XᵀX v without materialising the covariance matrix.
	next := make([]float64, dim)
	proj := make([]float64, len(centred))
	for iter := 0; iter < iterations; iter++ {
		for i, row := range centred {
			var dot float64
			for j := 0; j < dim; j++ {
				dot += row[j] * axis[j]
			}
			proj[i] = dot
		}
		for j := range next {
			next[j] = 0
		}
		for i, row := range centred {
			p := proj[i]
			for j := 0; j < dim; j++ {
				next[j] += row[j] * p
			}
		}
		if !normalise(next) {
			// Degenerate sample: no variance along any direction.
			for i := range axis {
				axis[i] = 0
			}
			axis[0] = 1
			return axis
		}
		copy(axis, next)
	}
	return axis
}

// normalise scales v to unit length in place. Returns false when v is
// (numerically) zero.
func normalise(v []float64) bool {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm < 1e-12 {
		return false
	}
	for i := range v {
		v[i] /= norm
	}
	return true
}

// projectOnto returns the scalar projection of each vector onto axis,
// after subtracting the supplied mean.
func projectOnto(vecs [][]float32, mean, axis []float64) []float64 {
	out := make([]float64, len(vecs))
	for i, v := range vecs {
		var dot float64
		for j := range axis {
			dot += (float64(v[j]) - mean[j]) * axis[j]
		}
		out[i] = dot
	}
	return out
}

// populationStabilityIndex computes PSI between a baseline sample and a
// current sample of scalar projections. Bin edges are deciles of the
// baseline distribution; counts carry +1 smoothing so empty bins never
// produce infinities.
func populationStabilityIndex(baseline, current []float64, bins int) float64 {
	if len(baseline) == 0 || len(current) == 0 || bins < 2 {
		return 0
	}

	lo, hi := baseline[0], baseline[0]
	for _, x := range baseline {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	if hi == lo {
		hi = lo + 1e-9
	}
	width := (hi - lo) / float64(bins)

	binIndex := func(x float64) int {
		i := int((x - lo) / width)
		if i < 0 {
			i = 0
		}
		if i >= bins {
			i = bins - 1
		}
		return i
	}

	baseCounts := make([]float64, bins)
	curCounts := make([]float64, bins)
	for _, x := range baseline {
		baseCounts[binIndex(x)]++
	}
	for _, x := range current {
		curCounts[binIndex(x)]++
	}

	var psi float64
	baseTotal := float64(len(baseline) + bins)
	curTotal := float64(len(current) + bins)
	for i := 0; i < bins; i++ {
		basePct := (baseCounts[i] + 1) / baseTotal
		curPct := (curCounts[i] + 1) / curTotal
		psi += (curPct - basePct) * math.Log(curPct/basePct)
	}
	return psi
}

// psiToScore maps a raw PSI value onto [0, 1] using the conventional
// banding: below 0.1 stable, 0.1-0.2 moderate (linear ramp), above 0.2
// significant.
func psiToScore(psi float64) float64 {
	return clamp01((psi - 0.1) / 0.1)
}

// clamp01 bounds x to [0, 1].
func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// relativeExcess is the bounded excess of a rate over its threshold:
// min(max(rate-threshold, 0)/threshold, 1).
func relativeExcess(rate, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	return clamp01((rate - threshold) / threshold)
}

// meanStd returns the mean and population standard deviation of xs.
func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}
