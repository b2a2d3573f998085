package scorer

import (
	"math"
	"math/rand/v2"
)

// eulerGamma is the Euler–Mascheroni constant used by the harmonic estimate.
const eulerGamma = 0.5772156649015329

// avgPathLength is c(n): the average path length of an unsuccessful search
// in a binary search tree of n points, used to normalise isolation depth.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

type itree struct {
	left, right *itree
	feature     int
	split       float64
	size        int // leaf only
}

func (t *itree) leaf() bool { return t.left == nil }

// forest is an isolation forest fitted on one window.
type forest struct {
	trees []*itree
	psi   int
}

// fitForest grows ntrees isolation trees, each on a subsample of at most
// maxSamples points drawn without replacement.
func fitForest(points [][]float64, ntrees, maxSamples int, rng *rand.Rand) *forest {
	psi := min(maxSamples, len(points))
	limit := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	f := &forest{trees: make([]*itree, ntrees), psi: psi}
	sample := make([][]float64, psi)
	for i := range f.trees {
		perm := rng.Perm(len(points))
		for j := 0; j < psi; j++ {
			sample[j] = points[perm[j]]
		}
		f.trees[i] = growTree(append([][]float64(nil), sample...), 0, limit, rng)
	}
	return f
}

func growTree(points [][]float64, depth, limit int, rng *rand.Rand) *itree {
	if depth >= limit || len(points) <= 1 {
		return &itree{size: len(points)}
	}

	// Pick among features that still vary; identical points cannot be split.
	dims := len(points[0])
	var candidates []int
	for d := 0; d < dims; d++ {
		lo, hi := bounds(points, d)
		if hi > lo {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return &itree{size: len(points)}
	}

	feature := candidates[rng.IntN(len(candidates))]
	lo, hi := bounds(points, feature)
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, p := range points {
		if p[feature] < split {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}
	return &itree{
		feature: feature,
		split:   split,
		left:    growTree(left, depth+1, limit, rng),
		right:   growTree(right, depth+1, limit, rng),
	}
}

func bounds(points [][]float64, d int) (lo, hi float64) {
	lo, hi = points[0][d], points[0][d]
	for _, p := range points[1:] {
		lo = math.Min(lo, p[d])
		hi = math.Max(hi, p[d])
	}
	return lo, hi
}

func pathLength(x []float64, t *itree, depth int) float64 {
	for !t.leaf() {
		if x[t.feature] < t.split {
			t = t.left
		} else {
			t = t.right
		}
		depth++
	}
	return float64(depth) + avgPathLength(t.size)
}

// score returns the anomaly score 2^(-E[h(x)]/c(psi)) in (0, 1]. Scores near
// 1 are isolated quickly; scores at or below 0.5 look like the bulk.
func (f *forest) score(x []float64) float64 {
	c := avgPathLength(f.psi)
	if c == 0 {
		return 0
	}
	var total float64
	for _, t := range f.trees {
		total += pathLength(x, t, 0)
	}
	mean := total / float64(len(f.trees))
	return math.Pow(2, -mean/c)
}
