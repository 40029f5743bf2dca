package hmm

import (
	"fmt"
	"math"

	"github.com/gonum/floats"
	"github.com/mrrlab/divhmm/obs"
)

// FB stores forward-backward results of a single sequence. Alpha is
// normalized at every step; Beta is scaled with the same factors, so
// that sum(Alpha[t]*Beta[t]) is the same for every t.
type FB struct {
	Alpha [][]float64
	Beta  [][]float64
	// Gamma is the posterior state occupancy of every event.
	Gamma [][]float64
	// Scale is the per-step normalizer (without cache offsets).
	Scale []float64
	// LogNorm is the accumulated log normalizer including cache
	// offsets.
	LogNorm float64
	// LogL is the sequence log-likelihood including the return to
	// the background state after the last event.
	LogL float64
}

// gapIndex returns the cache index for a gap.
func gapIndex(gap int) int {
	if gap < 1 {
		return 0
	}
	return gap - 1
}

// ForwardBackward runs the scaled forward-backward recursion over
// an event sequence.
func ForwardBackward(seq obs.Sequence, p *Params, c *Cache) (*FB, error) {
	n := len(seq)
	na := p.NA()
	fb := &FB{
		Alpha: make([][]float64, n),
		Beta:  make([][]float64, n),
		Gamma: make([][]float64, n),
		Scale: make([]float64, n),
	}
	if n == 0 {
		return fb, nil
	}

	emissions := make([][]float64, p.NB())
	for cat := range emissions {
		emissions[cat] = p.Emission(cat)
	}

	a := vecMat(nil, p.Pi, p.A)
	floats.Mul(a, emissions[seq[0].Cat])
	s := normalize(a)
	if !(s > 0) || math.IsInf(s, 0) {
		return nil, fmt.Errorf("%w: forward step 0 (pos %d)", ErrNumericalDegeneracy, seq[0].Pos)
	}
	fb.Alpha[0] = a
	fb.Scale[0] = s
	fb.LogNorm = math.Log(s)

	for t := 1; t < n; t++ {
		k := gapIndex(seq[t].Gap)
		a = vecMat(nil, fb.Alpha[t-1], c.D(k))
		floats.Mul(a, emissions[seq[t].Cat])
		s = normalize(a)
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: forward step %d (pos %d)", ErrNumericalDegeneracy, t, seq[t].Pos)
		}
		fb.Alpha[t] = a
		fb.Scale[t] = s
		fb.LogNorm += math.Log(s) + c.C(k)
	}

	b := make([]float64, na)
	for i := range b {
		b[i] = p.A.At(i, 0)
	}
	fb.Beta[n-1] = b
	tmp := make([]float64, na)
	for t := n - 1; t > 0; t-- {
		floats.MulTo(tmp, fb.Beta[t], emissions[seq[t].Cat])
		b = matVec(nil, c.D(gapIndex(seq[t].Gap)), tmp)
		floats.Scale(1/fb.Scale[t], b)
		fb.Beta[t-1] = b
	}

	end := floats.Dot(fb.Alpha[n-1], fb.Beta[n-1])
	if !(end > 0) {
		return nil, fmt.Errorf("%w: no return to the background state", ErrNumericalDegeneracy)
	}
	fb.LogL = fb.LogNorm + math.Log(end)

	for t := range fb.Gamma {
		g := make([]float64, na)
		floats.MulTo(g, fb.Alpha[t], fb.Beta[t])
		if normalize(g) == 0 {
			return nil, fmt.Errorf("%w: empty posterior at step %d", ErrNumericalDegeneracy, t)
		}
		fb.Gamma[t] = g
	}

	return fb, nil
}
