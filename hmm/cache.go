package hmm

import (
	"math"

	"github.com/gonum/floats"
	"github.com/gonum/matrix/mat64"
)

// SaturationTol is the L1 distance between two consecutive cache
// matrices below which the sequence is considered converged.
const SaturationTol = 1e-10

// MinCacheLength is the smallest cache length.
const MinCacheLength = 50

// Cache stores scaled transition matrix powers interleaved with the
// "no mutation" emission: D(0) = A, D(k+1) ∝ (A·diag(e0))·D(k).
// C(k) is the log of the accumulated scale of D(k).
type Cache struct {
	d    []*mat64.Dense
	c    []float64
	sat  int
	logS float64
	// Saturated is true if the fixed point was reached.
	Saturated bool
}

// NewCache computes up to length matrices, stopping early at the
// fixed point.
func NewCache(a *mat64.Dense, e0 []float64, length int) *Cache {
	if length < 1 {
		length = 1
	}
	n, _ := a.Dims()
	ae := mat64.NewDense(n, n, nil)
	ae.Apply(func(i, j int, v float64) float64 {
		return v * e0[j]
	}, a)

	c := &Cache{
		d:   []*mat64.Dense{mat64.DenseCopyOf(a)},
		c:   []float64{0},
		sat: length - 1,
	}
	for i := 0; i < length-1; i++ {
		t := mat64.NewDense(n, n, nil)
		t.Mul(ae, c.d[i])
		s := mat64.Sum(t) / float64(n)
		t.Scale(1/s, t)
		c.logS = math.Log(s)
		c.d = append(c.d, t)
		c.c = append(c.c, c.c[i]+c.logS)
		if floats.Distance(t.RawMatrix().Data, c.d[i].RawMatrix().Data, 1) <= SaturationTol {
			c.sat = i + 1
			c.Saturated = true
			break
		}
	}
	return c
}

// Saturation returns the index of the fixed point matrix (or the
// last computed index if the sequence did not converge).
func (c *Cache) Saturation() int {
	return c.sat
}

// Len returns the number of stored matrices.
func (c *Cache) Len() int {
	return len(c.d)
}

// D returns the k-th matrix, for k beyond the saturation index the
// fixed point matrix is returned.
func (c *Cache) D(k int) *mat64.Dense {
	if k < len(c.d) {
		return c.d[k]
	}
	return c.d[len(c.d)-1]
}

// C returns the log scale of D(k).
func (c *Cache) C(k int) float64 {
	last := len(c.c) - 1
	if k <= last {
		return c.c[k]
	}
	return c.c[last] + float64(k-last)*c.logS
}
