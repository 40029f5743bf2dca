package hmm

import (
	"github.com/gonum/floats"
	"github.com/gonum/matrix/mat64"
	"github.com/mrrlab/divhmm/obs"
)

// Counts are expected transition and emission counts.
type Counts struct {
	// A is NA x NA.
	A *mat64.Dense
	// B is NA x NB.
	B *mat64.Dense
	// LogL is the log-likelihood of the sequences.
	LogL float64
}

// NewCounts creates zero counts.
func NewCounts(na, nb int) *Counts {
	return &Counts{
		A: mat64.NewDense(na, na, nil),
		B: mat64.NewDense(na, nb, nil),
	}
}

// Add adds other counts to c.
func (c *Counts) Add(o *Counts) {
	c.A.Add(c.A, o.A)
	c.B.Add(c.B, o.B)
	c.LogL += o.LogL
}

// addRow adds alpha*s to the row i of m.
func addRow(m *mat64.Dense, i int, alpha float64, s []float64) {
	floats.AddScaled(m.RawRowView(i), alpha, s)
}

// addCol adds alpha*s to the column j of m.
func addCol(m *mat64.Dense, j int, alpha float64, s []float64) {
	for i, v := range s {
		m.Set(i, j, m.At(i, j)+alpha*v)
	}
}

// Expect computes expected counts for a sequence. Bases between two
// events are not visited one by one: up to the cache saturation index
// they are accumulated step by step, beyond twice the saturation
// index the steady state contribution is added in bulk. With
// gammaOnly only emission counts are computed.
func Expect(seq obs.Sequence, p *Params, c *Cache, fb *FB, gammaOnly bool) *Counts {
	na, nb := p.NA(), p.NB()
	res := NewCounts(na, nb)
	res.LogL = fb.LogL
	n := len(seq)
	if n == 0 {
		return res
	}

	e0 := p.Emission(0)
	emissions := make([][]float64, nb)
	for cat := range emissions {
		emissions[cat] = p.Emission(cat)
	}
	sat := c.Saturation()
	ds := c.D(sat)

	// steady state forward/backward vectors
	sa := vecMat(nil, fb.Alpha[0], ds)
	floats.Mul(sa, e0)
	sb := matVec(nil, ds, fb.Beta[0])
	ng := make([]float64, na)
	floats.MulTo(ng, sa, sb)
	normalize(ng)
	ne := mat64.NewDense(na, na, nil)
	ne.Apply(func(i, j int, v float64) float64 {
		return sa[i] * sb[j] * e0[j] * v
	}, p.A)
	if s := mat64.Sum(ne); s > 0 {
		ne.Scale(1/s, ne)
	}

	for t, e := range seq {
		addCol(res.B, e.Cat, 1, fb.Gamma[t])
	}

	tr := mat64.NewDense(na, na, nil)
	ebc := make([]float64, na)
	g := make([]float64, na)
	next := make([]float64, na)
	var fwd, bwd [][]float64
	for t := 1; t < n; t++ {
		s := fb.Alpha[t-1]
		floats.MulTo(ebc, fb.Beta[t], emissions[seq[t].Cat])

		d := gapIndex(seq[t].Gap)
		if d > 2*sat {
			bulk := float64(d - 2*sat)
			if !gammaOnly {
				res.A.Add(res.A, scaled(bulk, ne))
			}
			addCol(res.B, 0, bulk, ng)
			d = 2 * sat
		}
		lim := d
		if d > sat {
			lim = sat
		}

		fwd = resize(fwd, d, na)
		bwd = resize(bwd, d, na)
		for k := 0; k < d; k++ {
			if k < lim {
				vecMat(fwd[k], s, c.D(k))
				floats.Mul(fwd[k], e0)
				matVec(bwd[d-1-k], c.D(k), ebc)
			} else {
				copy(fwd[k], sa)
				copy(bwd[d-1-k], sb)
			}
		}

		for k := 0; k < d; k++ {
			floats.MulTo(g, fwd[k], bwd[k])
			normalize(g)
			addCol(res.B, 0, 1, g)
		}
		if gammaOnly {
			continue
		}

		prev := s
		for k := 0; k <= d; k++ {
			if k < d {
				floats.MulTo(next, bwd[k], e0)
			} else {
				copy(next, ebc)
			}
			tr.Apply(func(i, j int, v float64) float64 {
				return prev[i] * next[j] * v
			}, p.A)
			if sum := mat64.Sum(tr); sum > 0 {
				tr.Scale(1/sum, tr)
				res.A.Add(res.A, tr)
			}
			if k < d {
				prev = fwd[k]
			}
		}
	}

	addRow(res.A, 0, 1, fb.Gamma[0])
	addCol(res.A, 0, 1, fb.Gamma[n-1])

	return res
}

// scaled returns f*m as a new matrix.
func scaled(f float64, m *mat64.Dense) *mat64.Dense {
	var r mat64.Dense
	r.Scale(f, m)
	return &r
}

// resize returns a d x n matrix reusing the buffer.
func resize(buf [][]float64, d, n int) [][]float64 {
	for len(buf) < d {
		buf = append(buf, make([]float64, n))
	}
	return buf[:d]
}
