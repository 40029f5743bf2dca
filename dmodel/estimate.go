package dmodel

import (
	"github.com/gonum/floats"
	"github.com/gonum/matrix/mat64"
)

// rowSum returns the sum of row i of m starting from column from.
func rowSum(m *mat64.Dense, i, from int) float64 {
	row := m.RawRowView(i)
	if from >= len(row) {
		return 0
	}
	return floats.Sum(row[from:])
}

// rowsSum returns the sum of rows [r0, r1) of m starting from column
// from.
func rowsSum(m *mat64.Dense, r0, r1, from int) (s float64) {
	n, _ := m.Dims()
	for i := r0; i < r1 && i < n; i++ {
		s += rowSum(m, i, from)
	}
	return
}

// fill stores sufficient statistics of branch br.
func (p *Posterior) fill(br int, mode Mode, bm *BranchMeasure) {
	a, b := bm.A, bm.B
	na, nb := mode.NA(), mode.NB()

	p.Theta[br] = [2]float64{rowSum(b, 0, 0), rowSum(b, 0, 1)}
	if na == 2 && nb > 2 {
		p.H[br] = [4]float64{rowSum(b, 0, 1), rowSum(b, 0, 2), rowSum(b, 1, 1), rowSum(b, 1, 2)}
		p.V[br] = [2]float64{rowSum(b, 1, 0), rowSum(b, 1, 1)}
		p.V2[br] = p.V[br]
	} else {
		p.H[br] = [4]float64{rowsSum(b, 0, 2, 1), rowsSum(b, 0, 2, 2), rowsSum(b, 2, na, 1), rowsSum(b, 2, na, 2)}
		p.V[br] = [2]float64{rowSum(b, 1, 0) + rowsSum(b, 3, na, 0), rowSum(b, 1, 1) + rowsSum(b, 3, na, 1)}
		p.V2[br] = [2]float64{rowsSum(b, 2, 3, 0), rowsSum(b, 2, 3, 1)}
	}

	p.R[br] = [4]float64{}
	p.R[br][0] = rowSum(a, 0, 0)
	p.Delta[br] = [3][2]float64{}
	for k := 1; k < na; k++ {
		p.R[br][k] = a.At(0, k)
		p.Delta[br][k-1] = [2]float64{rowSum(a, k, 0), a.At(k, 0)}
	}
	p.Probability[br] = bm.LogL
}

// EventFreq returns per branch event frequencies split by the
// origin of the events (background, state 1, ...).
func (p *Posterior) EventFreq() [][4]float64 {
	res := make([][4]float64, p.NBranch())
	for br := range res {
		res[br][0] = safeDiv(p.Theta[br][1], p.Theta[br][0])
		for k := 1; k < 4; k++ {
			res[br][k] = safeDiv(p.R[br][k], p.R[br][0])
		}
	}
	return res
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// Estimate computes updated parameters from expectation step results
// (maximization step). The returned model carries the posterior
// statistics and the log-likelihood of the current parameters.
func (m *Model) Estimate(mode Mode, measures []*BranchMeasure) *Model {
	na := mode.NA()
	post := NewPosterior(len(measures))
	for br, bm := range measures {
		post.fill(br, mode, bm)
	}

	pred := m.Clone()
	pred.Posterior = post
	pred.Probability = floats.Sum(post.Probability)

	ef := post.EventFreq()
	for br, e := range ef {
		pred.EventFreq[br] = e[0] + e[1] + e[2] + e[3]
	}

	var h [4]float64
	for _, x := range post.H {
		for i := range h {
			h[i] += x[i]
		}
	}
	if h[0] > 0 {
		pred.H[0] = h[1] / h[0]
	}
	pred.H[1] = safeDiv(h[3], h[2])

	for g := range pred.Theta {
		ids := members(m.Categories.RTheta, g)
		var theta float64
		r := make([]float64, na-1)
		n := 0
		for _, br := range ids {
			tot := pred.EventFreq[br]
			if tot == 0 {
				continue
			}
			n++
			theta += ef[br][0] / tot
			for k := range r {
				r[k] += ef[br][k+1] / tot
			}
		}
		if n == 0 {
			continue
		}
		rs := floats.Sum(r)
		if rs < minRTheta*theta {
			theta = rs / minRTheta
		}
		tot := theta + rs
		if tot <= 0 {
			continue
		}
		pred.Theta[g] = theta / tot
		floats.Scale(1/tot, r)
		pred.R[g] = r
	}

	for g := range pred.Delta {
		var all, in2 [2]float64
		for _, br := range members(m.Categories.Delta, g) {
			for k, d := range post.Delta[br] {
				all[0] += d[1]
				all[1] += d[0]
				if k == 1 {
					in2[0] += d[1]
					in2[1] += d[0]
				}
			}
		}
		if in2[1] > 0 {
			pred.Delta2[g] = clamp(in2[0]/in2[1], minDelta, maxDelta)
		}
		if d := all[1] - in2[1]; d > 0 {
			pred.Delta[g] = clamp((all[0]-in2[0])/d, minDelta, maxDelta)
		}
	}

	for g := range pred.V {
		var v, v2 [2]float64
		for _, br := range members(m.Categories.Nu, g) {
			v[0] += post.V[br][0]
			v[1] += post.V[br][1]
			v2[0] += post.V2[br][0]
			v2[1] += post.V2[br][1]
		}
		if v[0] > 0 {
			pred.V[g] = v[1] / v[0]
		}
		if v2[0] > 0 {
			pred.V2[g] = v2[1] / v2[0]
		}
		pred.V[g] = clamp(pred.V[g], minV, maxV)
		pred.V2[g] = clamp(pred.V2[g], minV, maxV)
	}
	return pred
}
