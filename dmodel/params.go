package dmodel

import (
	"github.com/gonum/floats"
	"github.com/gonum/matrix/mat64"

	"github.com/mrrlab/divhmm/hmm"
)

// noRecEntry and noRecExit shut the non-background states of NoRec
// branches.
const (
	noRecEntry = 1e-300
	noRecExit  = 1 - 1e-6
)

// emissionRow returns [1-rate, rate*(1-h), rate*h] truncated to nb.
func emissionRow(rate, h float64, nb int) []float64 {
	row := []float64{1 - rate, rate * (1 - h), rate * h}
	if nb == 2 {
		return []float64{1 - rate, rate}
	}
	return row[:nb]
}

// BranchParameters computes HMM parameters of every branch. With
// lowerLimit the event frequency is not allowed below half an event
// per genome.
func (m *Model) BranchParameters(mode Mode, nBase int, lowerLimit bool) []*hmm.Params {
	na, nb := mode.NA(), mode.NB()
	res := make([]*hmm.Params, m.NBranch())
	for br, d := range m.EventFreq {
		rID, dID, vID := m.Categories.RTheta[br], m.Categories.Delta[br], m.Categories.Nu[br]
		if lowerLimit && d < .5/float64(nBase) {
			d = .5 / float64(nBase)
		}
		mu := d * m.Theta[rID]
		if mu > maxM {
			mu = maxM
		}
		r := make([]float64, na-1)
		floats.AddScaled(r, d, m.R[rID])
		if floats.Sum(r) > maxRSum {
			for i, v := range r {
				if v > maxR {
					r[i] = maxR
				}
			}
		}

		a := mat64.NewDense(na, na, nil)
		for j := 1; j < na; j++ {
			a.Set(0, j, r[j-1])
			a.Set(j, 0, m.Delta[dID])
		}
		if na > 2 {
			a.Set(2, 0, m.Delta2[dID])
		}
		if m.Categories.NoRec[br] {
			mu += floats.Sum(r)
			for j := 1; j < na; j++ {
				a.Set(0, j, noRecEntry)
				a.Set(j, 0, noRecExit)
			}
		}
		for i := 0; i < na; i++ {
			a.Set(i, i, 1-floats.Sum(a.RawRowView(i)))
		}

		b := mat64.NewDense(na, nb, nil)
		v, v2 := m.V[vID], m.V2[vID]
		extra := emissionRow(v, m.H[0], nb)
		intra := emissionRow(v2, m.H[1], nb)
		mixed := emissionRow(v, m.H[1], nb)
		b.SetRow(0, emissionRow(mu, m.H[0], nb))
		if na == 2 && nb > 2 {
			b.SetRow(1, intra)
		} else {
			b.SetRow(1, extra)
		}
		if na > 2 {
			b.SetRow(2, intra)
		}
		if na > 3 {
			b.SetRow(3, mixed)
		}
		for i := 0; i < na; i++ {
			if b.At(i, 0) < minNoMut {
				b.Set(i, 0, minNoMut)
			}
			if nb > 2 && i >= 2 {
				b.Set(i, 1, 1-b.At(i, 0)-b.At(i, 2))
			}
		}
		res[br] = hmm.NewParams(a, b)
	}
	return res
}
