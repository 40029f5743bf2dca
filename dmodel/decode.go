package dmodel

import (
	"github.com/exascience/pargo/parallel"

	"github.com/mrrlab/divhmm/hmm"
	"github.com/mrrlab/divhmm/obs"
)

// BranchCall are the decoded regions of a branch.
type BranchCall struct {
	Branch   string
	Segments []hmm.Segment
	// Weight is the number of bases assigned to each state. Viterbi
	// decoding only distinguishes background and the rest.
	Weight []float64
	// M is the proportion of mutated background bases.
	M float64
	// R is the region entry rate relative to background occupancy.
	R float64
}

// rates fills M and R from the posterior statistics.
func (c *BranchCall) rates(p *Posterior, br int) {
	if p == nil || br >= p.NBranch() {
		return
	}
	c.M = safeDiv(p.Theta[br][1], p.Theta[br][0])
	c.R = safeDiv(p.R[br][1]+p.R[br][2]+p.R[br][3], p.R[br][0])
}

// Decode finds diversified regions of every branch. With threshold
// in (0, 1] posterior decoding is used and only regions with at
// least this confidence are reported, otherwise the most likely path
// is decoded.
func Decode(o *obs.Observations, m *Model, mode Mode, threshold float64) ([]BranchCall, error) {
	if threshold > 0 && threshold <= 1 {
		return decodeMarginal(o, m, mode, threshold)
	}
	params := m.BranchParameters(mode, o.NBase, true)
	res := make([]BranchCall, len(o.Branches))
	parallel.Range(0, len(o.Branches), 0, func(low, high int) {
		for i := low; i < high; i++ {
			br := o.Branches[i]
			var segs []hmm.Segment
			bases := 0
			for _, seq := range br.Seqs {
				s, n := hmm.Viterbi(seq, params[i])
				segs = append(segs, s...)
				bases += n
			}
			res[i] = BranchCall{
				Branch:   br.Name,
				Segments: segs,
				Weight:   []float64{float64(o.NBase - bases), float64(bases)},
			}
			res[i].rates(m.Posterior, i)
		}
	})
	return res, nil
}

func decodeMarginal(o *obs.Observations, m *Model, mode Mode, threshold float64) ([]BranchCall, error) {
	measures, err := m.Measure(mode, o, true, true)
	if err != nil {
		return nil, err
	}
	res := make([]BranchCall, len(o.Branches))
	for i, br := range o.Branches {
		var segs []hmm.Segment
		for j, seq := range br.Seqs {
			if len(seq) == 0 {
				continue
			}
			segs = append(segs, hmm.Marginal(seq, measures[i].Gamma[j], threshold)...)
		}
		na, _ := measures[i].B.Dims()
		w := make([]float64, na)
		for s := range w {
			w[s] = rowSum(measures[i].B, s, 0)
		}
		res[i] = BranchCall{
			Branch:   br.Name,
			Segments: segs,
			Weight:   w,
		}
		res[i].rates(m.Posterior, i)
	}
	return res, nil
}
