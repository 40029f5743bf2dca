package dmodel

import (
	"fmt"

	"github.com/exascience/pargo/parallel"

	"github.com/mrrlab/divhmm/hmm"
	"github.com/mrrlab/divhmm/obs"
)

// BranchMeasure is the expectation step result of a branch.
type BranchMeasure struct {
	*hmm.Counts
	// Gamma is the posterior state occupancy per block and event.
	Gamma [][][]float64
}

// measureBranch runs forward-backward and expected counts over all
// the blocks of a branch.
func measureBranch(br *obs.Branch, p *hmm.Params, cacheLen int, gammaOnly bool) (*BranchMeasure, error) {
	if err := p.Check(); err != nil {
		return nil, fmt.Errorf("branch %s: %w", br.Name, err)
	}
	c := hmm.NewCache(p.A, p.Emission(0), cacheLen)
	res := &BranchMeasure{
		Counts: hmm.NewCounts(p.NA(), p.NB()),
		Gamma:  make([][][]float64, len(br.Seqs)),
	}
	for i, seq := range br.Seqs {
		if len(seq) == 0 {
			continue
		}
		fb, err := hmm.ForwardBackward(seq, p, c)
		if err != nil {
			return nil, fmt.Errorf("branch %s, block %d: %w", br.Name, i, err)
		}
		res.Counts.Add(hmm.Expect(seq, p, c, fb, gammaOnly))
		res.Gamma[i] = fb.Gamma
	}
	return res, nil
}

// CacheLength returns the distant transition cache length for the
// observations.
func CacheLength(o *obs.Observations) int {
	l := o.MaxGapObserved()
	if l < hmm.MinCacheLength {
		l = hmm.MinCacheLength
	}
	return l
}

// Measure runs the expectation step of every branch concurrently.
func (m *Model) Measure(mode Mode, o *obs.Observations, lowerLimit, gammaOnly bool) ([]*BranchMeasure, error) {
	params := m.BranchParameters(mode, o.NBase, lowerLimit)
	cacheLen := CacheLength(o)
	res := make([]*BranchMeasure, len(o.Branches))
	errs := make([]error, len(o.Branches))
	parallel.Range(0, len(o.Branches), 0, func(low, high int) {
		for i := low; i < high; i++ {
			res[i], errs[i] = measureBranch(o.Branches[i], params[i], cacheLen, gammaOnly)
		}
	})
	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("model %v: %w", m.ID, err)
		}
	}
	return res, nil
}
