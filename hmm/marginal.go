package hmm

import (
	"github.com/gonum/floats"
	"github.com/mrrlab/divhmm/obs"
)

// Marginal walks posterior state occupancies and reports runs of
// consecutive events whose most probable state is the same
// non-background state with background occupancy below one half.
// Only runs spanning more than one position and with peak confidence
// of at least threshold are returned.
func Marginal(seq obs.Sequence, gamma [][]float64, threshold float64) []Segment {
	var path []Segment
	for t, e := range seq {
		g := gamma[t]
		state := floats.MaxIdx(g)
		if state == 0 || g[0] >= 0.5 {
			continue
		}
		conf := 1 - g[0]
		last := len(path) - 1
		if last < 0 || t == 0 || path[last].Type != state || path[last].CumEnd != seq[t-1].Cum {
			if e.Pos > 0 {
				path = append(path, Segment{
					SeqID:    e.SeqID,
					Start:    e.Pos,
					End:      e.Pos,
					Type:     state,
					Score:    conf,
					CumStart: e.Cum,
					CumEnd:   e.Cum,
				})
			}
			continue
		}
		path[last].CumEnd = e.Cum
		if conf > path[last].Score {
			path[last].Score = conf
		}
		if e.Pos > 0 {
			path[last].End = e.Pos
		}
	}

	var res []Segment
	for _, s := range path {
		if s.End > s.Start && s.Score >= threshold {
			res = append(res, s)
		}
	}
	return res
}
