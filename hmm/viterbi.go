package hmm

import (
	"math"

	"github.com/gonum/floats"
	"github.com/mrrlab/divhmm/obs"
)

// minProb replaces zero probabilities before taking logarithms.
const minProb = 1e-300

// Segment is a decoded diversified region.
type Segment struct {
	SeqID int
	// Start and End are genomic positions of the first and the last
	// events inside the region.
	Start int
	End   int
	// Type is the hidden state of the region (1 diversified, 2
	// homoplastic, 3 mixed).
	Type int
	// Score is the confidence of the region.
	Score float64
	// CumStart and CumEnd are the region limits in retained bases.
	CumStart int
	CumEnd   int
}

// Len returns segment length in retained bases.
func (s Segment) Len() int {
	return s.CumEnd - s.CumStart + 1
}

// logMatrix returns element-wise logarithms with zeros floored.
func logMatrix(rows [][]float64) [][]float64 {
	r := make([][]float64, len(rows))
	for i, row := range rows {
		r[i] = make([]float64, len(row))
		for j, v := range row {
			if v <= 0 {
				v = minProb
			}
			r[i][j] = math.Log(v)
		}
	}
	return r
}

// step computes one base of the max-product recursion: cur[j] = max_i
// prev[i] + la[i][j] + le[j], path[j] = argmax.
func step(cur, prev []float64, path []uint8, la [][]float64, le []float64) {
	for j := range cur {
		best, arg := math.Inf(-1), 0
		for i, v := range prev {
			if x := v + la[i][j]; x > best {
				best, arg = x, i
			}
		}
		cur[j] = best + le[j]
		path[j] = uint8(arg)
	}
}

// bestPath returns the most likely state of every base from the
// first to the last event of the sequence. Runs of background
// predecessors inside a gap are fast-forwarded.
func bestPath(seq obs.Sequence, p *Params) []uint8 {
	na, nb := p.NA(), p.NB()

	rows := make([][]float64, na)
	for i := range rows {
		rows[i] = p.A.RawRowView(i)
	}
	la := logMatrix(rows)
	le := make([][]float64, nb)
	for cat := range le {
		le[cat] = logMatrix([][]float64{p.Emission(cat)})[0]
	}

	nPos := seq[len(seq)-1].Cum - seq[0].Cum + 1
	path := make([]uint8, nPos*na)

	prev := vecMat(nil, p.Pi, p.A)
	floats.Mul(prev, p.Emission(seq[0].Cat))
	for j, v := range prev {
		if v <= 0 {
			v = minProb
		}
		prev[j] = math.Log(v)
	}
	cur := make([]float64, na)
	bg := la[0][0] + le[0][0]

	i := 0
	for _, e := range seq[1:] {
		for dd := 0; dd < e.Gap-1; dd++ {
			i++
			row := path[i*na : (i+1)*na]
			step(cur, prev, row, la, le[0])
			prev, cur = cur, prev
			if allZero(row) {
				left := e.Gap - 2 - dd
				for j := range prev {
					prev[j] += float64(left) * bg
				}
				i += left
				break
			}
		}
		i++
		step(cur, prev, path[i*na:(i+1)*na], la, le[e.Cat])
		prev, cur = cur, prev
	}

	for j := range prev {
		prev[j] += la[j][0]
	}
	states := make([]uint8, nPos)
	states[nPos-1] = uint8(floats.MaxIdx(prev))
	for id := nPos - 2; id >= 0; id-- {
		states[id] = path[(id+1)*na+int(states[id+1])]
	}
	return states
}

// Viterbi decodes the most likely path of a sequence and returns
// contiguous runs of the same non-background state which contain at
// least one event, together with the number of bases they cover.
func Viterbi(seq obs.Sequence, p *Params) (segs []Segment, bases int) {
	if len(seq) < 2 {
		return nil, 0
	}
	states := bestPath(seq, p)
	base := seq[0].Cum
	rsite := make(map[int]int)
	for _, e := range seq {
		if e.Pos > 0 {
			rsite[e.Cum-base] = e.Pos
		}
	}

	open := -1
	for id := len(states) - 2; id > 0; id-- {
		state := int(states[id])
		if state == 0 {
			continue
		}
		if open < 0 || segs[open].CumStart != id+base+1 || segs[open].Type != state {
			segs = append(segs, Segment{
				SeqID:    seq[0].SeqID,
				Start:    obs.NoPos,
				End:      obs.NoPos,
				Type:     state,
				Score:    1,
				CumStart: id + base,
				CumEnd:   id + base,
			})
			open = len(segs) - 1
		} else {
			segs[open].CumStart = id + base
		}
		if pos, ok := rsite[id]; ok {
			if segs[open].End == obs.NoPos {
				segs[open].End = pos
			}
			segs[open].Start = pos
		}
	}

	var res []Segment
	for k := len(segs) - 1; k >= 0; k-- {
		if segs[k].End != obs.NoPos {
			res = append(res, segs[k])
			bases += segs[k].Len()
		}
	}
	return res, bases
}

func allZero(p []uint8) bool {
	for _, v := range p {
		if v != 0 {
			return false
		}
	}
	return true
}
