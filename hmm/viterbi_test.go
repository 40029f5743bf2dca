package hmm

import (
	"math"
	"testing"

	"github.com/gonum/matrix/mat64"
	"github.com/mrrlab/divhmm/obs"
)

func viterbiParams() *Params {
	a := mat64.NewDense(2, 2, []float64{
		0.9, 0.1,
		0.3, 0.7,
	})
	b := mat64.NewDense(2, 2, []float64{
		0.8, 0.2,
		0.2, 0.8,
	})
	return NewParams(a, b)
}

// bruteForce enumerates all state paths and returns the best one.
func bruteForce(o []int, p *Params) []uint8 {
	na := p.NA()
	n := len(o)
	total := 1
	for i := 0; i < n; i++ {
		total *= na
	}
	best := math.Inf(-1)
	var res []uint8
	states := make([]uint8, n)
	for code := 0; code < total; code++ {
		c := code
		for i := n - 1; i >= 0; i-- {
			states[i] = uint8(c % na)
			c /= na
		}
		prev := 0
		lp := 0.0
		for i, s := range states {
			lp += math.Log(p.A.At(prev, int(s))) + math.Log(p.B.At(int(s), o[i]))
			prev = int(s)
		}
		lp += math.Log(p.A.At(prev, 0))
		if lp > best {
			best = lp
			res = append([]uint8(nil), states...)
		}
	}
	return res
}

// naiveViterbi runs max-product over every base.
func naiveViterbi(o []int, p *Params) []uint8 {
	na := p.NA()
	n := len(o)
	path := make([][]int, n)
	prev := make([]float64, na)
	for j := range prev {
		prev[j] = math.Log(p.A.At(0, j)) + math.Log(p.B.At(j, o[0]))
	}
	for i := 1; i < n; i++ {
		cur := make([]float64, na)
		path[i] = make([]int, na)
		for j := range cur {
			cur[j] = math.Inf(-1)
			for k, v := range prev {
				if x := v + math.Log(p.A.At(k, j)); x > cur[j] {
					cur[j] = x
					path[i][j] = k
				}
			}
			cur[j] += math.Log(p.B.At(j, o[i]))
		}
		prev = cur
	}
	best, arg := math.Inf(-1), 0
	for j, v := range prev {
		if x := v + math.Log(p.A.At(j, 0)); x > best {
			best, arg = x, j
		}
	}
	states := make([]uint8, n)
	states[n-1] = uint8(arg)
	for i := n - 1; i > 0; i-- {
		states[i-1] = uint8(path[i][states[i]])
	}
	return states
}

func equalStates(a, b []uint8) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestViterbiBruteForce(tst *testing.T) {
	p := viterbiParams()
	for _, cats := range [][]int{
		{0, 1, 1, 1, 0},
		{1, 1, 1, 1, 1},
		{0, 1, 1, 0, 1},
		{1, 0, 0, 0, 1, 1},
	} {
		cum := make([]int, len(cats))
		for i := range cum {
			cum[i] = i
		}
		seq := makeSeq(cum, cats)
		res := bestPath(seq, p)
		exp := bruteForce(cats, p)
		if !equalStates(res, exp) {
			tst.Error("Expected ", exp, ", got ", res)
		}
	}
}

func TestViterbiKnownPath(tst *testing.T) {
	p := viterbiParams()
	seq := makeSeq([]int{0, 1, 2, 3, 4}, []int{0, 1, 1, 1, 0})
	exp := []uint8{0, 1, 1, 1, 0}
	if res := bestPath(seq, p); !equalStates(res, exp) {
		tst.Error("Expected ", exp, ", got ", res)
	}

	segs, bases := Viterbi(seq, p)
	if len(segs) != 1 {
		tst.Fatal("Expected one segment, got ", segs)
	}
	s := segs[0]
	if s.Start != 1 || s.End != 3 || s.Type != 1 || s.Score != 1 {
		tst.Error("Wrong segment: ", s)
	}
	if bases != 3 {
		tst.Error("Expected 3 bases, got ", bases)
	}

	seq = makeSeq([]int{0, 1, 2, 3, 4}, []int{0, 1, 1, 0, 1})
	if segs, _ := Viterbi(seq, p); len(segs) != 0 {
		tst.Error("Expected no segments, got ", segs)
	}
}

func TestViterbiGap(tst *testing.T) {
	p := viterbiParams()
	seq := makeSeq([]int{0, 1, 2, 3, 60, 61, 62, 63, 200}, []int{0, 1, 1, 1, 0, 1, 1, 1, 0})
	res := bestPath(seq, p)
	exp := naiveViterbi(expand(seq), p)
	if !equalStates(res, exp) {
		tst.Error("Expected ", exp, ", got ", res)
	}

	segs, _ := Viterbi(seq, p)
	if len(segs) != 2 {
		tst.Fatal("Expected two segments, got ", segs)
	}
	if segs[0].Start != 1 || segs[0].End != 3 || segs[1].Start != 61 || segs[1].End != 63 {
		tst.Error("Wrong segments: ", segs)
	}
}

func TestViterbiAnchorsOnly(tst *testing.T) {
	p := viterbiParams()
	seq := obs.Sequence{
		{Pos: 1, Cum: 0},
		{Pos: obs.NoPos, Cum: 30, Gap: 30},
		{Pos: 61, Cum: 60, Gap: 30},
	}
	if segs, bases := Viterbi(seq, p); len(segs) != 0 || bases != 0 {
		tst.Error("Expected no segments, got ", segs)
	}
}

func TestMarginal(tst *testing.T) {
	seq := makeSeq([]int{0, 5, 8, 10, 11, 30}, []int{0, 1, 0, 1, 1, 0})
	gamma := [][]float64{
		{1, 0},
		{0.3, 0.7},
		{0.9, 0.1},
		{0.2, 0.8},
		{0.02, 0.98},
		{0.9, 0.1},
	}
	segs := Marginal(seq, gamma, 0.5)
	if len(segs) != 1 {
		tst.Fatal("Expected one segment, got ", segs)
	}
	s := segs[0]
	if s.Start != 10 || s.End != 11 || s.Type != 1 || math.Abs(s.Score-0.98) > smallDiff {
		tst.Error("Wrong segment: ", s)
	}
	if s.CumStart != 10 || s.CumEnd != 11 {
		tst.Error("Wrong segment limits: ", s.CumStart, "-", s.CumEnd)
	}

	if segs := Marginal(seq, gamma, 0.99); len(segs) != 0 {
		tst.Error("Expected no segments above threshold, got ", segs)
	}
}

func TestMarginalStateChange(tst *testing.T) {
	seq := makeSeq([]int{0, 1, 2, 3, 4, 5}, []int{0, 1, 1, 2, 2, 0})
	gamma := [][]float64{
		{1, 0, 0},
		{0.1, 0.8, 0.1},
		{0.1, 0.7, 0.2},
		{0.1, 0.2, 0.7},
		{0.1, 0.1, 0.8},
		{1, 0, 0},
	}
	segs := Marginal(seq, gamma, 0)
	if len(segs) != 2 {
		tst.Fatal("Expected two segments, got ", segs)
	}
	if segs[0].Type != 1 || segs[0].Start != 1 || segs[0].End != 2 {
		tst.Error("Wrong first segment: ", segs[0])
	}
	if segs[1].Type != 2 || segs[1].Start != 3 || segs[1].End != 4 {
		tst.Error("Wrong second segment: ", segs[1])
	}
}
