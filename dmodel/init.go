package dmodel

import (
	"fmt"
	"math"
	"sort"

	"github.com/mrrlab/divhmm/obs"
)

// DefaultFractions are the default guesses of the proportion of
// clustered substitutions.
var DefaultFractions = []float64{0.01, 0.05, 0.1}

// summary accumulates retained bases, background mutations,
// background homoplasies and clustered runs.
type summary [4]float64

// run is a clustered run of substitutions: [count, span, gaps,
// homoplasies].
type run [4]float64

// homoplasy returns the homoplasy weight of a mutation category.
func homoplasy(cat int) float64 {
	return float64(cat-1) / float64(cat)
}

// Cutoffs returns distinct distances at the given fractions of the
// sorted distances between consecutive substitutions.
func Cutoffs(o *obs.Observations, fractions []float64) []int {
	d := o.Distances()
	if len(d) == 0 {
		return nil
	}
	sort.Ints(d)
	var res []int
	for _, f := range fractions {
		i := int(f * float64(len(d)))
		if i >= len(d) {
			i = len(d) - 1
		}
		if i < 0 {
			i = 0
		}
		res = append(res, d[i])
	}
	sort.Ints(res)
	u := res[:0]
	for i, c := range res {
		if i == 0 || c != res[i-1] {
			u = append(u, c)
		}
	}
	return u
}

// clusters splits the substitutions of a sequence into background
// substitutions and clustered runs where every distance is at most
// cutoff.
func clusters(seq obs.Sequence, cutoff int) (s summary, runs []run) {
	subs := seq.Mutations()
	end := seq[len(seq)-1].Cum
	if len(subs) == 0 {
		s[0] = float64(end - seq[0].Cum)
		return
	}
	// row 0 is the end of the block mirrored before its start
	cum := make([]int, len(subs)+1)
	cat := make([]int, len(subs)+1)
	cum[0] = -(end - subs[len(subs)-1].Cum)
	for i, e := range subs {
		cum[i+1] = e.Cum
		cat[i+1] = e.Cat
	}
	n := len(cum)
	in := make([]bool, n)
	for i := 1; i < n-1; i++ {
		in[i] = cum[i+1]-cum[i] <= cutoff
	}

	var homo float64
	for _, c := range cat[1:] {
		homo += homoplasy(c)
	}
	start := -1
	var span, gaps, rh float64
	for i := 1; i < n; i++ {
		switch {
		case in[i] && !in[i-1]:
			start = i
		case !in[i] && in[i-1]:
			r := run{1, float64(cum[i] - cum[start]), float64(i - start)}
			for j := start; j <= i; j++ {
				h := homoplasy(cat[j])
				if j > start && j < i {
					h *= 2
				}
				r[3] += h / 2
			}
			runs = append(runs, r)
			span += r[1]
			gaps += r[2]
			rh += r[3]
		}
	}
	s = summary{float64(cum[n-1]-cum[0]) - span, float64(n-1) - gaps, homo - rh, float64(len(runs))}
	return
}

// Initiate creates a candidate model for every distinct cutoff.
// Substitutions closer than the cutoff form initial diversified
// regions.
func Initiate(o *obs.Observations, mode Mode, cats Categories, fractions []float64) ([]*Model, error) {
	if o.NB != mode.NB() {
		return nil, fmt.Errorf("observations have %d emission categories, %s mode needs %d", o.NB, mode, mode.NB())
	}
	if len(fractions) == 0 {
		fractions = DefaultFractions
	}
	na := mode.NA()
	nBase := float64(o.NBase)

	var models []*Model
	for _, cutoff := range Cutoffs(o, fractions) {
		var tot summary
		var runs []run
		ef := make([]float64, len(o.Branches))
		for br, b := range o.Branches {
			var s summary
			for _, seq := range b.Seqs {
				if len(seq) == 0 {
					continue
				}
				bs, bruns := clusters(seq, cutoff)
				for i := range s {
					s[i] += bs[i]
				}
				runs = append(runs, bruns...)
			}
			ef[br] = safeDiv(s[1]+s[3], s[0])
			for i := range tot {
				tot[i] += s[i]
			}
		}
		if len(runs) == 0 {
			log.Infof("Cutoff %d: no clustered substitutions", cutoff)
			continue
		}
		var sumEF float64
		for _, e := range ef {
			sumEF += e
		}

		hr := safeDiv(tot[2], tot[1])
		m := &Model{
			H:           [2]float64{clamp(hr, minH, maxH), clamp(1-math.Pow(1-hr, 3), minH, maxH)},
			EventFreq:   ef,
			Probability: UnsetProbability,
			Diff:        UnsetDiff,
			ID:          float64(len(models) + 1),
			Categories:  cats.Clone(),
		}

		var rec, rec2 run
		for _, r := range runs {
			if r[3]/r[2] > HomoplasyRatio*m.H[0] {
				for i := range rec2 {
					rec2[i] += r[i]
				}
			} else {
				for i := range rec {
					rec[i] += r[i]
				}
			}
		}
		rec[0] = math.Max(rec[0], 1)
		rec2[0] = math.Max(rec2[0], 1)
		m.H[1] = math.Max(m.H[1], (rec2[3]+.5)/(rec2[2]+1))

		p := []float64{rec[0], math.Sqrt(rec[0] * rec2[0]), rec2[0]}[:na-1]
		var ps float64
		for _, x := range p {
			ps += x
		}
		theta := tot[1] / sumEF / nBase
		rscale := tot[3] / sumEF / nBase / ps
		norm := theta + rscale*ps

		for g := 0; g < groups(cats.RTheta); g++ {
			m.Theta = append(m.Theta, theta/norm)
			r := make([]float64, len(p))
			for i, x := range p {
				r[i] = rscale * x / norm
			}
			m.R = append(m.R, r)
		}
		for g := 0; g < groups(cats.Delta); g++ {
			m.Delta = append(m.Delta, clamp((rec[0]+1)/(rec[1]+1), minDelta, maxDelta))
			m.Delta2 = append(m.Delta2, clamp((rec2[0]+1)/(rec2[1]+1), minDelta, maxDelta))
		}
		for g := 0; g < groups(cats.Nu); g++ {
			m.V = append(m.V, clamp(safeDiv(rec[2]+rec2[2], rec[1]+rec2[1]), minV, maxVInit))
			m.V2 = append(m.V2, math.Min(maxVInit, (rec2[2]+1)/(rec2[1]+1)))
		}
		log.Infof("Initiate model %v (cutoff %d)", m, cutoff)
		models = append(models, m)
	}
	if len(models) == 0 {
		return nil, ErrNoCandidate
	}
	return models, nil
}
