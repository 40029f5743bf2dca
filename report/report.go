// Package report summarizes fitted models: global parameters with
// branch bootstrap, BIC, decoded regions and search trajectories.
package report

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"

	"github.com/op/go-logging"

	"github.com/mrrlab/divhmm/dist"
	"github.com/mrrlab/divhmm/dmodel"
)

// log is the global logging variable.
var log = logging.MustGetLogger("report")

// ErrNoPosterior is returned for models which were never evaluated.
var ErrNoPosterior = errors.New("model has no posterior statistics")

// DefaultBootstrap is the default number of bootstrap replicates.
const DefaultBootstrap = 1000

// Keys is the order of the reported parameters.
var Keys = []string{"D/theta", "d/m", "delta", "nu", "nu(in)",
	"homoplasy(normal)", "homoplasy(div)", "EventFreq", "theta", "D"}

// Stat is a global parameter with its bootstrap distribution.
type Stat struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
	Std   float64 `json:"std"`
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	// Precision is the number of printed decimals.
	Precision int `json:"-"`
}

// Summary is the global parameter report of a model.
type Summary struct {
	Prefix      string  `json:"prefix"`
	Probability float64 `json:"lnL"`
	BIC         float64 `json:"BIC"`
	Stats       []Stat  `json:"stats"`
}

// BIC returns the Bayesian information criterion of a model fitted
// on nBranch branches of nBase bases.
func BIC(lnL float64, mode dmodel.Mode, nBase, nBranch int) float64 {
	return -2*lnL + float64(mode.NA()*mode.NB())*math.Log(float64(nBase*nBranch))
}

// estimators computes the global parameters over a set of branches.
// Branches can be repeated.
type estimators struct {
	m  *dmodel.Model
	p  *dmodel.Posterior
	ef [][4]float64
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func (e *estimators) sum(idx []int, f func(br int) float64) (s float64) {
	for _, br := range idx {
		s += f(br)
	}
	return
}

// shares returns the normalized background and diversified event
// shares.
func (e *estimators) shares(idx []int) (theta, d float64) {
	theta = e.sum(idx, func(br int) float64 {
		return ratio(e.ef[br][0], e.m.EventFreq[br])
	})
	d = e.sum(idx, func(br int) float64 {
		return ratio(e.ef[br][1]+e.ef[br][2]+e.ef[br][3], e.m.EventFreq[br])
	})
	tot := theta + d
	return ratio(theta, tot), ratio(d, tot)
}

func (e *estimators) get(key string, idx []int) float64 {
	p := e.p
	switch key {
	case "D/theta":
		theta, d := e.shares(idx)
		return ratio(d, theta)
	case "d/m":
		return ratio(e.sum(idx, func(br int) float64 { return p.V[br][1] + p.V2[br][1] }),
			e.sum(idx, func(br int) float64 { return p.Theta[br][1] }))
	case "delta":
		var occ, exits float64
		for _, br := range idx {
			for _, d := range p.Delta[br] {
				occ += d[0]
				exits += d[1]
			}
		}
		return ratio(occ, exits)
	case "nu":
		return ratio(e.sum(idx, func(br int) float64 { return p.V[br][1] }),
			e.sum(idx, func(br int) float64 { return p.V[br][0] }))
	case "nu(in)":
		return ratio(e.sum(idx, func(br int) float64 { return p.V2[br][1] }),
			e.sum(idx, func(br int) float64 { return p.V2[br][0] }))
	case "homoplasy(normal)":
		return ratio(e.sum(idx, func(br int) float64 { return p.H[br][1] }),
			e.sum(idx, func(br int) float64 { return p.H[br][0] }))
	case "homoplasy(div)":
		return ratio(e.sum(idx, func(br int) float64 { return p.H[br][3] }),
			e.sum(idx, func(br int) float64 { return p.H[br][2] }))
	case "EventFreq":
		return e.sum(idx, func(br int) float64 {
			return e.ef[br][0] + e.ef[br][1] + e.ef[br][2] + e.ef[br][3]
		})
	case "theta":
		theta, _ := e.shares(idx)
		return theta
	case "D":
		_, d := e.shares(idx)
		return d
	}
	panic(fmt.Sprintf("unknown parameter %q", key))
}

// Summarize computes global parameters of the model. Confidence
// intervals come from resampling branches with replacement.
func Summarize(prefix string, m *dmodel.Model, mode dmodel.Mode, nBase, bootstrap int, rng *rand.Rand) (*Summary, error) {
	if m.Posterior == nil || m.Posterior.NBranch() == 0 {
		return nil, ErrNoPosterior
	}
	nBr := m.Posterior.NBranch()
	if nBr != m.NBranch() {
		return nil, fmt.Errorf("model %v: posterior covers %d branches, expected %d", m.ID, nBr, m.NBranch())
	}
	if bootstrap < 1 {
		bootstrap = 1
	}
	e := &estimators{m: m, p: m.Posterior, ef: m.Posterior.EventFreq()}

	all := make([]int, nBr)
	for i := range all {
		all[i] = i
	}
	samples := make([][]int, bootstrap)
	for b := range samples {
		samples[b] = make([]int, nBr)
		for i := range samples[b] {
			samples[b][i] = rng.Intn(nBr)
		}
	}

	s := &Summary{
		Prefix:      prefix,
		Probability: m.Probability,
		BIC:         BIC(m.Probability, mode, nBase, nBr),
	}
	bs := make([]float64, bootstrap)
	for _, key := range Keys {
		for b, idx := range samples {
			bs[b] = e.get(key, idx)
		}
		st := Stat{
			Key:       key,
			Value:     e.get(key, all),
			Std:       dist.Std(bs),
			Precision: 6,
		}
		st.Low, st.High = dist.Interval(bs, 0.025, 0.975)
		if key == "delta" {
			st.Precision = 4
		}
		s.Stats = append(s.Stats, st)
	}
	log.Debugf("Summarized model %v with %d bootstrap replicates", m.ID, bootstrap)
	return s, nil
}

// Write writes the summary table.
func (s *Summary) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Prefix    \tParameter \tValue     \tSTD       \tCI 95%% (Low - High)\n"); err != nil {
		return err
	}
	for _, st := range s.Stats {
		p := st.Precision
		if _, err := fmt.Fprintf(w, "%-10s\t%-10s\t%.*f\t%.*f\t%.*f - %.*f\n",
			s.Prefix, st.Key, p, st.Value, p, st.Std, p, st.Low, p, st.High); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%-10s\tBIC       \t%v\n", s.Prefix, s.BIC)
	return err
}
