package dmodel

import (
	"fmt"
	"math"
)

// Constants of the search and self-repair.
const (
	// UnsetProbability marks a model which was never evaluated.
	UnsetProbability = -1e300
	// UnsetDiff forces evaluation of a model.
	UnsetDiff = 1e300
	// PosteriorCap is the largest mutation proportion used for
	// Jukes-Cantor distances.
	PosteriorCap = 0.74
	// SplitLogOdds is the ratio between diversified and
	// background distances below which a nu group is split.
	SplitLogOdds = 3
	// HomoplasyRatio is the smallest ratio between homoplasy
	// frequencies inside and outside of the regions.
	HomoplasyRatio = 1.5
	// MinSplitGroup is the group size above which a nu group can be
	// split.
	MinSplitGroup = 2
	// MinMergeGroup is the group size above which a low coverage
	// twin group is created.
	MinMergeGroup = 1
)

// Limits of the estimated parameters.
const (
	minDelta = 1e-5
	maxDelta = 0.05
	minV     = 1e-4
	maxV     = 0.7
	maxVInit = 0.75
	maxM     = 0.74
	maxRSum  = 0.74
	maxR     = 0.25
	minNoMut = 0.01
	minH     = 0.01
	maxH     = 0.95
	// minRTheta is the smallest R to theta ratio.
	minRTheta = 0.001
)

// Posterior stores per branch sufficient statistics of the last
// expectation step.
type Posterior struct {
	// Theta is [all emissions, mutations] of the background state.
	Theta [][2]float64 `json:"theta"`
	// H is [mutations, homoplasies] outside and inside of the
	// homoplastic states.
	H [][4]float64 `json:"h"`
	// R is [background occupancy, entries into states 1..].
	R [][4]float64 `json:"R"`
	// Delta is [occupancy, exits] of states 1...
	Delta  [][3][2]float64 `json:"delta"`
	Delta2 [][3][2]float64 `json:"delta2"`
	// V and V2 are [all emissions, mutations] inside of the
	// diversified and homoplastic states.
	V           [][2]float64 `json:"v"`
	V2          [][2]float64 `json:"v2"`
	Probability []float64    `json:"probability"`
}

// NewPosterior creates empty posterior statistics for n branches.
func NewPosterior(n int) *Posterior {
	return &Posterior{
		Theta:       make([][2]float64, n),
		H:           make([][4]float64, n),
		R:           make([][4]float64, n),
		Delta:       make([][3][2]float64, n),
		Delta2:      make([][3][2]float64, n),
		V:           make([][2]float64, n),
		V2:          make([][2]float64, n),
		Probability: make([]float64, n),
	}
}

// NBranch returns the number of branches.
func (p *Posterior) NBranch() int {
	return len(p.Theta)
}

// Clone returns a deep copy.
func (p *Posterior) Clone() *Posterior {
	if p == nil {
		return nil
	}
	return &Posterior{
		Theta:       append([][2]float64(nil), p.Theta...),
		H:           append([][4]float64(nil), p.H...),
		R:           append([][4]float64(nil), p.R...),
		Delta:       append([][3][2]float64(nil), p.Delta...),
		Delta2:      append([][3][2]float64(nil), p.Delta2...),
		V:           append([][2]float64(nil), p.V...),
		V2:          append([][2]float64(nil), p.V2...),
		Probability: append([]float64(nil), p.Probability...),
	}
}

// Model is a candidate parameter set.
type Model struct {
	// Theta is the background share of events per R/theta group.
	Theta []float64 `json:"theta"`
	// R are the region entry shares per R/theta group and
	// non-background state.
	R [][]float64 `json:"R"`
	// Delta and Delta2 are region exit rates per delta group.
	Delta  []float64 `json:"delta"`
	Delta2 []float64 `json:"delta2"`
	// V and V2 are mutation rates inside of the diversified and
	// homoplastic states per nu group.
	V  []float64 `json:"v"`
	V2 []float64 `json:"v2"`
	// H are homoplasy frequencies outside and inside of the
	// homoplastic states.
	H [2]float64 `json:"h"`
	// EventFreq is the event frequency per branch.
	EventFreq   []float64 `json:"EventFreq"`
	Probability float64   `json:"probability"`
	Diff        float64   `json:"diff"`
	Ite         int       `json:"ite"`
	// ID identifies the model lineage, duplicates get fractional
	// increments.
	ID         float64    `json:"id"`
	Categories Categories `json:"categories"`
	Posterior  *Posterior `json:"posterior,omitempty"`
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	r := *m
	r.Theta = append([]float64(nil), m.Theta...)
	r.R = make([][]float64, len(m.R))
	for i, v := range m.R {
		r.R[i] = append([]float64(nil), v...)
	}
	r.Delta = append([]float64(nil), m.Delta...)
	r.Delta2 = append([]float64(nil), m.Delta2...)
	r.V = append([]float64(nil), m.V...)
	r.V2 = append([]float64(nil), m.V2...)
	r.EventFreq = append([]float64(nil), m.EventFreq...)
	r.Categories = m.Categories.Clone()
	r.Posterior = m.Posterior.Clone()
	return &r
}

// NBranch returns the number of branches.
func (m *Model) NBranch() int {
	return len(m.EventFreq)
}

// Reset marks the model for re-evaluation.
func (m *Model) Reset() {
	m.Probability = UnsetProbability
	m.Diff = UnsetDiff
}

// Fix extends parameter vectors so that every group referenced in
// the categories exists.
func (m *Model) Fix(na int) {
	for len(m.Theta) > 0 && len(m.Theta) < groups(m.Categories.RTheta) {
		m.Theta = append(m.Theta, m.Theta[len(m.Theta)-1])
		m.R = append(m.R, append([]float64(nil), m.R[len(m.R)-1]...))
	}
	for i, r := range m.R {
		for len(r) < na-1 {
			r = append(r, 0)
		}
		m.R[i] = r
	}
	for len(m.Delta) > 0 && len(m.Delta) < groups(m.Categories.Delta) {
		m.Delta = append(m.Delta, m.Delta[len(m.Delta)-1])
		m.Delta2 = append(m.Delta2, m.Delta2[len(m.Delta2)-1])
	}
	for len(m.V) > 0 && len(m.V) < groups(m.Categories.Nu) {
		m.V = append(m.V, m.V[len(m.V)-1])
		m.V2 = append(m.V2, m.V2[len(m.V2)-1])
	}
}

// Check tests model consistency.
func (m *Model) Check(na int) error {
	n := m.NBranch()
	c := m.Categories
	if len(c.RTheta) != n || len(c.Delta) != n || len(c.Nu) != n {
		return fmt.Errorf("model %v: categories cover %d/%d/%d branches, expected %d",
			m.ID, len(c.RTheta), len(c.Delta), len(c.Nu), n)
	}
	if len(m.Theta) == 0 || len(m.Theta) != len(m.R) {
		return fmt.Errorf("model %v: %d theta groups, %d R groups", m.ID, len(m.Theta), len(m.R))
	}
	for _, r := range m.R {
		if len(r) != na-1 {
			return fmt.Errorf("model %v: R has %d components, expected %d", m.ID, len(r), na-1)
		}
	}
	if len(m.Delta) == 0 || len(m.Delta) != len(m.Delta2) {
		return fmt.Errorf("model %v: %d delta, %d delta2", m.ID, len(m.Delta), len(m.Delta2))
	}
	if len(m.V) == 0 || len(m.V) != len(m.V2) {
		return fmt.Errorf("model %v: %d v, %d v2", m.ID, len(m.V), len(m.V2))
	}
	return nil
}

// String returns a one line summary of the model.
func (m *Model) String() string {
	var d float64
	for _, r := range m.R[0] {
		d += r
	}
	var ef float64
	for _, e := range m.EventFreq {
		ef += e
	}
	return fmt.Sprintf("%v[%d] lnL=%.6f EventFreq=%.3e theta=%.3f D=%.3f delta=%.3e,%.3e nu=%.3e,%.3e h=%.3f,%.3f",
		m.ID, m.Ite, m.Probability, ef, m.Theta[0], d,
		1/m.Delta[0], 1/m.Delta2[0], m.V[0], m.V2[0], m.H[0], m.H[1])
}

// JC converts a proportion of differences into a Jukes-Cantor
// distance.
func JC(p float64) float64 {
	if p <= 0 {
		return 0
	}
	return -3. / 4. * math.Log(1-4./3.*p)
}

// invJC converts a Jukes-Cantor distance into a proportion.
func invJC(d float64) float64 {
	return 3. / 4. * (1 - math.Exp(-4./3.*d))
}

func clamp(x, min, max float64) float64 {
	return math.Max(min, math.Min(max, x))
}

// DiversifiedParams returns the number of free parameters which
// describe the non-background states.
func (m *Model) DiversifiedParams(mode Mode) int {
	na, nb := mode.NA(), mode.NB()
	n := (na - 1) * len(m.R)
	if na > 2 {
		n += 2 * len(m.Delta)
	} else {
		n += len(m.Delta)
	}
	if na > 2 {
		n += 2 * len(m.V)
	} else {
		n += len(m.V)
	}
	if nb > 2 {
		n++
	}
	return n
}
