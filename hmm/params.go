// Package hmm implements the gapped hidden Markov model recursions:
// the distant transition cache, forward-backward, expected counts and
// decoding.
package hmm

import (
	"errors"
	"fmt"

	"github.com/gonum/floats"
	"github.com/gonum/matrix/mat64"
)

// ErrNumericalDegeneracy is returned when a recursion step has no
// probability mass left.
var ErrNumericalDegeneracy = errors.New("numerical degeneracy")

// Params are the parameters of a single branch HMM. State 0 is the
// background state, emission category 0 is "no mutation".
type Params struct {
	// Pi is the initial state distribution.
	Pi []float64
	// A is the transition matrix (NA x NA).
	A *mat64.Dense
	// B is the emission matrix (NA x NB).
	B *mat64.Dense
}

// NewParams creates parameters, pi defaults to the background state.
func NewParams(a, b *mat64.Dense) *Params {
	na, _ := a.Dims()
	pi := make([]float64, na)
	pi[0] = 1
	return &Params{Pi: pi, A: a, B: b}
}

// NA returns the number of hidden states.
func (p *Params) NA() int {
	r, _ := p.A.Dims()
	return r
}

// NB returns the number of emission categories.
func (p *Params) NB() int {
	_, c := p.B.Dims()
	return c
}

// Emission returns the emission probabilities of category cat for
// every state.
func (p *Params) Emission(cat int) []float64 {
	return mat64.Col(nil, cat, p.B)
}

// Check tests matrix dimensions.
func (p *Params) Check() error {
	ar, ac := p.A.Dims()
	br, _ := p.B.Dims()
	if ar != ac || ar != br || len(p.Pi) != ar {
		return fmt.Errorf("inconsistent dimensions: pi=%d, A=%dx%d, B rows=%d", len(p.Pi), ar, ac, br)
	}
	return nil
}

// vecMat computes dst = x·m.
func vecMat(dst, x []float64, m *mat64.Dense) []float64 {
	_, c := m.Dims()
	if dst == nil {
		dst = make([]float64, c)
	} else {
		for i := range dst {
			dst[i] = 0
		}
	}
	for i, v := range x {
		if v != 0 {
			floats.AddScaled(dst, v, m.RawRowView(i))
		}
	}
	return dst
}

// matVec computes dst = m·x.
func matVec(dst []float64, m *mat64.Dense, x []float64) []float64 {
	r, _ := m.Dims()
	if dst == nil {
		dst = make([]float64, r)
	}
	for i := 0; i < r; i++ {
		dst[i] = floats.Dot(m.RawRowView(i), x)
	}
	return dst
}

// normalize scales s to unit sum and returns the sum.
func normalize(s []float64) float64 {
	sum := floats.Sum(s)
	if sum > 0 {
		floats.Scale(1/sum, s)
	}
	return sum
}
