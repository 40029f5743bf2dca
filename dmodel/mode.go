// Package dmodel provides the diversified region model: candidate
// parameters, their translation into per-branch HMM parameters,
// expectation and maximization steps, initial guesses, self-repair
// and decoding.
package dmodel

import (
	"errors"
	"fmt"

	"github.com/op/go-logging"
)

// log is the global logging variable.
var log = logging.MustGetLogger("dmodel")

// ErrNoCandidate is returned when no initial model can be built.
var ErrNoCandidate = errors.New("no candidate model")

// Mode is a type specifying the hidden state and emission layout.
type Mode int

// Modes.
const (
	// Background and diversified states, mutation or not.
	LEGACY Mode = iota
	// Background, diversified, homoplastic and mixed states with two
	// mutation categories.
	HYBRID
	// Background and homoplastic states with two mutation
	// categories.
	INTRA
	// Background, diversified and homoplastic states with two
	// mutation categories.
	BOTH
)

var modeNames = [...]string{"legacy", "hybrid", "intra", "both"}

var modeDims = [...][2]int{{2, 2}, {4, 3}, {2, 3}, {3, 3}}

// ParseMode converts a task number into a mode.
func ParseMode(task int) (Mode, error) {
	if task < 0 || task >= len(modeNames) {
		return 0, fmt.Errorf("unknown task %d", task)
	}
	return Mode(task), nil
}

// ModeFromDims finds the mode with given numbers of states and
// emission categories.
func ModeFromDims(na, nb int) (Mode, error) {
	for i, d := range modeDims {
		if d[0] == na && d[1] == nb {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("no mode with n_a=%d, n_b=%d", na, nb)
}

// NA returns the number of hidden states.
func (m Mode) NA() int {
	return modeDims[m][0]
}

// NB returns the number of emission categories.
func (m Mode) NB() int {
	return modeDims[m][1]
}

func (m Mode) String() string {
	return modeNames[m]
}

// Categories assigns branches to parameter groups. Every axis is
// indexed by the branch id.
type Categories struct {
	// RTheta is the group sharing theta and R.
	RTheta []int `json:"R/theta"`
	// Delta is the group sharing region exit rates.
	Delta []int `json:"delta"`
	// Nu is the group sharing mutation rates inside regions.
	Nu []int `json:"nu"`
	// NoRec branches have the diversified states disabled.
	NoRec map[int]bool `json:"noRec"`
	// LowCov maps an R/theta group to its low coverage twin.
	LowCov map[int]int `json:"low_cov,omitempty"`
}

// Axis names accepted by NewCategories.
const (
	AxisRTheta = "R/theta"
	AxisDelta  = "delta"
	AxisNu     = "nu"
)

// NewCategories creates categories for n branches. All the branches
// share the same group, except for axes listed in separate which get
// a group per branch.
func NewCategories(n int, separate ...string) (Categories, error) {
	c := Categories{
		RTheta: make([]int, n),
		Delta:  make([]int, n),
		Nu:     make([]int, n),
		NoRec:  map[int]bool{},
	}
	for _, axis := range separate {
		var v []int
		switch axis {
		case AxisRTheta:
			v = c.RTheta
		case AxisDelta:
			v = c.Delta
		case AxisNu:
			v = c.Nu
		default:
			return c, fmt.Errorf("unknown category axis %q", axis)
		}
		for i := range v {
			v[i] = i
		}
	}
	return c, nil
}

// Clone returns a deep copy.
func (c Categories) Clone() Categories {
	r := Categories{
		RTheta: append([]int(nil), c.RTheta...),
		Delta:  append([]int(nil), c.Delta...),
		Nu:     append([]int(nil), c.Nu...),
		NoRec:  make(map[int]bool, len(c.NoRec)),
	}
	for k, v := range c.NoRec {
		r.NoRec[k] = v
	}
	if c.LowCov != nil {
		r.LowCov = make(map[int]int, len(c.LowCov))
		for k, v := range c.LowCov {
			r.LowCov[k] = v
		}
	}
	return r
}

// groups returns the number of groups on an axis.
func groups(axis []int) int {
	n := 0
	for _, g := range axis {
		if g+1 > n {
			n = g + 1
		}
	}
	return n
}

// members returns branches of group g.
func members(axis []int, g int) (r []int) {
	for br, x := range axis {
		if x == g {
			r = append(r, br)
		}
	}
	return
}

// count returns the size of group g.
func count(axis []int, g int) int {
	return len(members(axis, g))
}
