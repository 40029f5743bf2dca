// Package obs turns per-branch mutation records into gapped event
// sequences, one per branch and genomic block.
package obs

import (
	"errors"

	"github.com/op/go-logging"
)

// log is the global logging variable.
var log = logging.MustGetLogger("obs")

// ErrInvalidInput is returned (wrapped) for malformed builder input.
var ErrInvalidInput = errors.New("invalid input")

// NoPos is the genomic position of anchors which are placed inside
// a block and do not correspond to a specific input position.
const NoPos = -1

// Record is a single mutation call on a branch.
type Record struct {
	// Branch is the branch name.
	Branch string
	// SeqID is the index of the sequence in the sequence list.
	SeqID int
	// Pos is the 1-based position on the sequence.
	Pos int
	// Weight is 1 for clean substitutions and a fraction for
	// ambiguous calls.
	Weight float64
}

// SeqInfo describes an input sequence (chromosome, contig).
type SeqInfo struct {
	Name   string
	Length int
}

// Region is an inclusive interval on a sequence.
type Region struct {
	SeqID int
	Start int
	End   int
}

// Len returns the region length.
func (r Region) Len() int {
	return r.End - r.Start + 1
}

// Block is a contiguous stretch of a sequence which is not split by
// a long missing region.
type Block struct {
	ID    int
	SeqID int
	Start int
	End   int
	// Bases is the number of retained (non-masked) bases.
	Bases int
}

// Event is one observation of a branch. Cat is zero for anchors and
// the mutation category otherwise. Gap is the number of retained
// bases since the previous event of the same block, Cum is the
// position counted in retained bases from the block start.
type Event struct {
	Branch int
	SeqID  int
	Block  int
	Pos    int
	Cat    int
	Gap    int
	Cum    int
}

// IsMutation returns true for non-anchor events.
func (e Event) IsMutation() bool {
	return e.Cat > 0
}

// Sequence is an ordered list of events of one branch in one block.
type Sequence []Event

// Mutations returns the mutation events of the sequence.
func (s Sequence) Mutations() (muts Sequence) {
	for _, e := range s {
		if e.IsMutation() {
			muts = append(muts, e)
		}
	}
	return
}

// MaxGap returns the largest gap in the sequence.
func (s Sequence) MaxGap() (max int) {
	for _, e := range s {
		if e.Gap > max {
			max = e.Gap
		}
	}
	return
}

// Branch stores all the sequences of a branch, Seqs is indexed by
// the block id.
type Branch struct {
	ID   int
	Name string
	Seqs []Sequence
}

// NMutations returns the number of mutation events on the branch.
func (b *Branch) NMutations() (n int) {
	for _, s := range b.Seqs {
		for _, e := range s {
			if e.IsMutation() {
				n++
			}
		}
	}
	return
}

// Observations is the read-only input shared by all the models.
type Observations struct {
	Branches []*Branch
	Blocks   []Block
	Seqs     []SeqInfo
	// NBase is the total number of retained bases.
	NBase int
	// NB is the number of emission categories including the
	// no-mutation category.
	NB int
	// MaxGap is the largest gap allowed between two events.
	MaxGap int
}

// MaxGapObserved returns the largest gap over all the sequences.
func (o *Observations) MaxGapObserved() (max int) {
	for _, br := range o.Branches {
		for _, s := range br.Seqs {
			if g := s.MaxGap(); g > max {
				max = g
			}
		}
	}
	return
}

// Distances returns cumulative position differences between
// consecutive mutations of every branch and block.
func (o *Observations) Distances() (d []int) {
	for _, br := range o.Branches {
		for _, s := range br.Seqs {
			muts := s.Mutations()
			for i := 1; i < len(muts); i++ {
				d = append(d, muts[i].Cum-muts[i-1].Cum)
			}
		}
	}
	return
}

// BranchNames returns branch names in branch id order.
func (o *Observations) BranchNames() []string {
	names := make([]string, len(o.Branches))
	for i, br := range o.Branches {
		names[i] = br.Name
	}
	return names
}
