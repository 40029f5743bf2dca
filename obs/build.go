package obs

import (
	"fmt"
	"math"
	"sort"

	"github.com/willf/bitset"
)

const (
	// minSplit is the missing region length which always splits a
	// sequence into blocks (shorter sequences are split by regions
	// covering them completely).
	minSplit = 500
	// rescue is the half-width of the window which is unmasked around
	// a mutation called inside a masked region.
	rescue = 2
	// siteBase is added to the summed site weight before truncation
	// so that a single ambiguous call still counts as one mutation.
	siteBase = 0.51
)

// Options controls the observation builder.
type Options struct {
	// NB is the number of emission categories. With NB > 2
	// mutations are split into two categories by site multiplicity.
	NB int
	// MaxGap is the largest allowed gap between two consecutive
	// events, longer gaps are split with anchors.
	MaxGap int
}

type site struct {
	seq, pos int
}

// Build creates observations from mutation records, sequence
// information and missing regions.
func Build(records []Record, seqs []SeqInfo, missing []Region, opts Options) (*Observations, error) {
	if err := validate(records, seqs, missing, opts); err != nil {
		return nil, err
	}

	mult := make(map[site]float64)
	branchSites := make(map[string][]site)
	for _, r := range records {
		s := site{r.SeqID, r.Pos}
		if _, ok := mult[s]; !ok {
			mult[s] = siteBase
		}
		mult[s] += r.Weight
		branchSites[r.Branch] = append(branchSites[r.Branch], s)
	}

	names := make([]string, 0, len(branchSites))
	for name := range branchSites {
		names = append(names, name)
	}
	sort.Strings(names)

	blocks := splitBlocks(seqs, missing)
	masks := buildMasks(seqs, missing, mult)

	// cumulative positions of mutated sites
	cum := make(map[site]int, len(mult))
	bySeq := make([][]int, len(seqs))
	for s := range mult {
		bySeq[s.seq] = append(bySeq[s.seq], s.pos)
	}
	for _, p := range bySeq {
		sort.Ints(p)
	}
	for i := range blocks {
		b := &blocks[i]
		positions := bySeq[b.SeqID]
		j := sort.SearchInts(positions, b.Start)
		mask := masks[b.SeqID]
		c := 0
		for p := b.Start; p <= b.End; p++ {
			if !mask.Test(uint(p)) {
				c++
			}
			for j < len(positions) && positions[j] == p {
				if !mask.Test(uint(p)) {
					cum[site{b.SeqID, p}] = c
				}
				j++
			}
		}
		b.Bases = c
	}

	cats := categorize(mult, opts.NB)

	o := &Observations{
		Branches: make([]*Branch, len(names)),
		Blocks:   blocks,
		Seqs:     seqs,
		NB:       opts.NB,
		MaxGap:   opts.MaxGap,
	}
	for _, b := range blocks {
		o.NBase += b.Bases
	}

	dropped := 0
	for brID, name := range names {
		br := &Branch{ID: brID, Name: name, Seqs: make([]Sequence, len(blocks))}
		perBlock := make([][]Event, len(blocks))
		seen := make(map[site]bool)
		for _, s := range branchSites[name] {
			if seen[s] {
				continue
			}
			seen[s] = true
			blID := findBlock(blocks, s)
			c, ok := cum[s]
			if blID < 0 || !ok {
				dropped++
				continue
			}
			perBlock[blID] = append(perBlock[blID], Event{
				Branch: brID,
				SeqID:  s.seq,
				Block:  blID,
				Pos:    s.pos,
				Cat:    cats[s],
				Cum:    c,
			})
		}
		for blID, b := range blocks {
			br.Seqs[blID] = makeSequence(brID, b, perBlock[blID], opts.MaxGap)
		}
		o.Branches[brID] = br
	}
	if dropped > 0 {
		log.Warningf("%d mutation(s) in long missing regions were ignored", dropped)
	}
	log.Infof("Observations: %d branches, %d blocks, %d bases, %d mutated sites",
		len(o.Branches), len(o.Blocks), o.NBase, len(mult))

	return o, nil
}

// validate checks the builder input.
func validate(records []Record, seqs []SeqInfo, missing []Region, opts Options) error {
	if len(seqs) == 0 {
		return fmt.Errorf("%w: empty sequence list", ErrInvalidInput)
	}
	if opts.MaxGap < 1 {
		return fmt.Errorf("%w: maximum gap should be positive (%d)", ErrInvalidInput, opts.MaxGap)
	}
	if opts.NB < 2 {
		return fmt.Errorf("%w: at least two emission categories required (%d)", ErrInvalidInput, opts.NB)
	}
	for i, s := range seqs {
		if s.Length < 1 {
			return fmt.Errorf("%w: sequence %d (%s) has length %d", ErrInvalidInput, i, s.Name, s.Length)
		}
	}
	for _, m := range missing {
		if m.SeqID < 0 || m.SeqID >= len(seqs) {
			return fmt.Errorf("%w: missing region on unknown sequence %d", ErrInvalidInput, m.SeqID)
		}
		if m.End < m.Start {
			return fmt.Errorf("%w: missing region %d-%d is reversed", ErrInvalidInput, m.Start, m.End)
		}
	}
	for _, r := range records {
		if r.SeqID < 0 || r.SeqID >= len(seqs) {
			return fmt.Errorf("%w: record on unknown sequence %d", ErrInvalidInput, r.SeqID)
		}
		if r.Pos < 1 || r.Pos > seqs[r.SeqID].Length {
			return fmt.Errorf("%w: position %d outside of sequence %s (1-%d)",
				ErrInvalidInput, r.Pos, seqs[r.SeqID].Name, seqs[r.SeqID].Length)
		}
		if !(r.Weight > 0) || math.IsInf(r.Weight, 0) {
			return fmt.Errorf("%w: bad weight %v at %s:%d", ErrInvalidInput, r.Weight, seqs[r.SeqID].Name, r.Pos)
		}
	}
	return nil
}

// splitBlocks splits sequences by long missing regions.
func splitBlocks(seqs []SeqInfo, missing []Region) (blocks []Block) {
	for seqID, s := range seqs {
		var ms []Region
		for _, m := range missing {
			if m.SeqID == seqID && m.Len() >= minInt(minSplit, s.Length) {
				ms = append(ms, m)
			}
		}
		sort.Slice(ms, func(i, j int) bool { return ms[i].Start < ms[j].Start })
		start := 1
		for _, m := range ms {
			if m.Start-1 >= start {
				blocks = append(blocks, Block{SeqID: seqID, Start: start, End: m.Start - 1})
			}
			if m.End+1 > start {
				start = m.End + 1
			}
		}
		if s.Length >= start {
			blocks = append(blocks, Block{SeqID: seqID, Start: start, End: s.Length})
		}
	}
	for i := range blocks {
		blocks[i].ID = i
	}
	return
}

// buildMasks creates a mask of missing bases for every sequence.
// Mutated sites and their neighbourhood are always retained.
func buildMasks(seqs []SeqInfo, missing []Region, mult map[site]float64) []*bitset.BitSet {
	masks := make([]*bitset.BitSet, len(seqs))
	for i, s := range seqs {
		masks[i] = bitset.New(uint(s.Length + 2))
	}
	for _, m := range missing {
		end := minInt(m.End, seqs[m.SeqID].Length)
		for p := maxInt(m.Start, 1); p <= end; p++ {
			masks[m.SeqID].Set(uint(p))
		}
	}
	for s := range mult {
		mask := masks[s.seq]
		if !mask.Test(uint(s.pos)) {
			continue
		}
		for p := maxInt(s.pos-rescue, 1); p <= minInt(s.pos+rescue, seqs[s.seq].Length); p++ {
			mask.Clear(uint(p))
		}
	}
	return masks
}

// categorize converts summed site weights into mutation categories.
// With more than two emission categories the site multiplicities
// are split at the (1/multiplicity weighted) median.
func categorize(mult map[site]float64, nb int) map[site]int {
	cats := make(map[site]int, len(mult))
	if nb <= 2 {
		for s := range mult {
			cats[s] = 1
		}
		return cats
	}
	maxV := 0
	for _, w := range mult {
		if v := multiplicity(w); v > maxV {
			maxV = v
		}
	}
	hist := make([]float64, maxV+1)
	for _, w := range mult {
		v := multiplicity(w)
		hist[v] += 1 / float64(v)
	}
	total := 0.0
	for i := range hist {
		hist[i] = math.Floor(hist[i])
		total += hist[i]
	}
	cut := maxV + 1
	cs := 0.0
	for i, h := range hist {
		cs += h
		if total > 0 && cs/total >= 0.5 {
			cut = i + 1
			break
		}
	}
	for s, w := range mult {
		if multiplicity(w) < cut {
			cats[s] = 1
		} else {
			cats[s] = 2
		}
	}
	return cats
}

// multiplicity returns the number of mutations implied by a summed
// site weight.
func multiplicity(w float64) int {
	return maxInt(int(w), 1)
}

// findBlock returns the id of the block containing the site or -1.
func findBlock(blocks []Block, s site) int {
	i := sort.Search(len(blocks), func(i int) bool {
		b := blocks[i]
		return b.SeqID > s.seq || (b.SeqID == s.seq && b.End >= s.pos)
	})
	if i < len(blocks) && blocks[i].SeqID == s.seq && blocks[i].Start <= s.pos {
		return i
	}
	return -1
}

// makeSequence brackets mutations with anchors, splits long gaps and
// computes gaps.
func makeSequence(brID int, b Block, muts []Event, maxGap int) Sequence {
	sort.Slice(muts, func(i, j int) bool { return muts[i].Cum < muts[j].Cum })

	events := make(Sequence, 0, len(muts)+2)
	events = append(events, Event{Branch: brID, SeqID: b.SeqID, Block: b.ID, Pos: b.Start, Cum: 0})
	events = append(events, muts...)
	events = append(events, Event{Branch: brID, SeqID: b.SeqID, Block: b.ID, Pos: b.End, Cum: b.Bases + 1})

	seq := make(Sequence, 0, len(events))
	for i, e := range events {
		if i > 0 {
			prev := events[i-1].Cum
			gap := e.Cum - prev
			if gap > maxGap {
				n := (gap+maxGap-1)/maxGap - 1
				for k := 1; k <= n; k++ {
					seq = append(seq, Event{
						Branch: brID,
						SeqID:  b.SeqID,
						Block:  b.ID,
						Pos:    NoPos,
						Cum:    prev + k*gap/(n+1),
					})
				}
			}
		}
		seq = append(seq, e)
	}
	for i := range seq {
		if i == 0 {
			seq[i].Gap = 0
		} else {
			seq[i].Gap = seq[i].Cum - seq[i-1].Cum
		}
	}
	return seq
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
