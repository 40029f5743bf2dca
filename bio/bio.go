// Package bio reads mutation tables and importation annotations.
package bio

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/op/go-logging"

	"github.com/mrrlab/divhmm/obs"
)

// log is the global logging variable.
var log = logging.MustGetLogger("bio")

// PooledBranch is the branch name used when all the branches are
// pooled together.
const PooledBranch = "all"

const (
	cleanWeight     = 1
	ambiguousWeight = 0.5
)

var cleanAllele = regexp.MustCompile(`^[ACGTacgt]->[ACGTacgt]$`)

// Interval is an inclusive genomic interval.
type Interval struct {
	Start, End int
}

// Importations stores imported regions per branch and sequence name.
type Importations map[string]map[string][]Interval

// Contains returns true if the site is inside an importation of
// the branch. Intervals must be disjoint and sorted.
func (imp Importations) Contains(branch, seq string, site int) bool {
	ivs := imp[branch][seq]
	i := sort.Search(len(ivs), func(i int) bool { return ivs[i].End >= site })
	return i < len(ivs) && ivs[i].Start <= site
}

// ReadImportations parses `Importation branch seq start end` lines,
// other lines are ignored.
func ReadImportations(rd io.Reader) (Importations, error) {
	imp := make(Importations)
	scanner := bufio.NewScanner(rd)
	n := 0
	for scanner.Scan() {
		n++
		fields := strings.Split(strings.TrimSpace(scanner.Text()), "\t")
		if fields[0] != "Importation" {
			continue
		}
		if len(fields) < 5 {
			return nil, fmt.Errorf("line %d: expected 5 fields, got %d", n, len(fields))
		}
		start, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		end, err := strconv.Atoi(fields[4])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if imp[fields[1]] == nil {
			imp[fields[1]] = make(map[string][]Interval)
		}
		imp[fields[1]][fields[2]] = append(imp[fields[1]][fields[2]], Interval{start, end})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	for _, bySeq := range imp {
		for name, ivs := range bySeq {
			sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start < ivs[j].Start })
			bySeq[name] = flatten(ivs)
		}
	}
	return imp, nil
}

// extend merges o into the interval if they overlap or touch.
// o.Start must not be smaller than the interval start.
func (iv *Interval) extend(o Interval) bool {
	if o.Start > iv.End+1 {
		return false
	}
	if o.End > iv.End {
		iv.End = o.End
	}
	return true
}

// flatten merges overlapping intervals sorted by start. The result
// shares memory with the argument.
func flatten(ivs []Interval) []Interval {
	if len(ivs) == 0 {
		return ivs
	}
	i := 0
	for j := 1; j < len(ivs); j++ {
		if !ivs[i].extend(ivs[j]) {
			i++
			ivs[i] = ivs[j]
		}
	}
	return ivs[:i+1]
}

// MutationTable is the parsed mutation table.
type MutationTable struct {
	Records []obs.Record
	Seqs    []obs.SeqInfo
	Missing []obs.Region
	// Excluded is the number of mutations inside importations.
	Excluded int
}

// ReadMutations parses a mutation table. Header lines start with
// `##` and declare sequence lengths and missing regions, lines
// starting with a single `#` are ignored. Data lines are tab
// separated: branch, sequence name, site, any column, allele.
// Mutations inside an importation of their own branch are skipped.
// If pooled is true all the mutations are assigned to a single
// branch.
func ReadMutations(rd io.Reader, imp Importations, pooled bool) (*MutationTable, error) {
	t := &MutationTable{}
	seqIDs := make(map[string]int)
	type missing struct {
		seq        string
		start, end int
	}
	var ms []missing

	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "##") {
			part := strings.Fields(line[2:])
			if len(part) == 0 {
				continue
			}
			switch part[0] {
			case "Sequence_length:":
				if len(part) < 3 {
					return nil, fmt.Errorf("line %d: bad sequence length header", n)
				}
				l, err := strconv.Atoi(part[2])
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", n, err)
				}
				if _, ok := seqIDs[part[1]]; !ok {
					seqIDs[part[1]] = len(t.Seqs)
					t.Seqs = append(t.Seqs, obs.SeqInfo{Name: part[1], Length: l})
				}
			case "Missing_region:":
				if len(part) < 4 {
					return nil, fmt.Errorf("line %d: bad missing region header", n)
				}
				s, err := strconv.Atoi(part[2])
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", n, err)
				}
				e, err := strconv.Atoi(part[3])
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", n, err)
				}
				ms = append(ms, missing{part[1], s, e})
			}
			continue
		}
		if line[0] == '#' {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 5 {
			return nil, fmt.Errorf("line %d: expected at least 5 fields, got %d", n, len(fields))
		}
		site, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		branch, seq := fields[0], fields[1]
		id, ok := seqIDs[seq]
		if !ok {
			id = len(t.Seqs)
			seqIDs[seq] = id
			t.Seqs = append(t.Seqs, obs.SeqInfo{Name: seq, Length: site})
		}
		if t.Seqs[id].Length < site {
			t.Seqs[id].Length = site
		}
		if imp.Contains(branch, seq, site) {
			t.Excluded++
			continue
		}
		w := ambiguousWeight
		if cleanAllele.MatchString(fields[4]) {
			w = cleanWeight
		}
		if pooled {
			branch = PooledBranch
		}
		t.Records = append(t.Records, obs.Record{Branch: branch, SeqID: id, Pos: site, Weight: w})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for _, m := range ms {
		id, ok := seqIDs[m.seq]
		if !ok {
			log.Warningf("Missing region on unknown sequence %s ignored", m.seq)
			continue
		}
		t.Missing = append(t.Missing, obs.Region{SeqID: id, Start: m.start, End: m.end})
	}
	if t.Excluded > 0 {
		log.Infof("%d mutation(s) inside importations were excluded", t.Excluded)
	}
	if len(t.Records) == 0 {
		return nil, errors.New("no mutations found")
	}
	return t, nil
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc *readCloser) Close() (err error) {
	for _, c := range rc.closers {
		if e := c.Close(); e != nil && err == nil {
			err = e
		}
	}
	return
}

// Open opens a plain or gzip compressed file.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	magic, _ := br.Peek(2)
	if bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &readCloser{gz, []io.Closer{gz, f}}, nil
	}
	return &readCloser{br, []io.Closer{f}}, nil
}

// ReadMutationFile reads a mutation table and optional importation
// annotations from files.
func ReadMutationFile(path, rechmm string, pooled bool) (*MutationTable, error) {
	var imp Importations
	if rechmm != "" {
		f, err := Open(rechmm)
		if err != nil {
			return nil, err
		}
		imp, err = ReadImportations(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", rechmm, err)
		}
	}
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadMutations(f, imp, pooled)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return t, nil
}
