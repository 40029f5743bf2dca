package dmodel

import (
	"bytes"
	"math"
	"reflect"
	"testing"

	"github.com/gonum/floats"
	"github.com/gonum/matrix/mat64"
	"github.com/op/go-logging"

	"github.com/mrrlab/divhmm/hmm"
	"github.com/mrrlab/divhmm/obs"
)

const smallDiff = 1e-9

func init() {
	logging.SetLevel(logging.ERROR, "dmodel")
	logging.SetLevel(logging.ERROR, "obs")
}

// clusteredData returns a single branch with background mutations
// every 10 bases and a dense cluster between 500 and 540.
func clusteredData(tst *testing.T, nb int) *obs.Observations {
	var records []obs.Record
	for pos := 10; pos < 1000; pos += 10 {
		if pos > 500 && pos < 540 {
			continue
		}
		records = append(records, obs.Record{Branch: "b", Pos: pos, Weight: 1})
	}
	for pos := 502; pos < 540; pos += 2 {
		records = append(records, obs.Record{Branch: "b", Pos: pos, Weight: 1})
	}
	o, err := obs.Build(records, []obs.SeqInfo{{Name: "chr", Length: 1000}}, nil,
		obs.Options{NB: nb, MaxGap: 20000})
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	return o
}

func testModel(mode Mode, nbr int) *Model {
	cats, _ := NewCategories(nbr)
	r := []float64{0.01, 0.005, 0.002}[:mode.NA()-1]
	ef := make([]float64, nbr)
	for i := range ef {
		ef[i] = 0.1
	}
	return &Model{
		Theta:       []float64{0.9},
		R:           [][]float64{r},
		Delta:       []float64{0.02},
		Delta2:      []float64{0.03},
		V:           []float64{0.3},
		V2:          []float64{0.4},
		H:           [2]float64{0.1, 0.5},
		EventFreq:   ef,
		Probability: UnsetProbability,
		Diff:        UnsetDiff,
		ID:          1,
		Categories:  cats,
	}
}

func checkStochastic(tst *testing.T, m *mat64.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		if s := floats.Sum(m.RawRowView(i)); math.Abs(s-1) > smallDiff {
			tst.Error("Row ", i, " sums to ", s)
		}
	}
}

func TestBranchParametersHybrid(tst *testing.T) {
	m := testModel(HYBRID, 1)
	p := m.BranchParameters(HYBRID, 1000, false)[0]
	checkStochastic(tst, p.A)
	checkStochastic(tst, p.B)

	for j, r := range m.R[0] {
		if math.Abs(p.A.At(0, j+1)-0.1*r) > smallDiff {
			tst.Error("Expected entry ", 0.1*r, ", got ", p.A.At(0, j+1))
		}
	}
	if p.A.At(1, 0) != 0.02 || p.A.At(2, 0) != 0.03 || p.A.At(3, 0) != 0.02 {
		tst.Error("Wrong exit rates: ", mat64.Formatted(p.A))
	}

	mu := 0.1 * 0.9
	exp := []float64{1 - mu, mu * 0.9, mu * 0.1}
	if !floats.EqualApprox(p.B.RawRowView(0), exp, smallDiff) {
		tst.Error("Expected ", exp, ", got ", p.B.RawRowView(0))
	}
	exp = []float64{0.7, 0.3 * 0.9, 0.3 * 0.1}
	if !floats.EqualApprox(p.B.RawRowView(1), exp, smallDiff) {
		tst.Error("Expected ", exp, ", got ", p.B.RawRowView(1))
	}
	exp = []float64{0.6, 0.4 * 0.5, 0.4 * 0.5}
	if !floats.EqualApprox(p.B.RawRowView(2), exp, smallDiff) {
		tst.Error("Expected ", exp, ", got ", p.B.RawRowView(2))
	}
	exp = []float64{0.7, 0.3 * 0.5, 0.3 * 0.5}
	if !floats.EqualApprox(p.B.RawRowView(3), exp, smallDiff) {
		tst.Error("Expected ", exp, ", got ", p.B.RawRowView(3))
	}
}

func TestBranchParametersLegacy(tst *testing.T) {
	m := testModel(LEGACY, 1)
	m.EventFreq[0] = 1e-6
	p := m.BranchParameters(LEGACY, 1000, true)[0]
	checkStochastic(tst, p.A)
	checkStochastic(tst, p.B)
	// event frequency is raised to 0.5/1000
	if math.Abs(p.B.At(0, 1)-0.0005*0.9) > smallDiff {
		tst.Error("Expected ", 0.0005*0.9, ", got ", p.B.At(0, 1))
	}
	if p.A.At(1, 0) != 0.02 {
		tst.Error("Expected exit rate 0.02, got ", p.A.At(1, 0))
	}
}

func TestBranchParametersNoRec(tst *testing.T) {
	m := testModel(HYBRID, 2)
	m.Categories.NoRec[1] = true
	ps := m.BranchParameters(HYBRID, 1000, false)
	p := ps[1]
	checkStochastic(tst, p.A)
	checkStochastic(tst, p.B)
	if p.A.At(0, 1) > 1e-200 || p.A.At(1, 0) < 0.99 {
		tst.Error("Diversified states should be shut: ", mat64.Formatted(p.A))
	}
	mu := 0.1*0.9 + 0.1*(0.01+0.005+0.002)
	if math.Abs(p.B.At(0, 0)-(1-mu)) > smallDiff {
		tst.Error("Expected ", 1-mu, ", got ", p.B.At(0, 0))
	}
	if math.Abs(ps[0].A.At(0, 1)-0.001) > smallDiff {
		tst.Error("Other branches should not be affected: ", ps[0].A.At(0, 1))
	}
}

func TestBranchParametersCaps(tst *testing.T) {
	m := testModel(HYBRID, 1)
	m.EventFreq[0] = 10
	m.R[0] = []float64{0.2, 0.02, 0.01}
	m.V[0] = 0.995
	p := m.BranchParameters(HYBRID, 1000, false)[0]
	if math.Abs(p.B.At(0, 0)-0.26) > smallDiff {
		tst.Error("Expected mutation cap, got ", p.B.At(0, 0))
	}
	if p.A.At(0, 1) != 0.25 || math.Abs(p.A.At(0, 2)-0.2) > smallDiff {
		tst.Error("Expected entry cap, got ", p.A.RawRowView(0))
	}
	if p.B.At(1, 0) != 0.01 {
		tst.Error("Expected no-mutation floor, got ", p.B.At(1, 0))
	}
}

func legacyMeasure(a, b []float64, logL float64) *BranchMeasure {
	return &BranchMeasure{Counts: &hmm.Counts{
		A:    mat64.NewDense(2, 2, a),
		B:    mat64.NewDense(2, 2, b),
		LogL: logL,
	}}
}

func TestEstimate(tst *testing.T) {
	m := testModel(LEGACY, 1)
	bm := legacyMeasure([]float64{990, 10, 2, 98}, []float64{900, 100, 60, 40}, -123)
	p := m.Estimate(LEGACY, []*BranchMeasure{bm})

	if p.Probability != -123 {
		tst.Error("Expected probability -123, got ", p.Probability)
	}
	if math.Abs(p.EventFreq[0]-0.11) > smallDiff {
		tst.Error("Expected event frequency 0.11, got ", p.EventFreq[0])
	}
	if math.Abs(p.Theta[0]-0.1/0.11) > smallDiff || math.Abs(p.R[0][0]-0.01/0.11) > smallDiff {
		tst.Error("Wrong shares: ", p.Theta, p.R)
	}
	if math.Abs(p.Delta[0]-0.02) > smallDiff {
		tst.Error("Expected delta 0.02, got ", p.Delta[0])
	}
	if p.Delta2[0] != m.Delta2[0] {
		tst.Error("Delta2 without data should keep ", m.Delta2[0], ", got ", p.Delta2[0])
	}
	if math.Abs(p.V[0]-0.4) > smallDiff {
		tst.Error("Expected v 0.4, got ", p.V[0])
	}
	if p.Posterior == nil || p.Posterior.Theta[0] != [2]float64{1000, 100} {
		tst.Error("Wrong posterior: ", p.Posterior)
	}
	if m.Posterior != nil || m.Theta[0] != 0.9 {
		tst.Error("Estimate should not change the model")
	}
}

func TestEstimateClamps(tst *testing.T) {
	m := testModel(LEGACY, 1)
	bm := legacyMeasure([]float64{990, 10, 20, 80}, []float64{900, 100, 1, 99}, -1)
	p := m.Estimate(LEGACY, []*BranchMeasure{bm})
	if p.Delta[0] != maxDelta {
		tst.Error("Expected delta ", maxDelta, ", got ", p.Delta[0])
	}
	if p.V[0] != maxV {
		tst.Error("Expected v ", maxV, ", got ", p.V[0])
	}

	bm = legacyMeasure([]float64{1000, 1e-9, 1e-9, 1e6}, []float64{900, 100, 1e6, 1}, -1)
	p = m.Estimate(LEGACY, []*BranchMeasure{bm})
	if p.Delta[0] != minDelta {
		tst.Error("Expected delta ", minDelta, ", got ", p.Delta[0])
	}
	if p.V[0] != minV {
		tst.Error("Expected v ", minV, ", got ", p.V[0])
	}
	// R below 0.001 theta is folded back
	if math.Abs(p.R[0][0]/p.Theta[0]-minRTheta) > 1e-12 {
		tst.Error("Expected R/theta ", minRTheta, ", got ", p.R[0][0]/p.Theta[0])
	}
}

func TestEstimateGroups(tst *testing.T) {
	m := testModel(LEGACY, 2)
	m.Categories.Nu = []int{0, 1}
	m.Fix(2)
	a := []float64{990, 10, 2, 98}
	p := m.Estimate(LEGACY, []*BranchMeasure{
		legacyMeasure(a, []float64{900, 100, 80, 20}, -1),
		legacyMeasure(a, []float64{900, 100, 50, 50}, -2),
	})
	if len(p.V) != 2 || math.Abs(p.V[0]-0.2) > smallDiff || math.Abs(p.V[1]-0.5) > smallDiff {
		tst.Error("Expected v [0.2 0.5], got ", p.V)
	}
	if p.Probability != -3 {
		tst.Error("Expected probability -3, got ", p.Probability)
	}
}

func TestCutoffs(tst *testing.T) {
	o := clusteredData(tst, 2)
	c := Cutoffs(o, DefaultFractions)
	if len(c) != 1 || c[0] != 2 {
		tst.Error("Expected cutoffs [2], got ", c)
	}
}

// handSequence returns a block of 100 bases with mutations at the
// given cumulative positions and categories.
func handSequence(muts ...[2]int) obs.Sequence {
	seq := obs.Sequence{{Cum: 0}}
	for _, m := range muts {
		seq = append(seq, obs.Event{Cum: m[0], Cat: m[1]})
	}
	seq = append(seq, obs.Event{Cum: 101})
	for i := 1; i < len(seq); i++ {
		seq[i].Gap = seq[i].Cum - seq[i-1].Cum
	}
	return seq
}

func checkFloats(tst *testing.T, name string, got, exp []float64) {
	if len(got) != len(exp) {
		tst.Error(name, ": expected ", exp, ", got ", got)
		return
	}
	for i := range exp {
		if math.Abs(got[i]-exp[i]) > smallDiff {
			tst.Error(name, ": expected ", exp, ", got ", got)
			return
		}
	}
}

func TestClusters(tst *testing.T) {
	seq := handSequence([2]int{10, 2}, [2]int{12, 2}, [2]int{14, 2}, [2]int{50, 1})

	s, runs := clusters(seq, 2)
	// interior homoplasies count fully, run ends count half
	if len(runs) != 1 || runs[0] != (run{1, 4, 2, 1}) {
		tst.Error("Expected one run [1 4 2 1], got ", runs)
	}
	// the block end is mirrored before the first substitution
	if s != (summary{97, 2, 0.5, 1}) {
		tst.Error("Expected [97 2 0.5 1], got ", s)
	}

	s, runs = clusters(seq, 1)
	if len(runs) != 0 || s != (summary{101, 4, 1.5, 0}) {
		tst.Error("Expected no runs and [101 4 1.5 0], got ", runs, s)
	}
}

func TestInitiate(tst *testing.T) {
	var records []obs.Record
	for pos := 10; pos <= 50; pos += 2 {
		records = append(records, obs.Record{Branch: "b", Pos: pos, Weight: 1})
	}
	records = append(records, obs.Record{Branch: "b", Pos: 80, Weight: 1})
	o, err := obs.Build(records, []obs.SeqInfo{{Name: "chr", Length: 100}}, nil,
		obs.Options{NB: 2, MaxGap: 20000})
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	cats, _ := NewCategories(len(o.Branches))
	models, err := Initiate(o, LEGACY, cats, nil)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if len(models) != 1 {
		tst.Fatal("Expected one model, got ", len(models))
	}
	m := models[0]
	if err := m.Check(2); err != nil {
		tst.Error("Error: ", err)
	}
	// one run of 21 substitutions spanning 40 bases, 61 background
	// bases with 2 background substitutions
	checkFloats(tst, "EventFreq", m.EventFreq, []float64{3. / 61})
	checkFloats(tst, "Theta", m.Theta, []float64{2. / 3})
	checkFloats(tst, "R", m.R[0], []float64{1. / 3})
	checkFloats(tst, "Delta", m.Delta, []float64{2. / 41})
	checkFloats(tst, "Delta2", m.Delta2, []float64{maxDelta})
	checkFloats(tst, "V", m.V, []float64{0.5})
	checkFloats(tst, "V2", m.V2, []float64{maxVInit})
	checkFloats(tst, "H", m.H[:], []float64{minH, 0.5})
	if m.Probability != UnsetProbability || m.ID != 1 {
		tst.Error("Wrong initial state: ", m)
	}
}

func TestInitiateHomoplastic(tst *testing.T) {
	o := &obs.Observations{
		Branches: []*obs.Branch{{Name: "b", Seqs: []obs.Sequence{
			handSequence([2]int{10, 2}, [2]int{12, 2}, [2]int{14, 2}, [2]int{50, 1}),
		}}},
		NBase: 100,
		NB:    3,
	}
	cats, _ := NewCategories(1)
	models, err := Initiate(o, HYBRID, cats, nil)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if len(models) != 1 {
		tst.Fatal("Expected one model, got ", len(models))
	}
	m := models[0]
	// the run homoplasy rate 0.5 exceeds 1.5*h0, so the run seeds
	// the mixed state
	checkFloats(tst, "EventFreq", m.EventFreq, []float64{3. / 97})
	checkFloats(tst, "H", m.H[:], []float64{0.25, 1 - math.Pow(0.75, 3)})
	checkFloats(tst, "Theta", m.Theta, []float64{2. / 3})
	checkFloats(tst, "R", m.R[0], []float64{1. / 9, 1. / 9, 1. / 9})
	checkFloats(tst, "Delta", m.Delta, []float64{maxDelta})
	checkFloats(tst, "Delta2", m.Delta2, []float64{maxDelta})
	checkFloats(tst, "V", m.V, []float64{0.5})
	checkFloats(tst, "V2", m.V2, []float64{0.6})
}

func TestInitiateNoCandidate(tst *testing.T) {
	records := []obs.Record{{Branch: "b", Pos: 100, Weight: 1}}
	o, err := obs.Build(records, []obs.SeqInfo{{Name: "chr", Length: 1000}}, nil,
		obs.Options{NB: 2, MaxGap: 20000})
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	cats, _ := NewCategories(1)
	if _, err := Initiate(o, LEGACY, cats, nil); err != ErrNoCandidate {
		tst.Error("Expected ErrNoCandidate, got ", err)
	}
	if _, err := Initiate(o, HYBRID, cats, nil); err == nil {
		tst.Error("Expected mode mismatch error")
	}
}

func TestRepairSplit(tst *testing.T) {
	m := testModel(LEGACY, 4)
	m.Probability = -10
	m.Diff = 1
	m.Posterior = NewPosterior(4)
	for br := 0; br < 4; br++ {
		m.Posterior.Theta[br] = [2]float64{1000, 100}
		m.Posterior.V[br] = [2]float64{100, 10}
		m.Posterior.R[br] = [4]float64{1e6, 1}
	}
	if !m.Repair(LEGACY, 1000) {
		tst.Error("Expected the model to change")
	}
	if !reflect.DeepEqual(m.Categories.Nu, []int{1, 1, 0, 0}) {
		tst.Error("Expected nu groups [1 1 0 0], got ", m.Categories.Nu)
	}
	if len(m.V) != 2 || len(m.V2) != 2 {
		tst.Fatal("Expected two nu groups, got ", m.V, m.V2)
	}
	if exp := invJC(SplitLogOdds * JC(0.1)); math.Abs(m.V[1]-exp) > smallDiff {
		tst.Error("Expected v ", exp, ", got ", m.V[1])
	}
	if m.V[0] != 0.3 || m.V2[1] != 0.4 {
		tst.Error("Unexpected v: ", m.V, m.V2)
	}
	if m.Probability != UnsetProbability || m.Diff != UnsetDiff {
		tst.Error("Expected a reset model")
	}
}

func TestRepairLowCoverage(tst *testing.T) {
	m := testModel(LEGACY, 2)
	m.Posterior = NewPosterior(2)
	for br := 0; br < 2; br++ {
		m.Posterior.Theta[br] = [2]float64{1000, 100}
		m.Posterior.V[br] = [2]float64{10, 1}
		m.Posterior.R[br] = [4]float64{1e6, 1}
	}
	m.Posterior.R[0][0] = 100
	if !m.Repair(LEGACY, 1000) {
		tst.Error("Expected the model to change")
	}
	if !reflect.DeepEqual(m.Categories.RTheta, []int{1, 0}) {
		tst.Error("Expected R/theta groups [1 0], got ", m.Categories.RTheta)
	}
	if len(m.Theta) != 2 || m.Theta[1] != m.Theta[0] {
		tst.Error("Expected a twin group, got ", m.Theta)
	}
	if m.Categories.LowCov[0] != 1 || m.Categories.LowCov[1] != 1 {
		tst.Error("Wrong low coverage map: ", m.Categories.LowCov)
	}
}

func TestRepairHomoplasy(tst *testing.T) {
	m := testModel(HYBRID, 1)
	m.H = [2]float64{0.3, 0.3}
	m.Probability = -1
	if !m.Repair(HYBRID, 1000) {
		tst.Error("Expected the model to change")
	}
	if math.Abs(m.H[0]-0.2) > smallDiff {
		tst.Error("Expected h0=0.2, got ", m.H[0])
	}

	m = testModel(LEGACY, 1)
	m.H = [2]float64{0.3, 0.3}
	if m.Repair(LEGACY, 1000) || m.H[0] != 0.3 {
		tst.Error("Homoplasy should not change with two emission categories")
	}
}

func TestSortNu(tst *testing.T) {
	m := testModel(LEGACY, 5)
	m.Categories.Nu = []int{0, 2, 2, 2, 0}
	m.V = []float64{0.1, 0.2, 0.3}
	m.V2 = []float64{0.4, 0.5, 0.6}
	m.sortNu()
	if !reflect.DeepEqual(m.Categories.Nu, []int{1, 0, 0, 0, 1}) {
		tst.Error("Expected [1 0 0 0 1], got ", m.Categories.Nu)
	}
	if !reflect.DeepEqual(m.V, []float64{0.3, 0.1}) || !reflect.DeepEqual(m.V2, []float64{0.6, 0.4}) {
		tst.Error("Wrong rates: ", m.V, m.V2)
	}
}

func TestJSONRoundTrip(tst *testing.T) {
	o := clusteredData(tst, 3)
	cats, _ := NewCategories(len(o.Branches))
	models, err := Initiate(o, HYBRID, cats, nil)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	m := models[0]
	measures, err := m.Measure(HYBRID, o, false, false)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	m = m.Estimate(HYBRID, measures)
	m.Categories.LowCov = map[int]int{0: 0}
	m.Categories.NoRec[0] = true

	var buf bytes.Buffer
	if err := Save(&buf, m, HYBRID, o.NBase, "run"); err != nil {
		tst.Fatal("Error: ", err)
	}
	f, err := Load(&buf)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if mode, _ := f.Mode(); mode != HYBRID || f.Header.NBase != o.NBase || f.RunID != "run" {
		tst.Error("Wrong header: ", f.Header, f.RunID)
	}
	if !reflect.DeepEqual(f.Model, m) {
		tst.Error("Expected ", m, ", got ", f.Model)
	}
}

func TestDecode(tst *testing.T) {
	o := clusteredData(tst, 2)
	m := testModel(LEGACY, 1)
	m.R[0][0] = 0.05
	m.Theta[0] = 0.95
	m.V[0] = 0.5
	m.Delta[0] = 0.05
	m.EventFreq[0] = 0.1

	calls, err := Decode(o, m, LEGACY, 0)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if len(calls) != 1 || len(calls[0].Segments) == 0 {
		tst.Fatal("Expected a diversified region, got ", calls)
	}
	found := false
	for _, s := range calls[0].Segments {
		if s.Start <= 540 && s.End >= 500 {
			found = true
		}
		if s.End < s.Start {
			tst.Error("Wrong segment: ", s)
		}
	}
	if !found {
		tst.Error("Expected a region overlapping [500, 540], got ", calls[0].Segments)
	}
	if w := calls[0].Weight; len(w) != 2 || w[0]+w[1] != float64(o.NBase) {
		tst.Error("Wrong weights: ", w)
	}

	calls, err = Decode(o, m, LEGACY, 0.5)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	found = false
	for _, s := range calls[0].Segments {
		if s.Start <= 540 && s.End >= 500 && s.Score >= 0.5 {
			found = true
		}
	}
	if !found {
		tst.Error("Expected a posterior region overlapping [500, 540], got ", calls[0].Segments)
	}
}

func TestDiversifiedParams(tst *testing.T) {
	for _, c := range []struct {
		mode Mode
		exp  int
	}{{LEGACY, 3}, {HYBRID, 8}} {
		m := testModel(c.mode, 2)
		if n := m.DiversifiedParams(c.mode); n != c.exp {
			tst.Error("Expected ", c.exp, ", got ", n)
		}
	}
}
