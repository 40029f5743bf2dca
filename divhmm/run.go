package main

import (
	"io"
	"math/rand"
	"os"

	bolt "go.etcd.io/bbolt"

	"github.com/mrrlab/divhmm/checkpoint"
	"github.com/mrrlab/divhmm/dist"
	"github.com/mrrlab/divhmm/dmodel"
	"github.com/mrrlab/divhmm/obs"
	"github.com/mrrlab/divhmm/report"
)

// loadModel reads a saved model, the mode is taken from the model.
func loadModel(fn string, task dmodel.Mode) (*dmodel.File, dmodel.Mode) {
	f, err := dmodel.LoadFile(fn)
	if err != nil {
		log.Fatal("Error reading model:", err)
	}
	mode, err := f.Mode()
	if err != nil {
		log.Fatal(err)
	}
	if mode != task {
		log.Warningf("Using %v mode of the saved model", mode)
	}
	log.Noticef("Loaded model %v", f.Model)
	return f, mode
}

// ensurePosterior evaluates the model if it has no posterior
// statistics.
func ensurePosterior(m *dmodel.Model, mode dmodel.Mode, o *obs.Observations) {
	if m.Posterior != nil {
		return
	}
	log.Info("Computing posterior statistics")
	measures, err := m.Measure(mode, o, false, false)
	if err != nil {
		log.Fatal(err)
	}
	est := m.Estimate(mode, measures)
	m.Posterior = est.Posterior
	m.Probability = est.Probability
}

// writeReport writes the summary report to a file and to the standard
// output.
func writeReport(s *report.Summary, fn string) {
	f, err := os.Create(fn)
	if err != nil {
		log.Fatal("Error creating report file:", err)
	}
	defer f.Close()
	if err := s.Write(io.MultiWriter(f, os.Stdout)); err != nil {
		log.Fatal("Error writing report:", err)
	}
	log.Noticef("Global parameters are summarized in %s", fn)
}

// writeRegions decodes the model and writes diversified regions.
func writeRegions(o *obs.Observations, m *dmodel.Model, mode dmodel.Mode, fn string) map[string]int {
	calls, err := dmodel.Decode(o, m, mode, *marginal)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(fn)
	if err != nil {
		log.Fatal("Error creating region file:", err)
	}
	defer f.Close()
	if err := report.WriteRegions(f, calls, o.Seqs); err != nil {
		log.Fatal("Error writing regions:", err)
	}
	counts := make(map[string]int, len(calls))
	for _, c := range calls {
		counts[c.Branch] = len(c.Segments)
	}
	log.Noticef("Diversified regions are reported in %s", fn)
	return counts
}

// checkResume warns if the checkpoint database has no run with the
// id.
func checkResume(db *bolt.DB, runID string) bool {
	keys, err := checkpoint.Keys(db)
	if err != nil {
		log.Fatal("Error reading checkpoint database:", err)
	}
	for _, k := range keys {
		if k == runID {
			return true
		}
	}
	log.Warningf("No checkpoint for run %s, available runs: %v", runID, keys)
	return false
}

func run(rng *rand.Rand) (summary *RunSummary) {
	summary = &RunSummary{}

	mode, err := dmodel.ParseMode(*task)
	if err != nil {
		log.Fatal(err)
	}

	var saved *dmodel.File
	if *modelF != "" {
		saved, mode = loadModel(*modelF, mode)
	}
	summary.Mode = mode.String()
	log.Infof("Using %v mode (%d states, %d mutation categories)", mode, mode.NA(), mode.NB())

	var o *obs.Observations
	if !(*reportOnly && saved != nil && saved.Posterior != nil) {
		o, err = newDataSettings().read(mode)
		if err != nil {
			log.Fatal(err)
		}
	}

	var db *bolt.DB
	if *checkpointF != "" {
		db, err = bolt.Open(*checkpointF, 0666, nil)
		if err != nil {
			log.Fatal("Error opening checkpoint database:", err)
		}
		defer db.Close()
	}

	ss, err := newSearchSettings(mode, db)
	if err != nil {
		log.Fatal(err)
	}

	runID := *resume
	if runID == "" {
		runID = newRunID()
	} else if db != nil {
		checkResume(db, runID)
	}

	var m *dmodel.Model
	nBase := 0
	if saved != nil {
		m = saved.Model
		nBase = saved.Header.NBase
		if o != nil {
			if m.NBranch() != len(o.Branches) {
				log.Fatalf("Model has %d branches, data has %d", m.NBranch(), len(o.Branches))
			}
			nBase = o.NBase
			ensurePosterior(m, mode, o)
		}
	} else {
		log.Noticef("Run id: %s", runID)
		best, bw, s := ss.run(o, false, runID)
		s.Hypothesis = "H1"
		summary.Searches = append(summary.Searches, s)
		m = best
		nBase = o.NBase

		fn := *prefix + ".div.model.json"
		if err := dmodel.SaveFile(fn, m, mode, nBase, runID); err != nil {
			log.Fatal("Error saving model:", err)
		}
		log.Noticef("Best model is saved in %s", fn)

		if *plotF != "" && bw != nil {
			if err := report.PlotTrajectory(*plotF, bw.Trajectory); err != nil {
				log.Error("Error plotting trajectory:", err)
			}
		}
	}

	rs, err := report.Summarize(*prefix, m, mode, nBase, *bootstrap, rng)
	if err != nil {
		log.Fatal(err)
	}
	writeReport(rs, *prefix+".div.model.report")
	summary.Report = rs

	if *lrt && o != nil {
		log.Notice("Running H0 (no diversified regions)")
		m0, _, s0 := ss.run(o, true, runID+"-h0")
		s0.Hypothesis = "H0"
		summary.Searches = append(summary.Searches, s0)

		df := m.DiversifiedParams(mode)
		d, p := dist.LRT(m0.Probability, m.Probability, df)
		summary.LRT = &LRTSummary{
			H0:     m0.Probability,
			H1:     m.Probability,
			D:      d,
			DF:     df,
			PValue: p,
		}
		log.Noticef("LRT: D=%g, df=%d, p-value=%g", d, df, p)
	}

	if !*reportOnly {
		summary.Regions = writeRegions(o, m, mode, *prefix+".diversified.region")
	}
	return
}
