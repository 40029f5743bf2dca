package main

import (
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/mrrlab/divhmm/bio"
	"github.com/mrrlab/divhmm/checkpoint"
	"github.com/mrrlab/divhmm/dmodel"
	"github.com/mrrlab/divhmm/obs"
	"github.com/mrrlab/divhmm/optimize"
)

// dataSettings stores input options.
type dataSettings struct {
	data   string
	rechmm string
	pooled bool
	maxGap int
}

// newDataSettings creates data settings from the command line.
func newDataSettings() *dataSettings {
	return &dataSettings{
		data:   *dataFileName,
		rechmm: *rechmmF,
		pooled: !*perBranch,
		maxGap: *maxGap,
	}
}

// read reads the mutation table and builds the observations for the
// mode.
func (ds *dataSettings) read(mode dmodel.Mode) (*obs.Observations, error) {
	t, err := bio.ReadMutationFile(ds.data, ds.rechmm, ds.pooled)
	if err != nil {
		return nil, err
	}
	log.Infof("Read %d mutations on %d sequences (%d excluded)", len(t.Records), len(t.Seqs), t.Excluded)

	maxGap := ds.maxGap
	if maxGap <= 0 {
		for _, s := range t.Seqs {
			maxGap += s.Length
		}
	}
	o, err := obs.Build(t.Records, t.Seqs, t.Missing, obs.Options{
		NB:     mode.NB(),
		MaxGap: maxGap,
	})
	if err != nil {
		return nil, err
	}
	log.Infof("Branches: %v", o.BranchNames())
	for _, br := range o.Branches {
		log.Debugf("Branch %s: %d mutations", br.Name, br.NMutations())
	}
	return o, nil
}

// searchSettings stores model search options.
type searchSettings struct {
	mode       dmodel.Mode
	fractions  []float64
	separate   []string
	cooldown   int
	iterations int
	report     int
	quiet      bool
	db         *bolt.DB
	seconds    float64
}

// newSearchSettings creates search settings from the command line.
func newSearchSettings(mode dmodel.Mode, db *bolt.DB) (*searchSettings, error) {
	fractions, err := parseFractions(*initF)
	if err != nil {
		return nil, err
	}
	return &searchSettings{
		mode:       mode,
		fractions:  fractions,
		separate:   *separate,
		cooldown:   *cooldown,
		iterations: *iterations,
		report:     *reportPeriod,
		quiet:      *quiet,
		db:         db,
		seconds:    *checkpointSeconds,
	}, nil
}

// categories creates the branch categories, with noRec every branch
// has no diversified regions.
func (ss *searchSettings) categories(nBranch int, noRec bool) (dmodel.Categories, error) {
	cats, err := dmodel.NewCategories(nBranch, ss.separate...)
	if err != nil {
		return cats, err
	}
	if noRec {
		for i := 0; i < nBranch; i++ {
			cats.NoRec[i] = true
		}
	}
	return cats, nil
}

// newRunID returns a new run id.
func newRunID() string {
	return uuid.New().String()
}

// run performs the model search. Searches are resumed from the
// checkpoint stored under runID.
func (ss *searchSettings) run(o *obs.Observations, noRec bool, runID string) (*dmodel.Model, *optimize.BaumWelch, SearchSummary) {
	startTime := time.Now()
	summary := SearchSummary{RunID: runID}

	var ckp *checkpoint.CheckpointIO
	var models []*dmodel.Model
	if ss.db != nil {
		ckp = checkpoint.NewCheckpointIO(ss.db, []byte(runID), ss.mode, o.NBase, ss.seconds)
		f, data, err := ckp.GetModel()
		if err != nil {
			log.Fatal("Error reading checkpoint:", err)
		}
		if f != nil {
			if mode, err := f.Mode(); err != nil || mode != ss.mode {
				log.Fatalf("Checkpoint model mode does not match (%v)", f.Header)
			}
			if f.NBranch() != len(o.Branches) {
				log.Fatalf("Checkpoint model has %d branches, data has %d", f.NBranch(), len(o.Branches))
			}
			if data.Final {
				summary.MaxLnL = f.Probability
				summary.Converged = f.Diff < optimize.DefaultThreshold
				return f.Model, nil, summary
			}
			models = []*dmodel.Model{f.Model}
		}
	}

	if models == nil {
		cats, err := ss.categories(len(o.Branches), noRec)
		if err != nil {
			log.Fatal(err)
		}
		models, err = dmodel.Initiate(o, ss.mode, cats, ss.fractions)
		if err != nil {
			log.Fatal(err)
		}
	}

	bw := optimize.NewBaumWelch(ss.mode, o, models)
	bw.Cooldown = ss.cooldown
	bw.Quiet = ss.quiet

	var opt optimize.Optimizer = bw
	opt.SetReportPeriod(ss.report)
	opt.WatchSignals(os.Interrupt, syscall.SIGTERM, syscall.SIGUSR2)
	if ckp != nil {
		opt.SetCheckpointer(ckp)
	}

	if err := opt.Run(ss.iterations); err != nil {
		log.Fatal(err)
	}
	best := opt.Best()

	summary.Optimizer = opt.Summary()
	summary.MaxLnL = best.Probability
	summary.Converged = bw.Converged
	summary.Time = time.Since(startTime).Seconds()
	return best, bw, summary
}
