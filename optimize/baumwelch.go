package optimize

import (
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/gonum/floats"

	"github.com/mrrlab/divhmm/dmodel"
	"github.com/mrrlab/divhmm/obs"
)

const (
	// DefaultCooldown is the default number of iterations between
	// two maintenance rounds.
	DefaultCooldown = 5
	// DefaultThreshold is the improvement below which a model is
	// converged.
	DefaultThreshold = 1e-3
	// maxRetry is the last iteration where rejected proposals get
	// a second chance.
	maxRetry = 50
	// deleteFloor is the log likelihood above which the worst model
	// can be deleted.
	deleteFloor = -1e200
)

// TrajectoryPoint is an accepted update of a candidate.
type TrajectoryPoint struct {
	Iter int
	ID   float64
	// LnL is the log likelihood of the accepted parameters, Prev is
	// the log likelihood they replaced.
	LnL  float64
	Prev float64
}

// BaumWelch runs Baum-Welch re-estimation on a pool of candidate
// models. Rejected proposals are frozen, early on they also get a
// second chance as a separate candidate; every cooldown iterations
// the pool is pruned and repaired.
type BaumWelch struct {
	BaseOptimizer
	mode   dmodel.Mode
	data   *obs.Observations
	models []*dmodel.Model
	best   *dmodel.Model
	// Cooldown is the number of iterations between maintenance
	// rounds.
	Cooldown int
	// Threshold is the convergence threshold.
	Threshold float64
	// Workers is the number of models evaluated concurrently.
	Workers int
	// Trajectory stores all the accepted updates.
	Trajectory []TrajectoryPoint
	// Converged is true if the best model improvement is below the
	// threshold.
	Converged bool
}

// bwSummary is the Baum-Welch search summary.
type bwSummary struct {
	baseOptimizerSummary
	Converged bool    `json:"converged"`
	Models    int     `json:"models"`
	BestID    float64 `json:"bestId"`
}

// NewBaumWelch creates a new search over the initial models.
func NewBaumWelch(mode dmodel.Mode, data *obs.Observations, models []*dmodel.Model) *BaumWelch {
	return &BaumWelch{
		BaseOptimizer: BaseOptimizer{
			repPeriod: 1,
			l:         math.Inf(-1),
			maxL:      math.Inf(-1),
		},
		mode:      mode,
		data:      data,
		models:    models,
		Cooldown:  DefaultCooldown,
		Threshold: DefaultThreshold,
		Workers:   runtime.GOMAXPROCS(0),
	}
}

// Models returns the current pool ordered by log likelihood.
func (b *BaumWelch) Models() []*dmodel.Model {
	return b.models
}

// Best returns the best model found.
func (b *BaumWelch) Best() *dmodel.Model {
	if b.best != nil {
		return b.best
	}
	if len(b.models) > 0 {
		return b.models[0]
	}
	return nil
}

// improvement returns the log likelihood gain of a proposal.
func improvement(prev, next float64) float64 {
	if prev == 0 {
		return -next
	}
	return next - prev
}

// propose runs one expectation and maximization step.
func (b *BaumWelch) propose(m *dmodel.Model) (*dmodel.Model, error) {
	measures, err := m.Measure(b.mode, b.data, false, false)
	if err != nil {
		return nil, err
	}
	p := m.Estimate(b.mode, measures)
	p.Diff = improvement(m.Probability, p.Probability)
	return p, nil
}

// assess computes proposals for all the models which are not
// converged. Models are distributed over a pool of workers, the
// result slice has the same order as the pool.
func (b *BaumWelch) assess(models []*dmodel.Model) ([]*dmodel.Model, error) {
	preds := make([]*dmodel.Model, len(models))
	errs := make([]error, len(models))
	tasks := make(chan int, len(models))
	var wg sync.WaitGroup

	nWorkers := b.Workers
	if nWorkers < 1 {
		nWorkers = 1
	}
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go func() {
			for k := range tasks {
				preds[k], errs[k] = b.propose(models[k])
			}
			wg.Done()
		}()
	}
	for k, m := range models {
		if m.Diff < b.Threshold {
			continue
		}
		log.Infof("Assess model %v", m)
		tasks <- k
	}
	close(tasks)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return preds, nil
}

// update merges proposals into the pool.
func (b *BaumWelch) update(models, preds []*dmodel.Model, ite int) []*dmodel.Model {
	retry := b.Cooldown
	if retry > maxRetry {
		retry = maxRetry
	}
	next := make([]*dmodel.Model, 0, len(models))
	for k, m := range models {
		p := preds[k]
		if p == nil {
			next = append(next, m)
			continue
		}
		if p.Diff > 0 {
			p.Ite = ite + 1
			log.Infof("Update model %v", p)
			b.Trajectory = append(b.Trajectory, TrajectoryPoint{
				Iter: ite + 1,
				ID:   p.ID,
				LnL:  p.Probability,
				Prev: m.Probability,
			})
			next = append(next, p)
			continue
		}
		cur := m.Clone()
		cur.Diff = p.Diff
		log.Infof("Freeze model %v", cur)
		next = append(next, cur)
		if ite <= retry {
			p.ID = floats.Round(p.ID+0.01, 3)
			p.Ite = ite + 1
			p.Reset()
			next = append(next, p)
		}
	}
	sortModels(next)
	return next
}

// sortModels orders models by decreasing log likelihood.
func sortModels(models []*dmodel.Model) {
	sort.SliceStable(models, func(i, j int) bool {
		return models[i].Probability > models[j].Probability
	})
}

// maintain removes stalled candidates, deletes the worst one if the
// pool did not shrink, repairs the remaining ones and saves a
// checkpoint of the best one.
func (b *BaumWelch) maintain(models []*dmodel.Model, ite int) []*dmodel.Model {
	n := len(models)
	keep := make([]*dmodel.Model, 0, n)
	for k, m := range models {
		if m.Diff > 0 || k == 0 {
			keep = append(keep, m)
		}
	}
	if ite > 0 && len(keep) >= n && len(keep) > 1 {
		if last := keep[len(keep)-1]; last.Probability > deleteFloor {
			log.Infof("Delete model %v", last)
			keep = keep[:len(keep)-1]
		}
	}
	b.saveCheckpoint(keep[0], false)
	for _, m := range keep {
		m.Repair(b.mode, b.data.NBase)
	}
	return keep
}

// repair repairs converged models, it returns true if any of them
// changed and has to be evaluated again.
func (b *BaumWelch) repair(models []*dmodel.Model) (changed bool) {
	for _, m := range models {
		if m.Repair(b.mode, b.data.NBase) {
			log.Infof("Repaired converged model %v", m)
			changed = true
		}
	}
	return
}

// converged returns true if no model can improve.
func (b *BaumWelch) converged(models []*dmodel.Model) bool {
	for _, m := range models {
		if m.Diff >= b.Threshold {
			return false
		}
	}
	return true
}

// Run runs the search for at most the given number of iterations.
func (b *BaumWelch) Run(iterations int) error {
	if len(b.models) == 0 {
		return dmodel.ErrNoCandidate
	}
	if b.Cooldown < 1 {
		b.Cooldown = DefaultCooldown
	}
	b.startTime = time.Now()
	defer func() {
		b.deltaT = time.Since(b.startTime)
	}()

	b.PrintHeader()
	models := b.models
	for b.i = 0; b.i < iterations; b.i++ {
		if b.converged(models) {
			if !b.repair(models) {
				log.Infof("All models converged after %d iterations", b.i)
				break
			}
			sortModels(models)
		}
		preds, err := b.assess(models)
		if err != nil {
			return err
		}
		models = b.update(models, preds, b.i)
		if b.i%b.Cooldown == 0 {
			models = b.maintain(models, b.i)
		}
		b.models = models

		b.l = models[0].Probability
		if b.l > b.maxL {
			b.maxL = b.l
		}
		b.PrintLine(len(models))

		if b.stopRequested() {
			b.i++
			break
		}
	}

	b.best = models[0]
	b.Converged = b.best.Diff < b.Threshold
	if !b.Converged {
		log.Warningf("Best model did not converge (improvement %g)", b.best.Diff)
	}
	b.saveCheckpoint(b.best, true)
	log.Noticef("Report model %v", b.best)
	return nil
}

// Summary returns the search summary.
func (b *BaumWelch) Summary() interface{} {
	s := bwSummary{
		baseOptimizerSummary: b.BaseOptimizer.Summary().(baseOptimizerSummary),
		Converged:            b.Converged,
		Models:               len(b.models),
	}
	if best := b.Best(); best != nil {
		s.BestID = best.ID
	}
	return s
}
