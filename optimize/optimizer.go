// Package optimize provides the multi-candidate Baum-Welch search.
package optimize

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/op/go-logging"

	"github.com/mrrlab/divhmm/dmodel"
)

// log is the global logging variable.
var log = logging.MustGetLogger("optimize")

// Optimizer is the interface of a model search.
type Optimizer interface {
	WatchSignals(...os.Signal)
	SetReportPeriod(period int)
	SetCheckpointer(Checkpointer)
	Run(iterations int) error
	GetL() float64
	GetMaxL() float64
	Best() *dmodel.Model
	Summary() interface{}
}

// Checkpointer persists the current best model.
type Checkpointer interface {
	Save(m *dmodel.Model, iter int, final bool) error
}

// BaseOptimizer stores common search state.
type BaseOptimizer struct {
	i         int
	l         float64
	maxL      float64
	repPeriod int
	sig       chan os.Signal
	ckp       Checkpointer
	startTime time.Time
	deltaT    time.Duration
	// Quiet disables printing of the iteration table.
	Quiet bool
}

// baseOptimizerSummary is the summary of a search.
type baseOptimizerSummary struct {
	// Iterations is the number of iterations performed.
	Iterations int `json:"iterations"`
	// MaxLnL is the maximum log likelihood.
	MaxLnL float64 `json:"maxLnL"`
	// Time is the search time in seconds.
	Time float64 `json:"time"`
}

// WatchSignals makes the search stop between two iterations on any
// of the signals.
func (o *BaseOptimizer) WatchSignals(sigs ...os.Signal) {
	o.sig = make(chan os.Signal, 1)
	signal.Notify(o.sig, sigs...)
}

// SetReportPeriod sets the period of the iteration table output.
func (o *BaseOptimizer) SetReportPeriod(period int) {
	o.repPeriod = period
}

// SetCheckpointer enables checkpoints.
func (o *BaseOptimizer) SetCheckpointer(c Checkpointer) {
	o.ckp = c
}

// stopRequested returns true if a watched signal was received.
func (o *BaseOptimizer) stopRequested() bool {
	select {
	case s := <-o.sig:
		log.Warningf("Received signal %v, exiting.", s)
		return true
	default:
		return false
	}
}

// saveCheckpoint saves the model if checkpoints are enabled.
func (o *BaseOptimizer) saveCheckpoint(m *dmodel.Model, final bool) {
	if o.ckp == nil {
		return
	}
	if err := o.ckp.Save(m, o.i, final); err != nil {
		log.Error("Error saving checkpoint:", err)
	}
}

// PrintHeader prints the iteration table header.
func (o *BaseOptimizer) PrintHeader() {
	if !o.Quiet {
		fmt.Printf("iteration\tlikelihood\tmodels\n")
	}
}

// PrintLine prints a line of the iteration table every report
// period.
func (o *BaseOptimizer) PrintLine(nModels int) {
	if !o.Quiet && (o.repPeriod <= 1 || o.i%o.repPeriod == 0) {
		fmt.Printf("%d\t%f\t%d\n", o.i, o.l, nModels)
	}
}

// GetL returns the log likelihood of the current best model.
func (o *BaseOptimizer) GetL() float64 {
	return o.l
}

// GetMaxL returns the maximum log likelihood seen.
func (o *BaseOptimizer) GetMaxL() float64 {
	return o.maxL
}

// Summary returns the search summary.
func (o *BaseOptimizer) Summary() interface{} {
	return baseOptimizerSummary{
		Iterations: o.i,
		MaxLnL:     o.maxL,
		Time:       o.deltaT.Seconds(),
	}
}
