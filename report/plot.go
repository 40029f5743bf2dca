package report

import (
	"fmt"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/mrrlab/divhmm/optimize"
)

// PlotTrajectory plots the log likelihood of every candidate against
// the iteration number. The format follows the file extension.
func PlotTrajectory(path string, traj []optimize.TrajectoryPoint) error {
	if len(traj) == 0 {
		return fmt.Errorf("empty trajectory")
	}
	byID := make(map[float64]plotter.XYs)
	for _, t := range traj {
		byID[t.ID] = append(byID[t.ID], plotter.XY{X: float64(t.Iter), Y: t.LnL})
	}
	ids := make([]float64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Float64s(ids)

	p := plot.New()
	p.Title.Text = "Baum-Welch search"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "lnL"

	lines := make([]interface{}, 0, 2*len(ids))
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("model %v", id), byID[id])
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return err
	}
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
