// Package dist implements distribution functions used for likelihood
// ratio tests and bootstrap summaries.
package dist

import (
	"math"
	"sort"

	"github.com/gonum/floats"
	"github.com/gonum/mathext"
)

// IncompleteGamma returns the regularized lower incomplete gamma
// function P(alpha, x).
func IncompleteGamma(x, alpha float64) float64 {
	return mathext.GammaInc(alpha, x)
}

// Chi2SF returns Prob{X >= x} where X is chi-squared distributed
// with df degrees of freedom.
func Chi2SF(x, df float64) float64 {
	if df <= 0 {
		return math.NaN()
	}
	if x <= 0 {
		return 1
	}
	return 1 - IncompleteGamma(x/2, df/2)
}

// LRT returns the likelihood ratio statistic and its p-value.
// Negative statistics (the null model fitted better) are truncated
// to zero.
func LRT(lnL0, lnL1 float64, df int) (stat, pval float64) {
	stat = 2 * (lnL1 - lnL0)
	if stat < 0 {
		stat = 0
	}
	return stat, Chi2SF(stat, float64(df))
}

// Mean returns the sample mean.
func Mean(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return floats.Sum(x) / float64(len(x))
}

// Std returns the population standard deviation.
func Std(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	m := Mean(x)
	s := 0.0
	for _, v := range x {
		s += (v - m) * (v - m)
	}
	return math.Sqrt(s / float64(len(x)))
}

// Interval returns the values at the lo and hi fractions of the
// sorted sample. Indices are truncated and clamped to the sample.
func Interval(x []float64, lo, hi float64) (float64, float64) {
	if len(x) == 0 {
		return math.NaN(), math.NaN()
	}
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	idx := func(p float64) int {
		i := int(float64(len(s)) * p)
		if i >= len(s) {
			i = len(s) - 1
		}
		if i < 0 {
			i = 0
		}
		return i
	}
	return s[idx(lo)], s[idx(hi)]
}
