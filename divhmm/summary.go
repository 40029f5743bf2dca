package main

import (
	"github.com/mrrlab/divhmm/report"
)

// CallSummary stores information on the program call.
type CallSummary struct {
	// Version stores divhmm version.
	Version string `json:"version"`
	// CommandLine is an array storing binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// Seed is the seed used for random number generation initialization.
	Seed int64 `json:"seed"`
	// NThreads is the number of processes used.
	NThreads int `json:"nThreads"`
	// Time is the computations time in seconds.
	TotalTime float64 `json:"time"`
}

// SearchSummary is storing model search summary information.
type SearchSummary struct {
	// RunID is the checkpoint key and the run id saved with the model.
	RunID string `json:"runId"`
	// MaxLnL is the log likelihood of the best model.
	MaxLnL float64 `json:"maxLnL"`
	// Converged is false if the search stopped before convergence.
	Converged bool `json:"converged"`
	// Time is the computations time in seconds.
	Time float64 `json:"optimizationTime"`
	// Optimizer is the optimizer summary.
	Optimizer interface{} `json:"optimizer,omitempty"`
	// Hypothesis is H0 or H1.
	Hypothesis string `json:"hypothesis,omitempty"`
}

// LRTSummary is the likelihood ratio test result.
type LRTSummary struct {
	// H0 is the log likelihood without diversified regions.
	H0 float64 `json:"lnL0"`
	// H1 is the log likelihood of the full model.
	H1 float64 `json:"lnL1"`
	// D is the likelihood ratio statistic.
	D float64 `json:"D"`
	// DF is the number of degrees of freedom.
	DF int `json:"df"`
	// PValue is the chi-squared p-value.
	PValue float64 `json:"pValue"`
}

// RunSummary is storing divhmm run summary information.
type RunSummary struct {
	CallSummary
	// Mode is the model layout.
	Mode string `json:"mode"`
	// Searches are the model searches performed.
	Searches []SearchSummary `json:"searches,omitempty"`
	// Report is the global parameter summary.
	Report *report.Summary `json:"report,omitempty"`
	// LRT is the likelihood ratio test result.
	LRT *LRTSummary `json:"lrt,omitempty"`
	// Regions is the number of decoded regions per branch.
	Regions map[string]int `json:"regions,omitempty"`
}
