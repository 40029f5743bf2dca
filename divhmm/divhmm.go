/*

Divhmm finds diversified regions on the branches of a phylogeny from
mutations mapped onto the branches.

The basic usage of divhmm looks like this:

	divhmm mutations.gz

, this fits the hybrid model (four hidden states, two mutation
categories) and writes the best model, the summary report and the
diversified regions using DivHMM as the prefix.

Imported regions can be excluded and every branch can be modeled
separately:

	divhmm -rechmm rec.txt -per-branch -prefix run mutations.gz

To see all the options run:

	divhmm -h

*/
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/op/go-logging"

	"github.com/mrrlab/divhmm/report"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("divhmm")
var formatter = logging.MustStringFormatter(`%{message}`)

// loggers are the package loggers controlled by -loglevel.
var loggers = []string{"divhmm", "optimize", "dmodel", "obs", "hmm", "bio", "checkpoint", "report"}

// command-line options
var (
	// application
	app = kingpin.New("divhmm", "diversified region hidden Markov model").Version(version)

	// input
	dataFileName = app.Arg("data", "mutation table (plain or gzip)").Required().ExistingFile()
	rechmmF      = app.Flag("rechmm", "imported regions to exclude (Importation lines)").ExistingFile()
	modelF       = app.Flag("model", "read a saved model instead of fitting").ExistingFile()
	perBranch    = app.Flag("per-branch", "model every branch separately instead of pooling them").Bool()
	maxGap       = app.Flag("maxgap", "maximum gap between two events, longer gaps are split (total sequence length by default)").Default("0").Int()

	// model
	task = app.Flag("task", "model layout "+
		"(0: legacy, one mutation category, "+
		"1: hybrid with mixed sources, "+
		"2: intra, "+
		"3: both)").Default("1").Int()
	initF    = app.Flag("init", "guesses of the proportion of diversified regions").Default("0.01,0.05,0.1").String()
	separate = app.Flag("separate", "parameter axes estimated for every branch separately (R/theta, delta, nu)").
			Enums("R/theta", "delta", "nu")

	// search
	cooldown     = app.Flag("cooldown", "prune and repair candidates every N iterations").Default("5").Int()
	iterations   = app.Flag("iter", "maximum number of iterations").Default("200").Int()
	reportPeriod = app.Flag("report", "report every N iterations").Default("1").Int()
	quiet        = app.Flag("quiet", "do not print the iteration table").Bool()
	lrt          = app.Flag("lrt", "test against the model without diversified regions").Bool()

	// output
	prefix     = app.Flag("prefix", "prefix for all the outputs").Default("DivHMM").String()
	reportOnly = app.Flag("report-only", "only summarize the model, do not decode regions").Bool()
	marginal   = app.Flag("marginal", "report regions with posterior probability >= M; "+
		"0 decodes the most likely path").Default("0").Float64()
	bootstrap = app.Flag("bootstrap", "number of bootstrap replicates").Default(strconv.Itoa(report.DefaultBootstrap)).Int()
	plotF     = app.Flag("plot", "plot log likelihood trajectories to a file (png, svg, pdf)").String()

	// checkpoint
	checkpointF       = app.Flag("checkpoint", "checkpoint database").String()
	checkpointSeconds = app.Flag("checkpoint-seconds", "minimum time between two checkpoints").Default("0").Float64()
	resume            = app.Flag("resume", "run id to resume from the checkpoint database").String()

	// technical
	nThreads   = app.Flag("nt", "number of threads to use").Int()
	seed       = app.Flag("seed", "random generator seed, default time based").Default("-1").Int64()
	cpuProfile = app.Flag("cpuprofile", "write cpu profile to file").String()

	// logging
	outLogF  = app.Flag("log", "write log to a file").String()
	logLevel = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	jsonF = app.Flag("json", "write json output to a file").String()
)

// parseFractions parses a comma separated list of proportions.
func parseFractions(s string) ([]float64, error) {
	var res []float64
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		if v <= 0 || v >= 1 {
			return nil, fmt.Errorf("proportion %v is not in (0, 1)", v)
		}
		res = append(res, v)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("no proportions in %q", s)
	}
	return res, nil
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	// logging
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	for _, l := range loggers {
		logging.SetLevel(level, l)
	}

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	if *seed == -1 {
		*seed = time.Now().UnixNano()
		log.Debug("Random seed from time")
	}
	log.Infof("Random seed=%v", *seed)

	runtime.GOMAXPROCS(*nThreads)

	effectiveNThreads := runtime.GOMAXPROCS(0)
	log.Infof("Using threads: %d.", effectiveNThreads)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	startTime := time.Now()
	summary := run(rand.New(rand.NewSource(*seed)))
	summary.NThreads = effectiveNThreads
	summary.Version = version
	summary.CommandLine = os.Args
	summary.Seed = *seed
	summary.TotalTime = time.Since(startTime).Seconds()
	log.Noticef("Running time: %v", time.Since(startTime))

	// output summary in json format
	if *jsonF != "" {
		j, err := json.Marshal(summary)
		if err != nil {
			log.Error(err)
		} else {
			log.Debug(string(j))
			f, err := os.Create(*jsonF)
			if err != nil {
				log.Error("Error creating json output file:", err)
			} else {
				f.Write(j)
				f.Close()
			}
		}
	}
}
