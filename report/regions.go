package report

import (
	"bufio"
	"fmt"
	"io"

	"github.com/mrrlab/divhmm/dmodel"
	"github.com/mrrlab/divhmm/obs"
)

var regionTypes = []string{"Diversified", "Homoplastic", "Mixed(D+H) "}

func regionType(t int) string {
	if t >= 1 && t <= len(regionTypes) {
		return regionTypes[t-1]
	}
	return fmt.Sprintf("State%d", t)
}

// WriteRegions writes decoded regions of all the branches.
func WriteRegions(w io.Writer, calls []dmodel.BranchCall, seqs []obs.SeqInfo) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "#Branch\tname\tmutationRate\tdiversifiedRate\tMutationCoverage\n")
	fmt.Fprintf(bw, "#\tDiversifiedRegion\tseqName\tstart\tend\ttype\tscore\n")
	for _, c := range calls {
		b := 0.0
		if len(c.Weight) > 0 {
			b = c.Weight[0]
		}
		fmt.Fprintf(bw, "DiversifiedRegion\t%s\tM=%.5e\tD=%.5e\tB=%.3f\n",
			c.Branch, dmodel.JC(c.M), c.R, b)
		for _, s := range c.Segments {
			name := ""
			if s.SeqID >= 0 && s.SeqID < len(seqs) {
				name = seqs[s.SeqID].Name
			}
			fmt.Fprintf(bw, "\tDiversifiedRegion\t%s\t%s\t%d\t%d\t%s\t%.3f\n",
				c.Branch, name, s.Start, s.End, regionType(s.Type), s.Score)
		}
	}
	return bw.Flush()
}
