package dmodel

import (
	"sort"
)

// Repair adjusts the model when the estimates leave the range where
// the state layout is adequate: homoplasy frequencies are reordered,
// branches too divergent for their nu group are moved to a new
// group, branches with suspiciously high region entry rates are moved
// to a low coverage R/theta group. Nu groups are finally renumbered
// by decreasing size. Repair returns true if the model was changed
// and needs re-evaluation.
func (m *Model) Repair(mode Mode, nBase int) (changed bool) {
	m.Fix(mode.NA())
	c := &m.Categories
	if c.LowCov == nil {
		c.LowCov = map[int]int{}
	}
	if mode.NB() > 2 && m.H[0]*HomoplasyRatio > m.H[1] && m.H[1] > 0 {
		m.H[0] = m.H[1] / HomoplasyRatio
		changed = true
	}

	if p := m.Posterior; p != nil {
		for br := 0; br < p.NBranch() && br < m.NBranch(); br++ {
			theta, v := &p.Theta[br], &p.V[br]
			if theta[1] > PosteriorCap*theta[0] {
				theta[1] = PosteriorCap * theta[0]
			}
			if v[1] > PosteriorCap*v[0] {
				v[1] = PosteriorCap * v[0]
			}
			dm := JC(safeDiv(theta[1], theta[0]))
			dr := JC(safeDiv(v[1], v[0]))

			switch {
			case v[0] > .05*theta[0] && dr < SplitLogOdds*dm && count(c.Nu, c.Nu[br]) > MinSplitGroup:
				id := c.Nu[br] + 1
				c.Nu[br] = id
				log.Noticef("Model %v: branch %d is too divergent for its diversified region group, moving to group %d", m.ID, br, id)
				if id >= len(m.V) {
					m.V = append(m.V, 0)
					m.V2 = append(m.V2, m.V2[len(m.V2)-1])
				}
				if JC(m.V[id]) < SplitLogOdds*dm {
					m.V[id] = invJC(SplitLogOdds * dm)
				}
				if r := safeDiv(theta[1], theta[0]) * .5; m.V2[id] < r {
					m.V2[id] = r
				}
				changed = true
			case p.R[br][0]*2 < float64(nBase):
				t := c.RTheta[br]
				if _, ok := c.LowCov[t]; !ok {
					if count(c.RTheta, t) > MinMergeGroup {
						n := len(m.Theta)
						c.LowCov[t] = n
						c.LowCov[n] = n
						m.R = append(m.R, append([]float64(nil), m.R[t]...))
						m.Theta = append(m.Theta, m.Theta[t])
					} else {
						c.LowCov[t] = t
					}
				}
				if c.LowCov[t] != t {
					log.Noticef("Model %v: region entry rate of branch %d is suspiciously high, rescaling", m.ID, br)
					c.RTheta[br] = c.LowCov[t]
					changed = true
				}
			}
		}
	}

	m.sortNu()
	if changed {
		m.Reset()
	}
	return
}

// sortNu renumbers nu groups by decreasing size, dropping empty
// groups.
func (m *Model) sortNu() {
	nu := m.Categories.Nu
	sizes := map[int]int{}
	for _, g := range nu {
		sizes[g]++
	}
	ids := make([]int, 0, len(sizes))
	for g := range sizes {
		ids = append(ids, g)
	}
	sort.Ints(ids)
	sort.SliceStable(ids, func(i, j int) bool {
		return sizes[ids[i]] > sizes[ids[j]]
	})

	remap := make(map[int]int, len(ids))
	v := make([]float64, len(ids))
	v2 := make([]float64, len(ids))
	for i, g := range ids {
		remap[g] = i
		v[i] = m.V[g]
		v2[i] = m.V2[g]
	}
	for br, g := range nu {
		nu[br] = remap[g]
	}
	m.V, m.V2 = v, v2
}
