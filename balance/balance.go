// Package balance computes the patch ownership map from the measured load of
// every patch. Boundaries between ranks are moved toward equal cumulative
// load, but never so far that a rank loses all of its previous patches or a
// patch jumps over a rank.
package balance

import (
	"fmt"
	"sort"

	"github.com/notargets/gopic/comm"
	"github.com/notargets/gopic/ownership"
	"github.com/notargets/gopic/patch"
	"gonum.org/v1/gonum/floats"
)

type Config struct {
	Every              int     `json:"every"`
	InitialBalance     bool    `json:"initial_balance"`
	CellLoad           float64 `json:"cell_load"`
	FrozenParticleLoad float64 `json:"frozen_particle_load"`
}

func DefaultConfig() Config {
	return Config{
		Every:              150,
		InitialBalance:     true,
		CellLoad:           1,
		FrozenParticleLoad: 0.1,
	}
}

func (c Config) Validate() error {
	if c.Every < 0 {
		return fmt.Errorf("load balancing period must not be negative, got %d", c.Every)
	}
	if c.CellLoad < 0 || c.FrozenParticleLoad < 0 {
		return fmt.Errorf("load weights must not be negative: cell_load %g, frozen_particle_load %g",
			c.CellLoad, c.FrozenParticleLoad)
	}
	return nil
}

// IsDue reports whether the ownership map is recomputed after step.
func (c Config) IsDue(step int) bool {
	return c.Every > 0 && step > 0 && step%c.Every == 0
}

// PatchLoad is the estimated cost of advancing p one step at time t.
func (c Config) PatchLoad(p *patch.Patch, t float64) (load float64) {
	load = c.CellLoad * float64(p.Params.CellsPerPatch())
	for _, s := range p.Species {
		n := float64(s.Particles.Len())
		if s.IsFrozen(t) {
			n *= c.FrozenParticleLoad
		}
		load += n
	}
	return
}

// RecomputePatchCount gathers the loads of every rank's patches, in hindex
// order, and returns the next ownership map. Every rank obtains the same map.
func RecomputePatchCount(c comm.Communicator, localLoads []float64, old *ownership.Map) *ownership.Map {
	loads := comm.AllgatherFloat64s(c, localLoads)
	if len(loads) != old.Total() {
		panic(fmt.Errorf("load balance: gathered %d patch loads for %d patches", len(loads), old.Total()))
	}
	return Repartition(loads, old)
}

// Repartition places the rank boundaries on equal cumulative load, then
// limits every boundary to the interior of its two old neighbouring ranges.
func Repartition(loads []float64, old *ownership.Map) *ownership.Map {
	var (
		nr  = old.NRanks()
		n   = len(loads)
		cum = make([]float64, n+1)
		b   = make([]int, nr+1)
	)
	if nr == 1 {
		return old.Next(old.Counts)
	}
	for i, l := range loads {
		cum[i+1] = cum[i] + l
	}
	b[nr] = n
	for r := 1; r < nr; r++ {
		target := cum[n] * float64(r) / float64(nr)
		i := sort.SearchFloat64s(cum, target)
		if i > 0 && (i > n || target-cum[i-1] < cum[i]-target) {
			i--
		}
		lo, hi := old.Start(r-1)+1, old.End(r)-1
		b[r] = max(lo, min(i, hi))
	}
	for r := 1; r < nr; r++ {
		b[r] = max(b[r], b[r-1]+1)
	}
	for r := nr - 1; r > 0; r-- {
		b[r] = min(b[r], b[r+1]-1)
	}
	counts := make([]int, nr)
	for r := range counts {
		counts[r] = b[r+1] - b[r]
	}
	return old.Next(counts)
}

// Imbalance returns the load of every rank under m, and the ratio of the
// largest to the mean.
func Imbalance(loads []float64, m *ownership.Map) (rankLoads []float64, ratio float64) {
	rankLoads = make([]float64, m.NRanks())
	for r := range rankLoads {
		rankLoads[r] = floats.Sum(loads[m.Start(r):m.End(r)])
	}
	total := floats.Sum(rankLoads)
	if total == 0 {
		return rankLoads, 1
	}
	ratio = floats.Max(rankLoads) / (total / float64(len(rankLoads)))
	return
}
