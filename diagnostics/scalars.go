package diagnostics

import (
	"io"
	"math"
	"strings"

	"github.com/notargets/gopic/comm"
	"github.com/notargets/gopic/patch"
)

// Scalars reports the global energy budget: field and kinetic energies,
// particle counts and the energy that left or entered the box.
type Scalars struct {
	output
	Every int

	species []string
	uInit   float64
	started bool
	header  bool
	names   []string
	values  []float64
}

func NewScalars(params *patch.Params, every int, w io.Writer) (s *Scalars) {
	s = &Scalars{output: output{w}, Every: every}
	for _, sp := range params.Species {
		s.species = append(s.species, sp.Name)
	}
	return
}

func (s *Scalars) Prepare(step int) bool { return isDue(step, s.Every) }

func (s *Scalars) NeedsRhoJs(step int) bool { return false }

func (s *Scalars) Run(step int, patches []*patch.Patch, c comm.Communicator) error {
	const (
		iElm = iota
		iElmLostMW
		iPoynting
		nGlobal
	)
	var (
		ns    = len(s.species)
		local = make([]float64, nGlobal+5*ns)
	)
	// per species blocks: kinetic, count, lost at boundaries, lost to the window, created
	block := func(k, is int) int { return nGlobal + k*ns + is }
	for _, p := range patches {
		field, kin := p.ComputeNRJ()
		local[iElm] += field
		local[iElmLostMW] += p.EM.Scalars.NRJLostMW
		for side := 0; side < 2; side++ {
			for d := 0; d < 3; d++ {
				local[iPoynting] += p.EM.Scalars.Poynting[side][d]
			}
		}
		for is, sp := range p.Species {
			local[block(0, is)] += kin[is]
			local[block(1, is)] += float64(sp.Particles.Len())
			local[block(2, is)] += sp.Scalars.NRJLostBC
			local[block(3, is)] += sp.Scalars.NRJLostMW
			local[block(4, is)] += sp.Scalars.NRJNew
		}
	}
	g := comm.AllreduceSumSlice(c, local)

	var uKin, uLost, uNew float64
	for is := 0; is < ns; is++ {
		uKin += g[block(0, is)]
		uLost += g[block(2, is)] + g[block(3, is)]
		uNew += g[block(4, is)]
	}
	uLost += g[iElmLostMW]
	uTot := g[iElm] + uKin
	if !s.started {
		s.uInit, s.started = uTot, true
	}
	// Poynting counts the field energy that flowed out through the domain faces
	uBal := uTot + uLost + g[iPoynting] - uNew - s.uInit
	uBalNorm := 0.
	if uTot > 0 {
		uBalNorm = uBal / uTot
	}

	s.names = s.names[:0]
	s.values = s.values[:0]
	add := func(name string, v float64) {
		s.names = append(s.names, name)
		s.values = append(s.values, v)
	}
	add("Utot", uTot)
	add("Uelm", g[iElm])
	add("Ukin", uKin)
	add("Ubal", uBal)
	add("Ubal_norm", uBalNorm)
	add("Ulost", uLost)
	add("Unew", uNew)
	add("Uelm_lost_mw", g[iElmLostMW])
	add("Poynting", g[iPoynting])
	for is, name := range s.species {
		add("Ukin_"+name, g[block(0, is)])
		add("Ntot_"+name, g[block(1, is)])
		add("Ulost_bc_"+name, g[block(2, is)])
		add("Ulost_mw_"+name, g[block(3, is)])
		add("Unew_"+name, g[block(4, is)])
	}
	return nil
}

// Value returns the last computed value of the named scalar.
func (s *Scalars) Value(name string) (v float64, ok bool) {
	for i, n := range s.names {
		if n == name {
			return s.values[i], true
		}
	}
	return math.NaN(), false
}

func (s *Scalars) Write(step int) (err error) {
	if !s.header {
		if err = s.printf("#step\t%s\n", strings.Join(s.names, "\t")); err != nil {
			return
		}
		s.header = true
	}
	if err = s.printf("%d", step); err != nil {
		return
	}
	for _, v := range s.values {
		if err = s.printf("\t%.8e", v); err != nil {
			return
		}
	}
	return s.printf("\n")
}
