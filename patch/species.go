package patch

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/notargets/gopic/types"
)

// SpeciesScalars is the energy bookkeeping of a species on one patch.
type SpeciesScalars struct {
	NRJLostBC float64 // kinetic energy of particles removed at domain faces
	NRJLostMW float64 // kinetic energy of patches retired by the moving window
	NRJNew    float64 // kinetic energy of particles created at the window edge
}

type Species struct {
	Index     int
	Params    *SpeciesParams
	Particles *Particles
	Scalars   SpeciesScalars
	// Bound is the particle boundary condition applied on each side of the
	// patch; PartBC_None on sides facing another patch.
	Bound [3][2]types.PartBC
}

func NewSpecies(index int, params *SpeciesParams, nDim int) *Species {
	return &Species{
		Index:     index,
		Params:    params,
		Particles: NewParticles(nDim, params.Chi),
	}
}

func (s *Species) defaultBounds(p *Patch) (bound [3][2]types.PartBC) {
	for d := 0; d < p.Params.NDim; d++ {
		for side := 0; side < 2; side++ {
			if p.IsBoundary(d, side) {
				bound[d][side] = s.Params.BC[d][side]
			}
		}
	}
	return
}

// DisableXmax drops the Xmax boundary condition of a patch that stopped
// being on the Xmax face.
func (s *Species) DisableXmax() { s.Bound[0][types.Max] = types.PartBC_None }

// SetXminBoundaryCondition installs the Xmin boundary condition on a patch
// that became an Xmin patch.
func (s *Species) SetXminBoundaryCondition() {
	s.Bound[0][types.Min] = s.Params.BC[0][types.Min]
}

// IsProj reports whether the species deposits current at time t.
func (s *Species) IsProj(t float64) bool {
	return !s.Params.IsTest && t >= s.Params.TimeFrozen
}

func (s *Species) IsFrozen(t float64) bool { return t < s.Params.TimeFrozen }

// CreateParticles fills every interior cell of p following the density
// profile, with Maxwellian momenta.
func (s *Species) CreateParticles(p *Patch, rng *rand.Rand) (nrj float64) {
	var (
		sp     = s.Params
		params = p.Params
		nDim   = params.NDim
		vol    = params.CellVolume()
		first  = s.Particles.Len()
	)
	if sp.NPartPerCell <= 0 || sp.Density == nil {
		return
	}
	uniform := func() float64 {
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		return u
	}
	var cell func(d int, x []float64)
	cell = func(d int, x []float64) {
		if d < nDim {
			for i := 0; i < params.NSpace[d]; i++ {
				x[d] = p.Min(d) + float64(i)*params.CellLength[d]
				cell(d+1, x)
			}
			return
		}
		center := make([]float64, nDim)
		for dd := range center {
			center[dd] = x[dd] + 0.5*params.CellLength[dd]
		}
		density := sp.Density(center)
		if density <= 0 {
			return
		}
		weight := density * vol / float64(sp.NPartPerCell)
		pos := make([]float64, nDim)
		for n := 0; n < sp.NPartPerCell; n++ {
			for dd := range pos {
				pos[dd] = x[dd] + rng.Float64()*params.CellLength[dd]
			}
			var mom [3]float64
			for c := 0; c < 3; c++ {
				mom[c] = sp.MeanVelocity[c]
				if sp.Temperature[c] > 0 && sp.Mass > 0 {
					mom[c] += math.Sqrt(sp.Temperature[c]/sp.Mass) * distuv.UnitNormal.Quantile(uniform())
				}
			}
			s.Particles.Push(pos, mom, weight, sp.Charge, 0, 0)
		}
	}
	cell(0, make([]float64, nDim))
	for i := first; i < s.Particles.Len(); i++ {
		nrj += s.kineticNRJ(s.Particles, i)
	}
	return
}

func (s *Species) kineticNRJ(ps *Particles, i int) float64 {
	return ps.Weight[i] * s.Params.Mass * (ps.Gamma(i) - 1)
}

// ComputeNRJ is the kinetic energy of the species on the patch.
func (s *Species) ComputeNRJ() (nrj float64) {
	for i := 0; i < s.Particles.Len(); i++ {
		nrj += s.kineticNRJ(s.Particles, i)
	}
	return
}

// Dynamics pushes the particles (unless frozen) and deposits their charge
// and current into rho/J, plus the per species fields when diagFlag is set.
func (s *Species) Dynamics(p *Patch, t float64, diagFlag bool) {
	if !s.IsFrozen(t) {
		s.push(p)
	}
	if s.Params.IsTest {
		return
	}
	em := p.EM
	s.project(p, em.Rho, em.J())
	if diagFlag && em.RhoS != nil {
		s.project(p, em.RhoS[s.Index], [3]*Field{em.JxS[s.Index], em.JyS[s.Index], em.JzS[s.Index]})
	}
}

// Project deposits the charge and current of the species without moving it.
func (s *Species) Project(p *Patch) {
	if s.Params.IsTest {
		return
	}
	s.project(p, p.EM.Rho, p.EM.J())
}

func (s *Species) node(p *Patch, i int) int {
	var ijk [3]int
	for d := 0; d < p.Params.NDim; d++ {
		ijk[d] = p.NodeOf(d, s.Particles.Position[d][i])
	}
	return p.EM.Ex.Index(ijk[0], ijk[1], ijk[2])
}

// push advances momenta with the Boris scheme using nearest node fields,
// then positions.
func (s *Species) push(p *Patch) {
	var (
		sp   = s.Params
		dt   = p.Params.Timestep
		nDim = p.Params.NDim
		em   = p.EM
		E, B = em.E(), em.BM()
		ps   = s.Particles
	)
	if sp.Mass == 0 {
		return
	}
	for i := 0; i < ps.Len(); i++ {
		var (
			idx   = s.node(p, i)
			qdt2m = ps.Charge[i] * dt / (2 * sp.Mass)
			pm, t [3]float64
			tt    float64
		)
		for c := 0; c < 3; c++ {
			pm[c] = ps.Momentum[c][i] + qdt2m*E[c].Data[idx]
		}
		gamma := math.Sqrt(1 + pm[0]*pm[0] + pm[1]*pm[1] + pm[2]*pm[2])
		for c := 0; c < 3; c++ {
			t[c] = qdt2m * B[c].Data[idx] / gamma
			tt += t[c] * t[c]
		}
		pp := cross(pm, t)
		for c := 0; c < 3; c++ {
			pp[c] += pm[c]
		}
		rot := cross(pp, t)
		for c := 0; c < 3; c++ {
			ps.Momentum[c][i] = pm[c] + 2*rot[c]/(1+tt) + qdt2m*E[c].Data[idx]
		}
		gamma = ps.Gamma(i)
		for d := 0; d < nDim; d++ {
			ps.Position[d][i] += dt * ps.Momentum[d][i] / gamma
		}
	}
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// project deposits charge and current density at the nearest node.
func (s *Species) project(p *Patch, rho *Field, J [3]*Field) {
	var (
		ps  = s.Particles
		vol = p.Params.CellVolume()
	)
	for i := 0; i < ps.Len(); i++ {
		var (
			idx   = s.node(p, i)
			q     = ps.Charge[i] * ps.Weight[i] / vol
			gamma = ps.Gamma(i)
		)
		rho.Data[idx] += q
		for c := 0; c < 3; c++ {
			J[c].Data[idx] += q * ps.Momentum[c][i] / gamma
		}
	}
}

// ApplyBoundary handles particles that left the patch through a domain
// face. Particles that stay in the domain are returned to the caller.
func (s *Species) ApplyBoundary(p *Patch, out *Particles, d, side int) (kept *Particles) {
	kept = NewParticles(out.NDim, out.HasChi())
	var (
		wall = p.Min(d)
		dx   = p.Params.CellLength[d]
	)
	if side == types.Max {
		wall = p.Max(d)
	}
	for i := 0; i < out.Len(); i++ {
		switch s.Bound[d][side] {
		case types.PartBC_Refl:
			out.Position[d][i] = 2*wall - out.Position[d][i]
			if side == types.Max && out.Position[d][i] >= wall {
				out.Position[d][i] = math.Nextafter(wall, math.Inf(-1))
			}
			out.Momentum[d][i] = -out.Momentum[d][i]
			kept.CopyParticle(out, i)
		case types.PartBC_Stop:
			s.Scalars.NRJLostBC += s.kineticNRJ(out, i)
			if side == types.Min {
				out.Position[d][i] = wall
			} else {
				out.Position[d][i] = wall - 1e-6*dx
			}
			for c := 0; c < 3; c++ {
				out.Momentum[c][i] = 0
			}
			kept.CopyParticle(out, i)
		default:
			s.Scalars.NRJLostBC += s.kineticNRJ(out, i)
		}
	}
	return
}

// CleanParticlesOverhead releases unused particle capacity.
func (s *Species) CleanParticlesOverhead() { s.Particles.ShrinkToFit() }
