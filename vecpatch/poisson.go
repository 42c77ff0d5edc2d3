package vecpatch

import (
	"log"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/gopic/comm"
	"github.com/notargets/gopic/patch"
	"github.com/notargets/gopic/patchsync"
)

// poissonState holds the conjugate gradient vectors of one patch.
type poissonState struct {
	phi, r, p, ap *patch.Field
}

// SolvePoisson solves -lap(phi) = rho with a conjugate gradient over the
// whole collection, then sets E = -grad(phi). Ghost nodes on non periodic
// domain faces hold phi = 0. It returns the number of iterations and
// whether the residual reached Poisson.MaxError; a shortfall is logged and
// the approximate solution kept.
func (vp *VectorPatch) SolvePoisson() (iterations int, converged bool) {
	var (
		params = vp.Params
		dims   = params.FieldDims()
		states = make([]poissonState, len(vp.Patches))
		set    = vp.Set()
		nodes  = float64(params.TotalPatches() * params.CellsPerPatch())
	)
	for i, p := range vp.Patches {
		st := poissonState{
			phi: patch.NewField("phi", dims),
			r:   p.EM.Rho.Copy(),
			p:   patch.NewField("p", dims),
			ap:  patch.NewField("Ap", dims),
		}
		interior := p.Interior()
		st.r.Each(interior, func(idx int) { st.p.Data[idx] = st.r.Data[idx] })
		states[i] = st
	}
	index := func(p *patch.Patch) int { return p.Hindex - vp.RefHindex }
	dot := func(a, b func(st poissonState) *patch.Field) float64 {
		var local float64
		for i, p := range vp.Patches {
			interior := p.Interior()
			local += floats.Dot(a(states[i]).Extract(interior), b(states[i]).Extract(interior))
		}
		return comm.AllreduceSum(vp.Comm, local)
	}
	rOf := func(st poissonState) *patch.Field { return st.r }
	pOf := func(st poissonState) *patch.Field { return st.p }
	apOf := func(st poissonState) *patch.Field { return st.ap }

	rr := dot(rOf, rOf)
	ctrl := rr / nodes
	for ctrl > vp.Poisson.MaxError && iterations < vp.Poisson.MaxIteration {
		iterations++
		patchsync.ExchangeFields(set, func(p *patch.Patch) []*patch.Field {
			return []*patch.Field{states[index(p)].p}
		})
		for i, p := range vp.Patches {
			laplacian(p, states[i].p, states[i].ap)
		}
		alpha := rr / dot(pOf, apOf)
		for i, p := range vp.Patches {
			st := states[i]
			st.r.Each(p.Interior(), func(idx int) {
				st.phi.Data[idx] += alpha * st.p.Data[idx]
				st.r.Data[idx] -= alpha * st.ap.Data[idx]
			})
		}
		rNew := dot(rOf, rOf)
		beta := rNew / rr
		for i, p := range vp.Patches {
			st := states[i]
			st.r.Each(p.Interior(), func(idx int) {
				st.p.Data[idx] = st.r.Data[idx] + beta*st.p.Data[idx]
			})
		}
		rr = rNew
		ctrl = rr / nodes
	}
	converged = ctrl <= vp.Poisson.MaxError
	if vp.isMaster() {
		if converged {
			log.Printf("Poisson solver converged at iteration %d, ctrl = %g\n", iterations, ctrl)
		} else {
			log.Printf("WARNING: Poisson solver did not converge in %d iterations, ctrl = %g\n", iterations, ctrl)
		}
	}

	patchsync.ExchangeFields(set, func(p *patch.Patch) []*patch.Field {
		return []*patch.Field{states[index(p)].phi}
	})
	for i, p := range vp.Patches {
		gradient(p, states[i].phi)
	}
	patchsync.ExchangeE(set)
	return
}

// laplacian sets ap = -lap(f) over the interior.
func laplacian(p *patch.Patch, f, ap *patch.Field) {
	var (
		params = p.Params
		dx     = params.CellLength
	)
	ap.Each(p.Interior(), func(idx int) {
		var v float64
		for d := 0; d < params.NDim; d++ {
			s := f.Stride(d)
			v -= (f.Data[idx+s] - 2*f.Data[idx] + f.Data[idx-s]) / (dx[d] * dx[d])
		}
		ap.Data[idx] = v
	})
}

// gradient sets E = -grad(phi) with centred differences.
func gradient(p *patch.Patch, phi *patch.Field) {
	var (
		params = p.Params
		E      = p.EM.E()
	)
	phi.Each(p.Interior(), func(idx int) {
		for d := 0; d < params.NDim; d++ {
			s := phi.Stride(d)
			E[d].Data[idx] = -(phi.Data[idx+s] - phi.Data[idx-s]) / (2 * params.CellLength[d])
		}
	})
}

// InitFields deposits the initial charge and, when it does not vanish,
// solves for the electrostatic field it creates. The collection stays idle.
func (vp *VectorPatch) InitFields() (err error) {
	if err = vp.expect(PhaseIdle, "field initialisation"); err != nil {
		return
	}
	vp.parallel(func(p *patch.Patch) {
		p.EM.RestartRhoJ()
		for _, s := range p.Species {
			s.Project(p)
		}
	})
	patchsync.SumRhoJ(vp.Set())
	if vp.IsRhoNull() {
		return
	}
	vp.SolvePoisson()
	return
}
