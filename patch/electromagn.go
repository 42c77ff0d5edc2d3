package patch

import (
	"fmt"
	"math"

	"github.com/notargets/gopic/types"
)

// EMScalars is the bookkeeping a patch carries along with its fields.
type EMScalars struct {
	Poynting  [2][3]float64 // energy through each domain face, [side][dim]
	NRJLostMW float64       // field energy of patches retired by the moving window
}

// ElectroMagn is the field bundle of a patch. All fields share the same
// node layout: one ghost layer on each side of every active dimension.
type ElectroMagn struct {
	Ex, Ey, Ez    *Field
	Bx, By, Bz    *Field
	BxM, ByM, BzM *Field // B at the particle push time
	Jx, Jy, Jz    *Field
	Rho           *Field

	// per species densities, allocated when a diagnostic needs them
	JxS, JyS, JzS, RhoS []*Field

	Scalars      EMScalars
	LaserEnabled bool

	params *Params
}

func NewElectroMagn(params *Params) (em *ElectroMagn) {
	dims := params.FieldDims()
	em = &ElectroMagn{
		Ex: NewField("Ex", dims), Ey: NewField("Ey", dims), Ez: NewField("Ez", dims),
		Bx: NewField("Bx", dims), By: NewField("By", dims), Bz: NewField("Bz", dims),
		BxM: NewField("Bx_m", dims), ByM: NewField("By_m", dims), BzM: NewField("Bz_m", dims),
		Jx: NewField("Jx", dims), Jy: NewField("Jy", dims), Jz: NewField("Jz", dims),
		Rho:          NewField("Rho", dims),
		LaserEnabled: len(params.Lasers) > 0,
		params:       params,
	}
	return
}

func (em *ElectroMagn) E() [3]*Field  { return [3]*Field{em.Ex, em.Ey, em.Ez} }
func (em *ElectroMagn) B() [3]*Field  { return [3]*Field{em.Bx, em.By, em.Bz} }
func (em *ElectroMagn) BM() [3]*Field { return [3]*Field{em.BxM, em.ByM, em.BzM} }
func (em *ElectroMagn) J() [3]*Field  { return [3]*Field{em.Jx, em.Jy, em.Jz} }

// MigratingFields are the fields that carry state from one step to the
// next and travel with a patch when it changes owner.
func (em *ElectroMagn) MigratingFields() []*Field {
	return []*Field{em.Ex, em.Ey, em.Ez, em.Bx, em.By, em.Bz, em.BxM, em.ByM, em.BzM}
}

func (em *ElectroMagn) FieldByName(name string) *Field {
	for _, f := range []*Field{em.Ex, em.Ey, em.Ez, em.Bx, em.By, em.Bz,
		em.BxM, em.ByM, em.BzM, em.Jx, em.Jy, em.Jz, em.Rho} {
		if f.Name == name {
			return f
		}
	}
	panic(fmt.Errorf("unknown field %q", name))
}

func (em *ElectroMagn) AllocateSpeciesFields(nSpecies int) {
	if em.RhoS != nil {
		return
	}
	dims := em.params.FieldDims()
	for is := 0; is < nSpecies; is++ {
		em.JxS = append(em.JxS, NewField(fmt.Sprintf("Jx_s%d", is), dims))
		em.JyS = append(em.JyS, NewField(fmt.Sprintf("Jy_s%d", is), dims))
		em.JzS = append(em.JzS, NewField(fmt.Sprintf("Jz_s%d", is), dims))
		em.RhoS = append(em.RhoS, NewField(fmt.Sprintf("Rho_s%d", is), dims))
	}
}

// RestartRhoJ zeroes the total charge and current.
func (em *ElectroMagn) RestartRhoJ() {
	em.Jx.Zero()
	em.Jy.Zero()
	em.Jz.Zero()
	em.Rho.Zero()
}

// RestartRhoJs zeroes the per species charge and current.
func (em *ElectroMagn) RestartRhoJs() {
	for is := range em.RhoS {
		em.JxS[is].Zero()
		em.JyS[is].Zero()
		em.JzS[is].Zero()
		em.RhoS[is].Zero()
	}
}

// ComputeTotalRhoJ rebuilds the totals from the per species densities.
func (em *ElectroMagn) ComputeTotalRhoJ() {
	if em.RhoS == nil {
		return
	}
	em.RestartRhoJ()
	for is := range em.RhoS {
		for i := range em.Rho.Data {
			em.Jx.Data[i] += em.JxS[is].Data[i]
			em.Jy.Data[i] += em.JyS[is].Data[i]
			em.Jz.Data[i] += em.JzS[is].Data[i]
			em.Rho.Data[i] += em.RhoS[is].Data[i]
		}
	}
}

func (em *ElectroMagn) SaveMagneticFields() {
	em.BxM.CopyFrom(em.Bx)
	em.ByM.CopyFrom(em.By)
	em.BzM.CopyFrom(em.Bz)
}

// CenterMagneticFields sets B_m to the average of the saved and new B.
func (em *ElectroMagn) CenterMagneticFields() {
	for c, bm := range em.BM() {
		b := em.B()[c]
		for i := range bm.Data {
			bm.Data[i] = 0.5 * (bm.Data[i] + b.Data[i])
		}
	}
}

func (em *ElectroMagn) curl(F [3]*Field, idx int, forward bool) (c [3]float64) {
	var (
		nDim = em.params.NDim
		dx   = em.params.CellLength
	)
	diff := func(f *Field, d int) float64 {
		if d >= nDim {
			return 0
		}
		s := f.Stride(d)
		if forward {
			return (f.Data[idx+s] - f.Data[idx]) / dx[d]
		}
		return (f.Data[idx] - f.Data[idx-s]) / dx[d]
	}
	c[0] = diff(F[2], 1) - diff(F[1], 2)
	c[1] = diff(F[0], 2) - diff(F[2], 0)
	c[2] = diff(F[1], 0) - diff(F[0], 1)
	return
}

// SolveAmpere advances E over the interior with the synchronized current.
func (em *ElectroMagn) SolveAmpere(interior Box) {
	var (
		dt   = em.params.Timestep
		E, J = em.E(), em.J()
		B    = em.B()
	)
	em.Ex.Each(interior, func(idx int) {
		c := em.curl(B, idx, false)
		for n := 0; n < 3; n++ {
			E[n].Data[idx] += dt * (c[n] - J[n].Data[idx])
		}
	})
}

// SolveFaraday advances B over the interior.
func (em *ElectroMagn) SolveFaraday(interior Box) {
	var (
		dt   = em.params.Timestep
		E, B = em.E(), em.B()
	)
	em.Bx.Each(interior, func(idx int) {
		c := em.curl(E, idx, true)
		for n := 0; n < 3; n++ {
			B[n].Data[idx] -= dt * c[n]
		}
	})
}

// ComputeNRJ is the electromagnetic energy of the interior nodes.
func (em *ElectroMagn) ComputeNRJ(interior Box) (nrj float64) {
	for _, f := range []*Field{em.Ex, em.Ey, em.Ez, em.Bx, em.By, em.Bz} {
		nrj += f.SumSquares(interior)
	}
	return 0.5 * nrj * em.params.CellVolume()
}

// LaserDisabled switches off laser injection on this patch.
func (em *ElectroMagn) LaserDisabled() { em.LaserEnabled = false }

// ghostSlab is the ghost layer of side along d, over the full extent of the
// other dimensions.
func ghostSlab(dims [3]int, d, side int) (b Box) {
	b.Hi = dims
	if side == types.Min {
		b.Lo[d], b.Hi[d] = 0, 1
	} else {
		b.Lo[d], b.Hi[d] = dims[d]-1, dims[d]
	}
	return
}

// edgeSlab is the outermost interior layer of side along d.
func edgeSlab(dims [3]int, d, side int) (b Box) {
	b.Hi = dims
	if side == types.Min {
		b.Lo[d], b.Hi[d] = 1, 2
	} else {
		b.Lo[d], b.Hi[d] = dims[d]-2, dims[d]-1
	}
	return
}

// GhostSlab and EdgeSlab are exported for the synchronisation layer.
func (em *ElectroMagn) GhostSlab(d, side int) Box { return ghostSlab(em.Ex.Dims, d, side) }
func (em *ElectroMagn) EdgeSlab(d, side int) Box  { return edgeSlab(em.Ex.Dims, d, side) }

// ApplyBoundaryE fills the E ghosts of the domain faces touched by p.
func (em *ElectroMagn) ApplyBoundaryE(p *Patch, t float64) {
	em.applyBoundary(p, t, em.E(), true)
}

// ApplyBoundaryB fills the B ghosts of the domain faces touched by p and
// accumulates the Poynting flux through them.
func (em *ElectroMagn) ApplyBoundaryB(p *Patch, t float64) {
	em.applyBoundary(p, t, em.B(), false)
	em.accumulatePoynting(p)
}

func (em *ElectroMagn) applyBoundary(p *Patch, t float64, F [3]*Field, isE bool) {
	params := em.params
	for d := 0; d < params.NDim; d++ {
		for side := 0; side < 2; side++ {
			if !p.IsBoundary(d, side) {
				continue
			}
			var (
				ghost = ghostSlab(em.Ex.Dims, d, side)
				edge  = edgeSlab(em.Ex.Dims, d, side)
			)
			switch params.EMBC[d][side] {
			case types.EMBC_Reflective:
				for c, f := range F {
					vals := f.Extract(edge)
					if isE && c != d {
						for i := range vals {
							vals[i] = -vals[i]
						}
					}
					f.Insert(ghost, vals, false)
				}
			default:
				for _, f := range F {
					f.Insert(ghost, f.Extract(edge), false)
				}
				if d == 0 && side == types.Min {
					em.injectLasers(ghost, t, isE)
				}
			}
		}
	}
}

// LaserAmplitude is the field injected by laser l at time t.
func LaserAmplitude(l *LaserParams, t float64) float64 {
	env := 1.
	if l.Envelope != nil {
		env = l.Envelope(t)
	}
	return l.A0 * math.Sin(l.Omega*t) * env
}

// injectLasers imposes a wave travelling towards +x on the Xmin ghost layer:
// Ey = Bz for component 1, Ez = -By for component 2.
func (em *ElectroMagn) injectLasers(ghost Box, t float64, isE bool) {
	if !em.LaserEnabled {
		return
	}
	for _, l := range em.params.Lasers {
		a := LaserAmplitude(l, t)
		var (
			f    *Field
			sign = 1.
		)
		switch {
		case isE && l.Component == 1:
			f = em.Ey
		case isE && l.Component == 2:
			f = em.Ez
		case !isE && l.Component == 1:
			f = em.Bz
		default:
			f, sign = em.By, -1
		}
		f.Each(ghost, func(idx int) { f.Data[idx] += sign * a })
	}
}

func (em *ElectroMagn) accumulatePoynting(p *Patch) {
	params := em.params
	for d := 0; d < params.NDim; d++ {
		area := 1.
		for dd := 0; dd < params.NDim; dd++ {
			if dd != d {
				area *= params.CellLength[dd]
			}
		}
		var (
			c1, c2 = (d + 1) % 3, (d + 2) % 3
			E, B   = em.E(), em.BM()
		)
		for side := 0; side < 2; side++ {
			if !p.IsBoundary(d, side) {
				continue
			}
			var (
				interior = p.Interior()
				flux     float64
				sign     = 2*float64(side) - 1
			)
			if side == types.Min {
				interior.Hi[d] = interior.Lo[d] + 1
			} else {
				interior.Lo[d] = interior.Hi[d] - 1
			}
			em.Ex.Each(interior, func(idx int) {
				flux += E[c1].Data[idx]*B[c2].Data[idx] - E[c2].Data[idx]*B[c1].Data[idx]
			})
			em.Scalars.Poynting[side][d] += sign * flux * area * params.Timestep
		}
	}
}
