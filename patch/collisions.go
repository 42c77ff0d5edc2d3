package patch

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Collider is a collision operator applied to one patch.
type Collider interface {
	Collide(p *Patch, step int)
	NeedsDebyeLength() bool
}

// BinaryCollisions pairs the particles of the listed species inside each
// cell and rotates their relative momentum by a random angle. Total momentum
// and, for non relativistic pairs, kinetic energy are conserved.
type BinaryCollisions struct {
	Params *CollisionParams
}

func NewColliders(params *Params) (cs []Collider) {
	for _, cp := range params.Collisions {
		cs = append(cs, &BinaryCollisions{Params: cp})
	}
	return
}

func (bc *BinaryCollisions) NeedsDebyeLength() bool { return bc.Params.DebyeLength }

type particleRef struct {
	s *Species
	i int
}

func (bc *BinaryCollisions) Collide(p *Patch, step int) {
	if bc.Params.Every > 1 && step%bc.Params.Every != 0 {
		return
	}
	var (
		params   = p.Params
		cells    = make(map[int][]particleRef)
		vol      = params.CellVolume()
		strength = bc.Params.Strength
		dt       = params.Timestep * math.Max(1, float64(bc.Params.Every))
	)
	if strength == 0 {
		strength = 1
	}
	for _, is := range bc.Params.Species {
		s := p.Species[is]
		if s.Params.Mass == 0 {
			continue
		}
		for i := 0; i < s.Particles.Len(); i++ {
			cell := 0
			for d := 0; d < params.NDim; d++ {
				c := int((s.Particles.Position[d][i] - p.Min(d)) / params.CellLength[d])
				c = min(max(c, 0), params.NSpace[d]-1)
				cell = cell*params.NSpace[d] + c
			}
			cells[cell] = append(cells[cell], particleRef{s, i})
		}
	}
	lnLambda := 2.
	if bc.Params.DebyeLength && p.DebyeLength2 > 0 {
		lnLambda = math.Max(2, math.Log(math.Sqrt(p.DebyeLength2)/(1e-3*params.CellLength[0])))
	}
	for c := 0; c < params.CellsPerPatch(); c++ {
		refs := cells[c]
		if len(refs) < 2 {
			continue
		}
		var density float64
		for _, r := range refs {
			density += r.s.Particles.Weight[r.i]
		}
		density /= vol
		p.rng.Shuffle(len(refs), func(i, j int) { refs[i], refs[j] = refs[j], refs[i] })
		for n := 0; n+1 < len(refs); n += 2 {
			bc.scatter(p, refs[n], refs[n+1], density*strength*lnLambda*dt)
		}
	}
}

func (bc *BinaryCollisions) scatter(p *Patch, a, b particleRef, coef float64) {
	var (
		m1, m2 = a.s.Params.Mass, b.s.Params.Mass
		pa, pb = a.s.Particles, b.s.Particles
		total  [3]float64
		u      [3]float64
		u2     float64
	)
	for c := 0; c < 3; c++ {
		total[c] = m1*pa.Momentum[c][a.i] + m2*pb.Momentum[c][b.i]
		u[c] = pa.Momentum[c][a.i] - pb.Momentum[c][b.i]
		u2 += u[c] * u[c]
	}
	if u2 == 0 {
		return
	}
	var (
		umag  = math.Sqrt(u2)
		delta = math.Sqrt(coef/(umag*u2+1e-12)) * distuv.UnitNormal.Quantile(openUnit(p))
		theta = 2 * math.Atan(delta)
		phi   = 2 * math.Pi * p.rng.Float64()
	)
	u = rotate(u, umag, theta, phi)
	for c := 0; c < 3; c++ {
		pa.Momentum[c][a.i] = (total[c] + m2*u[c]) / (m1 + m2)
		pb.Momentum[c][b.i] = (total[c] - m1*u[c]) / (m1 + m2)
	}
}

func openUnit(p *Patch) float64 {
	u := p.rng.Float64()
	for u == 0 {
		u = p.rng.Float64()
	}
	return u
}

// rotate turns u (of norm umag) by theta around a random axis at azimuth phi.
func rotate(u [3]float64, umag, theta, phi float64) (r [3]float64) {
	var (
		uperp      = math.Sqrt(u[0]*u[0] + u[1]*u[1])
		st, ct     = math.Sin(theta), math.Cos(theta)
		sphi, cphi = math.Sin(phi), math.Cos(phi)
	)
	if uperp < 1e-12*umag {
		return [3]float64{umag * st * cphi, umag * st * sphi, u[2] * ct}
	}
	r[0] = u[0]*ct + st*(u[0]*u[2]*cphi/uperp-umag*u[1]*sphi/uperp)
	r[1] = u[1]*ct + st*(u[1]*u[2]*cphi/uperp+umag*u[0]*sphi/uperp)
	r[2] = u[2]*ct - st*uperp*cphi
	return
}

// ComputeDebyeLength sets the squared Debye length of the patch from the
// density and temperature of every massive species.
func (p *Patch) ComputeDebyeLength() {
	var (
		inv    float64
		volume = p.Params.CellVolume() * float64(p.Params.CellsPerPatch())
	)
	for _, s := range p.Species {
		ps := s.Particles
		if ps.Len() == 0 || s.Params.Mass == 0 {
			continue
		}
		var (
			mean [3]float64
			sumW float64
			p2   float64
		)
		for i := 0; i < ps.Len(); i++ {
			sumW += ps.Weight[i]
			for c := 0; c < 3; c++ {
				mean[c] += ps.Weight[i] * ps.Momentum[c][i]
				p2 += ps.Weight[i] * ps.Momentum[c][i] * ps.Momentum[c][i]
			}
		}
		var m2 float64
		for c := 0; c < 3; c++ {
			mean[c] /= sumW
			m2 += mean[c] * mean[c]
		}
		temperature := s.Params.Mass * (p2/sumW - m2) / 3
		if temperature <= 0 {
			continue
		}
		charge := s.Params.Charge
		inv += sumW / volume * charge * charge / temperature
	}
	p.DebyeLength2 = 0
	if inv > 0 {
		p.DebyeLength2 = 1 / inv
	}
}
