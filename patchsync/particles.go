package patchsync

import (
	"github.com/notargets/gopic/comm"
	"github.com/notargets/gopic/patch"
)

// ExchangeParticles moves the particles of species is that left their patch
// into the neighbouring patch, possibly on another rank. Particles leaving
// through a domain face go through the species boundary condition. A message
// is sent to every remote neighbour, empty or not.
func ExchangeParticles(s Set, is int) (err error) {
	for d := 0; d < s.nDim(); d++ {
		if err = s.exchangeParticlesDim(is, d); err != nil {
			return
		}
	}
	return
}

func (s Set) exchangeParticlesDim(is, d int) (err error) {
	type delivery struct {
		to    *patch.Patch
		parts *patch.Particles
	}
	var (
		c          = s.Comm
		reqs       []*comm.Request
		deliveries []delivery
	)
	for _, p := range s.Patches {
		var (
			sp     = p.Species[is]
			ps     = sp.Particles
			lo, hi = p.Min(d), p.Max(d)
			out    = [2]*patch.Particles{
				ps.Extract(func(i int) bool { return ps.Position[d][i] < lo }),
				ps.Extract(func(i int) bool { return ps.Position[d][i] >= hi }),
			}
		)
		for side := 0; side < 2; side++ {
			nb := p.Neighbor[d][side]
			if nb == comm.ProcNull {
				ps.Append(sp.ApplyBoundary(p, out[side], d, side))
				continue
			}
			if shift := p.PeriodicShift(d, side); shift != 0 {
				for i := 0; i < out[side].Len(); i++ {
					out[side].Position[d][i] += shift
				}
			}
			if s.isLocal(p, d, side) {
				deliveries = append(deliveries, delivery{s.Local(nb), out[side]})
				continue
			}
			var b []byte
			if b, err = patch.Encode(out[side]); err != nil {
				return
			}
			reqs = append(reqs, c.Isend(p.MPINeighbor[d][side], s.tag(nb, d, 1-side), b))
		}
	}
	for _, dl := range deliveries {
		dl.to.Species[is].Particles.Append(dl.parts)
	}
	for _, p := range s.Patches {
		for side := 0; side < 2; side++ {
			if p.Neighbor[d][side] == comm.ProcNull || s.isLocal(p, d, side) {
				continue
			}
			in := &patch.Particles{}
			if err = patch.Decode(c.Recv(p.MPINeighbor[d][side], s.tag(p.Hindex, d, side)), in); err != nil {
				return
			}
			in.NDim = p.Params.NDim
			if in.Len() > 0 {
				p.Species[is].Particles.Append(in)
			}
		}
	}
	comm.Waitall(reqs)
	return
}
