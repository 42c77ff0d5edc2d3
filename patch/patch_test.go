package patch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/gopic/comm"
	"github.com/notargets/gopic/ownership"
	"github.com/notargets/gopic/types"
)

func uniform(v float64) func(x []float64) float64 {
	return func(x []float64) float64 { return v }
}

func newTestParams(t *testing.T, nDim int, nPatches [3]int, periodic bool) *Params {
	p := &Params{
		NDim:       nDim,
		NPatches:   nPatches,
		NSpace:     [3]int{4, 4, 4},
		CellLength: [3]float64{0.5, 0.5, 0.5},
		Timestep:   0.2,
		Seed:       7,
		Species: []*SpeciesParams{{
			Name: "electron", Mass: 1, Charge: -1, NPartPerCell: 4,
			Density: uniform(1), Temperature: [3]float64{0.01, 0.01, 0.01},
		}},
	}
	for d := 0; d < nDim; d++ {
		for side := 0; side < 2; side++ {
			p.EMBC[d][side] = types.EMBC_SilverMuller
			p.Species[0].BC[d][side] = types.PartBC_Supp
			if periodic {
				p.EMBC[d][side] = types.EMBC_Periodic
				p.Species[0].BC[d][side] = types.PartBC_Periodic
			}
		}
	}
	require.NoError(t, p.Init())
	return p
}

func TestPatchGeometry(t *testing.T) {
	{ // Test 1D neighbours and boundary roles
		params := newTestParams(t, 1, [3]int{4, 1, 1}, false)
		p0 := New(params, 0, 0)
		assert.True(t, p0.IsXmin())
		assert.False(t, p0.IsXmax())
		assert.Equal(t, comm.ProcNull, p0.Neighbor[0][types.Min])
		assert.Equal(t, 1, p0.Neighbor[0][types.Max])
		p3 := New(params, 3, 0)
		assert.True(t, p3.IsXmax())
		assert.Equal(t, 2, p3.Neighbor[0][types.Min])
		assert.Equal(t, comm.ProcNull, p3.Neighbor[0][types.Max])
		assert.Equal(t, 6., p3.Min(0))
		assert.Equal(t, 8., p3.Max(0))
		assert.Equal(t, [3]int{6, 1, 1}, params.FieldDims())
	}
	{ // Test periodic wrap and neighbour symmetry in 2D
		params := newTestParams(t, 2, [3]int{4, 2, 1}, true)
		for h := 0; h < params.TotalPatches(); h++ {
			p := New(params, h, 0)
			for d := 0; d < 2; d++ {
				for side := 0; side < 2; side++ {
					nb := p.Neighbor[d][side]
					require.NotEqual(t, comm.ProcNull, nb)
					q := New(params, nb, 0)
					assert.Equal(t, h, q.Neighbor[d][1-side], "patch %d dim %d side %d", h, d, side)
				}
			}
			assert.False(t, p.IsBoundary(0, types.Min))
		}
	}
	{ // Test owner resolution through the ownership map
		params := newTestParams(t, 1, [3]int{8, 1, 1}, false)
		own := ownership.New([]int{3, 3, 2}, 0)
		p := New(params, 3, 0)
		p.UpdateMPIenv(own)
		assert.Equal(t, 1, p.Rank)
		assert.Equal(t, [2]int{0, 1}, p.MPINeighbor[0])
		assert.Equal(t, [2]int{comm.ProcNull, comm.ProcNull}, p.MPINeighbor[1])
		last := New(params, 7, 0)
		last.UpdateMPIenv(own)
		assert.Equal(t, [2]int{2, comm.ProcNull}, last.MPINeighbor[0])
	}
	{ // Test node lookup and moving window offset
		params := newTestParams(t, 1, [3]int{4, 1, 1}, false)
		p := New(params, 1, 4)
		assert.Equal(t, 4., p.Min(0))
		assert.Equal(t, 1, p.NodeOf(0, 4.0))
		assert.Equal(t, 2, p.NodeOf(0, 4.3))
		assert.Equal(t, 5, p.NodeOf(0, 5.9))
		assert.Equal(t, []float64{4.5}, p.NodePosition([3]int{2, 0, 0}))
	}
}

func TestSpecies(t *testing.T) {
	{ // Test particle creation fills every cell with the right weight
		params := newTestParams(t, 2, [3]int{2, 2, 1}, false)
		p := New(params, 0, 0)
		p.InitParticles()
		s := p.Species[0]
		assert.Equal(t, 4*16, s.Particles.Len())
		var total float64
		for i := 0; i < s.Particles.Len(); i++ {
			total += s.Particles.Weight[i]
			assert.True(t, p.Contains(0, s.Particles.Position[0][i]))
			assert.True(t, p.Contains(1, s.Particles.Position[1][i]))
		}
		// density 1 over a 2x2 patch
		assert.InDelta(t, 4., total, 1e-12)
		assert.True(t, s.ComputeNRJ() > 0)
	}
	{ // Test a uniform electric field accelerates the particle by qE dt/m
		params := newTestParams(t, 1, [3]int{4, 1, 1}, false)
		p := New(params, 1, 0)
		s := p.Species[0]
		s.Particles.Push([]float64{3}, [3]float64{}, 1, -1, 0, 0)
		for i := range p.EM.Ex.Data {
			p.EM.Ex.Data[i] = 0.5
		}
		s.Dynamics(p, 0, false)
		assert.InDelta(t, -0.5*0.2, s.Particles.Momentum[0][0], 1e-12)
		assert.True(t, s.Particles.Position[0][0] < 3)
		var rho float64
		for _, v := range p.EM.Rho.Data {
			rho += v
		}
		assert.InDelta(t, -1/0.5, rho, 1e-12)
	}
	{ // Test the magnetic rotation keeps the momentum norm
		params := newTestParams(t, 1, [3]int{4, 1, 1}, false)
		p := New(params, 1, 0)
		s := p.Species[0]
		s.Particles.Push([]float64{3}, [3]float64{0.3, 0.1, 0}, 1, -1, 0, 0)
		for i := range p.EM.BzM.Data {
			p.EM.BzM.Data[i] = 2
		}
		before := s.Particles.Gamma(0)
		s.Dynamics(p, 0, false)
		assert.InDelta(t, before, s.Particles.Gamma(0), 1e-12)
		assert.NotEqual(t, 0., s.Particles.Momentum[1][0]-0.1)
	}
	{ // Test frozen and test species
		params := newTestParams(t, 1, [3]int{4, 1, 1}, false)
		params.Species[0].TimeFrozen = 10
		p := New(params, 1, 0)
		s := p.Species[0]
		s.Particles.Push([]float64{3}, [3]float64{0.3, 0, 0}, 1, -1, 0, 0)
		assert.False(t, s.IsProj(1))
		s.Dynamics(p, 1, true)
		assert.Equal(t, 3., s.Particles.Position[0][0])
		params.Species[0].IsTest = true
		assert.False(t, s.IsProj(20))
	}
	{ // Test boundary conditions on outgoing particles
		params := newTestParams(t, 1, [3]int{4, 1, 1}, false)
		p := New(params, 0, 0)
		s := p.Species[0]
		out := NewParticles(1, false)
		out.Push([]float64{-0.1}, [3]float64{-0.5, 0, 0}, 2, -1, 0, 0)
		kept := s.ApplyBoundary(p, out, 0, types.Min)
		assert.Equal(t, 0, kept.Len())
		assert.InDelta(t, 2*(math.Sqrt(1.25)-1), s.Scalars.NRJLostBC, 1e-12)

		s.Bound[0][types.Min] = types.PartBC_Refl
		out = NewParticles(1, false)
		out.Push([]float64{-0.1}, [3]float64{-0.5, 0, 0}, 2, -1, 0, 0)
		kept = s.ApplyBoundary(p, out, 0, types.Min)
		require.Equal(t, 1, kept.Len())
		assert.InDelta(t, 0.1, kept.Position[0][0], 1e-12)
		assert.Equal(t, 0.5, kept.Momentum[0][0])

		s.DisableXmax()
		assert.Equal(t, types.PartBC_None, s.Bound[0][types.Max])
		s.SetXminBoundaryCondition()
		assert.Equal(t, types.PartBC_Supp, s.Bound[0][types.Min])
	}
}

func TestParticles(t *testing.T) {
	{ // Test remove, extract and append
		ps := NewParticles(1, true)
		for i := 0; i < 5; i++ {
			ps.Push([]float64{float64(i)}, [3]float64{float64(i)}, 1, 1, float64(i), uint64(i))
		}
		out := ps.Extract(func(i int) bool { return ps.Position[0][i] >= 3 })
		assert.Equal(t, 3, ps.Len())
		assert.Equal(t, 2, out.Len())
		assert.Len(t, ps.Chi, 3)
		ps.Append(out)
		assert.Equal(t, 5, ps.Len())
		var ids uint64
		for _, id := range ps.ID {
			ids += id
		}
		assert.Equal(t, uint64(10), ids)
		ps.Clear()
		assert.Equal(t, 0, ps.Len())
		ps.ShrinkToFit()
		assert.Equal(t, 0, cap(ps.Weight))
	}
}

func TestElectroMagn(t *testing.T) {
	{ // Test vacuum Maxwell steps keep the energy bounded
		params := newTestParams(t, 1, [3]int{1, 1, 1}, true)
		p := New(params, 0, 0)
		em := p.EM
		b := p.Interior()
		for i := b.Lo[0]; i < b.Hi[0]; i++ {
			em.Ey.Set(i, 0, 0, math.Sin(2*math.Pi*float64(i-1)/4))
		}
		e0 := em.ComputeNRJ(b)
		assert.True(t, e0 > 0)
		for step := 0; step < 20; step++ {
			em.SaveMagneticFields()
			em.SolveAmpere(b)
			// periodic self neighbour: refresh ghosts from the opposite edge
			e, bb := em.E(), em.B()
			for _, f := range append(e[:], bb[:]...) {
				f.Insert(em.GhostSlab(0, 0), f.Extract(em.EdgeSlab(0, 1)), false)
				f.Insert(em.GhostSlab(0, 1), f.Extract(em.EdgeSlab(0, 0)), false)
			}
			em.SolveFaraday(b)
			for _, f := range em.B() {
				f.Insert(em.GhostSlab(0, 0), f.Extract(em.EdgeSlab(0, 1)), false)
				f.Insert(em.GhostSlab(0, 1), f.Extract(em.EdgeSlab(0, 0)), false)
			}
			em.CenterMagneticFields()
		}
		e1 := em.ComputeNRJ(b)
		assert.True(t, e1 < 2*e0 && e1 > 0.1*e0, "energy %g -> %g", e0, e1)
	}
	{ // Test laser injection and disabling
		params := newTestParams(t, 1, [3]int{2, 1, 1}, false)
		params.Lasers = []*LaserParams{{A0: 1, Omega: 1, Component: 1}}
		p := New(params, 0, 0)
		assert.True(t, p.EM.LaserEnabled)
		tm := math.Pi / 2
		p.EM.ApplyBoundaryE(p, tm)
		assert.InDelta(t, 1., p.EM.Ey.At(0, 0, 0), 1e-12)
		p.EM.LaserDisabled()
		p.EM.Ey.Zero()
		p.EM.ApplyBoundaryE(p, tm)
		assert.Equal(t, 0., p.EM.Ey.At(0, 0, 0))
	}
	{ // Test per species densities sum into the totals
		params := newTestParams(t, 1, [3]int{2, 1, 1}, false)
		p := New(params, 0, 0)
		p.EM.AllocateSpeciesFields(1)
		p.InitParticles()
		p.Species[0].Dynamics(p, 0, true)
		total := p.EM.Rho.Copy()
		p.EM.ComputeTotalRhoJ()
		assert.InDeltaSlice(t, total.Data, p.EM.Rho.Data, 1e-12)
		p.EM.RestartRhoJs()
		assert.Equal(t, 0., p.EM.RhoS[0].SumSquares(Box{Hi: p.EM.Rho.Dims}))
	}
}

func TestCodec(t *testing.T) {
	{ // Test a patch survives serialization
		params := newTestParams(t, 2, [3]int{2, 2, 1}, false)
		src := New(params, 2, 0)
		src.InitParticles()
		src.EM.Ey.Set(2, 2, 0, 3.5)
		src.EM.Scalars.NRJLostMW = 1.25
		src.Species[0].Scalars.NRJLostBC = 0.5
		msgs, err := src.Messages()
		require.NoError(t, err)
		var offsets []int
		for _, m := range msgs {
			offsets = append(offsets, m.Offset)
		}
		assert.Equal(t, src.MessageOffsets(), offsets)
		assert.True(t, len(offsets) <= params.NMessage())

		dst := New(params, 2, 0)
		for _, m := range msgs {
			require.NoError(t, dst.Receive(m.Offset, m.Payload))
		}
		assert.Equal(t, src.Species[0].Particles.Len(), dst.Species[0].Particles.Len())
		assert.Equal(t, src.Species[0].Particles.Weight, dst.Species[0].Particles.Weight)
		assert.Equal(t, 3.5, dst.EM.Ey.At(2, 2, 0))
		assert.Equal(t, 1.25, dst.EM.Scalars.NRJLostMW)
		assert.Equal(t, 0.5, dst.Species[0].Scalars.NRJLostBC)
		assert.Error(t, dst.Receive(1000, msgs[0].Payload))
	}
}

func TestCollisions(t *testing.T) {
	{ // Test binary collisions conserve total momentum
		params := newTestParams(t, 1, [3]int{2, 1, 1}, false)
		params.Species[0].Temperature = [3]float64{0.1, 0.1, 0.1}
		params.Collisions = []*CollisionParams{{Species: []int{0}, DebyeLength: true}}
		p := New(params, 0, 0)
		p.InitParticles()
		momentum := func() (m [3]float64) {
			ps := p.Species[0].Particles
			for i := 0; i < ps.Len(); i++ {
				for c := 0; c < 3; c++ {
					m[c] += ps.Momentum[c][i]
				}
			}
			return
		}
		before := momentum()
		cs := NewColliders(params)
		require.Len(t, cs, 1)
		assert.True(t, cs[0].NeedsDebyeLength())
		p.ComputeDebyeLength()
		assert.True(t, p.DebyeLength2 > 0)
		cs[0].Collide(p, 0)
		after := momentum()
		for c := 0; c < 3; c++ {
			assert.InDelta(t, before[c], after[c], 1e-9)
		}
	}
}
