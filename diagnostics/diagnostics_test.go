package diagnostics

import (
	"bytes"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/gopic/comm"
	"github.com/notargets/gopic/ownership"
	"github.com/notargets/gopic/patch"
	"github.com/notargets/gopic/types"
	"github.com/notargets/gopic/utils"
)

func newParams(t *testing.T) *patch.Params {
	p := &patch.Params{
		NDim:       1,
		NPatches:   [3]int{4, 1, 1},
		NSpace:     [3]int{4, 1, 1},
		CellLength: [3]float64{1, 1, 1},
		Timestep:   0.5,
		EMBC:       [3][2]types.EMBC{{types.EMBC_Periodic, types.EMBC_Periodic}},
		Species: []*patch.SpeciesParams{
			{Name: "electron", Mass: 1, Charge: -1},
			{Name: "ion", Mass: 100, Charge: 1},
		},
	}
	require.NoError(t, p.Init())
	return p
}

func localPatches(params *patch.Params, c comm.Communicator) (patches []*patch.Patch) {
	own := ownership.New(utils.NewPartitionMap(c.Size(), params.TotalPatches()).Counts(), 0)
	for h := own.Start(c.Rank()); h < own.End(c.Rank()); h++ {
		p := patch.New(params, h, 0)
		p.UpdateMPIenv(own)
		patches = append(patches, p)
	}
	return
}

// one electron at rest in the middle of every patch, plus one moving ion
func populate(patches []*patch.Patch) {
	for _, p := range patches {
		x := 0.5 * (p.Min(0) + p.Max(0))
		p.Species[0].Particles.Push([]float64{x}, [3]float64{}, 2, -1, 0, 0)
		p.Species[1].Particles.Push([]float64{x}, [3]float64{0.5, 0, 0}, 1, 1, 0, 0)
	}
}

func TestScalars(t *testing.T) {
	params := newParams(t)
	var buf bytes.Buffer
	uKin := 100 * (math.Sqrt(1.25) - 1) * 4
	err := comm.Run(2, func(c comm.Communicator) error {
		patches := localPatches(params, c)
		populate(patches)
		var w io.Writer
		if c.Rank() == 0 {
			w = &buf
		}
		s := NewScalars(params, 5, w)
		assert.False(t, s.Prepare(3))
		assert.True(t, s.Prepare(5))
		if err := s.Run(0, patches, c); err != nil {
			return err
		}
		v, ok := s.Value("Ukin_ion")
		assert.True(t, ok)
		assert.InDelta(t, uKin, v, 1e-12)
		v, _ = s.Value("Ntot_electron")
		assert.Equal(t, 4., v)
		v, _ = s.Value("Ubal")
		assert.Equal(t, 0., v)
		// remove one ion and book its energy as lost: the balance holds
		for _, p := range patches {
			if p.Hindex == 0 {
				sp := p.Species[1]
				sp.Scalars.NRJLostBC += 100 * (math.Sqrt(1.25) - 1)
				sp.Particles.Remove(0)
			}
		}
		if err := s.Run(5, patches, c); err != nil {
			return err
		}
		v, _ = s.Value("Ubal")
		assert.InDelta(t, 0, v, 1e-12)
		v, _ = s.Value("Ntot_ion")
		assert.Equal(t, 3., v)
		// field energy entering through Xmin is booked as a negative outflow
		for _, p := range patches {
			if p.Hindex == 1 {
				p.EM.Ex.Set(2, 0, 0, 2)
			}
			if p.IsXmin() {
				p.EM.Scalars.Poynting[0][0] -= 2 * params.CellVolume()
			}
		}
		if err := s.Run(5, patches, c); err != nil {
			return err
		}
		v, _ = s.Value("Uelm")
		assert.InDelta(t, 2, v, 1e-12)
		v, _ = s.Value("Poynting")
		assert.InDelta(t, -2, v, 1e-12)
		v, _ = s.Value("Ubal")
		assert.InDelta(t, 0, v, 1e-12)
		_, ok = s.Value("nothing")
		assert.False(t, ok)
		return s.Write(5)
	})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "#step\tUtot"))
	assert.True(t, strings.HasPrefix(lines[1], "5\t"))
}

func TestProbes(t *testing.T) {
	params := newParams(t)
	{ // Test unknown fields are rejected
		_, err := NewProbes(params, 1, [][]float64{{1}}, []string{"Ex", "Foo"}, nil)
		assert.Error(t, err)
		_, err = NewProbes(params, 1, [][]float64{{1, 2}}, nil, nil)
		assert.Error(t, err)
		pr, err := NewProbes(params, 2, [][]float64{{1}}, []string{"Rho_ion"}, nil)
		require.NoError(t, err)
		assert.True(t, pr.NeedsRhoJs(2))
		assert.False(t, pr.NeedsRhoJs(3))
	}
	{ // Test sampling across ranks, and after the window moved
		err := comm.Run(2, func(c comm.Communicator) error {
			patches := localPatches(params, c)
			for _, p := range patches {
				for i := range p.EM.Ey.Data {
					p.EM.Ey.Data[i] = float64(p.Hindex)
				}
			}
			pr, err := NewProbes(params, 1, [][]float64{{1}, {9.2}, {15.6}}, []string{"Ey", "Bz"}, nil)
			if err != nil {
				return err
			}
			require.NoError(t, pr.Run(0, patches, c))
			assert.Equal(t, []float64{0, 0, 2, 0, 3, 0}, pr.Last())
			pr.MoveProbes(4)
			assert.Equal(t, []float64{5}, pr.Position(0))
			require.NoError(t, pr.Run(1, patches, c))
			// the last point left the box
			assert.Equal(t, []float64{1, 0, 3, 0, 0, 0}, pr.Last())
			return nil
		})
		require.NoError(t, err)
	}
}

func TestParticleBinning(t *testing.T) {
	params := newParams(t)
	{ // Test configuration errors
		cfg := ParticlesConfig{
			Output:  "density",
			Every:   1,
			Species: []string{"electron"},
			Axes:    []AxisConfig{{Type: "x", Min: 0, Max: 16, NBins: 4}},
		}
		_, err := NewParticleBinning(params, cfg, nil)
		assert.NoError(t, err)
		bad := cfg
		bad.Output = "mass_density"
		_, err = NewParticleBinning(params, bad, nil)
		assert.Error(t, err)
		bad = cfg
		bad.Axes = []AxisConfig{{Type: "y", Min: 0, Max: 1, NBins: 1}}
		_, err = NewParticleBinning(params, bad, nil)
		assert.Error(t, err)
		bad.Axes = []AxisConfig{{Type: "x", Min: 0, Max: 1, NBins: 1, Keywords: []string{"wrap"}}}
		_, err = NewParticleBinning(params, bad, nil)
		assert.Error(t, err)
		bad = cfg
		bad.Species = []string{"positron"}
		_, err = NewParticleBinning(params, bad, nil)
		assert.Error(t, err)
		bad = cfg
		bad.TimeAverage = 2
		_, err = NewParticleBinning(params, bad, nil)
		assert.Error(t, err)
	}
	{ // Test density and charge density histograms summed over ranks
		err := comm.Run(2, func(c comm.Communicator) error {
			patches := localPatches(params, c)
			populate(patches)
			pb, err := NewParticleBinning(params, ParticlesConfig{
				Output:  "charge_density",
				Every:   2,
				Species: []string{"electron", "ion"},
				Axes:    []AxisConfig{{Type: "x", Min: 0, Max: 16, NBins: 4}},
			}, nil)
			if err != nil {
				return err
			}
			require.NoError(t, pb.Run(0, patches, c))
			assert.Equal(t, []float64{-1, -1, -1, -1}, pb.Histogram())

			pb, err = NewParticleBinning(params, ParticlesConfig{
				Output:      "density",
				Every:       4,
				TimeAverage: 2,
				Species:     []string{"ion"},
				Axes: []AxisConfig{
					{Type: "x", Min: 0, Max: 8, NBins: 2},
					{Type: "px", Min: 1, Max: 100, NBins: 2, Keywords: []string{"log", "edges"}},
				},
			}, nil)
			if err != nil {
				return err
			}
			assert.Equal(t, 4, pb.Size())
			assert.True(t, pb.Prepare(1))
			assert.False(t, pb.Prepare(2))
			require.NoError(t, pb.Run(0, patches, c))
			assert.Nil(t, pb.Histogram())
			require.NoError(t, pb.Run(1, patches, c))
			// px = 50 lands in the upper log bin, ions beyond x=8 are dropped
			assert.Equal(t, []float64{0, 1, 0, 1}, pb.Histogram())
			return nil
		})
		require.NoError(t, err)
	}
	{ // Test bins
		a := &axis{AxisConfig: AxisConfig{Min: 0, Max: 10, NBins: 5}}
		assert.Equal(t, 0, a.bin(0))
		assert.Equal(t, 4, a.bin(9.99))
		assert.Equal(t, -1, a.bin(10))
		assert.Equal(t, -1, a.bin(-0.1))
		a.edgeInclusive = true
		assert.Equal(t, 4, a.bin(10))
		assert.Equal(t, 0, a.bin(-3))
		a.logscale = true
		a.Min = 1
		assert.Equal(t, 0, a.bin(0))
		assert.Equal(t, -1, a.bin(math.NaN()))
	}
}

func TestTrack(t *testing.T) {
	params := newParams(t)
	_, err := NewTrack(params, 5, 1, nil)
	assert.Error(t, err)
	ids := make([][]uint64, 3)
	err = comm.Run(3, func(c comm.Communicator) error {
		patches := localPatches(params, c)
		populate(patches)
		tr, err := NewTrack(params, 0, 2, nil)
		if err != nil {
			return err
		}
		require.NoError(t, tr.Run(0, patches, c))
		require.Len(t, tr.Records(), 4)
		// particles created later get fresh IDs
		if c.Rank() == 2 {
			patches[0].Species[0].Particles.Push([]float64{15}, [3]float64{}, 1, -1, 0, 0)
		}
		require.NoError(t, tr.Run(2, patches, c))
		for _, r := range tr.Records() {
			ids[c.Rank()] = append(ids[c.Rank()], r.ID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, ids[0])
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[0], ids[2])
}
