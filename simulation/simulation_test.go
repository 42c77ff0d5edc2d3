package simulation

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/gopic/InputParameters"
	"github.com/notargets/gopic/comm"
)

var input = []byte(`
Main:
  geometry: 1d3v
  number_of_patches: [8]
  n_space: [4]
  cell_length: [1]
  timestep: 0.5
  sim_time: 5
  bc_em_type: [[silver-muller, silver-muller]]
  print_every: 5
Species:
  - species_type: electron
    mass: 1
    charge: -1
    n_part_per_cell: 4
    temperature: [0.01, 0.01, 0.01]
    bc_part_type: [[supp, supp]]
    track_every: 5
  - species_type: ion
    mass: 100
    charge: 1
    n_part_per_cell: 2
    bc_part_type: [[supp, supp]]
MovingWindow:
  time_start: 1
  velocity_x: 1
LoadBalancing:
  every: 4
Diagnostics:
  Scalars: {every: 2}
  Probes:
    - every: 5
      points: [[2], [20]]
      fields: [Ex, Rho]
  Particles:
    - output: density
      every: 5
      species: [electron]
      axes:
        - {type: x, min: 0, max: 40, nbins: 10}
`)

func run(t *testing.T, nRanks int) (sums []Summary, outputs map[string]*bytes.Buffer) {
	var ip InputParameters.Parameters
	require.NoError(t, ip.Parse(input))
	sums = make([]Summary, nRanks)
	outputs = make(map[string]*bytes.Buffer)
	opts := Options{
		NThreads: 2,
		Open: func(name string) (io.Writer, error) {
			b := new(bytes.Buffer)
			outputs[name] = b
			return b, nil
		},
	}
	err := comm.Run(nRanks, func(c comm.Communicator) (err error) {
		sums[c.Rank()], err = Run(c, &ip, opts)
		return
	})
	require.NoError(t, err)
	return
}

func TestRun(t *testing.T) {
	serial, outputs := run(t, 1)
	ref := serial[0]
	{ // Test the serial run
		assert.Equal(t, 10, ref.Steps)
		assert.Equal(t, 5., ref.Time)
		assert.Equal(t, 4., ref.XMoved)
		assert.Equal(t, []int{8}, ref.PatchCounts)
		require.Len(t, ref.NParticles, 2)
		assert.Greater(t, ref.NParticles[0], 0)
		assert.Greater(t, ref.LostNRJ, 0.)
		assert.Greater(t, ref.NewNRJ, 0.)
		assert.Contains(t, outputs, "scalars.txt")
		assert.Contains(t, outputs, "probe0.txt")
		assert.Contains(t, outputs, "particles0.txt")
		assert.Contains(t, outputs, "track_electron.txt")
		lines := strings.Split(strings.TrimSpace(outputs["scalars.txt"].String()), "\n")
		assert.Len(t, lines, 1+5)
		assert.Contains(t, lines[0], "Ubal")
	}
	for _, nRanks := range []int{2, 3} {
		// Test the decomposition does not change the physics
		sums, _ := run(t, nRanks)
		for _, s := range sums {
			assert.Equal(t, sums[0], s)
		}
		s := sums[0]
		assert.Len(t, s.PatchCounts, nRanks)
		var total int
		for _, n := range s.PatchCounts {
			assert.Greater(t, n, 0)
			total += n
		}
		assert.Equal(t, 8, total)
		assert.Equal(t, ref.NParticles, s.NParticles)
		assert.Equal(t, ref.XMoved, s.XMoved)
		assert.InEpsilon(t, ref.FieldNRJ, s.FieldNRJ, 1e-8)
		assert.InEpsilonSlice(t, ref.KineticNRJ, s.KineticNRJ, 1e-8)
		assert.InEpsilon(t, ref.LostNRJ, s.LostNRJ, 1e-8)
		assert.InEpsilon(t, ref.NewNRJ, s.NewNRJ, 1e-8)
	}
	{ // Test configuration errors come back before any step
		var ip InputParameters.Parameters
		require.NoError(t, ip.Parse(input))
		ip.Main.NPatches = []int{2}
		err := comm.Run(4, func(c comm.Communicator) error {
			_, err := Run(c, &ip, Options{})
			return err
		})
		assert.Error(t, err)
	}
}
