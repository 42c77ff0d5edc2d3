package InputParameters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/gopic/types"
)

var input = []byte(`
Main:
  title: "two stream"
  geometry: 1d3v
  number_of_patches: [8]
  n_space: [4]
  cell_length: [0.5]
  timestep: 0.25
  sim_time: 5
  bc_em_type: [[silver-muller, silver-muller]]
  random_seed: 3
Species:
  - species_type: electron
    mass: 1
    charge: -1
    n_part_per_cell: 4
    density:
      Type: trapezoidal
      Params: {max: 1, xvacuum: 1, xplateau: 10}
    temperature: [0.001, 0.001, 0.001]
    bc_part_type: [[supp, refl]]
    track_every: 5
  - species_type: ion
    mass: 1836
    charge: 1
    n_part_per_cell: 2
    bc_part_type: [[stop, stop]]
Lasers:
  - a0: 0.1
    omega: 1
    polarisation: y
    time_envelope: {Type: tgaussian}
Antennas:
  - field: Jz
    space_profile: {Type: constant, Params: {value: 0.5}}
    time_profile: {Type: tcosine}
MovingWindow:
  time_start: 2
  velocity_x: 0.9
LoadBalancing:
  every: 20
Collisions:
  - species: [electron, ion]
    strength: 0.1
Diagnostics:
  Scalars: {every: 2, output: scalars.txt}
  Probes:
    - every: 5
      points: [[1], [3.5]]
      fields: [Ex, Rho_electron]
  Particles:
    - output: charge_density
      every: 5
      species: [electron]
      axes:
        - {type: x, min: 0, max: 16, nbins: 8}
`)

func TestParse(t *testing.T) {
	{ // Test a complete namelist
		var ip Parameters
		require.NoError(t, ip.Parse(input))
		assert.Equal(t, "two stream", ip.Main.Title)
		assert.Equal(t, 10, ip.Main.PrintEvery)
		assert.Equal(t, 50000, ip.Main.PoissonMaxIt)
		require.Len(t, ip.Species, 2)
		assert.Equal(t, "trapezoidal", ip.Species[0].Density.Type)
		assert.Equal(t, 10., ip.Species[0].Density.Params["xplateau"])
		require.NotNil(t, ip.MovingWindow)
		assert.Equal(t, 0.9, ip.MovingWindow.VelocityX)
		require.NotNil(t, ip.LoadBalancing)
		assert.Equal(t, 20, ip.LoadBalancing.Every)
		assert.True(t, ip.LoadBalancing.InitialBalance)
		assert.Equal(t, 0.1, ip.LoadBalancing.FrozenParticleLoad)
		require.NotNil(t, ip.Diagnostics.Scalars)
		assert.Equal(t, "scalars.txt", ip.Diagnostics.Scalars.Output)
		require.NoError(t, ip.Validate())

		params, err := ip.ToParams()
		require.NoError(t, err)
		assert.Equal(t, 1, params.NDim)
		assert.Equal(t, 8, params.TotalPatches())
		assert.Equal(t, types.EMBC_SilverMuller, params.EMBC[0][types.Max])
		assert.Equal(t, types.PartBC_Refl, params.Species[0].BC[0][types.Max])
		assert.Equal(t, types.PartBC_Stop, params.Species[1].BC[0][types.Min])
		assert.Equal(t, 0., params.Species[0].Density([]float64{0.5}))
		assert.Equal(t, 1., params.Species[1].Density([]float64{0.5}))
		assert.Equal(t, 1, params.Lasers[0].Component)
		assert.Equal(t, 0.5, params.Antennas[0].Space([]float64{3}))
		assert.Equal(t, []int{0, 1}, params.Collisions[0].Species)
		assert.Equal(t, 2, params.NProbes)
	}
	{ // Test blocks left out
		var ip Parameters
		require.NoError(t, ip.Parse([]byte(`
Main:
  number_of_patches: [2, 4]
  geometry: 2d3v
  n_space: [4, 4]
  cell_length: [1, 1]
  timestep: 0.5
  bc_em_type: [[periodic, periodic], [reflective, reflective]]
`)))
		assert.Nil(t, ip.LoadBalancing)
		assert.Nil(t, ip.MovingWindow)
		assert.Nil(t, ip.Diagnostics.Scalars)
		require.NoError(t, ip.Validate())
	}
}

func TestValidate(t *testing.T) {
	broken := map[string]func(ip *Parameters){
		"patch count":       func(ip *Parameters) { ip.Main.NPatches = []int{6} },
		"geometry":          func(ip *Parameters) { ip.Main.Geometry = "4d" },
		"dimensions":        func(ip *Parameters) { ip.Main.NSpace = []int{4, 4} },
		"em bc":             func(ip *Parameters) { ip.Main.EMBC[0][0] = "open" },
		"particle bc":       func(ip *Parameters) { ip.Species[1].BC[0][1] = "bounce" },
		"periodic mismatch": func(ip *Parameters) { ip.Species[1].BC[0] = [2]string{"periodic", "periodic"} },
		"profile":           func(ip *Parameters) { ip.Species[0].Density.Type = "lorentzian" },
		"duplicate species": func(ip *Parameters) { ip.Species[1].Name = "electron" },
		"laser":             func(ip *Parameters) { ip.Lasers[0].Component = "x" },
		"antenna":           func(ip *Parameters) { ip.Antennas[0].Field = "Ex" },
		"collisions":        func(ip *Parameters) { ip.Collisions[0].Species = []string{"positron"} },
		"probe field":       func(ip *Parameters) { ip.Diagnostics.Probes[0].Fields = []string{"Psi"} },
		"histogram axis":    func(ip *Parameters) { ip.Diagnostics.Particles[0].Axes[0].Type = "w" },
		"load balancing":    func(ip *Parameters) { ip.LoadBalancing.Every = -1 },
		"periodic window": func(ip *Parameters) {
			ip.Main.EMBC[0] = [2]string{"periodic", "periodic"}
			for i := range ip.Species {
				ip.Species[i].BC[0] = [2]string{"periodic", "periodic"}
			}
		},
	}
	for name, breakIt := range broken {
		var ip Parameters
		require.NoError(t, ip.Parse(input))
		breakIt(&ip)
		assert.Error(t, ip.Validate(), name)
	}
}
