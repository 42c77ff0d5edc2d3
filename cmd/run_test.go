package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	fileInput := []byte(`
Main:
  title: Test Case
  geometry: 1d3v
  number_of_patches: [4]
  n_space: [4]
  cell_length: [1]
  timestep: 0.5
  sim_time: 2
  bc_em_type: [[silver-muller, silver-muller]]
Species:
  - species_type: electron
    mass: 1
    charge: -1
    n_part_per_cell: 2
    bc_part_type: [[supp, supp]]
LoadBalancing:
  every: 2
`)
	dir := t.TempDir()
	icFile := filepath.Join(dir, "input.yaml")
	require.NoError(t, os.WriteFile(icFile, fileInput, 0644))
	{ // Test missing input file
		_, err := processInput(&ModelRun{Ranks: 1})
		assert.Error(t, err)
	}
	{ // Test bad rank count
		_, err := processInput(&ModelRun{ICFile: icFile})
		assert.Error(t, err)
	}
	{ // Test a two rank run writing the scalars requested on the command line
		mr := &ModelRun{ICFile: icFile, Ranks: 2, Threads: 1, Scalars: "energies.txt", OutputDir: dir}
		ip, err := processInput(mr)
		require.NoError(t, err)
		assert.Equal(t, "Test Case", ip.Main.Title)
		require.NotNil(t, ip.Diagnostics.Scalars)
		assert.Equal(t, 1, ip.Diagnostics.Scalars.Every)
		sum, err := Run(mr, ip)
		require.NoError(t, err)
		assert.Equal(t, 4, sum.Steps)
		assert.Equal(t, []int{4 * 4 * 2}, sum.NParticles[:1])
		assert.Len(t, sum.PatchCounts, 2)
		data, err := os.ReadFile(filepath.Join(dir, "energies.txt"))
		require.NoError(t, err)
		assert.Contains(t, string(data), "Utot")
	}
}

func TestBalance(t *testing.T) {
	{ // Test a heavy tail moves patches toward the low ranks
		report, err := Balance(BalanceInput{
			Counts: []int{3, 3, 2},
			Loads:  []float64{1, 1, 1, 1, 1, 1, 10, 10},
		})
		require.NoError(t, err)
		assert.Contains(t, report, "old: v0 [3 3 2]")
		assert.Contains(t, report, "rank 2 -> rank 1")
	}
	{ // Test inconsistent input
		_, err := Balance(BalanceInput{Counts: []int{2, 2}, Loads: []float64{1, 2, 3}})
		assert.Error(t, err)
		_, err = Balance(BalanceInput{Counts: []int{4, 0}, Loads: []float64{1, 2, 3, 4}})
		assert.Error(t, err)
		_, err = Balance(BalanceInput{})
		assert.Error(t, err)
	}
}
