/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/notargets/gopic/InputParameters"
	"github.com/notargets/gopic/comm"
	"github.com/notargets/gopic/simulation"
)

type ModelRun struct {
	ICFile    string
	Ranks     int
	Threads   int
	Profile   string
	Scalars   string
	OutputDir string
	MaxSteps  int
}

// RunCmd represents the run command
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation described by a YAML input file",
	Long: `
Runs the simulation on -n ranks, each advancing its own patches with -t threads.
Diagnostics are written by rank 0 into the output directory.

gopic run -I input.yaml -n 4 -t 2`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		mr := &ModelRun{
			ICFile:    viper.GetString("inputParametersFile"),
			Ranks:     viper.GetInt("ranks"),
			Threads:   viper.GetInt("threads"),
			Profile:   viper.GetString("profile"),
			Scalars:   viper.GetString("scalars"),
			OutputDir: viper.GetString("outputDir"),
			MaxSteps:  viper.GetInt("steps"),
		}
		var ip *InputParameters.Parameters
		if ip, err = processInput(mr); err != nil {
			return
		}
		ip.Print()
		switch mr.Profile {
		case "":
		case "cpu":
			defer profile.Start(profile.CPUProfile, profile.ProfilePath(mr.OutputDir)).Stop()
		case "mem":
			defer profile.Start(profile.MemProfile, profile.ProfilePath(mr.OutputDir)).Stop()
		default:
			return fmt.Errorf("unknown profile %q, expected cpu or mem", mr.Profile)
		}
		var sum simulation.Summary
		if sum, err = Run(mr, ip); err != nil {
			return
		}
		fmt.Printf("%d steps, t = %g\n", sum.Steps, sum.Time)
		fmt.Printf("field energy %g, kinetic energy %v\n", sum.FieldNRJ, sum.KineticNRJ)
		fmt.Printf("energy lost %g, injected %g, window moved %g\n", sum.LostNRJ, sum.NewNRJ, sum.XMoved)
		fmt.Printf("particles %v, patches per rank %v\n", sum.NParticles, sum.PatchCounts)
		return
	},
}

func init() {
	rootCmd.AddCommand(RunCmd)
	RunCmd.Flags().StringP("inputParametersFile", "I", "", "YAML file for input parameters like:\n\t- Main (geometry, patches, timestep)\n\t- Species\n\t- Diagnostics")
	RunCmd.Flags().IntP("ranks", "n", 1, "number of ranks sharing the patches")
	RunCmd.Flags().IntP("threads", "t", 1, "threads per rank")
	RunCmd.Flags().String("profile", "", "write a cpu or mem profile into the output directory")
	RunCmd.Flags().String("scalars", "", "path of the scalars output, overrides the input file")
	RunCmd.Flags().StringP("outputDir", "o", ".", "directory for diagnostic outputs")
	RunCmd.Flags().Int("steps", 0, "stop after this many steps when positive")
	for _, name := range []string{"inputParametersFile", "ranks", "threads", "profile", "scalars", "outputDir", "steps"} {
		if err := viper.BindPFlag(name, RunCmd.Flags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func processInput(mr *ModelRun) (ip *InputParameters.Parameters, err error) {
	if len(mr.ICFile) == 0 {
		exampleFile := `
########################################
Main:
  geometry: 1d3v
  number_of_patches: [8]
  n_space: [16]
  cell_length: [0.1]
  timestep: 0.05
  sim_time: 10
  bc_em_type: [[silver-muller, silver-muller]]
Species:
  - species_type: electron
    mass: 1
    charge: -1
    n_part_per_cell: 8
    bc_part_type: [[supp, supp]]
########################################
`
		fmt.Printf("Example File:%s\n", exampleFile)
		return nil, fmt.Errorf("must supply an input parameters file (-I, --inputParametersFile)")
	}
	if mr.Ranks < 1 {
		return nil, fmt.Errorf("number of ranks must be positive, got %d", mr.Ranks)
	}
	var data []byte
	if data, err = os.ReadFile(mr.ICFile); err != nil {
		return
	}
	ip = &InputParameters.Parameters{}
	if err = ip.Parse(data); err != nil {
		return nil, fmt.Errorf("%s: %w", mr.ICFile, err)
	}
	if len(mr.Scalars) != 0 {
		if ip.Diagnostics.Scalars == nil {
			ip.Diagnostics.Scalars = &InputParameters.ScalarsParams{Every: 1}
		}
		ip.Diagnostics.Scalars.Output = mr.Scalars
	}
	if err = ip.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", mr.ICFile, err)
	}
	return
}

// Run executes the simulation on an in-process world of mr.Ranks ranks.
func Run(mr *ModelRun, ip *InputParameters.Parameters) (sum simulation.Summary, err error) {
	var files []*os.File
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	opts := simulation.Options{
		NThreads: mr.Threads,
		MaxSteps: mr.MaxSteps,
		Open: func(name string) (io.Writer, error) {
			if !filepath.IsAbs(name) {
				name = filepath.Join(mr.OutputDir, name)
			}
			f, err := os.Create(name)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
			return f, nil
		},
	}
	sums := make([]simulation.Summary, mr.Ranks)
	err = comm.Run(mr.Ranks, func(c comm.Communicator) (err error) {
		sums[c.Rank()], err = simulation.Run(c, ip, opts)
		return
	})
	return sums[0], err
}
