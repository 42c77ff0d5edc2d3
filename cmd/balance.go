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
	"os"

	"github.com/ghodss/yaml"
	"github.com/spf13/cobra"

	"github.com/notargets/gopic/balance"
	"github.com/notargets/gopic/ownership"
)

// BalanceInput is a snapshot of the patch loads under an ownership map.
type BalanceInput struct {
	Counts []int     `json:"counts"` // patches per rank
	Loads  []float64 `json:"loads"`  // one per patch, in Hilbert order
}

// BalanceCmd represents the balance command
var BalanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Recompute an ownership map from measured patch loads",
	Long: `
Reads the patches per rank and the load of every patch, then prints the
ownership map the load balancer would choose and the patches moving between
ranks.

gopic balance -L loads.yaml`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var (
			file string
			data []byte
			bi   BalanceInput
		)
		if file, err = cmd.Flags().GetString("loadsFile"); err != nil {
			return
		}
		if len(file) == 0 {
			return fmt.Errorf("must supply a loads file (-L, --loadsFile) with counts: [...] and loads: [...]")
		}
		if data, err = os.ReadFile(file); err != nil {
			return
		}
		if err = yaml.Unmarshal(data, &bi); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		var report string
		if report, err = Balance(bi); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		fmt.Print(report)
		return
	},
}

func init() {
	rootCmd.AddCommand(BalanceCmd)
	BalanceCmd.Flags().StringP("loadsFile", "L", "", "YAML file with the patches per rank (counts) and the load of every patch (loads)")
}

// Balance returns the report of one rebalancing of bi.
func Balance(bi BalanceInput) (report string, err error) {
	if len(bi.Counts) == 0 {
		return "", fmt.Errorf("no ranks given")
	}
	var total int
	for r, n := range bi.Counts {
		if n < 1 {
			return "", fmt.Errorf("rank %d owns %d patches, every rank needs at least one", r, n)
		}
		total += n
	}
	if total != len(bi.Loads) {
		return "", fmt.Errorf("%d loads given for %d patches", len(bi.Loads), total)
	}
	var (
		old       = ownership.New(bi.Counts, 0)
		next      = balance.Repartition(bi.Loads, old)
		_, before = balance.Imbalance(bi.Loads, old)
		_, after  = balance.Imbalance(bi.Loads, next)
	)
	report = fmt.Sprintf("old: %s\nnew: %s\nimbalance (max/mean): %.3f -> %.3f\n%s\n",
		old, next, before, after, balance.TrafficReport(old, next))
	return
}
