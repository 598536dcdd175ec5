// Command chunkschedctl is a demo CLI driving an in-memory voxelsched
// scheduler against the example datasource.HTTPSource, rendering each
// simulated layer's per-frame progress. Grounded on the teacher's cmd/siac layout: a cobra root command
// with subcommands, each a thin wrapper around scheduler operations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chunkschedctl",
	Short: "Drive an in-memory voxelsched chunk scheduler",
	Long: `chunkschedctl simulates a volumetric-data viewer's render loop
against an in-memory multi-resource chunk scheduler: it requests chunks at
VISIBLE/PREFETCH priorities from simulated datasources, ticks the scheduler,
and renders live per-layer progress counters.`,
}

func main() {
	rootCmd.AddCommand(simulateCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
