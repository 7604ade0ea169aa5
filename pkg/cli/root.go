package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "printmesh",
	Short: "Decentralized mutual exclusion for a shared print service",
	Long: `printmesh runs a mesh of symmetric peer nodes that coordinate
exclusive access to a shared print service using the Ricart-Agrawala
protocol over Lamport clocks. No central coordinator: every node asks
every other node for permission and defers replies while it holds (or
has priority for) the printer.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
