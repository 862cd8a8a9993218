package main

import "github.com/spf13/cobra"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cortex",
	Short: "Cortex - a cognitive memory and coordination substrate for autonomous coding agents",
	Long: `Cortex stores the shared code-knowledge graph multiple coding agents read
from and mutate, coordinates concurrent work through copy-on-write
sessions and an entity lock manager, and reconciles divergent sessions
with a three-way semantic merge.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "cortex.yaml", "path to the Cortex config file")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
