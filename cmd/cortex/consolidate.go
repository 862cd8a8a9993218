package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var consolidateWorkspace string

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run one consolidation pass: fold recent episodes into procedures and decay attention",
	RunE:  runConsolidate,
}

func init() {
	consolidateCmd.Flags().StringVar(&consolidateWorkspace, "workspace", "", "workspace to consolidate (required)")
	rootCmd.AddCommand(consolidateCmd)
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	if consolidateWorkspace == "" {
		return fmt.Errorf("--workspace is required")
	}

	ctx := context.Background()
	cfg := loadConfig(configPath)
	a, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize Cortex: %w", err)
	}
	defer a.stop()

	report, err := a.cognitiveMgr.Consolidate(ctx, consolidateWorkspace)
	if err != nil {
		return fmt.Errorf("consolidation failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
