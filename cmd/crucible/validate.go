package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perflab/crucible/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate [profile.json ...]",
	Short: "Check the scenario configuration and hardware profiles",
	Long: `Validate the effective configuration (file, environment and flags layered
together) without running anything. Positional arguments are hardware
profile files checked against the profile schema.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	fmt.Printf("configuration ok: %d requests, concurrency %d, batches of %d against %s\n",
		cfg.Run.Requests, cfg.Run.Concurrency, cfg.Run.BatchSize, cfg.Target.URL)

	for _, path := range args {
		profile, err := config.LoadProfile(path)
		if err != nil {
			return err
		}
		fmt.Printf("profile ok: %s (%s, %d vCPUs, %.0f GB, %d sweep points)\n",
			profile.Name, profile.AzureSKU, profile.VCPUs, profile.MemoryGB,
			len(profile.ThreadCounts)*len(profile.MaxConcurrentTasks))
	}
	return nil
}
