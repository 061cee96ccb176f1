package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/perflab/crucible/internal/config"
	"github.com/perflab/crucible/internal/logger"
)

var (
	cfgFile      string
	flagTarget   string
	flagLogLevel string
	flagLogJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "Batched load generation and degradation analysis",
	Long: `crucible drives batched HTTP load against a message transformation
service, samples CPU, memory and connection state around each wave, and
analyzes how performance degrades across the run: throughput decay, memory
growth, connection leaks and port exhaustion.

Configuration layers, later wins: built-in defaults, the scenario file
(--config), CRUCIBLE_* environment variables, command flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "scenario file (YAML)")
	pf.StringVar(&flagTarget, "target", "", "target base URL")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&flagLogJSON, "log-json", false, "log as JSON instead of console output")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig layers defaults, the scenario file, environment overrides and
// the global flags. Command flags go on top in each command's own apply step.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := config.LoadFromFile(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)

	f := cmd.Flags()
	if f.Changed("target") {
		cfg.Target.URL = flagTarget
	}
	if f.Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogJSON {
		cfg.Log.Encoding = "json"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *zap.Logger {
	return logger.New(cfg.Log)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM, letting the
// driver drain the in-flight batch. A second signal exits immediately.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			fmt.Fprintf(os.Stderr, "\nreceived %s, draining the current batch (again to abort)\n", sig)
			cancel()
			<-sigChan
			os.Exit(1)
		case <-ctx.Done():
			signal.Stop(sigChan)
		}
	}()
	return ctx, cancel
}
