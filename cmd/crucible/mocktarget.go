package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/perflab/crucible/internal/mocktarget"
)

var (
	mockAddr           string
	mockBaseLatency    time.Duration
	mockJitter         time.Duration
	mockFailureRate    float64
	mockSlowdownAfter  int64
	mockSlowdownFactor float64
)

var mockTargetCmd = &cobra.Command{
	Use:   "mock-target",
	Short: "Serve a simulated transformation target",
	Long: `Run a stand-in transformation service for exercising the load engine
without a real backend. Latency, failure rate and deliberate degradation
after a request count are all adjustable, so analysis findings can be
provoked on purpose.`,
	RunE: runMockTarget,
}

func init() {
	f := mockTargetCmd.Flags()
	f.StringVar(&mockAddr, "addr", ":3000", "listen address")
	f.DurationVar(&mockBaseLatency, "base-latency", 10*time.Millisecond, "service time per transform")
	f.DurationVar(&mockJitter, "jitter", 5*time.Millisecond, "random latency added on top, 0..jitter")
	f.Float64Var(&mockFailureRate, "failure-rate", 0, "fraction of transforms answered with 500")
	f.Int64Var(&mockSlowdownAfter, "slowdown-after", 0, "requests served before latency degrades (0 disables)")
	f.Float64Var(&mockSlowdownFactor, "slowdown-factor", 3, "latency multiplier once degraded")

	rootCmd.AddCommand(mockTargetCmd)
}

func runMockTarget(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	ctx, cancel := signalContext()
	defer cancel()

	srv := mocktarget.New(mockAddr, mocktarget.Options{
		BaseLatency:    mockBaseLatency,
		Jitter:         mockJitter,
		FailureRate:    mockFailureRate,
		SlowdownAfter:  mockSlowdownAfter,
		SlowdownFactor: mockSlowdownFactor,
	}, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	log.Info("mock target stopped")
	return nil
}
