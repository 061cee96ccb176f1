package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perflab/crucible/internal/analysis"
	"github.com/perflab/crucible/internal/report"
)

var (
	analyzeDegradationPct float64
	analyzeMemoryLeakMB   float64
	analyzeConnLeak       int
	analyzeTimeWaitLimit  int
	analyzeMidDropPct     float64
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <result.json>",
	Short: "Re-run degradation analysis over a saved result",
	Long: `Load a saved run record and re-run the cross-batch analysis, optionally
with different thresholds than the original run used. The record on disk
is left untouched; the refreshed report is printed to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.Float64Var(&analyzeDegradationPct, "degradation-pct", 0, "throughput drop considered significant (percent)")
	f.Float64Var(&analyzeMemoryLeakMB, "memory-leak-mb", 0, "memory growth flagged as a leak (MB)")
	f.IntVar(&analyzeConnLeak, "conn-leak", 0, "connection growth flagged as a leak")
	f.IntVar(&analyzeTimeWaitLimit, "time-wait-limit", 0, "TIME_WAIT count flagged as churn")
	f.Float64Var(&analyzeMidDropPct, "mid-drop-pct", 0, "mid-run drop separating sudden from gradual (percent)")

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	rec, err := report.Load(args[0])
	if err != nil {
		return err
	}

	ac := analysis.Config{
		DegradationPct:   cfg.Analysis.DegradationPct,
		MemoryLeakMB:     cfg.Analysis.MemoryLeakMB,
		ConnLeakCount:    cfg.Analysis.ConnLeakCount,
		TimeWaitLimit:    cfg.Analysis.TimeWaitLimit,
		MidRunDropFactor: cfg.Analysis.MidRunDropPct / 100,
	}
	f := cmd.Flags()
	if f.Changed("degradation-pct") {
		ac.DegradationPct = analyzeDegradationPct
	}
	if f.Changed("memory-leak-mb") {
		ac.MemoryLeakMB = analyzeMemoryLeakMB
	}
	if f.Changed("conn-leak") {
		ac.ConnLeakCount = analyzeConnLeak
	}
	if f.Changed("time-wait-limit") {
		ac.TimeWaitLimit = analyzeTimeWaitLimit
	}
	if f.Changed("mid-drop-pct") {
		ac.MidRunDropFactor = analyzeMidDropPct / 100
	}

	rec.Analysis = analysis.New(&ac).Analyze(rec.BatchMetrics())
	rec.DegradationPct = rec.Analysis.DegradationPct

	fmt.Println(report.Render(rec))
	return nil
}
