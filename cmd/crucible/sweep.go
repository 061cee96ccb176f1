package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/perflab/crucible/internal/bench"
	"github.com/perflab/crucible/internal/config"
	"github.com/perflab/crucible/internal/monitor"
	"github.com/perflab/crucible/internal/report"
	"github.com/perflab/crucible/internal/target"
)

var (
	sweepProfile  string
	sweepShape    string
	sweepLevels   string
	sweepThreads  string
	sweepMaxTasks string
	sweepRequests int
	sweepSettle   time.Duration
	sweepCooldown time.Duration
	sweepOut      string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Sweep concurrency configurations and rank them",
	Long: `Run the load test once per configuration point and rank the results by
throughput and p99 latency. Points come from a VM profile (--profile), a
named shape (--shape 4-core), or the cross product of --threads,
--max-tasks and --levels. Thread and task counts label how the target is
tuned; only the concurrency level changes what the engine does.`,
	RunE: runSweep,
}

func init() {
	f := sweepCmd.Flags()
	f.StringVar(&sweepProfile, "profile", "", "VM profile JSON file")
	f.StringVar(&sweepShape, "shape", "", "named VM shape: 2-core, 4-core, 8-core, 16-core")
	f.StringVar(&sweepLevels, "levels", "", "concurrency levels, e.g. 64,128,256")
	f.StringVar(&sweepThreads, "threads", "", "target thread counts, e.g. 4,8")
	f.StringVar(&sweepMaxTasks, "max-tasks", "", "target max task counts, e.g. 16,32")
	f.IntVarP(&sweepRequests, "requests", "n", 0, "requests per configuration point")
	f.DurationVar(&sweepSettle, "settle", 0, "pause before each configuration")
	f.DurationVar(&sweepCooldown, "cooldown", 0, "pause between configurations")
	f.StringVar(&sweepOut, "out", "", "directory for result artifacts")

	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("requests") {
		cfg.Run.Requests = sweepRequests
	}
	if f.Changed("out") {
		cfg.Output.Dir = sweepOut
	}
	if f.Changed("levels") {
		levels, err := config.ParseIntList(sweepLevels)
		if err != nil {
			return err
		}
		cfg.Run.SweepLevels = levels
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	ctx, cancel := signalContext()
	defer cancel()

	shape, points, err := buildSweepPoints(cfg)
	if err != nil {
		return err
	}

	auth, err := target.NewAuthenticator(target.AuthConfig{
		Mode:         cfg.Target.Auth.Mode,
		Token:        cfg.Target.Auth.Token,
		JWTSecret:    cfg.Target.Auth.JWTSecret,
		JWTSubject:   cfg.Target.Auth.JWTSubject,
		JWTTTL:       cfg.Target.Auth.JWTTTL,
		TokenURL:     cfg.Target.Auth.TokenURL,
		ClientID:     cfg.Target.Auth.ClientID,
		ClientSecret: cfg.Target.Auth.ClientSecret,
		Scopes:       cfg.Target.Auth.Scopes,
	})
	if err != nil {
		return err
	}
	client := target.New(target.Options{
		BaseURL:        cfg.Target.URL,
		TransformPath:  cfg.Target.TransformPath,
		HealthPath:     cfg.Target.HealthPath,
		SamplePath:     cfg.Target.SamplePath,
		RequestTimeout: cfg.Target.RequestTimeout,
		ConnectTimeout: cfg.Target.ConnectTimeout,
		HealthTimeout:  cfg.Target.HealthTimeout,
		ForceClose:     cfg.Target.ForceClose,
		Auth:           auth,
	}, log)

	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("target is not ready: %w", err)
	}
	if err := client.ResolvePayload(ctx); err != nil {
		return err
	}

	base := bench.DefaultConfig()
	base.Target = cfg.Target.URL
	base.Requests = cfg.Run.Requests
	base.BatchSize = cfg.Run.BatchSize
	base.Cooldown = cfg.Run.Cooldown
	base.BatchTimeout = cfg.Run.BatchTimeout
	base.RateLimit = cfg.Run.RateLimit
	base.Warmup = cfg.Run.Warmup
	base.NewClient = client.NewHTTPClient
	base.NewRequest = client.TransformRequest
	base.Monitor = monitor.New(cfg.Monitor.Interval, log)
	base.OnProgress = bench.DefaultProgress(log)
	base.Logger = log

	log.Info("sweep starting",
		zap.String("shape", shape),
		zap.Int("points", len(points)),
		zap.Int("requests_per_point", cfg.Run.Requests))

	results, err := bench.RunSweep(ctx, bench.SweepConfig{
		Base:     *base,
		Points:   points,
		Settle:   sweepSettle,
		Cooldown: sweepCooldown,
	}, log)
	if err != nil && len(results) == 0 {
		return err
	}
	if err != nil {
		log.Warn("sweep ended early, reporting completed points", zap.Error(err))
	}

	rec := report.BuildSweep(shape, results)
	fmt.Println(report.RenderSweep(rec))

	if path, err := report.SaveSweep(cfg.Output.Dir, rec); err != nil {
		log.Error("save sweep results", zap.Error(err))
	} else {
		log.Info("sweep results saved", zap.String("path", path))
	}
	return nil
}

// buildSweepPoints resolves the test matrix from profile, shape or flag
// lists, in that order of preference.
func buildSweepPoints(cfg *config.Config) (string, []bench.Point, error) {
	if sweepProfile != "" {
		profile, err := config.LoadProfile(sweepProfile)
		if err != nil {
			return "", nil, err
		}
		points := bench.BuildPoints("", profile.ThreadCounts, profile.MaxConcurrentTasks, cfg.Run.SweepLevels)
		return profile.AzureSKU, points, nil
	}

	if sweepShape != "" {
		switch sweepShape {
		case "2-core", "4-core", "8-core", "16-core":
		default:
			return "", nil, fmt.Errorf("unknown shape %q: expected 2-core, 4-core, 8-core or 16-core", sweepShape)
		}
		return sweepShape, bench.BuildPoints(sweepShape, nil, nil, nil), nil
	}

	var threads, tasks []int
	if sweepThreads != "" {
		parsed, err := config.ParseIntList(sweepThreads)
		if err != nil {
			return "", nil, err
		}
		threads = parsed
	}
	if sweepMaxTasks != "" {
		parsed, err := config.ParseIntList(sweepMaxTasks)
		if err != nil {
			return "", nil, err
		}
		tasks = parsed
	}
	return "", bench.BuildPoints("", threads, tasks, cfg.Run.SweepLevels), nil
}
