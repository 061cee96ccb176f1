package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/perflab/crucible/internal/analysis"
	"github.com/perflab/crucible/internal/archive"
	"github.com/perflab/crucible/internal/bench"
	"github.com/perflab/crucible/internal/config"
	"github.com/perflab/crucible/internal/conns"
	"github.com/perflab/crucible/internal/history"
	"github.com/perflab/crucible/internal/metrics"
	"github.com/perflab/crucible/internal/monitor"
	"github.com/perflab/crucible/internal/report"
	"github.com/perflab/crucible/internal/target"
	"github.com/perflab/crucible/internal/tuner"
	"github.com/perflab/crucible/internal/watch"
)

var (
	runRequests     int
	runConcurrency  int
	runBatchSize    int
	runCooldown     time.Duration
	runBatchTimeout time.Duration
	runRateLimit    float64
	runNoWarmup     bool
	runForceClose   bool
	runOut          string
	runCSV          bool
	runOutcomes     bool
	runArchiveFlag  bool
	runS3Bucket     string
	runMetricsAddr  string
	runTune         bool
	runSudo         bool
	runWatch        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batched load test against the target",
	Long: `Run the configured load: ceil(requests/batch-size) sequential waves at the
given concurrency bound, with resource sampling around each wave, cooldown
between waves and cross-batch degradation analysis at the end.

The target must answer its health endpoint before any load is sent.`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.IntVarP(&runRequests, "requests", "n", 0, "total requests to send")
	f.IntVar(&runConcurrency, "concurrency", 0, "concurrent requests bound")
	f.IntVar(&runBatchSize, "batch-size", 0, "requests per wave")
	f.DurationVar(&runCooldown, "cooldown", 0, "pause between waves")
	f.DurationVar(&runBatchTimeout, "batch-timeout", 0, "abort a wave after this long (0 = no limit)")
	f.Float64Var(&runRateLimit, "rate-limit", 0, "cap dispatch at this many req/s (0 = unlimited)")
	f.BoolVar(&runNoWarmup, "no-warmup", false, "skip the unrecorded warmup requests")
	f.BoolVar(&runForceClose, "force-close", false, "close connections after every request")
	f.StringVar(&runOut, "out", "", "directory for result artifacts")
	f.BoolVar(&runCSV, "csv", false, "also export per-batch CSV")
	f.BoolVar(&runOutcomes, "outcomes", false, "stream raw per-request outcomes to a compressed file")
	f.BoolVar(&runArchiveFlag, "archive", false, "bundle result artifacts into a tar.zst")
	f.StringVar(&runS3Bucket, "s3-bucket", "", "upload artifacts to this S3 bucket")
	f.StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics and live status on this address")
	f.BoolVar(&runTune, "tune", false, "apply kernel tuning before the run")
	f.BoolVar(&runSudo, "sudo", false, "prefix tuning commands with sudo")
	f.BoolVar(&runWatch, "watch", false, "re-run whenever the scenario file changes")

	rootCmd.AddCommand(runCmd)
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("requests") {
		cfg.Run.Requests = runRequests
	}
	if f.Changed("concurrency") {
		cfg.Run.Concurrency = runConcurrency
	}
	if f.Changed("batch-size") {
		cfg.Run.BatchSize = runBatchSize
	}
	if f.Changed("cooldown") {
		cfg.Run.Cooldown = runCooldown
	}
	if f.Changed("batch-timeout") {
		cfg.Run.BatchTimeout = runBatchTimeout
	}
	if f.Changed("rate-limit") {
		cfg.Run.RateLimit = runRateLimit
	}
	if runNoWarmup {
		cfg.Run.Warmup = false
	}
	if f.Changed("force-close") {
		cfg.Target.ForceClose = runForceClose
	}
	if f.Changed("out") {
		cfg.Output.Dir = runOut
	}
	if f.Changed("csv") {
		cfg.Output.CSV = runCSV
	}
	if f.Changed("outcomes") {
		cfg.Output.Outcomes = runOutcomes
	}
	if f.Changed("archive") {
		cfg.Output.Archive = runArchiveFlag
	}
	if f.Changed("s3-bucket") {
		cfg.Output.S3Bucket = runS3Bucket
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = runMetricsAddr
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	ctx, cancel := signalContext()
	defer cancel()

	if runTune {
		tuneLocalHost(ctx, runSudo, log)
	}

	if runWatch {
		return watchLoop(ctx, cmd, cfg, log)
	}

	_, err = executeRun(ctx, cfg, log)
	return err
}

// watchLoop runs the scenario, then re-runs it on every saved change until
// interrupted. Edits that fail to load keep the previous scenario active.
func watchLoop(ctx context.Context, cmd *cobra.Command, cfg *config.Config, log *zap.Logger) error {
	if cfgFile == "" {
		return fmt.Errorf("--watch needs --config: there is no scenario file to watch")
	}
	w, err := watch.New(cfgFile, 0, log)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	w.Start()

	for {
		if _, err := executeRun(ctx, cfg, log); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("run failed", zap.Error(err))
		}
		log.Info("watching scenario", zap.String("path", w.Path()))

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-w.Changes():
			}
			fresh, err := loadConfig(cmd)
			if err == nil {
				applyRunFlags(cmd, fresh)
				err = fresh.Validate()
			}
			if err != nil {
				log.Error("scenario reload failed, keeping the previous one", zap.Error(err))
				continue
			}
			cfg = fresh
			break
		}
		log.Info("scenario changed, rerunning")
	}
}

// executeRun wires one complete run: target negotiation, the batch driver
// with its observers, and result persistence.
func executeRun(ctx context.Context, cfg *config.Config, log *zap.Logger) (*report.RunRecord, error) {
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
		return nil, err
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
		return nil, fmt.Errorf("target is not ready: %w", err)
	}
	if err := client.ResolvePayload(ctx); err != nil {
		return nil, err
	}

	benchCfg := bench.DefaultConfig()
	benchCfg.Target = cfg.Target.URL
	benchCfg.Requests = cfg.Run.Requests
	benchCfg.Concurrency = cfg.Run.Concurrency
	benchCfg.BatchSize = cfg.Run.BatchSize
	benchCfg.Cooldown = cfg.Run.Cooldown
	benchCfg.BatchTimeout = cfg.Run.BatchTimeout
	benchCfg.RateLimit = cfg.Run.RateLimit
	benchCfg.Warmup = cfg.Run.Warmup
	benchCfg.NewClient = client.NewHTTPClient
	benchCfg.NewRequest = client.TransformRequest
	benchCfg.Monitor = monitor.New(cfg.Monitor.Interval, log)
	benchCfg.Inspector = newInspector(cfg.Target.URL, log)
	benchCfg.Analyzer = analysis.New(&analysis.Config{
		DegradationPct:   cfg.Analysis.DegradationPct,
		MemoryLeakMB:     cfg.Analysis.MemoryLeakMB,
		ConnLeakCount:    cfg.Analysis.ConnLeakCount,
		TimeWaitLimit:    cfg.Analysis.TimeWaitLimit,
		MidRunDropFactor: cfg.Analysis.MidRunDropPct / 100,
	})
	benchCfg.Logger = log

	var m *metrics.Metrics
	var msrv *metrics.Server
	if cfg.Metrics.Enabled {
		m = metrics.New()
		msrv = metrics.NewServer(cfg.Metrics.Addr, m, log)
		go func() {
			if err := msrv.Start(); err != nil {
				log.Warn("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = msrv.Shutdown(sctx)
		}()
		phase := metrics.PhaseRunning
		if cfg.Run.Warmup {
			phase = metrics.PhaseWarmup
		}
		msrv.SetStatus(metrics.Status{Phase: phase, Total: cfg.Run.Requests})
		log.Info("metrics server listening", zap.String("addr", cfg.Metrics.Addr))
	}

	var outcomes *archive.OutcomeWriter
	if cfg.Output.Outcomes {
		if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
		path := filepath.Join(cfg.Output.Dir,
			fmt.Sprintf("crucible_outcomes_%s.ndjson.sz", time.Now().Format("20060102_150405")))
		ow, err := archive.NewOutcomeWriter(path)
		if err != nil {
			log.Warn("outcome stream disabled", zap.Error(err))
		} else {
			outcomes = ow
			log.Info("streaming outcomes", zap.String("path", path))
		}
	}
	defer func() {
		if outcomes != nil {
			_ = outcomes.Close()
		}
	}()

	// Outcomes arrive while a batch runs; completed batches index the current one.
	var batchesDone atomic.Int64

	benchCfg.OnOutcome = func(out bench.Outcome) {
		if m != nil {
			kind := metrics.KindSuccess
			if !out.Success {
				kind = string(out.Kind)
			}
			m.RecordOutcome(kind, out.Latency.Seconds())
		}
		if outcomes != nil {
			rec := archive.Record{
				Timestamp: time.Now(),
				Batch:     int(batchesDone.Load()),
				LatencyMS: float64(out.Latency) / float64(time.Millisecond),
				Success:   out.Success,
				Status:    out.Status,
				Bytes:     out.BytesRead,
			}
			if !out.Success {
				rec.Kind = string(out.Kind)
			}
			if err := outcomes.Write(rec); err != nil {
				log.Debug("outcome write failed", zap.Error(err))
			}
		}
	}
	benchCfg.OnBatch = func(br bench.BatchResult) {
		batchesDone.Add(1)
		if m != nil {
			m.RecordBatch(br.Stats.Throughput, br.Stats.SuccessRate,
				br.Resources.PeakCPU, br.Resources.PeakMemoryMB)
		}
	}
	// The progress callback closes over the driver so it can publish the
	// in-flight gauge; the driver exists only after New consumes the config.
	var driver *bench.Driver
	progressLog := bench.DefaultProgress(log)
	benchCfg.OnProgress = func(p bench.Progress) {
		progressLog(p)
		if m != nil && driver != nil {
			m.SetInflight(driver.Inflight())
		}
		if msrv != nil {
			msrv.SetStatus(metrics.Status{
				Phase:     metrics.PhaseRunning,
				Batch:     p.Batch + 1,
				Batches:   p.Batches,
				Completed: p.Completed,
				Total:     p.Total,
				Rate:      p.Rate,
			})
		}
	}

	driver, err = bench.New(benchCfg)
	if err != nil {
		return nil, err
	}
	summary, err := driver.Run(ctx)
	if err != nil {
		return nil, err
	}

	if msrv != nil {
		msrv.SetStatus(metrics.Status{
			RunID:     summary.ID,
			Phase:     metrics.PhaseComplete,
			Batch:     len(summary.Batches),
			Batches:   len(summary.Batches),
			Completed: summary.Requested,
			Total:     summary.Requested,
			Rate:      summary.Overall.Throughput,
		})
	}

	rec := report.Build(summary)
	fmt.Println(report.Render(rec))

	var artifacts []string
	if path, err := report.Save(cfg.Output.Dir, rec); err != nil {
		log.Error("save report", zap.Error(err))
	} else {
		log.Info("report saved", zap.String("path", path))
		artifacts = append(artifacts, path)
	}
	if cfg.Output.CSV {
		if path, err := report.SaveCSV(cfg.Output.Dir, rec); err != nil {
			log.Error("save csv", zap.Error(err))
		} else {
			artifacts = append(artifacts, path)
		}
	}
	if outcomes != nil {
		path := outcomes.Path()
		if err := outcomes.Close(); err != nil {
			log.Warn("close outcome stream", zap.Error(err))
		} else {
			artifacts = append(artifacts, path)
		}
		outcomes = nil
	}

	uploads := artifacts
	if cfg.Output.Archive && len(artifacts) > 0 {
		bundle := filepath.Join(cfg.Output.Dir, fmt.Sprintf("crucible_run_%s.tar.zst", rec.ID))
		if err := archive.DefaultBundler().BundleRun(bundle, artifacts); err != nil {
			log.Error("bundle artifacts", zap.Error(err))
		} else {
			log.Info("artifacts bundled", zap.String("path", bundle))
			uploads = []string{bundle}
		}
	}

	if cfg.Output.S3Bucket != "" && len(uploads) > 0 {
		uploader, err := archive.NewUploader(ctx, archive.S3Options{
			Bucket:    cfg.Output.S3Bucket,
			Prefix:    cfg.Output.S3Prefix,
			Region:    cfg.Output.S3Region,
			Endpoint:  cfg.Output.S3Endpoint,
			AccessKey: cfg.Output.S3AccessKey,
			SecretKey: cfg.Output.S3SecretKey,
		}, log)
		if err != nil {
			log.Error("s3 uploader", zap.Error(err))
		} else if _, err := uploader.UploadAll(ctx, uploads); err != nil {
			log.Error("s3 upload", zap.Error(err))
		}
	}

	if cfg.History.DSN != "" {
		saveHistory(ctx, cfg.History.DSN, rec, log)
	}

	return rec, nil
}

func saveHistory(ctx context.Context, dsn string, rec *report.RunRecord, log *zap.Logger) {
	store, err := history.Open(dsn)
	if err != nil {
		log.Error("history connect", zap.Error(err))
		return
	}
	defer func() { _ = store.Close() }()

	if err := store.CreateSchema(ctx); err != nil {
		log.Error("history schema", zap.Error(err))
		return
	}
	if err := store.SaveRun(ctx, rec); err != nil {
		log.Error("history save", zap.Error(err))
		return
	}
	log.Info("run recorded in history", zap.String("run_id", rec.ID))
}

// newInspector builds a connection inspector scoped to the target port, or
// nil where the platform offers no procfs.
func newInspector(rawURL string, log *zap.Logger) conns.Inspector {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil
		}
		port = n
	}

	insp, err := conns.NewProcInspector(port)
	if err != nil {
		log.Debug("connection inspection unavailable", zap.Error(err))
		return nil
	}
	return insp
}

// tuneLocalHost applies the kernel settings and the file descriptor limit.
// Both are fail-soft: a host that rejects them still runs the test.
func tuneLocalHost(ctx context.Context, sudo bool, log *zap.Logger) {
	settings := tuner.DefaultSettings()
	applied := tuner.NewExecTuner(sudo, log).Apply(ctx, settings)
	if err := tuner.RaiseFileLimit(tuner.DefaultFileLimit); err != nil {
		log.Warn("raise file limit", zap.Error(err))
	}
	log.Info("host tuning finished", zap.Int("applied", applied), zap.Int("of", len(settings)))
}
