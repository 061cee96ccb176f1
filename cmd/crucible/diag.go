package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/perflab/crucible/internal/bench"
	"github.com/perflab/crucible/internal/config"
	"github.com/perflab/crucible/internal/stats"
	"github.com/perflab/crucible/internal/target"
	"github.com/perflab/crucible/internal/tuner"
)

var (
	diagTune         bool
	diagSudo         bool
	diagSSH          string
	diagSSHUser      string
	diagSSHKey       string
	diagKnownHosts   string
	diagInsecureHost bool
)

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Probe the target with short preset scenarios",
	Long: `Run three short probes against the target: a single request for baseline
latency, a small burst, and a sustained mid-load window. The diagnosis
compares baseline latency against loaded latency to show how the target
behaves before committing to a full run.

With --tune the local kernel is prepared first; --ssh tunes a remote host
instead (password via CRUCIBLE_SSH_PASSWORD when no key is given).`,
	RunE: runDiag,
}

func init() {
	f := diagCmd.Flags()
	f.BoolVar(&diagTune, "tune", false, "apply kernel tuning before probing")
	f.BoolVar(&diagSudo, "sudo", false, "prefix tuning commands with sudo")
	f.StringVar(&diagSSH, "ssh", "", "tune this remote host (host:port) instead of the local one")
	f.StringVar(&diagSSHUser, "ssh-user", "", "remote user for --ssh")
	f.StringVar(&diagSSHKey, "ssh-key", "", "private key file for --ssh")
	f.StringVar(&diagKnownHosts, "known-hosts", "", "known hosts file for --ssh")
	f.BoolVar(&diagInsecureHost, "insecure-host-key", false, "accept any remote host key")

	rootCmd.AddCommand(diagCmd)
}

type probe struct {
	name        string
	requests    int
	concurrency int
}

func runDiag(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	ctx, cancel := signalContext()
	defer cancel()

	if diagTune || diagSSH != "" {
		applyTuning(ctx, log)
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

	sustained := cfg.Run.Concurrency
	if sustained > 64 {
		sustained = 64
	}
	probes := []probe{
		{"single request", 1, 1},
		{"small burst", 50, 10},
		{"sustained load", 500, sustained},
	}

	fmt.Printf("Probing %s\n\n", cfg.Target.URL)
	results := make([]stats.BatchStats, 0, len(probes))
	for _, p := range probes {
		st, err := runProbe(ctx, client, p)
		if err != nil {
			return fmt.Errorf("probe %q: %w", p.name, err)
		}
		results = append(results, st)
		if ctx.Err() != nil {
			return nil
		}
	}

	printDiagnosis(probes, results)
	return nil
}

// runProbe executes one preset as a single unrecorded-warmup-free batch.
func runProbe(ctx context.Context, client *target.Client, p probe) (stats.BatchStats, error) {
	pc := bench.DefaultConfig()
	pc.Requests = p.requests
	pc.Concurrency = p.concurrency
	pc.BatchSize = p.requests
	pc.Cooldown = 0
	pc.SettleDelay = 0
	pc.Warmup = false
	pc.NewClient = client.NewHTTPClient
	pc.NewRequest = client.TransformRequest
	pc.Logger = zap.NewNop()

	driver, err := bench.New(pc)
	if err != nil {
		return stats.BatchStats{}, err
	}
	summary, err := driver.Run(ctx)
	if err != nil {
		return stats.BatchStats{}, err
	}
	return summary.Overall, nil
}

func printDiagnosis(probes []probe, results []stats.BatchStats) {
	fmt.Printf("%-18s %-10s %-10s %-10s %-10s %s\n",
		"Probe", "Requests", "Success", "P50", "P99", "Throughput")
	for i, p := range probes {
		st := results[i]
		fmt.Printf("%-18s %-10d %-10s %-10s %-10s %.1f req/s\n",
			p.name, st.Requested,
			fmt.Sprintf("%.1f%%", st.SuccessRate),
			fmtMS(st.Latency.P50), fmtMS(st.Latency.P99),
			st.Throughput)
	}

	baseline := results[0].Latency.P50
	loaded := results[len(results)-1].Latency.P99
	fmt.Printf("\nBaseline latency:  %s\n", fmtMS(baseline))
	if baseline > 0 {
		fmt.Printf("Loaded p99:        %s (%.1fx baseline)\n", fmtMS(loaded), float64(loaded)/float64(baseline))
	} else {
		fmt.Printf("Loaded p99:        %s\n", fmtMS(loaded))
	}

	sustainedRate := results[len(results)-1].SuccessRate
	switch {
	case sustainedRate < 100:
		fmt.Println("\nThe target drops requests under sustained load; run the full test with")
		fmt.Println("connection inspection to classify the failures.")
	case baseline > 0 && loaded > 5*baseline:
		fmt.Println("\nLatency inflates sharply under load; check target worker pools and")
		fmt.Println("connection limits before a full run.")
	default:
		fmt.Println("\nThe target holds up under these probes.")
	}
}

func fmtMS(d time.Duration) string {
	return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
}

// applyTuning prepares the host under test. Remote tuning needs an explicit
// trust decision: a known hosts file or the insecure flag.
func applyTuning(ctx context.Context, log *zap.Logger) {
	if diagSSH == "" {
		tuneLocalHost(ctx, diagSudo, log)
		return
	}

	t, err := tuner.NewSSHTuner(tuner.SSHConfig{
		Addr:            diagSSH,
		User:            diagSSHUser,
		KeyPath:         diagSSHKey,
		Password:        config.GetEnvOrDefault("CRUCIBLE_SSH_PASSWORD", ""),
		KnownHostsFile:  diagKnownHosts,
		InsecureHostKey: diagInsecureHost,
		Sudo:            diagSudo,
	}, log)
	if err != nil {
		log.Error("ssh tuner", zap.Error(err))
		return
	}
	settings := tuner.DefaultSettings()
	applied := t.Apply(ctx, settings)
	log.Info("remote host tuned",
		zap.String("addr", diagSSH),
		zap.Int("applied", applied),
		zap.Int("of", len(settings)))
}
