package tuner

import (
	"context"
	"os/exec"

	"go.uber.org/zap"
)

// ExecTuner applies settings on the local host by running sysctl.
type ExecTuner struct {
	sudo   bool
	logger *zap.Logger
	run    func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewExecTuner creates a local tuner. With sudo set, commands are prefixed
// so an unprivileged benchmark user can still tune.
func NewExecTuner(sudo bool, logger *zap.Logger) *ExecTuner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecTuner{
		sudo:   sudo,
		logger: logger,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Apply runs sysctl -w for every setting. Settings that the kernel rejects
// are logged and skipped. Returns the number applied.
func (t *ExecTuner) Apply(ctx context.Context, settings []Setting) int {
	applied := 0
	for _, s := range settings {
		name, args := t.command(s)
		out, err := t.run(ctx, name, args...)
		if err != nil {
			t.logger.Warn("sysctl rejected",
				zap.String("setting", s.String()),
				zap.ByteString("output", out),
				zap.Error(err))
			continue
		}
		t.logger.Debug("sysctl applied", zap.String("setting", s.String()))
		applied++
	}
	if applied > 0 {
		t.logger.Info("host tuned",
			zap.Int("applied", applied),
			zap.Int("of", len(settings)))
	}
	return applied
}

func (t *ExecTuner) command(s Setting) (string, []string) {
	args := []string{"sysctl", "-w", s.String()}
	if t.sudo {
		return "sudo", args
	}
	return args[0], args[1:]
}
