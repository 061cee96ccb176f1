package tuner

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes the remote host to tune.
type SSHConfig struct {
	Addr            string // host:port
	User            string
	KeyPath         string // PEM private key; password auth is used when empty
	Password        string
	KnownHostsFile  string
	InsecureHostKey bool // accept any host key, lab networks only
	Sudo            bool
	Timeout         time.Duration
}

// SSHTuner applies settings to a remote host, typically the machine running
// the target service rather than the load generator.
type SSHTuner struct {
	cfg    SSHConfig
	client *ssh.ClientConfig
	logger *zap.Logger
}

// NewSSHTuner validates the configuration and prepares the client. No
// connection is made until Apply.
func NewSSHTuner(cfg SSHConfig, logger *zap.Logger) (*SSHTuner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &SSHTuner{cfg: cfg, client: client, logger: logger}, nil
}

func clientConfig(cfg SSHConfig) (*ssh.ClientConfig, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("tuner: ssh address is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("tuner: ssh user is required")
	}

	var auth []ssh.AuthMethod
	switch {
	case cfg.KeyPath != "":
		pem, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("tuner: read key %s: %w", cfg.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("tuner: parse key %s: %w", cfg.KeyPath, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	case cfg.Password != "":
		auth = append(auth, ssh.Password(cfg.Password))
	default:
		return nil, fmt.Errorf("tuner: ssh needs a key or a password")
	}

	var hostKey ssh.HostKeyCallback
	switch {
	case cfg.InsecureHostKey:
		hostKey = ssh.InsecureIgnoreHostKey()
	case cfg.KnownHostsFile != "":
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("tuner: load known hosts %s: %w", cfg.KnownHostsFile, err)
		}
		hostKey = cb
	default:
		return nil, fmt.Errorf("tuner: set a known hosts file or allow insecure host keys")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

// Apply connects and runs sysctl for every setting. Per-setting failures are
// logged and skipped; a failed dial applies nothing.
func (t *SSHTuner) Apply(ctx context.Context, settings []Setting) int {
	client, err := ssh.Dial("tcp", t.cfg.Addr, t.client)
	if err != nil {
		t.logger.Warn("ssh dial failed", zap.String("addr", t.cfg.Addr), zap.Error(err))
		return 0
	}
	defer func() { _ = client.Close() }()

	applied := 0
	for _, s := range settings {
		if ctx.Err() != nil {
			break
		}
		if err := t.runRemote(client, remoteCommand(s, t.cfg.Sudo)); err != nil {
			t.logger.Warn("remote sysctl rejected",
				zap.String("setting", s.String()),
				zap.Error(err))
			continue
		}
		applied++
	}

	if applied > 0 {
		t.logger.Info("remote host tuned",
			zap.String("addr", t.cfg.Addr),
			zap.Int("applied", applied),
			zap.Int("of", len(settings)))
	}
	return applied
}

func (t *SSHTuner) runRemote(client *ssh.Client, cmd string) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("tuner: open session: %w", err)
	}
	defer func() { _ = session.Close() }()

	if out, err := session.CombinedOutput(cmd); err != nil {
		return fmt.Errorf("tuner: %s: %w (%s)", cmd, err, out)
	}
	return nil
}

// remoteCommand builds the shell line for one setting. The value is single
// quoted because several settings carry space-separated triples.
func remoteCommand(s Setting, sudo bool) string {
	cmd := fmt.Sprintf("sysctl -w '%s=%s'", s.Key, s.Value)
	if sudo {
		return "sudo " + cmd
	}
	return cmd
}
