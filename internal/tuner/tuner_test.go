package tuner

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestDefaultSettings(t *testing.T) {
	settings := DefaultSettings()
	require.NotEmpty(t, settings)

	byKey := make(map[string]string, len(settings))
	for _, s := range settings {
		byKey[s.Key] = s.Value
	}
	assert.Equal(t, "1", byKey["net.ipv4.tcp_tw_reuse"])
	assert.Equal(t, "15", byKey["net.ipv4.tcp_fin_timeout"])
	assert.Equal(t, "1024 65535", byKey["net.ipv4.ip_local_port_range"])
	assert.Equal(t, "65535", byKey["net.core.somaxconn"])
	assert.Equal(t, "2097152", byKey["fs.file-max"])
}

func TestExecTunerApply(t *testing.T) {
	var calls [][]string
	tn := NewExecTuner(false, nil)
	tn.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, append([]string{name}, args...))
		return nil, nil
	}

	settings := []Setting{
		{"net.core.somaxconn", "65535"},
		{"net.ipv4.ip_local_port_range", "1024 65535"},
	}
	applied := tn.Apply(context.Background(), settings)

	assert.Equal(t, 2, applied)
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"sysctl", "-w", "net.core.somaxconn=65535"}, calls[0])
	assert.Equal(t, []string{"sysctl", "-w", "net.ipv4.ip_local_port_range=1024 65535"}, calls[1],
		"space-separated values travel as a single argument")
}

func TestExecTunerSudoPrefix(t *testing.T) {
	var calls [][]string
	tn := NewExecTuner(true, nil)
	tn.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, append([]string{name}, args...))
		return nil, nil
	}

	tn.Apply(context.Background(), []Setting{{"fs.file-max", "2097152"}})
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"sudo", "sysctl", "-w", "fs.file-max=2097152"}, calls[0])
}

func TestExecTunerSkipsRejected(t *testing.T) {
	tn := NewExecTuner(false, nil)
	tn.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if strings.Contains(args[len(args)-1], "nf_conntrack") {
			return []byte("sysctl: cannot stat"), errors.New("exit status 255")
		}
		return nil, nil
	}

	settings := []Setting{
		{"net.core.somaxconn", "65535"},
		{"net.netfilter.nf_conntrack_max", "1000000"},
		{"net.ipv4.tcp_tw_reuse", "1"},
	}
	applied := tn.Apply(context.Background(), settings)
	assert.Equal(t, 2, applied, "a rejected knob must not stop the rest")
}

func TestRemoteCommandQuoting(t *testing.T) {
	cmd := remoteCommand(Setting{"net.ipv4.tcp_rmem", "4096 262144 134217728"}, false)
	assert.Equal(t, "sysctl -w 'net.ipv4.tcp_rmem=4096 262144 134217728'", cmd)

	cmd = remoteCommand(Setting{"net.ipv4.tcp_tw_reuse", "1"}, true)
	assert.Equal(t, "sudo sysctl -w 'net.ipv4.tcp_tw_reuse=1'", cmd)
}

func writeTestKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestSSHClientConfig(t *testing.T) {
	t.Run("key auth", func(t *testing.T) {
		cfg, err := clientConfig(SSHConfig{
			Addr:            "10.0.0.5:22",
			User:            "bench",
			KeyPath:         writeTestKey(t),
			InsecureHostKey: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "bench", cfg.User)
		assert.Len(t, cfg.Auth, 1)
		assert.NotZero(t, cfg.Timeout)
	})

	t.Run("password auth", func(t *testing.T) {
		cfg, err := clientConfig(SSHConfig{
			Addr:            "10.0.0.5:22",
			User:            "bench",
			Password:        "hunter2",
			InsecureHostKey: true,
		})
		require.NoError(t, err)
		assert.Len(t, cfg.Auth, 1)
	})

	t.Run("missing address", func(t *testing.T) {
		_, err := clientConfig(SSHConfig{User: "bench", Password: "x", InsecureHostKey: true})
		assert.Error(t, err)
	})

	t.Run("missing credentials", func(t *testing.T) {
		_, err := clientConfig(SSHConfig{Addr: "h:22", User: "bench", InsecureHostKey: true})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "key or a password")
	})

	t.Run("missing host key policy", func(t *testing.T) {
		_, err := clientConfig(SSHConfig{Addr: "h:22", User: "bench", Password: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "known hosts")
	})

	t.Run("unreadable key", func(t *testing.T) {
		_, err := clientConfig(SSHConfig{
			Addr:            "h:22",
			User:            "bench",
			KeyPath:         filepath.Join(t.TempDir(), "absent"),
			InsecureHostKey: true,
		})
		assert.Error(t, err)
	})
}

func TestNewSSHTuner(t *testing.T) {
	tn, err := NewSSHTuner(SSHConfig{
		Addr:            "10.0.0.5:22",
		User:            "bench",
		KeyPath:         writeTestKey(t),
		InsecureHostKey: true,
	}, nil)
	require.NoError(t, err)
	assert.NotNil(t, tn)

	_, err = NewSSHTuner(SSHConfig{}, nil)
	assert.Error(t, err)
}
