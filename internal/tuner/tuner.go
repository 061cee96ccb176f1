// Package tuner applies the kernel settings a high-connection-rate benchmark
// needs: wide port ranges, fast TIME_WAIT turnover, deep accept queues.
// Individual settings fail soft; a box that rejects one knob can still run.
package tuner

import (
	"context"
	"fmt"
)

// Setting is one sysctl key/value pair.
type Setting struct {
	Key   string
	Value string
}

func (s Setting) String() string {
	return fmt.Sprintf("%s=%s", s.Key, s.Value)
}

// DefaultSettings returns the standard tuning set for load generation hosts.
func DefaultSettings() []Setting {
	return []Setting{
		{"fs.file-max", "2097152"},
		{"fs.nr_open", "2097152"},
		{"net.core.somaxconn", "65535"},
		{"net.ipv4.tcp_max_syn_backlog", "65535"},
		{"net.core.netdev_max_backlog", "65535"},
		{"net.ipv4.tcp_tw_reuse", "1"},
		{"net.ipv4.tcp_fin_timeout", "15"},
		{"net.ipv4.ip_local_port_range", "1024 65535"},
		{"net.core.rmem_max", "134217728"},
		{"net.core.wmem_max", "134217728"},
		{"net.ipv4.tcp_rmem", "4096 262144 134217728"},
		{"net.ipv4.tcp_wmem", "4096 262144 134217728"},
		{"net.netfilter.nf_conntrack_max", "1000000"},
	}
}

// DefaultFileLimit is the RLIMIT_NOFILE target for load generation.
const DefaultFileLimit = 1048576

// Tuner applies settings to a host and reports how many took effect.
type Tuner interface {
	Apply(ctx context.Context, settings []Setting) int
}
