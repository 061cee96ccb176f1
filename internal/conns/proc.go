package conns

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/procfs"
)

// Linux TCP states as reported in /proc/net/tcp.
var stateNames = map[uint64]string{
	1:  "ESTABLISHED",
	2:  "SYN_SENT",
	3:  "SYN_RECV",
	4:  "FIN_WAIT1",
	5:  "FIN_WAIT2",
	6:  "TIME_WAIT",
	7:  "CLOSE",
	8:  "CLOSE_WAIT",
	9:  "LAST_ACK",
	10: "LISTEN",
	11: "CLOSING",
}

// ProcInspector counts TCP sockets involving the target port by reading
// /proc/net/tcp and /proc/net/tcp6.
type ProcInspector struct {
	fs   procfs.FS
	port uint64
}

// NewProcInspector opens procfs for snapshots scoped to the given port.
// Fails on hosts without /proc; callers treat connection inspection as
// optional and run without it.
func NewProcInspector(port int) (*ProcInspector, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("conns: open procfs: %w", err)
	}
	return &ProcInspector{fs: fs, port: uint64(port)}, nil
}

func (p *ProcInspector) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		TakenAt: time.Now(),
		ByState: make(map[string]int),
	}

	tcp4, err := p.fs.NetTCP()
	if err != nil {
		return snap, fmt.Errorf("conns: read net/tcp: %w", err)
	}
	p.tally(&snap, tcp4)

	// Not every host has IPv6 wired up.
	if tcp6, err := p.fs.NetTCP6(); err == nil {
		p.tally(&snap, tcp6)
	}

	return snap, nil
}

func (p *ProcInspector) tally(snap *Snapshot, lines procfs.NetTCP) {
	for _, line := range lines {
		if line == nil || (line.LocalPort != p.port && line.RemPort != p.port) {
			continue
		}
		snap.Total++

		name, ok := stateNames[line.St]
		if !ok {
			name = fmt.Sprintf("STATE_%d", line.St)
		}
		snap.ByState[name]++

		switch line.St {
		case 1:
			snap.Established++
		case 4, 5:
			snap.FinWait++
		case 6:
			snap.TimeWait++
		case 8:
			snap.CloseWait++
		}
	}
}
