// Package conns inspects TCP connection states toward the target service.
// The driver takes a snapshot before and after each wave; the degradation
// analyzer consumes only the structured counts, never the platform details.
package conns

import (
	"context"
	"sync"
	"time"
)

// Snapshot counts connections involving the target port at one instant.
type Snapshot struct {
	TakenAt     time.Time      `json:"taken_at"`
	Total       int            `json:"total"`
	Established int            `json:"established"`
	TimeWait    int            `json:"time_wait"`
	CloseWait   int            `json:"close_wait"`
	FinWait     int            `json:"fin_wait"`
	ByState     map[string]int `json:"by_state,omitempty"`
}

// Inspector produces connection snapshots. Implementations wrap whatever the
// platform offers; callers only see the counts.
type Inspector interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Scripted replays a fixed sequence of snapshots, one per call, repeating the
// last once exhausted. Tests use it to verify batch isolation without a real
// network stack.
type Scripted struct {
	mu        sync.Mutex
	snapshots []Snapshot
	next      int
	calls     int
}

// NewScripted builds a scripted inspector over the given snapshots.
func NewScripted(snapshots ...Snapshot) *Scripted {
	return &Scripted{snapshots: snapshots}
}

func (s *Scripted) Snapshot(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.snapshots) == 0 {
		return Snapshot{TakenAt: time.Now()}, nil
	}
	snap := s.snapshots[s.next]
	if s.next < len(s.snapshots)-1 {
		s.next++
	}
	return snap, nil
}

// Calls reports how many snapshots have been handed out.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
