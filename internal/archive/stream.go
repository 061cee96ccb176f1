// Package archive persists the raw per-request outcomes of a run and bundles
// finished artifacts for long-term storage. The live stream uses framed
// snappy so writing keeps up with the collector; bundles use zstd where
// ratio matters more than speed.
package archive

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang/snappy"
)

// Record is one request outcome on the stream.
type Record struct {
	Timestamp time.Time `json:"ts"`
	Batch     int       `json:"batch"`
	LatencyMS float64   `json:"latency_ms"`
	Success   bool      `json:"success"`
	Kind      string    `json:"kind,omitempty"`
	Status    int       `json:"status,omitempty"`
	Bytes     int64     `json:"bytes,omitempty"`
}

// OutcomeWriter streams records to a snappy-framed NDJSON file.
type OutcomeWriter struct {
	mu   sync.Mutex
	file *os.File
	sw   *snappy.Writer
	enc  *json.Encoder
	path string
}

// NewOutcomeWriter creates path and prepares the stream.
func NewOutcomeWriter(path string) (*OutcomeWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", path, err)
	}
	sw := snappy.NewBufferedWriter(f)
	return &OutcomeWriter{
		file: f,
		sw:   sw,
		enc:  json.NewEncoder(sw),
		path: path,
	}, nil
}

// Write appends one record. Safe for concurrent use.
func (w *OutcomeWriter) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("archive: write outcome: %w", err)
	}
	return nil
}

// Path returns the stream's file path.
func (w *OutcomeWriter) Path() string {
	return w.path
}

// Close flushes the frames and closes the file.
func (w *OutcomeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.sw.Close(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("archive: flush %s: %w", w.path, err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("archive: close %s: %w", w.path, err)
	}
	return nil
}

// ReadOutcomes loads a complete outcome stream back into memory.
func ReadOutcomes(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var records []Record
	scanner := bufio.NewScanner(snappy.NewReader(f))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("archive: decode outcome: %w", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", path, err)
	}
	return records, nil
}
