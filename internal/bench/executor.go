package bench

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrorKind classifies a failed request attempt.
type ErrorKind string

const (
	ErrorTimeout    ErrorKind = "timeout"
	ErrorConnection ErrorKind = "connection-error"
	ErrorStatus     ErrorKind = "non-2xx"
	ErrorOther      ErrorKind = "other"
)

// Outcome records a single request attempt. Latency runs from just before
// dispatch until the response body is drained; on failure it is the elapsed
// time to the failure point, so timeout latencies show the real wait.
type Outcome struct {
	Latency   time.Duration
	Success   bool
	Kind      ErrorKind
	Status    int
	BytesRead int64
}

// RequestFactory builds one request. The driver injects the target wiring
// through it so this package never sees URLs or payloads.
type RequestFactory func(ctx context.Context) (*http.Request, error)

// Execute performs one request and classifies the result. The body is always
// drained so the connection can be reused and latency covers the complete
// exchange, not just the headers. No retries at this level.
func Execute(ctx context.Context, client *http.Client, newRequest RequestFactory) Outcome {
	start := time.Now()

	req, err := newRequest(ctx)
	if err != nil {
		return Outcome{Latency: time.Since(start), Kind: ErrorOther}
	}

	resp, err := client.Do(req)
	if err != nil {
		return Outcome{Latency: time.Since(start), Kind: classify(err)}
	}

	n, copyErr := io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	latency := time.Since(start)

	out := Outcome{Latency: latency, Status: resp.StatusCode, BytesRead: n}
	switch {
	case copyErr != nil:
		out.Kind = classify(copyErr)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		out.Success = true
	default:
		out.Kind = ErrorStatus
	}
	return out
}

// classify maps transport errors onto the coarse kinds the analyzer works
// with. Cancellation counts as a timeout: the request was cut short waiting.
func classify(err error) ErrorKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorConnection
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrorConnection
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") {
		return ErrorConnection
	}
	return ErrorOther
}
