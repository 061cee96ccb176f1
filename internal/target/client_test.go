package target

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	t.Run("healthy target", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		c := New(Options{BaseURL: srv.URL}, nil)
		assert.NoError(t, c.Health(context.Background()))
	})

	t.Run("unhealthy status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c := New(Options{BaseURL: srv.URL}, nil)
		err := c.Health(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unhealthy")
	})

	t.Run("unreachable target", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		c := New(Options{BaseURL: srv.URL}, nil)
		assert.Error(t, c.Health(context.Background()))
	})
}

func decodePayload(t *testing.T, body []byte) (string, bool) {
	t.Helper()
	var payload struct {
		Message string `json:"message"`
		Options struct {
			Validation bool `json:"validation"`
		} `json:"options"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	return payload.Message, payload.Options.Validation
}

func TestResolvePayload(t *testing.T) {
	t.Run("uses result field", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/generate/sample", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)

			var req struct {
				MessageType string `json:"message_type"`
				Config      struct {
					Scenario string `json:"scenario"`
				} `json:"config"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "MT103", req.MessageType)
			assert.Equal(t, "standard", req.Config.Scenario)

			_ = json.NewEncoder(w).Encode(map[string]string{"result": "MSG-FROM-RESULT"})
		}))
		defer srv.Close()

		c := New(Options{BaseURL: srv.URL}, nil)
		require.NoError(t, c.ResolvePayload(context.Background()))

		message, validation := decodePayload(t, c.Payload())
		assert.Equal(t, "MSG-FROM-RESULT", message)
		assert.False(t, validation)
	})

	t.Run("falls back to message field", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "MSG-FROM-MESSAGE"})
		}))
		defer srv.Close()

		c := New(Options{BaseURL: srv.URL}, nil)
		require.NoError(t, c.ResolvePayload(context.Background()))

		message, _ := decodePayload(t, c.Payload())
		assert.Equal(t, "MSG-FROM-MESSAGE", message)
	})

	t.Run("embedded message on server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := New(Options{BaseURL: srv.URL}, nil)
		require.NoError(t, c.ResolvePayload(context.Background()))

		message, _ := decodePayload(t, c.Payload())
		assert.Equal(t, FallbackMT103, message)
	})

	t.Run("embedded message on empty response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{})
		}))
		defer srv.Close()

		c := New(Options{BaseURL: srv.URL}, nil)
		require.NoError(t, c.ResolvePayload(context.Background()))

		message, _ := decodePayload(t, c.Payload())
		assert.Equal(t, FallbackMT103, message)
	})

	t.Run("embedded message when unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		c := New(Options{BaseURL: srv.URL}, nil)
		require.NoError(t, c.ResolvePayload(context.Background()))

		message, _ := decodePayload(t, c.Payload())
		assert.Equal(t, FallbackMT103, message)
	})
}

func TestTransformRequest(t *testing.T) {
	t.Run("requires resolved payload", func(t *testing.T) {
		c := New(Options{BaseURL: "http://example.test"}, nil)
		_, err := c.TransformRequest(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ResolvePayload")
	})

	// A closed listener makes ResolvePayload take the embedded fallback
	// without waiting on DNS or timeouts.
	newResolved := func(t *testing.T, mutate func(*Options)) *Client {
		t.Helper()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		opts := Options{BaseURL: srv.URL}
		if mutate != nil {
			mutate(&opts)
		}
		c := New(opts, nil)
		require.NoError(t, c.ResolvePayload(context.Background()))
		return c
	}

	t.Run("builds post with payload", func(t *testing.T) {
		c := newResolved(t, nil)

		req, err := c.TransformRequest(context.Background())
		require.NoError(t, err)
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, c.BaseURL()+"/transform/mt-to-mx", req.URL.String())
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		assert.Empty(t, req.Header.Get("Connection"))
	})

	t.Run("force close sets connection header", func(t *testing.T) {
		c := newResolved(t, func(o *Options) { o.ForceClose = true })

		req, err := c.TransformRequest(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "close", req.Header.Get("Connection"))
	})

	t.Run("applies authenticator", func(t *testing.T) {
		auth, err := NewAuthenticator(AuthConfig{Mode: "bearer", Token: "tok-42"})
		require.NoError(t, err)

		c := newResolved(t, func(o *Options) { o.Auth = auth })

		req, err := c.TransformRequest(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Bearer tok-42", req.Header.Get("Authorization"))
	})
}

func TestNewHTTPClientTransportBounds(t *testing.T) {
	c := New(Options{BaseURL: "http://bench-target:3000", RequestTimeout: 10 * time.Second}, nil)

	httpClient := c.NewHTTPClient(64)
	assert.Equal(t, 10*time.Second, httpClient.Timeout)

	transport, ok := httpClient.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 64, transport.MaxIdleConns)
	assert.Equal(t, 64, transport.MaxIdleConnsPerHost)
	assert.Equal(t, 128, transport.MaxConnsPerHost)
	assert.False(t, transport.DisableKeepAlives)

	forced := New(Options{BaseURL: "http://bench-target:3000", ForceClose: true}, nil)
	transport = forced.NewHTTPClient(8).Transport.(*http.Transport)
	assert.True(t, transport.DisableKeepAlives)

	// Degenerate bound still yields a working pool.
	transport = c.NewHTTPClient(0).Transport.(*http.Transport)
	assert.Equal(t, 1, transport.MaxIdleConns)
	assert.Equal(t, 2, transport.MaxConnsPerHost)
}
