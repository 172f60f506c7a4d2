package healthcheck

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirychukyurii/hv-balancer/internal/config"
)

func newTestProber(t *testing.T, handler http.HandlerFunc, mutate func(*config.ProbeConfig)) *Prober {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.ProbeConfig{
		BaseURL:    srv.URL,
		Path:       "/ping.php",
		QueryParam: "hostname",
		Timeout:    time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	p, err := NewProber(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p
}

func TestReachable(t *testing.T) {
	p := newTestProber(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ping.php", r.URL.Path)
		assert.Equal(t, "web-1.example.com", r.URL.Query().Get("hostname"))
		_, _ = io.WriteString(w, "yes")
	}, nil)

	assert.True(t, p.Reachable(context.Background(), "web-1.example.com"))
}

func TestReachableBasicAuth(t *testing.T) {
	p := newTestProber(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ops" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, "yes")
	}, func(c *config.ProbeConfig) {
		c.Username = "ops"
		c.Password = "secret"
	})

	assert.True(t, p.Reachable(context.Background(), "web-1.example.com"))
}

func TestUnreachable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"other body", func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "no") }},
		{"trailing newline", func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "yes\n") }},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "yes")
		}},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProber(t, tt.handler, nil)
			assert.False(t, p.Reachable(context.Background(), "web-1.example.com"))
		})
	}
}

func TestUnreachableTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	p, err := NewProber(config.ProbeConfig{
		BaseURL:    base,
		Path:       "/ping.php",
		QueryParam: "hostname",
		Timeout:    time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	assert.False(t, p.Reachable(context.Background(), "web-1.example.com"))
}

func TestUnreachableCancelled(t *testing.T) {
	p := newTestProber(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "yes")
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, p.Reachable(ctx, "web-1.example.com"))
}
