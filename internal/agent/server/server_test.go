package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/drclink-io/drclink/pkg/options"
)

func newTestServer(ready ReadyFunc, metrics http.Handler) *Server {
	opts := options.NewHttpOptions()
	opts.Addr = "127.0.0.1:0"
	return NewServer(opts, ready, metrics)
}

func TestHealthzAlwaysOK(t *testing.T) {
	s := newTestServer(nil, nil)

	rr := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("/healthz status = %d, want 200", rr.Code)
	}
	if rr.Body.String() != "ok" {
		t.Fatalf("/healthz body = %q, want ok", rr.Body.String())
	}
}

func TestReadyzReflectsReadiness(t *testing.T) {
	readyErr := error(nil)
	s := newTestServer(func() error { return readyErr }, nil)

	rr := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("ready /readyz status = %d, want 200", rr.Code)
	}

	readyErr = errors.New("link offline")
	rr = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("unready /readyz status = %d, want 503", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "link offline") {
		t.Fatalf("unready /readyz body = %q, want the reason", rr.Body.String())
	}
}

func TestMetricsRouteInstalledWhenProvided(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("drclink_heartbeats_sent_total 3"))
	})
	s := newTestServer(nil, metrics)

	rr := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "drclink_heartbeats_sent_total") {
		t.Fatalf("/metrics body = %q, want metric output", rr.Body.String())
	}

	bare := newTestServer(nil, nil)
	rr = httptest.NewRecorder()
	bare.server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("/metrics without handler status = %d, want 404", rr.Code)
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	s := newTestServer(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	// Give ListenAndServe a moment to bind before shutting down.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v after cancel, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancel")
	}
}
