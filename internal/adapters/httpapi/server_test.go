package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeStatus struct {
	running  bool
	services int
}

func (f fakeStatus) Circuit() string   { return "alpha" }
func (f fakeStatus) Running() bool     { return f.running }
func (f fakeStatus) ServiceCount() int { return f.services }

func TestHealthz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		status   fakeStatus
		wantCode int
		wantBody string
	}{
		{name: "running", status: fakeStatus{running: true, services: 2}, wantCode: http.StatusOK, wantBody: "ok"},
		{name: "stopped", status: fakeStatus{}, wantCode: http.StatusServiceUnavailable, wantBody: "stopped"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := NewServer("", tc.status, prometheus.NewRegistry())
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, rec.Code)
			}
			var body healthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Status != tc.wantBody || body.Circuit != "alpha" || body.Services != tc.status.services {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}

func TestHealthzRejectsPost(t *testing.T) {
	t.Parallel()
	s := NewServer("", fakeStatus{running: true}, prometheus.NewRegistry())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestMetricsExposesGatherer(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_frames_total", Help: "frames"})
	reg.MustRegister(counter)
	counter.Add(3)

	srv := httptest.NewServer(NewServer("", fakeStatus{running: true}, reg).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "test_frames_total 3") {
		t.Fatalf("expected counter in output, got %s", body)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	s := NewServer("127.0.0.1:0", fakeStatus{running: true}, prometheus.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if err := s.Run(ctx); err != nil {
		t.Fatalf("run with a done context must return nil, got %v", err)
	}
}
