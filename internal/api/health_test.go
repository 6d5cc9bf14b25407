package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func getHealth(t *testing.T, ts *httptest.Server) (int, healthResponse) {
	t.Helper()
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, body
}

func TestHealthzReportsGovernorAndDatabase(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	code, body := getHealth(t, ts)
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if body.Status != "ok" || body.Database != "ok" {
		t.Errorf("status = %q, database = %q, want ok/ok", body.Status, body.Database)
	}
	if !body.Governor.Enabled || body.Governor.SoftLimitMS != 20 {
		t.Errorf("governor = %+v, want enabled with a 20ms soft limit", body.Governor)
	}
	if body.Governor.TrackedWorkers != 0 || body.LiveSessions != 0 {
		t.Errorf("idle server reports %d workers, %d live sessions", body.Governor.TrackedWorkers, body.LiveSessions)
	}
}

func TestHealthzCountsLiveSessions(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	liveSession(t, ts)

	if _, body := getHealth(t, ts); body.LiveSessions != 1 {
		t.Errorf("live_sessions = %d, want 1", body.LiveSessions)
	}
}

func TestHealthzDegradedWhenDatabaseDown(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	if err := srv.store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	code, body := getHealth(t, ts)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if body.Status != "degraded" || body.Database == "ok" {
		t.Errorf("status = %q, database = %q", body.Status, body.Database)
	}
}

func TestMetricsExposeHTTPAndGovernor(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	getHealth(t, ts)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/plain") && !strings.Contains(ct, "text/openmetrics") {
		t.Errorf("Content-Type = %q, expected prometheus format", ct)
	}

	b, _ := io.ReadAll(resp.Body)
	body := string(b)
	for _, name := range []string{
		`gamehost_http_requests_total{method="GET",path="/healthz",status="200"}`,
		"gamehost_http_request_duration_seconds",
		"gamehost_governor_tracked_workers",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
