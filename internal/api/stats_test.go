package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/gamehost/internal/model"
)

func TestGetStatsEmpty(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if stats.Total != 0 || stats.LiveSessions != 0 {
		t.Errorf("stats = %+v, want empty", stats)
	}
	if stats.AvgHostedMS != 0 {
		t.Errorf("avg_hosted_ms = %f, want 0", stats.AvgHostedMS)
	}
}

func TestGetStatsPopulated(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	for i := range 3 {
		s := &model.Session{
			ID: model.NewID(), Kind: "ludo", Status: model.SessionOpen,
			Capacity: 4, CreatedAt: time.Now().UTC(),
		}
		if err := srv.store.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if err := srv.store.RecordSessionUsage(ctx, s.ID, model.SessionUsage{Players: 4, Aborts: i, HostedMS: 100}); err != nil {
			t.Fatalf("RecordSessionUsage: %v", err)
		}
		if i > 0 {
			if err := srv.store.UpdateSessionStatus(ctx, s.ID, model.SessionClosed); err != nil {
				t.Fatalf("open→closed: %v", err)
			}
		}
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByStatus[model.SessionOpen] != 1 || stats.ByStatus[model.SessionClosed] != 2 {
		t.Errorf("by_status = %v", stats.ByStatus)
	}
	if stats.TotalAborts != 3 {
		t.Errorf("total_aborts = %d, want 3", stats.TotalAborts)
	}
	if stats.AvgHostedMS != 100 {
		t.Errorf("avg_hosted_ms = %f, want 100", stats.AvgHostedMS)
	}
}
