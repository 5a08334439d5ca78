package statusserver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/christianparpart/x0-sub000/internal/director"
	"github.com/christianparpart/x0-sub000/internal/director/transporttest"
	"github.com/christianparpart/x0-sub000/internal/statusserver"
)

func TestHandleBackendsListsPoolMembers(t *testing.T) {
	pool := director.NewBackendPool(director.NewRoundRobinPolicy())
	pool.Add(director.NewBackend("b1", director.RoleActive, 10, transporttest.New()))
	pool.Add(director.NewBackend("b2", director.RoleBackup, 10, transporttest.New()))

	shaper := director.NewTokenShaper()
	shaper.CreateNode("default", "", 10, 10)
	cluster := director.NewCluster(director.ClusterConfig{Enabled: true, MaxRetryCount: 1}, shaper, pool)

	srv := statusserver.New(cluster, pool)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status/backends")
	if err != nil {
		t.Fatalf("GET /status/backends: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var views []statusserver.BackendView
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 backends, got %d", len(views))
	}
}

func TestHandleClusterReportsBackendCount(t *testing.T) {
	pool := director.NewBackendPool(director.NewRoundRobinPolicy())
	pool.Add(director.NewBackend("b1", director.RoleActive, 10, transporttest.New()))
	shaper := director.NewTokenShaper()
	shaper.CreateNode("default", "", 10, 10)
	cluster := director.NewCluster(director.ClusterConfig{Enabled: true, MaxRetryCount: 1}, shaper, pool)

	srv := statusserver.New(cluster, pool)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status/cluster")
	if err != nil {
		t.Fatalf("GET /status/cluster: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["backends"].(float64) != 1 {
		t.Fatalf("expected 1 backend, got %v", body["backends"])
	}
}
