package director_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/christianparpart/x0-sub000/internal/director"
	"github.com/christianparpart/x0-sub000/internal/director/transporttest"
)

func newTestCluster(t *testing.T, cfg director.ClusterConfig, rate, ceil float64) (*director.Cluster, *transporttest.Transport) {
	t.Helper()
	shaper := director.NewTokenShaper()
	if _, err := shaper.CreateNode("default", "", rate, ceil); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	transport := transporttest.New()
	pool := director.NewBackendPool(director.NewRoundRobinPolicy())
	pool.Add(director.NewBackend("b1", director.RoleActive, 10, transport))
	return director.NewCluster(cfg, shaper, pool), transport
}

// waitFinished polls until req reaches a terminal state, since dispatch
// now hands the upstream round trip to its own goroutine and returns
// before the response is written (spec §5: the core never blocks a
// worker).
func waitFinished(t *testing.T, req *transporttest.Request) {
	t.Helper()
	deadline := time.After(time.Second)
	for !req.Finished() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for request to finish")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestClusterHappyPath(t *testing.T) {
	cfg := director.ClusterConfig{Name: "c1", Enabled: true, MaxRetryCount: 3, QueueLimit: 10, QueueTimeout: time.Second}
	cluster, _ := newTestCluster(t, cfg, 10, 10)
	req := transporttest.NewRequest("/")

	if err := cluster.Schedule(context.Background(), req, "default"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitFinished(t, req)
	if req.Status() != 200 {
		t.Fatalf("expected 200, got %d", req.Status())
	}
}

func TestClusterDisabledRejectsImmediately(t *testing.T) {
	cfg := director.ClusterConfig{Name: "c1", Enabled: false}
	cluster, _ := newTestCluster(t, cfg, 10, 10)
	req := transporttest.NewRequest("/")

	if err := cluster.Schedule(context.Background(), req, "default"); err != director.ErrClusterDisabled {
		t.Fatalf("expected ErrClusterDisabled, got %v", err)
	}
	if req.Status() != 503 {
		t.Fatalf("expected 503, got %d", req.Status())
	}
}

func TestClusterUnknownBucketErrors(t *testing.T) {
	cfg := director.ClusterConfig{Name: "c1", Enabled: true, MaxRetryCount: 1}
	cluster, _ := newTestCluster(t, cfg, 10, 10)
	req := transporttest.NewRequest("/")
	if err := cluster.Schedule(context.Background(), req, "nope"); err != director.ErrBucketNotFound {
		t.Fatalf("expected ErrBucketNotFound, got %v", err)
	}
}

func TestClusterRetriesOnBackendFailureThenSucceeds(t *testing.T) {
	cfg := director.ClusterConfig{Name: "c1", Enabled: true, MaxRetryCount: 3, QueueLimit: 10, QueueTimeout: time.Second}
	shaper := director.NewTokenShaper()
	shaper.CreateNode("default", "", 10, 10)
	pool := director.NewBackendPool(director.NewRoundRobinPolicy())
	flaky := transporttest.New().WithResults(errRetry(), nil)
	pool.Add(director.NewBackend("b1", director.RoleActive, 10, flaky))
	cluster := director.NewCluster(cfg, shaper, pool)

	req := transporttest.NewRequest("/")
	if err := cluster.Schedule(context.Background(), req, "default"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitFinished(t, req)
	if req.Status() != 200 {
		t.Fatalf("expected 200 after retry, got %d", req.Status())
	}
}

func TestClusterExhaustsRetriesAndReturns503(t *testing.T) {
	cfg := director.ClusterConfig{Name: "c1", Enabled: true, MaxRetryCount: 2, QueueLimit: 10, QueueTimeout: time.Second}
	shaper := director.NewTokenShaper()
	shaper.CreateNode("default", "", 10, 10)
	pool := director.NewBackendPool(director.NewRoundRobinPolicy())
	alwaysFails := transporttest.New().WithResults(errRetry(), errRetry(), errRetry())
	pool.Add(director.NewBackend("b1", director.RoleActive, 10, alwaysFails))
	cluster := director.NewCluster(cfg, shaper, pool)

	req := transporttest.NewRequest("/")
	if err := cluster.Schedule(context.Background(), req, "default"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitFinished(t, req)
	if req.Status() != 503 {
		t.Fatalf("expected 503, got %d", req.Status())
	}
}

func TestClusterQueuesWhenNoTokenThenDrainsOnSweep(t *testing.T) {
	cfg := director.ClusterConfig{Name: "c1", Enabled: true, MaxRetryCount: 3, QueueLimit: 10, QueueTimeout: time.Second}
	shaper := director.NewTokenShaper()
	shaper.CreateNode("default", "", 1, 1)
	pool := director.NewBackendPool(director.NewRoundRobinPolicy())

	release := make(chan struct{})
	started := make(chan struct{})
	var startedOnce sync.Once
	slow := transporttest.New().WithDelay(func() {
		startedOnce.Do(func() { close(started) })
		<-release
	})
	pool.Add(director.NewBackend("b1", director.RoleActive, 10, slow))
	cluster := director.NewCluster(cfg, shaper, pool)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cluster.Run(ctx)

	first := transporttest.NewRequest("/")
	done := make(chan struct{})
	go func() {
		cluster.Schedule(ctx, first, "default")
		close(done)
	}()
	<-started // first request now holds the single token

	second := transporttest.NewRequest("/")
	if err := cluster.Schedule(ctx, second, "default"); err != nil {
		t.Fatalf("expected queueing, not an error, got %v", err)
	}
	if second.Finished() {
		t.Fatal("expected second request to be queued, not finished yet")
	}

	close(release)
	<-done

	deadline := time.After(time.Second)
	for !second.Finished() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for queued request to drain")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if second.Status() != 200 {
		t.Fatalf("expected queued request to eventually succeed, got status %d", second.Status())
	}
}

func TestClusterScheduleOnUnknownBackend(t *testing.T) {
	cfg := director.ClusterConfig{Name: "c1", Enabled: true, MaxRetryCount: 1}
	cluster, _ := newTestCluster(t, cfg, 10, 10)
	req := transporttest.NewRequest("/")
	if err := cluster.ScheduleOn(context.Background(), req, "missing"); err != director.ErrBackendNotFound {
		t.Fatalf("expected ErrBackendNotFound, got %v", err)
	}
}

func errRetry() error { return errCanned }

var errCanned = &cannedErr{"backend failure"}

type cannedErr struct{ msg string }

func (e *cannedErr) Error() string { return e.msg }
