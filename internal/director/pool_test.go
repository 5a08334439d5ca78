package director

import "testing"

func TestRoundRobinPolicyCyclesAndSkipsIneligible(t *testing.T) {
	pool := NewBackendPool(NewRoundRobinPolicy())
	a := NewBackend("a", RoleActive, 1, &stubTransport{})
	b := NewBackend("b", RoleActive, 1, &stubTransport{})
	c := NewBackend("c", RoleActive, 1, &stubTransport{})
	pool.Add(a)
	pool.Add(b)
	pool.Add(c)

	first := pool.next()
	second := pool.next()
	third := pool.next()
	if first == nil || second == nil || third == nil {
		t.Fatal("expected three distinct backends to be picked")
	}
	if first == second || second == third {
		t.Fatalf("expected round robin to rotate: %v %v %v", first.Name(), second.Name(), third.Name())
	}
}

func TestPoolPrefersActiveOverBackup(t *testing.T) {
	pool := NewBackendPool(NewRoundRobinPolicy())
	active := NewBackend("active", RoleActive, 10, &stubTransport{})
	backup := NewBackend("backup", RoleBackup, 10, &stubTransport{})
	pool.Add(active)
	pool.Add(backup)

	for i := 0; i < 5; i++ {
		got := pool.next()
		if got == nil || got.Name() != "active" {
			t.Fatalf("expected active backend to always win while eligible, got %v", got)
		}
	}
}

func TestPoolFallsBackToBackupWhenActiveExhausted(t *testing.T) {
	pool := NewBackendPool(NewRoundRobinPolicy())
	active := NewBackend("active", RoleActive, 1, &stubTransport{})
	backup := NewBackend("backup", RoleBackup, 1, &stubTransport{})
	active.SetEnabled(false)
	pool.Add(active)
	pool.Add(backup)

	got := pool.next()
	if got == nil || got.Name() != "backup" {
		t.Fatalf("expected fallback to backup, got %v", got)
	}
}

func TestChancePolicyOnlyReturnsEligibleBackends(t *testing.T) {
	pool := NewBackendPool(NewChancePolicy(1))
	a := NewBackend("a", RoleActive, 10, &stubTransport{})
	b := NewBackend("b", RoleActive, 10, &stubTransport{})
	b.SetEnabled(false)
	pool.Add(a)
	pool.Add(b)

	for i := 0; i < 20; i++ {
		got := pool.next()
		if got == nil || got.Name() != "a" {
			t.Fatalf("expected only eligible backend 'a' to be returned, got %v", got)
		}
	}
}

func TestChancePolicyIsDeterministicFromZero(t *testing.T) {
	pool := NewBackendPool(NewChancePolicy(1))
	a := NewBackend("a", RoleActive, 10, &stubTransport{})
	b := NewBackend("b", RoleActive, 10, &stubTransport{})
	pool.Add(a)
	pool.Add(b)

	// Chance always scans from index 0, so the first eligible backend in
	// storage order wins on every call, not a rotating cursor.
	for i := 0; i < 5; i++ {
		if got := pool.next(); got == nil || got.Name() != "a" {
			t.Fatalf("call %d: expected 'a' every time, got %v", i, got)
		}
	}
}

func TestBackendPoolFind(t *testing.T) {
	pool := NewBackendPool(NewRoundRobinPolicy())
	a := NewBackend("a", RoleActive, 10, &stubTransport{})
	pool.Add(a)
	if pool.Find("a") != a {
		t.Fatal("expected Find to locate backend by name")
	}
	if pool.Find("missing") != nil {
		t.Fatal("expected Find to return nil for unknown name")
	}
}
