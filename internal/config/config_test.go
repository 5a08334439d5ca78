package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("DIRECTOR_QUEUE_LIMIT")
	cfg, err := Load("nonexistent.ini")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Director.QueueLimit != 100 {
		t.Fatalf("expected default queue-limit 100, got %d", cfg.Director.QueueLimit)
	}
	if cfg.Director.Scheduler != "rr" {
		t.Fatalf("expected default scheduler rr, got %q", cfg.Director.Scheduler)
	}
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.Director.QueueLimit = -1
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for negative queue-limit")
	}

	cfg = defaultConfig()
	cfg.Director.OnClientAbort = "explode"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for invalid on-client-abort")
	}

	cfg = defaultConfig()
	cfg.Backends["a"] = Backend{Name: "a", Protocol: "http", Capacity: 1}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for backend missing path/host")
	}

	cfg = defaultConfig()
	cfg.Buckets["b"] = Bucket{Name: "b", Rate: 10, Ceil: 5}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for ceil < rate")
	}
}

func TestParseClientAbortAction(t *testing.T) {
	for _, s := range []string{"ignore", "close", "notify", ""} {
		if _, err := ParseClientAbortAction(s); err != nil {
			t.Fatalf("unexpected error for %q: %v", s, err)
		}
	}
	if _, err := ParseClientAbortAction("bogus"); err == nil {
		t.Fatalf("expected error for bogus action")
	}
}
