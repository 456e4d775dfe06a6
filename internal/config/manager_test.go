package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestRWMutexManagerGetSet(t *testing.T) {
	initial := &Config{General: General{LogLevel: "info"}}
	mgr := NewManager(initial)

	got := mgr.Get()
	if got == nil {
		t.Fatal("expected initial config snapshot")
	}
	if got == initial {
		t.Fatal("expected manager to store a cloned config on bootstrap")
	}
	if got.General.LogLevel != "info" {
		t.Fatalf("unexpected initial log level: %q", got.General.LogLevel)
	}

	next := &Config{General: General{LogLevel: "debug"}}
	mgr.Set(next)
	next.General.LogLevel = "error" // mutating the caller's copy must not leak in

	updated := mgr.Get()
	if updated == next {
		t.Fatal("expected manager to clone Set input")
	}
	if updated.General.LogLevel != "debug" {
		t.Fatalf("expected Set to keep its own snapshot, got %q", updated.General.LogLevel)
	}
}

func TestRWMutexManagerNilReceiver(t *testing.T) {
	var mgr *RWMutexManager
	if mgr.Get() != nil {
		t.Fatal("expected nil Get on nil manager")
	}
	mgr.Set(&Config{}) // must not panic
	if err := mgr.Reload("whatever"); err == nil {
		t.Fatal("expected error reloading a nil manager")
	}
}

func TestRWMutexManagerReload(t *testing.T) {
	path := writeTestConfig(t, minimalValidConfigTOML)
	mgr := NewManager(&Config{})

	if err := mgr.Reload(path); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	cfg := mgr.Get()
	if cfg == nil {
		t.Fatal("expected config after reload")
	}
	if _, ok := cfg.Chains["ethereum"]; !ok {
		t.Fatal("expected ethereum chain from reloaded config")
	}
}

func TestRWMutexManagerReloadRejectsEmptyPath(t *testing.T) {
	mgr := NewManager(&Config{})
	if err := mgr.Reload(""); err == nil {
		t.Fatal("expected error for empty reload path")
	}
}

func TestRWMutexManagerConcurrentAccess(t *testing.T) {
	mgr := NewManager(&Config{General: General{LogLevel: "info"}})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = mgr.Get()
		}()
		go func(level string) {
			defer wg.Done()
			mgr.Set(&Config{General: General{LogLevel: level}})
		}("debug")
	}
	wg.Wait()
}

func writeTestConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bugbot.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}
