package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStateStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")

	s := NewStateStore(path)
	if err := s.Load(); err != nil {
		t.Fatalf("Load() on missing file error = %v", err)
	}
	if got := s.LastAddress(); got != "" {
		t.Errorf("LastAddress() = %q, want empty", got)
	}

	if err := s.SaveLastAddress("AA:BB:CC:DD:EE:FF"); err != nil {
		t.Fatalf("SaveLastAddress() error = %v", err)
	}
	if got := s.LastAddress(); got != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("LastAddress() = %q", got)
	}

	reopened := NewStateStore(path)
	if err := reopened.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := reopened.LastAddress(); got != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("reloaded LastAddress() = %q", got)
	}
}

func TestStateStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStateStore(filepath.Join(dir, "state.yaml"))

	for _, addr := range []string{"AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02"} {
		if err := s.SaveLastAddress(addr); err != nil {
			t.Fatalf("SaveLastAddress(%q) error = %v", addr, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.yaml" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("state dir = %v, want [state.yaml]", names)
	}
}

func TestStateStoreLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte("last_address: [oops"), 0644); err != nil {
		t.Fatalf("failed to write state: %v", err)
	}

	if err := NewStateStore(path).Load(); err == nil {
		t.Error("Load() should return error for invalid YAML")
	}
}
