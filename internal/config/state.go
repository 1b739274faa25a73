package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// State is what navibelt remembers between runs.
type State struct {
	LastAddress string    `yaml:"last_address,omitempty"`
	LastSeen    time.Time `yaml:"last_seen,omitempty"`
}

// StateStore persists State as YAML. It is safe for concurrent use.
type StateStore struct {
	path string

	mu    sync.Mutex
	state State
}

// NewStateStore returns a store backed by path. Nothing is read until Load.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: expandTilde(path)}
}

// Load reads the state file. A missing file yields an empty state.
func (s *StateStore) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading state file: %w", err)
	}
	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parsing state file: %w", err)
	}
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	return nil
}

// LastAddress returns the address of the last belt that completed a
// handshake, or "".
func (s *StateStore) LastAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastAddress
}

// SaveLastAddress records addr and writes the state file.
func (s *StateStore) SaveLastAddress(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastAddress = addr
	s.state.LastSeen = time.Now().UTC().Truncate(time.Second)
	return s.writeLocked()
}

// writeLocked replaces the state file through a temp file in the same
// directory.
func (s *StateStore) writeLocked() error {
	data, err := yaml.Marshal(&s.state)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
