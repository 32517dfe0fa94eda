package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// DefaultFileName is the JSON document shared with the web layer.
const DefaultFileName = "system_state.json"

// FileStore keeps the state in a small JSON document. Writes go to a temp
// file that is renamed over the target, so readers never see a torn file.
//
// Once Watch is called Load serves an in-memory snapshot refreshed by
// fsnotify instead of reading the file every tick.
type FileStore struct {
	path   string
	logger *slog.Logger

	snapshot atomic.Pointer[ControlState]

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileStore creates a store for path. The file need not exist yet.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:   filepath.Clean(path),
		logger: logger.With("component", "state", "path", path),
	}
}

// Load returns the current state. A missing file yields Default.
func (s *FileStore) Load(ctx context.Context) (ControlState, error) {
	if snap := s.snapshot.Load(); snap != nil {
		return *snap, nil
	}
	return s.read()
}

func (s *FileStore) read() (ControlState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return ControlState{}, fmt.Errorf("failed to read state file: %w", err)
	}

	st := Default()
	if err := json.Unmarshal(data, &st); err != nil {
		return ControlState{}, fmt.Errorf("failed to parse state file: %w", err)
	}
	if err := st.Validate(); err != nil {
		return ControlState{}, err
	}
	return st, nil
}

// Save atomically replaces the file with st.
func (s *FileStore) Save(ctx context.Context, st ControlState) error {
	if err := st.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	if s.snapshot.Load() != nil {
		s.snapshot.Store(&st)
	}
	return nil
}

// Watch loads the current file into the snapshot and keeps it fresh.
// The directory is watched because renames replace the inode.
func (s *FileStore) Watch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher != nil {
		return nil
	}

	st, err := s.read()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	s.snapshot.Store(&st)
	s.watcher = watcher
	s.done = make(chan struct{})
	go s.watchLoop(watcher, s.done)
	return nil
}

func (s *FileStore) watchLoop(watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			st, err := s.read()
			if err != nil {
				// Keep serving the last good snapshot.
				s.logger.Warn("state reload failed", "error", err)
				continue
			}
			s.snapshot.Store(&st)
			s.logger.Debug("state reloaded", "armed", st.Armed, "sensitivity", st.Sensitivity)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("state watcher error", "error", err)
		}
	}
}

// Close stops the watcher, if any.
func (s *FileStore) Close() error {
	s.mu.Lock()
	watcher, done := s.watcher, s.done
	s.watcher, s.done = nil, nil
	s.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	return err
}
