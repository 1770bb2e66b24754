package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileStore persists credentials as a YAML document on disk. Reads are
// served from a cache that Watch keeps current when the file changes.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	cached Tokens
	loaded bool
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger.With("store", "file")}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Tokens implements Store. A missing file yields empty tokens.
func (s *FileStore) Tokens() (Tokens, error) {
	s.mu.RLock()
	if s.loaded {
		t := s.cached
		s.mu.RUnlock()
		return t, nil
	}
	s.mu.RUnlock()
	return s.reload()
}

func (s *FileStore) reload() (Tokens, error) {
	t, err := readTokenFile(s.path)
	if err != nil {
		return Tokens{}, err
	}
	s.mu.Lock()
	s.cached = t
	s.loaded = true
	s.mu.Unlock()
	return t, nil
}

func readTokenFile(path string) (Tokens, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Tokens{}, nil
	}
	if err != nil {
		return Tokens{}, fmt.Errorf("read credentials: %w", err)
	}
	var t Tokens
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tokens{}, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	return t, nil
}

// Save writes tokens to disk with owner-only permissions.
func (s *FileStore) Save(t Tokens) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace credentials: %w", err)
	}
	s.mu.Lock()
	s.cached = t
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// Clear implements Store by removing the file.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	s.cached = Tokens{}
	s.loaded = true
	s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

// Watch reloads the cache whenever the credential file changes, until ctx
// is done. The parent directory is watched so atomic replaces are seen.
func (s *FileStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		_ = watcher.Close()
		return err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if _, err := s.reload(); err != nil {
					s.logger.Warn("credential reload failed", "error", err)
					continue
				}
				s.logger.Debug("credentials reloaded", "op", event.Op.String())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("credential watch error", "error", err)
			}
		}
	}()
	return nil
}
