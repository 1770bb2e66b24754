package auth

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrNoCredential is returned when no source holds an access credential.
var ErrNoCredential = errors.New("no credential available")

// Tokens is the persisted credential pair.
type Tokens struct {
	Access  string `yaml:"access" json:"access"`
	Refresh string `yaml:"refresh" json:"refresh"`
}

// Empty reports whether no access credential is present.
func (t Tokens) Empty() bool {
	return strings.TrimSpace(t.Access) == ""
}

// Store is a credential store: read-only Tokens, mutating Clear.
type Store interface {
	Tokens() (Tokens, error)
	Clear() error
}

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens Tokens
}

// NewMemoryStore creates a store holding tokens.
func NewMemoryStore(tokens Tokens) *MemoryStore {
	return &MemoryStore{tokens: tokens}
}

// Tokens implements Store.
func (s *MemoryStore) Tokens() (Tokens, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens, nil
}

// Set replaces the stored tokens.
func (s *MemoryStore) Set(tokens Tokens) {
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
}

// Clear implements Store.
func (s *MemoryStore) Clear() error {
	s.Set(Tokens{})
	return nil
}

// EnvStore reads credentials from environment variables. It backs the legacy
// fallback source used before credentials moved into a persisted store.
type EnvStore struct {
	AccessVar  string
	RefreshVar string
}

// Tokens implements Store.
func (s EnvStore) Tokens() (Tokens, error) {
	var t Tokens
	if s.AccessVar != "" {
		t.Access = strings.TrimSpace(os.Getenv(s.AccessVar))
	}
	if s.RefreshVar != "" {
		t.Refresh = strings.TrimSpace(os.Getenv(s.RefreshVar))
	}
	return t, nil
}

// Clear implements Store by unsetting the variables for this process.
func (s EnvStore) Clear() error {
	var errs []error
	for _, name := range []string{s.AccessVar, s.RefreshVar} {
		if name == "" {
			continue
		}
		if err := os.Unsetenv(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
