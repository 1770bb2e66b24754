package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/chatlink/internal/auth"
	"github.com/haasonsaas/chatlink/internal/config"
)

// Credentials is the ordered list of stores the guard reads from: the
// primary store, then the legacy file, then the environment.
type Credentials struct {
	sources []auth.Store
	primary auth.Store
	file    *auth.FileStore
	sqlite  *auth.SQLiteStore
	memory  *auth.MemoryStore
}

// OpenCredentials opens the stores described by cfg.
func OpenCredentials(cfg config.CredentialsConfig, logger *slog.Logger) (*Credentials, error) {
	return openCredentials(cfg, nil, logger)
}

func openCredentials(cfg config.CredentialsConfig, override auth.Store, logger *slog.Logger) (*Credentials, error) {
	cs := &Credentials{}
	switch {
	case override != nil:
		cs.primary = override
	case cfg.Backend == config.BackendSQLite:
		store, err := auth.OpenSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open credential store: %w", err)
		}
		if err := store.Init(context.Background()); err != nil {
			return nil, errors.Join(fmt.Errorf("init credential store: %w", err), store.Close())
		}
		cs.sqlite = store
		cs.primary = store
	case cfg.Backend == config.BackendMemory:
		cs.memory = auth.NewMemoryStore(auth.Tokens{})
		cs.primary = cs.memory
	default:
		cs.file = auth.NewFileStore(cfg.Path, logger)
		cs.primary = cs.file
	}
	cs.sources = append(cs.sources, cs.primary)

	if cfg.LegacyPath != "" {
		cs.sources = append(cs.sources, auth.NewFileStore(cfg.LegacyPath, logger))
	}
	if cfg.AccessEnv != "" {
		cs.sources = append(cs.sources, auth.EnvStore{AccessVar: cfg.AccessEnv, RefreshVar: cfg.RefreshEnv})
	}
	return cs, nil
}

// Sources returns the stores in lookup order.
func (cs *Credentials) Sources() []auth.Store { return cs.sources }

// Save writes tokens to the primary store.
func (cs *Credentials) Save(ctx context.Context, t auth.Tokens) error {
	switch {
	case cs.sqlite != nil:
		return cs.sqlite.Save(ctx, t)
	case cs.file != nil:
		return cs.file.Save(t)
	case cs.memory != nil:
		cs.memory.Set(t)
		return nil
	default:
		return errors.New("credential store is read-only")
	}
}

// Clear removes credentials from every store.
func (cs *Credentials) Clear() error {
	var errs []error
	for _, s := range cs.sources {
		if err := s.Clear(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases the stores.
func (cs *Credentials) Close() error {
	if cs.sqlite == nil {
		return nil
	}
	return cs.sqlite.Close()
}
