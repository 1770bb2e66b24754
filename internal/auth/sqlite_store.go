package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const (
	keyAccess  = "access_token"
	keyRefresh = "refresh_token"

	sqliteTimeout = 5 * time.Second
)

// SQLiteStore keeps credentials in a key/value table. It is the legacy
// location older clients wrote to.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open credential db: %w", err)
	}
	s := NewSQLiteStore(db)
	if err := s.Init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Init creates the credentials table.
func (s *SQLiteStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS credentials (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create credentials table: %w", err)
	}
	return nil
}

// Tokens implements Store.
func (s *SQLiteStore) Tokens() (Tokens, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM credentials WHERE key IN (?, ?)", keyAccess, keyRefresh)
	if err != nil {
		return Tokens{}, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var t Tokens
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Tokens{}, fmt.Errorf("scan credential: %w", err)
		}
		switch key {
		case keyAccess:
			t.Access = value
		case keyRefresh:
			t.Refresh = value
		}
	}
	if err := rows.Err(); err != nil {
		return Tokens{}, err
	}
	return t, nil
}

// Save upserts both credentials in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, t Tokens) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	now := time.Now().UTC()
	for _, kv := range [][2]string{{keyAccess, t.Access}, {keyRefresh, t.Refresh}} {
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
			kv[0], kv[1], now); err != nil {
			return fmt.Errorf("save %s: %w", kv[0], err)
		}
	}
	return tx.Commit()
}

// Clear implements Store.
func (s *SQLiteStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM credentials WHERE key IN (?, ?)", keyAccess, keyRefresh); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
