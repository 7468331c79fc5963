package tokens

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/dmarceau/swapcli/internal/registry"
)

// Store holds the per-chain overlay of user-imported tokens for the
// current session. Imported entries shadow same-symbol registry entries.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create token store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create token lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS imported_tokens (
			chain_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			address TEXT NOT NULL,
			decimals INTEGER NOT NULL,
			name TEXT NOT NULL,
			imported_at INTEGER NOT NULL,
			PRIMARY KEY (chain_id, symbol)
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init token store schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put inserts or replaces an imported token. The row is written in one
// statement so a concurrent reader never observes a partial entry.
func (s *Store) Put(chainID int64, tok registry.Token) error {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock token store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock token store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO imported_tokens (chain_id, symbol, address, decimals, name, imported_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		chainID, tok.Symbol, tok.Address, tok.Decimals, tok.Name, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save imported token: %w", err)
	}
	return nil
}

func (s *Store) Get(chainID int64, symbol string) (registry.Token, bool, error) {
	row := s.db.QueryRow(
		"SELECT symbol, address, decimals, name FROM imported_tokens WHERE chain_id = ? AND symbol = ?",
		chainID, symbol,
	)
	var tok registry.Token
	if err := row.Scan(&tok.Symbol, &tok.Address, &tok.Decimals, &tok.Name); err != nil {
		if err == sql.ErrNoRows {
			return registry.Token{}, false, nil
		}
		return registry.Token{}, false, fmt.Errorf("read imported token: %w", err)
	}
	return tok, true, nil
}

// List returns a chain's imported tokens, oldest import first.
func (s *Store) List(chainID int64) ([]registry.Token, error) {
	rows, err := s.db.Query(
		"SELECT symbol, address, decimals, name FROM imported_tokens WHERE chain_id = ? ORDER BY imported_at, symbol",
		chainID,
	)
	if err != nil {
		return nil, fmt.Errorf("list imported tokens: %w", err)
	}
	defer rows.Close()

	var out []registry.Token
	for rows.Next() {
		var tok registry.Token
		if err := rows.Scan(&tok.Symbol, &tok.Address, &tok.Decimals, &tok.Name); err != nil {
			return nil, fmt.Errorf("scan imported token: %w", err)
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}
