package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	clierr "github.com/dmarceau/swapcli/internal/errors"
)

// Store persists swap plans in sqlite so interrupted runs can be
// inspected and resumed. Writes take a file lock since multiple CLI
// invocations may share the database.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create plan store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create plan lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open plan sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS plans (
			plan_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			from_symbol TEXT NOT NULL,
			to_symbol TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_plans_status_updated ON plans(status, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init plan schema: %w", err)
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

func (s *Store) Save(plan Plan) error {
	if strings.TrimSpace(plan.PlanID) == "" {
		return fmt.Errorf("save plan: missing plan id")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock plan store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock plan store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	payload, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	createdUnix := rfc3339Unix(plan.CreatedAt)
	updatedUnix := rfc3339Unix(plan.UpdatedAt)

	_, err = s.db.Exec(`
		INSERT INTO plans (plan_id, status, chain_id, from_symbol, to_symbol, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plan_id) DO UPDATE SET
			status=excluded.status,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, plan.PlanID, plan.Status, plan.ChainID, plan.FromSymbol, plan.ToSymbol, createdUnix, updatedUnix, payload)
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

func (s *Store) Get(planID string) (Plan, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM plans WHERE plan_id = ?", planID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Plan{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("plan not found: %s", planID))
		}
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}
	var plan Plan
	if err := json.Unmarshal(payload, &plan); err != nil {
		return Plan{}, fmt.Errorf("decode plan payload: %w", err)
	}
	return plan, nil
}

func (s *Store) List(status string, limit int) ([]Plan, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(status) == "" {
		rows, err = s.db.Query("SELECT payload FROM plans ORDER BY updated_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.Query("SELECT payload FROM plans WHERE status = ? ORDER BY updated_at DESC LIMIT ?", status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	plans := make([]Plan, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan plan row: %w", err)
		}
		var plan Plan
		if err := json.Unmarshal(payload, &plan); err != nil {
			return nil, fmt.Errorf("decode plan row: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan rows: %w", err)
	}
	return plans, nil
}

func rfc3339Unix(v string) int64 {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Now().UTC().Unix()
	}
	return t.UTC().Unix()
}
