package marketplace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"builderbuddy-backend/core/marketplace"
)

// SQLiteStore persists the journal and snapshots in an embedded database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSQLiteSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY,
			type TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			contractor_id TEXT NOT NULL DEFAULT '',
			order_id INTEGER,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS events_type ON events(type);`,
		`CREATE INDEX IF NOT EXISTS events_order ON events(order_id);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			seq INTEGER PRIMARY KEY,
			data BLOB NOT NULL,
			created_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, evt marketplace.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (seq, type, user_id, contractor_id, order_id, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(evt.Seq), evt.Type, evt.UserID, evt.ContractorID, nullableOrder(evt.OrderID), string(payload), evt.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]marketplace.Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	var orderID any
	if filter.OrderID != nil {
		orderID = int64(*filter.OrderID)
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT payload FROM (
  SELECT seq, payload FROM events
  WHERE (?1 = '' OR type = ?1)
    AND (?2 = '' OR user_id = ?2 OR contractor_id = ?2)
    AND (?3 IS NULL OR order_id = ?3)
    AND seq > ?4
  ORDER BY seq DESC
  LIMIT ?5
) ORDER BY seq ASC`, filter.Type, filter.UserID, orderID, int64(filter.AfterSeq), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []marketplace.Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var evt marketplace.Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// SaveSnapshot stores data and prunes all but the three newest snapshots.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, seq uint64, data []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots (seq, data, created_at) VALUES (?, ?, ?)`,
		int64(seq), data, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE seq NOT IN (SELECT seq FROM snapshots ORDER BY seq DESC LIMIT 3)`); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (uint64, []byte, error) {
	var seq int64
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT seq, data FROM snapshots ORDER BY seq DESC LIMIT 1`).Scan(&seq, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, ErrNoSnapshot
	}
	if err != nil {
		return 0, nil, err
	}
	return uint64(seq), data, nil
}
