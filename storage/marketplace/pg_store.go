package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"builderbuddy-backend/core/marketplace"
)

// PGStore persists the journal and snapshots in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects and initializes the schema.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS bb_events (
  seq BIGINT PRIMARY KEY,
  type TEXT NOT NULL,
  user_id TEXT NOT NULL DEFAULT '',
  contractor_id TEXT NOT NULL DEFAULT '',
  order_id BIGINT,
  payload JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bb_events_type ON bb_events(type);
CREATE INDEX IF NOT EXISTS idx_bb_events_order ON bb_events(order_id);
CREATE TABLE IF NOT EXISTS bb_snapshots (
  seq BIGINT PRIMARY KEY,
  data BYTEA NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PGStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func nullableOrder(id *uint64) *int64 {
	if id == nil {
		return nil
	}
	v := int64(*id)
	return &v
}

func (s *PGStore) AppendEvent(ctx context.Context, evt marketplace.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO bb_events (seq, type, user_id, contractor_id, order_id, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (seq) DO NOTHING
`, int64(evt.Seq), evt.Type, evt.UserID, evt.ContractorID, nullableOrder(evt.OrderID), payload, evt.CreatedAt)
	return err
}

func (s *PGStore) ListEvents(ctx context.Context, filter EventFilter) ([]marketplace.Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
SELECT payload FROM (
  SELECT seq, payload FROM bb_events
  WHERE ($1 = '' OR type = $1)
    AND ($2 = '' OR user_id = $2 OR contractor_id = $2)
    AND ($3::BIGINT IS NULL OR order_id = $3)
    AND seq > $4
  ORDER BY seq DESC
  LIMIT $5
) recent ORDER BY seq ASC
`, filter.Type, filter.UserID, nullableOrder(filter.OrderID), int64(filter.AfterSeq), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []marketplace.Event
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var evt marketplace.Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// SaveSnapshot stores data and prunes all but the three newest snapshots.
func (s *PGStore) SaveSnapshot(ctx context.Context, seq uint64, data []byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO bb_snapshots (seq, data) VALUES ($1, $2)
ON CONFLICT (seq) DO UPDATE SET data = EXCLUDED.data, created_at = now()
`, int64(seq), data); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
DELETE FROM bb_snapshots WHERE seq NOT IN (SELECT seq FROM bb_snapshots ORDER BY seq DESC LIMIT 3)
`); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) LoadSnapshot(ctx context.Context) (uint64, []byte, error) {
	var seq int64
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT seq, data FROM bb_snapshots ORDER BY seq DESC LIMIT 1`).Scan(&seq, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, ErrNoSnapshot
	}
	if err != nil {
		return 0, nil, err
	}
	return uint64(seq), data, nil
}
