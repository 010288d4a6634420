package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGAPIKeyStore persists API key hashes in Postgres.
type PGAPIKeyStore struct {
	pool *pgxpool.Pool
}

// NewPGAPIKeyStore connects and initializes schema.
func NewPGAPIKeyStore(ctx context.Context, dsn string) (*PGAPIKeyStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGAPIKeyStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGAPIKeyStore) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS bb_api_keys (
  key_hash TEXT PRIMARY KEY,
  address TEXT NOT NULL,
  label TEXT NOT NULL DEFAULT '',
  source TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_bb_api_keys_address ON bb_api_keys(address);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PGAPIKeyStore) Close() {
	s.pool.Close()
}

// Resolve implements KeyResolver.
func (s *PGAPIKeyStore) Resolve(key string) (APIKey, bool) {
	if key == "" {
		return APIKey{}, false
	}
	var rec APIKey
	err := s.pool.QueryRow(context.Background(),
		"SELECT address, label, source, created_at FROM bb_api_keys WHERE key_hash=$1",
		HashKey(key),
	).Scan(&rec.Address, &rec.Label, &rec.Source, &rec.CreatedAt)
	if err != nil {
		return APIKey{}, false
	}
	return rec, true
}

// Issue implements KeyIssuer.
func (s *PGAPIKeyStore) Issue(address, label, source string) (APIKey, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return APIKey{}, fmt.Errorf("address required")
	}
	key, err := generateKey()
	if err != nil {
		return APIKey{}, err
	}
	rec := APIKey{
		Key:       key,
		Address:   address,
		Label:     label,
		Source:    source,
		CreatedAt: time.Now(),
	}
	_, err = s.pool.Exec(context.Background(),
		"INSERT INTO bb_api_keys (key_hash, address, label, source, created_at) VALUES ($1,$2,$3,$4,$5)",
		HashKey(key), rec.Address, rec.Label, rec.Source, rec.CreatedAt)
	if err != nil {
		return APIKey{}, err
	}
	return rec, nil
}

// Seed inserts a provided key if not empty.
func (s *PGAPIKeyStore) Seed(key, address, source string) {
	if key == "" || address == "" {
		return
	}
	_, _ = s.pool.Exec(context.Background(), `
INSERT INTO bb_api_keys (key_hash, address, source, created_at) VALUES ($1,$2,$3,$4)
ON CONFLICT (key_hash) DO UPDATE SET address = EXCLUDED.address`,
		HashKey(key), address, source, time.Now())
}
