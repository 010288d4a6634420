package marketplace

import (
	"context"
	"errors"
	"fmt"

	"builderbuddy-backend/core/marketplace"
)

// ErrNoSnapshot is returned by LoadSnapshot when nothing has been saved.
var ErrNoSnapshot = errors.New("no snapshot stored")

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	Type     string
	UserID   string
	OrderID  *uint64
	AfterSeq uint64
	Limit    int
}

// Matches reports whether evt passes the filter (ignoring Limit).
func (f EventFilter) Matches(evt marketplace.Event) bool {
	if f.Type != "" && evt.Type != f.Type {
		return false
	}
	if f.UserID != "" && evt.UserID != f.UserID && evt.ContractorID != f.UserID {
		return false
	}
	if f.OrderID != nil && (evt.OrderID == nil || *evt.OrderID != *f.OrderID) {
		return false
	}
	return evt.Seq > f.AfterSeq
}

// Store persists the event journal and state snapshots.
// ListEvents returns events in ascending sequence order; with a Limit it
// returns the latest Limit matches.
type Store interface {
	AppendEvent(ctx context.Context, evt marketplace.Event) error
	ListEvents(ctx context.Context, filter EventFilter) ([]marketplace.Event, error)
	SaveSnapshot(ctx context.Context, seq uint64, data []byte) error
	LoadSnapshot(ctx context.Context) (uint64, []byte, error)
	Close()
}

// Open selects a store driver: "memory", "postgres" or "sqlite". dsn is the
// Postgres connection string or the SQLite file path.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(DefaultMemoryEvents), nil
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres driver needs a dsn")
		}
		s, err := NewPGStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := OpenSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
