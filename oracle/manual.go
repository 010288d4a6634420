package oracle

import (
	"context"
	"fmt"
	"sync"

	"builderbuddy-backend/core/marketplace"
)

// Request is a score request recorded by ManualOracle.
type Request struct {
	ID  string                   `json:"id"`
	Req marketplace.ScoreRequest `json:"request"`
}

// ManualOracle records requests and leaves fulfillment to the caller.
// Useful in tests and for operator-driven fulfillment over the API.
type ManualOracle struct {
	mu      sync.Mutex
	address marketplace.Address
	next    int
	reqs    []Request
}

func NewManualOracle(address marketplace.Address) *ManualOracle {
	return &ManualOracle{address: address}
}

func (m *ManualOracle) Address() marketplace.Address { return m.address }

func (m *ManualOracle) SubmitScoreRequest(ctx context.Context, req marketplace.ScoreRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := fmt.Sprintf("manual-%d", m.next)
	m.reqs = append(m.reqs, Request{ID: id, Req: req})
	return id, nil
}

// Requests lists every request seen so far.
func (m *ManualOracle) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.reqs...)
}

// Last returns the most recent request.
func (m *ManualOracle) Last() (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reqs) == 0 {
		return Request{}, false
	}
	return m.reqs[len(m.reqs)-1], true
}

// Fulfill answers request id with score as the oracle.
func (m *ManualOracle) Fulfill(f marketplace.Fulfiller, id string, score uint64) error {
	return f.OracleFulfill(m.address, id, score)
}
