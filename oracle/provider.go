package oracle

import (
	"context"
	"sync"

	"builderbuddy-backend/core/marketplace"
)

// ScoreProvider computes a reputation score for a registration request.
type ScoreProvider interface {
	FetchScore(ctx context.Context, req marketplace.ScoreRequest) (uint64, error)
}

// NewScoreProvider selects a provider based on name.
func NewScoreProvider(name, base, apiKey string, defaultScore uint64) ScoreProvider {
	switch name {
	case "gitcoin":
		return NewGitcoinScoreProvider(base, apiKey)
	default:
		return NewMockScoreProvider(defaultScore, nil)
	}
}

// MockScoreProvider answers from a seeded table without external calls.
type MockScoreProvider struct {
	mu           sync.Mutex
	defaultScore uint64
	scores       map[string]uint64
}

// NewMockScoreProvider returns defaultScore for users missing from seed.
func NewMockScoreProvider(defaultScore uint64, seed map[string]uint64) *MockScoreProvider {
	scores := make(map[string]uint64, len(seed))
	for k, v := range seed {
		scores[k] = v
	}
	return &MockScoreProvider{defaultScore: defaultScore, scores: scores}
}

// Set seeds the score returned for userID.
func (m *MockScoreProvider) Set(userID string, score uint64) {
	m.mu.Lock()
	m.scores[userID] = score
	m.mu.Unlock()
}

func (m *MockScoreProvider) FetchScore(ctx context.Context, req marketplace.ScoreRequest) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.scores[req.UserID]; ok {
		return s, nil
	}
	return m.defaultScore, nil
}
