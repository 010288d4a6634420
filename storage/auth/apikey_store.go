package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// APIKey binds an issued key to the caller address it authenticates.
type APIKey struct {
	Key       string    `json:"key,omitempty"`
	Address   string    `json:"address"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Source    string    `json:"source,omitempty"` // e.g. "config", "issued"
}

// KeyResolver maps a presented key to its caller address.
type KeyResolver interface {
	Resolve(key string) (APIKey, bool)
}

// KeyIssuer creates new keys for an address.
type KeyIssuer interface {
	Issue(address, label, source string) (APIKey, error)
}

// APIKeyStore keeps keys in memory, indexed by their hash.
type APIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]APIKey
}

// NewAPIKeyStore constructs an empty store.
func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{keys: make(map[string]APIKey)}
}

// Seed adds a pre-existing key (e.g., from config).
func (s *APIKeyStore) Seed(key, address, source string) {
	key = strings.TrimSpace(key)
	if key == "" || strings.TrimSpace(address) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[HashKey(key)] = APIKey{Address: address, Source: source, CreatedAt: time.Now()}
}

// Resolve returns the record for key. The stored record never carries the
// plain key.
func (s *APIKeyStore) Resolve(key string) (APIKey, bool) {
	if key == "" {
		return APIKey{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.keys[HashKey(key)]
	return rec, ok
}

// Issue creates and stores a new API key. The plain key is only returned here.
func (s *APIKeyStore) Issue(address, label, source string) (APIKey, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return APIKey{}, fmt.Errorf("address required")
	}
	key, err := generateKey()
	if err != nil {
		return APIKey{}, err
	}
	rec := APIKey{Address: address, Label: label, Source: source, CreatedAt: time.Now()}
	s.mu.Lock()
	s.keys[HashKey(key)] = rec
	s.mu.Unlock()
	rec.Key = key
	return rec, nil
}

// HashKey is the lookup digest stored in place of a key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func generateKey() (string, error) {
	b := make([]byte, 32) // 256-bit key
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
