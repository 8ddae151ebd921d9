package memory

import (
	"context"
	"sync"

	"github.com/xenking/storefront/internal/domain/auth"
)

var _ auth.Repository = (*APIKeys)(nil)

// APIKeys is a static API key table keyed by hash.
type APIKeys struct {
	mu   sync.RWMutex
	keys map[string]auth.APIKeyInfo
}

// NewAPIKeys returns an empty key table.
func NewAPIKeys() *APIKeys {
	return &APIKeys{keys: make(map[string]auth.APIKeyInfo)}
}

// Add registers a key under its hash.
func (r *APIKeys) Add(info auth.APIKeyInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[info.KeyHash] = info
}

// FindByHash returns the key registered under hash.
func (r *APIKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.keys[hash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &info, nil
}
