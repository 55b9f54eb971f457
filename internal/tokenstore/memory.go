package tokenstore

import (
	"context"
	"sync"

	"github.com/aelexs/authclient/internal/domain"
)

// MemoryBackend keeps the pair in process memory. Nothing survives a restart.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

// Load implements Backend.
func (b *MemoryBackend) Load(_ context.Context) (TokenPair, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	access, okA := b.values[domain.AccessTokenKey]
	refresh, okR := b.values[domain.RefreshTokenKey]
	if !okA && !okR {
		return TokenPair{}, domain.ErrNotFound
	}
	return NewTokenPair(access, refresh), nil
}

// Save implements Backend.
func (b *MemoryBackend) Save(_ context.Context, pair TokenPair) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.values[domain.AccessTokenKey] = pair.Access.Expose()
	b.values[domain.RefreshTokenKey] = pair.Refresh.Expose()
	return nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.values, domain.AccessTokenKey)
	delete(b.values, domain.RefreshTokenKey)
	return nil
}
