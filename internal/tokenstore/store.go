// Package tokenstore holds the current access/refresh token pair in memory
// and mirrors it to a durable Backend.
//
// The in-memory pair is authoritative. A Backend that fails to save or
// delete is logged and otherwise ignored so a broken disk or Redis never
// blocks an otherwise healthy session.
package tokenstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aelexs/authclient/internal/domain"
)

// TokenPair is the access/refresh credential pair issued by the auth server.
// Both halves are present or the pair is absent.
type TokenPair struct {
	Access  domain.SecretString
	Refresh domain.SecretString
}

// NewTokenPair wraps raw token strings.
func NewTokenPair(access, refresh string) TokenPair {
	return TokenPair{
		Access:  domain.SecretString(access),
		Refresh: domain.SecretString(refresh),
	}
}

// Validate returns domain.ErrInvalidTokenPair unless both halves are set.
func (p TokenPair) Validate() error {
	if p.Access.IsEmpty() || p.Refresh.IsEmpty() {
		return domain.ErrInvalidTokenPair
	}
	return nil
}

// IsZero reports whether neither half is set.
func (p TokenPair) IsZero() bool {
	return p.Access.IsEmpty() && p.Refresh.IsEmpty()
}

// Backend persists a token pair under the accessToken and refreshToken keys.
// Load returns domain.ErrNotFound when nothing is stored. Delete of an absent
// pair is not an error.
type Backend interface {
	Load(ctx context.Context) (TokenPair, error)
	Save(ctx context.Context, pair TokenPair) error
	Delete(ctx context.Context) error
}

// Store is safe for concurrent use.
type Store struct {
	// writeMu orders backend writes so the durable copy ends up matching
	// the last in-memory update. mu guards pair only.
	writeMu sync.Mutex
	mu      sync.RWMutex
	pair    TokenPair

	backend Backend
	logger  *slog.Logger
}

// Open creates a Store and loads any pair persisted in backend. A load
// failure or a half-present pair leaves the store empty.
func Open(ctx context.Context, backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if backend == nil {
		backend = NewMemoryBackend()
	}
	s := &Store{backend: backend, logger: logger}

	pair, err := backend.Load(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		logger.Warn("token backend load failed, starting unauthenticated", slog.Any("error", err))
	case pair.Validate() != nil:
		if !pair.IsZero() {
			logger.Warn("ignoring incomplete persisted token pair")
		}
	default:
		s.pair = pair
		logger.Debug("loaded persisted token pair")
	}
	return s
}

// NewMemory returns an empty Store backed by a MemoryBackend.
func NewMemory() *Store {
	return Open(context.Background(), NewMemoryBackend(), nil)
}

// Get returns the current pair and whether one is present.
func (s *Store) Get() (TokenPair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, !s.pair.IsZero()
}

// AccessToken returns the current access token, or "" when absent.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.Access.Expose()
}

// RefreshToken returns the current refresh token, or "" when absent.
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.Refresh.Expose()
}

// IsAuthenticated reports whether an access token is present. It does not
// check expiry.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.pair.Access.IsEmpty()
}

// Set replaces the pair in memory and in the backend.
// A pair missing either half is rejected with domain.ErrInvalidTokenPair
// and the store is left unchanged.
func (s *Store) Set(ctx context.Context, pair TokenPair) error {
	if err := pair.Validate(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.pair = pair
	s.mu.Unlock()

	if err := s.backend.Save(ctx, pair); err != nil {
		s.logger.Warn("token backend save failed", slog.Any("error", err))
	}
	return nil
}

// Clear removes the pair from memory and the backend. Idempotent.
func (s *Store) Clear(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.pair = TokenPair{}
	s.mu.Unlock()

	if err := s.backend.Delete(ctx); err != nil {
		s.logger.Warn("token backend delete failed", slog.Any("error", err))
	}
}

// SetIfRefresh replaces the pair only if the store still holds the refresh
// token expected. It reports false and leaves the store untouched when the
// pair was cleared or replaced since expected was read.
func (s *Store) SetIfRefresh(ctx context.Context, expected domain.SecretString, pair TokenPair) (bool, error) {
	if err := pair.Validate(); err != nil {
		return false, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if expected.IsEmpty() || s.pair.Refresh != expected {
		s.mu.Unlock()
		return false, nil
	}
	s.pair = pair
	s.mu.Unlock()

	if err := s.backend.Save(ctx, pair); err != nil {
		s.logger.Warn("token backend save failed", slog.Any("error", err))
	}
	return true, nil
}

// ClearIfRefresh clears the store only if it still holds the refresh token
// expected, and reports whether it did.
func (s *Store) ClearIfRefresh(ctx context.Context, expected domain.SecretString) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if expected.IsEmpty() || s.pair.Refresh != expected {
		s.mu.Unlock()
		return false
	}
	s.pair = TokenPair{}
	s.mu.Unlock()

	if err := s.backend.Delete(ctx); err != nil {
		s.logger.Warn("token backend delete failed", slog.Any("error", err))
	}
	return true
}
