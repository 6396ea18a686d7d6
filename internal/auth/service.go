// Package auth resolves bearer tokens to tenant identities. Lookups hit
// Postgres through storage.TokenStore and are cached in-process with a TTL;
// the cache is explicit state owned by the Service and injected where needed,
// never a package-level map.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/pulsegrid-lab/pulsegrid/internal/core/storage"
)

// ErrUnauthorized is returned for missing, malformed, unknown, or revoked
// tokens. Callers translate it to 401; the reason is deliberately opaque.
var ErrUnauthorized = errors.New("unauthorized")

// DefaultTokenTTL bounds how long a resolved token is served from cache.
const DefaultTokenTTL = time.Minute

// Identity is the authenticated caller.
type Identity struct {
	TenantID string
	Scopes   []string
}

// HasScope reports whether the identity carries the given scope.
func (i *Identity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type cacheEntry struct {
	identity  Identity
	expiresAt time.Time
}

// Service authenticates bearer tokens with a TTL-bounded cache in front of
// the token store. Expiry is checked on every lookup; revocation therefore
// takes effect within one TTL.
type Service struct {
	store storage.TokenStore
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewService creates an auth service. ttl <= 0 selects DefaultTokenTTL.
func NewService(store storage.TokenStore, ttl time.Duration) *Service {
	if store == nil {
		panic("auth: token store must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cacheEntry),
	}
}

// Authenticate resolves the Authorization header value to an identity.
func (s *Service) Authenticate(ctx context.Context, authorization string) (*Identity, error) {
	token, ok := bearerToken(authorization)
	if !ok {
		return nil, ErrUnauthorized
	}

	now := s.now()

	s.mu.Lock()
	entry, cached := s.cache[token]
	if cached && now.Before(entry.expiresAt) {
		identity := entry.identity
		s.mu.Unlock()
		return &identity, nil
	}
	if cached {
		delete(s.cache, token)
	}
	s.mu.Unlock()

	record, err := s.store.LookupToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}

	identity := Identity{TenantID: record.TenantID, Scopes: record.Scopes}

	s.mu.Lock()
	s.cache[token] = cacheEntry{identity: identity, expiresAt: now.Add(s.ttl)}
	s.mu.Unlock()

	result := identity
	return &result, nil
}

func bearerToken(authorization string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authorization, prefix) {
		return "", false
	}
	token := strings.TrimSpace(authorization[len(prefix):])
	return token, token != ""
}
