package credentials

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/openstratus/stratus/pkg/telemetry"
)

// Resolver fetches credentials from a backing source when the cache
// cannot serve them. Implementations are typically CSP plugins backed
// by a vault or the provider's own secret store.
type Resolver interface {
	Resolve(ctx context.Context, key Key) (*Credential, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(ctx context.Context, key Key) (*Credential, error)

func (f ResolverFunc) Resolve(ctx context.Context, key Key) (*Credential, error) {
	return f(ctx, key)
}

// Service fronts the credential cache with a resolver and records
// cache traffic.
type Service struct {
	cache    *Cache
	resolver Resolver
	logger   zerolog.Logger
	metrics  *telemetry.Metrics

	size atomic.Int64
}

// NewService builds a credential service with a cache of the given TTL.
func NewService(resolver Resolver, ttl time.Duration, tel *telemetry.Telemetry, opts ...CacheOption) *Service {
	s := &Service{
		resolver: resolver,
		logger:   tel.Logger.Zerolog().With().Str("component", "credentials").Logger(),
		metrics:  tel.Metrics,
	}

	cacheOpts := append([]CacheOption{
		WithEvictionHook(func(key Key) {
			s.metrics.RecordCacheEvictions(1)
			s.logger.Debug().Str("key", key.String()).Msg("Credential evicted")
		}),
		WithSizeHook(func(delta int) {
			s.metrics.SetCacheSize(int(s.size.Add(int64(delta))))
		}),
	}, opts...)

	s.cache = NewCache(ttl, cacheOpts...)
	return s
}

// Start launches the cache sweeper.
func (s *Service) Start(ctx context.Context) {
	s.cache.Start(ctx)
}

// Stop shuts the cache sweeper down.
func (s *Service) Stop() {
	s.cache.Stop()
}

// Get returns a valid credential for key, consulting the cache first
// and falling back to the resolver. A resolved credential is validated
// and cached before it is returned.
func (s *Service) Get(ctx context.Context, key Key) (*Credential, error) {
	if cred, ok := s.cache.Get(key); ok {
		s.metrics.RecordCacheHit()
		return cred, nil
	}
	s.metrics.RecordCacheMiss()

	cred, err := s.resolver.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if cred.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: %s is expired", ErrNotFound, key)
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	s.cache.Put(cred)
	s.logger.Debug().Str("key", key.String()).Msg("Credential cached")
	return cred, nil
}

// Store validates and caches a credential directly, bypassing the
// resolver. Used when callers supply credentials with the request.
func (s *Service) Store(cred *Credential) error {
	if _, err := ParseKind(string(cred.Kind)); err != nil {
		return err
	}
	if err := cred.Validate(); err != nil {
		return err
	}
	s.cache.Put(cred)
	return nil
}

// Invalidate drops the cached credential for key, forcing the next Get
// through the resolver.
func (s *Service) Invalidate(key Key) bool {
	return s.cache.Invalidate(key)
}
