package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/openstratus/stratus/pkg/telemetry"
)

func testCredential(csp, principal string) *Credential {
	return &Credential{
		Csp:       csp,
		Principal: principal,
		Kind:      KindVariables,
		Variables: []Variable{
			{Name: "ACCESS_KEY", Value: "AK123", Mandatory: true, Sensitive: true},
			{Name: "SECRET_KEY", Value: "SK456", Mandatory: true, Sensitive: true},
		},
	}
}

func TestCachePutGet(t *testing.T) {
	cache := NewCache(time.Minute)

	cred := testCredential("devcloud", "alice")
	cache.Put(cred)

	got, ok := cache.Get(cred.Key())
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if got.Principal != "alice" {
		t.Errorf("Expected principal alice, got %s", got.Principal)
	}

	if _, ok := cache.Get(Key{Csp: "devcloud", Principal: "bob", Kind: KindVariables}); ok {
		t.Error("Expected cache miss for unknown principal")
	}
}

func TestCacheExpiryBeforeSweep(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	cache := NewCache(time.Second, WithClock(clock))
	cred := testCredential("devcloud", "alice")
	cache.Put(cred)

	if _, ok := cache.Get(cred.Key()); !ok {
		t.Fatal("Expected hit before expiry")
	}

	advance(2 * time.Second)

	// Entry is past its TTL but the sweeper has not run. Readers must
	// still see it as absent.
	if _, ok := cache.Get(cred.Key()); ok {
		t.Error("Expected miss after expiry, before sweep")
	}
	if cache.Len() != 1 {
		t.Errorf("Expected stale entry still resident, len=%d", cache.Len())
	}

	if removed := cache.Sweep(); removed != 1 {
		t.Errorf("Expected sweep to remove 1 entry, removed %d", removed)
	}
	if cache.Len() != 0 {
		t.Errorf("Expected empty cache after sweep, len=%d", cache.Len())
	}
}

func TestCacheSweepKeepsRefreshedEntries(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	cache := NewCache(time.Second, WithClock(clock))
	cred := testCredential("devcloud", "alice")
	cache.Put(cred)

	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()

	// Refresh after expiry, then sweep with a stale view of "now".
	// The re-check under the shard lock must keep the fresh entry.
	cache.Put(cred)

	if removed := cache.Sweep(); removed != 0 {
		t.Errorf("Expected sweep to keep refreshed entry, removed %d", removed)
	}
	if _, ok := cache.Get(cred.Key()); !ok {
		t.Error("Expected refreshed entry to survive sweep")
	}
}

func TestCacheCredentialExpiryCapsTTL(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	cache := NewCache(time.Hour, WithClock(clock))

	cred := testCredential("devcloud", "alice")
	cred.ExpiresAt = now.Add(time.Second)
	cache.Put(cred)

	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()

	if _, ok := cache.Get(cred.Key()); ok {
		t.Error("Credential's own expiry must cap the cache TTL")
	}
}

func TestCacheInvalidate(t *testing.T) {
	evicted := 0
	cache := NewCache(time.Minute, WithEvictionHook(func(Key) { evicted++ }))

	cred := testCredential("devcloud", "alice")
	cache.Put(cred)

	if !cache.Invalidate(cred.Key()) {
		t.Error("Expected invalidation of existing entry to report true")
	}
	if cache.Invalidate(cred.Key()) {
		t.Error("Expected second invalidation to report false")
	}
	if evicted != 1 {
		t.Errorf("Expected 1 eviction callback, got %d", evicted)
	}
	if _, ok := cache.Get(cred.Key()); ok {
		t.Error("Expected miss after invalidation")
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	cache := NewCache(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cred := testCredential("devcloud", fmt.Sprintf("user-%d-%d", n, j))
				cache.Put(cred)
				if _, ok := cache.Get(cred.Key()); !ok {
					t.Errorf("Expected hit for %s", cred.Key())
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if cache.Len() != 1600 {
		t.Errorf("Expected 1600 entries, got %d", cache.Len())
	}
}

func TestServiceResolvesOnMiss(t *testing.T) {
	resolved := 0
	resolver := ResolverFunc(func(_ context.Context, key Key) (*Credential, error) {
		resolved++
		return testCredential(key.Csp, key.Principal), nil
	})

	svc := NewService(resolver, time.Minute, telemetry.NewNop())
	key := Key{Csp: "devcloud", Principal: "alice", Kind: KindVariables}

	for i := 0; i < 3; i++ {
		cred, err := svc.Get(context.Background(), key)
		if err != nil {
			t.Fatalf("Failed to get credential: %v", err)
		}
		if cred.Principal != "alice" {
			t.Errorf("Expected principal alice, got %s", cred.Principal)
		}
	}

	if resolved != 1 {
		t.Errorf("Expected a single resolver call, got %d", resolved)
	}
}

func TestServiceRejectsIncompleteCredential(t *testing.T) {
	resolver := ResolverFunc(func(_ context.Context, key Key) (*Credential, error) {
		cred := testCredential(key.Csp, key.Principal)
		cred.Variables[1].Value = ""
		return cred, nil
	})

	svc := NewService(resolver, time.Minute, telemetry.NewNop())
	_, err := svc.Get(context.Background(), Key{Csp: "devcloud", Principal: "alice", Kind: KindVariables})
	if !errors.Is(err, ErrIncomplete) {
		t.Errorf("Expected ErrIncomplete, got %v", err)
	}
}

func TestServiceNotFound(t *testing.T) {
	resolver := ResolverFunc(func(context.Context, Key) (*Credential, error) {
		return nil, nil
	})

	svc := NewService(resolver, time.Minute, telemetry.NewNop())
	_, err := svc.Get(context.Background(), Key{Csp: "devcloud", Principal: "nobody", Kind: KindVariables})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestServiceStoreAndInvalidate(t *testing.T) {
	resolver := ResolverFunc(func(context.Context, Key) (*Credential, error) {
		return nil, ErrNotFound
	})
	svc := NewService(resolver, time.Minute, telemetry.NewNop())

	cred := testCredential("devcloud", "alice")
	if err := svc.Store(cred); err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	if _, err := svc.Get(context.Background(), cred.Key()); err != nil {
		t.Fatalf("Expected stored credential to be served: %v", err)
	}

	svc.Invalidate(cred.Key())
	if _, err := svc.Get(context.Background(), cred.Key()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after invalidation, got %v", err)
	}

	bad := testCredential("devcloud", "bob")
	bad.Kind = "carrier-pigeon"
	if err := svc.Store(bad); err == nil {
		t.Error("Expected unknown kind to be rejected")
	}
}

func TestCacheBackgroundSweeper(t *testing.T) {
	cache := NewCache(10*time.Millisecond, WithSweepInterval(20*time.Millisecond))
	cache.Put(testCredential("devcloud", "alice"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache.Start(ctx)
	defer cache.Stop()

	deadline := time.After(2 * time.Second)
	for cache.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("Sweeper did not reclaim expired entry in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
