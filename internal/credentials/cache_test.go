package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"vcni/internal/domain"
)

func TestCacheReturnsCachedTokenUntilExpiry(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fetcher := &fakeFetcher{}
	cache := NewCache(fetcher, Config{TTL: time.Minute, Now: clock.Now})

	first := mustGet(t, cache)
	clock.Advance(59 * time.Second)
	second := mustGet(t, cache)
	if first != second || fetcher.callCount() != 1 {
		t.Fatalf("expected cached token, got %q %q after %d fetches", first, second, fetcher.callCount())
	}

	clock.Advance(time.Second)
	third := mustGet(t, cache)
	if third == first || fetcher.callCount() != 2 {
		t.Fatalf("expected refetch at expiry, got %q after %d fetches", third, fetcher.callCount())
	}
}

func TestCacheExpiryMeasuredFromFetchStart(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fetcher := &fakeFetcher{onFetch: func() { clock.Advance(30 * time.Second) }}
	cache := NewCache(fetcher, Config{TTL: time.Minute, Now: clock.Now})

	mustGet(t, cache)
	clock.Advance(30 * time.Second)
	mustGet(t, cache)
	if fetcher.callCount() != 2 {
		t.Fatalf("token must expire one TTL after the fetch began, fetches=%d", fetcher.callCount())
	}
}

func TestCacheSingleFlightForConcurrentMisses(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	fetcher := &fakeFetcher{gate: gate}
	cache := NewCache(fetcher, Config{})

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = cache.GetToken(context.Background())
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if fetcher.callCount() != 1 {
		t.Fatalf("expected a single fetch, got %d", fetcher.callCount())
	}
	for i := range tokens {
		if errs[i] != nil || tokens[i] != tokens[0] {
			t.Fatalf("caller %d got %q err=%v", i, tokens[i], errs[i])
		}
	}
}

func TestCacheFailureIsNotCached(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{errs: []error{errors.New("503")}}
	cache := NewCache(fetcher, Config{})

	_, err := cache.GetToken(context.Background())
	var connErr *domain.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}

	if token := mustGet(t, cache); token == "" {
		t.Fatalf("expected token after retry")
	}
	if fetcher.callCount() != 2 {
		t.Fatalf("expected failed fetch to be retried, got %d fetches", fetcher.callCount())
	}
}

func TestCacheEmptyTokenIsAnError(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{empty: true}
	cache := NewCache(fetcher, Config{})

	if _, err := cache.GetToken(context.Background()); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestCacheInvalidateForcesRefetch(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	cache := NewCache(fetcher, Config{})

	first := mustGet(t, cache)
	cache.Invalidate()
	second := mustGet(t, cache)
	if first == second || fetcher.callCount() != 2 {
		t.Fatalf("expected invalidate to force a new token, got %q %q", first, second)
	}
}

func TestCacheInvalidateDuringFetchSkipsCaching(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	fetcher := &fakeFetcher{gate: gate}
	cache := NewCache(fetcher, Config{})

	done := make(chan string, 1)
	go func() {
		token, _ := cache.GetToken(context.Background())
		done <- token
	}()

	fetcher.waitStarted(t)
	cache.Invalidate()
	close(gate)
	if token := <-done; token == "" {
		t.Fatalf("waiter should still receive the fetched token")
	}

	mustGet(t, cache)
	if fetcher.callCount() != 2 {
		t.Fatalf("token fetched across an invalidation must not be cached, fetches=%d", fetcher.callCount())
	}
}

func TestCacheGetAfterInvalidateDoesNotJoinStaleFetch(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	fetcher := &fakeFetcher{gate: gate}
	cache := NewCache(fetcher, Config{})

	stale := make(chan string, 1)
	go func() {
		token, _ := cache.GetToken(context.Background())
		stale <- token
	}()
	fetcher.waitStarted(t)

	cache.Invalidate()
	fresh := make(chan string, 1)
	go func() {
		token, _ := cache.GetToken(context.Background())
		fresh <- token
	}()
	fetcher.waitStarted(t)
	close(gate)

	if token := <-stale; token != "token-1" {
		t.Fatalf("expected first waiter to get the original fetch, got %q", token)
	}
	if token := <-fresh; token != "token-2" {
		t.Fatalf("expected a new fetch after invalidate, got %q", token)
	}
	if fetcher.callCount() != 2 {
		t.Fatalf("expected 2 fetches, got %d", fetcher.callCount())
	}
	if token := mustGet(t, cache); token != "token-2" {
		t.Fatalf("expected fresh token cached, got %q", token)
	}
}

func TestCacheCallerCancellationDoesNotAbortSharedFetch(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	fetcher := &fakeFetcher{gate: gate}
	cache := NewCache(fetcher, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := cache.GetToken(ctx)
		errCh <- err
	}()

	fetcher.waitStarted(t)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}

	close(gate)
	mustGet(t, cache)
	if fetcher.callCount() != 1 {
		t.Fatalf("expected shared fetch to complete and be cached, got %d fetches", fetcher.callCount())
	}
}

func mustGet(t *testing.T, cache *Cache) string {
	t.Helper()
	token, err := cache.GetToken(context.Background())
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	return token
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	errs    []error
	empty   bool
	gate    chan struct{}
	onFetch func()
	started chan struct{}
}

func (f *fakeFetcher) FetchToken(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	if f.started == nil {
		f.started = make(chan struct{}, 16)
	}
	started := f.started
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	f.mu.Unlock()

	started <- struct{}{}
	if f.gate != nil {
		<-f.gate
	}
	if f.onFetch != nil {
		f.onFetch()
	}
	if err != nil {
		return "", err
	}
	if f.empty {
		return "", nil
	}
	return fmt.Sprintf("token-%d", call), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) waitStarted(t *testing.T) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		f.mu.Lock()
		started := f.started
		f.mu.Unlock()
		if started != nil {
			select {
			case <-started:
				return
			case <-deadline:
				t.Fatalf("fetch never started")
			}
		}
		select {
		case <-deadline:
			t.Fatalf("fetch never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
