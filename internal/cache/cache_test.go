package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmorrow/paperquery/internal/query"
	"github.com/jmorrow/paperquery/pkg/types"
)

func fingerprint(b byte) query.Fingerprint {
	var fp query.Fingerprint
	fp[0] = b
	return fp
}

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c, err := New(100, ttl, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestGetOrComputeMissThenHit(t *testing.T) {
	c := newTestCache(t, time.Hour)
	fp := fingerprint(1)

	var calls int32
	compute := func(ctx context.Context) (*Entry, error) {
		atomic.AddInt32(&calls, 1)
		return &Entry{Answer: "answer one"}, nil
	}

	entry, hit, err := c.GetOrCompute(context.Background(), fp, compute)
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if hit {
		t.Error("first call reported a cache hit")
	}
	if entry.Answer != "answer one" {
		t.Errorf("answer = %q", entry.Answer)
	}

	entry, hit, err = c.GetOrCompute(context.Background(), fp, compute)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if !hit {
		t.Error("second call missed")
	}
	if entry.Answer != "answer one" {
		t.Errorf("cached answer = %q", entry.Answer)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("compute ran %d times, want 1", n)
	}
}

func TestGetOrComputeCoalescesConcurrentCallers(t *testing.T) {
	c := newTestCache(t, time.Hour)
	fp := fingerprint(2)

	var calls int32
	release := make(chan struct{})
	compute := func(ctx context.Context) (*Entry, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return &Entry{Answer: "shared"}, nil
	}

	const waiters = 20
	var wg sync.WaitGroup
	errs := make([]error, waiters)
	answers := make([]string, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, _, err := c.GetOrCompute(context.Background(), fp, compute)
			errs[i] = err
			if entry != nil {
				answers[i] = entry.Answer
			}
		}(i)
	}

	// Give every goroutine time to join the flight before releasing.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("waiter %d failed: %v", i, errs[i])
		}
		if answers[i] != "shared" {
			t.Errorf("waiter %d answer = %q", i, answers[i])
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("compute ran %d times for one fingerprint, want 1", n)
	}
}

func TestGetOrComputeDistinctFingerprintsRunIndependently(t *testing.T) {
	c := newTestCache(t, time.Hour)

	var calls int32
	compute := func(ctx context.Context) (*Entry, error) {
		atomic.AddInt32(&calls, 1)
		return &Entry{Answer: "x"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _ = c.GetOrCompute(context.Background(), fingerprint(byte(i)), compute)
		}(i)
	}
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 5 {
		t.Errorf("compute ran %d times for 5 fingerprints, want 5", n)
	}
}

func TestFailuresSharedAndNeverCached(t *testing.T) {
	c := newTestCache(t, time.Hour)
	fp := fingerprint(3)
	boom := errors.New("provider exploded")

	var calls int32
	failing := func(ctx context.Context) (*Entry, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	}

	_, _, err := c.GetOrCompute(context.Background(), fp, failing)
	if !errors.Is(err, boom) {
		t.Fatalf("expected computation error, got %v", err)
	}
	if c.Len() != 0 {
		t.Error("failure was cached")
	}

	// A retry must recompute, not observe a poisoned entry.
	entry, hit, err := c.GetOrCompute(context.Background(), fp, func(ctx context.Context) (*Entry, error) {
		return &Entry{Answer: "recovered"}, nil
	})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if hit {
		t.Error("retry reported a hit after a failed computation")
	}
	if entry.Answer != "recovered" {
		t.Errorf("retry answer = %q", entry.Answer)
	}
}

func TestExpiredEntryRecomputed(t *testing.T) {
	c := newTestCache(t, time.Hour)
	fp := fingerprint(4)

	now := time.Now()
	c.now = func() time.Time { return now }

	_, _, err := c.GetOrCompute(context.Background(), fp, func(ctx context.Context) (*Entry, error) {
		return &Entry{Answer: "first"}, nil
	})
	if err != nil {
		t.Fatalf("first compute failed: %v", err)
	}

	// Advance past the TTL; the entry must be treated as absent.
	now = now.Add(2 * time.Hour)

	entry, hit, err := c.GetOrCompute(context.Background(), fp, func(ctx context.Context) (*Entry, error) {
		return &Entry{Answer: "second"}, nil
	})
	if err != nil {
		t.Fatalf("recompute failed: %v", err)
	}
	if hit {
		t.Error("expired entry served as a hit")
	}
	if entry.Answer != "second" {
		t.Errorf("answer = %q, want second", entry.Answer)
	}
}

func TestPublishNeverOverwritesFreshEntry(t *testing.T) {
	c := newTestCache(t, time.Hour)
	fp := fingerprint(5)

	first := c.publish(fp, &Entry{Answer: "winner"})
	second := c.publish(fp, &Entry{Answer: "late straggler"})

	if first.Answer != "winner" {
		t.Errorf("first publish = %q", first.Answer)
	}
	if second.Answer != "winner" {
		t.Errorf("late publish returned %q, want the existing fresh entry", second.Answer)
	}

	entry, hit, _ := c.GetOrCompute(context.Background(), fp, func(ctx context.Context) (*Entry, error) {
		t.Fatal("compute must not run for a fresh entry")
		return nil, nil
	})
	if !hit || entry.Answer != "winner" {
		t.Errorf("cached entry = %q hit=%v, want winner hit=true", entry.Answer, hit)
	}
}

func TestWaiterTimeoutDoesNotKillComputation(t *testing.T) {
	c := newTestCache(t, time.Hour)
	fp := fingerprint(6)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _, _ = c.GetOrCompute(context.Background(), fp, func(ctx context.Context) (*Entry, error) {
			close(started)
			<-release
			return &Entry{Answer: "slow"}, nil
		})
	}()
	<-started

	// A second caller with a short deadline abandons the wait.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := c.GetOrCompute(ctx, fp, func(ctx context.Context) (*Entry, error) {
		t.Error("second caller must coalesce, not compute")
		return nil, nil
	})
	if !errors.Is(err, types.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}

	// The original computation still completes and publishes.
	close(release)
	<-done
	if c.Len() != 1 {
		t.Errorf("cache len = %d, want 1", c.Len())
	}
}

func TestWaiterCancelIsNotATimeout(t *testing.T) {
	c := newTestCache(t, time.Hour)
	fp := fingerprint(8)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _, _ = c.GetOrCompute(context.Background(), fp, func(ctx context.Context) (*Entry, error) {
			close(started)
			<-release
			return &Entry{Answer: "slow"}, nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, _, err := c.GetOrCompute(ctx, fp, func(ctx context.Context) (*Entry, error) {
		t.Error("second caller must coalesce, not compute")
		return nil, nil
	})
	if errors.Is(err, types.ErrTimeout) {
		t.Errorf("caller cancel surfaced as ErrTimeout: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	close(release)
	<-done
}

func TestInvalidate(t *testing.T) {
	c := newTestCache(t, time.Hour)
	for i := 0; i < 3; i++ {
		_, _, _ = c.GetOrCompute(context.Background(), fingerprint(byte(i)), func(ctx context.Context) (*Entry, error) {
			return &Entry{Answer: "x"}, nil
		})
	}

	if n := c.Invalidate(); n != 3 {
		t.Errorf("Invalidate purged %d, want 3", n)
	}
	if c.Len() != 0 {
		t.Errorf("len after invalidate = %d", c.Len())
	}
}

func TestCachedEntryIsolation(t *testing.T) {
	c := newTestCache(t, time.Hour)
	fp := fingerprint(7)

	_, _, _ = c.GetOrCompute(context.Background(), fp, func(ctx context.Context) (*Entry, error) {
		return &Entry{Answer: "x", CitedIDs: []string{"p1", "p2"}}, nil
	})

	entry, _, _ := c.GetOrCompute(context.Background(), fp, nil)
	entry.CitedIDs[0] = "mutated"

	again, _, _ := c.GetOrCompute(context.Background(), fp, nil)
	if again.CitedIDs[0] != "p1" {
		t.Error("cached entry shares slices with callers")
	}
}
