// Package cache implements the answer cache: a TTL'd LRU keyed by query
// fingerprint, with at-most-one concurrent computation per fingerprint.
//
// Entries are immutable once published. A published entry is never
// replaced while it is still fresh, so a slow stale computation can never
// overwrite a newer correct answer. Concurrent requests for the same
// fingerprint coalesce onto a single computation via singleflight; every
// waiter observes the computing party's exact outcome, success or
// failure. Failures are never cached.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jmorrow/paperquery/internal/query"
	"github.com/jmorrow/paperquery/pkg/types"
)

// Entry is a published answer for one fingerprint.
type Entry struct {
	Answer         string
	Sources        []types.PaperSource
	CitedIDs       []string
	PromptTemplate string
	Model          string
	ComputedAt     time.Time
	ExpiresAt      time.Time
}

// copy returns an independent Entry so callers cannot mutate the cached
// slices.
func (e *Entry) copy() *Entry {
	if e == nil {
		return nil
	}
	dst := *e
	dst.Sources = make([]types.PaperSource, len(e.Sources))
	copy(dst.Sources, e.Sources)
	dst.CitedIDs = make([]string, len(e.CitedIDs))
	copy(dst.CitedIDs, e.CitedIDs)
	return &dst
}

// ComputeFunc runs the full retrieval+generation pipeline for a cache
// miss. It must not write to the cache itself; publication is owned here.
type ComputeFunc func(ctx context.Context) (*Entry, error)

// Cache is the process-wide answer store. Safe for concurrent use.
type Cache struct {
	entries *lru.Cache[query.Fingerprint, *Entry]
	group   singleflight.Group
	ttl     time.Duration
	log     *zap.Logger

	mu  sync.Mutex // guards publish (check-then-store)
	now func() time.Time
}

// New creates a Cache with the given capacity and TTL.
func New(maxSize int, ttl time.Duration, log *zap.Logger) (*Cache, error) {
	if maxSize <= 0 {
		maxSize = 1000
	}
	entries, err := lru.New[query.Fingerprint, *Entry](maxSize)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		entries: entries,
		ttl:     ttl,
		log:     log,
		now:     time.Now,
	}, nil
}

// GetOrCompute returns the cached entry for fp when fresh, otherwise runs
// compute exactly once per fingerprint no matter how many callers arrive
// concurrently. The boolean reports whether the result came from cache.
//
// If the caller's context expires while waiting on another computation,
// the wait is abandoned with ErrTimeout; the computation itself keeps
// running for the remaining waiters.
func (c *Cache) GetOrCompute(ctx context.Context, fp query.Fingerprint, compute ComputeFunc) (*Entry, bool, error) {
	if e, ok := c.lookup(fp); ok {
		return e, true, nil
	}

	ch := c.group.DoChan(fp.String(), func() (interface{}, error) {
		// Another request may have published while we queued.
		if e, ok := c.lookup(fp); ok {
			return e, nil
		}

		entry, err := compute(ctx)
		if err != nil {
			// No cache write on failure; waiters share this error and a
			// retry after this call simply recomputes.
			return nil, err
		}
		return c.publish(fp, entry), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		entry := res.Val.(*Entry)
		if res.Shared {
			c.log.Debug("answer shared with coalesced request",
				zap.String("fingerprint", fp.String()))
			entry = entry.copy()
		}
		return entry, false, nil
	case <-ctx.Done():
		// Only a deadline counts as a timeout; a caller-initiated cancel
		// must not surface as one.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, false, fmt.Errorf("%w: waiting for in-flight computation: %v", types.ErrTimeout, ctx.Err())
		}
		return nil, false, fmt.Errorf("waiting for in-flight computation: %w", ctx.Err())
	}
}

// lookup returns a fresh entry, evicting it if expired.
func (c *Cache) lookup(fp query.Fingerprint) (*Entry, bool) {
	entry, ok := c.entries.Get(fp)
	if !ok {
		return nil, false
	}
	if c.now().After(entry.ExpiresAt) {
		c.entries.Remove(fp)
		return nil, false
	}
	return entry.copy(), true
}

// publish stamps and stores the entry. If a fresh entry already exists
// for the fingerprint the existing one wins: entries are read-only once
// published and last-writer-wins is explicitly disallowed.
func (c *Cache) publish(fp query.Fingerprint, entry *Entry) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries.Get(fp); ok && !c.now().After(existing.ExpiresAt) {
		return existing.copy()
	}

	entry.ComputedAt = c.now()
	entry.ExpiresAt = entry.ComputedAt.Add(c.ttl)
	c.entries.Add(fp, entry)

	c.log.Debug("answer cached",
		zap.String("fingerprint", fp.String()),
		zap.Time("expires_at", entry.ExpiresAt))

	return entry.copy()
}

// Invalidate purges every entry. Wired to the corpus-update hook: any
// ingest makes cached answers potentially stale.
func (c *Cache) Invalidate() int {
	n := c.entries.Len()
	c.entries.Purge()
	c.log.Info("answer cache invalidated", zap.Int("entries_purged", n))
	return n
}

// Len reports the current number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// TTL reports the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}
