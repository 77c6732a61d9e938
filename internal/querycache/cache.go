// Package querycache keeps the results of asynchronous reads keyed by
// resource, with per-read staleness windows, shared in-flight fetches and
// explicit invalidation.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spigell/hireboard/internal/logger"
	"github.com/spigell/hireboard/internal/utils"
)

const (
	defaultMaxEntries = 512
	defaultRetries    = 3
	defaultRetryBase  = time.Second
	defaultRetryMax   = 30 * time.Second
)

// FetchFunc loads the value of one key.
type FetchFunc func(ctx context.Context) (any, error)

type Config struct {
	// MaxEntries bounds the number of kept keys; least recently read go first.
	MaxEntries int
	// Retries is the number of extra attempts after a failed fetch. Negative disables retries.
	Retries int
	// RetryDelay returns the wait before the given retry (1-based).
	RetryDelay func(attempt int) time.Duration
}

// Snapshot is the observable state of one key.
type Snapshot struct {
	Value     any
	HasValue  bool
	FetchedAt time.Time
	Stale     bool
	Err       error
}

type entry struct {
	key       Key
	value     any
	hasValue  bool
	fetchedAt time.Time
	// invalidated forces the next read to fetch regardless of age.
	invalidated bool
	// generation increases on every invalidation; stored is the generation
	// the current value was fetched under.
	generation uint64
	stored     uint64
	err        error
}

type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *entry]
	group   singleflight.Group

	retries    int
	retryDelay func(int) time.Duration
	now        func() time.Time
	logger     *zap.Logger

	watchers map[uint64]func(Key)
	nextID   uint64
}

func New(cfg Config, log *zap.Logger) (*Cache, error) {
	size := cfg.MaxEntries
	if size <= 0 {
		size = defaultMaxEntries
	}

	entries, err := lru.New[string, *entry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	retries := cfg.Retries
	if retries == 0 {
		retries = defaultRetries
	}
	if retries < 0 {
		retries = 0
	}

	delay := cfg.RetryDelay
	if delay == nil {
		delay = func(attempt int) time.Duration {
			return utils.Backoff(attempt, defaultRetryBase, defaultRetryMax)
		}
	}

	return &Cache{
		entries:    entries,
		retries:    retries,
		retryDelay: delay,
		now:        time.Now,
		logger:     logger.WithComponent(log, "querycache"),
		watchers:   make(map[uint64]func(Key)),
	}, nil
}

// Read returns the cached value of key when it is younger than staleTime
// and not invalidated. Otherwise it joins or starts the single fetch for
// key. On failure the last good value, if any, is returned with the error.
//
// The fetch is detached from ctx cancellation: a caller that gives up stops
// waiting, the fetch still completes and populates the cache.
func (c *Cache) Read(ctx context.Context, key Key, staleTime time.Duration, fetch FetchFunc) (any, error) {
	id := key.String()

	c.mu.Lock()
	if e, ok := c.entries.Get(id); ok && e.hasValue && !e.invalidated && c.now().Sub(e.fetchedAt) < staleTime {
		value := e.value
		c.mu.Unlock()
		return value, nil
	}
	c.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id, func() (any, error) {
		return c.fetch(detached, key, id, fetch)
	})

	select {
	case <-ctx.Done():
		return c.lastGood(id), ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return c.lastGood(id), res.Err
		}
		return res.Val, nil
	}
}

func (c *Cache) fetch(ctx context.Context, key Key, id string, fn FetchFunc) (any, error) {
	c.mu.Lock()
	gen := c.entryLocked(key, id).generation
	c.mu.Unlock()

	value, err := c.withRetry(ctx, id, fn)

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(key, id)
	if err != nil {
		e.err = err
		return nil, err
	}

	// An older fetch finishing after a newer one must not win.
	if e.hasValue && gen < e.stored {
		return value, nil
	}

	e.value = value
	e.hasValue = true
	e.fetchedAt = c.now()
	e.err = nil
	e.stored = gen
	e.invalidated = gen != e.generation

	return value, nil
}

func (c *Cache) withRetry(ctx context.Context, id string, fn FetchFunc) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := utils.WaitFor(ctx, c.retryDelay(attempt)); err != nil {
				return nil, lastErr
			}
		}

		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if !Retryable(err) || ctx.Err() != nil {
			c.logger.Debug("fetch failed, not retrying",
				zap.String(logger.FieldCacheKey, id),
				zap.Error(err),
			)
			return nil, err
		}

		c.logger.Warn("fetch failed",
			zap.String(logger.FieldCacheKey, id),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.retries+1),
			zap.Error(err),
		)
	}

	return nil, lastErr
}

// entryLocked returns the entry of id, creating it when absent or evicted.
func (c *Cache) entryLocked(key Key, id string) *entry {
	if e, ok := c.entries.Peek(id); ok {
		return e
	}
	e := &entry{key: key}
	c.entries.Add(id, e)
	return e
}

func (c *Cache) lastGood(id string) any {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries.Peek(id); ok && e.hasValue {
		return e.value
	}
	return nil
}

// Invalidate marks every key matching prefix as stale and forgets its
// in-flight fetch, so the next read always fetches. It returns the number
// of matched keys.
func (c *Cache) Invalidate(prefix Key) int {
	c.mu.Lock()
	var matched []Key
	for _, id := range c.entries.Keys() {
		e, ok := c.entries.Peek(id)
		if !ok || !prefix.Matches(e.key) {
			continue
		}
		e.invalidated = true
		e.generation++
		c.group.Forget(id)
		matched = append(matched, e.key)
	}
	watchers := c.watchersLocked()
	c.mu.Unlock()

	if len(matched) > 0 {
		c.logger.Debug("invalidated", zap.String("prefix", prefix.String()), zap.Int("keys", len(matched)))
	}

	for _, key := range matched {
		for _, w := range watchers {
			w(key)
		}
	}
	return len(matched)
}

// Remove drops every key matching prefix, values included.
func (c *Cache) Remove(prefix Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, id := range c.entries.Keys() {
		e, ok := c.entries.Peek(id)
		if !ok || !prefix.Matches(e.key) {
			continue
		}
		c.entries.Remove(id)
		c.group.Forget(id)
		removed++
	}
	return removed
}

// Set stores value for key as freshly fetched.
func (c *Cache) Set(key Key, value any) {
	id := key.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(key, id)
	e.value = value
	e.hasValue = true
	e.fetchedAt = c.now()
	e.invalidated = false
	e.err = nil
	e.stored = e.generation
}

// Peek returns the state of key without fetching. Stale is computed
// against staleTime.
func (c *Cache) Peek(key Key, staleTime time.Duration) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(key.String())
	if !ok {
		return Snapshot{}, false
	}

	return Snapshot{
		Value:     e.value,
		HasValue:  e.hasValue,
		FetchedAt: e.fetchedAt,
		Stale:     !e.hasValue || e.invalidated || c.now().Sub(e.fetchedAt) >= staleTime,
		Err:       e.err,
	}, true
}

// Len returns the number of tracked keys.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// OnInvalidate registers fn to be called with every invalidated key. The
// returned func deregisters it.
func (c *Cache) OnInvalidate(fn func(Key)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

func (c *Cache) watchersLocked() []func(Key) {
	watchers := make([]func(Key), 0, len(c.watchers))
	for _, w := range c.watchers {
		watchers = append(watchers, w)
	}
	return watchers
}

type statusCoder interface {
	HTTPStatus() int
}

// Retryable reports whether a failed fetch is worth repeating. Client-side
// request problems (4xx) and cancellations are not; timeouts are.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		status := sc.HTTPStatus()
		return status < 400 || status >= 500
	}
	return true
}

// Read is the typed form of Cache.Read.
func Read[T any](ctx context.Context, c *Cache, key Key, staleTime time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	value, err := c.Read(ctx, key, staleTime, func(ctx context.Context) (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	})

	typed, _ := value.(T)
	return typed, err
}
