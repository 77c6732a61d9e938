package feeds

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/logger"
	"github.com/spigell/hireboard/internal/querycache"
	"github.com/spigell/hireboard/internal/realtime"
)

var (
	ErrNoIdentity = errors.New("feeds: scoped feed requires an identity")
	// ErrReset is returned to acquirers whose slot was torn down by Reset
	// while the subscription was being opened.
	ErrReset = errors.New("feeds: registry reset while subscribing")
)

type slotKey struct {
	feed  string
	scope string
}

type slot struct {
	key    slotKey
	refs   int
	handle Handle
	err    error
	ready  chan struct{}
}

// Registry owns the upstream subscriptions of every feed.
type Registry struct {
	subscriber Subscriber
	cache      Invalidator
	logger     *zap.Logger

	mu         sync.Mutex
	slots      map[slotKey]*slot
	generation uint64
	retry      Retry
}

func NewRegistry(subscriber Subscriber, cache Invalidator, log *zap.Logger) *Registry {
	return &Registry{
		subscriber: subscriber,
		cache:      cache,
		logger:     logger.WithComponent(log, "feeds"),
		slots:      make(map[slotKey]*slot),
		retry:      Retry{}.withDefaults(),
	}
}

// Lease is one consumer's interest in a feed slot.
type Lease struct {
	id         string
	feed       Feed
	scope      string
	registry   *Registry
	slot       *slot
	generation uint64
	once       sync.Once
}

func (l *Lease) ID() string    { return l.id }
func (l *Lease) Feed() Feed    { return l.feed }
func (l *Lease) Scope() string { return l.scope }

// Release drops the interest. The upstream subscription closes with the
// last lease. Releasing twice, or after a Reset, does nothing.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.registry.release(l.slot, l.generation)
	})
}

// Acquire returns a lease on the (feed, scope) slot, opening the upstream
// subscription when the slot is new. Scope is ignored for process-wide feeds.
func (r *Registry) Acquire(ctx context.Context, feed Feed, scope string) (*Lease, error) {
	if !feed.Scoped() {
		scope = ""
	} else if scope == "" {
		return nil, ErrNoIdentity
	}

	key := slotKey{feed: feed.Name, scope: scope}
	fields := logger.FeedFields(feed.Name, scope)

	r.mu.Lock()
	gen := r.generation
	s, ok := r.slots[key]
	if ok {
		s.refs++
		r.mu.Unlock()

		if err := r.await(ctx, s, gen); err != nil {
			return nil, err
		}
		r.logger.Debug("joined feed", append(fields, zap.Int("refs", r.refs(s)))...)
		return r.lease(feed, scope, s, gen), nil
	}

	s = &slot{key: key, refs: 1, ready: make(chan struct{})}
	r.slots[key] = s
	r.mu.Unlock()

	handle, err := r.subscriber.Subscribe(ctx, feed.filter(scope), r.handler(feed, scope))

	r.mu.Lock()
	s.handle, s.err = handle, err
	close(s.ready)
	orphaned := r.generation != gen || r.slots[key] != s
	if err != nil && !orphaned {
		delete(r.slots, key)
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("feed subscription failed", append(fields, zap.Error(err))...)
		return nil, fmt.Errorf("subscribe %s: %w", feed.Name, err)
	}
	if orphaned {
		handle.Unsubscribe()
		return nil, ErrReset
	}

	r.logger.Info("feed opened", fields...)
	return r.lease(feed, scope, s, gen), nil
}

func (r *Registry) await(ctx context.Context, s *slot, gen uint64) error {
	select {
	case <-ctx.Done():
		r.release(s, gen)
		return ctx.Err()
	case <-s.ready:
	}

	if s.err != nil {
		return fmt.Errorf("subscribe %s: %w", s.key.feed, s.err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen || r.slots[s.key] != s {
		return ErrReset
	}
	return nil
}

func (r *Registry) lease(feed Feed, scope string, s *slot, gen uint64) *Lease {
	return &Lease{
		id:         uuid.NewString(),
		feed:       feed,
		scope:      scope,
		registry:   r,
		slot:       s,
		generation: gen,
	}
}

func (r *Registry) release(s *slot, gen uint64) {
	r.mu.Lock()
	if r.generation != gen || r.slots[s.key] != s {
		r.mu.Unlock()
		return
	}

	s.refs--
	if s.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.slots, s.key)
	handle := s.handle
	r.mu.Unlock()

	if handle != nil {
		handle.Unsubscribe()
	}
	r.logger.Info("feed closed", logger.FeedFields(s.key.feed, s.key.scope)...)
}

func (r *Registry) refs(s *slot) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return s.refs
}

func (r *Registry) handler(feed Feed, scope string) func(realtime.Change) {
	return func(change realtime.Change) {
		for _, resource := range feed.Affects {
			r.cache.Invalidate(querycache.K(resource))
		}
		r.logger.Debug("feed change",
			append(logger.FeedFields(feed.Name, scope),
				zap.String("type", string(change.Type)),
				zap.Strings("invalidated", feed.Affects),
			)...,
		)
	}
}

// Reset closes every open subscription and clears all slots. Leases taken
// before the reset become inert.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.generation++
	handles := make([]Handle, 0, len(r.slots))
	for _, s := range r.slots {
		if s.handle != nil {
			handles = append(handles, s.handle)
		}
	}
	r.slots = make(map[slotKey]*slot)
	r.mu.Unlock()

	for _, h := range handles {
		h.Unsubscribe()
	}

	if len(handles) > 0 {
		r.logger.Info("feeds reset", zap.Int("closed", len(handles)))
	}
}

// Refs returns the number of live leases on the (feed, scope) slot.
func (r *Registry) Refs(feed Feed, scope string) int {
	if !feed.Scoped() {
		scope = ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.slots[slotKey{feed: feed.Name, scope: scope}]; ok {
		return s.refs
	}
	return 0
}
