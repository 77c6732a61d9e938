package feeds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/logger"
	"github.com/spigell/hireboard/internal/realtime"
	"github.com/spigell/hireboard/internal/utils"
)

const (
	defaultRetryBase     = time.Second
	defaultRetryMax      = 30 * time.Second
	defaultRetryAttempts = 10
)

// Retry controls how followers retry a failed acquire. Zero values take
// the defaults; negative Attempts disables retrying.
type Retry struct {
	Base     time.Duration
	Max      time.Duration
	Attempts int
	// OnGiveUp receives an error wrapping realtime.ErrGaveUp once the
	// attempts for an identity are used up.
	OnGiveUp func(error)
}

func (r Retry) withDefaults() Retry {
	if r.Base <= 0 {
		r.Base = defaultRetryBase
	}
	if r.Max <= 0 {
		r.Max = defaultRetryMax
	}
	switch {
	case r.Attempts == 0:
		r.Attempts = defaultRetryAttempts
	case r.Attempts < 0:
		r.Attempts = 0
	}
	return r
}

// SetRetry sets the acquire retry policy of followers started afterwards.
func (r *Registry) SetRetry(retry Retry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retry = retry.withDefaults()
}

func (r *Registry) retryPolicy() Retry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retry
}

// Follower keeps one lease on a feed for the current identity: it acquires
// when an identity appears, releases when it goes away and moves the lease
// when the identity changes. Updates are applied in order on a background
// goroutine; only the latest pending identity matters. A failed acquire is
// retried with jittered backoff until the attempts run out.
type Follower struct {
	registry *Registry
	feed     Feed
	retry    Retry
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	signal chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	want    string
	current string
	lease   *Lease
}

// Follow starts a follower for feed. Call Stop to release its lease.
func (r *Registry) Follow(feed Feed) *Follower {
	ctx, cancel := context.WithCancel(context.Background())

	f := &Follower{
		registry: r,
		feed:     feed,
		retry:    r.retryPolicy(),
		logger:   logger.WithFields(r.logger, zap.String(logger.FieldFeed, feed.Name)),
		ctx:      ctx,
		cancel:   cancel,
		signal:   make(chan struct{}, 1),
	}

	f.wg.Add(1)
	go f.loop()
	return f
}

// Update records the current identity; an empty string means none.
func (f *Follower) Update(identity string) {
	f.mu.Lock()
	f.want = identity
	f.mu.Unlock()

	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// Identity returns the identity the follower currently holds a lease for.
func (f *Follower) Identity() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *Follower) loop() {
	defer f.wg.Done()

	var (
		retry    <-chan time.Time
		attempts int
	)

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-f.signal:
			retry, attempts = nil, 0
		case <-retry:
			retry = nil
		}

		scope, err := f.apply()
		if err == nil || f.ctx.Err() != nil {
			attempts = 0
			continue
		}

		attempts++
		if attempts > f.retry.Attempts {
			f.giveUp(scope, attempts, err)
			attempts = 0
			continue
		}

		delay := utils.Jitter(utils.Backoff(attempts, f.retry.Base, f.retry.Max))
		f.logger.Warn("follow feed",
			zap.String(logger.FieldScope, scope),
			zap.Int("attempt", attempts),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		retry = time.After(delay)
	}
}

func (f *Follower) giveUp(scope string, attempts int, err error) {
	f.logger.Error("follow feed: giving up",
		zap.String(logger.FieldScope, scope),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	if f.retry.OnGiveUp != nil {
		f.retry.OnGiveUp(fmt.Errorf("%w: feed %s: %v", realtime.ErrGaveUp, f.feed.Name, err))
	}
}

// apply moves the lease to the wanted identity. It returns the identity it
// failed to acquire for along with the error.
func (f *Follower) apply() (string, error) {
	f.mu.Lock()
	want, current, lease := f.want, f.current, f.lease
	f.mu.Unlock()

	// A lease voided by a registry reset must be taken again.
	if want == current && f.registry.holds(lease) {
		return "", nil
	}

	if lease != nil {
		lease.Release()
		f.set("", nil)
	}

	if want == "" {
		return "", nil
	}

	next, err := f.registry.Acquire(f.ctx, f.feed, want)
	if err != nil {
		return want, err
	}
	f.set(want, next)
	return want, nil
}

func (f *Follower) set(identity string, lease *Lease) {
	f.mu.Lock()
	f.current = identity
	f.lease = lease
	f.mu.Unlock()
}

// Stop releases the held lease and ends the follower.
func (f *Follower) Stop() {
	f.cancel()
	f.wg.Wait()

	f.mu.Lock()
	lease := f.lease
	f.lease = nil
	f.current = ""
	f.mu.Unlock()

	if lease != nil {
		lease.Release()
	}
}

// holds reports whether lease is still live. A nil lease counts as live.
func (r *Registry) holds(lease *Lease) bool {
	if lease == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation == lease.generation && r.slots[lease.slot.key] == lease.slot
}
