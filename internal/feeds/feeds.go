// Package feeds bridges backend change notifications into query cache
// invalidations. At most one upstream subscription exists per feed and
// scope; consumers share it through reference-counted leases.
package feeds

import (
	"context"

	"github.com/spigell/hireboard/internal/querycache"
	"github.com/spigell/hireboard/internal/realtime"
)

// Feed declares a watched table and the cache resources its changes affect.
type Feed struct {
	Name  string
	Table string
	// ScopeColumn restricts the feed to rows whose column equals the scope.
	// Empty means the feed is process-wide.
	ScopeColumn string
	Affects     []string
}

var (
	Notifications = Feed{
		Name:        "notifications",
		Table:       "notifications",
		ScopeColumn: "user_id",
		Affects:     []string{"notifications", "unread-notifications"},
	}
	Applications = Feed{
		Name:    "applications",
		Table:   "applications",
		Affects: []string{"applications", "application-stats", "application", "user-applications"},
	}
	Jobs = Feed{
		Name:    "jobs",
		Table:   "job_postings",
		Affects: []string{"jobs", "active-jobs", "job"},
	}
	Interviews = Feed{
		Name:    "interviews",
		Table:   "interviews",
		Affects: []string{"interviews"},
	}
)

// All lists every declared feed.
var All = []Feed{Notifications, Applications, Jobs, Interviews}

// Scoped reports whether the feed needs an identity scope.
func (f Feed) Scoped() bool {
	return f.ScopeColumn != ""
}

func (f Feed) filter(scope string) realtime.Filter {
	filter := realtime.Filter{Table: f.Table}
	if f.Scoped() {
		filter.Filter = f.ScopeColumn + "=eq." + scope
	}
	return filter
}

// Handle is an open upstream subscription.
type Handle interface {
	Unsubscribe()
}

// Subscriber opens upstream subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, filter realtime.Filter, handler func(realtime.Change)) (Handle, error)
}

// Invalidator is the part of the query cache the bridge writes to.
type Invalidator interface {
	Invalidate(prefix querycache.Key) int
}

type realtimeSubscriber struct {
	client *realtime.Client
}

// RealtimeSubscriber adapts a realtime client to Subscriber.
func RealtimeSubscriber(client *realtime.Client) Subscriber {
	return realtimeSubscriber{client: client}
}

func (s realtimeSubscriber) Subscribe(ctx context.Context, filter realtime.Filter, handler func(realtime.Change)) (Handle, error) {
	sub, err := s.client.Subscribe(ctx, filter, handler)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
