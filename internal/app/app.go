// Package app builds the data layer of the client and ties session changes
// to the realtime feeds and the query cache.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/ai"
	"github.com/spigell/hireboard/internal/ai/mock"
	"github.com/spigell/hireboard/internal/backend"
	"github.com/spigell/hireboard/internal/feeds"
	"github.com/spigell/hireboard/internal/logger"
	"github.com/spigell/hireboard/internal/querycache"
	"github.com/spigell/hireboard/internal/realtime"
	"github.com/spigell/hireboard/internal/recruitment"
	"github.com/spigell/hireboard/internal/scoring"
	"github.com/spigell/hireboard/internal/session"
)

type RealtimeConfig struct {
	Disabled      bool
	Heartbeat     time.Duration
	MaxReconnects int
}

type Config struct {
	Backend     backend.Config
	SessionFile string
	Cache       querycache.Config
	Realtime    RealtimeConfig
	Scoring     scoring.Config
	AIDelay     time.Duration
}

// App owns every long-lived component. Close releases them.
type App struct {
	Backend     *backend.Client
	Cache       *querycache.Cache
	Realtime    *realtime.Client
	Feeds       *feeds.Registry
	Session     *session.Manager
	Recruitment *recruitment.Service
	Scoring     *scoring.Client
	AI          ai.Assistant

	logger    *zap.Logger
	followers []*feeds.Follower

	mu          sync.Mutex
	userID      string
	unsubscribe func()
	closeOnce   sync.Once
}

func New(cfg Config, log *zap.Logger) (*App, error) {
	log = logger.OrNop(log)

	client, err := backend.New(cfg.Backend, log)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}

	cache, err := querycache.New(cfg.Cache, log)
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}

	var store session.Store = session.MemoryStore{}
	if cfg.SessionFile != "" {
		store = session.FileStore{Path: cfg.SessionFile}
	}

	a := &App{
		Backend: client,
		Cache:   cache,
		Scoring: scoring.New(cfg.Scoring, log),
		AI:      mock.New(cfg.AIDelay, log),
		logger:  logger.WithComponent(log, "app"),
	}

	a.Session = session.NewManager(client, session.NewBackendProfiles(client), store, log)
	a.Recruitment = recruitment.NewService(client, cache, a.Session, log)

	if !cfg.Realtime.Disabled {
		a.Realtime, err = realtime.New(realtime.Config{
			URL:           client.RealtimeURL(),
			Token:         a.realtimeToken,
			Heartbeat:     cfg.Realtime.Heartbeat,
			MaxReconnects: cfg.Realtime.MaxReconnects,
			OnError:       a.realtimeError,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("realtime: %w", err)
		}

		a.Feeds = feeds.NewRegistry(feeds.RealtimeSubscriber(a.Realtime), cache, log)
		a.Feeds.SetRetry(feeds.Retry{
			Attempts: cfg.Realtime.MaxReconnects,
			OnGiveUp: a.realtimeError,
		})
		for _, feed := range feeds.All {
			a.followers = append(a.followers, a.Feeds.Follow(feed))
		}
	}

	return a, nil
}

// Start restores the persisted session and begins following it.
func (a *App) Start(ctx context.Context) error {
	// Subscribe calls onState right away, which takes a.mu.
	unsubscribe := a.Session.Subscribe(a.onState)

	a.mu.Lock()
	a.unsubscribe = unsubscribe
	a.mu.Unlock()

	return a.Session.Start(ctx)
}

func (a *App) realtimeToken(ctx context.Context) (string, error) {
	token, err := a.Backend.AccessToken(ctx)
	if errors.Is(err, backend.ErrNoSession) {
		return a.Backend.AnonKey(), nil
	}
	return token, err
}

func (a *App) realtimeError(err error) {
	if errors.Is(err, realtime.ErrGaveUp) {
		a.logger.Error("realtime updates stopped; cached reads refresh on staleness only", zap.Error(err))
		return
	}
	a.logger.Warn("realtime connection problem", zap.Error(err))
}

// onState moves feed leases to the current identity. Losing or switching
// the identity closes every feed and drops the previous user's entries.
func (a *App) onState(state session.State) {
	if state.Loading() {
		return
	}

	uid := state.UserID()

	a.mu.Lock()
	prev := a.userID
	a.userID = uid
	a.mu.Unlock()

	if prev != "" && prev != uid {
		if a.Feeds != nil {
			a.Feeds.Reset()
		}
		removed := a.dropUserEntries(prev)
		a.logger.Info("identity changed",
			zap.String("previous", prev),
			zap.Bool("signed_out", uid == ""),
			zap.Int("cache_entries_removed", removed),
		)
	}

	for _, f := range a.followers {
		f.Update(uid)
	}
}

func (a *App) dropUserEntries(userID string) int {
	removed := 0
	for _, key := range recruitment.UserKeys(userID) {
		removed += a.Cache.Remove(key)
	}
	return removed
}

// Close stops the feeds and the session manager. It is safe to call more
// than once.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		unsubscribe := a.unsubscribe
		a.unsubscribe = nil
		a.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}

		for _, f := range a.followers {
			f.Stop()
		}
		if a.Feeds != nil {
			a.Feeds.Reset()
		}
		if a.Realtime != nil {
			err = a.Realtime.Close()
		}
		a.Session.Close()
	})
	return err
}
