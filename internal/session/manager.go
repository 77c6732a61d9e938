// Package session tracks the signed-in identity and its profile and
// publishes every change to dependents.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/backend"
	"github.com/spigell/hireboard/internal/logger"
)

const logoutTimeout = 10 * time.Second

// Authenticator is the part of the backend client the manager drives.
type Authenticator interface {
	SignInWithPassword(ctx context.Context, email, password string) (*backend.Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*backend.User, *backend.Session, error)
	Logout(ctx context.Context, accessToken string) error
	SetSession(s *backend.Session)
	ClearSession() *backend.Session
	GetUser(ctx context.Context) (*backend.User, error)
	OnAuthStateChange(fn backend.AuthListener) func()
}

// Metadata is attached to a new principal at sign up.
type Metadata struct {
	FullName string
	Role     string
	Company  string
}

func (m Metadata) values() map[string]any {
	values := map[string]any{
		"full_name": m.FullName,
		"role":      m.Role,
	}
	if m.Company != "" {
		values["company"] = m.Company
	}
	return values
}

type Manager struct {
	auth     Authenticator
	profiles ProfileStore
	store    Store
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// pubMu serializes state changes with their notification so that
	// subscribers observe transitions in order.
	pubMu sync.Mutex

	mu         sync.RWMutex
	state      State
	profileErr error
	profileGen uint64
	// changed is closed and replaced whenever the state or the profile
	// load error changes.
	changed    chan struct{}
	subs       map[uint64]func(State)
	nextID     uint64
	unlisten   func()
}

func NewManager(auth Authenticator, profiles ProfileStore, store Store, log *zap.Logger) *Manager {
	if store == nil {
		store = MemoryStore{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		auth:     auth,
		profiles: profiles,
		store:    store,
		logger:   logger.WithComponent(log, "session"),
		ctx:      ctx,
		cancel:   cancel,
		state:    Unknown(),
		changed:  make(chan struct{}),
		subs:     make(map[uint64]func(State)),
	}
}

// Start registers the auth listener and restores the persisted session.
// A restored session is validated with the backend; a rejected one is
// dropped. The profile loads in the background.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.unlisten != nil {
		m.mu.Unlock()
		return errors.New("session manager already started")
	}
	m.unlisten = m.auth.OnAuthStateChange(m.onAuthEvent)
	m.mu.Unlock()

	saved, err := m.store.Load()
	if err != nil {
		m.logger.Warn("ignoring unreadable persisted session", zap.Error(err))
		saved = nil
	}

	if saved == nil {
		m.publish(Anonymous())
		return nil
	}

	m.auth.SetSession(saved)

	if _, err := m.auth.GetUser(ctx); err != nil {
		if backend.IsClientError(err) || errors.Is(err, backend.ErrNoSession) {
			m.logger.Info("persisted session rejected", zap.Error(err))
			m.auth.ClearSession()
			m.signedOut()
			return nil
		}
		// Offline: keep the restored identity.
		m.logger.Warn("could not validate persisted session", zap.Error(err))
	}

	return nil
}

func (m *Manager) onAuthEvent(event backend.AuthEvent, s *backend.Session) {
	m.logger.Debug("auth event", zap.String("event", string(event)))

	if event == backend.EventSignedOut || s == nil || s.AccessToken == "" {
		m.signedOut()
		return
	}

	if err := m.store.Save(s); err != nil {
		m.logger.Warn("persist session", zap.Error(err))
	}

	identity := identityOf(s)
	if identity.ID == "" {
		m.logger.Warn("session without user id", zap.String("event", string(event)))
		return
	}

	m.pubMu.Lock()
	current := m.State()
	prev, ok := current.Identity()
	if ok && prev.ID == identity.ID {
		if profile, ready := current.Profile(); ready {
			m.setLocked(Ready(identity, profile))
		}
		m.pubMu.Unlock()
		return
	}

	gen := m.setPendingLocked(identity)
	m.pubMu.Unlock()

	m.loadProfile(identity, gen)
}

func identityOf(s *backend.Session) Identity {
	identity := Identity{ID: s.UserID()}
	if s.User != nil {
		identity.Email = s.User.Email
	}
	return identity
}

func (m *Manager) setPendingLocked(identity Identity) uint64 {
	m.mu.Lock()
	m.profileGen++
	gen := m.profileGen
	m.profileErr = nil
	m.mu.Unlock()

	m.setLocked(PendingProfile(identity))
	return gen
}

func (m *Manager) loadProfile(identity Identity, gen uint64) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		profile, err := m.profiles.LoadProfile(m.ctx, identity.ID)

		m.pubMu.Lock()
		defer m.pubMu.Unlock()

		m.mu.Lock()
		stale := gen != m.profileGen
		if err != nil && !stale {
			m.profileErr = err
			m.broadcastLocked()
		}
		m.mu.Unlock()

		if stale {
			return
		}
		if err != nil {
			m.logger.Warn("load profile", zap.String("user_id", identity.ID), zap.Error(err))
			return
		}

		m.setLocked(Ready(identity, profile))
	}()
}

// SignIn authenticates; state follows through the auth listener. Errors
// are returned as the backend reported them.
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	_, err := m.auth.SignInWithPassword(ctx, email, password)
	return err
}

// SignUp registers a principal. It reports whether email verification is
// required before signing in.
func (m *Manager) SignUp(ctx context.Context, email, password string, meta Metadata) (bool, error) {
	_, s, err := m.auth.SignUp(ctx, email, password, meta.values())
	if err != nil {
		return false, err
	}
	return s == nil, nil
}

// SignOut drops the local session. The state is Anonymous when it returns;
// server-side revocation continues in the background.
func (m *Manager) SignOut(ctx context.Context) error {
	old := m.auth.ClearSession()
	m.signedOut()

	if old == nil || old.AccessToken == "" {
		return nil
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
		defer cancel()

		if err := m.auth.Logout(logoutCtx, old.AccessToken); err != nil {
			m.logger.Warn("server logout", zap.Error(err))
			return
		}
		m.logger.Debug("server session revoked")
	}()

	return nil
}

// UpdateProfile persists patch and republishes the profile. Without an
// identity it does nothing.
func (m *Manager) UpdateProfile(ctx context.Context, patch ProfilePatch) error {
	identity, ok := m.State().Identity()
	if !ok || patch.Empty() {
		return nil
	}

	profile, err := m.profiles.SaveProfile(ctx, identity.ID, patch)
	if err != nil {
		return err
	}

	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	// Signed out or switched user meanwhile.
	if current, ok := m.State().Identity(); !ok || current.ID != identity.ID {
		return nil
	}

	m.mu.Lock()
	m.profileGen++
	m.profileErr = nil
	m.mu.Unlock()

	m.setLocked(Ready(identity, profile))
	return nil
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Identity returns the current identity, if any.
func (m *Manager) Identity() (Identity, bool) {
	return m.State().Identity()
}

// Subscribe calls fn with the current state and then with every change.
// fn runs synchronously and must not sign in or out.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.pubMu.Lock()
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	state := m.state
	m.mu.Unlock()
	fn(state)
	m.pubMu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// WaitReady blocks until the state is anonymous or has a profile. It
// returns the profile load error when loading failed.
func (m *Manager) WaitReady(ctx context.Context) (State, error) {
	for {
		m.mu.RLock()
		state, loadErr, changed := m.state, m.profileErr, m.changed
		m.mu.RUnlock()

		switch {
		case state.Phase() == PhaseAnonymous || state.Phase() == PhaseReady:
			return state, nil
		case state.Phase() == PhasePendingProfile && loadErr != nil:
			return state, loadErr
		}

		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-changed:
		}
	}
}

// signedOut forgets the persisted session, voids pending profile loads and
// publishes Anonymous.
func (m *Manager) signedOut() {
	if err := m.store.Clear(); err != nil {
		m.logger.Warn("clear persisted session", zap.Error(err))
	}

	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.Lock()
	m.profileGen++
	m.profileErr = nil
	m.mu.Unlock()

	m.setLocked(Anonymous())
}

func (m *Manager) publish(state State) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	m.setLocked(state)
}

// setLocked stores state and notifies subscribers. Callers hold pubMu.
func (m *Manager) setLocked(state State) {
	m.mu.Lock()
	prev := m.state
	m.state = state
	m.broadcastLocked()
	subs := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if sameState(prev, state) {
		return
	}

	m.logger.Debug("session state", zap.Stringer("from", prev), zap.Stringer("to", state))
	for _, fn := range subs {
		fn(state)
	}
}

// broadcastLocked wakes every WaitReady. Callers hold mu.
func (m *Manager) broadcastLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func sameState(a, b State) bool {
	return a.phase == b.phase && a.identity == b.identity && a.phase != PhaseReady
}

// Close deregisters the auth listener and waits for background work.
func (m *Manager) Close() {
	m.mu.Lock()
	unlisten := m.unlisten
	m.unlisten = nil
	m.mu.Unlock()

	if unlisten != nil {
		unlisten()
	}
	m.cancel()
	m.wg.Wait()
}
