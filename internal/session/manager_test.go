package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/backend"
)

type fakeAuth struct {
	mu        sync.Mutex
	session   *backend.Session
	listeners map[int]backend.AuthListener
	nextID    int

	signInErr  error
	getUserErr error
	logoutGate chan struct{}
	logouts    []string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{listeners: make(map[int]backend.AuthListener)}
}

func (f *fakeAuth) emit(event backend.AuthEvent, s *backend.Session) {
	f.mu.Lock()
	listeners := make([]backend.AuthListener, 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()

	for _, l := range listeners {
		l(event, s)
	}
}

func (f *fakeAuth) SignInWithPassword(_ context.Context, email, _ string) (*backend.Session, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}

	s := testSession("user-"+email, email)
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()

	f.emit(backend.EventSignedIn, s)
	return s, nil
}

func (f *fakeAuth) SignUp(_ context.Context, email, _ string, _ map[string]any) (*backend.User, *backend.Session, error) {
	return &backend.User{ID: "new", Email: email}, nil, nil
}

func (f *fakeAuth) Logout(ctx context.Context, token string) error {
	if f.logoutGate != nil {
		select {
		case <-f.logoutGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts = append(f.logouts, token)
	return nil
}

func (f *fakeAuth) SetSession(s *backend.Session) {
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()
	f.emit(backend.EventInitialSession, s)
}

func (f *fakeAuth) ClearSession() *backend.Session {
	f.mu.Lock()
	old := f.session
	f.session = nil
	f.mu.Unlock()

	if old != nil {
		f.emit(backend.EventSignedOut, nil)
	}
	return old
}

func (f *fakeAuth) GetUser(context.Context) (*backend.User, error) {
	if f.getUserErr != nil {
		return nil, f.getUserErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil, backend.ErrNoSession
	}
	return f.session.User, nil
}

func (f *fakeAuth) OnAuthStateChange(fn backend.AuthListener) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeAuth) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeAuth) loggedOut() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.logouts...)
}

type fakeProfiles struct {
	mu    sync.Mutex
	gate  chan struct{}
	err   error
	saved []ProfilePatch
}

func (p *fakeProfiles) LoadProfile(ctx context.Context, userID string) (Profile, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return Profile{}, ctx.Err()
		}
	}
	if p.err != nil {
		return Profile{}, p.err
	}
	return Profile{ID: userID, FullName: "Ada", Role: RoleHR}, nil
}

func (p *fakeProfiles) SaveProfile(_ context.Context, userID string, patch ProfilePatch) (Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, patch)
	return Profile{ID: userID, FullName: *patch.FullName, Role: RoleHR}, nil
}

func (p *fakeProfiles) saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.saved)
}

func testSession(userID, email string) *backend.Session {
	return &backend.Session{
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		User:         &backend.User{ID: userID, Email: email},
	}
}

type recorder struct {
	mu     sync.Mutex
	phases []Phase
}

func (r *recorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, s.Phase())
}

func (r *recorder) seen() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Phase(nil), r.phases...)
}

func newTestManager(t *testing.T, auth *fakeAuth, profiles *fakeProfiles, store Store) *Manager {
	t.Helper()
	m := NewManager(auth, profiles, store, zap.NewNop())
	t.Cleanup(m.Close)
	return m
}

func waitPhase(t *testing.T, m *Manager, phase Phase) State {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := m.State(); s.Phase() == phase {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected phase %s, got %s", phase, m.State())
	return State{}
}

func TestStartWithoutPersistedSession(t *testing.T) {
	auth := newFakeAuth()
	m := newTestManager(t, auth, &fakeProfiles{}, MemoryStore{})

	if !m.State().Loading() {
		t.Fatal("expected unknown state before start")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if m.State().Phase() != PhaseAnonymous {
		t.Fatalf("expected anonymous, got %s", m.State())
	}
	if auth.listenerCount() != 1 {
		t.Fatalf("expected exactly one auth listener, got %d", auth.listenerCount())
	}

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected second start to fail")
	}
	if auth.listenerCount() != 1 {
		t.Fatal("second start must not register another listener")
	}

	m.Close()
	if auth.listenerCount() != 0 {
		t.Fatal("expected listener to be removed on close")
	}
}

func TestStartRestoresPersistedSession(t *testing.T) {
	store := FileStore{Path: filepath.Join(t.TempDir(), "session.json")}
	if err := store.Save(testSession("u1", "u1@example.com")); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	profiles := &fakeProfiles{gate: make(chan struct{})}
	m := newTestManager(t, newFakeAuth(), profiles, store)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	state := m.State()
	if state.Phase() != PhasePendingProfile {
		t.Fatalf("expected pending profile, got %s", state)
	}
	if _, ok := state.Profile(); ok {
		t.Fatal("pending state must not expose a profile")
	}
	if id, ok := m.Identity(); !ok || id.ID != "u1" {
		t.Fatalf("unexpected identity %+v", id)
	}

	close(profiles.gate)
	ready := waitPhase(t, m, PhaseReady)
	if p, _ := ready.Profile(); p.Role != RoleHR {
		t.Fatalf("unexpected profile %+v", p)
	}
}

func TestStartDropsRejectedSession(t *testing.T) {
	store := FileStore{Path: filepath.Join(t.TempDir(), "session.json")}
	store.Save(testSession("u1", "u1@example.com"))

	auth := newFakeAuth()
	auth.getUserErr = &backend.APIError{Status: 401, Message: "invalid JWT"}
	m := newTestManager(t, auth, &fakeProfiles{gate: make(chan struct{})}, store)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if m.State().Phase() != PhaseAnonymous {
		t.Fatalf("expected anonymous after rejected session, got %s", m.State())
	}

	saved, err := store.Load()
	if err != nil || saved != nil {
		t.Fatalf("expected store to be cleared, got %+v, %v", saved, err)
	}
}

func TestStartKeepsSessionWhenOffline(t *testing.T) {
	store := FileStore{Path: filepath.Join(t.TempDir(), "session.json")}
	store.Save(testSession("u1", "u1@example.com"))

	auth := newFakeAuth()
	auth.getUserErr = errors.New("dial tcp: connection refused")
	m := newTestManager(t, auth, &fakeProfiles{}, store)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, ok := m.Identity(); !ok {
		t.Fatal("expected identity to survive a network failure")
	}
}

func TestSignInPublishesPhases(t *testing.T) {
	auth := newFakeAuth()
	m := newTestManager(t, auth, &fakeProfiles{}, MemoryStore{})
	m.Start(context.Background())

	rec := &recorder{}
	cancel := m.Subscribe(rec.record)
	defer cancel()

	if err := m.SignIn(context.Background(), "a@example.com", "secret"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	waitPhase(t, m, PhaseReady)

	want := []Phase{PhaseAnonymous, PhasePendingProfile, PhaseReady}
	got := rec.seen()
	if len(got) != len(want) {
		t.Fatalf("expected phases %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected phases %v, got %v", want, got)
		}
	}
}

func TestSignInErrorIsReturned(t *testing.T) {
	auth := newFakeAuth()
	auth.signInErr = &backend.APIError{Status: 400, Message: "Invalid login credentials"}
	m := newTestManager(t, auth, &fakeProfiles{}, MemoryStore{})
	m.Start(context.Background())

	err := m.SignIn(context.Background(), "a@example.com", "bad")
	if !backend.IsClientError(err) {
		t.Fatalf("expected client error, got %v", err)
	}
	if m.State().Phase() != PhaseAnonymous {
		t.Fatalf("expected anonymous, got %s", m.State())
	}
}

func TestSignOutClearsIdentityImmediately(t *testing.T) {
	auth := newFakeAuth()
	auth.logoutGate = make(chan struct{})
	profiles := &fakeProfiles{gate: make(chan struct{})}
	m := newTestManager(t, auth, profiles, MemoryStore{})
	m.Start(context.Background())

	m.SignIn(context.Background(), "a@example.com", "secret")
	if _, ok := m.Identity(); !ok {
		t.Fatal("expected identity after sign in")
	}

	if err := m.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}

	if _, ok := m.Identity(); ok {
		t.Fatal("identity must be absent right after sign out")
	}
	if m.State().Phase() != PhaseAnonymous {
		t.Fatalf("expected anonymous, got %s", m.State())
	}
	if len(auth.loggedOut()) != 0 {
		t.Fatal("server logout should still be pending")
	}

	// The profile load of the old identity must not resurrect it.
	close(profiles.gate)
	close(auth.logoutGate)
	m.Close()

	if m.State().Phase() != PhaseAnonymous {
		t.Fatalf("stale profile load changed state to %s", m.State())
	}
	if got := auth.loggedOut(); len(got) != 1 || got[0] != "access-user-a@example.com" {
		t.Fatalf("unexpected logouts %v", got)
	}
}

func TestUpdateProfile(t *testing.T) {
	auth := newFakeAuth()
	profiles := &fakeProfiles{}
	m := newTestManager(t, auth, profiles, MemoryStore{})
	m.Start(context.Background())

	name := "Grace"
	if err := m.UpdateProfile(context.Background(), ProfilePatch{FullName: &name}); err != nil {
		t.Fatalf("update without identity: %v", err)
	}
	if profiles.saves() != 0 {
		t.Fatal("update without identity must be a no-op")
	}

	m.SignIn(context.Background(), "a@example.com", "secret")
	waitPhase(t, m, PhaseReady)

	rec := &recorder{}
	cancel := m.Subscribe(rec.record)
	defer cancel()

	if err := m.UpdateProfile(context.Background(), ProfilePatch{FullName: &name}); err != nil {
		t.Fatalf("update: %v", err)
	}

	p, _ := m.State().Profile()
	if p.FullName != "Grace" {
		t.Fatalf("expected republished profile, got %+v", p)
	}
	if got := rec.seen(); len(got) != 2 {
		t.Fatalf("expected subscriber to see the update, got %v", got)
	}
}

func TestWaitReadyReportsProfileError(t *testing.T) {
	auth := newFakeAuth()
	profiles := &fakeProfiles{err: backend.ErrNoRows}
	m := newTestManager(t, auth, profiles, MemoryStore{})
	m.Start(context.Background())
	m.SignIn(context.Background(), "a@example.com", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	state, err := m.WaitReady(ctx)
	if !errors.Is(err, backend.ErrNoRows) {
		t.Fatalf("expected profile error, got %v", err)
	}
	if state.Phase() != PhasePendingProfile {
		t.Fatalf("expected pending profile, got %s", state)
	}
}

func TestWaitReadyWakesOnLateProfileError(t *testing.T) {
	auth := newFakeAuth()
	profiles := &fakeProfiles{gate: make(chan struct{}), err: backend.ErrNoRows}
	m := newTestManager(t, auth, profiles, MemoryStore{})
	m.Start(context.Background())
	m.SignIn(context.Background(), "a@example.com", "secret")

	type result struct {
		state State
		err   error
	}
	done := make(chan result, 1)
	go func() {
		state, err := m.WaitReady(context.Background())
		done <- result{state, err}
	}()

	select {
	case r := <-done:
		t.Fatalf("WaitReady returned before the profile settled: %s, %v", r.state, r.err)
	case <-time.After(100 * time.Millisecond):
	}

	close(profiles.gate)

	select {
	case r := <-done:
		if !errors.Is(r.err, backend.ErrNoRows) {
			t.Fatalf("expected profile error, got %v", r.err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitReady was not woken by the profile error")
	}
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	id := Identity{ID: "u1"}
	tests := []struct {
		name   string
		state  State
		roles  []string
		expect error
	}{
		{name: "unknown", state: Unknown(), roles: []string{RoleHR}, expect: ErrLoading},
		{name: "pending profile", state: PendingProfile(id), roles: []string{RoleHR}, expect: ErrLoading},
		{name: "anonymous", state: Anonymous(), roles: []string{RoleHR}, expect: ErrNoIdentity},
		{name: "allowed", state: Ready(id, Profile{Role: RoleHR}), roles: []string{RoleHR}, expect: nil},
		{name: "forbidden", state: Ready(id, Profile{Role: RoleCandidate}), roles: []string{RoleHR}, expect: ErrForbidden},
		{name: "any role", state: Ready(id, Profile{Role: RoleCandidate}), expect: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := RequireRole(tt.state, tt.roles...)
			if tt.expect == nil && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if tt.expect != nil && !errors.Is(err, tt.expect) {
				t.Fatalf("expected %v, got %v", tt.expect, err)
			}
		})
	}
}

func TestStateAccessors(t *testing.T) {
	t.Parallel()

	if _, ok := Anonymous().Identity(); ok {
		t.Fatal("anonymous must not have an identity")
	}
	if Anonymous().UserID() != "" {
		t.Fatal("anonymous must have an empty user id")
	}

	ready := Ready(Identity{ID: "u1"}, Profile{Role: RoleHR})
	if ready.UserID() != "u1" || ready.String() != "ready(u1, role=hr)" {
		t.Fatalf("unexpected ready state %s", ready)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := FileStore{Path: filepath.Join(t.TempDir(), "nested", "session.json")}

	if s, err := store.Load(); err != nil || s != nil {
		t.Fatalf("expected empty store, got %+v, %v", s, err)
	}

	if err := store.Save(testSession("u1", "u1@example.com")); err != nil {
		t.Fatalf("save: %v", err)
	}
	s, err := store.Load()
	if err != nil || s == nil || s.UserID() != "u1" {
		t.Fatalf("unexpected load %+v, %v", s, err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear twice: %v", err)
	}
}
