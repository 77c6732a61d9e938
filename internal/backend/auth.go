package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// AuthEvent names a transition of the auth session.
type AuthEvent string

const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// AuthListener receives auth events. The session is nil for EventSignedOut.
type AuthListener func(event AuthEvent, session *Session)

var ErrNoSession = errors.New("no active session")

type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	Role             string         `json:"role,omitempty"`
	EmailConfirmedAt string         `json:"email_confirmed_at,omitempty"`
	Metadata         map[string]any `json:"user_metadata,omitempty"`
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// Expiry returns when the access token stops being valid. The JWT exp claim
// wins over the expires_at field.
func (s *Session) Expiry() time.Time {
	if s == nil {
		return time.Time{}
	}
	if exp, err := TokenExpiry(s.AccessToken); err == nil {
		return exp
	}
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	return time.Time{}
}

// UserID returns the session owner id, falling back to the token subject.
func (s *Session) UserID() string {
	if s == nil {
		return ""
	}
	if s.User != nil && s.User.ID != "" {
		return s.User.ID
	}
	sub, _ := TokenSubject(s.AccessToken)
	return sub
}

// TokenExpiry reads the exp claim without verifying the signature; the
// backend verifies tokens, the client only needs to know when to refresh.
func TokenExpiry(token string) (time.Time, error) {
	claims, err := parseClaims(token)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}

// TokenSubject reads the sub claim without verifying the signature.
func TokenSubject(token string) (string, error) {
	claims, err := parseClaims(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func parseClaims(token string) (*jwt.RegisteredClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("empty token")
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return claims, nil
}

// OnAuthStateChange registers fn for auth events and returns its deregistration.
func (c *Client) OnAuthStateChange(fn AuthListener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) emit(event AuthEvent, session *Session) {
	c.mu.RLock()
	listeners := make([]AuthListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.RUnlock()

	c.logger.Debug("auth state change", zap.String("event", string(event)), zap.Int("listeners", len(listeners)))

	for _, l := range listeners {
		l(event, session)
	}
}

// Session returns a copy of the current session or nil.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.session == nil {
		return nil
	}
	cp := *c.session
	return &cp
}

// SetSession installs a restored session and emits EventInitialSession.
func (c *Client) SetSession(s *Session) {
	c.storeSession(s)
	c.emit(EventInitialSession, c.Session())
}

func (c *Client) storeSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s == nil {
		c.session = nil
		return
	}
	cp := *s
	c.session = &cp
}

// ClearSession forgets the local session and emits EventSignedOut. It never
// touches the network; see Logout for server-side revocation.
func (c *Client) ClearSession() *Session {
	c.mu.Lock()
	old := c.session
	c.session = nil
	c.mu.Unlock()

	if old != nil {
		c.emit(EventSignedOut, nil)
	}
	return old
}

// SignInWithPassword authenticates and installs the resulting session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	payload := map[string]string{
		"email":    email,
		"password": password,
	}

	var session Session
	if err := c.doJSON(ctx, http.MethodPost, c.tokenURL("password"), "", payload, nil, &session); err != nil {
		return nil, err
	}

	if session.AccessToken == "" {
		return nil, errors.New("sign in returned no access token")
	}

	c.storeSession(&session)
	c.emit(EventSignedIn, c.Session())
	return c.Session(), nil
}

// SignUp registers a principal. Session is nil when the backend requires
// email verification first.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*User, *Session, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
		"data":     metadata,
	}

	var resp struct {
		Session
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint(authPath, "signup"), "", payload, nil, &resp); err != nil {
		return nil, nil, err
	}

	if resp.AccessToken == "" {
		return &User{ID: resp.ID, Email: resp.Email, Metadata: metadata}, nil, nil
	}

	session := resp.Session
	c.storeSession(&session)
	c.emit(EventSignedIn, c.Session())
	return session.User, c.Session(), nil
}

// Logout revokes the given access token server side.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	return c.doJSON(ctx, http.MethodPost, c.endpoint(authPath, "logout"), accessToken, nil, nil, nil)
}

// GetUser fetches the user the current session belongs to.
func (c *Client) GetUser(ctx context.Context) (*User, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var user User
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint(authPath, "user"), token, nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUserMetadata merges metadata into the auth user and emits EventUserUpdated.
func (c *Client) UpdateUserMetadata(ctx context.Context, metadata map[string]any) (*User, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var user User
	payload := map[string]any{"data": metadata}
	if err := c.doJSON(ctx, http.MethodPut, c.endpoint(authPath, "user"), token, payload, nil, &user); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.session != nil {
		u := user
		c.session.User = &u
	}
	c.mu.Unlock()

	c.emit(EventUserUpdated, c.Session())
	return &user, nil
}

// RefreshSession exchanges the refresh token for a new session. Concurrent
// callers share one refresh.
func (c *Client) RefreshSession(ctx context.Context) (*Session, error) {
	current := c.Session()
	if current == nil || current.RefreshToken == "" {
		return nil, ErrNoSession
	}
	return c.refresh(ctx, current.RefreshToken)
}

// refresh rotates refreshToken. When another caller already rotated it the
// current session is returned as is.
func (c *Client) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	v, err, _ := c.refreshGroup.Do(refreshToken, func() (any, error) {
		current := c.Session()
		if current == nil {
			return nil, ErrNoSession
		}
		if current.RefreshToken != refreshToken {
			return current, nil
		}

		payload := map[string]string{"refresh_token": refreshToken}

		var session Session
		if err := c.doJSON(ctx, http.MethodPost, c.tokenURL("refresh_token"), "", payload, nil, &session); err != nil {
			return nil, fmt.Errorf("refresh session: %w", err)
		}

		c.mu.Lock()
		// A sign-out raced the refresh; do not resurrect the session.
		if c.session == nil || c.session.RefreshToken != refreshToken {
			c.mu.Unlock()
			return nil, ErrNoSession
		}
		if session.User == nil {
			session.User = c.session.User
		}
		cp := session
		c.session = &cp
		c.mu.Unlock()

		c.emit(EventTokenRefreshed, c.Session())
		return c.Session(), nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Session), nil
}

// AccessToken returns a usable access token, refreshing it when it expires
// within the refresh margin.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	session := c.Session()
	if session == nil {
		return "", ErrNoSession
	}

	exp := session.Expiry()
	if exp.IsZero() || c.now().Add(refreshMargin).Before(exp) {
		return session.AccessToken, nil
	}

	refreshed, err := c.refresh(ctx, session.RefreshToken)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// bearer returns the session token or, for anonymous callers, the anon key.
func (c *Client) bearer(ctx context.Context) (string, error) {
	token, err := c.AccessToken(ctx)
	if errors.Is(err, ErrNoSession) {
		return c.anonKey, nil
	}
	return token, err
}

func (c *Client) tokenURL(grant string) string {
	q := url.Values{}
	q.Set("grant_type", grant)
	return c.endpoint(authPath, "token") + "?" + q.Encode()
}
