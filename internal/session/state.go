package session

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Phase is the readiness of the session.
type Phase int

const (
	// PhaseUnknown means the persisted session has not been checked yet.
	PhaseUnknown Phase = iota
	PhaseAnonymous
	// PhasePendingProfile means the identity is known but its profile is
	// still loading.
	PhasePendingProfile
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseUnknown:
		return "unknown"
	case PhaseAnonymous:
		return "anonymous"
	case PhasePendingProfile:
		return "pending-profile"
	case PhaseReady:
		return "ready"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

const (
	RoleCandidate = "candidate"
	RoleHR        = "hr"
)

// Identity is the authenticated principal.
type Identity struct {
	ID    string
	Email string
}

// Profile is the principal's profile row.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	Company   string    `json:"company,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Location  string    `json:"location,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	ResumeURL string    `json:"resume_url,omitempty"`
	Skills    []string  `json:"skills,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State is the tagged session state. A profile never exists without an
// identity; use the constructors to build one.
type State struct {
	phase    Phase
	identity Identity
	profile  Profile
}

func Unknown() State   { return State{phase: PhaseUnknown} }
func Anonymous() State { return State{phase: PhaseAnonymous} }

func PendingProfile(identity Identity) State {
	return State{phase: PhasePendingProfile, identity: identity}
}

func Ready(identity Identity, profile Profile) State {
	return State{phase: PhaseReady, identity: identity, profile: profile}
}

func (s State) Phase() Phase { return s.phase }

// Loading reports whether dependents must not assume either signed-in or
// signed-out yet.
func (s State) Loading() bool { return s.phase == PhaseUnknown }

func (s State) Identity() (Identity, bool) {
	if s.phase != PhasePendingProfile && s.phase != PhaseReady {
		return Identity{}, false
	}
	return s.identity, true
}

// UserID returns the identity id or an empty string.
func (s State) UserID() string {
	id, _ := s.Identity()
	return id.ID
}

func (s State) Profile() (Profile, bool) {
	if s.phase != PhaseReady {
		return Profile{}, false
	}
	return s.profile, true
}

func (s State) String() string {
	switch s.phase {
	case PhasePendingProfile:
		return fmt.Sprintf("%s(%s)", s.phase, s.identity.ID)
	case PhaseReady:
		return fmt.Sprintf("%s(%s, role=%s)", s.phase, s.identity.ID, s.profile.Role)
	default:
		return s.phase.String()
	}
}

var (
	ErrNoIdentity = errors.New("not signed in")
	// ErrLoading means the identity or its profile is not resolved yet.
	ErrLoading   = errors.New("session is still loading")
	ErrForbidden = errors.New("forbidden for this role")
)

// RequireRole checks that state is signed in with one of roles. It tells
// a still loading session apart from a forbidden one.
func RequireRole(state State, roles ...string) error {
	switch state.Phase() {
	case PhaseUnknown, PhasePendingProfile:
		return ErrLoading
	case PhaseAnonymous:
		return ErrNoIdentity
	}

	profile, _ := state.Profile()
	if len(roles) == 0 || slices.Contains(roles, profile.Role) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrForbidden, profile.Role)
}
