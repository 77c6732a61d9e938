package session

import (
	"context"
	"time"

	"github.com/spigell/hireboard/internal/backend"
)

const profilesTable = "profiles"

// ProfilePatch holds the profile fields to change; nil fields are kept.
type ProfilePatch struct {
	FullName  *string
	Company   *string
	Phone     *string
	Location  *string
	Bio       *string
	AvatarURL *string
	ResumeURL *string
	Skills    []string
}

// Empty reports whether the patch changes nothing.
func (p ProfilePatch) Empty() bool {
	return len(p.fields()) == 0
}

func (p ProfilePatch) fields() map[string]any {
	fields := map[string]any{}
	set := func(name string, v *string) {
		if v != nil {
			fields[name] = *v
		}
	}

	set("full_name", p.FullName)
	set("company", p.Company)
	set("phone", p.Phone)
	set("location", p.Location)
	set("bio", p.Bio)
	set("avatar_url", p.AvatarURL)
	set("resume_url", p.ResumeURL)
	if p.Skills != nil {
		fields["skills"] = p.Skills
	}
	return fields
}

// ProfileStore loads and persists profile rows.
type ProfileStore interface {
	LoadProfile(ctx context.Context, userID string) (Profile, error)
	SaveProfile(ctx context.Context, userID string, patch ProfilePatch) (Profile, error)
}

// BackendProfiles keeps profiles in the backend profiles table.
type BackendProfiles struct {
	Client *backend.Client
	now    func() time.Time
}

func NewBackendProfiles(client *backend.Client) *BackendProfiles {
	return &BackendProfiles{Client: client, now: time.Now}
}

func (b *BackendProfiles) LoadProfile(ctx context.Context, userID string) (Profile, error) {
	var profile Profile
	err := b.Client.From(profilesTable).
		Select("*").
		Eq("id", userID).
		Single().
		Execute(ctx, &profile)
	return profile, err
}

func (b *BackendProfiles) SaveProfile(ctx context.Context, userID string, patch ProfilePatch) (Profile, error) {
	fields := patch.fields()
	fields["updated_at"] = b.now().UTC()

	var profile Profile
	err := b.Client.From(profilesTable).
		Eq("id", userID).
		Update(ctx, fields, &profile)
	return profile, err
}
