package recruitment

import (
	"time"

	"github.com/spigell/hireboard/internal/querycache"
)

// Cache resources. Feed declarations invalidate them by name.
const (
	ResourceJobs             = "jobs"
	ResourceActiveJobs       = "active-jobs"
	ResourceJob              = "job"
	ResourceApplications     = "applications"
	ResourceUserApplications = "user-applications"
	ResourceApplication      = "application"
	ResourceApplicationStats = "application-stats"
	ResourceNotifications    = "notifications"
	ResourceUnread           = "unread-notifications"
	ResourceInterviews       = "interviews"
	ResourceAnalyses         = "analysis-results"
)

// Staleness windows per resource.
const (
	StaleActiveJobs       = 5 * time.Minute
	StaleJobs             = 5 * time.Minute
	StaleJob              = 2 * time.Minute
	StaleApplications     = time.Minute
	StaleUserApplications = time.Minute
	StaleApplication      = 2 * time.Minute
	StaleApplicationStats = time.Minute
	StaleNotifications    = time.Minute
	StaleUnread           = 30 * time.Second
	StaleInterviews       = 2 * time.Minute
	StaleAnalyses         = 2 * time.Minute
)

// IdentityScoped lists the resources keyed by the signed-in user. They are
// dropped on sign-out.
var IdentityScoped = []string{
	ResourceJobs,
	ResourceUserApplications,
	ResourceNotifications,
	ResourceUnread,
}

const userParam = "user"

func userKey(resource, userID string) querycache.Key {
	return querycache.K(resource, userParam, userID)
}

func idKey(resource, id string) querycache.Key {
	return querycache.K(resource, "id", id)
}

// UserKeys returns the prefixes of every entry scoped to userID.
func UserKeys(userID string) []querycache.Key {
	keys := make([]querycache.Key, 0, len(IdentityScoped))
	for _, resource := range IdentityScoped {
		keys = append(keys, userKey(resource, userID))
	}
	return keys
}
