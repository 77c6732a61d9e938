// Package recruitment reads jobs, applications, notifications and
// interviews through the query cache and performs the writes that keep it
// consistent.
package recruitment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/backend"
	"github.com/spigell/hireboard/internal/logger"
	"github.com/spigell/hireboard/internal/querycache"
	"github.com/spigell/hireboard/internal/session"
)

const (
	tableJobs          = "job_postings"
	tableApplications  = "applications"
	tableNotifications = "notifications"
	tableInterviews    = "interviews"
	tableAnalyses      = "analysis_results"

	resumeBucket = "resumes"

	applicationSelect = "*,job:job_postings(*),candidate:profiles(*)"
	interviewSelect   = "*,application:applications(*)"
)

// StateSource supplies the session state that scopes reads and guards
// writes.
type StateSource interface {
	State() session.State
}

type Service struct {
	client *backend.Client
	cache  *querycache.Cache
	state  StateSource
	logger *zap.Logger
	now    func() time.Time
}

func NewService(client *backend.Client, cache *querycache.Cache, state StateSource, log *zap.Logger) *Service {
	return &Service{
		client: client,
		cache:  cache,
		state:  state,
		logger: logger.WithComponent(log, "recruitment"),
		now:    time.Now,
	}
}

func (s *Service) userID() string {
	return s.state.State().UserID()
}

// ActiveJobs lists open postings, newest first.
func (s *Service) ActiveJobs(ctx context.Context) (*Jobs, error) {
	items, err := querycache.Read(ctx, s.cache, querycache.K(ResourceActiveJobs), StaleActiveJobs,
		func(ctx context.Context) ([]*Job, error) {
			var jobs []*Job
			err := s.client.From(tableJobs).
				Select("*").
				Eq("status", JobActive).
				Order("created_at", false).
				Execute(ctx, &jobs)
			return jobs, err
		})

	// Callers filter the result in place; never hand out the cached slice.
	return &Jobs{Items: append([]*Job(nil), items...)}, err
}

// PostedJobs lists every posting of the signed-in HR user.
func (s *Service) PostedJobs(ctx context.Context) ([]*Job, error) {
	uid := s.userID()
	if uid == "" {
		return nil, nil
	}

	return querycache.Read(ctx, s.cache, userKey(ResourceJobs, uid), StaleJobs,
		func(ctx context.Context) ([]*Job, error) {
			var jobs []*Job
			err := s.client.From(tableJobs).
				Select("*").
				Eq("posted_by", uid).
				Order("created_at", false).
				Execute(ctx, &jobs)
			return jobs, err
		})
}

func (s *Service) Job(ctx context.Context, id string) (*Job, error) {
	return querycache.Read(ctx, s.cache, idKey(ResourceJob, id), StaleJob,
		func(ctx context.Context) (*Job, error) {
			var job Job
			if err := s.client.From(tableJobs).Select("*").Eq("id", id).Single().Execute(ctx, &job); err != nil {
				return nil, err
			}
			return &job, nil
		})
}

// ApplicationFilter narrows the HR application list. Zero values match all.
type ApplicationFilter struct {
	JobID  string
	Status ApplicationStatus
}

func (f ApplicationFilter) key() querycache.Key {
	var kv []string
	if f.JobID != "" {
		kv = append(kv, "job", f.JobID)
	}
	if f.Status != "" {
		kv = append(kv, "status", string(f.Status))
	}
	return querycache.K(ResourceApplications, kv...)
}

// Applications lists applications with their job and candidate for HR.
func (s *Service) Applications(ctx context.Context, filter ApplicationFilter) ([]Application, error) {
	return querycache.Read(ctx, s.cache, filter.key(), StaleApplications,
		func(ctx context.Context) ([]Application, error) {
			q := s.client.From(tableApplications).Select(applicationSelect)
			if filter.JobID != "" {
				q = q.Eq("job_id", filter.JobID)
			}
			if filter.Status != "" {
				q = q.Eq("status", string(filter.Status))
			}

			var apps []Application
			err := q.Order("created_at", false).Execute(ctx, &apps)
			return apps, err
		})
}

// UserApplications lists the signed-in candidate's applications. It is
// empty without an identity.
func (s *Service) UserApplications(ctx context.Context) ([]Application, error) {
	uid := s.userID()
	if uid == "" {
		return nil, nil
	}

	return querycache.Read(ctx, s.cache, userKey(ResourceUserApplications, uid), StaleUserApplications,
		func(ctx context.Context) ([]Application, error) {
			var apps []Application
			err := s.client.From(tableApplications).
				Select("*,job:job_postings(*)").
				Eq("candidate_id", uid).
				Order("created_at", false).
				Execute(ctx, &apps)
			return apps, err
		})
}

func (s *Service) Application(ctx context.Context, id string) (*Application, error) {
	return querycache.Read(ctx, s.cache, idKey(ResourceApplication, id), StaleApplication,
		func(ctx context.Context) (*Application, error) {
			var app Application
			if err := s.client.From(tableApplications).Select(applicationSelect).Eq("id", id).Single().Execute(ctx, &app); err != nil {
				return nil, err
			}
			return &app, nil
		})
}

// ApplicationStats counts applications per status.
func (s *Service) ApplicationStats(ctx context.Context) (ApplicationStats, error) {
	return querycache.Read(ctx, s.cache, querycache.K(ResourceApplicationStats), StaleApplicationStats,
		func(ctx context.Context) (ApplicationStats, error) {
			var rows []struct {
				Status ApplicationStatus `json:"status"`
			}
			if err := s.client.From(tableApplications).Select("id,status").Execute(ctx, &rows); err != nil {
				return ApplicationStats{}, err
			}

			stats := ApplicationStats{Total: len(rows), ByStatus: make(map[ApplicationStatus]int, len(Statuses))}
			for _, r := range rows {
				stats.ByStatus[r.Status]++
			}
			return stats, nil
		})
}

// Notifications lists the signed-in user's notifications, newest first.
func (s *Service) Notifications(ctx context.Context) ([]Notification, error) {
	uid := s.userID()
	if uid == "" {
		return nil, nil
	}

	return querycache.Read(ctx, s.cache, userKey(ResourceNotifications, uid), StaleNotifications,
		func(ctx context.Context) ([]Notification, error) {
			var notes []Notification
			err := s.client.From(tableNotifications).
				Select("*").
				Eq("user_id", uid).
				Order("created_at", false).
				Limit(50).
				Execute(ctx, &notes)
			return notes, err
		})
}

// UnreadCount is zero without an identity.
func (s *Service) UnreadCount(ctx context.Context) (int, error) {
	uid := s.userID()
	if uid == "" {
		return 0, nil
	}

	return querycache.Read(ctx, s.cache, userKey(ResourceUnread, uid), StaleUnread,
		func(ctx context.Context) (int, error) {
			return s.client.From(tableNotifications).
				Eq("user_id", uid).
				Eq("read", false).
				Count(ctx)
		})
}

// Interviews lists interviews, optionally for one application, soonest first.
func (s *Service) Interviews(ctx context.Context, applicationID string) ([]Interview, error) {
	key := querycache.K(ResourceInterviews)
	if applicationID != "" {
		key = querycache.K(ResourceInterviews, "application", applicationID)
	}

	return querycache.Read(ctx, s.cache, key, StaleInterviews,
		func(ctx context.Context) ([]Interview, error) {
			q := s.client.From(tableInterviews).Select(interviewSelect)
			if applicationID != "" {
				q = q.Eq("application_id", applicationID)
			}

			var interviews []Interview
			err := q.Order("scheduled_at", true).Execute(ctx, &interviews)
			return interviews, err
		})
}

// Analyses lists stored review tool results of one kind.
func (s *Service) Analyses(ctx context.Context, kind string) ([]AnalysisResult, error) {
	return querycache.Read(ctx, s.cache, querycache.K(ResourceAnalyses, "kind", kind), StaleAnalyses,
		func(ctx context.Context) ([]AnalysisResult, error) {
			var results []AnalysisResult
			err := s.client.From(tableAnalyses).
				Select("*").
				Eq("kind", kind).
				Order("created_at", false).
				Execute(ctx, &results)
			return results, err
		})
}
