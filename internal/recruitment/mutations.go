package recruitment

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/querycache"
	"github.com/spigell/hireboard/internal/session"
)

// ErrResumeNotFound is returned before any request when the local resume
// file is missing.
var ErrResumeNotFound = errors.New("resume file not found")

// mutate runs write and, only when it succeeds, invalidates affected.
func (s *Service) mutate(ctx context.Context, name string, write func(context.Context) error, affected ...querycache.Key) error {
	if err := write(ctx); err != nil {
		s.logger.Warn("mutation failed", zap.String("mutation", name), zap.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}

	s.invalidate(name, affected...)
	return nil
}

func (s *Service) invalidate(mutation string, keys ...querycache.Key) {
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		s.cache.Invalidate(key)
		names = append(names, key.String())
	}
	s.logger.Debug("mutation applied", zap.String("mutation", mutation), zap.Strings("invalidated", names))
}

func (s *Service) requireIdentity() (string, error) {
	uid := s.userID()
	if uid == "" {
		return "", session.ErrNoIdentity
	}
	return uid, nil
}

func (s *Service) requireHR() (string, error) {
	state := s.state.State()
	if err := session.RequireRole(state, session.RoleHR); err != nil {
		return "", err
	}
	return state.UserID(), nil
}

type NewApplication struct {
	JobID       string
	CoverLetter string
	ResumeURL   string
}

// CreateApplication applies the signed-in candidate to a job.
func (s *Service) CreateApplication(ctx context.Context, in NewApplication) (*Application, error) {
	uid, err := s.requireIdentity()
	if err != nil {
		return nil, err
	}
	if in.JobID == "" {
		return nil, errors.New("job id is required")
	}

	row := map[string]any{
		"job_id":       in.JobID,
		"candidate_id": uid,
		"status":       string(StatusPending),
		"cover_letter": in.CoverLetter,
	}
	if in.ResumeURL != "" {
		row["resume_url"] = in.ResumeURL
	}

	var app Application
	err = s.mutate(ctx, "create application",
		func(ctx context.Context) error {
			return s.client.Insert(ctx, tableApplications, row, &app)
		},
		querycache.K(ResourceApplications),
		querycache.K(ResourceApplicationStats),
		userKey(ResourceUserApplications, uid),
	)
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// UpdateApplicationStatus moves an application to status and notifies the
// candidate.
func (s *Service) UpdateApplicationStatus(ctx context.Context, id string, status ApplicationStatus) (*Application, error) {
	if _, err := s.requireHR(); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("unknown application status %q", status)
	}

	var app Application
	write := func(ctx context.Context) error {
		patch := map[string]any{
			"status":     string(status),
			"updated_at": s.now().UTC(),
		}
		if err := s.client.From(tableApplications).Eq("id", id).Update(ctx, patch, &app); err != nil {
			return err
		}

		note := map[string]any{
			"user_id": app.CandidateID,
			"type":    "application_status",
			"title":   "Application updated",
			"message": fmt.Sprintf("Your application status is now %s.", status),
			"link":    "/applications/" + app.ID,
			"read":    false,
		}
		if err := s.client.Insert(ctx, tableNotifications, note, nil); err != nil {
			// The status change stands; the candidate misses one notification.
			s.logger.Warn("notify candidate", zap.String("application_id", app.ID), zap.Error(err))
		}
		return nil
	}

	// The affected candidate is only known once the write returns.
	if err := write(ctx); err != nil {
		s.logger.Warn("mutation failed", zap.String("mutation", "update application status"), zap.Error(err))
		return nil, fmt.Errorf("update application status: %w", err)
	}

	s.invalidate("update application status",
		idKey(ResourceApplication, id),
		querycache.K(ResourceApplications),
		querycache.K(ResourceApplicationStats),
		userKey(ResourceUserApplications, app.CandidateID),
		userKey(ResourceNotifications, app.CandidateID),
		userKey(ResourceUnread, app.CandidateID),
	)
	return &app, nil
}

// MarkNotificationRead marks one of the signed-in user's notifications read.
func (s *Service) MarkNotificationRead(ctx context.Context, id string) error {
	uid, err := s.requireIdentity()
	if err != nil {
		return err
	}

	return s.mutate(ctx, "mark notification read",
		func(ctx context.Context) error {
			return s.client.From(tableNotifications).
				Eq("id", id).
				Eq("user_id", uid).
				Update(ctx, map[string]any{"read": true}, nil)
		},
		userKey(ResourceNotifications, uid),
		userKey(ResourceUnread, uid),
	)
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context) error {
	uid, err := s.requireIdentity()
	if err != nil {
		return err
	}

	return s.mutate(ctx, "mark all notifications read",
		func(ctx context.Context) error {
			return s.client.From(tableNotifications).
				Eq("user_id", uid).
				Eq("read", false).
				Update(ctx, map[string]any{"read": true}, nil)
		},
		userKey(ResourceNotifications, uid),
		userKey(ResourceUnread, uid),
	)
}

type NewJob struct {
	Title          string
	Company        string
	Description    string
	Requirements   []string
	Location       string
	EmploymentType string
	SalaryMin      int
	SalaryMax      int
	Currency       string
}

func (s *Service) CreateJob(ctx context.Context, in NewJob) (*Job, error) {
	uid, err := s.requireHR()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, errors.New("job title is required")
	}

	row := map[string]any{
		"title":           in.Title,
		"company":         in.Company,
		"description":     in.Description,
		"requirements":    in.Requirements,
		"location":        in.Location,
		"employment_type": in.EmploymentType,
		"salary_min":      in.SalaryMin,
		"salary_max":      in.SalaryMax,
		"currency":        in.Currency,
		"status":          JobActive,
		"posted_by":       uid,
	}

	var job Job
	err = s.mutate(ctx, "create job",
		func(ctx context.Context) error {
			return s.client.Insert(ctx, tableJobs, row, &job)
		},
		querycache.K(ResourceJobs),
		querycache.K(ResourceActiveJobs),
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// JobPatch holds the posting fields to change; nil fields are kept.
type JobPatch struct {
	Title          *string
	Description    *string
	Location       *string
	EmploymentType *string
	SalaryMin      *int
	SalaryMax      *int
	Requirements   []string
	Status         *string
}

func (p JobPatch) fields() map[string]any {
	fields := map[string]any{}
	if p.Title != nil {
		fields["title"] = *p.Title
	}
	if p.Description != nil {
		fields["description"] = *p.Description
	}
	if p.Location != nil {
		fields["location"] = *p.Location
	}
	if p.EmploymentType != nil {
		fields["employment_type"] = *p.EmploymentType
	}
	if p.SalaryMin != nil {
		fields["salary_min"] = *p.SalaryMin
	}
	if p.SalaryMax != nil {
		fields["salary_max"] = *p.SalaryMax
	}
	if p.Requirements != nil {
		fields["requirements"] = p.Requirements
	}
	if p.Status != nil {
		fields["status"] = *p.Status
	}
	return fields
}

func (s *Service) UpdateJob(ctx context.Context, id string, patch JobPatch) (*Job, error) {
	if _, err := s.requireHR(); err != nil {
		return nil, err
	}

	fields := patch.fields()
	if len(fields) == 0 {
		return s.Job(ctx, id)
	}
	fields["updated_at"] = s.now().UTC()

	var job Job
	err := s.mutate(ctx, "update job",
		func(ctx context.Context) error {
			return s.client.From(tableJobs).Eq("id", id).Update(ctx, fields, &job)
		},
		idKey(ResourceJob, id),
		querycache.K(ResourceJobs),
		querycache.K(ResourceActiveJobs),
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CloseJob stops a posting from accepting applications.
func (s *Service) CloseJob(ctx context.Context, id string) (*Job, error) {
	closed := JobClosed
	return s.UpdateJob(ctx, id, JobPatch{Status: &closed})
}

type NewInterview struct {
	ApplicationID   string
	ScheduledAt     time.Time
	DurationMinutes int
	Type            string
	Location        string
	Notes           string
}

// ScheduleInterview books an interview and moves the application to the
// interview stage.
func (s *Service) ScheduleInterview(ctx context.Context, in NewInterview) (*Interview, error) {
	uid, err := s.requireHR()
	if err != nil {
		return nil, err
	}
	if in.ApplicationID == "" || in.ScheduledAt.IsZero() {
		return nil, errors.New("application id and time are required")
	}

	duration := in.DurationMinutes
	if duration <= 0 {
		duration = 60
	}

	row := map[string]any{
		"application_id":   in.ApplicationID,
		"interviewer_id":   uid,
		"scheduled_at":     in.ScheduledAt.UTC(),
		"duration_minutes": duration,
		"type":             in.Type,
		"location":         in.Location,
		"notes":            in.Notes,
		"status":           InterviewScheduled,
	}

	var interview Interview
	write := func(ctx context.Context) error {
		if err := s.client.Insert(ctx, tableInterviews, row, &interview); err != nil {
			return err
		}
		patch := map[string]any{"status": string(StatusInterview), "updated_at": s.now().UTC()}
		return s.client.From(tableApplications).Eq("id", in.ApplicationID).Update(ctx, patch, nil)
	}

	err = s.mutate(ctx, "schedule interview", write,
		querycache.K(ResourceInterviews),
		idKey(ResourceApplication, in.ApplicationID),
		querycache.K(ResourceApplications),
		querycache.K(ResourceApplicationStats),
		querycache.K(ResourceUserApplications),
	)
	if err != nil {
		return nil, err
	}
	return &interview, nil
}

// UploadResume stores a local resume file for the signed-in user and
// returns its public URL.
func (s *Service) UploadResume(ctx context.Context, localPath string) (string, error) {
	uid, err := s.requireIdentity()
	if err != nil {
		return "", err
	}

	info, err := os.Stat(localPath)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return "", fmt.Errorf("%w: %s", ErrResumeNotFound, localPath)
	}
	if err != nil {
		return "", fmt.Errorf("stat resume: %w", err)
	}

	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open resume: %w", err)
	}
	defer file.Close()

	name := filepath.Base(localPath)
	objectPath := path.Join(uid, fmt.Sprintf("%d-%s", s.now().Unix(), name))
	contentType := mime.TypeByExtension(filepath.Ext(name))

	if _, err := s.client.Upload(ctx, resumeBucket, objectPath, contentType, file, true); err != nil {
		return "", err
	}

	url := s.client.PublicURL(resumeBucket, objectPath)
	s.logger.Info("resume uploaded", zap.String("object", objectPath), zap.Int64("bytes", info.Size()))
	return url, nil
}

// SaveAnalysis stores a review tool result.
func (s *Service) SaveAnalysis(ctx context.Context, result AnalysisResult) (*AnalysisResult, error) {
	uid, err := s.requireHR()
	if err != nil {
		return nil, err
	}
	if result.Kind == "" {
		return nil, errors.New("analysis kind is required")
	}

	row := map[string]any{
		"kind":       result.Kind,
		"input":      result.Input,
		"result":     result.Result,
		"created_by": uid,
	}
	if result.ApplicationID != "" {
		row["application_id"] = result.ApplicationID
	}

	var stored AnalysisResult
	err = s.mutate(ctx, "save analysis",
		func(ctx context.Context) error {
			return s.client.Insert(ctx, tableAnalyses, row, &stored)
		},
		querycache.K(ResourceAnalyses, "kind", result.Kind),
	)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}
