package recruitment

import (
	"fmt"
	"slices"
	"time"

	"github.com/spigell/hireboard/internal/session"
)

const (
	JobIDField      = "ID"
	JobCompanyField = "Company"
	JobTypeField    = "EmploymentType"
)

// Profile is the candidate or HR profile row.
type Profile = session.Profile

type Job struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Company        string    `json:"company"`
	Description    string    `json:"description"`
	Requirements   []string  `json:"requirements"`
	Location       string    `json:"location"`
	EmploymentType string    `json:"employment_type"`
	SalaryMin      int       `json:"salary_min"`
	SalaryMax      int       `json:"salary_max"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	PostedBy       string    `json:"posted_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const (
	JobActive = "active"
	JobClosed = "closed"
	JobDraft  = "draft"
)

func (j *Job) GetStringField(name string) string {
	switch name {
	case JobIDField:
		return j.ID
	case JobCompanyField:
		return j.Company
	case JobTypeField:
		return j.EmploymentType
	default:
		return ""
	}
}

// Salary renders the salary range, omitting unknown bounds.
func (j *Job) Salary() string {
	switch {
	case j.SalaryMin > 0 && j.SalaryMax > 0:
		return fmt.Sprintf("%d-%d %s", j.SalaryMin, j.SalaryMax, j.Currency)
	case j.SalaryMin > 0:
		return fmt.Sprintf("from %d %s", j.SalaryMin, j.Currency)
	case j.SalaryMax > 0:
		return fmt.Sprintf("up to %d %s", j.SalaryMax, j.Currency)
	default:
		return ""
	}
}

type Jobs struct {
	Items []*Job
}

func (j *Jobs) Len() int {
	return len(j.Items)
}

func (j *Jobs) FindByID(id string) *Job {
	for _, job := range j.Items {
		if job.ID == id {
			return job
		}
	}
	return nil
}

// Exclude removes every job whose field matches one of targets and returns
// the removed ids. Order is preserved.
func (j *Jobs) Exclude(field string, targets []string) []string {
	if len(targets) == 0 {
		return nil
	}

	var excluded []string
	kept := j.Items[:0]
	for _, job := range j.Items {
		if slices.Contains(targets, job.GetStringField(field)) {
			excluded = append(excluded, job.ID)
			continue
		}
		kept = append(kept, job)
	}
	j.Items = kept
	return excluded
}

// Keep retains the jobs accepted by fn and returns the removed ids.
func (j *Jobs) Keep(fn func(*Job) bool) []string {
	var excluded []string
	kept := j.Items[:0]
	for _, job := range j.Items {
		if !fn(job) {
			excluded = append(excluded, job.ID)
			continue
		}
		kept = append(kept, job)
	}
	j.Items = kept
	return excluded
}

// ReportByCompany groups job summaries by company.
func (j *Jobs) ReportByCompany() map[string][]map[string]string {
	report := make(map[string][]map[string]string)
	for _, job := range j.Items {
		report[job.Company] = append(report[job.Company], map[string]string{
			"id":       job.ID,
			"title":    job.Title,
			"location": job.Location,
			"type":     job.EmploymentType,
			"salary":   job.Salary(),
		})
	}
	return report
}

type ApplicationStatus string

const (
	StatusPending     ApplicationStatus = "pending"
	StatusReviewing   ApplicationStatus = "reviewing"
	StatusShortlisted ApplicationStatus = "shortlisted"
	StatusInterview   ApplicationStatus = "interview"
	StatusOffered     ApplicationStatus = "offered"
	StatusHired       ApplicationStatus = "hired"
	StatusRejected    ApplicationStatus = "rejected"
)

// Statuses lists every application status in pipeline order.
var Statuses = []ApplicationStatus{
	StatusPending,
	StatusReviewing,
	StatusShortlisted,
	StatusInterview,
	StatusOffered,
	StatusHired,
	StatusRejected,
}

func (s ApplicationStatus) Valid() bool {
	return slices.Contains(Statuses, s)
}

// ParseStatus validates a status name.
func ParseStatus(s string) (ApplicationStatus, error) {
	status := ApplicationStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown application status %q", s)
	}
	return status, nil
}

type Application struct {
	ID          string            `json:"id"`
	JobID       string            `json:"job_id"`
	CandidateID string            `json:"candidate_id"`
	Status      ApplicationStatus `json:"status"`
	CoverLetter string            `json:"cover_letter"`
	ResumeURL   string            `json:"resume_url"`
	MatchScore  *float64          `json:"match_score"`
	Notes       string            `json:"notes"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`

	Job       *Job     `json:"job"`
	Candidate *Profile `json:"candidate"`
}

// JobIDs returns the job ids of applications.
func JobIDs(applications []Application) []string {
	ids := make([]string, 0, len(applications))
	for _, a := range applications {
		ids = append(ids, a.JobID)
	}
	return ids
}

type ApplicationStats struct {
	Total    int
	ByStatus map[ApplicationStatus]int
}

func (s ApplicationStats) Count(status ApplicationStatus) int {
	return s.ByStatus[status]
}

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	InterviewScheduled = "scheduled"
	InterviewCompleted = "completed"
	InterviewCancelled = "cancelled"
)

type Interview struct {
	ID              string    `json:"id"`
	ApplicationID   string    `json:"application_id"`
	InterviewerID   string    `json:"interviewer_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Type            string    `json:"type"`
	Location        string    `json:"location"`
	Notes           string    `json:"notes"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`

	Application *Application `json:"application"`
}

// AnalysisResult is a stored output of one of the review tools.
type AnalysisResult struct {
	ID            string         `json:"id"`
	Kind          string         `json:"kind"`
	ApplicationID string         `json:"application_id"`
	Input         string         `json:"input"`
	Result        map[string]any `json:"result"`
	CreatedBy     string         `json:"created_by"`
	CreatedAt     time.Time      `json:"created_at"`
}
