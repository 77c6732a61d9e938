package filtering

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/logger"
	"github.com/spigell/hireboard/internal/recruitment"
)

type employmentTypeFilter struct {
	toggle
	types  []string
	logger *zap.Logger
}

// NewEmploymentType keeps only jobs of the given employment types. An empty
// list keeps everything.
func NewEmploymentType(types []string, log *zap.Logger) Filter {
	normalized := make([]string, 0, len(types))
	for _, t := range types {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			normalized = append(normalized, t)
		}
	}
	return &employmentTypeFilter{types: normalized, logger: logger.OrNop(log)}
}

func (f *employmentTypeFilter) Name() string { return "employment_type" }

func (f *employmentTypeFilter) Validate() error { return nil }

func (f *employmentTypeFilter) Apply(_ context.Context, jobs *recruitment.Jobs) (*recruitment.Jobs, Step, error) {
	initial := jobs.Len()
	if len(f.types) == 0 {
		return jobs, Step{Initial: initial, Left: initial}, nil
	}

	excluded := jobs.Keep(func(j *recruitment.Job) bool {
		return slices.Contains(f.types, strings.ToLower(j.EmploymentType))
	})
	if len(excluded) > 0 {
		f.logger.Info("excluding jobs by employment type",
			zap.Strings("wanted_types", f.types),
			zap.Strings("excluded_jobs", excluded),
			zap.Int("jobs_left", jobs.Len()),
		)
	}

	return jobs, stepOf(initial, excluded, jobs), nil
}

func (f *employmentTypeFilter) Status() Status {
	details := map[string]string{}
	if len(f.types) > 0 {
		details["types"] = strings.Join(f.types, ",")
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}

type textFilter struct {
	toggle
	words  []string
	logger *zap.Logger
}

// NewText keeps jobs mentioning every word of query in the title, company,
// location, description or requirements. Matching ignores case.
func NewText(query string, log *zap.Logger) Filter {
	return &textFilter{words: strings.Fields(strings.ToLower(query)), logger: logger.OrNop(log)}
}

func (f *textFilter) Name() string { return "text" }

func (f *textFilter) Validate() error { return nil }

func (f *textFilter) Apply(_ context.Context, jobs *recruitment.Jobs) (*recruitment.Jobs, Step, error) {
	initial := jobs.Len()
	if len(f.words) == 0 {
		return jobs, Step{Initial: initial, Left: initial}, nil
	}

	excluded := jobs.Keep(f.matches)
	if len(excluded) > 0 {
		f.logger.Debug("excluding jobs by text",
			zap.Strings("words", f.words),
			zap.Strings("excluded_jobs", excluded),
			zap.Int("jobs_left", jobs.Len()),
		)
	}

	return jobs, stepOf(initial, excluded, jobs), nil
}

func (f *textFilter) matches(j *recruitment.Job) bool {
	haystack := strings.ToLower(strings.Join(append([]string{
		j.Title, j.Company, j.Location, j.Description,
	}, j.Requirements...), "\n"))

	for _, w := range f.words {
		if !strings.Contains(haystack, w) {
			return false
		}
	}
	return true
}

func (f *textFilter) Status() Status {
	details := map[string]string{}
	if len(f.words) > 0 {
		details["query"] = strings.Join(f.words, " ")
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}
