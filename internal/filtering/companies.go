package filtering

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/logger"
	"github.com/spigell/hireboard/internal/recruitment"
)

type companiesFilter struct {
	toggle
	companies []string
	logger    *zap.Logger
}

// NewCompanies creates a filter that removes jobs of the configured companies.
func NewCompanies(companies []string, log *zap.Logger) Filter {
	return &companiesFilter{
		companies: append([]string(nil), companies...),
		logger:    logger.OrNop(log),
	}
}

func (f *companiesFilter) Name() string { return "companies" }

func (f *companiesFilter) Validate() error { return nil }

func (f *companiesFilter) Apply(_ context.Context, jobs *recruitment.Jobs) (*recruitment.Jobs, Step, error) {
	initial := jobs.Len()
	if len(f.companies) == 0 {
		return jobs, Step{Initial: initial, Left: initial}, nil
	}

	excluded := jobs.Exclude(recruitment.JobCompanyField, f.companies)
	if len(excluded) > 0 {
		f.logger.Info("excluding jobs by companies",
			zap.Strings("excluded_companies", f.companies),
			zap.Strings("excluded_jobs", excluded),
			zap.Int("jobs_left", jobs.Len()),
		)
	}

	return jobs, stepOf(initial, excluded, jobs), nil
}

func (f *companiesFilter) Status() Status {
	details := map[string]string{}
	if len(f.companies) > 0 {
		details["companies"] = strings.Join(f.companies, ",")
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}
