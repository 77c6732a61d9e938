package filtering

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/logger"
	"github.com/spigell/hireboard/internal/recruitment"
)

const forceFlagSetMsg = "force flag is set"

// ApplicationSource lists the signed-in candidate's applications.
type ApplicationSource interface {
	UserApplications(ctx context.Context) ([]recruitment.Application, error)
}

type AppliedHistoryConfig struct {
	Ignore bool
}

type AppliedHistoryDeps struct {
	Applications ApplicationSource
	Logger       *zap.Logger
}

type appliedHistoryFilter struct {
	toggle
	deps   AppliedHistoryDeps
	ignore bool
}

// NewAppliedHistory creates a filter that removes jobs the candidate already applied to.
func NewAppliedHistory(cfg *AppliedHistoryConfig, deps AppliedHistoryDeps) Filter {
	ignore := false
	if cfg != nil {
		ignore = cfg.Ignore
	}
	deps.Logger = logger.OrNop(deps.Logger)

	return &appliedHistoryFilter{deps: deps, ignore: ignore}
}

func (f *appliedHistoryFilter) Name() string { return "applied_history" }

func (f *appliedHistoryFilter) Validate() error {
	if f.deps.Applications == nil {
		return errors.New("application source is required")
	}
	return nil
}

func (f *appliedHistoryFilter) Apply(ctx context.Context, jobs *recruitment.Jobs) (*recruitment.Jobs, Step, error) {
	initial := jobs.Len()
	if f.ignore {
		f.deps.Logger.Info("ignoring already applied jobs", zap.String("reason", forceFlagSetMsg))
		return jobs, Step{Initial: initial, Left: initial}, nil
	}

	applications, err := f.deps.Applications.UserApplications(ctx)
	if err != nil {
		return jobs, Step{}, fmt.Errorf("get my applications: %w", err)
	}

	excluded := jobs.Exclude(recruitment.JobIDField, recruitment.JobIDs(applications))
	if len(excluded) > 0 {
		f.deps.Logger.Info("excluding jobs based on my applications",
			zap.Strings("excluded_jobs", excluded),
			zap.Int("jobs_left", jobs.Len()),
		)
	}

	return jobs, stepOf(initial, excluded, jobs), nil
}

func (f *appliedHistoryFilter) Status() Status {
	reason := f.reason
	if f.ignore && reason == "" {
		reason = "skip requested via flag"
	}
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  reason,
		Details: map[string]string{"exclude_applied": strconv.FormatBool(!f.ignore)},
	}
}
