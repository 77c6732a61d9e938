package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/filtering"
	"github.com/spigell/hireboard/internal/output"
	"github.com/spigell/hireboard/internal/recruitment"
	"github.com/spigell/hireboard/internal/session"
)

const (
	PromptApply            = "Apply"
	PromptExclude          = "Hide this job"
	PromptBack             = "back"
	PromptReportByCompany  = "Report by companies"
	PromptChooseJob        = "Choose a job"
	PromptExcludeAll       = "Hide all listed jobs"
	PromptExit             = "Exit"
	defaultCoverLetterHint = "Cover letter (optional)"
)

var errExit = errors.New("exit requested")

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List active jobs after filters; -i to pick and apply interactively",
	Run: func(cmd *cobra.Command, _ []string) {
		rt := newRuntime()
		defer rt.close()

		state := rt.state()

		jobs, err := rt.app.Recruitment.ActiveJobs(rt.ctx)
		if err != nil {
			rt.logger.Fatal("getting active jobs", zap.Error(err))
		}
		rt.logger.Info("getting active jobs", zap.Int("count", jobs.Len()))

		steps := prepareFilters(cmd, rt, state)
		jobs, err = filtering.Run(rt.ctx, rt.logger, steps, jobs)
		if err != nil {
			rt.logger.Fatal("filtering failed", zap.Error(err))
		}

		for _, status := range filtering.Describe(steps) {
			rt.logger.Debug("filter status",
				zap.String("name", status.Name),
				zap.Bool("enabled", status.Enabled),
				zap.String("reason", status.Reason),
				zap.Any("details", status.Details),
			)
		}

		if jobs.Len() == 0 {
			rt.logger.Info("exiting", zap.String("reason", "no jobs left after filters"))
			return
		}

		if interactive, _ := cmd.Flags().GetBool("interactive"); !interactive {
			printJobs(rt, jobs)
			return
		}

		if err := browse(rt, state, jobs); err != nil && !errors.Is(err, errExit) {
			rt.logger.Fatal("exiting", zap.Error(err))
		}
	},
}

var jobsPostCmd = &cobra.Command{
	Use:   "post",
	Short: "Publish a job (hr only)",
	Run: func(cmd *cobra.Command, _ []string) {
		rt := newRuntime()
		defer rt.close()
		rt.mustIdentity()

		flags := cmd.Flags()
		in := recruitment.NewJob{}
		in.Title, _ = flags.GetString("title")
		in.Company, _ = flags.GetString("company")
		in.Description, _ = flags.GetString("description")
		in.Requirements, _ = flags.GetStringSlice("requirements")
		in.Location, _ = flags.GetString("location")
		in.EmploymentType, _ = flags.GetString("type")
		in.SalaryMin, _ = flags.GetInt("salary-min")
		in.SalaryMax, _ = flags.GetInt("salary-max")
		in.Currency, _ = flags.GetString("currency")

		if in.Company == "" {
			if profile, ok := rt.app.Session.State().Profile(); ok {
				in.Company = profile.Company
			}
		}

		job, err := rt.app.Recruitment.CreateJob(rt.ctx, in)
		if err != nil {
			rt.logger.Fatal("posting job", zap.Error(err))
		}
		rt.logger.Info("job posted", zap.String("job_id", job.ID), zap.String("title", job.Title))
	},
}

var jobsMineCmd = &cobra.Command{
	Use:   "mine",
	Short: "List the jobs you posted (hr only)",
	Run: func(_ *cobra.Command, _ []string) {
		rt := newRuntime()
		defer rt.close()
		rt.mustIdentity()

		jobs, err := rt.app.Recruitment.PostedJobs(rt.ctx)
		if err != nil {
			rt.logger.Fatal("getting posted jobs", zap.Error(err))
		}
		printJobs(rt, &recruitment.Jobs{Items: jobs})
	},
}

var jobsCloseCmd = &cobra.Command{
	Use:   "close JOB_ID",
	Short: "Stop a job from accepting applications (hr only)",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		rt := newRuntime()
		defer rt.close()
		rt.mustIdentity()

		job, err := rt.app.Recruitment.CloseJob(rt.ctx, args[0])
		if err != nil {
			rt.logger.Fatal("closing job", zap.Error(err))
		}
		rt.logger.Info("job closed", zap.String("job_id", job.ID), zap.String("status", job.Status))
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsPostCmd, jobsMineCmd, jobsCloseCmd)

	jobsCmd.Flags().BoolP("interactive", "i", false, "pick jobs and apply interactively")
	jobsCmd.Flags().BoolP("do-not-exclude-applied", "f", false, "do not exclude jobs already applied to")
	jobsCmd.Flags().StringP("text", "t", "", "keep jobs mentioning every word")
	jobsCmd.Flags().StringSlice("type", nil, "keep only these employment types")
	jobsCmd.Flags().StringP("exclude-file", "e", "", "file with jobs to hide. Default is the configured exclude-file")

	jobsPostCmd.Flags().String("title", "", "job title")
	jobsPostCmd.Flags().String("company", "", "company (default is the profile company)")
	jobsPostCmd.Flags().String("description", "", "job description")
	jobsPostCmd.Flags().StringSlice("requirements", nil, "comma separated requirements")
	jobsPostCmd.Flags().String("location", "", "location")
	jobsPostCmd.Flags().String("type", "full-time", "employment type")
	jobsPostCmd.Flags().Int("salary-min", 0, "lower salary bound")
	jobsPostCmd.Flags().Int("salary-max", 0, "upper salary bound")
	jobsPostCmd.Flags().String("currency", "USD", "salary currency")
}

func excludeFile(cmd *cobra.Command, rt *runtime) string {
	if path, _ := cmd.Flags().GetString("exclude-file"); path != "" {
		return path
	}
	return rt.config.ExcludeFile
}

func prepareFilters(cmd *cobra.Command, rt *runtime, state session.State) []filtering.Filter {
	ignore, _ := cmd.Flags().GetBool("do-not-exclude-applied")
	text, _ := cmd.Flags().GetString("text")

	types := rt.config.Jobs.EmploymentTypes
	if cmd.Flags().Changed("type") {
		types, _ = cmd.Flags().GetStringSlice("type")
	}

	steps := []filtering.Filter{
		filtering.NewAppliedHistory(&filtering.AppliedHistoryConfig{Ignore: ignore}, filtering.AppliedHistoryDeps{
			Applications: rt.app.Recruitment,
			Logger:       rt.logger,
		}),
		filtering.NewCompanies(rt.config.Jobs.ExcludeCompanies, rt.logger),
		filtering.NewExcludeFile(excludeFile(cmd, rt), rt.logger),
		filtering.NewEmploymentType(types, rt.logger),
		filtering.NewText(text, rt.logger),
	}

	if state.UserID() == "" {
		filtering.DisableByName(steps, "applied_history", "not signed in")
	}
	return steps
}

func printJobs(rt *runtime, jobs *recruitment.Jobs) {
	table := output.NewTable("ID", "TITLE", "COMPANY", "LOCATION", "TYPE", "SALARY")
	for _, j := range jobs.Items {
		table.AddRow(j.ID, j.Title, j.Company, j.Location, j.EmploymentType, j.Salary())
	}
	rt.render(table)
}

func browse(rt *runtime, state session.State, jobs *recruitment.Jobs) error {
	actions := promptui.Select{
		Label: "Procced?",
		Items: []string{PromptChooseJob, PromptReportByCompany, PromptExcludeAll, PromptExit},
	}

	for jobs.Len() > 0 {
		rt.logger.Info("current list of jobs", zap.Int("count", jobs.Len()))

		_, action, err := actions.Run()
		if err != nil {
			return err
		}

		switch action {
		case PromptChooseJob:
			if err := chooseJob(rt, state, jobs); err != nil {
				return err
			}
		case PromptReportByCompany:
			pretty, _ := json.MarshalIndent(jobs.ReportByCompany(), "", "  ")
			rt.logger.Info(string(pretty), zap.Int("jobs count", jobs.Len()))
		case PromptExcludeAll:
			if err := hideJobs(rt, jobs, jobs.Items...); err != nil {
				return err
			}
		case PromptExit:
			return errExit
		default:
			return fmt.Errorf("invalid action: %s", action)
		}
	}

	rt.logger.Info("exiting", zap.String("reason", "no jobs left"))
	return nil
}

func chooseJob(rt *runtime, state session.State, jobs *recruitment.Jobs) error {
	items := make([]string, 0, jobs.Len()+1)
	for _, j := range jobs.Items {
		items = append(items, fmt.Sprintf("%s %s / %s / %s", j.ID, j.Title, j.Company, j.Salary()))
	}

	jobPrompt := promptui.Select{
		Label: "Choose a job and press ENTER",
		Items: append(items, PromptBack),
		Size:  15,
	}

	_, selected, err := jobPrompt.Run()
	if err != nil {
		return err
	}
	if selected == PromptBack {
		return nil
	}

	jobID := strings.Split(selected, " ")[0]
	job := jobs.FindByID(jobID)
	if job == nil {
		return fmt.Errorf("there is no such job id %s", jobID)
	}

	rt.logger.Info(job.Title,
		zap.String("company", job.Company),
		zap.String("location", job.Location),
		zap.Strings("requirements", job.Requirements),
		zap.String("description", job.Description),
	)

	next := promptui.Select{Label: "What next?", Items: []string{PromptApply, PromptExclude, PromptBack}}
	_, choice, err := next.Run()
	if err != nil {
		return err
	}

	switch choice {
	case PromptApply:
		if state.UserID() == "" {
			rt.logger.Warn("sign in to apply", zap.String("hint", "run '"+appName+" login' first"))
			return nil
		}
		letter, err := (&promptui.Prompt{Label: defaultCoverLetterHint}).Run()
		if err != nil {
			return err
		}
		if err := applyTo(rt, job.ID, letter, ""); err != nil {
			return err
		}
		jobs.Exclude(recruitment.JobIDField, []string{job.ID})
	case PromptExclude:
		return hideJobs(rt, jobs, job)
	}
	return nil
}

// hideJobs appends jobs to the exclude file and drops them from the list.
func hideJobs(rt *runtime, jobs *recruitment.Jobs, hidden ...*recruitment.Job) error {
	path := rt.config.ExcludeFile
	if path == "" {
		rt.logger.Warn("exclude file is not configured", zap.String("hint", "set 'exclude-file' in the configuration file"))
		return nil
	}

	excluded, err := filtering.LoadExcluded(path)
	if err != nil {
		return err
	}

	hidden = append([]*recruitment.Job(nil), hidden...)
	excluded.Add(time.Now(), hidden...)
	if err := excluded.Save(path); err != nil {
		return err
	}

	ids := make([]string, 0, len(hidden))
	for _, j := range hidden {
		ids = append(ids, j.ID)
	}
	jobs.Exclude(recruitment.JobIDField, ids)

	rt.logger.Info("appended to exclude file", zap.String("filename", path), zap.Int("jobs", len(ids)))
	return nil
}
