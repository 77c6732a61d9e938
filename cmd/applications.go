package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/output"
	"github.com/spigell/hireboard/internal/recruitment"
	"github.com/spigell/hireboard/internal/session"
)

var applicationsCmd = &cobra.Command{
	Use:     "applications",
	Aliases: []string{"apps"},
	Short:   "List applications: your own, or every application for hr",
	Run: func(cmd *cobra.Command, _ []string) {
		rt := newRuntime()
		defer rt.close()
		state := rt.mustIdentity()

		var (
			apps []recruitment.Application
			err  error
		)

		if session.RequireRole(state, session.RoleHR) == nil {
			filter := recruitment.ApplicationFilter{}
			filter.JobID, _ = cmd.Flags().GetString("job")
			if raw, _ := cmd.Flags().GetString("status"); raw != "" {
				if filter.Status, err = recruitment.ParseStatus(raw); err != nil {
					rt.logger.Fatal("bad status filter", zap.Error(err), zap.Any("allowed", recruitment.Statuses))
				}
			}
			apps, err = rt.app.Recruitment.Applications(rt.ctx, filter)
		} else {
			apps, err = rt.app.Recruitment.UserApplications(rt.ctx)
		}
		if err != nil {
			rt.logger.Fatal("getting applications", zap.Error(err))
		}

		printApplications(rt, apps)
	},
}

var applicationsStatusCmd = &cobra.Command{
	Use:   "status APPLICATION_ID STATUS",
	Short: "Move an application to another status (hr only)",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		rt := newRuntime()
		defer rt.close()
		rt.mustIdentity()

		status, err := recruitment.ParseStatus(args[1])
		if err != nil {
			rt.logger.Fatal("bad status", zap.Error(err), zap.Any("allowed", recruitment.Statuses))
		}

		app, err := rt.app.Recruitment.UpdateApplicationStatus(rt.ctx, args[0], status)
		if err != nil {
			rt.logger.Fatal("updating application status", zap.Error(err))
		}
		rt.logger.Info("application updated", zap.String("application_id", app.ID), zap.String("status", string(app.Status)))
	},
}

var applicationsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count applications per status (hr only)",
	Run: func(_ *cobra.Command, _ []string) {
		rt := newRuntime()
		defer rt.close()
		rt.mustIdentity()

		stats, err := rt.app.Recruitment.ApplicationStats(rt.ctx)
		if err != nil {
			rt.logger.Fatal("getting application stats", zap.Error(err))
		}

		table := output.NewTable("STATUS", "COUNT")
		for _, status := range recruitment.Statuses {
			table.AddRow(string(status), strconv.Itoa(stats.Count(status)))
		}
		table.AddRow("total", strconv.Itoa(stats.Total))
		rt.render(table)
	},
}

func init() {
	rootCmd.AddCommand(applicationsCmd)
	applicationsCmd.AddCommand(applicationsStatusCmd, applicationsStatsCmd)

	applicationsCmd.Flags().String("job", "", "only applications to this job (hr only)")
	applicationsCmd.Flags().String("status", "", "only applications in this status (hr only)")
}

func printApplications(rt *runtime, apps []recruitment.Application) {
	table := output.NewTable("ID", "JOB", "CANDIDATE", "STATUS", "SCORE", "APPLIED")
	for _, a := range apps {
		job := a.JobID
		if a.Job != nil {
			job = a.Job.Title
		}
		candidate := a.CandidateID
		if a.Candidate != nil && a.Candidate.FullName != "" {
			candidate = a.Candidate.FullName
		}
		score := "-"
		if a.MatchScore != nil {
			score = fmt.Sprintf("%.2f", *a.MatchScore)
		}
		table.AddRow(a.ID, job, candidate, string(a.Status), score, a.CreatedAt.Format("2006-01-02"))
	}
	rt.render(table)
}
