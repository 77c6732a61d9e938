package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/output"
	"github.com/spigell/hireboard/internal/recruitment"
)

var interviewsCmd = &cobra.Command{
	Use:   "interviews",
	Short: "List interviews, soonest first",
	Run: func(cmd *cobra.Command, _ []string) {
		rt := newRuntime()
		defer rt.close()
		rt.mustIdentity()

		applicationID, _ := cmd.Flags().GetString("application")
		interviews, err := rt.app.Recruitment.Interviews(rt.ctx, applicationID)
		if err != nil {
			rt.logger.Fatal("getting interviews", zap.Error(err))
		}

		table := output.NewTable("ID", "APPLICATION", "WHEN", "MINUTES", "TYPE", "STATUS")
		for _, i := range interviews {
			table.AddRow(i.ID, i.ApplicationID, i.ScheduledAt.Local().Format("2006-01-02 15:04"),
				strconv.Itoa(i.DurationMinutes), i.Type, i.Status)
		}
		rt.render(table)
	},
}

var interviewsScheduleCmd = &cobra.Command{
	Use:   "schedule APPLICATION_ID",
	Short: "Book an interview for an application (hr only)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt := newRuntime()
		defer rt.close()
		rt.mustIdentity()

		flags := cmd.Flags()
		raw, _ := flags.GetString("at")
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			rt.logger.Fatal("bad interview time", zap.String("at", raw), zap.String("format", time.RFC3339), zap.Error(err))
		}

		duration, _ := flags.GetDuration("duration")
		in := recruitment.NewInterview{
			ApplicationID:   args[0],
			ScheduledAt:     at,
			DurationMinutes: int(duration.Minutes()),
		}
		in.Type, _ = flags.GetString("type")
		in.Location, _ = flags.GetString("location")
		in.Notes, _ = flags.GetString("notes")

		interview, err := rt.app.Recruitment.ScheduleInterview(rt.ctx, in)
		if err != nil {
			rt.logger.Fatal("scheduling interview", zap.Error(err))
		}
		rt.logger.Info("interview scheduled",
			zap.String("interview_id", interview.ID),
			zap.Time("at", interview.ScheduledAt),
			zap.Int("minutes", interview.DurationMinutes),
		)
	},
}

func init() {
	rootCmd.AddCommand(interviewsCmd)
	interviewsCmd.AddCommand(interviewsScheduleCmd)

	interviewsCmd.Flags().String("application", "", "only interviews for this application")

	interviewsScheduleCmd.Flags().String("at", "", "start time in RFC3339, e.g. 2024-05-02T10:00:00Z")
	interviewsScheduleCmd.Flags().Duration("duration", time.Hour, "interview length")
	interviewsScheduleCmd.Flags().String("type", "video", "interview type: video, phone or onsite")
	interviewsScheduleCmd.Flags().String("location", "", "meeting link or address")
	interviewsScheduleCmd.Flags().String("notes", "", "notes for the interviewer")
	_ = interviewsScheduleCmd.MarkFlagRequired("at")
}
