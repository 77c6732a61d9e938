package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/recruitment"
)

var applyCmd = &cobra.Command{
	Use:   "apply JOB_ID",
	Short: "Apply to a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt := newRuntime()
		defer rt.close()
		rt.mustIdentity()

		letter, _ := cmd.Flags().GetString("cover-letter")
		resume, _ := cmd.Flags().GetString("resume")

		if err := applyTo(rt, args[0], letter, resume); err != nil {
			rt.logger.Fatal("applying", zap.String("job_id", args[0]), zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().StringP("cover-letter", "m", "", "cover letter text")
	applyCmd.Flags().String("resume", "", "local resume file to upload with the application")
}

// applyTo uploads the resume if given and creates the application. Without
// a resume file the profile resume is used.
func applyTo(rt *runtime, jobID, letter, resume string) error {
	in := recruitment.NewApplication{JobID: jobID, CoverLetter: letter}

	if resume != "" {
		url, err := rt.app.Recruitment.UploadResume(rt.ctx, resume)
		if err != nil {
			return err
		}
		in.ResumeURL = url
	} else if profile, ok := rt.app.Session.State().Profile(); ok {
		in.ResumeURL = profile.ResumeURL
	}

	app, err := rt.app.Recruitment.CreateApplication(rt.ctx, in)
	if err != nil {
		return err
	}

	rt.logger.Info("applied",
		zap.String("job_id", jobID),
		zap.String("application_id", app.ID),
		zap.String("status", string(app.Status)),
	)
	return nil
}
