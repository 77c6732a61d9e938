package cmd

import (
	"errors"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/secrets"
	"github.com/spigell/hireboard/internal/session"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	Run: func(cmd *cobra.Command, _ []string) {
		rt := newRuntime()
		defer rt.close()

		email := flagOrPrompt(rt, cmd, "email", "Email", false)
		password := readPassword(rt, cmd)

		if err := rt.app.Session.SignIn(rt.ctx, email, password); err != nil {
			rt.logger.Fatal("signing in", zap.Error(err))
		}

		state := rt.state()
		rt.logger.Info("signed in", zap.Stringer("session", state))
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account",
	Run: func(cmd *cobra.Command, _ []string) {
		rt := newRuntime()
		defer rt.close()

		role, _ := cmd.Flags().GetString("role")
		if role != session.RoleCandidate && role != session.RoleHR {
			rt.logger.Fatal("unknown role", zap.String("role", role),
				zap.Strings("allowed", []string{session.RoleCandidate, session.RoleHR}))
		}

		email := flagOrPrompt(rt, cmd, "email", "Email", false)
		password := readPassword(rt, cmd)
		fullName := flagOrPrompt(rt, cmd, "full-name", "Full name", false)
		company, _ := cmd.Flags().GetString("company")

		verify, err := rt.app.Session.SignUp(rt.ctx, email, password, session.Metadata{
			FullName: fullName,
			Role:     role,
			Company:  company,
		})
		if err != nil {
			rt.logger.Fatal("signing up", zap.Error(err))
		}

		if verify {
			rt.logger.Info("account created", zap.String("next", "confirm the email address, then run '"+appName+" login'"))
			return
		}
		rt.logger.Info("account created and signed in", zap.Stringer("session", rt.state()))
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	Run: func(_ *cobra.Command, _ []string) {
		rt := newRuntime()
		defer rt.close()

		if err := rt.app.Session.SignOut(rt.ctx); err != nil {
			rt.logger.Fatal("signing out", zap.Error(err))
		}
		rt.logger.Info("signed out")
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session",
	Run: func(_ *cobra.Command, _ []string) {
		rt := newRuntime()
		defer rt.close()

		state := rt.state()
		profile, ok := state.Profile()
		if !ok {
			rt.logger.Info("session", zap.Stringer("state", state))
			return
		}

		rt.logger.Info("session",
			zap.Stringer("state", state),
			zap.String("email", profile.Email),
			zap.String("full_name", profile.FullName),
			zap.String("role", profile.Role),
			zap.String("company", profile.Company),
		)
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Update the profile of the signed-in user",
	Run: func(cmd *cobra.Command, _ []string) {
		rt := newRuntime()
		defer rt.close()
		rt.mustIdentity()

		var patch session.ProfilePatch
		for flag, field := range map[string]**string{
			"full-name": &patch.FullName,
			"company":   &patch.Company,
			"phone":     &patch.Phone,
			"location":  &patch.Location,
			"bio":       &patch.Bio,
		} {
			if cmd.Flags().Changed(flag) {
				value, _ := cmd.Flags().GetString(flag)
				*field = &value
			}
		}
		if cmd.Flags().Changed("skills") {
			patch.Skills, _ = cmd.Flags().GetStringSlice("skills")
		}

		if resume, _ := cmd.Flags().GetString("resume"); resume != "" {
			url, err := rt.app.Recruitment.UploadResume(rt.ctx, resume)
			if err != nil {
				rt.logger.Fatal("uploading resume", zap.Error(err))
			}
			patch.ResumeURL = &url
		}

		if patch.Empty() {
			rt.logger.Info("nothing to update")
			return
		}

		if err := rt.app.Session.UpdateProfile(rt.ctx, patch); err != nil {
			rt.logger.Fatal("updating profile", zap.Error(err))
		}
		rt.logger.Info("profile updated", zap.Stringer("session", rt.app.Session.State()))
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, signupCmd, logoutCmd, whoamiCmd, profileCmd)

	for _, c := range []*cobra.Command{loginCmd, signupCmd} {
		c.Flags().StringP("email", "e", "", "account email")
		c.Flags().String("password-file", "", "file holding the password (default is an interactive prompt)")
	}

	signupCmd.Flags().String("full-name", "", "full name")
	signupCmd.Flags().String("role", session.RoleCandidate, "account role: candidate or hr")
	signupCmd.Flags().String("company", "", "company, for hr accounts")

	profileCmd.Flags().String("full-name", "", "full name")
	profileCmd.Flags().String("company", "", "company")
	profileCmd.Flags().String("phone", "", "phone")
	profileCmd.Flags().String("location", "", "location")
	profileCmd.Flags().String("bio", "", "short bio")
	profileCmd.Flags().StringSlice("skills", nil, "comma separated skills")
	profileCmd.Flags().String("resume", "", "local resume file to upload")
}

func flagOrPrompt(rt *runtime, cmd *cobra.Command, flag, label string, mask bool) string {
	if value, _ := cmd.Flags().GetString(flag); strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}

	p := promptui.Prompt{
		Label: label,
		Validate: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("required")
			}
			return nil
		},
	}
	if mask {
		p.Mask = '*'
	}

	value, err := p.Run()
	if err != nil {
		rt.logger.Fatal("reading input", zap.String("field", flag), zap.Error(err))
	}
	return strings.TrimSpace(value)
}

func readPassword(rt *runtime, cmd *cobra.Command) string {
	file, _ := cmd.Flags().GetString("password-file")
	if file == "" {
		return flagOrPrompt(rt, cmd, "password", "Password", true)
	}

	password, err := secrets.Load(secrets.Source{Name: "password", File: file})
	if err != nil {
		rt.logger.Fatal("loading password", zap.Error(err))
	}
	return password
}
