package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/output"
	"github.com/spigell/hireboard/internal/querycache"
	"github.com/spigell/hireboard/internal/recruitment"
)

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List your notifications",
	Run: func(_ *cobra.Command, _ []string) {
		rt := newRuntime()
		defer rt.close()
		rt.mustIdentity()

		printNotifications(rt)
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read [NOTIFICATION_ID]",
	Short: "Mark one or, with --all, every notification as read",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt := newRuntime()
		defer rt.close()
		rt.mustIdentity()

		all, _ := cmd.Flags().GetBool("all")

		var err error
		switch {
		case all:
			err = rt.app.Recruitment.MarkAllNotificationsRead(rt.ctx)
		case len(args) == 1:
			err = rt.app.Recruitment.MarkNotificationRead(rt.ctx, args[0])
		default:
			rt.logger.Fatal("nothing to mark", zap.String("hint", "pass a notification id or --all"))
		}
		if err != nil {
			rt.logger.Fatal("marking notifications read", zap.Error(err))
		}

		unread, err := rt.app.Recruitment.UnreadCount(rt.ctx)
		if err != nil {
			rt.logger.Fatal("counting unread notifications", zap.Error(err))
		}
		rt.logger.Info("notifications marked read", zap.Int("unread", unread))
	},
}

var notificationsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print notifications again whenever they change, until interrupted",
	Run: func(_ *cobra.Command, _ []string) {
		rt := newRuntime()
		defer rt.close()
		state := rt.mustIdentity()

		if rt.app.Feeds == nil {
			rt.logger.Fatal("realtime is disabled", zap.String("hint", "unset 'realtime.disabled' in the configuration file"))
		}

		changed := make(chan struct{}, 1)
		watched := querycache.K(recruitment.ResourceNotifications, "user", state.UserID())
		stop := rt.app.Cache.OnInvalidate(func(key querycache.Key) {
			if !watched.Matches(key) {
				return
			}
			select {
			case changed <- struct{}{}:
			default:
			}
		})
		defer stop()

		printNotifications(rt)
		rt.logger.Info("watching notifications", zap.String("hint", "press Ctrl+C to stop"))

		for {
			select {
			case <-rt.ctx.Done():
				return
			case <-changed:
				printNotifications(rt)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsReadCmd, notificationsWatchCmd)

	notificationsReadCmd.Flags().BoolP("all", "a", false, "mark every notification as read")
}

func printNotifications(rt *runtime) {
	notes, err := rt.app.Recruitment.Notifications(rt.ctx)
	if err != nil {
		rt.logger.Error("getting notifications", zap.Error(err))
		return
	}
	unread, err := rt.app.Recruitment.UnreadCount(rt.ctx)
	if err != nil {
		rt.logger.Error("counting unread notifications", zap.Error(err))
	}

	table := output.NewTable("ID", "READ", "WHEN", "TITLE", "MESSAGE")
	for _, n := range notes {
		read := " "
		if n.Read {
			read = "x"
		}
		table.AddRow(n.ID, read, n.CreatedAt.Format("2006-01-02 15:04"), n.Title, n.Message)
	}
	rt.render(table)

	rt.logger.Info("notifications", zap.Int("total", len(notes)), zap.Int("unread", unread))
}
