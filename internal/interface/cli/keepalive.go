package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giacomodamario/deliverydash/internal/core/daemon"
	"github.com/giacomodamario/deliverydash/internal/core/notify"
)

var keepaliveNoNotify bool

var keepaliveCmd = &cobra.Command{
	Use:   "keepalive [platform]",
	Short: "Refresh sessions once",
	Long: `Run one keep-alive pass: silently refresh any session close to expiry.
Meant for cron; the daemon command does this on a timer.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runKeepaliveCmd,
}

func init() {
	keepaliveCmd.Flags().BoolVar(&keepaliveNoNotify, "no-notify", false, "Disable Slack notifications")
	rootCmd.AddCommand(keepaliveCmd)
}

func runKeepaliveCmd(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	platforms, err := resolvePlatforms(args)
	if err != nil {
		return err
	}

	var notifier *notify.Notifier
	if !keepaliveNoNotify {
		notifier = notify.New(a.cfg.SlackWebhookURL, a.log)
	}

	failed := false
	for _, platformID := range platforms {
		mgr, _, err := a.manager(platformID)
		if err != nil {
			return err
		}
		job := &daemon.KeepAliveJob{
			Platform: platformID,
			Manager:  mgr,
			NewPage:  a.pageFactory(platformID),
			Notifier: notifier,
			Log:      a.log,
		}
		outcome := job.Tick(cmd.Context())
		fmt.Printf("%s: %s\n", platformID, outcome)
		if outcome == daemon.OutcomeFailed {
			failed = true
		}
	}
	if failed {
		return errors.New("keep-alive failed for one or more platforms")
	}
	return nil
}
