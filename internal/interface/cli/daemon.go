package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giacomodamario/deliverydash/internal/core/config"
	"github.com/giacomodamario/deliverydash/internal/core/daemon"
	"github.com/giacomodamario/deliverydash/internal/core/db"
	"github.com/giacomodamario/deliverydash/internal/core/importer"
	"github.com/giacomodamario/deliverydash/internal/core/notify"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run keep-alive and import in the background",
	Long: `Run until interrupted: keep every platform's session alive on a timer
and import any CSV that lands in the download directories.`,
	Args: cobra.NoArgs,
	RunE: runDaemonCmd,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemonCmd(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	database, err := db.New(a.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = database.Close() }()

	notifier := notify.New(a.cfg.SlackWebhookURL, a.log)

	var jobs []*daemon.KeepAliveJob
	watchDirs := make(map[string]string, len(config.Platforms))
	for _, platformID := range config.Platforms {
		mgr, _, err := a.manager(platformID)
		if err != nil {
			return err
		}
		jobs = append(jobs, &daemon.KeepAliveJob{
			Platform: platformID,
			Manager:  mgr,
			NewPage:  a.pageFactory(platformID),
			Notifier: notifier,
			Log:      a.log,
		})
		watchDirs[platformID] = a.cfg.PlatformDownloadsDir(platformID)
	}

	d := &daemon.Daemon{
		Jobs:      jobs,
		Interval:  a.cfg.KeepAliveInterval,
		Importer:  importer.New(database, a.log),
		WatchDirs: watchDirs,
		Log:       a.log,
	}

	fmt.Printf("Daemon running (keep-alive every %s), press Ctrl-C to stop\n", a.cfg.KeepAliveInterval)
	return d.Start(cmd.Context())
}
