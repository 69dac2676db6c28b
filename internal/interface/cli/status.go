package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/giacomodamario/deliverydash/internal/core/auth"
	"github.com/giacomodamario/deliverydash/internal/core/db"
	"github.com/giacomodamario/deliverydash/internal/core/session"
)

var statusCmd = &cobra.Command{
	Use:   "status [platform]",
	Short: "Show session and sync state",
	Long: `Show each platform's session state, token lifetime and last sync run.

Exits non-zero when any platform's session is not usable, so the command
doubles as a health check in cron and scripts.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatusCmd,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	platforms, err := resolvePlatforms(args)
	if err != nil {
		return err
	}

	database, err := db.New(a.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = database.Close() }()

	clock := a.clock()
	healthy := true
	for _, platformID := range platforms {
		mgr, _, err := a.manager(platformID)
		if err != nil {
			return err
		}

		st, s, err := mgr.Current()
		fmt.Printf("%s\n", platformID)
		if err != nil {
			fmt.Printf("  session:  unreadable (%v)\n", err)
			healthy = false
		} else {
			printSessionStatus(clock, st, s)
			if st != auth.StateValid && st != auth.StateNeedsRefresh {
				healthy = false
			}
		}

		last, err := database.LastSyncRun(platformID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			fmt.Printf("  last sync: never\n")
		case err != nil:
			fmt.Printf("  last sync: unreadable (%v)\n", err)
		default:
			fmt.Printf("  last sync: %s, %s (%d files, %d orders)\n",
				last.Status, humanize.Time(last.CompletedAt),
				last.FilesDownloaded, last.OrdersImported)
		}
		fmt.Println()
	}

	if !healthy {
		return errors.New("one or more sessions need attention")
	}
	return nil
}

func printSessionStatus(clock session.Clock, st auth.State, s *session.Session) {
	fmt.Printf("  session:  %s\n", st)
	if s == nil {
		return
	}
	exp := session.ExpiryOf(s)
	if !exp.IsZero() {
		if remaining := clock.RemainingMinutes(s); remaining > 0 {
			fmt.Printf("  expires:  %s (%.0f min)\n", humanize.Time(exp), remaining)
		} else {
			fmt.Printf("  expired:  %s\n", humanize.Time(exp))
		}
	}
	if !s.LastValidatedAt.IsZero() {
		fmt.Printf("  validated: %s\n", humanize.Time(s.LastValidatedAt))
	}
	if len(s.EntityCache) > 0 {
		fmt.Printf("  entities: %d cached\n", len(s.EntityCache))
	}
}
