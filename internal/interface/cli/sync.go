package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/giacomodamario/deliverydash/internal/core/auth"
	"github.com/giacomodamario/deliverydash/internal/core/db"
	"github.com/giacomodamario/deliverydash/internal/core/importer"
	"github.com/giacomodamario/deliverydash/internal/core/notify"
	syncer "github.com/giacomodamario/deliverydash/internal/core/sync"
)

var (
	syncFrom        string
	syncTo          string
	syncSince       string
	syncEntities    []string
	syncInteractive bool
	syncNoImport    bool
	syncNoNotify    bool
)

var syncCmd = &cobra.Command{
	Use:   "sync [platform]",
	Short: "Download and import invoices",
	Long: `Download invoice files for every store of a platform and import them
into the database.

The date window defaults to the last 7 days. Use --from/--to for explicit
dates (YYYY-MM-DD), or --since for natural language ("last monday").`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSyncCmd,
}

func init() {
	syncCmd.Flags().StringVar(&syncFrom, "from", "", "Window start (YYYY-MM-DD)")
	syncCmd.Flags().StringVar(&syncTo, "to", "", "Window end (YYYY-MM-DD, default today)")
	syncCmd.Flags().StringVar(&syncSince, "since", "", `Window start in natural language ("3 days ago")`)
	syncCmd.Flags().StringArrayVar(&syncEntities, "entity", nil, "Sync only this entity id (repeatable)")
	syncCmd.Flags().BoolVar(&syncInteractive, "interactive", false, "Allow interactive login if the session is unusable")
	syncCmd.Flags().BoolVar(&syncNoImport, "no-import", false, "Skip importing downloaded files")
	syncCmd.Flags().BoolVar(&syncNoNotify, "no-notify", false, "Disable Slack notifications")
	rootCmd.AddCommand(syncCmd)
}

func runSyncCmd(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	platforms, err := resolvePlatforms(args)
	if err != nil {
		return err
	}
	window, err := parseWindow(time.Now())
	if err != nil {
		return err
	}

	database, err := db.New(a.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = database.Close() }()

	notifier := notify.New(a.cfg.SlackWebhookURL, a.log)
	failed := false
	for _, platformID := range platforms {
		if err := a.syncPlatform(cmd.Context(), database, notifier, platformID, window); err != nil {
			fmt.Printf("\n%s sync failed: %v\n", platformID, err)
			failed = true
		}
	}
	if failed {
		return errors.New("one or more platforms failed to sync")
	}
	return nil
}

func (a *app) syncPlatform(ctx context.Context, database *db.DB, notifier *notify.Notifier, platformID string, window syncer.Window) error {
	fmt.Printf("Syncing %s (%s)\n", platformID, window)

	mgr, portal, err := a.manager(platformID)
	if err != nil {
		return err
	}

	mode := auth.SilentOnly
	headless := a.cfg.Headless
	if syncInteractive {
		mode = auth.AllowInteractive
		headless = false
	}

	pg, closePage, err := a.newPage(platformID, headless)
	if err != nil {
		return err
	}
	defer closePage()

	driver := &syncer.Driver{
		Portal:   portal,
		Auth:     mgr,
		Mode:     mode,
		Retries:  a.cfg.EntityRetries,
		Backoff:  a.cfg.RetryBackoff,
		Deadline: a.cfg.RunDeadline,
		Log:      a.log.With().Str("platform", platformID).Logger(),
	}

	run, runErr := driver.Execute(ctx, pg, window, syncEntities)
	if runErr != nil {
		var serr *auth.SessionError
		if errors.As(runErr, &serr) && !syncNoNotify {
			notifier.ReauthNeeded(ctx, platformID, serr.Kind.String())
		}
		if !syncNoNotify {
			notifier.SyncFailure(ctx, platformID, "session", runErr.Error())
		}
		recordRun(a, database, run, 0, runErr)
		return runErr
	}

	printRun(run)

	ordersImported := 0
	if !syncNoImport {
		imp := importer.New(database, a.log)
		res, err := imp.ImportDir(platformID, a.cfg.PlatformDownloadsDir(platformID))
		if err != nil {
			a.log.Error().Err(err).Msg("import pass failed")
		} else {
			ordersImported = res.OrdersImported
			fmt.Printf("Imported %d files, %d orders\n", res.FilesImported, res.OrdersImported)
		}
	}

	recordRun(a, database, run, ordersImported, nil)

	if !syncNoNotify {
		if run.Succeeded() {
			notifier.SyncSuccess(ctx, platformID, window.String(),
				len(run.Results), run.ArtifactCount(), ordersImported, run.Duration())
		} else {
			notifier.SyncFailure(ctx, platformID, "download", runSummary(run))
		}
	}

	if !run.Succeeded() {
		return fmt.Errorf("%d of %d entities failed", run.FailedCount(), len(run.Results))
	}
	return nil
}

// parseWindow resolves the --from/--to/--since flags into a window.
func parseWindow(now time.Time) (syncer.Window, error) {
	if syncSince != "" && syncFrom != "" {
		return syncer.Window{}, errors.New("--since and --from are mutually exclusive")
	}

	end := now
	if syncTo != "" {
		t, err := time.Parse("2006-01-02", syncTo)
		if err != nil {
			return syncer.Window{}, fmt.Errorf("parse --to: %w", err)
		}
		end = t
	}

	switch {
	case syncFrom != "":
		start, err := time.Parse("2006-01-02", syncFrom)
		if err != nil {
			return syncer.Window{}, fmt.Errorf("parse --from: %w", err)
		}
		return syncer.NewWindow(start, end)
	case syncSince != "":
		w := when.New(nil)
		w.Add(en.All...)
		w.Add(common.All...)
		r, err := w.Parse(syncSince, now)
		if err != nil || r == nil {
			return syncer.Window{}, fmt.Errorf("could not understand --since %q", syncSince)
		}
		return syncer.NewWindow(r.Time, end)
	default:
		return syncer.LastDays(7, now), nil
	}
}

func printRun(run *syncer.Run) {
	if run.Anomaly != "" {
		fmt.Printf("WARNING: %s\n", run.Anomaly)
	}
	fmt.Printf("\n%-24s %-28s %-8s %-10s %s\n", "ENTITY", "NAME", "STATUS", "ARTIFACTS", "NOTE")
	for _, r := range run.Results {
		note := r.Reason
		if note == "" && r.Err != nil {
			note = r.Err.Error()
		}
		fmt.Printf("%-24s %-28s %-8s %-10d %s\n",
			r.EntityID, truncate(r.EntityName, 28), r.Status, r.Artifacts, note)
	}
	fmt.Printf("\n%d entities, %d artifacts, %d failed, %s\n",
		len(run.Results), run.ArtifactCount(), run.FailedCount(),
		run.Duration().Round(time.Second))
}

func runSummary(run *syncer.Run) string {
	var parts []string
	for _, r := range run.Results {
		if r.Status == syncer.StatusOK {
			continue
		}
		reason := r.Reason
		if reason == "" && r.Err != nil {
			reason = r.Err.Error()
		}
		parts = append(parts, fmt.Sprintf("%s: %s", r.EntityID, reason))
	}
	return strings.Join(parts, "; ")
}

func recordRun(a *app, database *db.DB, run *syncer.Run, ordersImported int, runErr error) {
	status := "success"
	errMsg := ""
	if runErr != nil {
		status = "failed"
		errMsg = runErr.Error()
	} else if !run.Succeeded() {
		status = "partial"
		errMsg = runSummary(run)
	}
	rec := db.SyncRunRecord{
		RunID:           run.ID,
		Platform:        run.PlatformID,
		WindowStart:     run.Window.Start,
		WindowEnd:       run.Window.End,
		StartedAt:       run.StartedAt,
		CompletedAt:     run.FinishedAt,
		Status:          status,
		EntitiesTotal:   len(run.Results),
		EntitiesFailed:  run.FailedCount(),
		FilesDownloaded: run.ArtifactCount(),
		OrdersImported:  ordersImported,
		ErrorMessage:    errMsg,
	}
	if err := database.RecordSyncRun(rec); err != nil {
		a.log.Error().Err(err).Msg("could not record sync run")
	}
}

// truncate cuts s to at most n characters, not bytes, so store names like
// "Località" never get split mid-rune.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
