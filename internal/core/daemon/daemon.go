package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/giacomodamario/deliverydash/internal/core/importer"
)

// Daemon combines the keep-alive ticker with a downloads watcher. New CSV
// files in the download directories are imported after a short debounce,
// so manually downloaded invoices flow into the database too.
type Daemon struct {
	Jobs     []*KeepAliveJob
	Interval time.Duration

	Importer *importer.Importer
	// WatchDirs maps platform id to its downloads directory.
	WatchDirs map[string]string
	Debounce  time.Duration

	Log zerolog.Logger
}

// Start runs until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	for platform, dir := range d.WatchDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create downloads dir for %s: %w", platform, err)
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		d.Log.Info().Str("platform", platform).Str("dir", dir).Msg("watching downloads")
	}

	interval := d.Interval
	if interval <= 0 {
		interval = 2 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	debounce := d.Debounce
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	var importTimer *time.Timer
	var importCh <-chan time.Time

	// First tick up front so a freshly started daemon validates sessions
	// immediately instead of hours later.
	d.runTicks(ctx)

	for {
		select {
		case <-ctx.Done():
			d.Log.Info().Msg("daemon shutting down")
			return nil

		case <-ticker.C:
			d.runTicks(ctx)

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed unexpectedly")
			}
			if !interestingEvent(event) {
				continue
			}
			d.Log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("download event")
			// Reset the debounce window; bulk downloads land as a burst.
			if importTimer == nil {
				importTimer = time.NewTimer(debounce)
			} else {
				if !importTimer.Stop() {
					select {
					case <-importTimer.C:
					default:
					}
				}
				importTimer.Reset(debounce)
			}
			importCh = importTimer.C

		case <-importCh:
			importCh = nil
			d.importAll()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			d.Log.Error().Err(err).Msg("watcher error")
		}
	}
}

func (d *Daemon) runTicks(ctx context.Context) {
	for _, job := range d.Jobs {
		if ctx.Err() != nil {
			return
		}
		outcome := job.Tick(ctx)
		d.Log.Info().
			Str("platform", job.Platform).
			Str("outcome", outcome.String()).
			Msg("keep-alive tick")
	}
}

func (d *Daemon) importAll() {
	for platform, dir := range d.WatchDirs {
		res, err := d.Importer.ImportDir(platform, dir)
		if err != nil {
			d.Log.Error().Err(err).Str("platform", platform).Msg("import pass failed")
			continue
		}
		if res.FilesImported > 0 {
			d.Log.Info().
				Str("platform", platform).
				Int("files", res.FilesImported).
				Int("orders", res.OrdersImported).
				Msg("imported new downloads")
		}
	}
}

func interestingEvent(event fsnotify.Event) bool {
	if !strings.EqualFold(filepath.Ext(event.Name), ".csv") {
		return false
	}
	return event.Op&fsnotify.Create == fsnotify.Create ||
		event.Op&fsnotify.Write == fsnotify.Write ||
		event.Op&fsnotify.Rename == fsnotify.Rename
}
