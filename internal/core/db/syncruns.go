package db

import (
	"fmt"
	"time"
)

// SyncRunRecord is one persisted sync execution.
type SyncRunRecord struct {
	RunID           string
	Platform        string
	WindowStart     time.Time
	WindowEnd       time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
	Status          string
	EntitiesTotal   int
	EntitiesFailed  int
	FilesDownloaded int
	OrdersImported  int
	ErrorMessage    string
}

// RecordSyncRun appends a run to the history.
func (db *DB) RecordSyncRun(r SyncRunRecord) error {
	_, err := db.conn.Exec(`
		INSERT INTO sync_runs (
			run_id, platform, window_start, window_end,
			started_at, completed_at, status,
			entities_total, entities_failed,
			files_downloaded, orders_imported,
			duration_seconds, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.RunID, r.Platform,
		r.WindowStart.Format("2006-01-02"), r.WindowEnd.Format("2006-01-02"),
		r.StartedAt.Format(time.RFC3339), r.CompletedAt.Format(time.RFC3339),
		r.Status,
		r.EntitiesTotal, r.EntitiesFailed,
		r.FilesDownloaded, r.OrdersImported,
		r.CompletedAt.Sub(r.StartedAt).Seconds(),
		nullable(r.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("record sync run: %w", err)
	}
	return nil
}

// LastSyncRun returns the most recent run for a platform, or nil.
func (db *DB) LastSyncRun(platform string) (*SyncRunRecord, error) {
	row := db.conn.QueryRow(`
		SELECT run_id, platform, status,
		       entities_total, entities_failed,
		       files_downloaded, orders_imported,
		       started_at, completed_at
		FROM sync_runs
		WHERE platform = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, platform)

	var r SyncRunRecord
	var started, completed string
	err := row.Scan(
		&r.RunID, &r.Platform, &r.Status,
		&r.EntitiesTotal, &r.EntitiesFailed,
		&r.FilesDownloaded, &r.OrdersImported,
		&started, &completed,
	)
	if err != nil {
		return nil, err
	}
	r.StartedAt, _ = time.Parse(time.RFC3339, started)
	r.CompletedAt, _ = time.Parse(time.RFC3339, completed)
	return &r, nil
}
