package sync

import (
	"time"

	"github.com/google/uuid"
)

// EntityStatus is the terminal status of one entity within a run.
type EntityStatus string

const (
	StatusOK      EntityStatus = "ok"
	StatusPartial EntityStatus = "partial"
	StatusFailed  EntityStatus = "failed"
)

// Failure reasons recorded on failed entities. session_lost and deadline
// are driver-level escalations; everything else carries the error text.
const (
	ReasonSessionLost = "session_lost"
	ReasonDeadline    = "deadline"
)

// EntityResult is the outcome for one entity. A partial entity downloaded
// some artifacts before failing.
type EntityResult struct {
	EntityID   string
	EntityName string
	Status     EntityStatus
	Artifacts  int
	Attempts   int
	Reason     string
	Err        error
}

// Run aggregates a full sync execution across entities.
type Run struct {
	ID         string
	PlatformID string
	Window     Window
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []EntityResult
	// Anomaly is set when entity enumeration shrank suspiciously versus
	// the cached entity list.
	Anomaly string
}

func newRun(platformID string, w Window, now time.Time) *Run {
	return &Run{
		ID:         uuid.NewString(),
		PlatformID: platformID,
		Window:     w,
		StartedAt:  now,
	}
}

// Succeeded reports whether every entity completed ok.
func (r *Run) Succeeded() bool {
	if len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if res.Status != StatusOK {
			return false
		}
	}
	return true
}

// ArtifactCount sums downloaded artifacts across entities.
func (r *Run) ArtifactCount() int {
	n := 0
	for _, res := range r.Results {
		n += res.Artifacts
	}
	return n
}

// FailedCount counts entities that ended failed.
func (r *Run) FailedCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Duration is wall time from start to finish.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
