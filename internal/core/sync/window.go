// Package sync orchestrates one sync run: obtaining an authenticated page,
// enumerating entities and downloading invoice artifacts per entity, with
// per-entity failure isolation and bounded run time.
package sync

import (
	"errors"
	"fmt"
	"time"
)

// Window is an inclusive date range, normalized to whole days.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds a validated window. Both bounds are truncated to
// midnight; the range is inclusive on both ends.
func NewWindow(start, end time.Time) (Window, error) {
	if start.IsZero() || end.IsZero() {
		return Window{}, errors.New("window bounds must be set")
	}
	start = truncateDay(start)
	end = truncateDay(end)
	if end.Before(start) {
		return Window{}, fmt.Errorf("window end %s before start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return Window{Start: start, End: end}, nil
}

// LastDays returns a window covering the n days up to and including today.
func LastDays(n int, now time.Time) Window {
	end := truncateDay(now)
	return Window{Start: end.AddDate(0, 0, -(n - 1)), End: end}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	d := truncateDay(t)
	return !d.Before(w.Start) && !d.After(w.End)
}

// Days returns the number of days the window spans.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

func (w Window) String() string {
	return w.Start.Format("2006-01-02") + ".." + w.End.Format("2006-01-02")
}
