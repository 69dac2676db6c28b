package browser

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Class is the detector's verdict about the current page state.
type Class int

const (
	ClassUnknown Class = iota
	ClassOK
	ClassChallenge
	ClassBlocked
)

func (c Class) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassChallenge:
		return "challenge"
	case ClassBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Rule matches one observable signal. Exactly one of Selector, Text or
// Status is set. Rules are data: a new locale or marker is an added row,
// never a new branch.
type Rule struct {
	Class    Class
	Selector string // visible element
	Text     string // substring of the page body, case-insensitive
	Status   int    // HTTP status of the last navigation
	// Interactive marks challenge rules that cannot be dismissed
	// programmatically (press-and-hold style). The challenge handler
	// refuses to touch these.
	Interactive bool
	Note        string
}

// RuleSet is the full marker table for one portal.
type RuleSet []Rule

// Signals is a cheap snapshot of observable page state, collected once per
// navigation. Classification over it is pure and side-effect free.
type Signals struct {
	Body    string
	Visible map[string]bool
	Status  int
}

// Detector classifies page state from a marker table. Precedence is fixed:
// a dashboard-only marker wins even when challenge markers are also present,
// because some portals render the dashboard and a dismissible security modal
// at the same time; blocking on the modal would be a false positive.
type Detector struct {
	Rules RuleSet
	Log   zerolog.Logger
}

// Snapshot collects the signals the rule set cares about. No network calls:
// one HTML read plus visibility checks, cheap enough to run after every
// navigation.
func (d *Detector) Snapshot(ctx context.Context, pg Page) (Signals, error) {
	sig := Signals{
		Visible: make(map[string]bool),
		Status:  pg.LastStatus(),
	}
	html, err := pg.HTML(ctx)
	if err != nil {
		return sig, err
	}
	sig.Body = html
	for _, r := range d.Rules {
		if r.Selector != "" {
			sig.Visible[r.Selector] = pg.IsVisible(ctx, r.Selector)
		}
	}
	return sig, nil
}

// Classify applies the rule table with fixed class precedence:
// OK, then CHALLENGE, then BLOCKED, else UNKNOWN. First match wins.
func (d *Detector) Classify(sig Signals) Class {
	for _, class := range []Class{ClassOK, ClassChallenge, ClassBlocked} {
		if r, ok := d.match(sig, class); ok {
			d.Log.Debug().
				Str("class", class.String()).
				Str("marker", r.describe()).
				Msg("page classified")
			return class
		}
	}
	return ClassUnknown
}

// Check snapshots and classifies in one call.
func (d *Detector) Check(ctx context.Context, pg Page) (Class, error) {
	sig, err := d.Snapshot(ctx, pg)
	if err != nil {
		return ClassUnknown, err
	}
	return d.Classify(sig), nil
}

// InteractiveChallenge reports whether the matched challenge marker, if any,
// is of the interactive (press-and-hold) kind.
func (d *Detector) InteractiveChallenge(sig Signals) bool {
	r, ok := d.match(sig, ClassChallenge)
	return ok && r.Interactive
}

func (d *Detector) match(sig Signals, class Class) (Rule, bool) {
	body := strings.ToLower(sig.Body)
	for _, r := range d.Rules {
		if r.Class != class {
			continue
		}
		switch {
		case r.Selector != "" && sig.Visible[r.Selector]:
			return r, true
		case r.Text != "" && strings.Contains(body, strings.ToLower(r.Text)):
			return r, true
		case r.Status != 0 && sig.Status == r.Status:
			return r, true
		}
	}
	return Rule{}, false
}

func (r Rule) describe() string {
	switch {
	case r.Selector != "":
		return r.Selector
	case r.Text != "":
		return r.Text
	default:
		return "http status"
	}
}
