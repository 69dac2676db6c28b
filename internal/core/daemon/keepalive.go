// Package daemon runs the unattended side of the tool: periodic session
// keep-alive per platform and a downloads watcher that imports new files
// as they land.
package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/giacomodamario/deliverydash/internal/core/auth"
	"github.com/giacomodamario/deliverydash/internal/core/browser"
	"github.com/giacomodamario/deliverydash/internal/core/notify"
	"github.com/giacomodamario/deliverydash/internal/core/session"
)

// Outcome is the result of one keep-alive tick.
type Outcome int

const (
	OutcomeAlreadyValid Outcome = iota
	OutcomeRefreshed
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAlreadyValid:
		return "already_valid"
	case OutcomeRefreshed:
		return "refreshed"
	default:
		return "failed"
	}
}

// SessionManager is the slice of the auth manager a keep-alive job needs.
type SessionManager interface {
	Current() (auth.State, *session.Session, error)
	EnsureReady(ctx context.Context, pg browser.Page, mode auth.Mode) (*auth.Ready, error)
	Invalidate()
}

// PageFactory opens a fresh browsing context. The returned func closes it.
type PageFactory func(ctx context.Context) (browser.Page, func(), error)

// KeepAliveJob keeps one platform's session fresh. Each tick performs at
// most one silent refresh attempt; failures notify the operator and wait
// for the next tick instead of retrying, because hammering a hostile
// portal with refresh attempts is how sessions get blocked.
type KeepAliveJob struct {
	Platform string
	Manager  SessionManager
	NewPage  PageFactory
	Notifier *notify.Notifier
	Log      zerolog.Logger

	// failing tracks a notification already sent for the current outage,
	// so a long outage produces one alert, not one per tick.
	failing bool
}

// Tick runs one keep-alive pass. On-disk state is checked first: a valid
// session far from expiry costs nothing, no browser is opened at all.
func (j *KeepAliveJob) Tick(ctx context.Context) Outcome {
	st, _, err := j.Manager.Current()
	if err != nil {
		j.Log.Error().Err(err).Str("platform", j.Platform).Msg("session state unreadable")
		j.alert("Session file unreadable: " + err.Error())
		return OutcomeFailed
	}

	switch st {
	case auth.StateValid:
		j.failing = false
		j.Log.Debug().Str("platform", j.Platform).Msg("session still valid")
		return OutcomeAlreadyValid
	case auth.StateNoSession:
		j.Log.Info().Str("platform", j.Platform).Msg("no session to keep alive")
		j.alert("No session on disk")
		return OutcomeFailed
	}

	pg, closePage, err := j.NewPage(ctx)
	if err != nil {
		j.Log.Error().Err(err).Str("platform", j.Platform).Msg("could not open browser")
		return OutcomeFailed
	}
	defer closePage()

	j.Manager.Invalidate()
	if _, err := j.Manager.EnsureReady(ctx, pg, auth.SilentOnly); err != nil {
		j.Log.Warn().Err(err).Str("platform", j.Platform).Msg("silent refresh failed")
		j.alert(err.Error())
		return OutcomeFailed
	}

	j.failing = false
	j.Log.Info().Str("platform", j.Platform).Msg("session refreshed")
	return OutcomeRefreshed
}

func (j *KeepAliveJob) alert(reason string) {
	if j.failing {
		return
	}
	j.failing = true
	if j.Notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		j.Notifier.ReauthNeeded(ctx, j.Platform, reason)
	}
}
