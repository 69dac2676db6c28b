// Package auth owns the authenticated-session state machine: deciding,
// per platform, whether a persisted session is usable, refreshing it
// silently when it is close to expiry, and escalating to interactive login
// or to the operator when it is not.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/giacomodamario/deliverydash/internal/core/browser"
	"github.com/giacomodamario/deliverydash/internal/core/config"
	"github.com/giacomodamario/deliverydash/internal/core/platform"
	"github.com/giacomodamario/deliverydash/internal/core/session"
)

// State is the manager's view of one platform's session.
type State int

const (
	StateNoSession State = iota
	StateValid
	StateNeedsRefresh
	StateExpired
	StateBlocked
	StateManualRequired
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateValid:
		return "valid"
	case StateNeedsRefresh:
		return "needs_refresh"
	case StateExpired:
		return "expired"
	case StateBlocked:
		return "blocked"
	case StateManualRequired:
		return "manual_required"
	default:
		return "unknown"
	}
}

// Mode selects how far EnsureReady may go to obtain a usable session.
type Mode int

const (
	// SilentOnly allows cookie restore and silent refresh, never a
	// credentialed login. Unattended jobs run in this mode.
	SilentOnly Mode = iota
	// AllowInteractive additionally permits a credentialed login in the
	// browser when silent paths fail.
	AllowInteractive
)

// ErrKind distinguishes the ways a session can be unusable.
type ErrKind int

const (
	KindNoSession ErrKind = iota
	KindExpired
	KindBlocked
	KindManualRequired
	KindCorruptData
)

func (k ErrKind) String() string {
	switch k {
	case KindNoSession:
		return "no_session"
	case KindExpired:
		return "expired"
	case KindBlocked:
		return "blocked"
	case KindManualRequired:
		return "manual_required"
	case KindCorruptData:
		return "corrupt_data"
	default:
		return "unknown"
	}
}

// SessionError is returned by EnsureReady when no usable session could be
// obtained under the requested mode.
type SessionError struct {
	Kind     ErrKind
	Platform string
	Err      error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s session %s: %v", e.Platform, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s session %s", e.Platform, e.Kind)
}

func (e *SessionError) Unwrap() error { return e.Err }

// Ready is a usable authenticated browsing context.
type Ready struct {
	Page    browser.Page
	Session *session.Session
}

// Manager drives one platform's session lifecycle against a live page.
type Manager struct {
	Portal platform.Portal
	Store  *session.Store
	Clock  session.Clock
	Creds  config.Credentials
	Log    zerolog.Logger

	detector  *browser.Detector
	challenge *browser.ChallengeHandler

	ready *Ready
}

// NewManager wires a manager from a portal adapter's marker tables.
func NewManager(portal platform.Portal, store *session.Store, clock session.Clock, creds config.Credentials, log zerolog.Logger) *Manager {
	m := portal.Markers()
	det := &browser.Detector{Rules: m.Rules, Log: log}
	return &Manager{
		Portal:   portal,
		Store:    store,
		Clock:    clock,
		Creds:    creds,
		Log:      log,
		detector: det,
		challenge: &browser.ChallengeHandler{
			Detector:        det,
			HideSelectors:   m.HideSelectors,
			AcceptSelectors: m.AcceptSelectors,
			AcceptLabels:    m.AcceptLabels,
			Log:             log,
		},
	}
}

// Detector exposes the manager's classifier for callers that need to check
// page state mid-sync.
func (m *Manager) Detector() *browser.Detector { return m.detector }

// Current reports the persisted session's state without touching a browser.
func (m *Manager) Current() (State, *session.Session, error) {
	s, err := m.Store.Load(m.Portal.ID())
	switch {
	case errors.Is(err, session.ErrNotFound):
		return StateNoSession, nil, nil
	case errors.Is(err, session.ErrCorruptData):
		return StateNoSession, nil, err
	case err != nil:
		return StateNoSession, nil, err
	}
	if m.Clock.IsExpired(s) {
		return StateExpired, s, nil
	}
	if m.Clock.ShouldRefresh(s) {
		return StateNeedsRefresh, s, nil
	}
	return StateValid, s, nil
}

// CacheEntities persists an entity listing into the stored session so the
// next run can enumerate without a live portal and judge listing anomalies.
func (m *Manager) CacheEntities(entities []session.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	_, err := m.Store.Update(m.Portal.ID(), func(s *session.Session) error {
		s.CacheEntities(entities)
		return nil
	})
	if err == nil && m.ready != nil {
		m.ready.Session.CacheEntities(entities)
	}
	return err
}

// Invalidate drops the cached ready context, forcing the next EnsureReady
// to revalidate against the live page. Used after a mid-sync block.
func (m *Manager) Invalidate() { m.ready = nil }

// EnsureReady returns a usable authenticated page, doing as little as the
// persisted state allows: nothing when a context is already validated,
// cookie restore when a fresh session exists on disk, silent refresh when
// the token nears expiry, and interactive login only in AllowInteractive
// mode. Calling it again on a Valid session is a no-op returning the same
// context.
func (m *Manager) EnsureReady(ctx context.Context, pg browser.Page, mode Mode) (*Ready, error) {
	pid := m.Portal.ID()

	if m.ready != nil && m.ready.Page == pg && !m.Clock.IsExpired(m.ready.Session) && !m.Clock.ShouldRefresh(m.ready.Session) {
		return m.ready, nil
	}

	s, err := m.Store.Load(pid)
	switch {
	case errors.Is(err, session.ErrCorruptData):
		// Corrupt data is operator-fatal: never silently discard a file
		// that may hold the only copy of a hard-won session.
		return nil, &SessionError{Kind: KindCorruptData, Platform: pid, Err: err}
	case errors.Is(err, session.ErrNotFound):
		return m.loginOrFail(ctx, pg, mode, KindNoSession, err)
	case err != nil:
		return nil, fmt.Errorf("load session: %w", err)
	}

	if m.Clock.IsExpired(s) {
		m.Log.Info().Str("platform", pid).Msg("session expired")
		return m.loginOrFail(ctx, pg, mode, KindExpired, nil)
	}

	if err := m.Portal.RestoreSession(ctx, pg, s); err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}
	if err := pg.Navigate(ctx, m.Portal.DashboardURL()); err != nil {
		return nil, fmt.Errorf("open dashboard: %w", err)
	}
	if err := m.clearPage(ctx, pg); err != nil {
		return nil, err
	}

	if !m.Portal.IsLoggedIn(ctx, pg) {
		m.Log.Info().Str("platform", pid).Msg("persisted cookies no longer authenticate")
		return m.loginOrFail(ctx, pg, mode, KindExpired, nil)
	}

	if m.Clock.ShouldRefresh(s) {
		m.Log.Info().
			Str("platform", pid).
			Float64("remaining_min", m.Clock.RemainingMinutes(s)).
			Msg("token near expiry, refreshing")
		if err := m.Portal.Refresh(ctx, pg); err != nil {
			m.Log.Warn().Err(err).Msg("silent refresh failed")
			return m.loginOrFail(ctx, pg, mode, KindExpired, err)
		}
		if s, err = m.captureAndPersist(ctx, pg); err != nil {
			return nil, err
		}
	}

	m.ready = &Ready{Page: pg, Session: s}
	return m.ready, nil
}

// clearPage classifies the current page and deals with challenges and
// blocks. On a block it clears cookies and reloads once; a second block is
// final for this attempt.
func (m *Manager) clearPage(ctx context.Context, pg browser.Page) error {
	pid := m.Portal.ID()
	for attempt := 0; attempt < 2; attempt++ {
		sig, err := m.detector.Snapshot(ctx, pg)
		if err != nil {
			return fmt.Errorf("inspect page: %w", err)
		}
		switch m.detector.Classify(sig) {
		case browser.ClassOK, browser.ClassUnknown:
			return nil
		case browser.ClassChallenge:
			if m.detector.InteractiveChallenge(sig) {
				return &SessionError{Kind: KindManualRequired, Platform: pid,
					Err: errors.New("interactive anti-bot challenge on page")}
			}
			ok, err := m.challenge.AttemptDismiss(ctx, pg)
			if err != nil {
				return fmt.Errorf("dismiss challenge: %w", err)
			}
			if !ok {
				return &SessionError{Kind: KindManualRequired, Platform: pid,
					Err: errors.New("challenge could not be dismissed")}
			}
			return nil
		case browser.ClassBlocked:
			if attempt > 0 {
				return &SessionError{Kind: KindManualRequired, Platform: pid,
					Err: errors.New("still blocked after cookie reset")}
			}
			m.Log.Warn().Str("platform", pid).Msg("blocked, clearing cookies and retrying once")
			if err := pg.ClearCookies(ctx); err != nil {
				return fmt.Errorf("clear cookies: %w", err)
			}
			if err := pg.Navigate(ctx, m.Portal.DashboardURL()); err != nil {
				return fmt.Errorf("reload after cookie reset: %w", err)
			}
		}
	}
	return &SessionError{Kind: KindBlocked, Platform: pid}
}

func (m *Manager) loginOrFail(ctx context.Context, pg browser.Page, mode Mode, kind ErrKind, cause error) (*Ready, error) {
	pid := m.Portal.ID()
	if mode != AllowInteractive {
		return nil, &SessionError{Kind: kind, Platform: pid, Err: cause}
	}
	if !m.Creds.Configured() {
		return nil, &SessionError{Kind: KindManualRequired, Platform: pid,
			Err: errors.New("no credentials configured for interactive login")}
	}

	m.Log.Info().Str("platform", pid).Msg("performing interactive login")
	if err := pg.ClearCookies(ctx); err != nil {
		return nil, fmt.Errorf("clear cookies: %w", err)
	}
	if err := pg.Navigate(ctx, m.Portal.LoginURL()); err != nil {
		return nil, fmt.Errorf("open login page: %w", err)
	}
	if err := m.clearPage(ctx, pg); err != nil {
		return nil, err
	}
	if err := m.Portal.Login(ctx, pg, m.Creds); err != nil {
		return nil, &SessionError{Kind: KindManualRequired, Platform: pid, Err: err}
	}

	s, err := m.captureAndPersist(ctx, pg)
	if err != nil {
		return nil, err
	}
	m.ready = &Ready{Page: pg, Session: s}
	return m.ready, nil
}

// captureAndPersist extracts the live browser state and merges it into the
// store. Under concurrent writers the session with the later expiry wins,
// so a keepalive refresh never clobbers a newer login.
func (m *Manager) captureAndPersist(ctx context.Context, pg browser.Page) (*session.Session, error) {
	pid := m.Portal.ID()
	fresh, err := m.Portal.ExtractSession(ctx, pg)
	if err != nil {
		return nil, fmt.Errorf("extract session: %w", err)
	}
	fresh.LastValidatedAt = time.Now()

	stored, err := m.Store.Update(pid, func(s *session.Session) error {
		if s.PlatformID != "" {
			theirs := session.ExpiryOf(s)
			ours := session.ExpiryOf(fresh)
			if !theirs.IsZero() && theirs.After(ours) {
				m.Log.Debug().Str("platform", pid).Msg("on-disk session is newer, keeping it")
				return nil
			}
			if len(fresh.EntityCache) == 0 {
				fresh.EntityCache = s.EntityCache
			}
		}
		*s = *fresh
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	m.Log.Info().
		Str("platform", pid).
		Time("expires_at", session.ExpiryOf(stored)).
		Msg("session persisted")
	return stored, nil
}
