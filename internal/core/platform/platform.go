// Package platform defines the portal adapter contract and the two concrete
// adapters (Deliveroo Partner Hub, Glovo Partner Portal). Adapters own
// everything portal-coupled: URLs, selector tables, block signatures and the
// mechanics of login, refresh, entity switching and artifact download.
// Portal DOM changes are expected; adapters degrade gracefully rather than
// promising a stable contract.
package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/giacomodamario/deliverydash/internal/core/browser"
	"github.com/giacomodamario/deliverydash/internal/core/config"
	"github.com/giacomodamario/deliverydash/internal/core/session"
)

// Artifact is one downloaded invoice/order file handed off to the parser
// collaborator. The core's obligation ends at "fully written file on disk".
type Artifact struct {
	Path       string
	EntityID   string
	PlatformID string
	Start, End time.Time
}

// Markers is the declarative signal table of one portal: classification
// rules for the block detector plus the dismissal hints for the challenge
// handler. New locales and markers are added rows, not code.
type Markers struct {
	Rules           browser.RuleSet
	HideSelectors   []string
	AcceptSelectors []string
	AcceptLabels    []string
}

// Portal is the per-platform adapter the session manager and sync driver
// operate against.
type Portal interface {
	ID() string
	LoginURL() string
	DashboardURL() string
	Markers() Markers

	// Login performs a credentialed interactive login. The caller has
	// already navigated to LoginURL and cleared any consent interstitials.
	Login(ctx context.Context, pg browser.Page, creds config.Credentials) error
	// Refresh silently renews the token by revisiting the dashboard under
	// existing cookies; portals refresh server-side on page load.
	Refresh(ctx context.Context, pg browser.Page) error
	// IsLoggedIn looks for authenticated-only markers.
	IsLoggedIn(ctx context.Context, pg browser.Page) bool
	// ExtractSession captures the current browser state as a Session.
	ExtractSession(ctx context.Context, pg browser.Page) (*session.Session, error)
	// RestoreSession injects a persisted session into the browser.
	RestoreSession(ctx context.Context, pg browser.Page, s *session.Session) error

	// ListEntities discovers the sync targets reachable under the session,
	// in source order.
	ListEntities(ctx context.Context, pg browser.Page) ([]session.Entity, error)
	// SelectEntity switches the active browsing context to one entity.
	SelectEntity(ctx context.Context, pg browser.Page, entityID string) error
	// FetchArtifacts downloads invoice/order files for the selected entity
	// restricted to the inclusive date window.
	FetchArtifacts(ctx context.Context, pg browser.Page, entityID string, start, end time.Time) ([]Artifact, error)
}

// ForID returns the adapter for a platform id.
func ForID(id string, cfg *config.Config) (Portal, error) {
	switch id {
	case config.PlatformDeliveroo:
		return NewDeliveroo(cfg), nil
	case config.PlatformGlovo:
		return NewGlovo(cfg), nil
	}
	return nil, fmt.Errorf("unknown platform %q", id)
}
