// Package browser wraps a Chrome DevTools session behind a small Page
// interface so session/auth/sync logic is testable without a browser.
// Every operation takes a context and is expected to be bounded: an
// unbounded wait on a hostile portal is a correctness bug, not patience.
package browser

import (
	"context"

	"github.com/giacomodamario/deliverydash/internal/core/session"
)

// Page is the browsing surface the rest of the core drives. Implemented by
// Chrome for real runs and by fakes in tests.
type Page interface {
	// Navigate loads a URL and waits for the document, recording the HTTP
	// status of the main-frame response.
	Navigate(ctx context.Context, url string) error
	// LastStatus returns the HTTP status of the last navigation (0 if none).
	LastStatus() int
	// URL returns the current page URL.
	URL(ctx context.Context) (string, error)
	// HTML returns the full document markup.
	HTML(ctx context.Context) (string, error)
	// IsVisible reports whether a CSS selector matches a visible element.
	// Best effort: errors degrade to false.
	IsVisible(ctx context.Context, selector string) bool
	// Click clicks the first element matching the selector.
	Click(ctx context.Context, selector string) error
	// ForceClick dispatches a click via JS, ignoring intercepting overlays.
	ForceClick(ctx context.Context, selector string) error
	// ClickByText clicks the first element of the given tag whose visible
	// text equals one of the labels (case-insensitive, trimmed).
	ClickByText(ctx context.Context, tag string, labels []string) error
	// Fill sets the value of an input matching the selector.
	Fill(ctx context.Context, selector, value string) error
	// PressEscape sends the Escape key to the page.
	PressEscape(ctx context.Context) error
	// HideAll removes every element matching the selector from the DOM,
	// returning how many were removed.
	HideAll(ctx context.Context, selector string) (int, error)
	// WaitVisible blocks until the selector is visible or ctx expires.
	WaitVisible(ctx context.Context, selector string) error
	// TextAll returns the visible text of every element matching the
	// selector, in document order.
	TextAll(ctx context.Context, selector string) ([]string, error)
	// AttrAll returns the given attribute of every element matching the
	// selector, in document order ("" where absent).
	AttrAll(ctx context.Context, selector, attr string) ([]string, error)
	// SelectOption sets a <select> element to the option with this value
	// and fires a change event.
	SelectOption(ctx context.Context, selector, value string) error
	// SetCookies injects cookies into the browser.
	SetCookies(ctx context.Context, cookies []session.Cookie) error
	// Cookies extracts all cookies from the browser.
	Cookies(ctx context.Context) ([]session.Cookie, error)
	// ClearCookies drops all cookies (used on block recovery).
	ClearCookies(ctx context.Context) error
	// Download clicks the selector and waits for a new file to land in the
	// download directory, returning its path.
	Download(ctx context.Context, selector string) (string, error)
}
