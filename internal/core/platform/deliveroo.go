package platform

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/giacomodamario/deliverydash/internal/core/browser"
	"github.com/giacomodamario/deliverydash/internal/core/config"
	"github.com/giacomodamario/deliverydash/internal/core/session"
)

const (
	deliverooLoginURL     = "https://partner-hub.deliveroo.com/"
	deliverooDashboardURL = "https://partner-hub.deliveroo.com/home"
	deliverooInvoicesURL  = "https://partner-hub.deliveroo.com/invoices"
)

// Deliveroo drives the Deliveroo Partner Hub. Unlike Glovo the hub carries
// no JWT in a cookie, so session expiry falls back to the auth cookie's own
// expiry timestamp captured at extraction time.
type Deliveroo struct {
	cfg *config.Config
	log zerolog.Logger
}

func NewDeliveroo(cfg *config.Config) *Deliveroo {
	return &Deliveroo{cfg: cfg, log: zerolog.Nop()}
}

func (d *Deliveroo) SetLogger(log zerolog.Logger) { d.log = log }

func (d *Deliveroo) ID() string           { return config.PlatformDeliveroo }
func (d *Deliveroo) LoginURL() string     { return deliverooLoginURL }
func (d *Deliveroo) DashboardURL() string { return deliverooDashboardURL }

func (d *Deliveroo) Markers() Markers {
	return Markers{
		Rules: browser.RuleSet{
			{Class: browser.ClassOK, Selector: `[data-testid="location-selector"]`, Note: "location selector"},
			{Class: browser.ClassOK, Selector: `nav[aria-label="Main"]`, Note: "main nav"},
			{Class: browser.ClassOK, Selector: `a[href*="invoice"]`, Note: "invoices link"},

			{Class: browser.ClassChallenge, Selector: "#onetrust-banner-sdk", Note: "onetrust"},
			{Class: browser.ClassChallenge, Selector: `[data-testid="cookie-banner"]`, Note: "cookie banner"},
			{Class: browser.ClassChallenge, Text: "verify you are human", Interactive: true},
			{Class: browser.ClassChallenge, Selector: `iframe[title="Human verification challenge"]`, Interactive: true},

			{Class: browser.ClassBlocked, Text: "access denied"},
			{Class: browser.ClassBlocked, Text: "has been temporarily limited"},
			{Class: browser.ClassBlocked, Status: 403},
			{Class: browser.ClassBlocked, Status: 429},
		},
		HideSelectors: []string{
			"#onetrust-consent-sdk",
			`[data-testid="cookie-banner"]`,
		},
		AcceptSelectors: []string{
			"#onetrust-accept-btn-handler",
			`[data-testid="cookie-accept"]`,
		},
		AcceptLabels: []string{"Accept all", "Accept", "Accetta tutti", "OK"},
	}
}

func (d *Deliveroo) Login(ctx context.Context, pg browser.Page, creds config.Credentials) error {
	if err := pg.Fill(ctx, `input[type="email"]`, creds.Email); err != nil {
		return fmt.Errorf("fill email: %w", err)
	}
	if err := pg.Fill(ctx, `input[type="password"]`, creds.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if err := pg.Click(ctx, `button[type="submit"]`); err != nil {
		if err := pg.ClickByText(ctx, "button", []string{"Log in", "Sign in"}); err != nil {
			return fmt.Errorf("click login: %w", err)
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(3 * time.Second):
	}
	if !d.IsLoggedIn(ctx, pg) {
		return errors.New("login did not reach an authenticated page")
	}
	return nil
}

func (d *Deliveroo) Refresh(ctx context.Context, pg browser.Page) error {
	if err := pg.Navigate(ctx, deliverooDashboardURL); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(3 * time.Second):
	}
	if !d.IsLoggedIn(ctx, pg) {
		return errors.New("session no longer authenticated after refresh visit")
	}
	return nil
}

func (d *Deliveroo) IsLoggedIn(ctx context.Context, pg browser.Page) bool {
	if pg.IsVisible(ctx, `input[type="password"]`) {
		return false
	}
	for _, sel := range []string{`[data-testid="location-selector"]`, `nav[aria-label="Main"]`, `a[href*="invoice"]`} {
		if pg.IsVisible(ctx, sel) {
			return true
		}
	}
	u, err := pg.URL(ctx)
	if err != nil {
		return false
	}
	lower := strings.ToLower(u)
	if strings.Contains(lower, "login") {
		return false
	}
	for _, p := range []string{"/home", "/dashboard", "/invoices", "/orders"} {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func (d *Deliveroo) ExtractSession(ctx context.Context, pg browser.Page) (*session.Session, error) {
	cookies, err := pg.Cookies(ctx)
	if err != nil {
		return nil, err
	}
	if len(cookies) == 0 {
		return nil, errors.New("no cookies in browser state")
	}
	s := &session.Session{
		PlatformID: d.ID(),
		IssuedAt:   time.Now(),
		Cookies:    cookies,
	}
	// The hub's auth cookies are opaque. The shortest expiry among the
	// session-bearing cookies bounds the session's own lifetime.
	var earliest time.Time
	for _, c := range cookies {
		if !looksLikeAuthCookie(c.Name) || c.Expires <= 0 {
			continue
		}
		exp := time.Unix(int64(c.Expires), 0)
		if earliest.IsZero() || exp.Before(earliest) {
			earliest = exp
		}
	}
	if earliest.IsZero() {
		// Session cookies without an expiry live until the browser profile
		// does; treat them as good for a day and let validation decide.
		earliest = time.Now().Add(24 * time.Hour)
	}
	s.ExpiresAt = earliest
	return s, nil
}

func looksLikeAuthCookie(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range []string{"session", "auth", "token", "identity"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (d *Deliveroo) RestoreSession(ctx context.Context, pg browser.Page, s *session.Session) error {
	return pg.SetCookies(ctx, s.Cookies)
}

const deliverooLocationSelect = `select[name="location"], select[name="restaurant"], [data-testid="location-selector"] select`

func (d *Deliveroo) ListEntities(ctx context.Context, pg browser.Page) ([]session.Entity, error) {
	ids, err := pg.AttrAll(ctx, deliverooLocationSelect+" option", "value")
	if err != nil {
		return nil, err
	}
	names, err := pg.TextAll(ctx, deliverooLocationSelect+" option")
	if err != nil {
		return nil, err
	}
	entities := make([]session.Entity, 0, len(ids))
	for i, id := range ids {
		if id == "" {
			continue
		}
		name := ""
		if i < len(names) {
			name = strings.TrimSpace(names[i])
		}
		entities = append(entities, session.Entity{ID: id, Name: name})
	}
	if len(entities) == 0 {
		// Single-location accounts render no selector at all.
		entities = append(entities, session.Entity{ID: "default", Name: "Default Location"})
	}
	return entities, nil
}

func (d *Deliveroo) SelectEntity(ctx context.Context, pg browser.Page, entityID string) error {
	if entityID == "default" {
		return nil
	}
	if err := pg.SelectOption(ctx, deliverooLocationSelect, entityID); err != nil {
		return fmt.Errorf("select location %s: %w", entityID, err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
	}
	return nil
}

// invoiceRow is one row of the invoice table, as scraped.
type invoiceRow struct {
	Index int
	Date  time.Time
	Text  string
}

var invoiceDateRe = regexp.MustCompile(`(\d{2}/\d{2}/\d{4}|\d{4}-\d{2}-\d{2})`)

// parseInvoiceRow pulls the invoice date out of a row's text. Rows without
// a recognizable date come back with a zero Date.
func parseInvoiceRow(index int, text string) invoiceRow {
	row := invoiceRow{Index: index, Text: text}
	m := invoiceDateRe.FindString(text)
	if m == "" {
		return row
	}
	for _, layout := range []string{"02/01/2006", "2006-01-02"} {
		if t, err := time.Parse(layout, m); err == nil {
			row.Date = t
			break
		}
	}
	return row
}

// filterInvoiceRows decides which rows of a date-descending invoice table
// fall inside [start, end], and whether pagination can stop. Once a dated
// row falls before the window start, every later row does too. Undated rows
// are kept so a layout change degrades to extra downloads, not silent gaps.
func filterInvoiceRows(rows []invoiceRow, start, end time.Time) (keep []invoiceRow, stop bool) {
	for _, row := range rows {
		if row.Date.IsZero() {
			keep = append(keep, row)
			continue
		}
		if row.Date.Before(start) {
			return keep, true
		}
		if row.Date.After(end) {
			continue
		}
		keep = append(keep, row)
	}
	return keep, false
}

func (d *Deliveroo) FetchArtifacts(ctx context.Context, pg browser.Page, entityID string, start, end time.Time) ([]Artifact, error) {
	if err := d.openInvoices(ctx, pg); err != nil {
		return nil, err
	}
	if err := d.SelectEntity(ctx, pg, entityID); err != nil {
		return nil, err
	}

	var artifacts []Artifact
	for page := 1; ; page++ {
		texts, err := pg.TextAll(ctx, "table tbody tr")
		if err != nil {
			return artifacts, fmt.Errorf("read invoice rows: %w", err)
		}
		rows := make([]invoiceRow, 0, len(texts))
		for i, t := range texts {
			rows = append(rows, parseInvoiceRow(i, t))
		}
		keep, stop := filterInvoiceRows(rows, start, end)
		d.log.Debug().Int("page", page).Int("rows", len(rows)).Int("in_window", len(keep)).Msg("invoice page scanned")

		for _, row := range keep {
			sel := fmt.Sprintf(`table tbody tr:nth-child(%d) a[href*=".csv"], table tbody tr:nth-child(%d) a[download]`, row.Index+1, row.Index+1)
			path, err := pg.Download(ctx, sel)
			if err != nil {
				d.log.Warn().Err(err).Int("row", row.Index).Msg("invoice download failed, continuing")
				continue
			}
			artifacts = append(artifacts, Artifact{
				Path:       path,
				EntityID:   entityID,
				PlatformID: d.ID(),
				Start:      start,
				End:        end,
			})
		}

		if stop || !d.hasNextPage(ctx, pg) {
			break
		}
		if err := pg.ClickByText(ctx, "button", []string{"Next"}); err != nil {
			if err := pg.Click(ctx, `[aria-label="Next page"]`); err != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			return artifacts, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return artifacts, nil
}

func (d *Deliveroo) openInvoices(ctx context.Context, pg browser.Page) error {
	for _, sel := range []string{`a[href*="invoice"]`, `a[href*="billing"]`} {
		if pg.IsVisible(ctx, sel) {
			if err := pg.Click(ctx, sel); err == nil {
				return nil
			}
		}
	}
	return pg.Navigate(ctx, deliverooInvoicesURL)
}

func (d *Deliveroo) hasNextPage(ctx context.Context, pg browser.Page) bool {
	if !pg.IsVisible(ctx, `[aria-label="Next page"]`) {
		return false
	}
	vals, err := pg.AttrAll(ctx, `[aria-label="Next page"]`, "aria-disabled")
	if err != nil {
		return false
	}
	for _, v := range vals {
		if v == "true" {
			return false
		}
	}
	return true
}

var _ Portal = (*Deliveroo)(nil)
