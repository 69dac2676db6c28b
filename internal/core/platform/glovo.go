package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/giacomodamario/deliverydash/internal/core/browser"
	"github.com/giacomodamario/deliverydash/internal/core/config"
	"github.com/giacomodamario/deliverydash/internal/core/session"
)

const (
	glovoLoginURL     = "https://portal.glovoapp.com/"
	glovoDashboardURL = "https://portal.glovoapp.com/dashboard"
	glovoOrdersURL    = "https://portal.glovoapp.com/order-history"
	glovoDomain       = "portal.glovoapp.com"
)

// Glovo drives the Glovo Partner Portal. The portal sits behind PerimeterX:
// block signatures and the press-and-hold challenge are first-class signals
// here, and the access token is a JWT carried in the accessToken cookie.
type Glovo struct {
	cfg *config.Config
	log zerolog.Logger
}

func NewGlovo(cfg *config.Config) *Glovo {
	return &Glovo{cfg: cfg, log: zerolog.Nop()}
}

// SetLogger replaces the adapter's logger. The default discards everything.
func (g *Glovo) SetLogger(log zerolog.Logger) { g.log = log }

func (g *Glovo) ID() string           { return config.PlatformGlovo }
func (g *Glovo) LoginURL() string     { return glovoLoginURL }
func (g *Glovo) DashboardURL() string { return glovoDashboardURL }

func (g *Glovo) Markers() Markers {
	return Markers{
		Rules: browser.RuleSet{
			// Dashboard-only markers first: the portal renders the dashboard
			// and a dismissible compliance modal at the same time.
			{Class: browser.ClassOK, Selector: `[data-testid="sidebar"]`, Note: "sidebar"},
			{Class: browser.ClassOK, Selector: `nav[role="navigation"]`, Note: "nav"},
			{Class: browser.ClassOK, Selector: `.navigation-menu`, Note: "nav menu"},

			// PerimeterX press-and-hold: detectable, never solvable.
			{Class: browser.ClassChallenge, Selector: "#px-captcha", Interactive: true, Note: "px captcha"},
			{Class: browser.ClassChallenge, Text: "press and hold", Interactive: true},
			{Class: browser.ClassChallenge, Text: "tieni premuto", Interactive: true},
			{Class: browser.ClassChallenge, Text: "prima di continuare", Interactive: true},
			{Class: browser.ClassChallenge, Text: "global.captcha.perimeterx", Interactive: true},

			// Dismissible interstitials.
			{Class: browser.ClassChallenge, Selector: "#onetrust-banner-sdk", Note: "onetrust"},
			{Class: browser.ClassChallenge, Selector: `[role="dialog"]`, Note: "modal"},

			// Hard block signatures only appear in actual block responses.
			{Class: browser.ClassBlocked, Text: `"blockScript":`},
			{Class: browser.ClassBlocked, Text: "access to this page has been denied"},
			{Class: browser.ClassBlocked, Text: "please verify you are a human"},
			{Class: browser.ClassBlocked, Status: 403},
		},
		HideSelectors: []string{
			"#onetrust-consent-sdk",
			`[data-testid="compliance-modal"]`,
			".modal-backdrop",
		},
		AcceptSelectors: []string{
			"#onetrust-accept-btn-handler",
			`[data-testid="modal-close"]`,
			`button[aria-label="Close"]`,
			`button[aria-label="Chiudi"]`,
			`button[aria-label="Cerrar"]`,
		},
		AcceptLabels: []string{
			"Accept all", "Accetta tutti", "Accept", "Accetta",
			"Got it", "Capito", "Entendido", "OK", "Skip", "Not now",
		},
	}
}

func (g *Glovo) Login(ctx context.Context, pg browser.Page, creds config.Credentials) error {
	if err := pg.Fill(ctx, `input[type="email"]`, creds.Email); err != nil {
		return fmt.Errorf("fill email: %w", err)
	}
	if err := pg.Fill(ctx, `input[type="password"]`, creds.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if err := pg.Click(ctx, `button[type="submit"]`); err != nil {
		if err := pg.ClickByText(ctx, "button", []string{"Log in", "Sign in", "Accedi", "Iniciar sesión"}); err != nil {
			return fmt.Errorf("click login: %w", err)
		}
	}
	// Let redirects settle before the caller re-classifies the page.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(3 * time.Second):
	}
	if !g.IsLoggedIn(ctx, pg) {
		return errors.New("login did not reach an authenticated page")
	}
	return nil
}

// Refresh revisits the dashboard under existing cookies. The portal's auth
// daemon rotates the accessToken cookie on page load; nothing else needed.
func (g *Glovo) Refresh(ctx context.Context, pg browser.Page) error {
	if err := pg.Navigate(ctx, glovoDashboardURL); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(3 * time.Second):
	}
	if !g.IsLoggedIn(ctx, pg) {
		return errors.New("session no longer authenticated after refresh visit")
	}
	return nil
}

func (g *Glovo) IsLoggedIn(ctx context.Context, pg browser.Page) bool {
	// Login form visible means definitely not logged in.
	for _, sel := range []string{`input[type="password"]`, `input[type="email"]`} {
		if pg.IsVisible(ctx, sel) {
			return false
		}
	}
	for _, sel := range []string{`[data-testid="sidebar"]`, `nav[role="navigation"]`, `.navigation-menu`, `[data-testid="user-menu"]`} {
		if pg.IsVisible(ctx, sel) {
			return true
		}
	}
	u, err := pg.URL(ctx)
	if err != nil {
		return false
	}
	if strings.Contains(u, "/login") || strings.Contains(u, "/auth") {
		return false
	}
	for _, p := range []string{"/dashboard", "/orders", "/order-history", "/store"} {
		if strings.Contains(u, p) {
			return true
		}
	}
	return false
}

func (g *Glovo) ExtractSession(ctx context.Context, pg browser.Page) (*session.Session, error) {
	cookies, err := pg.Cookies(ctx)
	if err != nil {
		return nil, err
	}
	s := &session.Session{
		PlatformID: g.ID(),
		IssuedAt:   time.Now(),
		Cookies:    cookies,
	}
	for _, c := range cookies {
		switch c.Name {
		case "accessToken":
			s.AccessToken = c.Value
		case "refreshToken":
			s.RefreshToken = c.Value
		}
	}
	if s.AccessToken == "" {
		return nil, errors.New("no accessToken cookie in browser state")
	}
	s.ExpiresAt = session.ExpiryOf(s)
	if entities := g.entitiesFromCookies(cookies); len(entities) > 0 {
		s.CacheEntities(entities)
	}
	return s, nil
}

func (g *Glovo) RestoreSession(ctx context.Context, pg browser.Page, s *session.Session) error {
	return pg.SetCookies(ctx, s.Cookies)
}

// selectedVendors is a URL-encoded JSON cookie the portal uses to persist
// which stores the operator manages and which one is active.
type selectedVendors struct {
	SelectedVendorIDs []string `json:"selectedVendorIds"`
	CurrentVendorID   string   `json:"currentVendorId"`
}

func (g *Glovo) entitiesFromCookies(cookies []session.Cookie) []session.Entity {
	for _, c := range cookies {
		if c.Name != "selectedVendors" {
			continue
		}
		sv, err := decodeSelectedVendors(c.Value)
		if err != nil {
			g.log.Warn().Err(err).Msg("could not parse selectedVendors cookie")
			return nil
		}
		entities := make([]session.Entity, 0, len(sv.SelectedVendorIDs))
		for _, id := range sv.SelectedVendorIDs {
			entities = append(entities, session.Entity{ID: id, Name: vendorDisplayName(id)})
		}
		return entities
	}
	return nil
}

func decodeSelectedVendors(raw string) (*selectedVendors, error) {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return nil, fmt.Errorf("unescape: %w", err)
	}
	var sv selectedVendors
	if err := json.Unmarshal([]byte(decoded), &sv); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &sv, nil
}

// vendorDisplayName turns "GV_IT;890642" into "Store 890642".
func vendorDisplayName(vendorID string) string {
	if _, num, ok := strings.Cut(vendorID, ";"); ok {
		return "Store " + num
	}
	return vendorID
}

func (g *Glovo) ListEntities(ctx context.Context, pg browser.Page) ([]session.Entity, error) {
	cookies, err := pg.Cookies(ctx)
	if err != nil {
		return nil, err
	}
	if entities := g.entitiesFromCookies(cookies); len(entities) > 0 {
		return entities, nil
	}
	// Fall back to driving the vendor picker deterministically:
	// open it, read every option, close it.
	if err := pg.Click(ctx, `[data-testid="vendor-selector"]`); err != nil {
		return nil, fmt.Errorf("open vendor selector: %w", err)
	}
	ids, err := pg.AttrAll(ctx, `[data-testid="vendor-option"]`, "data-id")
	if err != nil {
		return nil, err
	}
	names, err := pg.TextAll(ctx, `[data-testid="vendor-option"]`)
	if err != nil {
		return nil, err
	}
	_ = pg.PressEscape(ctx)
	entities := make([]session.Entity, 0, len(ids))
	for i, id := range ids {
		name := ""
		if i < len(names) {
			name = names[i]
		}
		if id == "" {
			continue
		}
		entities = append(entities, session.Entity{ID: id, Name: name})
	}
	return entities, nil
}

// SelectEntity rewrites the selectedVendors cookie and reloads: the portal
// reads the active store from there, which beats racing its picker UI.
func (g *Glovo) SelectEntity(ctx context.Context, pg browser.Page, entityID string) error {
	cookies, err := pg.Cookies(ctx)
	if err != nil {
		return err
	}
	sv := &selectedVendors{SelectedVendorIDs: []string{entityID}, CurrentVendorID: entityID}
	for _, c := range cookies {
		if c.Name == "selectedVendors" {
			if existing, err := decodeSelectedVendors(c.Value); err == nil {
				sv.SelectedVendorIDs = existing.SelectedVendorIDs
				sv.CurrentVendorID = entityID
			}
			break
		}
	}
	payload, err := json.Marshal(sv)
	if err != nil {
		return fmt.Errorf("encode selectedVendors: %w", err)
	}
	err = pg.SetCookies(ctx, []session.Cookie{{
		Name:   "selectedVendors",
		Value:  url.QueryEscape(string(payload)),
		Domain: glovoDomain,
		Path:   "/",
		Secure: true,
	}})
	if err != nil {
		return err
	}
	return pg.Navigate(ctx, glovoDashboardURL)
}

func (g *Glovo) FetchArtifacts(ctx context.Context, pg browser.Page, entityID string, start, end time.Time) ([]Artifact, error) {
	if err := g.openOrderHistory(ctx, pg); err != nil {
		return nil, err
	}

	// Open the report dialog, pick CSV, restrict dates, confirm.
	if err := pg.ClickByText(ctx, "button", []string{"Scarica il report", "Download report", "Descargar informe", "Export"}); err != nil {
		return nil, fmt.Errorf("open report dialog: %w", err)
	}
	if pg.IsVisible(ctx, `input[value="csv"]`) {
		_ = pg.Click(ctx, `input[value="csv"]`)
	}
	_ = pg.Fill(ctx, `input[name*="from"], input[name*="start"]`, start.Format("02/01/2006"))
	_ = pg.Fill(ctx, `input[name*="to"], input[name*="end"]`, end.Format("02/01/2006"))

	path, err := pg.Download(ctx, `button[type="submit"]`)
	if err != nil {
		return nil, fmt.Errorf("download report: %w", err)
	}
	return []Artifact{{
		Path:       path,
		EntityID:   entityID,
		PlatformID: g.ID(),
		Start:      start,
		End:        end,
	}}, nil
}

func (g *Glovo) openOrderHistory(ctx context.Context, pg browser.Page) error {
	for _, sel := range []string{
		`a[href*="order-history"]`,
		`a[href*="orders"]`,
	} {
		if pg.IsVisible(ctx, sel) {
			if err := pg.Click(ctx, sel); err == nil {
				return nil
			}
		}
	}
	if err := pg.ClickByText(ctx, "a", []string{"Storico degli ordini", "Order history", "Historial de pedidos"}); err == nil {
		return nil
	}
	// No link found; the direct URL works when logged in.
	return pg.Navigate(ctx, glovoOrdersURL)
}

var _ Portal = (*Glovo)(nil)
