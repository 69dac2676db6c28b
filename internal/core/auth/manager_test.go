package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giacomodamario/deliverydash/internal/core/browser"
	"github.com/giacomodamario/deliverydash/internal/core/config"
	"github.com/giacomodamario/deliverydash/internal/core/platform"
	"github.com/giacomodamario/deliverydash/internal/core/session"
)

// stubPage implements the subset of browser.Page the manager exercises.
// visibleNow is consulted live so tests can change page state mid-flow.
type stubPage struct {
	url        string
	status     int
	cookies    []session.Cookie
	navigated  []string
	cleared    int
	visibleNow func() map[string]bool
}

var _ browser.Page = (*stubPage)(nil)

func (p *stubPage) Navigate(ctx context.Context, url string) error {
	p.url = url
	p.navigated = append(p.navigated, url)
	return nil
}
func (p *stubPage) LastStatus() int                          { return p.status }
func (p *stubPage) URL(ctx context.Context) (string, error)  { return p.url, nil }
func (p *stubPage) HTML(ctx context.Context) (string, error) { return "<html></html>", nil }
func (p *stubPage) IsVisible(ctx context.Context, sel string) bool {
	if p.visibleNow == nil {
		return false
	}
	return p.visibleNow()[sel]
}
func (p *stubPage) Click(ctx context.Context, sel string) error      { return nil }
func (p *stubPage) ForceClick(ctx context.Context, sel string) error { return nil }
func (p *stubPage) ClickByText(ctx context.Context, tag string, labels []string) error {
	return nil
}
func (p *stubPage) Fill(ctx context.Context, sel, value string) error { return nil }
func (p *stubPage) PressEscape(ctx context.Context) error             { return nil }
func (p *stubPage) HideAll(ctx context.Context, sel string) (int, error) {
	return 0, nil
}
func (p *stubPage) WaitVisible(ctx context.Context, sel string) error { return nil }
func (p *stubPage) TextAll(ctx context.Context, sel string) ([]string, error) {
	return nil, nil
}
func (p *stubPage) AttrAll(ctx context.Context, sel, attr string) ([]string, error) {
	return nil, nil
}
func (p *stubPage) SelectOption(ctx context.Context, sel, value string) error { return nil }
func (p *stubPage) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	p.cookies = append(p.cookies, cookies...)
	return nil
}
func (p *stubPage) Cookies(ctx context.Context) ([]session.Cookie, error) {
	return p.cookies, nil
}
func (p *stubPage) ClearCookies(ctx context.Context) error {
	p.cleared++
	p.cookies = nil
	return nil
}
func (p *stubPage) Download(ctx context.Context, sel string) (string, error) {
	return "", errors.New("not supported")
}

// stubPortal is a scriptable platform.Portal.
type stubPortal struct {
	id           string
	loggedIn     func() bool
	loginErr     error
	loginCalls   int
	refreshErr   error
	refreshCalls int
	extract      func() (*session.Session, error)
	restoreCalls int
}

var _ platform.Portal = (*stubPortal)(nil)

func (s *stubPortal) ID() string           { return s.id }
func (s *stubPortal) LoginURL() string     { return "https://portal.test/login" }
func (s *stubPortal) DashboardURL() string { return "https://portal.test/dashboard" }
func (s *stubPortal) Markers() platform.Markers {
	return platform.Markers{Rules: browser.RuleSet{
		{Class: browser.ClassOK, Selector: "#dash"},
		{Class: browser.ClassChallenge, Selector: "#px", Interactive: true},
		{Class: browser.ClassChallenge, Selector: "#consent"},
		{Class: browser.ClassBlocked, Status: 403},
	}}
}
func (s *stubPortal) Login(ctx context.Context, pg browser.Page, creds config.Credentials) error {
	s.loginCalls++
	return s.loginErr
}
func (s *stubPortal) Refresh(ctx context.Context, pg browser.Page) error {
	s.refreshCalls++
	return s.refreshErr
}
func (s *stubPortal) IsLoggedIn(ctx context.Context, pg browser.Page) bool {
	if s.loggedIn == nil {
		return true
	}
	return s.loggedIn()
}
func (s *stubPortal) ExtractSession(ctx context.Context, pg browser.Page) (*session.Session, error) {
	if s.extract == nil {
		return nil, errors.New("no extract scripted")
	}
	return s.extract()
}
func (s *stubPortal) RestoreSession(ctx context.Context, pg browser.Page, sess *session.Session) error {
	s.restoreCalls++
	return pg.SetCookies(ctx, sess.Cookies)
}
func (s *stubPortal) ListEntities(ctx context.Context, pg browser.Page) ([]session.Entity, error) {
	return nil, nil
}
func (s *stubPortal) SelectEntity(ctx context.Context, pg browser.Page, entityID string) error {
	return nil
}
func (s *stubPortal) FetchArtifacts(ctx context.Context, pg browser.Page, entityID string, start, end time.Time) ([]platform.Artifact, error) {
	return nil, nil
}

func signToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{"exp": exp.Unix()})
	s, err := tok.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func storeSession(t *testing.T, st *session.Store, id string, exp time.Time) {
	t.Helper()
	err := st.Save(id, &session.Session{
		PlatformID:  id,
		AccessToken: signToken(t, exp),
		IssuedAt:    time.Now(),
		Cookies:     []session.Cookie{{Name: "accessToken", Value: "stored"}},
	})
	require.NoError(t, err)
}

func newTestManager(t *testing.T, portal *stubPortal, creds config.Credentials) (*Manager, *session.Store) {
	t.Helper()
	st, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	clock := session.Clock{Threshold: 30 * time.Minute}
	return NewManager(portal, st, clock, creds, zerolog.Nop()), st
}

func freshExtract(t *testing.T, id string, exp time.Time) func() (*session.Session, error) {
	return func() (*session.Session, error) {
		return &session.Session{
			PlatformID:  id,
			AccessToken: signToken(t, exp),
			IssuedAt:    time.Now(),
			Cookies:     []session.Cookie{{Name: "accessToken", Value: "fresh"}},
		}, nil
	}
}

func dashboardPage() *stubPage {
	return &stubPage{
		visibleNow: func() map[string]bool { return map[string]bool{"#dash": true} },
	}
}

func TestEnsureReadyValidSessionIsIdempotent(t *testing.T) {
	portal := &stubPortal{id: "glovo"}
	mgr, st := newTestManager(t, portal, config.Credentials{})
	storeSession(t, st, "glovo", time.Now().Add(2*time.Hour))
	pg := dashboardPage()

	r1, err := mgr.EnsureReady(context.Background(), pg, SilentOnly)
	require.NoError(t, err)
	require.NotNil(t, r1)
	assert.Equal(t, 1, portal.restoreCalls)

	r2, err := mgr.EnsureReady(context.Background(), pg, SilentOnly)
	require.NoError(t, err)
	assert.Same(t, r1, r2, "second call must reuse the validated context")
	assert.Equal(t, 1, portal.restoreCalls)
	assert.Equal(t, 0, portal.refreshCalls)
	assert.Equal(t, 0, portal.loginCalls)
}

func TestEnsureReadyRefreshesNearExpiry(t *testing.T) {
	portal := &stubPortal{id: "glovo"}
	portal.extract = freshExtract(t, "glovo", time.Now().Add(3*time.Hour))
	mgr, st := newTestManager(t, portal, config.Credentials{})
	storeSession(t, st, "glovo", time.Now().Add(10*time.Minute))
	pg := dashboardPage()

	r, err := mgr.EnsureReady(context.Background(), pg, SilentOnly)
	require.NoError(t, err)
	assert.Equal(t, 1, portal.refreshCalls)
	assert.Equal(t, 0, portal.loginCalls)
	assert.False(t, mgr.Clock.ShouldRefresh(r.Session))

	onDisk, err := st.Load("glovo")
	require.NoError(t, err)
	assert.Equal(t, r.Session.AccessToken, onDisk.AccessToken)
	assert.Equal(t, "fresh", onDisk.Cookie("accessToken"))
}

func TestLoginKeepsNewerOnDiskToken(t *testing.T) {
	// A login that yields a token expiring sooner than what is already on
	// disk must not clobber the stored session.
	portal := &stubPortal{id: "glovo"}
	portal.extract = freshExtract(t, "glovo", time.Now().Add(20*time.Minute))
	mgr, st := newTestManager(t, portal, config.Credentials{Email: "e", Password: "p"})

	storeSession(t, st, "glovo", time.Now().Add(4*time.Hour))
	stored, err := st.Load("glovo")
	require.NoError(t, err)

	_, err = mgr.loginOrFail(context.Background(), dashboardPage(), AllowInteractive, KindExpired, nil)
	require.NoError(t, err)

	onDisk, err := st.Load("glovo")
	require.NoError(t, err)
	assert.Equal(t, stored.AccessToken, onDisk.AccessToken)
}

func TestEnsureReadySilentFailsWithoutSession(t *testing.T) {
	portal := &stubPortal{id: "glovo"}
	mgr, _ := newTestManager(t, portal, config.Credentials{Email: "e", Password: "p"})

	_, err := mgr.EnsureReady(context.Background(), dashboardPage(), SilentOnly)
	var serr *SessionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindNoSession, serr.Kind)
	assert.Equal(t, 0, portal.loginCalls, "silent mode must not attempt a login")
}

func TestEnsureReadySilentFailsWhenExpired(t *testing.T) {
	portal := &stubPortal{id: "glovo"}
	mgr, st := newTestManager(t, portal, config.Credentials{})
	storeSession(t, st, "glovo", time.Now().Add(-time.Hour))

	_, err := mgr.EnsureReady(context.Background(), dashboardPage(), SilentOnly)
	var serr *SessionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindExpired, serr.Kind)
}

func TestEnsureReadyInteractiveLogin(t *testing.T) {
	portal := &stubPortal{id: "glovo"}
	portal.extract = freshExtract(t, "glovo", time.Now().Add(3*time.Hour))
	mgr, st := newTestManager(t, portal, config.Credentials{Email: "op@example.com", Password: "secret"})
	pg := dashboardPage()

	r, err := mgr.EnsureReady(context.Background(), pg, AllowInteractive)
	require.NoError(t, err)
	assert.Equal(t, 1, portal.loginCalls)
	require.NotNil(t, r.Session)
	assert.False(t, r.Session.LastValidatedAt.IsZero())

	onDisk, err := st.Load("glovo")
	require.NoError(t, err)
	assert.Equal(t, "glovo", onDisk.PlatformID)
}

func TestEnsureReadyInteractiveWithoutCredentials(t *testing.T) {
	portal := &stubPortal{id: "glovo"}
	mgr, _ := newTestManager(t, portal, config.Credentials{})

	_, err := mgr.EnsureReady(context.Background(), dashboardPage(), AllowInteractive)
	var serr *SessionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindManualRequired, serr.Kind)
	assert.Equal(t, 0, portal.loginCalls)
}

func TestEnsureReadyCorruptSessionIsFatal(t *testing.T) {
	portal := &stubPortal{id: "glovo"}
	dir := t.TempDir()
	st, err := session.NewStore(dir)
	require.NoError(t, err)
	path := filepath.Join(dir, "glovo_session.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	mgr := NewManager(portal, st, session.Clock{Threshold: time.Minute}, config.Credentials{Email: "e", Password: "p"}, zerolog.Nop())
	_, err = mgr.EnsureReady(context.Background(), dashboardPage(), AllowInteractive)

	var serr *SessionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindCorruptData, serr.Kind)
	assert.True(t, errors.Is(err, session.ErrCorruptData))
	assert.Equal(t, 0, portal.loginCalls, "corrupt data must never be papered over with a re-login")

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "corrupt file must be left in place for inspection")
}

func TestEnsureReadyBlockedClearsCookiesOnce(t *testing.T) {
	portal := &stubPortal{id: "glovo"}
	mgr, st := newTestManager(t, portal, config.Credentials{})
	storeSession(t, st, "glovo", time.Now().Add(2*time.Hour))

	// 403 until cookies are cleared, then the dashboard renders.
	pg := &stubPage{status: 403}
	pg.visibleNow = func() map[string]bool {
		if pg.cleared > 0 {
			pg.status = 200
			return map[string]bool{"#dash": true}
		}
		return nil
	}

	r, err := mgr.EnsureReady(context.Background(), pg, SilentOnly)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 1, pg.cleared)
}

func TestEnsureReadyBlockedTwiceIsManual(t *testing.T) {
	portal := &stubPortal{id: "glovo"}
	mgr, st := newTestManager(t, portal, config.Credentials{})
	storeSession(t, st, "glovo", time.Now().Add(2*time.Hour))

	pg := &stubPage{status: 403}

	_, err := mgr.EnsureReady(context.Background(), pg, SilentOnly)
	var serr *SessionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindManualRequired, serr.Kind)
	assert.Equal(t, 1, pg.cleared, "only one cookie reset per attempt")
}

func TestEnsureReadyInteractiveChallengeIsManual(t *testing.T) {
	portal := &stubPortal{id: "glovo"}
	mgr, st := newTestManager(t, portal, config.Credentials{Email: "e", Password: "p"})
	storeSession(t, st, "glovo", time.Now().Add(2*time.Hour))

	pg := &stubPage{
		visibleNow: func() map[string]bool { return map[string]bool{"#px": true} },
	}

	_, err := mgr.EnsureReady(context.Background(), pg, AllowInteractive)
	var serr *SessionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindManualRequired, serr.Kind)
	assert.Equal(t, 0, portal.loginCalls, "press-and-hold must never be automated over")
}

func TestCurrentStates(t *testing.T) {
	portal := &stubPortal{id: "glovo"}
	mgr, st := newTestManager(t, portal, config.Credentials{})

	state, _, err := mgr.Current()
	require.NoError(t, err)
	assert.Equal(t, StateNoSession, state)

	storeSession(t, st, "glovo", time.Now().Add(2*time.Hour))
	state, _, err = mgr.Current()
	require.NoError(t, err)
	assert.Equal(t, StateValid, state)

	storeSession(t, st, "glovo", time.Now().Add(10*time.Minute))
	state, _, err = mgr.Current()
	require.NoError(t, err)
	assert.Equal(t, StateNeedsRefresh, state)

	storeSession(t, st, "glovo", time.Now().Add(-time.Minute))
	state, _, err = mgr.Current()
	require.NoError(t, err)
	assert.Equal(t, StateExpired, state)
}

func TestCacheEntitiesUpdatesStoreAndReadyContext(t *testing.T) {
	portal := &stubPortal{id: "glovo"}
	mgr, st := newTestManager(t, portal, config.Credentials{})
	storeSession(t, st, "glovo", time.Now().Add(2*time.Hour))

	r, err := mgr.EnsureReady(context.Background(), dashboardPage(), SilentOnly)
	require.NoError(t, err)

	entities := []session.Entity{{ID: "GV_IT;890642", Name: "Store 890642"}}
	require.NoError(t, mgr.CacheEntities(entities))

	assert.Equal(t, entities, r.Session.EntityCache)
	onDisk, err := st.Load("glovo")
	require.NoError(t, err)
	assert.Equal(t, entities, onDisk.EntityCache)
}
