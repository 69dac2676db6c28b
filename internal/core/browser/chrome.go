package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/giacomodamario/deliverydash/internal/core/session"
)

// Options configures a Chrome instance.
type Options struct {
	Headless    bool
	DownloadDir string
	// NavTimeout bounds each individual navigation or wait.
	NavTimeout time.Duration
	UserAgent  string
	Logger     zerolog.Logger
}

// Chrome drives a single headless Chrome tab via the DevTools protocol.
// The tab is a stateful shared resource: callers must not use one Chrome
// from multiple goroutines.
type Chrome struct {
	ctx        context.Context
	cancel     context.CancelFunc
	allocStop  context.CancelFunc
	opts       Options
	lastStatus int
	log        zerolog.Logger
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// New launches a browser with anti-automation-hostile defaults off
// (no automation banner, no sandbox for container use) and download
// behaviour routed to opts.DownloadDir.
func New(opts Options) (*Chrome, error) {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.DownloadDir != "" {
		if err := os.MkdirAll(opts.DownloadDir, 0o755); err != nil {
			return nil, fmt.Errorf("create download dir: %w", err)
		}
	}

	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.UserAgent(opts.UserAgent),
	)

	allocCtx, allocStop := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	c := &Chrome{
		ctx:       browserCtx,
		cancel:    cancel,
		allocStop: allocStop,
		opts:      opts,
		log:       opts.Logger.With().Str("component", "browser").Logger(),
	}

	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		c.Close()
		return nil, fmt.Errorf("enable network domain: %w", err)
	}
	if opts.DownloadDir != "" {
		err := chromedp.Run(browserCtx,
			cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
				WithDownloadPath(opts.DownloadDir))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("set download behavior: %w", err)
		}
	}

	// Record main-frame response statuses so BlockDetector can see a 403
	// without a second request.
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		if resp, ok := ev.(*network.EventResponseReceived); ok {
			if resp.Type == network.ResourceTypeDocument {
				c.lastStatus = int(resp.Response.Status)
			}
		}
	})

	return c, nil
}

// Close shuts the browser down.
func (c *Chrome) Close() {
	c.cancel()
	c.allocStop()
}

// run executes actions with the per-operation timeout applied on top of the
// caller's context.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	bounded, cancel := context.WithTimeout(c.ctx, c.opts.NavTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(bounded, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	c.lastStatus = 0
	err := c.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (c *Chrome) LastStatus() int { return c.lastStatus }

func (c *Chrome) URL(ctx context.Context) (string, error) {
	var url string
	if err := c.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (c *Chrome) HTML(ctx context.Context) (string, error) {
	var html string
	if err := c.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (c *Chrome) IsVisible(ctx context.Context, selector string) bool {
	var visible bool
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	})()`, selector)
	short, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.run(short, chromedp.Evaluate(script, &visible)); err != nil {
		return false
	}
	return visible
}

func (c *Chrome) Click(ctx context.Context, selector string) error {
	return c.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (c *Chrome) ForceClick(ctx context.Context, selector string) error {
	var clicked bool
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.click();
		return true;
	})()`, selector)
	if err := c.run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("no element matches %q", selector)
	}
	return nil
}

func (c *Chrome) ClickByText(ctx context.Context, tag string, labels []string) error {
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = fmt.Sprintf("%q", strings.ToLower(l))
	}
	script := fmt.Sprintf(`(() => {
		const labels = [%s];
		for (const el of document.querySelectorAll(%q)) {
			const text = (el.textContent || "").trim().toLowerCase();
			if (labels.includes(text)) { el.click(); return true; }
		}
		return false;
	})()`, strings.Join(quoted, ","), tag)
	var clicked bool
	if err := c.run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("no %s with labels %v", tag, labels)
	}
	return nil
}

func (c *Chrome) Fill(ctx context.Context, selector, value string) error {
	return c.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (c *Chrome) PressEscape(ctx context.Context) error {
	return c.run(ctx, input.DispatchKeyEvent(input.KeyDown).
		WithKey("Escape").WithCode("Escape").WithWindowsVirtualKeyCode(27))
}

func (c *Chrome) HideAll(ctx context.Context, selector string) (int, error) {
	var removed int
	script := fmt.Sprintf(`(() => {
		const els = document.querySelectorAll(%q);
		els.forEach(el => el.remove());
		document.body.style.overflow = "auto";
		return els.length;
	})()`, selector)
	if err := c.run(ctx, chromedp.Evaluate(script, &removed)); err != nil {
		return 0, err
	}
	return removed, nil
}

func (c *Chrome) WaitVisible(ctx context.Context, selector string) error {
	return c.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (c *Chrome) TextAll(ctx context.Context, selector string) ([]string, error) {
	var out []string
	script := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(el => (el.textContent || "").trim())`,
		selector)
	if err := c.run(ctx, chromedp.Evaluate(script, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Chrome) AttrAll(ctx context.Context, selector, attr string) ([]string, error) {
	var out []string
	script := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(el => el.getAttribute(%q) || "")`,
		selector, attr)
	if err := c.run(ctx, chromedp.Evaluate(script, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Chrome) SelectOption(ctx context.Context, selector, value string) error {
	var ok bool
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.value = %q;
		el.dispatchEvent(new Event("change", { bubbles: true }));
		return true;
	})()`, selector, value)
	if err := c.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no element matches %q", selector)
	}
	return nil
}

func (c *Chrome) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ck := range cookies {
			p := network.SetCookie(ck.Name, ck.Value).
				WithDomain(ck.Domain).
				WithPath(ck.Path).
				WithSecure(ck.Secure).
				WithHTTPOnly(ck.HTTPOnly)
			if ck.Expires > 0 {
				t := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
				p = p.WithExpires(&t)
			}
			if err := p.Do(ctx); err != nil {
				c.log.Warn().Err(err).Str("cookie", ck.Name).Msg("cookie injection failed")
			}
		}
		return nil
	}))
}

func (c *Chrome) Cookies(ctx context.Context) ([]session.Cookie, error) {
	var out []session.Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, ck := range cookies {
			out = append(out, session.Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Expires:  ck.Expires,
				HTTPOnly: ck.HTTPOnly,
				Secure:   ck.Secure,
				SameSite: string(ck.SameSite),
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	return out, nil
}

func (c *Chrome) ClearCookies(ctx context.Context) error {
	return c.run(ctx, network.ClearBrowserCookies())
}

// Download clicks the selector and waits for a new, fully written file to
// appear in the download directory. Chrome writes .crdownload files while a
// transfer is in flight; the download is done when none remain and a file
// newer than the click exists.
func (c *Chrome) Download(ctx context.Context, selector string) (string, error) {
	if c.opts.DownloadDir == "" {
		return "", errors.New("no download dir configured")
	}
	before, err := dirEntries(c.opts.DownloadDir)
	if err != nil {
		return "", err
	}

	if err := c.Click(ctx, selector); err != nil {
		// Some portals put the trigger behind an overlay.
		if err := c.ForceClick(ctx, selector); err != nil {
			return "", fmt.Errorf("click download trigger: %w", err)
		}
	}

	deadline := time.Now().Add(c.opts.NavTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		after, err := dirEntries(c.opts.DownloadDir)
		if err != nil {
			return "", err
		}
		for name := range after {
			if before[name] {
				continue
			}
			if strings.HasSuffix(name, ".crdownload") || strings.HasSuffix(name, ".tmp") {
				continue
			}
			return filepath.Join(c.opts.DownloadDir, name), nil
		}
	}
	return "", fmt.Errorf("download did not complete within %s", c.opts.NavTimeout)
}

func dirEntries(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read download dir: %w", err)
	}
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out[e.Name()] = true
		}
	}
	return out, nil
}

var _ Page = (*Chrome)(nil)
