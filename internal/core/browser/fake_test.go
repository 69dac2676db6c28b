package browser

import (
	"context"
	"errors"
	"strings"

	"github.com/giacomodamario/deliverydash/internal/core/session"
)

// fakePage is an in-memory Page for detector and challenge tests.
type fakePage struct {
	html    string
	visible map[string]bool
	status  int
	url     string
	cookies []session.Cookie

	hidden      []string
	escPressed  int
	clicked     []string
	forceClicks []string
	textClicks  []string

	// afterDismiss, when set, becomes the page state after any dismissal
	// action succeeds.
	afterDismiss func(p *fakePage)
}

func newFakePage() *fakePage {
	return &fakePage{visible: map[string]bool{}}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error { p.url = url; return nil }
func (p *fakePage) LastStatus() int                                { return p.status }
func (p *fakePage) URL(ctx context.Context) (string, error)        { return p.url, nil }
func (p *fakePage) HTML(ctx context.Context) (string, error)       { return p.html, nil }
func (p *fakePage) IsVisible(ctx context.Context, sel string) bool { return p.visible[sel] }

func (p *fakePage) Click(ctx context.Context, sel string) error {
	if !p.visible[sel] {
		return errors.New("not visible: " + sel)
	}
	p.clicked = append(p.clicked, sel)
	p.dismissed()
	return nil
}

func (p *fakePage) ForceClick(ctx context.Context, sel string) error {
	p.forceClicks = append(p.forceClicks, sel)
	p.dismissed()
	return nil
}

func (p *fakePage) ClickByText(ctx context.Context, tag string, labels []string) error {
	p.textClicks = append(p.textClicks, tag+":"+strings.Join(labels, ","))
	p.dismissed()
	return nil
}

func (p *fakePage) Fill(ctx context.Context, sel, value string) error { return nil }

func (p *fakePage) PressEscape(ctx context.Context) error {
	p.escPressed++
	return nil
}

func (p *fakePage) HideAll(ctx context.Context, sel string) (int, error) {
	p.hidden = append(p.hidden, sel)
	if p.visible[sel] {
		p.visible[sel] = false
		p.dismissed()
		return 1, nil
	}
	return 0, nil
}

func (p *fakePage) WaitVisible(ctx context.Context, sel string) error { return nil }

func (p *fakePage) TextAll(ctx context.Context, sel string) ([]string, error) { return nil, nil }
func (p *fakePage) AttrAll(ctx context.Context, sel, attr string) ([]string, error) {
	return nil, nil
}
func (p *fakePage) SelectOption(ctx context.Context, sel, value string) error { return nil }

func (p *fakePage) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	p.cookies = append(p.cookies, cookies...)
	return nil
}

func (p *fakePage) Cookies(ctx context.Context) ([]session.Cookie, error) {
	return p.cookies, nil
}

func (p *fakePage) ClearCookies(ctx context.Context) error {
	p.cookies = nil
	return nil
}

func (p *fakePage) Download(ctx context.Context, sel string) (string, error) {
	return "", errors.New("no downloads in fake")
}

func (p *fakePage) dismissed() {
	if p.afterDismiss != nil {
		fn := p.afterDismiss
		p.afterDismiss = nil
		fn(p)
	}
}

var _ Page = (*fakePage)(nil)
