package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/giacomodamario/deliverydash/internal/core/auth"
	"github.com/giacomodamario/deliverydash/internal/core/browser"
	"github.com/giacomodamario/deliverydash/internal/core/config"
	"github.com/giacomodamario/deliverydash/internal/core/logging"
	"github.com/giacomodamario/deliverydash/internal/core/platform"
	"github.com/giacomodamario/deliverydash/internal/core/session"
)

// app bundles the wiring every command needs.
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	store *session.Store
}

func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	store, err := session.NewStore(cfg.SessionsDir)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:   cfg,
		log:   logging.Setup(verbose),
		store: store,
	}, nil
}

// resolvePlatforms turns an optional positional argument into a platform
// list: a named platform, or all configured ones.
func resolvePlatforms(args []string) ([]string, error) {
	if len(args) == 0 {
		return config.Platforms, nil
	}
	for _, p := range config.Platforms {
		if args[0] == p {
			return []string{args[0]}, nil
		}
	}
	return nil, fmt.Errorf("unknown platform %q (have: %v)", args[0], config.Platforms)
}

func (a *app) clock() session.Clock {
	return session.Clock{Threshold: a.cfg.RefreshThreshold}
}

func (a *app) manager(platformID string) (*auth.Manager, platform.Portal, error) {
	portal, err := platform.ForID(platformID, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	log := a.log.With().Str("platform", platformID).Logger()
	mgr := auth.NewManager(portal, a.store, a.clock(), a.cfg.CredentialsFor(platformID), log)
	return mgr, portal, nil
}

// newPage opens a Chrome page downloading into the platform's directory.
// headless overrides the configured default (interactive login needs a
// visible window).
func (a *app) newPage(platformID string, headless bool) (browser.Page, func(), error) {
	chrome, err := browser.New(browser.Options{
		Headless:    headless,
		DownloadDir: a.cfg.PlatformDownloadsDir(platformID),
		NavTimeout:  a.cfg.NavTimeout,
		Logger:      a.log.With().Str("platform", platformID).Logger(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start browser: %w", err)
	}
	return chrome, chrome.Close, nil
}

// pageFactory adapts newPage to the daemon's factory shape.
func (a *app) pageFactory(platformID string) func(context.Context) (browser.Page, func(), error) {
	return func(context.Context) (browser.Page, func(), error) {
		return a.newPage(platformID, a.cfg.Headless)
	}
}
