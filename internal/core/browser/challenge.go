package browser

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ChallengeHandler attempts best-effort dismissal of known interstitials:
// consent modals, tax-compliance modals, announcement popups. It never
// guarantees success and never touches interactive press-and-hold
// challenges: those were attempted extensively in the past, failed against
// automation detection every time, and are a documented non-goal.
type ChallengeHandler struct {
	Detector *Detector
	// HideSelectors are containers of non-closable compliance modals that
	// can only be removed from the DOM outright.
	HideSelectors []string
	// AcceptSelectors are direct CSS selectors of accept/close controls.
	AcceptSelectors []string
	// AcceptLabels are visible button texts across configured locales.
	AcceptLabels []string
	Log          zerolog.Logger
}

// AttemptDismiss runs dismissal strategies in order, re-checking the
// detector after each, and stops at the first one that clears the page.
// Returns true when the page classifies as OK (or no challenge remains),
// false when still blocked or when the challenge is interactive.
func (h *ChallengeHandler) AttemptDismiss(ctx context.Context, pg Page) (bool, error) {
	sig, err := h.Detector.Snapshot(ctx, pg)
	if err != nil {
		return false, err
	}
	if h.Detector.Classify(sig) != ClassChallenge {
		return true, nil
	}
	if h.Detector.InteractiveChallenge(sig) {
		h.Log.Warn().Msg("interactive press-and-hold challenge present, manual intervention required")
		return false, nil
	}

	strategies := []struct {
		name string
		run  func(context.Context, Page) error
	}{
		{"hide containers", h.hideContainers},
		{"keyboard escape", h.keyboardEscape},
		{"click accept controls", h.clickAccept},
	}

	for _, s := range strategies {
		if err := s.run(ctx, pg); err != nil {
			h.Log.Debug().Err(err).Str("strategy", s.name).Msg("dismiss strategy failed")
			continue
		}
		// Give the portal a beat to react before re-checking.
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		class, err := h.Detector.Check(ctx, pg)
		if err != nil {
			return false, err
		}
		if class != ClassChallenge {
			h.Log.Info().Str("strategy", s.name).Msg("challenge dismissed")
			return true, nil
		}
	}

	h.Log.Warn().Msg("challenge could not be dismissed")
	return false, nil
}

func (h *ChallengeHandler) hideContainers(ctx context.Context, pg Page) error {
	total := 0
	for _, sel := range h.HideSelectors {
		n, err := pg.HideAll(ctx, sel)
		if err != nil {
			return err
		}
		total += n
	}
	h.Log.Debug().Int("removed", total).Msg("modal containers removed")
	return nil
}

func (h *ChallengeHandler) keyboardEscape(ctx context.Context, pg Page) error {
	return pg.PressEscape(ctx)
}

func (h *ChallengeHandler) clickAccept(ctx context.Context, pg Page) error {
	for _, sel := range h.AcceptSelectors {
		if !pg.IsVisible(ctx, sel) {
			continue
		}
		// ForceClick: consent frameworks love interposing transparent
		// overlays that swallow regular clicks.
		if err := pg.ForceClick(ctx, sel); err == nil {
			return nil
		}
	}
	if len(h.AcceptLabels) > 0 {
		if err := pg.ClickByText(ctx, "button", h.AcceptLabels); err == nil {
			return nil
		}
	}
	return nil
}
