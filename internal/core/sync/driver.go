package sync

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/giacomodamario/deliverydash/internal/core/auth"
	"github.com/giacomodamario/deliverydash/internal/core/browser"
	"github.com/giacomodamario/deliverydash/internal/core/platform"
	"github.com/giacomodamario/deliverydash/internal/core/session"
)

// Authenticator is the slice of the session manager the driver needs.
type Authenticator interface {
	EnsureReady(ctx context.Context, pg browser.Page, mode auth.Mode) (*auth.Ready, error)
	Invalidate()
	Detector() *browser.Detector
	CacheEntities(entities []session.Entity) error
}

// Driver runs one sync across all entities of one platform. Entity failures
// are isolated: a store that errors out is retried, then recorded as failed,
// and the run moves on. Only two conditions end a run early: the deadline,
// and losing the session to a block that one re-authentication cannot fix.
type Driver struct {
	Portal platform.Portal
	Auth   Authenticator
	Mode   auth.Mode

	// Retries is extra attempts per entity after the first.
	Retries int
	Backoff time.Duration
	// Deadline bounds the whole run. Zero means unbounded.
	Deadline time.Duration

	// OnArtifact is invoked for every downloaded artifact, in order.
	OnArtifact func(platform.Artifact)

	Log zerolog.Logger
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (d *Driver) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Execute performs the run. The returned Run always accounts for every
// entity that was selected for syncing, whatever its outcome. A non-nil
// error means the run could not start at all.
func (d *Driver) Execute(ctx context.Context, pg browser.Page, w Window, only []string) (*Run, error) {
	run := newRun(d.Portal.ID(), w, d.now())
	defer func() { run.FinishedAt = d.now() }()

	if d.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Deadline)
		defer cancel()
	}

	ready, err := d.Auth.EnsureReady(ctx, pg, d.Mode)
	if err != nil {
		return run, err
	}

	listed, err := d.Portal.ListEntities(ctx, pg)
	if err != nil {
		// A stale listing beats no listing when the cache has one.
		if len(ready.Session.EntityCache) == 0 {
			return run, err
		}
		d.Log.Warn().Err(err).Msg("entity listing failed, using cached entities")
		listed = ready.Session.EntityCache
	}

	entities, anomaly := Enumerate(listed, ready.Session.EntityCache)
	if anomaly != "" {
		run.Anomaly = anomaly
		d.Log.Warn().Str("platform", run.PlatformID).Msg(anomaly)
	}
	if err := d.Auth.CacheEntities(entities); err != nil {
		d.Log.Warn().Err(err).Msg("could not cache entity listing")
	}

	entities, unknown := FilterEntities(entities, only)
	for _, id := range unknown {
		run.Results = append(run.Results, EntityResult{
			EntityID: id,
			Status:   StatusFailed,
			Reason:   "unknown_entity",
		})
	}

	// One mid-run re-authentication is allowed per run. A second block
	// means the portal is actively fighting this session; hammering it
	// with fresh logins makes the blocking worse.
	reauthUsed := false
	sessionLost := false

	for i, e := range entities {
		if sessionLost {
			run.Results = append(run.Results, EntityResult{
				EntityID: e.ID, EntityName: e.Name,
				Status: StatusFailed, Reason: ReasonSessionLost,
			})
			continue
		}
		if ctx.Err() != nil {
			d.Log.Warn().
				Str("platform", run.PlatformID).
				Int("remaining", len(entities)-i).
				Msg("run deadline reached")
			run.Results = append(run.Results, EntityResult{
				EntityID: e.ID, EntityName: e.Name,
				Status: StatusFailed, Reason: ReasonDeadline,
			})
			continue
		}

		res := d.syncEntity(ctx, pg, e, w, &reauthUsed, &sessionLost)
		run.Results = append(run.Results, res)
	}

	return run, nil
}

func (d *Driver) syncEntity(ctx context.Context, pg browser.Page, e session.Entity, w Window, reauthUsed, sessionLost *bool) EntityResult {
	res := EntityResult{EntityID: e.ID, EntityName: e.Name}
	log := d.Log.With().Str("entity", e.ID).Logger()

	for attempt := 0; attempt <= d.Retries; attempt++ {
		res.Attempts = attempt + 1
		if attempt > 0 {
			log.Info().Int("attempt", attempt+1).Msg("retrying entity")
			if err := sleepCtx(ctx, d.Backoff); err != nil {
				res.Status = failedOrPartial(res.Artifacts)
				res.Reason = ReasonDeadline
				return res
			}
		}

		artifacts, err := d.fetchOne(ctx, pg, e, w)
		res.Artifacts += len(artifacts)
		for _, a := range artifacts {
			if d.OnArtifact != nil {
				d.OnArtifact(a)
			}
		}
		if err == nil {
			res.Status = StatusOK
			log.Info().Int("artifacts", res.Artifacts).Msg("entity synced")
			return res
		}
		res.Err = err
		log.Warn().Err(err).Msg("entity attempt failed")

		if ctx.Err() != nil {
			res.Status = failedOrPartial(res.Artifacts)
			res.Reason = ReasonDeadline
			return res
		}

		// A block mid-run invalidates the whole browsing context, not
		// just this entity.
		if class, cerr := d.Auth.Detector().Check(ctx, pg); cerr == nil && class == browser.ClassBlocked {
			if *reauthUsed || !d.reauthenticate(ctx, pg, log) {
				*sessionLost = true
				res.Status = failedOrPartial(res.Artifacts)
				res.Reason = ReasonSessionLost
				return res
			}
			*reauthUsed = true
		}
	}

	res.Status = failedOrPartial(res.Artifacts)
	if res.Reason == "" && res.Err != nil {
		res.Reason = res.Err.Error()
	}
	return res
}

func (d *Driver) fetchOne(ctx context.Context, pg browser.Page, e session.Entity, w Window) ([]platform.Artifact, error) {
	if err := d.Portal.SelectEntity(ctx, pg, e.ID); err != nil {
		return nil, err
	}
	return d.Portal.FetchArtifacts(ctx, pg, e.ID, w.Start, w.End)
}

func (d *Driver) reauthenticate(ctx context.Context, pg browser.Page, log zerolog.Logger) bool {
	log.Warn().Msg("blocked mid-run, attempting one re-authentication")
	d.Auth.Invalidate()
	if _, err := d.Auth.EnsureReady(ctx, pg, d.Mode); err != nil {
		var serr *auth.SessionError
		if errors.As(err, &serr) {
			log.Error().Str("kind", serr.Kind.String()).Msg("re-authentication failed")
		} else {
			log.Error().Err(err).Msg("re-authentication failed")
		}
		return false
	}
	log.Info().Msg("re-authenticated, resuming run")
	return true
}

func failedOrPartial(artifacts int) EntityStatus {
	if artifacts > 0 {
		return StatusPartial
	}
	return StatusFailed
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
