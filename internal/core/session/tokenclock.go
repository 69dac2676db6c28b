package session

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Clock decides token freshness from the access token's own expiry claim.
// Expiry is always re-derived from the token, never trusted from a cached
// field: clock skew and portal-side token policy changes are expected.
type Clock struct {
	// Threshold under which a still-valid token should be refreshed.
	Threshold time.Duration
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (c Clock) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// ExpiryOf returns the expiry of the session's access token. The JWT exp
// claim wins; the persisted ExpiresAt field is a fallback for cookie-only
// sessions without a JWT. A zero time means expiry cannot be determined.
func ExpiryOf(s *Session) time.Time {
	if s == nil {
		return time.Time{}
	}
	if s.AccessToken != "" {
		if exp, ok := decodeExpiry(s.AccessToken); ok {
			return exp
		}
		// Token present but undecodable: fail safe toward re-auth rather
		// than silently reusing a token of unknown validity.
		return time.Time{}
	}
	return s.ExpiresAt
}

// decodeExpiry extracts the exp claim without verifying the signature.
// Verification is the portal's job; we only need the embedded lifetime.
func decodeExpiry(token string) (time.Time, bool) {
	parsed, _, err := jwtlib.NewParser().ParseUnverified(token, jwtlib.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return time.Time{}, false
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(exp), 0), true
}

// RemainingMinutes returns minutes until the token expires. Negative when
// already expired or when expiry cannot be determined.
func (c Clock) RemainingMinutes(s *Session) float64 {
	exp := ExpiryOf(s)
	if exp.IsZero() {
		return -1
	}
	return exp.Sub(c.now()).Minutes()
}

// ShouldRefresh reports whether the token is inside the refresh threshold.
func (c Clock) ShouldRefresh(s *Session) bool {
	return c.RemainingMinutes(s) < c.Threshold.Minutes()
}

// IsExpired reports whether the token is already unusable. An undecodable
// token counts as expired.
func (c Clock) IsExpired(s *Session) bool {
	return c.RemainingMinutes(s) <= 0
}
