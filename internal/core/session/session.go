// Package session holds the per-platform authentication bundle and its
// durable store. A session is the only thing that lets the bots act as a
// logged-in partner: tokens, cookies, and an opportunistically refreshed
// cache of the stores reachable under it.
package session

import (
	"errors"
	"time"
)

// Cookie is one browser cookie belonging to a session. Order is preserved
// as extracted from the browser so a restore replays them faithfully.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"` // Unix seconds, -1 = session cookie
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Entity is one store/business reachable under a session. Discovered, not
// owned: the session only caches the last-seen list.
type Entity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session is the authentication bundle for one platform.
type Session struct {
	PlatformID   string    `json:"platform_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	// ExpiresAt is persisted for human inspection and as a fallback for
	// non-JWT sessions. When the access token is a JWT, the freshly decoded
	// exp claim always wins over this field.
	ExpiresAt       time.Time `json:"expires_at"`
	Cookies         []Cookie  `json:"cookies"`
	EntityCache     []Entity  `json:"entities_cache,omitempty"`
	LastValidatedAt time.Time `json:"last_validated_at,omitempty"`
}

// Validate checks the session has the minimum to be usable.
func (s *Session) Validate() error {
	if s.PlatformID == "" {
		return errors.New("platform_id is required")
	}
	if s.AccessToken == "" && len(s.Cookies) == 0 {
		return errors.New("session has neither a token nor cookies")
	}
	return nil
}

// Cookie returns the value of a named cookie, or "" when absent.
func (s *Session) Cookie(name string) string {
	for _, c := range s.Cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// SetCookie replaces a cookie in place or appends it, preserving order.
func (s *Session) SetCookie(c Cookie) {
	for i := range s.Cookies {
		if s.Cookies[i].Name == c.Name && s.Cookies[i].Domain == c.Domain {
			s.Cookies[i] = c
			return
		}
	}
	s.Cookies = append(s.Cookies, c)
}

// CacheEntities stores the latest discovered entity list.
func (s *Session) CacheEntities(entities []Entity) {
	s.EntityCache = append([]Entity(nil), entities...)
}
