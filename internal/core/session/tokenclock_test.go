package session

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "partner",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestExpiryOfPrefersTokenClaim(t *testing.T) {
	tokenExp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	s := &Session{
		PlatformID:  "glovo",
		AccessToken: signedToken(t, tokenExp),
		// Stale persisted field: the token claim must win.
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
	}
	if got := ExpiryOf(s); !got.Equal(tokenExp) {
		t.Errorf("ExpiryOf = %v, want token exp %v", got, tokenExp)
	}
}

func TestExpiryOfUndecodableTokenFailsSafe(t *testing.T) {
	s := &Session{
		PlatformID:  "glovo",
		AccessToken: "not-a-jwt",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	if got := ExpiryOf(s); !got.IsZero() {
		t.Errorf("ExpiryOf undecodable token = %v, want zero", got)
	}
	clock := Clock{Threshold: 30 * time.Minute}
	if !clock.IsExpired(s) {
		t.Error("undecodable token must count as expired")
	}
}

func TestExpiryOfCookieOnlyFallback(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	s := &Session{
		PlatformID: "deliveroo",
		Cookies:    []Cookie{{Name: "roo_session", Value: "x"}},
		ExpiresAt:  exp,
	}
	if got := ExpiryOf(s); !got.Equal(exp) {
		t.Errorf("ExpiryOf = %v, want %v", got, exp)
	}
}

func TestClockThresholds(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := Clock{
		Threshold: 30 * time.Minute,
		Now:       func() time.Time { return now },
	}

	tests := []struct {
		name      string
		expiresIn time.Duration
		refresh   bool
		expired   bool
	}{
		{"fresh", 2 * time.Hour, false, false},
		{"inside threshold", 29 * time.Minute, true, false},
		{"exactly expired", 0, true, true},
		{"past expiry", -10 * time.Minute, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{
				PlatformID:  "glovo",
				AccessToken: signedToken(t, now.Add(tt.expiresIn)),
			}
			if got := clock.ShouldRefresh(s); got != tt.refresh {
				t.Errorf("ShouldRefresh = %v, want %v", got, tt.refresh)
			}
			if got := clock.IsExpired(s); got != tt.expired {
				t.Errorf("IsExpired = %v, want %v", got, tt.expired)
			}
		})
	}
}

func TestRemainingMinutes(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := Clock{Now: func() time.Time { return now }}

	s := &Session{PlatformID: "glovo", AccessToken: signedToken(t, now.Add(45*time.Minute))}
	if got := clock.RemainingMinutes(s); got < 44.9 || got > 45.1 {
		t.Errorf("RemainingMinutes = %v, want ~45", got)
	}

	if got := clock.RemainingMinutes(&Session{PlatformID: "p"}); got != -1 {
		t.Errorf("RemainingMinutes without expiry = %v, want -1", got)
	}
}
