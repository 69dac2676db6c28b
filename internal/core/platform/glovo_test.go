package platform

import (
	"net/url"
	"testing"

	"github.com/giacomodamario/deliverydash/internal/core/session"
)

func encodedVendors(t *testing.T, raw string) string {
	t.Helper()
	return url.QueryEscape(raw)
}

func TestDecodeSelectedVendors(t *testing.T) {
	raw := `{"selectedVendorIds":["GV_IT;890642","GV_IT;912004"],"currentVendorId":"GV_IT;890642"}`
	sv, err := decodeSelectedVendors(encodedVendors(t, raw))
	if err != nil {
		t.Fatalf("decodeSelectedVendors: %v", err)
	}
	if len(sv.SelectedVendorIDs) != 2 {
		t.Fatalf("got %d vendor ids, want 2", len(sv.SelectedVendorIDs))
	}
	if sv.CurrentVendorID != "GV_IT;890642" {
		t.Errorf("CurrentVendorID = %q", sv.CurrentVendorID)
	}
}

func TestDecodeSelectedVendorsBadInput(t *testing.T) {
	for _, raw := range []string{
		"%zz",                        // invalid escape
		url.QueryEscape("not json"),  // valid escape, broken payload
		url.QueryEscape(`["a","b"]`), // wrong shape
	} {
		if _, err := decodeSelectedVendors(raw); err == nil {
			t.Errorf("decodeSelectedVendors(%q): expected error", raw)
		}
	}
}

func TestVendorDisplayName(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"GV_IT;890642", "Store 890642"},
		{"GV_ES;12", "Store 12"},
		{"bare-id", "bare-id"},
	}
	for _, tt := range tests {
		if got := vendorDisplayName(tt.id); got != tt.want {
			t.Errorf("vendorDisplayName(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestEntitiesFromCookies(t *testing.T) {
	g := NewGlovo(nil)
	raw := `{"selectedVendorIds":["GV_IT;890642","GV_IT;912004"],"currentVendorId":"GV_IT;912004"}`
	cookies := []session.Cookie{
		{Name: "accessToken", Value: "tok"},
		{Name: "selectedVendors", Value: encodedVendors(t, raw)},
	}

	entities := g.entitiesFromCookies(cookies)
	if len(entities) != 2 {
		t.Fatalf("got %d entities, want 2", len(entities))
	}
	if entities[0].ID != "GV_IT;890642" || entities[0].Name != "Store 890642" {
		t.Errorf("entities[0] = %+v", entities[0])
	}
	if entities[1].ID != "GV_IT;912004" || entities[1].Name != "Store 912004" {
		t.Errorf("entities[1] = %+v", entities[1])
	}
}

func TestEntitiesFromCookiesMissingOrBroken(t *testing.T) {
	g := NewGlovo(nil)
	if got := g.entitiesFromCookies([]session.Cookie{{Name: "accessToken", Value: "tok"}}); got != nil {
		t.Errorf("no selectedVendors cookie: got %+v, want nil", got)
	}
	broken := []session.Cookie{{Name: "selectedVendors", Value: "%zz"}}
	if got := g.entitiesFromCookies(broken); got != nil {
		t.Errorf("broken cookie: got %+v, want nil", got)
	}
}
