package session

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"
)

func validSession() *Session {
	return &Session{
		PlatformID:  "glovo",
		AccessToken: "tok",
		IssuedAt:    time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
		Cookies: []Cookie{
			{Name: "accessToken", Value: "tok", Domain: "portal.glovoapp.com"},
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	st, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	want := validSession()
	if err := st.Save("glovo", want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := st.Load("glovo")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.AccessToken != want.AccessToken {
		t.Errorf("AccessToken = %q, want %q", got.AccessToken, want.AccessToken)
	}
	if len(got.Cookies) != 1 || got.Cookies[0].Name != "accessToken" {
		t.Errorf("cookies not preserved: %+v", got.Cookies)
	}
}

func TestStoreFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no unix permissions on windows")
	}
	dir := t.TempDir()
	st, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Save("glovo", validSession()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(filepath.Join(dir, "glovo_session.json"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("session file mode = %o, want 600", perm)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	st, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Load("deliveroo"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load missing = %v, want ErrNotFound", err)
	}
}

func TestStoreLoadCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"garbage", "{not json"},
		{"valid json invalid session", `{"platform_id": ""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			st, err := NewStore(dir)
			if err != nil {
				t.Fatal(err)
			}
			path := filepath.Join(dir, "glovo_session.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}

			_, err = st.Load("glovo")
			if !errors.Is(err, ErrCorruptData) {
				t.Errorf("Load corrupt = %v, want ErrCorruptData", err)
			}
			if errors.Is(err, ErrNotFound) {
				t.Error("corrupt must not look like not-found")
			}
			// The corrupt file must survive for inspection.
			if _, statErr := os.Stat(path); statErr != nil {
				t.Errorf("corrupt file was removed: %v", statErr)
			}
		})
	}
}

func TestStoreSaveRejectsInvalid(t *testing.T) {
	st, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Save("glovo", &Session{}); err == nil {
		t.Error("Save accepted an invalid session")
	}
}

func TestStoreUpdateCreatesOnFirstWrite(t *testing.T) {
	st, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	got, err := st.Update("glovo", func(s *Session) error {
		*s = *validSession()
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.PlatformID != "glovo" {
		t.Errorf("PlatformID = %q", got.PlatformID)
	}
}

// Concurrent Update calls must serialize: every writer's cookie lands in
// the final file, no lost updates.
func TestStoreUpdateConcurrent(t *testing.T) {
	st, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Save("glovo", validSession()); err != nil {
		t.Fatal(err)
	}

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := st.Update("glovo", func(s *Session) error {
				s.SetCookie(Cookie{Name: cookieName(n), Value: "v"})
				return nil
			})
			if err != nil {
				t.Errorf("Update %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := st.Load("glovo")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < writers; i++ {
		if got.Cookie(cookieName(i)) == "" {
			t.Errorf("cookie %s lost to a concurrent write", cookieName(i))
		}
	}
}

func cookieName(n int) string {
	return "c" + string(rune('a'+n))
}

func TestStoreCrashMidSaveKeepsPreviousSession(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := validSession()
	if err := st.Save("glovo", want); err != nil {
		t.Fatal(err)
	}

	// A writer that died between temp-write and rename leaves a partial
	// temp file behind. It must never shadow the last good session.
	partial := filepath.Join(dir, ".session_crash.tmp")
	if err := os.WriteFile(partial, []byte(`{"platform_id":"glovo","access_`), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := st.Load("glovo")
	if err != nil {
		t.Fatalf("Load after abandoned temp file: %v", err)
	}
	if got.AccessToken != want.AccessToken {
		t.Errorf("AccessToken = %q, want %q", got.AccessToken, want.AccessToken)
	}
}

func TestStoreCrashBeforeFirstSaveIsNotFound(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	partial := filepath.Join(dir, ".session_crash.tmp")
	if err := os.WriteFile(partial, []byte(`{"plat`), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := st.Load("glovo"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound: a dead first save is no session at all", err)
	}
}
