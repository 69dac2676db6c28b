package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func capture(t *testing.T) (*Notifier, *[]payload) {
	t.Helper()
	var received []payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		var p payload
		if err := json.Unmarshal(body, &p); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		received = append(received, p)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, zerolog.Nop()), &received
}

func TestSyncSuccess(t *testing.T) {
	n, received := capture(t)
	n.SyncSuccess(context.Background(), "glovo", "2025-07-01..2025-07-31", 3, 5, 42, 90*time.Second)

	if len(*received) != 1 {
		t.Fatalf("got %d payloads, want 1", len(*received))
	}
	att := (*received)[0].Attachments[0]
	if att.Color != colorOK {
		t.Errorf("color = %s", att.Color)
	}
	for _, want := range []string{"glovo", "2025-07-01..2025-07-31", "*Files downloaded:* 5", "*Orders imported:* 42", "90.0s"} {
		if !strings.Contains(att.Text, want) {
			t.Errorf("text missing %q:\n%s", want, att.Text)
		}
	}
}

func TestSyncFailure(t *testing.T) {
	n, received := capture(t)
	n.SyncFailure(context.Background(), "deliveroo", "download", "export timed out")

	if len(*received) != 1 {
		t.Fatalf("got %d payloads, want 1", len(*received))
	}
	att := (*received)[0].Attachments[0]
	if att.Color != colorError {
		t.Errorf("color = %s", att.Color)
	}
	if !strings.Contains(att.Text, "export timed out") || !strings.Contains(att.Text, "*Stage:* download") {
		t.Errorf("text = %s", att.Text)
	}
}

func TestReauthNeededPointsAtLoginCommand(t *testing.T) {
	n, received := capture(t)
	n.ReauthNeeded(context.Background(), "glovo", "session blocked twice")

	if len(*received) != 1 {
		t.Fatalf("got %d payloads, want 1", len(*received))
	}
	att := (*received)[0].Attachments[0]
	if !strings.Contains(att.Title, "glovo") {
		t.Errorf("title = %s", att.Title)
	}
	if !strings.Contains(att.Text, "deliverydash login glovo") {
		t.Errorf("text must name the recovery command:\n%s", att.Text)
	}
}

func TestEmptyWebhookIsNoOp(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	n := New("", zerolog.Nop())
	n.SyncSuccess(context.Background(), "glovo", "w", 1, 1, 1, time.Second)
	n.SyncFailure(context.Background(), "glovo", "s", "e")
	n.ReauthNeeded(context.Background(), "glovo", "r")

	if calls != 0 {
		t.Errorf("unconfigured notifier made %d requests", calls)
	}
}

func TestRejectedWebhookDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no_service", http.StatusGone)
	}))
	defer srv.Close()

	n := New(srv.URL, zerolog.Nop())
	n.SyncFailure(context.Background(), "glovo", "s", "e")
}
