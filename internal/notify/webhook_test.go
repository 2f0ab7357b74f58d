package notify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/knolan10/BBHBot/internal/config"
	"github.com/knolan10/BBHBot/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotify_PostsFormattedMessage(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var url types.SecretString
	if err := url.Decode(server.URL); err != nil {
		t.Fatalf("failed to set webhook url: %v", err)
	}
	n := NewWebhookNotifier(server.Client(), config.NotifyConfig{
		WebhookURL: url,
		Timeout:    5 * time.Second,
	}, testLogger())

	n.Notify(context.Background(), "Triggered", "S250101ab plan 42 queued")

	if !strings.Contains(gotBody, "*Triggered*") {
		t.Errorf("expected subject in body, got %s", gotBody)
	}
	if !strings.Contains(gotBody, "S250101ab plan 42 queued") {
		t.Errorf("expected message text in body, got %s", gotBody)
	}
}

func TestNotify_DeliveryFailureDoesNotPanic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var url types.SecretString
	if err := url.Decode(server.URL); err != nil {
		t.Fatalf("failed to set webhook url: %v", err)
	}
	n := NewWebhookNotifier(server.Client(), config.NotifyConfig{
		WebhookURL: url,
		Timeout:    time.Second,
	}, testLogger())

	// Must swallow the error.
	n.Notify(context.Background(), "Attention", "pending plan needs manual review")
}
