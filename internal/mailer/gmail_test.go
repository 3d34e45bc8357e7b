package mailer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ryosukesatoh/news-digest/internal/credential"
	"github.com/ryosukesatoh/news-digest/internal/retry"
)

func newTestGmailTransport(ts *httptest.Server) *GmailTransport {
	tr := NewGmailTransport(time.Second)
	tr.endpoint = ts.URL + "/"
	tr.base = ts.Client()
	return tr
}

func TestGmailTransportSend(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/gmail/v1/users/me/messages/send" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer a1" {
			t.Errorf("Expected bearer token, got %q", got)
		}

		var body struct {
			Raw string `json:"raw"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad request body: %v", err)
			return
		}
		raw, err := base64.URLEncoding.DecodeString(body.Raw)
		if err != nil {
			t.Errorf("raw is not base64url: %v", err)
			return
		}
		if !strings.Contains(string(raw), "Subject: Hello\r\n") {
			t.Errorf("Expected message to be forwarded verbatim, got %q", raw)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"18d2c3a4b5","threadId":"18d2c3a4b5","labelIds":["SENT"]}`))
	}))
	defer ts.Close()

	id, err := newTestGmailTransport(ts).Send(context.Background(),
		&credential.Credential{AccessToken: "a1", TokenType: "Bearer"},
		[]byte("To: <a@example.com>\r\nSubject: Hello\r\n\r\nbody\r\n"))
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if id != "18d2c3a4b5" {
		t.Errorf("Expected provider id, got %q", id)
	}
}

func TestGmailTransportErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   error
		transient bool
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAuthRejected, false},
		{"bad request", http.StatusBadRequest, ErrDeliveryFailed, false},
		{"forbidden", http.StatusForbidden, ErrDeliveryFailed, false},
		{"server error", http.StatusInternalServerError, ErrDeliveryFailed, true},
		{"rate limited", http.StatusTooManyRequests, ErrDeliveryFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprintf(w, `{"error":{"code":%d,"message":"nope"}}`, tt.status)
			}))
			defer ts.Close()

			_, err := newTestGmailTransport(ts).Send(context.Background(),
				&credential.Credential{AccessToken: "a1"}, []byte("x"))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got: %v", tt.wantErr, err)
			}
			if retry.IsTransient(err) != tt.transient {
				t.Errorf("Expected transient=%v, got %v", tt.transient, retry.IsTransient(err))
			}
		})
	}
}

func TestGmailTransportMissingCredential(t *testing.T) {
	_, err := NewGmailTransport(time.Second).Send(context.Background(), nil, []byte("x"))
	if !errors.Is(err, ErrAuthRejected) {
		t.Errorf("Expected ErrAuthRejected, got: %v", err)
	}
}

func TestMailerGmailServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"code":503,"message":"backend unavailable"}}`))
			return
		}
		w.Write([]byte(`{"id":"18d2c3a4b6"}`))
	}))
	defer ts.Close()

	creds := &fakeCreds{cred: &credential.Credential{AccessToken: "a1"}}
	m := NewMailer(creds, newTestGmailTransport(ts), "me", fastRetry)

	id, err := m.Send(context.Background(), testDigest(), []string{"a@example.com"})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if id != "18d2c3a4b6" {
		t.Errorf("Expected provider id, got %q", id)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 requests, got %d", calls.Load())
	}
}
