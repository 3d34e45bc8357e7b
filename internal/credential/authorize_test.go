package credential

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// browserVisit simulates the user completing consent by hitting the redirect URI.
func browserVisit(t *testing.T, query func(state string) url.Values) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
			t.Errorf("Expected PKCE challenge in consent URL, got %s", authURL)
		}
		if q.Get("access_type") != "offline" {
			t.Errorf("Expected offline access, got %q", q.Get("access_type"))
		}
		callback := q.Get("redirect_uri") + "?" + query(q.Get("state")).Encode()
		go func() {
			resp, err := http.Get(callback)
			if err != nil {
				t.Errorf("callback request failed: %v", err)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
		return nil
	}
}

func TestLocalServerAuthorizer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("grant_type") != "authorization_code" {
			t.Errorf("Expected authorization_code grant, got %q", r.Form.Get("grant_type"))
		}
		if r.Form.Get("code") != "the-code" {
			t.Errorf("Expected code the-code, got %q", r.Form.Get("code"))
		}
		if r.Form.Get("code_verifier") == "" {
			t.Error("Expected PKCE verifier in exchange")
		}
		if !strings.HasPrefix(r.Form.Get("redirect_uri"), "http://localhost:") {
			t.Errorf("Expected loopback redirect, got %q", r.Form.Get("redirect_uri"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"a1","token_type":"Bearer","refresh_token":"r1","expires_in":3600}`))
	}))
	defer ts.Close()

	a := NewLocalServerAuthorizer(testOAuthConfig(ts.URL), 0, time.Second)
	a.out = io.Discard
	a.openBrowser = browserVisit(t, func(state string) url.Values {
		return url.Values{"code": {"the-code"}, "state": {state}}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cred, err := a.Authorize(ctx)
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if cred.AccessToken != "a1" || cred.RefreshToken != "r1" {
		t.Errorf("Unexpected credential: %+v", cred)
	}
	if cred.Expiry.IsZero() {
		t.Error("Expected expiry from expires_in")
	}
}

func TestLocalServerAuthorizerStateMismatch(t *testing.T) {
	a := NewLocalServerAuthorizer(testOAuthConfig("http://127.0.0.1:1/token"), 0, time.Second)
	a.out = io.Discard
	a.openBrowser = browserVisit(t, func(string) url.Values {
		return url.Values{"code": {"the-code"}, "state": {"forged"}}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := a.Authorize(ctx)
	if !errors.Is(err, ErrAuthorizationFailed) {
		t.Errorf("Expected ErrAuthorizationFailed, got: %v", err)
	}
}

func TestLocalServerAuthorizerDenied(t *testing.T) {
	a := NewLocalServerAuthorizer(testOAuthConfig("http://127.0.0.1:1/token"), 0, time.Second)
	a.out = io.Discard
	a.openBrowser = browserVisit(t, func(state string) url.Values {
		return url.Values{"error": {"access_denied"}, "state": {state}}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := a.Authorize(ctx)
	if !errors.Is(err, ErrAuthorizationFailed) {
		t.Errorf("Expected ErrAuthorizationFailed, got: %v", err)
	}
}

func TestLocalServerAuthorizerCancelled(t *testing.T) {
	a := NewLocalServerAuthorizer(testOAuthConfig("http://127.0.0.1:1/token"), 0, time.Second)
	a.out = io.Discard
	a.openBrowser = func(string) error { return nil }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := a.Authorize(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got: %v", err)
	}
}

func TestLocalServerAuthorizerExchangeTimesOut(t *testing.T) {
	ts, _ := hungTokenServer(t)
	a := NewLocalServerAuthorizer(testOAuthConfig(ts.URL), 0, 50*time.Millisecond)
	a.out = io.Discard
	a.openBrowser = browserVisit(t, func(state string) url.Values {
		return url.Values{"code": {"the-code"}, "state": {state}}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := a.Authorize(ctx)
	if !errors.Is(err, ErrAuthorizationFailed) {
		t.Errorf("Expected ErrAuthorizationFailed, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Code exchange took %v against an unresponsive token endpoint", elapsed)
	}
}

func TestOpenURLRejectsNonHTTP(t *testing.T) {
	if err := openURL("file:///etc/passwd"); err == nil {
		t.Error("Expected non-http scheme to be refused")
	}
}
