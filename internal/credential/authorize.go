package credential

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// LocalServerAuthorizer runs the installed-app consent flow: it opens the
// consent page in a browser and receives the code on a loopback listener.
type LocalServerAuthorizer struct {
	config      *oauth2.Config
	port        int
	timeout     time.Duration
	out         io.Writer
	openBrowser func(string) error
}

// NewLocalServerAuthorizer returns an authorizer listening on port. Waiting for
// consent is bounded only by the caller's context; the code exchange that
// follows gives up after timeout.
func NewLocalServerAuthorizer(cfg *oauth2.Config, port int, timeout time.Duration) *LocalServerAuthorizer {
	if timeout <= 0 {
		timeout = DefaultTokenTimeout
	}
	return &LocalServerAuthorizer{
		config:      cfg,
		port:        port,
		timeout:     timeout,
		out:         os.Stderr,
		openBrowser: openURL,
	}
}

type callbackResult struct {
	code string
	err  error
}

func (a *LocalServerAuthorizer) Authorize(ctx context.Context) (*Credential, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", a.port))
	if err != nil {
		return nil, fmt.Errorf("%w: listen on callback port %d: %w", ErrAuthorizationFailed, a.port, err)
	}

	cfg := *a.config
	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d/", ln.Addr().(*net.TCPAddr).Port)

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)

	results := make(chan callbackResult, 1)
	var once sync.Once
	deliver := func(r callbackResult) {
		once.Do(func() { results <- r })
	}

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "State mismatch.", http.StatusBadRequest)
			deliver(callbackResult{err: errors.New("callback state mismatch")})
		case q.Get("error") != "":
			http.Error(w, "Authorization was denied.", http.StatusForbidden)
			deliver(callbackResult{err: fmt.Errorf("consent denied: %s", q.Get("error"))})
		case q.Get("code") == "":
			http.Error(w, "Missing authorization code.", http.StatusBadRequest)
			deliver(callbackResult{err: errors.New("callback without code")})
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, `<!DOCTYPE html><html><body><p>Authorization complete. You can close this window.</p></body></html>`)
			deliver(callbackResult{code: q.Get("code")})
		}
	})}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("Authorization callback server error: %v", err)
		}
	}()
	defer srv.Close()

	fmt.Fprintf(a.out, "Open the following URL in your browser to authorize access:\n\n%s\n\n", authURL)
	if err := a.openBrowser(authURL); err != nil {
		log.Printf("Could not open browser: %v", err)
	}

	var res callbackResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-results:
	}
	if res.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthorizationFailed, res.err)
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	tok, err := cfg.Exchange(exchangeCtx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: code exchange: %w", ErrAuthorizationFailed, err)
	}
	return fromToken(tok), nil
}

func openURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("refusing to open URL with scheme %q", u.Scheme)
	}

	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", rawURL).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", rawURL).Start()
	default:
		return exec.Command("xdg-open", rawURL).Start()
	}
}
