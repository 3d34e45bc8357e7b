package preview

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ryosukesatoh/news-digest/internal/digest"
)

const placeholder = `<!DOCTYPE html><html><body><h2>News Digest</h2><p>No digest composed yet. Check back after the next run.</p></body></html>`

// Server serves the most recently composed digest as an HTML page.
type Server struct {
	addr     string
	server   *http.Server
	listener net.Listener

	mu       sync.RWMutex
	latest   *digest.Digest
	composed time.Time
}

func NewServer(addr string) *Server {
	s := &Server{addr: addr}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving HTTP in the background. Call Shutdown to stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("preview: failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	go func() {
		log.Printf("Digest preview listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("Digest preview error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Publish replaces the served digest.
func (s *Server) Publish(_ context.Context, d *digest.Digest) error {
	s.mu.Lock()
	s.latest = d
	s.composed = time.Now()
	s.mu.Unlock()
	log.Printf("Digest preview updated (%d articles)", len(d.Summaries))
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.mu.RLock()
	d, composed := s.latest, s.composed
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if d == nil {
		fmt.Fprint(w, placeholder)
		return
	}
	w.Header().Set("Last-Modified", composed.UTC().Format(http.TimeFormat))
	fmt.Fprint(w, d.Body)
}
