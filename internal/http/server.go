// Package http exposes the broker API: session lifecycle, the four
// browser actions, and the per-session event stream.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/relistly/agentbroker/internal/browser"
	. "github.com/relistly/agentbroker/internal/logging"
	"github.com/relistly/agentbroker/internal/session"
)

// Browser is what the handlers need from the browser controller.
type Browser interface {
	Open(s *session.Session, url string) error
	Fill(s *session.Session, steps []browser.FillStep) error
	Upload(s *session.Session, selector string, files []string) error
	Click(s *session.Session, selector string) error
	State(s *session.Session) (*browser.PageState, error)
}

// Server is the broker's HTTP front end.
type Server struct {
	server   *http.Server
	sessions *session.Manager
	browser  Browser
	secret   string

	shutdownChan chan struct{}
	wg           sync.WaitGroup
}

// NewServer creates the server. secret verifies session tokens on
// /v1/session/start.
func NewServer(listen, secret string, sessions *session.Manager, ctrl Browser) *Server {
	s := &Server{
		sessions:     sessions,
		browser:      ctrl,
		secret:       secret,
		shutdownChan: make(chan struct{}),
	}

	s.server = &http.Server{
		Addr:         listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Middleware chain: logging -> strip headers
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(s.stripHeaders(h))
	}

	mux.HandleFunc("/v1/session/start", wrap(s.handleStart))
	mux.HandleFunc("/v1/session/consent", wrap(s.handleConsent))
	mux.HandleFunc("/v1/session/cancel", wrap(s.handleCancel))

	mux.HandleFunc("/v1/browser/open", wrap(s.handleOpen))
	mux.HandleFunc("/v1/dom/fill", wrap(s.handleFill))
	mux.HandleFunc("/v1/dom/upload", wrap(s.handleUpload))
	mux.HandleFunc("/v1/dom/click", wrap(s.handleClick))

	mux.HandleFunc("/v1/page/state", wrap(s.handleState))
	mux.HandleFunc("/v1/events/stream", wrap(s.handleStream))

	mux.HandleFunc("/v1/healthz", wrap(s.handleHealthz))

	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("http: server starting", "addr", s.server.Addr)

		err := s.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			L_error("http: server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	close(s.shutdownChan)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		L_error("http: shutdown error", "error", err)
		return err
	}

	s.wg.Wait()
	L_info("http: server stopped")
	return nil
}

// logRequest wraps an HTTP handler to log requests.
func (s *Server) logRequest(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(lw, r)

		L_trace("http: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"duration", time.Since(start))
	}
}

// loggingResponseWriter wraps ResponseWriter to capture status code.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support.
func (lw *loggingResponseWriter) Flush() {
	if f, ok := lw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// stripHeaders removes fingerprinting headers.
func (s *Server) stripHeaders(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Server")
		w.Header().Del("X-Powered-By")

		handler(w, r)
	}
}
