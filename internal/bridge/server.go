package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	maxBodyBytes    = 64 << 10
	readHeaderLimit = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// DefaultOriginPatterns are the browser origins allowed when none are
// configured: loopback pages on any port and the Tauri webview.
var DefaultOriginPatterns = []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*", "tauri.localhost"}

// Server exposes a Bridge to the UI process over loopback HTTP.
type Server struct {
	bridge  *Bridge
	hub     *Hub
	router  *mux.Router
	logger  *slog.Logger
	origins []string

	destroyOnce sync.Once
	destroyed   chan struct{}
}

// NewServer builds the HTTP surface for b. hub may be nil, in which case
// the /ws route is not registered. originPatterns are host patterns
// (path.Match syntax, e.g. "localhost:*") of browser origins allowed to call
// the bridge; none means DefaultOriginPatterns.
func NewServer(b *Bridge, hub *Hub, logger *slog.Logger, originPatterns ...string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	if len(originPatterns) == 0 {
		originPatterns = DefaultOriginPatterns
	}

	s := &Server{
		bridge:    b,
		hub:       hub,
		router:    mux.NewRouter(),
		logger:    logger.With(slog.String("component", "bridge.server")),
		origins:   originPatterns,
		destroyed: make(chan struct{}),
	}

	s.RegisterRoutes(s.router)

	return s
}

// RegisterRoutes registers the bridge routes on router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/api/url", s.handleGetURL).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/api/mode", s.handleGetMode).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/api/mode/remote", s.handleSetRemote).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/mode/standalone", s.handleSetStandalone).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/invoke", s.handleInvoke).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/window/{event}", s.handleWindowEvent).Methods(http.MethodPost, http.MethodOptions)

	if s.hub != nil {
		router.HandleFunc("/ws", s.hub.HandleWS).Methods(http.MethodGet)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondWithError(w, http.StatusNotFound, "NOT_FOUND", "no such route")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondWithError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	router.Use(mux.CORSMethodMiddleware(router), s.corsMiddleware)
}

// corsMiddleware rejects requests from browser origins outside the allowed
// patterns, adds CORS headers for allowed ones and answers preflights.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			if !originAllowed(origin, r.Host, s.origins) {
				s.logger.Warn("rejected cross-origin request",
					slog.String("event.type", "bridge.origin.rejected"),
					slog.String("http.origin", origin),
					slog.String("http.path", r.URL.Path))
				respondWithError(w, http.StatusForbidden, "FORBIDDEN_ORIGIN", fmt.Sprintf("origin %q is not allowed", origin))

				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Max-Age", "600")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// originAllowed reports whether origin is the bridge's own host or its host
// matches one of patterns.
func originAllowed(origin, host string, patterns []string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}

	originHost := strings.ToLower(u.Host)
	if originHost == strings.ToLower(host) {
		return true
	}

	for _, p := range patterns {
		if ok, err := path.Match(strings.ToLower(p), originHost); err == nil && ok {
			return true
		}
	}

	return false
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "lunatix.bridge")
}

// Destroyed is closed once the main window has been reported destroyed.
func (s *Server) Destroyed() <-chan struct{} {
	return s.destroyed
}

// Serve accepts connections on ln until ctx is canceled or the window is
// destroyed, then shuts the HTTP server down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderLimit,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("bridge listening",
		slog.String("event.type", "bridge.listen"),
		slog.String("bridge.addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("bridge server: %w", err)
	case <-ctx.Done():
	case <-s.destroyed:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("bridge shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetURL(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"url": s.bridge.GetAPIURL()})
}

func (s *Server) handleGetMode(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, s.bridge.Supervisor().Snapshot())
}

func (s *Server) handleSetRemote(w http.ResponseWriter, r *http.Request) {
	var body remotePayload
	if err := decodeBody(r, &body); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadPayload, err.Error())
		return
	}

	target, err := validateURL(body.URL)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadPayload, err.Error())
		return
	}

	s.bridge.SetRemoteMode(r.Context(), target)
	respondWithJSON(w, http.StatusOK, s.bridge.Supervisor().Snapshot())
}

func (s *Server) handleSetStandalone(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.SetStandaloneMode(r.Context()); err != nil {
		resp := errorResponse(err)
		respondWithError(w, statusFor(resp.Error.Code), resp.Error.Code, resp.Error.Message)

		return
	}

	respondWithJSON(w, http.StatusOK, s.bridge.Supervisor().Snapshot())
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := decodeBody(r, &cmd); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadPayload, err.Error())
		return
	}

	resp := s.bridge.Invoke(r.Context(), cmd)

	status := http.StatusOK
	if resp.Error != nil {
		status = statusFor(resp.Error.Code)
	}

	respondWithJSON(w, status, resp)
}

func (s *Server) handleWindowEvent(w http.ResponseWriter, r *http.Request) {
	ev := WindowEvent(strings.ToLower(mux.Vars(r)["event"]))
	s.bridge.HandleWindowEvent(r.Context(), ev)

	if ev == WindowDestroyed {
		s.destroyOnce.Do(func() { close(s.destroyed) })
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"event": string(ev)})
}

// validateURL trims raw and requires an absolute http(s) URL with a host.
func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid url %q: scheme must be http or https", raw)
	}

	if u.Host == "" {
		return "", fmt.Errorf("invalid url %q: missing host", raw)
	}

	return raw, nil
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}

		return fmt.Errorf("invalid request body: %w", err)
	}

	return nil
}

func statusFor(code string) int {
	switch code {
	case CodeBadPayload:
		return http.StatusBadRequest
	case CodeUnknownCommand:
		return http.StatusNotFound
	case CodeSpawnFailed:
		return http.StatusBadGateway
	case CodeShutdown:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondWithJSON writes data inside the success envelope. A Response is
// written as is.
func respondWithJSON(w http.ResponseWriter, status int, data any) {
	body := data
	if _, ok := data.(Response); !ok {
		body = success(data)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondWithError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(failure(code, msg))
}
