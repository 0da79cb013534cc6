package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"calgrid/internal/config"
	"calgrid/internal/dayview"
	"calgrid/internal/layout"
	appLog "calgrid/internal/log"
	"calgrid/internal/refresh"
	"calgrid/internal/store"
)

const (
	maxLayoutDays = 62
	maxBodyBytes  = 1 << 20
	dateLayout    = "2006-01-02"
)

// Refresher is the part of refresh.Refresher the HTTP layer needs.
type Refresher interface {
	RunOnce(ctx context.Context) (refresh.Summary, error)
	Last() (refresh.Summary, bool)
}

// Server exposes the event store, per-day layouts and the rendered day view.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	refresher Refresher
	loc       *time.Location
	metrics   layout.Metrics
	now       func() time.Time
	mux       *http.ServeMux
}

// NewServer constructs a Server. refresher may be nil when no ICS sources
// are configured.
func NewServer(cfg *config.Config, st *store.Store, refresher Refresher) *Server {
	s := &Server{
		cfg:       cfg,
		store:     st,
		refresher: refresher,
		loc:       ResolveLocation(cfg.Timezone),
		metrics:   layout.Metrics{HourHeight: cfg.Layout.HourHeight, MinHeight: cfg.Layout.MinHeight},
		now:       time.Now,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler with logging and optional basic auth.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.cfg.BasicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		h = s.basicAuthMiddleware(h)
	}
	return requestLogger(h)
}

// Location is the zone whose midnights delimit days.
func (s *Server) Location() *time.Location {
	return s.loc
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	s.mux.HandleFunc("PUT /api/events/{id}", s.handleReplaceEvent)
	s.mux.HandleFunc("PATCH /api/events/{id}", s.handlePatchEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)

	s.mux.HandleFunc("GET /api/layout", s.handleLayout)
	s.mux.HandleFunc("GET /api/categories", s.handleCategories)
	s.mux.HandleFunc("GET /api/calendar.ics", s.handleExport)
	s.mux.HandleFunc("GET /api/refresh", s.handleLastRefresh)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)

	s.mux.HandleFunc("GET /day", s.handleDayView)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/day", http.StatusFound)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// layoutResponse is the JSON shape for /api/layout.
type layoutResponse struct {
	Timezone   string        `json:"timezone"`
	HourHeight float64       `json:"hour_height"`
	Days       []dayview.Day `json:"days"`
}

// handleLayout returns column assignments and geometry per day.
//
// GET /api/layout?date=2025-03-10&days=7
//   - date: first day, local to the configured timezone (default today)
//   - days: number of consecutive days (default 1, max 62)
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := s.parseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	days, err := parseIntDefault(q.Get("days"), 1)
	if err != nil || days <= 0 || days > maxLayoutDays {
		writeError(w, http.StatusBadRequest, "days must be between 1 and "+strconv.Itoa(maxLayoutDays))
		return
	}

	out := dayview.BuildRange(s.store.List(), from, days, s.loc, s.metrics)

	appLog.Debug("layout built", "date", from.Format(dateLayout), "days", days, "events", s.store.Len())
	writeJSON(w, http.StatusOK, layoutResponse{
		Timezone:   s.loc.String(),
		HourHeight: s.metrics.HourHeight,
		Days:       out,
	})
}

func (s *Server) handleLastRefresh(w http.ResponseWriter, _ *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusNotFound, "no ICS sources configured")
		return
	}
	sum, ok := s.refresher.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no refresh has run yet")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusNotFound, "no ICS sources configured")
		return
	}
	sum, err := s.refresher.RunOnce(r.Context())
	if err != nil {
		// Partial failures still refreshed the other sources.
		appLog.Error("manual refresh had errors", err)
		writeJSON(w, http.StatusMultiStatus, sum)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, s.cfg.PreviewPath())
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calgrid", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Microsecond),
		)
	})
}

// StartServer serves s on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func StartServer(ctx context.Context, cfg *config.Config, s *Server) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) parseDate(v string) (time.Time, error) {
	if v == "" {
		return s.now().In(s.loc), nil
	}
	return time.ParseInLocation(dateLayout, v, s.loc)
}

// parseIntDefault returns def for an empty value and an error for anything
// that is not an integer.
func parseIntDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

// ResolveLocation loads an IANA zone, falling back to time.Local.
func ResolveLocation(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
