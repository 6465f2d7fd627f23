// Package dashboard serves the local operator dashboard: the fleet table,
// its JSON snapshot, notices and prometheus metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"wa-console/adminsync"
	"wa-console/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Source is the fleet state the dashboard renders
type Source interface {
	Clients() []adminsync.Row
	Notices() *adminsync.Notices
	ListError() string
	ListedAt() time.Time
}

// ServerOption configures the dashboard server
type ServerOption func(*serverConfig)

type serverConfig struct {
	gatherer    prometheus.Gatherer
	stats       *utils.RequestStats
	logger      zerolog.Logger
	middlewares []func(http.Handler) http.Handler
}

// WithGatherer selects the registry exposed on /metrics
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(cfg *serverConfig) { cfg.gatherer = g }
}

// WithStats exposes backend request stats on /api/stats and the page
func WithStats(s *utils.RequestStats) ServerOption {
	return func(cfg *serverConfig) { cfg.stats = s }
}

func WithLogger(l zerolog.Logger) ServerOption {
	return func(cfg *serverConfig) { cfg.logger = l }
}

// WithMiddlewares adds middleware to the router
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

type handler struct {
	source Source
	stats  *utils.RequestStats
	logger zerolog.Logger
}

// NewRouter builds the dashboard routes
func NewRouter(src Source, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{
		gatherer: prometheus.DefaultGatherer,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &handler{source: src, stats: cfg.stats, logger: cfg.logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(cfg.logger))
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/", h.page)
	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Get("/clients", h.clients)
		r.Get("/clients/{clientID}", h.client)
		r.Get("/notices", h.notices)
		r.Get("/stats", h.requestStats)
	})
	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

type clientsResponse struct {
	Clients  []adminsync.Row `json:"clients"`
	Error    string          `json:"error,omitempty"`
	ListedAt *time.Time      `json:"listedAt,omitempty"`
}

func (h *handler) clients(w http.ResponseWriter, _ *http.Request) {
	resp := clientsResponse{
		Clients: h.source.Clients(),
		Error:   h.source.ListError(),
	}
	if at := h.source.ListedAt(); !at.IsZero() {
		resp.ListedAt = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) client(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "clientID")
	for _, row := range h.source.Clients() {
		if row.Client.ID == id {
			writeJSON(w, http.StatusOK, row)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "client not found"})
}

func (h *handler) notices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Notices().List())
}

func (h *handler) requestStats(w http.ResponseWriter, _ *http.Request) {
	if h.stats == nil {
		writeJSON(w, http.StatusOK, utils.StatsSnapshot{})
		return
	}
	writeJSON(w, http.StatusOK, h.stats.Snapshot())
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs the dashboard on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, router http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("dashboard listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
