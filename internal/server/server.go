// Package server exposes the overlay's HTTP query surface and the websocket
// endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sc2overlay/internal/config"
	"sc2overlay/internal/data"
	"sc2overlay/internal/sc2"
	"sc2overlay/internal/state"
	"sc2overlay/internal/stats"
)

const (
	defaultRecentLimit = data.DefaultRecentLimit
	maxRecentLimit     = 100
	shutdownTimeout    = 5 * time.Second
)

// Status is the /api/status payload
type Status struct {
	Connected bool    `json:"connected"`
	InGame    bool    `json:"inGame"`
	Phase     string  `json:"phase"`
	Port      int     `json:"port"`
	Uptime    float64 `json:"uptime"`
}

// Backend is what the HTTP layer reads from the running overlay
type Backend interface {
	// CurrentStats applies the configured time filter
	CurrentStats(ctx context.Context) stats.Snapshot
	// StatsBetween recomputes statistics over an explicit window
	StatsBetween(ctx context.Context, filter *data.TimeFilter) (stats.Snapshot, error)
	CurrentGame() *sc2.GameState
	Status() Status
	RecentMatches(ctx context.Context, limit int) ([]data.MatchRecord, error)
	StateHistory() []state.HistoryEntry
	// ConfigChanged is called after a configuration was saved
	ConfigChanged(cfg *config.Config)
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Server routes HTTP requests to the backend
type Server struct {
	backend   Backend
	config    *config.Store
	staticDir string
	router    chi.Router
	logger    zerolog.Logger
}

// New creates the router. staticDir is served when it exists.
func New(backend Backend, cfg *config.Store, staticDir string) *Server {
	s := &Server{
		backend:   backend,
		config:    cfg,
		staticDir: staticDir,
		router:    chi.NewRouter(),
		logger:    log.With().Str("component", "server").Logger(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(allowOverlayOrigins)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ws", s.backend.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Route("/config", func(r chi.Router) {
			r.Get("/", s.handleClientConfig)
			r.Get("/full", s.handleFullConfig)
			r.Get("/download", s.handleDownloadConfig)
			r.Post("/validate", s.handleValidateConfig)
			r.Post("/save", s.handleSaveConfig)
		})
		r.Get("/stats", s.handleStats)
		r.Get("/game", s.handleGame)
		r.Get("/status", s.handleStatus)
		r.Get("/matches/recent", s.handleRecentMatches)
		r.Get("/debug/state-history", s.handleStateHistory)
	})

	if s.staticDir == "" {
		return
	}
	if info, err := os.Stat(s.staticDir); err != nil || !info.IsDir() {
		s.logger.Debug().Str("dir", s.staticDir).Msg("No static overlay directory")
		return
	}
	for route, page := range map[string]string{
		"/stats-dashboard":  "stats-dashboard.html",
		"/match-bar":        "match-bar.html",
		"/debug/game-state": "game-state-debug.html",
	} {
		r.Get(route, s.servePage(page))
	}
	r.Handle("/*", http.FileServer(http.Dir(s.staticDir)))
}

func (s *Server) servePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		http.ServeFile(w, r, filepath.Join(s.staticDir, name))
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Server) handleClientConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Get().ClientView())
}

func (s *Server) handleFullConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Get().Redacted())
}

func (s *Server) handleDownloadConfig(w http.ResponseWriter, r *http.Request) {
	path := s.config.Path()
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "configuration file not found")
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

type validationResponse struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func validate(cfg *config.Config) validationResponse {
	resp := validationResponse{Valid: true, Errors: []string{}, Warnings: cfg.Warnings()}
	if resp.Warnings == nil {
		resp.Warnings = []string{}
	}
	if err := cfg.Validate(); err != nil {
		resp.Valid = false
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			resp.Errors = verr.Problems
		} else {
			resp.Errors = []string{err.Error()}
		}
	}
	return resp
}

func decodeConfig(w http.ResponseWriter, r *http.Request) (*config.Config, error) {
	cfg := config.Default()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *Server) handleValidateConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := decodeConfig(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, validate(cfg))
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := decodeConfig(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.config.Save(cfg); err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			writeJSON(w, http.StatusBadRequest, validate(cfg))
			return
		}
		s.logger.Error().Err(err).Msg("Failed to save config")
		writeError(w, http.StatusInternalServerError, "failed to save configuration")
		return
	}
	s.logger.Info().Str("path", s.config.Path()).Msg("Configuration saved")
	s.backend.ConfigChanged(s.config.Get())
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "configuration saved"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if from == "" && to == "" {
		writeJSON(w, http.StatusOK, s.backend.CurrentStats(r.Context()))
		return
	}

	filter := &data.TimeFilter{}
	var err error
	if from != "" {
		if filter.Start, err = time.Parse(time.RFC3339, from); err != nil {
			writeError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
	}
	if to != "" {
		if filter.End, err = time.Parse(time.RFC3339, to); err != nil {
			writeError(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
	}
	snap, err := s.backend.StatsBetween(r.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Str("filter", filter.String()).Msg("Failed to compute stats")
		writeError(w, http.StatusServiceUnavailable, "statistics unavailable")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	game := s.backend.CurrentGame()
	if game == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"players": []sc2.Player{}})
		return
	}
	writeJSON(w, http.StatusOK, game)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Status())
}

func (s *Server) handleRecentMatches(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	matches, err := s.backend.RecentMatches(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load recent matches")
		writeError(w, http.StatusServiceUnavailable, "match history unavailable")
		return
	}
	if matches == nil {
		matches = []data.MatchRecord{}
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleStateHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.StateHistory())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
