// Package api serves the dashboard REST contract over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/agent"
	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/engine"
)

// Server is the HTTP API server for the dashboard client.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	engine     *engine.Engine
	bridge     *agent.Bridge
	logger     *zap.Logger
}

// New creates an API server bound to addr.
func New(addr string, eng *engine.Engine, bridge *agent.Bridge, logger *zap.Logger) *Server {
	s := &Server{engine: eng, bridge: bridge, logger: logger}
	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // agent tasks run synchronously
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router (for httptest).
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", s.httpServer.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// setupRouter configures all routes. Paths and field names match the
// dashboard client exactly.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/status", s.handleStatus)
	r.Post("/start", s.handleStart)
	r.Post("/stop", s.handleStop)

	r.Get("/apps", s.handleGetApps)
	r.Post("/apps/{pkg}", s.handleUpdateApp)

	r.Get("/config", s.handleGetConfig)
	r.Post("/config", s.handleUpdateConfig)

	r.Get("/analytics", s.handleAnalytics)

	r.Get("/schedule", s.handleGetSchedule)
	r.Post("/schedule", s.handleAddSchedule)
	r.Delete("/schedule/{id}", s.handleDeleteSchedule)

	r.Get("/agent/status", s.handleAgentStatus)
	r.Post("/agent/execute", s.handleAgentExecute)

	s.router = r
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		s.respondJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": verr.Error()})
	case errors.Is(err, domain.ErrNotFound):
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, domain.ErrAgentBusy):
		s.respondJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
