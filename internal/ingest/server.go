// Package ingest is the Ingest Surface: the HTTP/WebSocket adapters that
// validate and admit patches into the Segment Processor, and the
// speaker/listener WebSocket that pairs Room Hub delivery with the wire
// protocol.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/interpretcore/core/internal/auth"
	"github.com/interpretcore/core/internal/config"
	"github.com/interpretcore/core/internal/observability"
	"github.com/interpretcore/core/internal/room"
	"github.com/interpretcore/core/internal/security"
	"github.com/interpretcore/core/internal/segment"
	"github.com/interpretcore/core/pkg/protocol"
)

// Server is the Ingest Surface's HTTP/WS server: it owns the chi router
// and wires every handler to the Segment Processor, the Admission gate,
// and the Room Hub.
type Server struct {
	router     chi.Router
	httpServer *http.Server

	cfg       config.Config
	processor *segment.Processor
	admission *segment.Admission
	hub       *room.Hub
	validator *security.Validator
	jwt       *auth.JWTManager
	health    *observability.HealthChecker
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// New builds an Ingest Surface server with routing and middleware wired.
// jwt may be nil, in which case token issuance and WebSocket token
// validation are both disabled (useful for tests that don't exercise
// the auth surface).
func New(
	cfg config.Config,
	processor *segment.Processor,
	admission *segment.Admission,
	hub *room.Hub,
	jwt *auth.JWTManager,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		cfg:       cfg,
		processor: processor,
		admission: admission,
		hub:       hub,
		validator: security.NewValidator(),
		jwt:       jwt,
		health:    health,
		metrics:   metrics,
		logger:    logger.With().Str("component", "ingest_server").Logger(),
	}

	r := chi.NewRouter()

	// The speaker/listener WebSocket is mounted on the root router so it
	// bypasses the API middleware stack's body-size limit and JSON-only
	// logging expectations, matching the teacher's signaling endpoint.
	r.Get("/ws", s.handleWS)

	apiRouter := chi.NewRouter()
	apiRouter.Use(middleware.RequestID)
	apiRouter.Use(middleware.RealIP)
	apiRouter.Use(RequestLogger(s.logger))
	apiRouter.Use(middleware.Recoverer)
	apiRouter.Use(middleware.Timeout(30 * time.Second))
	apiRouter.Use(SecurityHeaders())
	apiRouter.Use(CORSMiddleware(cfg.Server.CORS))
	apiRouter.Use(MaxBodySize(protocol.MaxPatchTextBytes * 2))

	rps := cfg.Security.IngestRPS
	if rps <= 0 {
		rps = 100
	}
	if cfg.Security.RateLimitEnabled {
		apiRouter.Use(RateLimitWithHeaders(rps))
	}

	if metrics != nil {
		apiRouter.Use(MetricsMiddleware(metrics))
	}

	apiRouter.Get("/health", s.handleHealth)
	apiRouter.Get("/health/live", s.handleLiveness)
	apiRouter.Get("/health/ready", s.handleReadiness)
	apiRouter.Handle("/metrics", promhttp.Handler())

	apiRouter.Route("/api/v1", func(api chi.Router) {
		api.Post("/segments", s.handleSubmitSegment)
		api.Get("/config", s.handleGetConfig)
		api.Get("/rooms/{slug}", s.handleGetRoom)
		api.Post("/rooms/{slug}/tokens", s.handleIssueToken)
		api.Post("/auth/refresh", s.handleRefreshToken)
	})

	r.Mount("/", apiRouter)
	s.router = r
	return s
}

// Start begins listening for HTTP connections. Blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.logger.Info().Str("addr", addr).Msg("starting ingest server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down ingest server")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router as an http.Handler, for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	result := s.health.Check(r.Context())
	status := http.StatusOK
	if result.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	result := s.health.Check(r.Context())
	status := http.StatusOK
	if result.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": string(result.Status)})
}

// validatePatch applies the Ingest Surface's wire-schema checks shared by
// both the HTTP and WebSocket entry points. It does not check an "op"
// field: protocol.Patch carries no op — every patch is a full-text
// replacement of its unit at Version, so there is nothing to validate.
func (s *Server) validatePatch(roomID string, patch protocol.Patch, targets []string) error {
	if err := s.validator.ValidateRoomSlug(roomID); err != nil {
		return err
	}
	if err := s.validator.ValidateUnitID(patch.UnitID); err != nil {
		return err
	}
	if patch.Stage != protocol.StageSoft && patch.Stage != protocol.StageHard {
		return fmt.Errorf("stage must be soft or hard")
	}
	if len(patch.Text) > protocol.MaxPatchTextBytes {
		return fmt.Errorf("text exceeds %d bytes", protocol.MaxPatchTextBytes)
	}
	if patch.Version >= protocol.MaxVersion {
		return fmt.Errorf("version out of range")
	}
	if patch.SrcLang != "" {
		if err := s.validator.ValidateBCP47(patch.SrcLang); err != nil {
			return err
		}
	}
	for _, lang := range targets {
		if err := s.validator.ValidateBCP47(lang); err != nil {
			return err
		}
	}
	return nil
}
