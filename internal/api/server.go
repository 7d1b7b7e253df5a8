package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/mailguard/internal/cache"
	"github.com/raaihank/mailguard/internal/classify"
	"github.com/raaihank/mailguard/internal/config"
	"github.com/raaihank/mailguard/internal/logger"
	"github.com/raaihank/mailguard/internal/metrics"
	"github.com/raaihank/mailguard/internal/privacy"
	"github.com/raaihank/mailguard/internal/security"
	"github.com/raaihank/mailguard/internal/store"
	"github.com/raaihank/mailguard/internal/web"
	"github.com/raaihank/mailguard/internal/websocket"
	"go.uber.org/zap"
)

// Version is reported by /info
const Version = "0.1.0"

// LabelCache remembers the label assigned to a masked text
type LabelCache interface {
	Get(ctx context.Context, maskedText string) (*cache.LookupResult, error)
	Set(ctx context.Context, maskedText string, label *cache.CachedLabel) error
	GetStats(ctx context.Context) (*cache.CacheStats, error)
}

// AuditLog records classification events
type AuditLog interface {
	Insert(ctx context.Context, event *store.ClassificationEvent) error
	Recent(ctx context.Context, limit int) ([]store.ClassificationEvent, error)
	GetStats(ctx context.Context) (*store.Stats, error)
}

// Dependencies are the optional collaborators of the server. A nil
// Classifier is replaced by the one configured under classifier.backend.
type Dependencies struct {
	Classifier classify.Classifier
	Cache      LabelCache
	Audit      AuditLog
	Metrics    *metrics.Metrics
}

// Server represents the classification API server
type Server struct {
	config     *config.Config
	logger     *logger.Logger
	detector   *privacy.Detector
	classifier classify.Classifier
	cache      LabelCache
	audit      AuditLog
	metrics    *metrics.Metrics
	limiter    *security.RateLimiter
	wsHub      *websocket.Hub
	router     *mux.Router
	server     *http.Server
	startedAt  time.Time
}

// New creates a new API server instance
func New(cfg *config.Config, log *logger.Logger, deps Dependencies) (*Server, error) {
	detector, err := privacy.New(cfg.Privacy, log.WithComponent("privacy"))
	if err != nil {
		return nil, fmt.Errorf("failed to create privacy detector: %w", err)
	}

	classifier := deps.Classifier
	if classifier == nil {
		built, err := classify.New(cfg.Classifier, log.WithComponent("classifier").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create classifier: %w", err)
		}
		classifier = built
	}

	wsHub := websocket.NewHub(&websocket.HubConfig{
		BroadcastDetections:      cfg.WebSocket.Events.BroadcastDetections,
		BroadcastClassifications: cfg.WebSocket.Events.BroadcastClassifications,
		BroadcastConnections:     cfg.WebSocket.Events.BroadcastConnections,
		Username:                 cfg.WebSocket.Username,
		Password:                 cfg.WebSocket.Password,
	}, log.WithComponent("websocket").Logger)

	m := deps.Metrics
	if m == nil {
		m = metrics.New("mailguard", wsHub.ClientCount)
	}

	s := &Server{
		config:     cfg,
		logger:     log.WithComponent("api"),
		detector:   detector,
		classifier: classifier,
		cache:      deps.Cache,
		audit:      deps.Audit,
		metrics:    m,
		limiter:    security.NewRateLimiter(cfg.RateLimit),
		wsHub:      wsHub,
		router:     mux.NewRouter(),
		startedAt:  time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)

		dashboard := s.basicAuth(http.HandlerFunc(web.ServeDashboard))
		s.router.Handle("/", dashboard).Methods(http.MethodGet)
		s.router.Handle("/dashboard", dashboard).Methods(http.MethodGet)
	}
	s.router.Handle("/stats", s.basicAuth(http.HandlerFunc(s.handleStats))).Methods(http.MethodGet)

	api := s.router.NewRoute().Subrouter()
	api.Use(s.requestIDMiddleware)
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/classify", s.handleClassify).Methods(http.MethodPost)
	api.HandleFunc("/mask", s.handleMask).Methods(http.MethodPost)
	api.HandleFunc("/demask", s.handleDemask).Methods(http.MethodPost)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs background workers and serves HTTP until Stop is called
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting mailguard server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("privacy_enabled", s.detector.Enabled()),
		zap.Strings("detectors", s.detector.GetEnabledRules()),
		zap.Strings("labels", s.classifier.Labels()),
		zap.Bool("cache_enabled", s.cache != nil),
		zap.Bool("audit_enabled", s.audit != nil),
	)

	go s.wsHub.Run(ctx)
	s.limiter.StartCleanupRoutine(ctx, 10*time.Minute)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping mailguard server")
	return s.server.Shutdown(ctx)
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}
