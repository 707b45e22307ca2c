// Package http implements the JSON API of the training platform on gin.
// Handlers are thin: they bind input, call a command or query handler and
// map domain errors to status codes.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cyberguard/cyberguard-training/internal/application/command"
	"github.com/cyberguard/cyberguard-training/internal/application/query"
	"github.com/cyberguard/cyberguard-training/internal/interface/http/handlers"
	"github.com/cyberguard/cyberguard-training/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// AllowedOrigins - allowed origins for CORS. Empty or "*" allows any.
	AllowedOrigins []string

	// RateLimitPerMinute - requests per minute per IP (0 = disabled).
	RateLimitPerMinute int

	// TrustedProxies - proxies whose X-Forwarded-For is honoured.
	TrustedProxies []string

	// MetricsPath - path of the Prometheus endpoint ("" = disabled).
	MetricsPath string

	// SessionCookie - name of the session cookie.
	SessionCookie string

	// SecureCookie - set the Secure attribute on the session cookie.
	SecureCookie bool

	// Debug - gin debug mode.
	Debug bool
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20, // 1 MB
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 120,
		MetricsPath:        "/metrics",
		SessionCookie:      "cyberguard_session",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Features gates optional endpoints. config.FeatureFlags satisfies it.
type Features interface {
	DailyChallengesEnabled() bool
	PushSubscriptionsEnabled() bool
}

// Observability is the metrics surface used by the server.
// *metrics.Metrics satisfies it.
type Observability interface {
	handlers.HTTPObserver
	Handler() http.Handler
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Commands (CQRS Write Side)
	Login                *command.LoginHandler
	Logout               *command.LogoutHandler
	Complete             *command.CompleteActivityHandler
	SavePreferences      *command.SavePreferencesHandler
	SavePushSubscription *command.SavePushSubscriptionHandler
	SaveQuizSession      *command.SaveQuizSessionHandler

	// Queries (CQRS Read Side)
	Catalog     *query.CatalogQueryHandler
	Profile     *query.GetProfileHandler
	Preferences *query.GetPreferencesHandler

	Sessions handlers.SessionResolver
	Health   handlers.HealthChecker
	Features Features
	Metrics  Observability
	Logger   *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	limiter    *handlers.RateLimiter
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) (*Server, error) {
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	if deps.Health == nil {
		deps.Health = handlers.NewCompositeHealthChecker("")
	}
	if deps.Features == nil {
		deps.Features = allFeatures{}
	}

	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: config,
		deps:   deps,
		engine: gin.New(),
		logger: deps.Logger.Named("http"),
	}

	if err := s.engine.SetTrustedProxies(config.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	if config.RateLimitPerMinute > 0 {
		s.limiter = handlers.NewRateLimiter(config.RateLimitPerMinute, time.Minute)
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.engine,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s, nil
}

// Handler returns the router. Tests drive it through httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE & ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupMiddleware() {
	s.engine.Use(
		handlers.RequestID(),
		handlers.Recovery(s.logger),
		handlers.RequestLogger(s.logger),
		handlers.CORS(s.config.AllowedOrigins),
	)
	if s.deps.Metrics != nil {
		s.engine.Use(handlers.Metrics(s.deps.Metrics))
	}
	if s.limiter != nil {
		s.engine.Use(handlers.RateLimit(s.limiter))
	}
}

func (s *Server) setupRoutes() {
	r := s.engine

	// ─────────────────────────────────────────────────────────────────────────
	// Health & Metrics
	// ─────────────────────────────────────────────────────────────────────────
	r.GET("/health", handlers.Health(s.deps.Health))
	r.GET("/live", handlers.Live)
	if s.deps.Metrics != nil && s.config.MetricsPath != "" {
		r.GET(s.config.MetricsPath, gin.WrapH(s.deps.Metrics.Handler()))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Public
	// ─────────────────────────────────────────────────────────────────────────
	api := r.Group("/api")
	api.POST("/login", s.handleLogin)

	// ─────────────────────────────────────────────────────────────────────────
	// Authenticated
	// ─────────────────────────────────────────────────────────────────────────
	auth := api.Group("", handlers.Auth(s.deps.Sessions, s.config.SessionCookie, s.logger))

	auth.POST("/logout", s.handleLogout)

	auth.GET("/categories", s.handleCategories)
	auth.GET("/modules", s.handleModules)
	auth.GET("/modules/:id", s.handleModule)
	auth.POST("/modules/complete", s.handleCompleteModule)

	auth.GET("/quiz/questions", s.handleQuestions)
	auth.POST("/quiz/progress", s.handleQuizProgress)
	auth.POST("/quiz/session", s.handleSaveQuizSession)

	auth.GET("/scenarios/:id", s.handleScenario)
	auth.POST("/scenarios/complete", s.handleCompleteScenario)

	auth.GET("/interactive", s.handleInteractive)
	auth.POST("/interactive/complete", s.handleCompleteInteractive)

	auth.GET("/daily-challenges", s.requireFeature(s.deps.Features.DailyChallengesEnabled), s.handleDailyChallenges)
	auth.POST("/daily-challenges/:id/complete", s.requireFeature(s.deps.Features.DailyChallengesEnabled), s.handleCompleteDailyChallenge)

	auth.GET("/profile", s.handleProfile)
	auth.GET("/preferences", s.handleGetPreferences)
	auth.POST("/preferences", s.handleSavePreferences)
	auth.POST("/push-subscriptions", s.requireFeature(s.deps.Features.PushSubscriptionsEnabled), s.handleSavePushSubscription)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// requireFeature answers 404 while the feature is switched off.
func (s *Server) requireFeature(enabled func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled() {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Feature disabled"})
			return
		}
		c.Next()
	}
}

type allFeatures struct{}

func (allFeatures) DailyChallengesEnabled() bool   { return true }
func (allFeatures) PushSubscriptionsEnabled() bool { return true }

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Run serves until ctx is cancelled, then shuts down within shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	if s.limiter != nil {
		go s.limiter.Run(ctx)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server. Calling it before Start makes
// a later Start return immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Address()
}
