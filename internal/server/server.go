// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/psinet/trustd/internal/auth"
	"github.com/psinet/trustd/internal/config"
	"github.com/psinet/trustd/internal/dispute"
	"github.com/psinet/trustd/internal/events"
	"github.com/psinet/trustd/internal/feedback"
	"github.com/psinet/trustd/internal/health"
	"github.com/psinet/trustd/internal/identity"
	"github.com/psinet/trustd/internal/ledger"
	"github.com/psinet/trustd/internal/logging"
	"github.com/psinet/trustd/internal/metrics"
	"github.com/psinet/trustd/internal/ratelimit"
	"github.com/psinet/trustd/internal/rbac"
	"github.com/psinet/trustd/internal/realtime"
	"github.com/psinet/trustd/internal/reputation"
	"github.com/psinet/trustd/internal/security"
	"github.com/psinet/trustd/internal/syncutil"
	"github.com/psinet/trustd/internal/traces"
	"github.com/psinet/trustd/internal/validation"
	"github.com/psinet/trustd/internal/vault"
	"github.com/psinet/trustd/internal/webhooks"
)

// snapshotInterval is how often the reputation worker persists score history.
const snapshotInterval = 15 * time.Minute

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	directory     identity.Directory
	memDirectory  *identity.MemoryDirectory // non-nil in development mode
	authMgr       *auth.Manager
	roles         *rbac.Service
	ledger        *ledger.Ledger
	escrows       *vault.Vault
	feedbackStore feedback.Store
	feedbackSvc   *feedback.Service
	disputeSvc    *dispute.Service
	scorer        *reputation.Scorer
	snapshots     reputation.SnapshotStore
	worker        *reputation.Worker
	signer        *reputation.Signer
	eventStore    events.Store
	emitter       *events.Emitter
	webhookStore  webhooks.Store
	dispatcher    *webhooks.Dispatcher
	realtimeHub   *realtime.Hub
	rateLimiter   *ratelimit.Limiter
	checks        *health.Registry
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run
	stopTracing   func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithDirectory sets a custom identity directory (for testing)
func WithDirectory(d identity.Directory) Option {
	return func(s *Server) {
		s.directory = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	// Apply options first (may set directory/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		authStore     auth.Store
		roleStore     rbac.Store
		ledgerStore   ledger.Store
		vaultStore    vault.Store
		scoreStore    reputation.ScoreStore
		snapshotStore reputation.SnapshotStore
		eventStore    events.Store
		webhookStore  webhooks.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		authStore = auth.NewPostgresStore(db)
		roleStore = rbac.NewPostgresStore(db)
		ledgerStore = ledger.NewPostgresStore(db)
		vaultStore = vault.NewPostgresStore(db)
		s.feedbackStore = feedback.NewPostgresStore(db)
		scoreStore = reputation.NewPostgresScoreStore(db)
		snapshotStore = reputation.NewPostgresSnapshotStore(db)
		eventStore = events.NewPostgresStore(db)
		webhookStore = webhooks.NewPostgresStore(db)

		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		authStore = auth.NewMemoryStore()
		roleStore = rbac.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		vaultStore = vault.NewMemoryStore()
		s.feedbackStore = feedback.NewMemoryStore()
		scoreStore = reputation.NewMemoryScoreStore()
		snapshotStore = reputation.NewMemorySnapshotStore()
		eventStore = events.NewMemoryStore()
		webhookStore = webhooks.NewMemoryStore()
	}

	// Identity directory: external service in production, in-memory for
	// development. The engine only ever sees the Directory interface.
	if s.directory == nil {
		if cfg.IdentityURL != "" {
			s.directory = identity.NewHTTPDirectory(cfg.IdentityURL)
			s.logger.Info("identity directory configured", "url", cfg.IdentityURL)
		} else {
			mem := identity.NewMemoryDirectory()
			s.memDirectory = mem
			s.directory = mem
			s.logger.Info("identity directory in memory (register agents via admin API)")
		}
	}

	s.authMgr = auth.NewManager(authStore)
	s.roles = rbac.NewService(roleStore)
	if cfg.RootPrincipal != "" {
		if err := s.roles.Bootstrap(ctx, cfg.RootPrincipal); err != nil {
			return nil, fmt.Errorf("failed to bootstrap roles: %w", err)
		}
		s.logger.Info("root principal bootstrapped", "principal", cfg.RootPrincipal)
	}

	// Credit ledger backs all stake custody
	s.ledger = ledger.New(ledgerStore)
	if s.db != nil {
		s.ledger = s.ledger.WithEvents(ledger.NewPostgresEventStore(s.db))
	} else {
		s.ledger = s.ledger.WithEvents(ledger.NewMemoryEventStore())
	}
	s.escrows = vault.New(vaultStore, s.ledger)

	// Event log fans out to WebSocket clients and outbound webhooks
	s.realtimeHub = realtime.NewHub(s.logger)
	s.webhookStore = webhookStore
	s.dispatcher = webhooks.NewDispatcher(webhookStore)
	s.eventStore = eventStore
	s.emitter = events.NewEmitter(eventStore, events.Fanout{s.realtimeHub, s.dispatcher}, s.logger)

	// Engine core
	s.scorer = reputation.NewScorer(s.feedbackStore, scoreStore)
	s.snapshots = snapshotStore
	s.worker = reputation.NewWorker(scoreStore, snapshotStore, snapshotInterval, s.logger)
	s.signer = reputation.NewSigner(cfg.ScoreSigningSecret)

	commit := syncutil.NewCommitMutex()
	s.feedbackSvc = feedback.NewService(feedback.Config{
		Store:        s.feedbackStore,
		Directory:    s.directory,
		Vault:        s.escrows,
		Scorer:       s.scorer,
		Emitter:      s.emitter,
		Roles:        s.roles,
		Commit:       commit,
		MinimumStake: cfg.MinStake,
		Logger:       s.logger,
	})
	s.disputeSvc = dispute.NewService(dispute.Config{
		Store:     s.feedbackStore,
		Directory: s.directory,
		Roles:     s.roles,
		Vault:     s.escrows,
		Scorer:    s.scorer,
		Emitter:   s.emitter,
		Commit:    commit,
		Treasury:  cfg.TreasuryPrincipal,
		Logger:    s.logger,
	})

	// Tracing (no-op when OTLP endpoint unset)
	stopTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.stopTracing = stopTracing

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	s.router.Use(security.CORSMiddleware(strings.Split(s.cfg.AllowedOrigins, ",")))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limitCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		limitCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(limitCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time event streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :id URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AgentParamMiddleware())
	// Resolve API keys into principals; individual routes enforce auth
	v1.Use(auth.Middleware(s.authMgr))

	// Engine surface
	feedback.NewHandler(s.feedbackSvc).RegisterRoutes(v1, s.authMgr)
	dispute.NewHandler(s.disputeSvc, s.escrows).RegisterRoutes(v1, s.authMgr)
	reputation.NewHandlerFull(s.scorer, s.snapshots, s.signer).RegisterRoutes(v1)
	events.NewHandler(s.eventStore).RegisterRoutes(v1)
	rbac.NewHandler(s.roles).RegisterRoutes(v1, s.authMgr)

	// Balances and deposit history
	ledgerHandler := ledger.NewHandler(s.ledger, s.logger)
	ledgerHandler.RegisterRoutes(v1)

	// Webhook management requires an authenticated caller
	webhookHandler := webhooks.NewHandler(s.webhookStore)
	protectedWebhooks := v1.Group("")
	protectedWebhooks.Use(auth.RequireAuth(s.authMgr))
	webhookHandler.RegisterRoutes(protectedWebhooks)

	// API key management
	authHandler := auth.NewHandler(s.authMgr)
	v1.GET("/auth/info", authHandler.Info)
	protectedAuth := v1.Group("/auth")
	protectedAuth.Use(auth.RequireAuth(s.authMgr))
	{
		protectedAuth.GET("/keys", authHandler.ListKeys)
		protectedAuth.POST("/keys", authHandler.CreateKey)
		protectedAuth.DELETE("/keys/:keyId", authHandler.RevokeKey)
	}

	// Realtime hub statistics
	v1.GET("/realtime/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	// Operator routes. First API keys cannot be self-issued, and deposits
	// arrive from an external settlement process, so both sit behind the
	// admin secret.
	admin := v1.Group("/admin")
	admin.Use(auth.RequireAdminSecret(s.cfg.AdminSecret))
	{
		admin.POST("/keys", authHandler.IssueKey)
		ledgerHandler.RegisterAdminRoutes(admin)
		if s.memDirectory != nil {
			// Development-grade directory management
			admin.POST("/directory/agents", s.registerDirectoryAgent)
			admin.DELETE("/directory/agents/:id", s.deactivateDirectoryAgent)
		}
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	allHealthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "trustd",
		"description": "Reputation and dispute engine for autonomous agents",
		"version":     "0.1.0",
		"currency":    "credits",
	})
}

// registerDirectoryAgent handles POST /v1/admin/directory/agents.
// Only available with the in-memory directory; production deployments
// manage agents in the external identity service.
func (s *Server) registerDirectoryAgent(c *gin.Context) {
	var req struct {
		AgentID string `json:"agentId" binding:"required"`
		Owner   string `json:"owner" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "agentId and owner are required",
		})
		return
	}
	if !validation.IsValidPrincipal(req.AgentID) || !validation.IsValidPrincipal(req.Owner) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_principal",
			"message": "agentId and owner must be valid principal identifiers",
		})
		return
	}

	s.memDirectory.Register(req.AgentID, req.Owner)
	s.logger.Info("directory agent registered", "agent", req.AgentID, "owner", req.Owner)

	c.JSON(http.StatusCreated, gin.H{
		"agent": gin.H{
			"id":     strings.ToLower(req.AgentID),
			"owner":  req.Owner,
			"active": true,
		},
	})
}

// deactivateDirectoryAgent handles DELETE /v1/admin/directory/agents/:id
func (s *Server) deactivateDirectoryAgent(c *gin.Context) {
	agentID := c.Param("id")
	s.memDirectory.Deactivate(agentID)
	c.JSON(http.StatusOK, gin.H{
		"status":  "deactivated",
		"agentId": strings.ToLower(agentID),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start reputation snapshot worker
	go s.worker.Start(runCtx)

	// Collect DB pool stats
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, worker)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop snapshot worker
	if s.worker != nil {
		s.worker.Stop()
		s.logger.Info("snapshot worker stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush tracing
	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
