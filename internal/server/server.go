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
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/hundinet/hundi/internal/admin"
	"github.com/hundinet/hundi/internal/auth"
	"github.com/hundinet/hundi/internal/chain"
	"github.com/hundinet/hundi/internal/chat"
	"github.com/hundinet/hundi/internal/config"
	"github.com/hundinet/hundi/internal/dispute"
	"github.com/hundinet/hundi/internal/escrow"
	"github.com/hundinet/hundi/internal/health"
	"github.com/hundinet/hundi/internal/logging"
	"github.com/hundinet/hundi/internal/match"
	"github.com/hundinet/hundi/internal/metrics"
	"github.com/hundinet/hundi/internal/notify"
	"github.com/hundinet/hundi/internal/ratelimit"
	"github.com/hundinet/hundi/internal/realtime"
	"github.com/hundinet/hundi/internal/reconciliation"
	"github.com/hundinet/hundi/internal/security"
	"github.com/hundinet/hundi/internal/trade"
	"github.com/hundinet/hundi/internal/trust"
	"github.com/hundinet/hundi/internal/users"
	"github.com/hundinet/hundi/internal/validation"
	"github.com/hundinet/hundi/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	userService  *users.Service
	authMgr      *auth.Manager
	trustEngine  *trust.Engine
	escrowLedger *escrow.Ledger
	tradeService *trade.Service
	matchEngine  *match.Engine
	chatBus      *chat.Bus
	disputes     *dispute.Workflow
	fanout       *notify.Fanout
	webhooks     *webhooks.Dispatcher
	webhookStore webhooks.Store
	realtimeHub  *realtime.Hub
	settler      *chain.EthSettler // nil when settlement is disabled
	tradeScanner *trade.Scanner
	orderScanner *match.Scanner
	reconTimer   *reconciliation.Timer
	reconciler   *reconciliation.Service
	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set logger)
	for _, opt := range opts {
		opt(s)
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory).
	// Schema is managed by cmd/migrate; the server assumes it exists.
	var (
		userStore    users.Store
		trustStore   trust.Store
		escrowStore  escrow.Store
		tradeStore   trade.Store
		orderStore   match.Store
		chatStore    chat.Store
		disputeStore dispute.Store
		authStore    auth.Store
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
		userStore = users.NewPostgresStore(db)
		trustStore = trust.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		tradeStore = trade.NewPostgresStore(db)
		orderStore = match.NewPostgresStore(db)
		chatStore = chat.NewPostgresStore(db)
		disputeStore = dispute.NewPostgresStore(db)
		authStore = auth.NewPostgresStore(db)
		s.webhookStore = webhooks.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		userStore = users.NewMemoryStore()
		trustStore = trust.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore()
		tradeStore = trade.NewMemoryStore()
		orderStore = match.NewMemoryStore()
		chatStore = chat.NewMemoryStore()
		disputeStore = dispute.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		s.webhookStore = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.userService = users.NewService(userStore)
	s.authMgr = auth.NewManager(authStore)
	s.trustEngine = trust.NewEngine(trustStore, &userDirectoryAdapter{s.userService}, s.logger)
	s.escrowLedger = escrow.NewLedger(escrowStore, s.logger)

	// Realtime hub and notification fanout. The log sink is always
	// registered; webhook and WebSocket sinks ride on top of it.
	s.realtimeHub = realtime.NewHub(s.logger)
	s.webhooks = webhooks.NewDispatcher(s.webhookStore)
	s.fanout = notify.NewFanout(s.logger,
		&notify.LogSink{Logger: s.logger},
		webhooks.NewSink(s.webhooks),
		realtime.NewSink(s.realtimeHub),
	)
	s.logger.Info("notification fanout enabled", "sinks", []string{"log", "webhook", "realtime"})

	// Chat needs the trade service for participant checks, and the trade
	// service posts system messages to chat. The adapter defers the trade
	// lookup to call time so construction order doesn't matter.
	s.chatBus = chat.NewBus(chatStore, &tradeDirectoryAdapter{s}, s.logger).
		WithBroadcaster(s.realtimeHub)

	s.disputes = dispute.NewWorkflow(disputeStore, s.logger)

	tradeOpts := []trade.Option{
		trade.WithPaymentWindow(cfg.PaymentWindow),
		trade.WithDisputes(s.disputes),
	}
	if cfg.SettlementEnabled() {
		settler, err := chain.NewEthSettler(chain.Config{
			RPCURL:        cfg.RPCURL,
			PrivateKey:    cfg.PrivateKey,
			ChainID:       cfg.ChainID,
			VaultContract: cfg.VaultContract,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create settler: %w", err)
		}
		s.settler = settler
		tradeOpts = append(tradeOpts, trade.WithSettler(settler))
		s.logger.Info("on-chain settlement enabled",
			"chain_id", cfg.ChainID,
			"vault", cfg.VaultContract,
			"signer", settler.Address(),
		)
	} else {
		s.logger.Info("on-chain settlement disabled, ledger is system of record")
	}

	s.tradeService = trade.NewService(
		tradeStore,
		s.escrowLedger,
		s.trustEngine,
		s.chatBus,
		s.fanout,
		s.logger,
		tradeOpts...,
	)
	s.disputes.WithTradeDriver(s.tradeService)

	s.matchEngine = match.NewEngine(
		orderStore,
		s.tradeService,
		&userDirectoryAdapter{s.userService},
		s.trustEngine,
		s.fanout,
		s.logger,
		match.WithOrderTTL(cfg.OrderTTL),
	)

	// Background sweeps
	s.tradeScanner = trade.NewScanner(s.tradeService, tradeStore, s.logger).
		WithInterval(cfg.ExpiryScanInterval)
	s.orderScanner = match.NewScanner(s.matchEngine, orderStore, s.logger).
		WithInterval(cfg.OrderScanInterval)

	// Reconciliation audits escrow records against their owning trades
	s.reconciler = reconciliation.NewService(s.escrowLedger, s.tradeService, s.logger)
	s.reconTimer = reconciliation.NewTimer(s.reconciler, s.logger)

	// Subsystem health checks
	s.checks = health.NewRegistry()
	if s.db != nil {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Unhealthy("database", err.Error())
			}
			return health.Healthy("database")
		})
	}
	if s.settler != nil {
		s.checks.Register("settler", func(ctx context.Context) health.Status {
			return health.Status{Name: "settler", Healthy: true, Detail: s.settler.Address()}
		})
	}

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

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rateCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rateCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(rateCfg)
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

	// WebSocket for real-time trade and chat streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/", s.infoHandler)
	s.router.GET("/api", s.infoHandler)

	usersHandler := users.NewHandler(s.userService, s.authMgr)
	trustHandler := trust.NewHandler(s.trustEngine)
	escrowHandler := escrow.NewHandler(s.escrowLedger)
	tradeHandler := trade.NewHandler(s.tradeService)
	matchHandler := match.NewHandler(s.matchEngine)
	chatHandler := chat.NewHandler(s.chatBus)
	disputeHandler := dispute.NewHandler(s.disputes)
	webhookHandler := webhooks.NewHandler(s.webhookStore, s.webhooks)
	authHandler := auth.NewHandler(s.authMgr)

	// V1 API group
	v1 := s.router.Group("/v1")

	// PUBLIC ROUTES (no auth required)
	// Registration, discovery, and read-only lookups
	usersHandler.RegisterRoutes(v1)
	trustHandler.RegisterRoutes(v1)
	escrowHandler.RegisterRoutes(v1)
	tradeHandler.RegisterRoutes(v1)
	matchHandler.RegisterRoutes(v1)
	v1.GET("/auth/info", authHandler.Info)

	// PROTECTED ROUTES (require API key)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))
	{
		usersHandler.RegisterProtectedRoutes(protected)
		tradeHandler.RegisterProtectedRoutes(protected)
		matchHandler.RegisterProtectedRoutes(protected)
		chatHandler.RegisterProtectedRoutes(protected)
		disputeHandler.RegisterProtectedRoutes(protected)
		webhookHandler.RegisterRoutes(protected)

		// API key management
		protected.GET("/auth/keys", authHandler.ListKeys)
		protected.POST("/auth/keys", authHandler.CreateKey)
		protected.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)
		protected.POST("/auth/keys/:keyId/regenerate", authHandler.RegenerateKey)
		protected.GET("/auth/me", authHandler.GetCurrentUser)
	}

	// MODERATOR ROUTES (dispute queue and rulings, gated by admin secret)
	moderator := v1.Group("")
	moderator.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	disputeHandler.RegisterModeratorRoutes(moderator)

	// ADMIN ROUTES (escrow inspection, manual sweeps, reconciliation)
	adminHandler := admin.NewHandler().
		WithEscrowAdmin(s.escrowLedger).
		WithExpirySweeper(s.tradeScanner).
		WithReconciler(s.reconciler).
		WithRealtimeStats(s.realtimeHub)
	adminGroup := v1.Group("")
	adminGroup.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	adminHandler.RegisterRoutes(adminGroup)
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

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
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
		"name":        "Hundi",
		"description": "Peer-to-peer fiat/crypto exchange",
		"version":     "0.1.0",
		"settlement":  s.cfg.SettlementEnabled(),
		"chainId":     s.cfg.ChainID,
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
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start payment-window expiry scanner
	go s.tradeScanner.Start(runCtx)

	// Start order TTL scanner
	go s.orderScanner.Start(runCtx)

	// Start periodic reconciliation
	go s.reconTimer.Start(runCtx)

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

	// Cancel the context for all background goroutines (hub, scanners, timer)
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

	// Stop scanners and timers
	if s.tradeScanner != nil {
		s.tradeScanner.Stop()
		s.logger.Info("trade expiry scanner stopped")
	}
	if s.orderScanner != nil {
		s.orderScanner.Stop()
		s.logger.Info("order expiry scanner stopped")
	}
	if s.reconTimer != nil {
		s.reconTimer.Stop()
		s.logger.Info("reconciliation timer stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close settler RPC connection
	if s.settler != nil {
		s.settler.Close()
		s.logger.Info("settler connection closed")
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

// -----------------------------------------------------------------------------
// Adapters
// -----------------------------------------------------------------------------

// userDirectoryAdapter exposes the user service to trust and match, which
// only need lookups.
type userDirectoryAdapter struct {
	u *users.Service
}

func (a *userDirectoryAdapter) Get(ctx context.Context, id string) (*users.User, error) {
	return a.u.Get(ctx, id)
}

func (a *userDirectoryAdapter) Exists(ctx context.Context, userID string) bool {
	_, err := a.u.Get(ctx, userID)
	return err == nil
}

// tradeDirectoryAdapter resolves trade participants for chat. It reads the
// trade service at call time because chat is constructed before trades.
type tradeDirectoryAdapter struct {
	s *Server
}

func (a *tradeDirectoryAdapter) Participants(ctx context.Context, tradeID string) (string, string, error) {
	return a.s.tradeService.Participants(ctx, tradeID)
}
