// Package server wires stores, services, jobs and HTTP routes together.
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
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

	"github.com/adkarma/adkarma/internal/campaign"
	"github.com/adkarma/adkarma/internal/config"
	"github.com/adkarma/adkarma/internal/earnings"
	"github.com/adkarma/adkarma/internal/escrow"
	"github.com/adkarma/adkarma/internal/fraud"
	"github.com/adkarma/adkarma/internal/health"
	"github.com/adkarma/adkarma/internal/insights"
	"github.com/adkarma/adkarma/internal/jobs"
	"github.com/adkarma/adkarma/internal/ledger"
	"github.com/adkarma/adkarma/internal/logging"
	"github.com/adkarma/adkarma/internal/metrics"
	"github.com/adkarma/adkarma/internal/payout"
	"github.com/adkarma/adkarma/internal/ratelimit"
	"github.com/adkarma/adkarma/internal/security"
	"github.com/adkarma/adkarma/internal/tracking"
	"github.com/adkarma/adkarma/internal/traces"
	"github.com/adkarma/adkarma/internal/validation"
)

// Server wraps the HTTP server, services and background jobs.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db *sql.DB // nil if using in-memory stores

	ledgerSvc   *ledger.Service
	escrowSvc   *escrow.Service
	trackingSvc *tracking.Service
	fraudSvc    *fraud.Service
	earningsSvc *earnings.Service
	payoutSvc   *payout.Service

	timers      []*jobs.Timer
	rateLimiter *ratelimit.Limiter
	checks      *health.Registry

	router       *gin.Engine
	httpSrv      *http.Server
	shutdownOtel func(context.Context) error
	cancelRunCtx context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server with all stores, services and timers wired.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdownOtel, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing disabled", "error", err)
	} else {
		s.shutdownOtel = shutdownOtel
	}

	// Storage: Postgres when DATABASE_URL is set, otherwise in-memory.
	var (
		ledgerStore   ledger.Store
		campaignStore campaign.Store
		escrowStore   escrow.Store
		trackingStore tracking.Store
		fraudStore    fraud.Store
		earningsStore earnings.Store
		payoutStore   payout.Store
		locker        jobs.Locker
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		ledgerStore = ledger.NewPostgresStore(db)
		campaignStore = campaign.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		trackingStore = tracking.NewPostgresStore(db)
		fraudStore = fraud.NewPostgresStore(db)
		earningsStore = earnings.NewPostgresStore(db)
		payoutStore = payout.NewPostgresStore(db)
		locker = jobs.NewPGLocker(db)

		s.checks.Register("database", db.PingContext)

		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		ledgerStore = ledger.NewMemoryStore()
		campaignStore = campaign.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore()
		trackingStore = tracking.NewMemoryStore()
		fraudStore = fraud.NewMemoryStore()
		earningsStore = earnings.NewMemoryStore()
		payoutStore = payout.NewMemoryStore()
		locker = jobs.NewMemoryLocker()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Services.
	s.ledgerSvc = ledger.NewService(ledgerStore)
	s.trackingSvc = tracking.NewService(trackingStore, campaignStore)
	s.fraudSvc = fraud.NewService(fraudStore)
	s.earningsSvc = earnings.NewService(earningsStore, campaignStore, trackingStore)
	s.escrowSvc = escrow.NewService(escrowStore, ledgerStore, campaignStore).
		WithPaidRecorder(s.earningsSvc).
		WithDefaultCommission(cfg.PlatformCommission)
	s.payoutSvc = payout.NewService(payoutStore, ledgerStore, cfg.MinWithdrawal, cfg.TDSRate)

	// Background jobs. The fraud sweep looks back one interval plus slack so
	// consecutive sweeps overlap rather than leave gaps.
	sweeper := fraud.NewSweeper(fraudStore, trackingStore, campaignStore, cfg.SweepInterval+5*time.Minute)
	s.timers = append(s.timers,
		jobs.NewTimer("fraud_sweep", cfg.SweepInterval, sweeper.Run, locker, s.logger),
		jobs.NewTimer("earnings_reconcile", cfg.ReconcileInterval, s.earningsSvc.Reconcile, locker, s.logger),
	)

	if cfg.StripeAPIKey != "" {
		executor := payout.NewExecutor(payoutStore, ledgerStore,
			payout.NewStripeProvider(cfg.StripeAPIKey),
			cfg.ExecutorBatchSize, cfg.ProviderTimeout)
		s.timers = append(s.timers,
			jobs.NewTimer("payout_executor", cfg.ExecutorInterval, executor.Run, locker, s.logger))
		s.logger.Info("payout executor enabled")
	} else {
		s.logger.Warn("STRIPE_API_KEY not set, approved payouts will stay pending")
	}

	if cfg.InsightsAPIURL != "" {
		if err := security.ValidateEndpointURL(cfg.InsightsAPIURL); err != nil && cfg.IsProduction() {
			return nil, fmt.Errorf("invalid INSIGHTS_API_URL: %w", err)
		}
		provider := insights.NewHTTPProvider(cfg.InsightsAPIURL, cfg.ProviderTimeout)
		collector := insights.NewCollector(provider, s.trackingSvc)
		s.timers = append(s.timers,
			jobs.NewTimer("insights_collect", cfg.InsightsInterval, collector.Run, locker, s.logger))
		s.logger.Info("insights collector enabled", "url", cfg.InsightsAPIURL)
	} else {
		s.logger.Warn("INSIGHTS_API_URL not set, view snapshots must be appended manually")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides the password in a connection string for logging.
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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitRPM / 6,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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

// adminAuthMiddleware guards the admin group with a shared secret header.
// Without ADMIN_SECRET configured the group only works in development.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			if !s.cfg.IsDevelopment() {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "admin_disabled",
					"message": "Admin API is not configured",
				})
				return
			}
			c.Set("admin", "dev")
			c.Next()
			return
		}

		secret := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid admin secret",
			})
			return
		}
		c.Set("admin", "admin")
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	root := s.router.Group("")

	// Public surface: wallet reads, escrow lifecycle, click redirect and
	// conversion ingest.
	ledgerHandler := ledger.NewHandler(s.ledgerSvc, s.logger)
	ledgerHandler.RegisterRoutes(root)

	escrowHandler := escrow.NewHandler(s.escrowSvc, s.logger)
	escrowHandler.RegisterRoutes(root)

	trackingHandlers := tracking.NewHandlers(s.trackingSvc)
	trackingHandlers.RegisterRoutes(root)

	payoutHandlers := payout.NewHandlers(s.payoutSvc, s.ledgerSvc)
	payoutHandlers.RegisterRoutes(root)

	// Admin surface: fraud review, payout approval, wallet provisioning.
	admin := s.router.Group("/admin")
	admin.Use(s.adminAuthMiddleware())

	fraudHandlers := fraud.NewHandlers(s.fraudSvc)
	fraudHandlers.RegisterRoutes(admin)
	payoutHandlers.RegisterAdminRoutes(admin)
	ledgerHandler.RegisterAdminRoutes(admin)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

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

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background timers with graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
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

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	for _, t := range s.timers {
		go t.Start(runCtx)
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 30*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

// Shutdown gracefully stops the server, timers and storage.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	for _, t := range s.timers {
		t.Stop()
	}
	s.logger.Info("job timers stopped")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.shutdownOtel != nil {
		if err := s.shutdownOtel(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

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

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
