package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/consentgrid/proofengine/internal/auditlog"
	"github.com/consentgrid/proofengine/internal/cache"
	"github.com/consentgrid/proofengine/internal/delegation"
	"github.com/consentgrid/proofengine/internal/facts"
	"github.com/consentgrid/proofengine/internal/hgtp"
	"github.com/consentgrid/proofengine/internal/proof"
	"github.com/consentgrid/proofengine/internal/proof/handler"
	"github.com/consentgrid/proofengine/internal/signing"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("proof engine exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("proofengine")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("engine.port", 8080)
	viper.SetDefault("engine.issuer_url", "")
	viper.SetDefault("engine.rate_limit_rps", 20)
	viper.SetDefault("engine.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("engine.sweep_interval", "1h")
	viper.SetDefault("engine.tenants", []string{"default"})
	viper.SetDefault("database.url", "")
	viper.SetDefault("signing.private_key_hex", "")
	viper.SetDefault("signing.public_key_hex", "")
	viper.SetDefault("signing.token_ttl_seconds", 3600)
	viper.SetDefault("hgtp.l0_url", "")
	viper.SetDefault("hgtp.l1_url", "")
	viper.SetDefault("hgtp.timeout", "10s")
	viper.SetDefault("hgtp.max_retries", 3)
	viper.SetDefault("cache.backend", "memory")
	viper.SetDefault("cache.dir", "cachedata")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Signing context ──────────────────────────────────────────────────────
	signer, err := signing.NewContext(
		viper.GetString("signing.private_key_hex"),
		viper.GetString("signing.public_key_hex"),
	)
	if err != nil {
		return fmt.Errorf("signing setup: %w", err)
	}
	if !signer.CanSign() {
		logger.Warn("no signing key configured; bundles will carry the unsigned sentinel")
	}

	// ── Storage ──────────────────────────────────────────────────────────────
	// An empty database.url selects the in-memory store for development.
	var (
		store proof.Store
		audit auditlog.Log
		src   proof.FactSource
	)
	dbURL := viper.GetString("database.url")
	if dbURL != "" {
		db, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()
		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		store = proof.NewPostgresStore(db)
		audit = auditlog.NewPostgresLog(db, logger)
		src = facts.NewRepository(db)
	} else {
		logger.Warn("database.url not set; using in-memory storage")
		store = proof.NewMemoryStore()
		audit = auditlog.New()
		src = facts.NewMemorySource()
	}

	startCtx := context.Background()
	if err := audit.Verify(startCtx); err != nil {
		logger.Warn("audit chain integrity check FAILED", zap.Error(err))
	} else {
		n, _ := audit.Len(startCtx)
		root, _ := audit.Root(startCtx)
		logger.Info("audit chain verified", zap.Int("entries", n), zap.String("root", root))
	}

	// ── Cache ────────────────────────────────────────────────────────────────
	var proofCache cache.Cache
	switch viper.GetString("cache.backend") {
	case "badger":
		b, err := cache.NewBadger(viper.GetString("cache.dir"), logger)
		if err != nil {
			return fmt.Errorf("open badger cache: %w", err)
		}
		defer b.Close() //nolint:errcheck
		proofCache = b
		logger.Info("badger cache ready", zap.String("dir", viper.GetString("cache.dir")))
	default:
		proofCache = cache.NewMemory()
	}

	// ── Service ──────────────────────────────────────────────────────────────
	svc := proof.NewService(store, src, signer, logger)
	svc.SetAuditLog(audit)
	svc.SetCache(proofCache)
	svc.SetMetricsRecorder(handler.RecordOperation)

	httpPort := viper.GetInt("engine.port")
	issuerURL := viper.GetString("engine.issuer_url")
	if issuerURL == "" {
		issuerURL = fmt.Sprintf("http://localhost:%d", httpPort)
	}
	if signer.CanSign() {
		tokenTTL := time.Duration(viper.GetInt("signing.token_ttl_seconds")) * time.Second
		svc.SetTokenIssuer(delegation.NewTokenIssuer(signer.PrivateKey(), issuerURL, tokenTTL))
	}

	// ── Ledger client ────────────────────────────────────────────────────────
	var snapshotSrc handler.SnapshotReader
	l0URL := viper.GetString("hgtp.l0_url")
	l1URL := viper.GetString("hgtp.l1_url")
	if l0URL != "" || l1URL != "" {
		timeout, _ := time.ParseDuration(viper.GetString("hgtp.timeout"))
		policy := hgtp.DefaultRetryPolicy()
		if n := viper.GetInt("hgtp.max_retries"); n > 0 {
			policy.MaxAttempts = n
		}
		ledger := hgtp.NewClient(l0URL, l1URL, timeout, policy, logger)
		ledger.SetRetryObserver(handler.RecordLedgerRetry)
		if l0URL != "" {
			svc.SetSnapshotSource(ledger)
			snapshotSrc = ledger
		}
		if l1URL != "" {
			svc.SetLedgerSubmitter(ledger)
			svc.SetSubmissionRecorder(handler.RecordLedgerSubmission)
		}
		logger.Info("ledger client configured",
			zap.String("l0_url", l0URL), zap.String("l1_url", l1URL))
	} else {
		logger.Warn("hgtp urls not set; ledger anchoring and snapshot cross-checks disabled")
	}

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("engine.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Tenant-ID", "X-Actor"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	rps := viper.GetInt("engine.rate_limit_rps")
	if rps > 0 {
		router.Use(handler.RateLimiter(rps, rps*2))
	}

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/v1")
	handler.NewProofHandler(svc, logger).Register(v1)
	handler.NewAuditHandler(audit, logger).Register(v1)
	if snapshotSrc != nil {
		handler.NewSnapshotHandler(snapshotSrc, logger).Register(v1)
	}

	// A single signal would be consumed by whichever receiver wins, so the
	// sweeper and main both wait on a channel closed after the first signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	shutdown := make(chan struct{})
	go func() {
		<-quit
		close(shutdown)
	}()

	// ── Background: sweep expired bundles per tenant ─────────────────────────
	sweepInterval, _ := time.ParseDuration(viper.GetString("engine.sweep_interval"))
	if sweepInterval > 0 {
		tenants := viper.GetStringSlice("engine.tenants")
		go sweepLoop(sweepInterval, shutdown, func() {
			for _, tenant := range tenants {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if _, err := svc.CleanupExpiredProofs(ctx, tenant); err != nil {
					logger.Warn("expired proof sweep error",
						zap.String("tenant_id", tenant), zap.Error(err))
				}
				cancel()
			}
		})
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("proof engine HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-shutdown
	logger.Info("shutting down proof engine...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("proof engine stopped")
	return nil
}

// sweepLoop invokes sweep on every tick until stop is closed.
func sweepLoop(interval time.Duration, stop <-chan struct{}, sweep func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sweep()
		case <-stop:
			return
		}
	}
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
