package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/authmatrix/internal/actions"
	"github.com/odyssey-erp/authmatrix/internal/app"
	"github.com/odyssey-erp/authmatrix/internal/audit"
	audithttp "github.com/odyssey-erp/authmatrix/internal/audit/http"
	"github.com/odyssey-erp/authmatrix/internal/auth"
	"github.com/odyssey-erp/authmatrix/internal/matrix"
	"github.com/odyssey-erp/authmatrix/internal/observability"
	"github.com/odyssey-erp/authmatrix/internal/platform/cache"
	"github.com/odyssey-erp/authmatrix/internal/platform/db"
	"github.com/odyssey-erp/authmatrix/internal/rbac"
	"github.com/odyssey-erp/authmatrix/internal/roles"
	"github.com/odyssey-erp/authmatrix/internal/shared"
	"github.com/odyssey-erp/authmatrix/internal/store"
	"github.com/odyssey-erp/authmatrix/internal/store/memstore"
	"github.com/odyssey-erp/authmatrix/internal/users"
	"github.com/odyssey-erp/authmatrix/jobs"
	"github.com/odyssey-erp/authmatrix/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("open store", slog.String("driver", cfg.StoreDriver), slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, "authmatrix_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(st)
	gate := rbac.Gate{Profiles: st, Logger: logger, Metrics: metrics}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	matrixCache := cache.NewVersioned(redisClient, matrix.CacheNamespace, cfg.MatrixCacheTTL)
	loader := matrix.NewLoader(st, matrix.LoaderConfig{
		Cache:   matrixCache,
		Warmer:  jobClient,
		Metrics: metrics,
		Logger:  logger,
	})
	if err := matrixCache.ListenForInvalidation(ctx, loader.ForgetLocal); err != nil {
		logger.Warn("subscribe matrix invalidations", slog.Any("error", err))
	}

	rbacService := rbac.NewService(st, rbac.ServiceConfig{Audit: auditLogger, Invalidator: loader, Metrics: metrics, Logger: logger})
	authService := auth.NewService(st)
	rolesService := roles.NewService(st, roles.Config{Audit: auditLogger, Invalidator: loader, Logger: logger})
	actionsService := actions.NewService(st, actions.Config{Audit: auditLogger, Invalidator: loader, Logger: logger})
	usersService := users.NewService(st, authService, users.Config{Audit: auditLogger, Notifier: jobClient, Logger: logger})
	auditService := audit.NewService(st)

	if cfg.BootstrapEnabled() {
		created, err := usersService.Bootstrap(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword, cfg.BootstrapAdminName)
		if err != nil {
			logger.Error("bootstrap admin", slog.Any("error", err))
			os.Exit(1)
		}
		if created {
			logger.Info("bootstrap admin created", slog.String("email", cfg.BootstrapAdminEmail))
		}
	}

	matrixHandler := matrix.NewHandler(logger, loader, rbacService, gate)
	if cfg.GotenbergURL != "" {
		pdfClient := report.NewClient(cfg.GotenbergURL)
		if err := pdfClient.Ping(ctx); err != nil {
			logger.Warn("gotenberg unreachable, pdf export will fail until it recovers", slog.Any("error", err))
		}
		matrixHandler.WithPDF(report.MatrixPDF{Renderer: pdfClient})
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Gate:           gate,
		Metrics:        metrics,
		AuthHandler:    auth.NewHandler(logger, authService, sessionManager, csrfManager, st, auditLogger),
		MatrixHandler:  matrixHandler,
		RolesHandler:   roles.NewHandler(logger, rolesService, gate),
		ActionsHandler: actions.NewHandler(logger, actionsService, gate),
		UsersHandler:   users.NewHandler(logger, usersService, gate),
		AuditHandler:   audithttp.NewHandler(logger, auditService, gate),
		JobHandler:     jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func openStore(ctx context.Context, cfg *app.Config) (store.Store, func(), error) {
	if cfg.StoreDriver == app.StoreDriverMemory {
		return memstore.New(), func() {}, nil
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store.NewPostgres(pool), pool.Close, nil
}
