package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/formdesk-api/api/swagger"
	"github.com/noah-isme/formdesk-api/internal/handler"
	"github.com/noah-isme/formdesk-api/internal/middleware"
	"github.com/noah-isme/formdesk-api/internal/repository"
	"github.com/noah-isme/formdesk-api/internal/service"
	"github.com/noah-isme/formdesk-api/pkg/cache"
	"github.com/noah-isme/formdesk-api/pkg/config"
	"github.com/noah-isme/formdesk-api/pkg/database"
	"github.com/noah-isme/formdesk-api/pkg/jobs"
	"github.com/noah-isme/formdesk-api/pkg/logger"
	reqidmiddleware "github.com/noah-isme/formdesk-api/pkg/middleware/requestid"
)

// @title FormDesk API
// @version 1.0.0
// @description Student request forms routed to departments through categories
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if err := database.EnsureSchema(ctx, db); err != nil {
		return err
	}

	// A disabled or unreachable Redis degrades to an uncached statistics path.
	var redisClient redis.UniversalClient
	if client, err := cache.NewRedis(cfg.Redis); err == nil {
		redisClient = client
		defer client.Close()
	} else if !errors.Is(err, cache.ErrDisabled) {
		logr.Warn("redis unavailable, statistics cache disabled", zap.Error(err))
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	users := repository.NewUserRepository(db)
	departments := repository.NewDepartmentRepository(db)
	categories := repository.NewCategoryRepository(db)
	forms := repository.NewFormRepository(db)
	responses := repository.NewResponseRepository(db)
	workflowRepo := repository.NewWorkflowRepository(db)
	audits := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Statistics.CacheTTL, logr, cfg.Statistics.CacheEnabled && redisClient != nil)
	statistics := service.NewStatisticsService(repository.NewStatisticsRepository(db), departments, cacheSvc, metrics, cfg.Statistics.CacheTTL, logr)

	authSvc := service.NewAuthService(users, audits, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		SingleSession:      cfg.JWT.SingleSession,
		SelfRegistration:   cfg.Accounts.SelfRegistration,
	})
	workflow := service.NewWorkflowService(forms, responses, workflowRepo, statistics, audits, metrics, logr)

	if cfg.Reconcile.Enabled {
		queue := jobs.NewQueue("reconcile", service.NewReconcileWorker(workflow, logr).Handle, jobs.QueueConfig{
			Workers:    cfg.Reconcile.Workers,
			BufferSize: 1,
			MaxRetries: cfg.Reconcile.Retries,
			RetryDelay: cfg.Reconcile.RetryDelay,
			Timeout:    cfg.Reconcile.Timeout,
			Logger:     logr,
		})
		queue.Start(ctx)
		defer queue.Stop()

		scheduler, err := service.NewReconcileScheduler(cfg.Reconcile.Schedule, queue, logr)
		if err != nil {
			return fmt.Errorf("reconcile schedule %q: %w", cfg.Reconcile.Schedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	handler.RegisterRoutes(r, cfg.APIPrefix, authSvc, handler.Handlers{
		Auth:        handler.NewAuthHandler(authSvc),
		Forms:       handler.NewFormHandler(service.NewFormService(forms, responses, categories, users, statistics, audits, logr)),
		Workflow:    handler.NewWorkflowHandler(workflow),
		Departments: handler.NewDepartmentHandler(service.NewDepartmentService(departments, statistics, audits, validate, logr)),
		Categories:  handler.NewCategoryHandler(service.NewCategoryService(categories, departments, statistics, audits, validate, logr)),
		Users:       handler.NewUserHandler(service.NewUserService(users, departments, audits, validate, logr)),
		Statistics:  handler.NewStatisticsHandler(statistics),
		Ops:         handler.NewMetricsHandler(metrics.Handler(), readinessChecks(db, redisClient)),
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: len(origins) > 0,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func readinessChecks(db *sqlx.DB, client redis.UniversalClient) map[string]handler.Pinger {
	checks := map[string]handler.Pinger{"postgres": db}
	if client != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	return checks
}
