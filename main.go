// Package main provides the main entry point for the broadcast audience and delivery service
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/amirphl/broadcast-hub/app/handlers"
	"github.com/amirphl/broadcast-hub/app/middleware"
	"github.com/amirphl/broadcast-hub/app/router"
	"github.com/amirphl/broadcast-hub/app/scheduler"
	"github.com/amirphl/broadcast-hub/app/services"
	businessflow "github.com/amirphl/broadcast-hub/business_flow"
	"github.com/amirphl/broadcast-hub/config"
	"github.com/amirphl/broadcast-hub/repository"
	"github.com/amirphl/broadcast-hub/utils"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
	closers   []func()
}

func main() {
	issueToken := flag.String("issue-token", "", "print a service token for the given subject and exit")
	revokeToken := flag.String("revoke-token", "", "revoke the given service token and exit")
	flag.Parse()

	cfg, err := config.LoadProductionConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	utils.InitLogger(utils.LoggerOptions{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Service:    "broadcast-hub",
	})

	if *issueToken != "" {
		if err := printServiceToken(cfg, *issueToken); err != nil {
			log.Fatal().Err(err).Msg("Failed to issue service token")
		}
		return
	}

	if *revokeToken != "" {
		if err := revokeServiceToken(cfg, *revokeToken); err != nil {
			log.Fatal().Err(err).Msg("Failed to revoke service token")
		}
		return
	}

	log.Info().Str("version", cfg.Deployment.Version).Str("env", cfg.Deployment.Environment).Msg("Starting broadcast hub...")

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Info().Str("address", address).Msg("Server starting")

		if err := app.router.Start(address); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-sigChan
	log.Info().Msg("Shutting down gracefully...")

	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}

	for _, fn := range app.closers {
		fn()
	}

	log.Info().Msg("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(&log.Logger, gormlogger.Config{
			SlowThreshold:             cfg.SlowQueryTime,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Int("max_open_conns", cfg.MaxOpenConns).
		Int("max_idle_conns", cfg.MaxIdleConns).
		Msg("Database connection established")

	return db, nil
}

// initializeCache initializes the redis client and verifies connectivity.
// It returns nil when the cache is disabled.
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Int("db", cfg.RedisDB).Msg("Redis connection established")
	return rc, nil
}

// startCacheHealthMonitor periodically pings redis to surface connectivity
// issues in the logs. The returned function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Warn().Err(err).Msg("Redis healthcheck failed")
				}
				c()
			}
		}
	}()
	return cancel
}

func newTokenService(cfg *config.ProductionConfig, rc *redis.Client) (services.TokenService, error) {
	if cfg.JWT.SecretKey == "" && !cfg.JWT.UseRSAKeys {
		return nil, nil
	}
	return services.NewTokenService(
		cfg.JWT.TokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.UseRSAKeys,
		cfg.JWT.PrivateKey,
		cfg.JWT.PublicKey,
		cfg.JWT.SecretKey,
		rc,
		cfg.Cache.RedisPrefix,
	)
}

func printServiceToken(cfg *config.ProductionConfig, subject string) error {
	tokenService, err := newTokenService(cfg, nil)
	if err != nil {
		return err
	}
	if tokenService == nil {
		return fmt.Errorf("JWT signing is not configured")
	}

	token, claims, err := tokenService.IssueServiceToken(subject)
	if err != nil {
		return err
	}

	fmt.Println(token)
	log.Info().Str("subject", subject).Str("jti", claims.ID).Time("expires_at", claims.ExpiresAt.Time).Msg("Service token issued")
	return nil
}

// revokeServiceToken records the token id in redis until the token expires.
// Revocation needs the cache to be enabled.
func revokeServiceToken(cfg *config.ProductionConfig, token string) error {
	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return err
	}
	if rc == nil {
		return fmt.Errorf("token revocation requires CACHE_ENABLED=true")
	}
	defer rc.Close()

	tokenService, err := newTokenService(cfg, rc)
	if err != nil {
		return err
	}
	if tokenService == nil {
		return fmt.Errorf("JWT signing is not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	claims, err := tokenService.RevokeToken(ctx, token)
	if err != nil {
		return err
	}

	log.Info().Str("subject", claims.Subject).Str("jti", claims.ID).Time("expires_at", claims.ExpiresAt.Time).Msg("Service token revoked")
	return nil
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	healthChecks := map[string]router.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}

	var locker businessflow.DeliveryLocker = businessflow.NoopDeliveryLocker{}
	if rc != nil {
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(context.Background(), rc, cfg.Cache.HealthCheckInterval))
		healthChecks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
		locker = businessflow.NewRedisDeliveryLocker(rc, cfg.Cache.RedisPrefix, cfg.Audience.LockTTL)
	} else {
		log.Warn().Msg("Redis disabled, concurrent materialize calls rely on ON CONFLICT only")
	}

	// Initialize repositories
	broadcastRepo := repository.NewBroadcastRepository(db)
	targetRepo := repository.NewBroadcastTargetRepository(db)
	subscriptionRepo := repository.NewUserSubscriptionRepository(db)
	audienceSQLRepo := repository.NewAudienceSQLRepository(db)
	deliveryRepo := repository.NewBroadcastDeliveryRepository(db)

	tokenService, err := newTokenService(cfg, rc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	if tokenService != nil {
		log.Info().Str("issuer", cfg.JWT.Issuer).Str("audience", cfg.JWT.Audience).Msg("Token service initialized")
	}

	limits := businessflow.AudienceLimits{
		PreviewDefault: cfg.Audience.PreviewDefaultLimit,
		PreviewMax:     cfg.Audience.PreviewMaxLimit,
		SampleSize:     cfg.Audience.PreviewSampleSize,
		ResolveCeiling: cfg.Audience.ResolveCeiling,
		ChunkSize:      cfg.Audience.ChunkSize,
	}

	// Initialize flows
	guard := businessflow.NewAudienceSQLGuard(audienceSQLRepo)
	audienceFlow := businessflow.NewAudienceFlow(subscriptionRepo, guard, limits)
	deliveryFlow := businessflow.NewDeliveryFlow(broadcastRepo, targetRepo, deliveryRepo, audienceFlow, locker, limits, db)
	broadcastFlow := businessflow.NewBroadcastFlow(broadcastRepo, targetRepo, deliveryFlow, db)

	// Initialize handlers
	audienceHandler := handlers.NewAudienceHandler(audienceFlow)
	deliveryHandler := handlers.NewDeliveryHandler(deliveryFlow)
	broadcastHandler := handlers.NewBroadcastHandler(broadcastFlow)

	authMiddleware := middleware.NewAuthMiddleware(tokenService, cfg.Security.AllowedAPIKeys, cfg.Security.APIKeyHeader)

	appRouter := router.NewFiberRouter(
		cfg,
		audienceHandler,
		deliveryHandler,
		broadcastHandler,
		authMiddleware,
		healthChecks,
	)

	if cfg.Scheduler.BroadcastDispatchEnabled {
		sched := scheduler.NewBroadcastScheduler(broadcastFlow, cfg.Scheduler.BroadcastDispatchInterval, cfg.Scheduler.BroadcastDispatchBatch)
		stopFuncs = append(stopFuncs, sched.Start(context.Background()))
	}

	closers := []func(){
		func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		},
	}
	if rc != nil {
		closers = append(closers, func() {
			if err := rc.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close redis client")
			}
		})
	}

	return &Application{
		router:    appRouter,
		config:    cfg,
		server:    appRouter.GetApp(),
		stopFuncs: stopFuncs,
		closers:   closers,
	}, nil
}
