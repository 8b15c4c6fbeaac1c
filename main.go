package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bingohall/bingo"
	"bingohall/config"
	"bingohall/handlers"
	"bingohall/middleware"
	"bingohall/models"
	"bingohall/routes"
	"bingohall/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file loaded when present")
	createTenant := flag.String("create-tenant", "", "create a tenant with this subdomain and exit")
	tenantName := flag.String("tenant-name", "", "display name for -create-tenant")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load env file:", err)
		os.Exit(1)
	}

	// Load configuration
	cfg := config.Load()

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger, *createTenant, *tenantName); err != nil {
		logger.Fatalw("server stopped", "error", err)
	}
}

func run(cfg *config.Config, logger *zap.SugaredLogger, createTenant, tenantName string) error {
	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		return err
	}
	if err := models.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	tenantService := services.NewTenantService(db, cfg.BaseDomain)
	if createTenant != "" {
		tenant, err := tenantService.CreateTenant(context.Background(), createTenant, tenantName)
		if err != nil {
			return err
		}
		logger.Infow("tenant created", "tenant_id", tenant.ID, "subdomain", tenant.Subdomain)
		return nil
	}

	// Initialize Redis
	redisClient := config.InitRedis(cfg)
	defer redisClient.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warnw("redis unavailable, round snapshots will come from the database", "error", err)
	}
	cancel()

	// Initialize services
	store := services.NewStore(db)
	pool := bingo.NewNumberPool(nil)
	machine := services.NewRoundStateMachine(store, pool, logger.Named("rounds"))
	verifier := services.NewWinnerVerifier(store, machine, logger.Named("claims"))
	roundCache := services.NewRoundCache(redisClient, cfg.RoundStateTTL, logger.Named("cache"))
	defer roundCache.Close()
	coordinator := services.NewCoordinator(store, machine, verifier, roundCache, cfg.ClaimTimeout, logger.Named("coordinator"))
	authService := services.NewAuthService(cfg.JWTSecret)
	authorizer := services.RoleAuthorizer{}
	gameService := services.NewGameService(db)
	patternService := services.NewPatternService(db)
	cardService := services.NewCardService(store, pool, logger.Named("cards"))

	// Initialize WebSocket hub
	hub := services.NewHub(coordinator, store, authService, authorizer, tenantService, services.HubConfig{
		AuthTimeout:    cfg.AuthTimeout,
		RequestTimeout: cfg.RequestTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
		SendBuffer:     cfg.ClientSendBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger.Named("gateway"))
	coordinator.Subscribe(hub)
	go hub.Run()

	if err := coordinator.ExpireStaleClaims(context.Background()); err != nil {
		logger.Warnw("expiring stale claims", "error", err)
	}

	// Initialize handlers
	patternHandler := handlers.NewPatternHandler(patternService)
	gameHandler := handlers.NewGameHandler(gameService, cardService, coordinator, authorizer)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger.Named("http")))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	routes.SetupRoutes(router, patternHandler, gameHandler, hub, authService)

	srv := &http.Server{
		Addr:    cfg.BindAddress + ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	hub.Stop()
	coordinator.Close()
	return err
}
