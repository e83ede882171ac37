package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"collaborative-draft-editor/auth"
	"collaborative-draft-editor/internal/config"
	"collaborative-draft-editor/internal/conflict"
	"collaborative-draft-editor/internal/db"
	"collaborative-draft-editor/internal/media"
	"collaborative-draft-editor/internal/middleware"
	"collaborative-draft-editor/internal/notify"
	"collaborative-draft-editor/internal/publish"
	"collaborative-draft-editor/internal/recovery"
	"collaborative-draft-editor/internal/session"
	"collaborative-draft-editor/internal/store"
	"collaborative-draft-editor/internal/store/badgerstore"
	"collaborative-draft-editor/internal/store/memory"
	"collaborative-draft-editor/internal/store/postgres"
	"collaborative-draft-editor/internal/transform"
	"collaborative-draft-editor/internal/version"
	"collaborative-draft-editor/internal/worker"
	"collaborative-draft-editor/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	storeDriver string

	rootCmd = &cobra.Command{
		Use:   "draft-editor",
		Short: "Collaborative draft editing engine",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadConfig()
		},
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  serve,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := db.ConnectDb(); err != nil {
				return err
			}
			defer db.CloseDb()
			return db.Migrate()
		},
	}
)

func init() {
	serveCmd.Flags().StringVar(&storeDriver, "store", "", "durable store: memory, badger or postgres (overrides STORE_DRIVER)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore builds the durable store and returns a function releasing it
func openStore(driver string) (store.DurableStore, func(), error) {
	switch driver {
	case "memory":
		log.Println("[STORE] using in-memory store, state is lost on restart")
		return memory.New(), func() {}, nil
	case "badger":
		s, err := badgerstore.Open(badgerstore.DefaultConfig(config.AppConfig.BadgerPath))
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Printf("[STORE] closing badger: %v", err)
			}
		}, nil
	case "postgres":
		if err := db.ConnectDb(); err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(); err != nil {
			db.CloseDb()
			return nil, nil, err
		}
		return postgres.NewRepository(db.AppDb), db.CloseDb, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", driver)
}

func serve(cmd *cobra.Command, args []string) error {
	cfg := config.AppConfig
	if storeDriver != "" {
		cfg.StoreDriver = storeDriver
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	durable, closeStore, err := openStore(cfg.StoreDriver)
	if err != nil {
		return err
	}
	defer closeStore()
	durable = store.WithRetry(durable, store.RetryPolicy{
		Attempts: uint(cfg.StorageRetryAttempts),
		Initial:  cfg.StorageRetryInitial,
		Max:      2 * time.Second,
	})

	redisClient := redis.Connect(ctx, cfg.RedisAddress)
	if redisClient != nil {
		defer redisClient.Close()
	}
	versions := version.NewStore(durable, redis.NewCache(redisClient))

	pool := worker.NewWorkerPool(cfg.NotifyWorkers)
	defer pool.Shutdown()
	var dispatchers notify.Multi
	if cfg.NotifyURL != "" {
		dispatchers = append(dispatchers, notify.NewEventDispatcher(notify.NewHTTPSender(cfg.NotifyURL, cfg.InternalSecret)))
	}
	if redisClient != nil {
		dispatchers = append(dispatchers, notify.NewEventDispatcher(notify.NewRedisSender(redisClient)))
	}

	mediaStore, err := media.NewLocalStorage(cfg.MediaDir, cfg.MediaBaseURL)
	if err != nil {
		return err
	}

	engine := transform.NewEngine(cfg.RebaseWindow)
	arbiter := conflict.NewResolver()
	recoveryManager := recovery.NewManager(durable, versions, engine, arbiter, recovery.Policy{
		EveryEdits:        cfg.SnapshotEveryEdits,
		Interval:          cfg.SnapshotInterval,
		InactivityTimeout: cfg.InactivityTimeout,
	})
	policy := recoveryManager.Policy()
	log.Printf("[RECOVERY] snapshot every %d edits or %s, abandon after %s", policy.EveryEdits, policy.Interval, policy.InactivityTimeout)
	manager := session.NewManager(session.Deps{
		Store:     durable,
		Versions:  versions,
		Engine:    engine,
		Arbiter:   arbiter,
		Recovery:  recoveryManager,
		Notifier:  notify.NewAsync(dispatchers, pool),
		Publisher: publish.NewClient(cfg.PublishURL, cfg.InternalSecret),
	})
	defer manager.Shutdown()

	sessionHandler := session.NewHandler(manager)
	mediaHandler := media.NewHandler(mediaStore)
	authMiddleware := &middleware.Auth{Issuer: auth.NewIssuer(cfg.JWTSecret), InternalSecret: cfg.InternalSecret}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}
	if cfg.Environment == "development" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{cfg.FrontendAddress}
	}
	router.Use(cors.New(corsConfig))
	router.Use(middleware.ErrorHandler())

	api := router.Group("/", authMiddleware.AuthMiddleWare())
	sessionHandler.Register(api)
	api.POST("/media", mediaHandler.Upload)
	if strings.HasPrefix(cfg.MediaBaseURL, "/") {
		router.Static(cfg.MediaBaseURL, cfg.MediaDir)
	}

	// internal use routes
	internal := router.Group("/internal", authMiddleware.InternalAuthMiddleware())
	internal.POST("/sessions/:id/recover", sessionHandler.Recover)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Server listening on port %s (store: %s)", cfg.ServerPort, cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return recoveryManager.Run(gctx, manager)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Println("Server shutdown error:", err)
		}
		manager.SnapshotDue(shutdownCtx)
		return nil
	})

	err = g.Wait()
	log.Println("Server shutdown complete")
	return err
}
