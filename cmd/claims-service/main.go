package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/lydianai/otoail.ailydian.com-sub002/internal/claims"
	"github.com/lydianai/otoail.ailydian.com-sub002/internal/notify"
	"github.com/lydianai/otoail.ailydian.com-sub002/internal/reference"
	"github.com/lydianai/otoail.ailydian.com-sub002/internal/settlement"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/config"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/database"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/interfaces"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/logger"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/monitoring"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/retry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel)
	log.Info("Starting Claims Service")

	// Initialize database connection
	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(); err != nil {
		log.WithError(err).Fatal("Failed to initialize database schema")
	}
	log.Info("Database connection established")

	// Initialize metrics
	metrics := monitoring.NewMetricsCollector()

	// Load the initial reference snapshot; the service cannot adjudicate
	// without one.
	refStore := reference.NewStore(db, log)
	refStore.SetMetrics(metrics)
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := refStore.Refresh(startupCtx); err != nil {
		startupCancel()
		log.WithError(err).Fatal("Failed to load initial reference snapshot")
	}
	startupCancel()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	go refStore.RunRefreshLoop(rootCtx, time.Duration(cfg.Reference.RefreshIntervalSec)*time.Second)

	// Initialize the dispatch guard. Redis coordinates dispatches across
	// replicas; a local guard keeps single-instance deployments working
	// without one.
	var guard settlement.DispatchGuard
	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("Redis unavailable, using in-process dispatch guard")
		guard = settlement.NewLocalDispatchGuard()
		redisClient = nil
	} else {
		guard = settlement.NewRedisDispatchGuard(redisClient, log)
	}
	pingCancel()

	// Initialize the event publisher
	var publisher interfaces.EventPublisher = notify.NopPublisher{}
	if cfg.Notifications.Enabled {
		p, err := notify.NewPublisher(cfg.Notifications.AMQPURL, cfg.Notifications.QueueName, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to RabbitMQ")
		}
		publisher = p
	}
	defer publisher.Close()

	// Initialize the ledger client
	caller := settlement.NewRPCContractCaller(&cfg.Ledger, log)
	ledgerPolicy := retry.Policy{
		MaxAttempts:    cfg.Ledger.MaxAttempts,
		InitialBackoff: time.Duration(cfg.Ledger.BackoffInitial) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Ledger.BackoffMax) * time.Millisecond,
	}
	ledgerClient := settlement.NewLedgerClient(caller, ledgerPolicy, metrics, log)

	// Initialize repositories and services
	repo := claims.NewRepository(db, log)

	claimService := claims.NewService(repo, refStore, publisher, metrics, log, claims.ServiceConfig{
		DuplicateWindow: time.Duration(cfg.Adjudication.DuplicateWindowDays) * 24 * time.Hour,
		AutoDispatch:    cfg.Settlement.AutoDispatch,
	})

	dispatcher := settlement.NewDispatcher(repo, refStore, ledgerClient, guard, publisher, metrics, log, settlement.DispatcherConfig{
		Currency:              cfg.Ledger.Currency,
		MaxRetries:            cfg.Settlement.MaxRetries,
		ConfirmTimeout:        cfg.Settlement.ConfirmTimeout(),
		PollInterval:          cfg.Settlement.PollInterval(),
		RequiredConfirmations: cfg.Settlement.RequiredConfirmations,
		RetryPolicy:           ledgerPolicy,
	})
	claimService.SetDispatcher(dispatcher)

	go dispatcher.RunSweep(rootCtx,
		time.Duration(cfg.Settlement.SweepIntervalSec)*time.Second,
		time.Duration(cfg.Settlement.SweepGraceSec)*time.Second)

	// Initialize health checks
	health := monitoring.NewHealthManager("claims-service")
	health.RegisterChecker("database", monitoring.NewDatabaseChecker(db.DB))
	if redisClient != nil {
		rc := redisClient
		health.RegisterChecker("redis", monitoring.PingFunc(func(ctx context.Context) error {
			return rc.Ping(ctx).Err()
		}))
	}

	// Setup HTTP router
	router := mux.NewRouter()
	router.Use(monitoring.HTTPMiddleware(metrics, log))

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	handlers := claims.NewHandlers(claimService, log)
	handlers.RegisterRoutes(apiRouter)

	apiRouter.HandleFunc("/reference/version", func(w http.ResponseWriter, r *http.Request) {
		snap := refStore.Current()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"version":   snap.Version,
			"loaded_at": snap.LoadedAt,
		})
	}).Methods("GET")

	if cfg.Monitoring.Enabled {
		router.Handle(cfg.Monitoring.MetricsPath, metrics.Handler())
	}
	router.HandleFunc(cfg.Monitoring.HealthPath, health.HTTPHandler())

	// Setup HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithField("addr", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Claims Service")

	rootCancel()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Failed to shutdown server gracefully")
	}

	// Wait for in-flight confirmation pollers; stuck settlements are picked
	// up by the sweep on restart.
	dispatcher.Shutdown()

	log.Info("Claims Service stopped")
}
