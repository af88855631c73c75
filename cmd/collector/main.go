package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pagebeat/pagebeat/internal/activity"
	"github.com/pagebeat/pagebeat/internal/config"
	"github.com/pagebeat/pagebeat/internal/gateway/handlers"
	"github.com/pagebeat/pagebeat/internal/gateway/server"
	"github.com/pagebeat/pagebeat/internal/gateway/service"
	"github.com/pagebeat/pagebeat/internal/logging"
	"github.com/pagebeat/pagebeat/internal/ratelimit"

	natsclient "github.com/pagebeat/pagebeat/internal/messaging/nats"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("collector"))
	logging.SetDefault(logger)

	slog.Info("Starting collector",
		slog.Int("port", cfg.Server.Port),
		slog.String("broker_url", cfg.Broker.URL),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Broker connection is startup-fatal: a collector that cannot publish
	// has nothing useful to do.
	broker, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:      cfg.Broker.URL,
		Name:     "pagebeat-collector",
		Username: cfg.Broker.Username,
		Password: cfg.Broker.Password,
		Token:    cfg.Broker.Token,
		Timeout:  cfg.Broker.ConnectTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to connect to broker: %v", err)
	}
	defer broker.Close()

	streamCtx, streamCancel := context.WithTimeout(context.Background(), 30*time.Second)
	for _, sc := range []natsclient.StreamConfig{natsclient.EventsStream, natsclient.RetryStream, natsclient.DLQStream} {
		if _, err := broker.CreateOrUpdateStream(streamCtx, sc); err != nil {
			log.Fatalf("Failed to create stream %s: %v", sc.Name, err)
		}
	}
	streamCancel()

	// Activity gate and rate limiter share one Redis connection.
	var gate activity.Gate = activity.AllowAllGate{}
	var limiter ratelimit.RateLimiter = &ratelimit.NoOpRateLimiter{}
	var cache *activity.Cache
	if cfg.Cache.Enabled {
		cache, err = activity.NewCache(cfg.Cache.URL, logger.Logger)
		if err != nil {
			log.Printf("WARNING: activity cache unavailable, admitting all projects: %v", err)
		} else {
			gate = cache
			defer cache.Close()
			if cfg.Ingestion.RateLimitEnabled {
				limiter = ratelimit.NewFromClient(cache.Client(), cfg.Ingestion.RateLimitRequests, cfg.Ingestion.RateLimitWindow)
				log.Printf("Rate limiting enabled: %d requests per %s", cfg.Ingestion.RateLimitRequests, cfg.Ingestion.RateLimitWindow)
			}
		}
	} else {
		log.Println("Cache disabled, activity gating and rate limiting unavailable")
	}

	// Background reconciliation of activity flags from the project database.
	if cache != nil && cfg.Reconciler.PostgresDSN != "" {
		listerCtx, listerCancel := context.WithTimeout(context.Background(), 10*time.Second)
		lister, err := activity.NewPostgresLister(listerCtx, cfg.Reconciler.PostgresDSN)
		listerCancel()
		if err != nil {
			log.Printf("WARNING: reconciler disabled, postgres unavailable: %v", err)
		} else {
			defer lister.Close()
			reconciler := activity.NewReconciler(lister, cache, cfg.Reconciler.Interval, logger.Logger)
			reconcileCtx, reconcileCancel := context.WithCancel(context.Background())
			defer reconcileCancel()
			go reconciler.Run(reconcileCtx)
			log.Printf("Activity reconciler enabled (interval: %s)", cfg.Reconciler.Interval)
		}
	}

	ingestService := service.NewIngestService(broker, gate, cfg.Broker.PublishTimeout, logger.Logger)
	handler := handlers.NewCollectHandler(ingestService, limiter, cfg.Ingestion.MaxBodyBytes, logger.Logger)
	router := server.NewRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Collector listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down collector...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Collector stopped")
}
