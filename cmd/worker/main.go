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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pagebeat/pagebeat/internal/config"
	"github.com/pagebeat/pagebeat/internal/logging"
	"github.com/pagebeat/pagebeat/internal/messaging"
	"github.com/pagebeat/pagebeat/internal/sink"
	"github.com/pagebeat/pagebeat/internal/worker"

	natsclient "github.com/pagebeat/pagebeat/internal/messaging/nats"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	metricsPort := flag.Int("metrics-port", 9091, "port for metrics and health endpoints")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("worker"))
	logging.SetDefault(logger)

	slog.Info("Starting worker",
		slog.String("broker_url", cfg.Broker.URL),
		slog.String("sink_url", cfg.Sink.URL),
		slog.Int("max_retries", cfg.Retry.MaxRetries),
	)

	broker, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:      cfg.Broker.URL,
		Name:     "pagebeat-worker",
		Username: cfg.Broker.Username,
		Password: cfg.Broker.Password,
		Token:    cfg.Broker.Token,
		Timeout:  cfg.Broker.ConnectTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to connect to broker: %v", err)
	}
	defer broker.Close()

	setupCtx, setupCancel := context.WithTimeout(context.Background(), 60*time.Second)
	for _, sc := range []natsclient.StreamConfig{natsclient.EventsStream, natsclient.RetryStream, natsclient.DLQStream} {
		if _, err := broker.CreateOrUpdateStream(setupCtx, sc); err != nil {
			log.Fatalf("Failed to create stream %s: %v", sc.Name, err)
		}
	}

	sinkClient, err := sink.NewClient(sink.Config{
		URL:           cfg.Sink.URL,
		Username:      cfg.Sink.Username,
		Password:      cfg.Sink.Password,
		TLSSkipVerify: cfg.Sink.TLSSkipVerify,
		IndexPrefix:   cfg.Sink.IndexPrefix,
		ShardCount:    cfg.Sink.ShardCount,
		ReplicaCount:  cfg.Sink.ReplicaCount,
	})
	if err != nil {
		log.Fatalf("Failed to create sink client: %v", err)
	}

	// Template and current index must exist before the first write.
	if err := sinkClient.Initialize(setupCtx); err != nil {
		log.Fatalf("Failed to initialize sink schema: %v", err)
	}
	setupCancel()

	w := worker.New(broker, sinkClient, worker.Config{
		MaxRetries:     cfg.Retry.MaxRetries,
		InitialBackoff: time.Duration(cfg.Retry.InitialBackoffMS) * time.Millisecond,
		Multiplier:     cfg.Retry.BackoffMultiplier,
		WriteTimeout:   cfg.Sink.WriteTimeout,
	}, logger.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopMain, err := broker.Consume(ctx, messaging.StreamEvents,
		natsclient.DefaultConsumerConfig(messaging.ConsumerMain, messaging.SubjectEventsPrefix+">"),
		w.HandleMain,
	)
	if err != nil {
		log.Fatalf("Failed to consume main stream: %v", err)
	}
	defer stopMain()

	stopRetry, err := broker.Consume(ctx, messaging.StreamRetry,
		natsclient.DefaultConsumerConfig(messaging.ConsumerRetry, messaging.SubjectRetryPrefix+">"),
		w.HandleRetry,
	)
	if err != nil {
		log.Fatalf("Failed to consume retry stream: %v", err)
	}
	defer stopRetry()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		if broker.IsConnected() {
			fmt.Fprintln(rw, `{"ok":true,"service":"worker"}`)
			return
		}
		rw.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(rw, `{"ok":false,"service":"worker"}`)
	})

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *metricsPort),
		Handler: mux,
	}
	go func() {
		log.Printf("Worker metrics listening on %s", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server error: %v", err)
		}
	}()

	log.Println("Worker consuming events")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	// Drain lets the in-flight message finish before the connection closes.
	if err := broker.Drain(); err != nil {
		log.Printf("WARNING: broker drain failed: %v", err)
	}

	log.Println("Worker stopped")
}
