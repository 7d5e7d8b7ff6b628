package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/efreitasn/escrowexchange/internal/config"
	"github.com/efreitasn/escrowexchange/internal/engine"
	"github.com/efreitasn/escrowexchange/internal/handler"
	"github.com/efreitasn/escrowexchange/internal/notify"
	"github.com/efreitasn/escrowexchange/internal/quote"
	"github.com/efreitasn/escrowexchange/internal/service"
	"github.com/efreitasn/escrowexchange/internal/store"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Ledger, durable when DATA_DIR is set.
	st := store.New()
	var journal io.Closer
	if cfg.DataDir != "" {
		pj, err := store.OpenPebble(cfg.DataDir)
		if err != nil {
			logger.Error("failed to open data dir", slog.String("error", err.Error()))
			os.Exit(1)
		}
		journal = pj

		st, err = store.Open(pj)
		if err != nil {
			logger.Error("failed to replay ledger", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("ledger replayed",
			slog.String("data_dir", cfg.DataDir),
			slog.Int("waiting_orders", st.WaitingCount()),
		)
	}

	// Event sinks.
	hub := notify.NewHub(logger)
	webhooks := notify.NewWebhookSink(&http.Client{Timeout: cfg.WebhookTimeout}, logger)
	sinks := notify.Fanout{hub, webhooks}
	var kafkaSink *notify.KafkaSink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink = notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		sinks = append(sinks, kafkaSink)
	}

	// Engine.
	quotes := quote.NewCache(cfg.QuoteMaxAge)
	settler := engine.NewSettler(st, sinks, engine.LogIncidentReporter{Logger: logger}, logger)
	intake := engine.NewIntake(st, logger)
	canceller := engine.NewCanceller(st, sinks, logger)
	sweeper := engine.NewSweeper(
		cfg.SweepInterval,
		cfg.SweepConcurrency,
		cfg.QuoteTimeout,
		st,
		quotes,
		settler,
		logger,
	)
	// A fresh quote sweeps right away instead of waiting for the next tick.
	quotes.OnUpdate(func(quote.Quote) { sweeper.Trigger() })

	// Services.
	memberSvc := service.NewMemberService(st)
	orderSvc := service.NewOrderService(st, intake, canceller)
	webhookSvc := service.NewWebhookService(webhooks, st)

	// Router.
	router := handler.NewRouter(memberSvc, orderSvc, webhookSvc, quotes, hub, logger)

	// Start the sweeper with cancellable context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeper.Start(ctx)

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start HTTP server in a goroutine.
	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Graceful shutdown: stop intake first, then let the in-flight sweep
	// finish so no settlement is cut between its locks and its commit.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	drained := true
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
		drained = false
	}
	cancel()
	awaitStop(shutdownCtx, sweeper.Done(), drained, journal, logger)

	webhooks.Wait()
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			logger.Error("kafka close error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}
