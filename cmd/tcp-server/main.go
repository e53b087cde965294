package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"commlink/internal/config"
	"commlink/internal/logging"
	"commlink/internal/metrics"
	"commlink/internal/microservices/http-api/handler"
	"commlink/internal/microservices/tcp"
	"commlink/internal/presenter"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Setup structured logging
	logger, logFile := logging.New("server", logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Dir:    cfg.LogDir,
	})
	defer logFile.Close()
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	console := presenter.NewConsole(os.Stdout, presenter.NewScreenshotSaver(cfg.ScreenshotDir))

	opts := []tcp.ServerOption{
		tcp.WithLogger(logger),
		tcp.WithMetrics(m),
		tcp.WithPresenter(console),
	}

	// Optional live session directory in Redis
	var store *tcp.RedisSessionStore
	var storeRefresh time.Duration
	if cfg.RedisURL != "" {
		store, err = tcp.NewRedisSessionStore(cfg.RedisURL, cfg.RedisPassword, cfg.SessionTTL)
		if err != nil {
			logger.Warn("redis_unavailable_continuing_without_session_store", "error", err.Error())
			store = nil
		} else {
			logger.Info("redis_session_store_enabled", "instance_id", store.InstanceID())
			opts = append(opts, tcp.WithSessionStore(store))
			// re-announce live peers well before their entries expire
			storeRefresh = cfg.SessionTTL / 2
		}
	}

	server := tcp.NewServer(tcp.ServerConfig{
		Addr:          cfg.TCPAddr(),
		MaxFrameSize:  uint64(cfg.MaxFrameSize),
		WriteTimeout:  cfg.WriteTimeout,
		ChatRateLimit: cfg.ChatRateLimit,
		ChatBurst:     cfg.ChatBurst,
		ShutdownGrace: cfg.ShutdownGrace,
		StoreRefresh:  storeRefresh,
	}, opts...)

	logger.Info("starting_tcp_server", "tcp_addr", cfg.TCPAddr())

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	var statusServer *http.Server
	if cfg.StatusAddr != "" {
		if cfg.IsProduction() {
			gin.SetMode(gin.ReleaseMode)
		}
		statusServer = &http.Server{
			Addr: cfg.StatusAddr,
			Handler: handler.NewRouter(server, handler.RouterOptions{
				Logger:   logger,
				Gatherer: reg,
				Token:    cfg.StatusToken,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status_api_listening", "addr", cfg.StatusAddr)
			if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()
	}

	// Operator console on stdin
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quitChan := make(chan struct{})
	go func() {
		op := presenter.NewOperator(server, os.Stdout)
		err := op.Run(ctx, os.Stdin)
		switch {
		case errors.Is(err, presenter.ErrQuit):
			close(quitChan)
		case err != nil:
			logger.Warn("operator_console_error", "error", err.Error())
		default:
			// stdin closed (detached); keep serving until a signal arrives
			logger.Info("operator_console_closed")
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigChan:
		logger.Info("received_shutdown_signal")
	case <-quitChan:
		logger.Info("operator_requested_shutdown")
	case err := <-errChan:
		logger.Error("server_error", "error", err.Error())
		exitCode = 1
	}

	cancel()
	if statusServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status_api_shutdown_failed", "error", err.Error())
		}
		done()
	}
	server.Stop()

	if store != nil {
		clearCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
		if err := store.Clear(clearCtx); err != nil {
			logger.Warn("redis_clear_failed", "error", err.Error())
		}
		done()
		store.Close()
	}
	logger.Info("server_stopped_gracefully")

	if exitCode != 0 {
		logFile.Close()
		os.Exit(exitCode)
	}
}
