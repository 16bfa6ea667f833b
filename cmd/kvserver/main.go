// Command kvserver runs the key-value and pub/sub server.
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

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"kvserver/internal/broker"
	"kvserver/internal/capacity"
	"kvserver/internal/config"
	"kvserver/internal/dispatch"
	"kvserver/internal/frame"
	"kvserver/internal/logging"
	"kvserver/internal/metrics"
	"kvserver/internal/storage"
	"kvserver/internal/streamsvc"
	"kvserver/internal/telemetry"
	"kvserver/internal/transport"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "kvserver",
		Short:         "Networked key-value store with topic pub/sub",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kvserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging, cfg.Telemetry.EnableLogFile)
	if err != nil {
		return err
	}
	defer logger.Sync() // nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	backend, err := storage.Open(cfg.Storage.Backend, cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer backend.Close()

	brk := broker.New(cfg.Broker.QueueCapacity)
	defer brk.Close()

	registry := metrics.NewRegistry()

	dispatcher := dispatch.New(backend, brk)
	dispatcher.Metrics = registry
	dispatcher.Tracer = provider.Tracer()

	algo, err := frame.ParseAlgo(cfg.Frame.Algorithm)
	if err != nil {
		return err
	}
	codec := &frame.Codec{Threshold: cfg.Frame.CompressionThreshold, Algorithm: algo}

	listener, err := transport.NewListener(cfg.Server.Protocol, cfg.Server.Addr, cfg.Server.CertFile, cfg.Server.KeyFile)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("listening",
		zap.String("protocol", cfg.Server.Protocol),
		zap.String("addr", listener.Addr()),
		zap.String("storage", cfg.Storage.Backend),
	)

	limiter := capacity.NewLimiter(cfg.Server.MaxSubstreams, cfg.Server.AcceptRate)

	handler := func(ctx context.Context, stream transport.Substream) {
		svc := streamsvc.New(stream, dispatcher, logger).WithCodec(codec)
		if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Debug("substream ended with error", zap.Error(err))
		}
	}
	srv := transport.NewServer(listener, handler, limiter, registry, logger)

	httpErrCh := make(chan error, 1)
	if cfg.Metrics.Enabled {
		go func() {
			httpErrCh <- runMetricsServer(ctx, cfg.Metrics, registry, limiter, logger)
		}()
	}

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- srv.Serve(ctx)
	}()

	serveDone := false
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErrCh:
		serveDone = true
		if err != nil {
			logger.Error("transport serve error", zap.Error(err))
			stop()
			return err
		}
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("metrics http server error", zap.Error(err))
		}
	}

	stop()
	if !serveDone {
		<-serveErrCh
	}
	logger.Info("transport stopped")
	return nil
}

func runMetricsServer(ctx context.Context, cfg config.MetricsConfig, registry *metrics.Registry, limiter *capacity.Limiter, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     "healthy",
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
			"substreams": limiter.Current(),
		})
	})
	mux.Handle(cfg.Endpoint, registry.Handler())

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics http server starting", zap.String("addr", cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
