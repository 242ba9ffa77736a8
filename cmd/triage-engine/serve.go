package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-triage/internal/api"
	"github.com/miradorstack/mirador-triage/internal/app"
	"github.com/miradorstack/mirador-triage/internal/metrics"
)

var serveOpts struct {
	tail bool
	poll bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the gRPC and HTTP APIs and run the configured ingesters",
	Long: `Serve starts the triage.v1.Triage gRPC service, the JSON HTTP API and the
Prometheus endpoint. With --tail it follows the configured log directory; with
--poll it drains unanalysed OpenSearch documents.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveOpts.tail, "tail", false, "Follow log files in the configured target directory")
	serveCmd.Flags().BoolVar(&serveOpts.poll, "poll", false, "Poll OpenSearch for unanalysed documents")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("starting triage-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	engine, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			logger.Error("shutdown flush failed", slog.Any("error", err))
		}
	}()

	server, err := api.NewServer(cfg.Server, engine.Service.GRPC())
	if err != nil {
		return err
	}

	var httpServer *http.Server
	if cfg.Server.HTTPAddress != "" {
		httpServer = &http.Server{
			Addr:         cfg.Server.HTTPAddress,
			Handler:      api.NewHTTPHandler(engine.Service, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 5 * time.Minute,
		}
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" && cfg.Server.MetricsAddress != cfg.Server.HTTPAddress {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("gRPC server listening", slog.String("address", server.Address()))
		return server.Start()
	})
	for _, srv := range []*http.Server{httpServer, metricsServer} {
		if srv == nil {
			continue
		}
		group.Go(func() error {
			logger.Info("http server listening", slog.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if serveOpts.tail {
		tailer, err := engine.NewTailer()
		if err != nil {
			return err
		}
		group.Go(func() error { return tailer.Run(gctx) })
	}
	if serveOpts.poll {
		if poller := engine.NewPoller(); poller != nil {
			group.Go(func() error { return poller.Run(gctx) })
		} else {
			logger.Warn("--poll ignored: OpenSearch is not configured")
		}
	}

	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
		for _, srv := range []*http.Server{httpServer, metricsServer} {
			if srv == nil {
				continue
			}
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("http server shutdown", slog.Any("error", err))
			}
		}
		return nil
	})

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("triage-engine stopped")
	return err
}
