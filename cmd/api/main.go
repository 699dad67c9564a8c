package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gatherly.app/internal/auth"
	"gatherly.app/internal/config"
	"gatherly.app/internal/httpapi"
	"gatherly.app/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := obs.ConfigureLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	obs.Init()
	build := obs.ResolveBuildInfo(version, commit)
	if err := obs.PublishBuildInfo(prometheus.DefaultRegisterer, build); err != nil {
		logger.Warn("build info metric unavailable", zap.Error(err))
	}
	logger.Info("starting", zap.String("version", build.Version),
		zap.String("commit", build.Commit), zap.String("go_version", build.GoVersion))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("gatherly-api stopped", zap.Error(err))
	}
	logger.Info("stopped")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	b, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.close(); err != nil {
			logger.Warn("close backend", zap.Error(err))
		}
	}()

	var issuer *auth.Issuer
	if cfg.Auth.Secret != "" {
		if issuer, err = auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL); err != nil {
			return err
		}
	} else {
		logger.Warn("auth secret not configured; all /v1 requests will be rejected")
	}

	ready := httpapi.Readiness{Store: b.pinger}
	api := httpapi.New(b.services, ready, httpapi.Options{
		Version:        version,
		Issuer:         issuer,
		DevTokens:      cfg.Auth.DevTokens,
		RateBurst:      cfg.RateLimit.Burst,
		RatePerSec:     cfg.RateLimit.PerSecond,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Logger:         logger,
	})
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	health := httpapi.NewHealthServer(ready, logger)
	grpcSrv := httpapi.NewGRPCServer(health)

	var lis net.Listener
	if cfg.GRPCAddr != "" {
		if lis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening",
			zap.String("addr", srv.Addr),
			zap.String("version", version),
			zap.String("backend", b.name),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	if lis != nil {
		g.Go(func() error {
			logger.Info("grpc health listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				return fmt.Errorf("grpc: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		health.Run(gctx, 10*time.Second)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		grpcSrv.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
