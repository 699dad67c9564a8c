package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"gatherly.app/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer publishes readiness over the standard gRPC health
// protocol, for the whole server ("") and for serviceName.
type HealthServer struct {
	*health.Server
	readiness readinessChecker
	logger    *zap.Logger
}

func NewHealthServer(r readinessChecker, logger *zap.Logger) *HealthServer {
	if logger == nil {
		logger = obs.Logger()
	}
	h := &HealthServer{Server: health.NewServer(), readiness: r, logger: logger}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *HealthServer) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.SetServingStatus("", st)
	h.SetServingStatus(serviceName, st)
}

// Refresh evaluates readiness once and publishes the result.
func (h *HealthServer) Refresh(ctx context.Context) error {
	err := h.readiness.Check(ctx)
	if err != nil {
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		obs.SetReady(false)
		return err
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	obs.SetReady(true)
	return nil
}

// Run refreshes readiness every interval until ctx ends, then marks the
// server as shutting down.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		if err := h.Refresh(checkCtx); err != nil && ctx.Err() == nil {
			h.logger.Warn("readiness check failed", zap.Error(err))
		}
		cancel()
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

// NewGRPCServer builds a gRPC server exposing h.
func NewGRPCServer(h *HealthServer, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, h.Server)
	return s
}
