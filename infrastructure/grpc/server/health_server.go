package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name the relay reports under.
const ServiceName = "chat-relay"

// HealthServer exposes the standard grpc.health.v1 service. It reports
// SERVING while running and flips to NOT_SERVING before stopping, so
// probes see the relay draining before the port closes.
type HealthServer struct {
	log     *slog.Logger
	address string
	health  *health.Server
}

func NewHealthServer(log *slog.Logger, address string) *HealthServer {
	return &HealthServer{log: log, address: address, health: health.NewServer()}
}

func (h *HealthServer) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", h.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.address, err)
	}
	return h.Serve(ctx, listener)
}

func (h *HealthServer) Serve(ctx context.Context, listener net.Listener) error {
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, h.health)
	h.health.Resume()
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	errChan := make(chan error, 1)
	go func() {
		h.log.Info("Starting gRPC health server", "address", listener.Addr().String(), "at", time.Now().UTC())
		if err := s.Serve(listener); err != nil && err != grpc.ErrServerStopped {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		h.health.Shutdown()
		s.GracefulStop()
		h.log.Info("gRPC health server stopped")
		return nil
	case err := <-errChan:
		s.Stop()
		return err
	}
}
