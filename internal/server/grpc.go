package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC service name reported while a run executes.
const HealthService = "starstep.Engine"

// GRPCServer serves the standard gRPC health protocol for supervisors.
type GRPCServer struct {
	addr   string
	health *health.Server
	log    *slog.Logger
}

func NewGRPCServer(addr string, log *slog.Logger) *GRPCServer {
	if log == nil {
		log = slog.Default()
	}
	return &GRPCServer{addr: addr, health: health.NewServer(), log: log}
}

// SetServing flips the engine service status.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(HealthService, st)
}

// Start listens until ctx is canceled.
func (s *GRPCServer) Start(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, listen)
}

// Serve uses an existing listener.
func (s *GRPCServer) Serve(ctx context.Context, listen net.Listener) error {
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, s.health)
	s.SetServing(true)

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		grpcServer.GracefulStop()
	}()

	s.log.Info("gRPC health server starting", "addr", listen.Addr().String())
	return grpcServer.Serve(listen)
}
