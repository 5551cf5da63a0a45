// Package grpcserver exposes monitoring state through the standard gRPC
// health service.
package grpcserver

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/monitor"
	"github.com/GriffinCanCode/screenwatch/internal/trace"
)

// MonitorService is the health service name that reports SERVING while a
// monitoring session is running. The empty service reports process liveness.
const MonitorService = "screenwatch.Monitor"

// Server is a gRPC server with health and reflection registered.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// New creates a server. Monitoring starts out NOT_SERVING.
func New() *Server {
	s := &Server{
		grpc: grpc.NewServer(
			grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor()),
			grpc.ChainStreamInterceptor(trace.StreamServerInterceptor()),
		),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(MonitorService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetMonitorState maps a monitor state onto MonitorService's serving status.
func (s *Server) SetMonitorState(st monitor.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if st == monitor.Running {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(MonitorService, status)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(lis) }()

	trace.Logger(ctx).Info("grpc server listening", "addr", lis.Addr().String())
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	}
}
