// Package grpc exposes robot liveness through the standard gRPC health
// service so load balancers and probes can watch the arm without HTTP.
package grpc

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service reporting robot liveness. The empty
// service name reports the process itself and is always SERVING.
const ServiceName = "chira.robot"

// HealthServer implements ports.LivenessReporter on top of grpc health/v1.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
}

// NewHealthServer creates a gRPC server with the health service registered.
// The robot starts NOT_SERVING until the first live record.
func NewHealthServer(opts ...grpc.ServerOption) *HealthServer {
	s := grpc.NewServer(opts...)
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)

	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{server: s, health: h}
}

// ReportLiveness mirrors the dashboard's liveness.
func (s *HealthServer) ReportLiveness(online bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if online {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// Serve blocks serving on lis.
func (s *HealthServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains connections.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
