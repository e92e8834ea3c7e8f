package api

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// RouterService is the gRPC health service name tracking the active
// connector.
const RouterService = "kraken.router"

// HealthServer mirrors router health over the standard gRPC health
// protocol.
type HealthServer struct {
	health *health.Server
}

func NewHealthServer() *HealthServer {
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus(RouterService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{health: h}
}

// Update sets the router service status from the active connector's
// health.
func (h *HealthServer) Update(activeHealthy bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if activeHealthy {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(RouterService, status)
}

// Register attaches the health service to srv.
func (h *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.health)
}

// Serve listens on addr until ctx is done.
func (h *HealthServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := grpc.NewServer()
	h.Register(srv)
	go func() {
		<-ctx.Done()
		h.health.Shutdown()
		srv.GracefulStop()
	}()
	log.WithField("addr", addr).Info("grpc health listening")
	return srv.Serve(lis)
}
