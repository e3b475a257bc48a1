package rpc

import (
	"net"

	"github.com/wfunc/gridchase/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer serves the standard gRPC health protocol for orchestrators.
type HealthServer struct {
	listener net.Listener
	server   *grpc.Server
	health   *health.Server
}

func NewHealthServer(addr string) (*HealthServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	hs := &HealthServer{
		listener: listener,
		server:   grpc.NewServer(),
		health:   health.NewServer(),
	}
	healthpb.RegisterHealthServer(hs.server, hs.health)
	hs.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return hs, nil
}

func (h *HealthServer) Addr() string {
	return h.listener.Addr().String()
}

func (h *HealthServer) Start() {
	logger.Log.Infof("Health server listening on %s", h.Addr())
	if err := h.server.Serve(h.listener); err != nil {
		logger.Log.Errorf("Health server stopped: %v", err)
	}
}

// SetServing flips the overall status reported to health checks.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
}

func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
