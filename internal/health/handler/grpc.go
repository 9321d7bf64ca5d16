// Package handler serves grpc.health.v1.Health with a storage readiness check.
package handler

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const pingTimeout = 2 * time.Second

// CheckMethod is the full method name of Health/Check, callable without a token.
const CheckMethod = "/grpc.health.v1.Health/Check"

// Pinger reports whether a backing store is reachable (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server implements the standard gRPC health service.
// Only the overall ("") service and the auth service are known.
type Server struct {
	healthpb.UnimplementedHealthServer
	pinger   Pinger
	services map[string]bool
}

// NewServer returns a health server. If pinger is nil, Check skips the storage ping.
func NewServer(pinger Pinger, services ...string) *Server {
	known := map[string]bool{"": true}
	for _, s := range services {
		known[s] = true
	}
	return &Server{pinger: pinger, services: known}
}

// Register registers s with the gRPC server.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(gs, s)
}

// Check reports SERVING when storage answers a ping. A failed ping is NOT_SERVING, not an error.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if !s.services[req.GetService()] {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVICE_UNKNOWN}, nil
	}
	if s.pinger != nil {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := s.pinger.PingContext(pctx); err != nil {
			slog.WarnContext(ctx, "health: storage ping failed", "error", err)
			return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
		}
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
