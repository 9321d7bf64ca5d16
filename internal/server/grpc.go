package server

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	healthhandler "account-platform/internal/health/handler"
	identityhandler "account-platform/internal/identity/handler"
	identityservice "account-platform/internal/identity/service"
)

// Deps holds optional service dependencies for gRPC handlers.
type Deps struct {
	// Auth is the auth service. If nil, auth RPCs return Unimplemented.
	Auth *identityservice.AuthService
	// HealthPinger is used by the health service for readiness (e.g. *sql.DB). If nil, Check skips the ping.
	HealthPinger healthhandler.Pinger
	// Reflection registers the server reflection service. Leave off in production.
	Reflection bool
}

// RegisterServices registers the gRPC services with the given server.
//
//   - account.v1.AuthService → internal/identity/handler
//   - grpc.health.v1.Health  → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	identityhandler.RegisterAuthServiceServer(s, identityhandler.NewAuthServer(deps.Auth))
	healthhandler.NewServer(deps.HealthPinger, identityhandler.ServiceName).Register(s)
	if deps.Reflection {
		if gs, ok := s.(*grpc.Server); ok {
			reflection.Register(gs)
		}
	}
}

// PublicMethods returns the full method names that need no access token.
func PublicMethods() map[string]bool {
	out := make(map[string]bool, len(identityhandler.PublicMethods)+1)
	for m := range identityhandler.PublicMethods {
		out[m] = true
	}
	out[healthhandler.CheckMethod] = true
	return out
}
