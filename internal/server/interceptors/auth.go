package interceptors

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"account-platform/internal/security"
)

const bearerPrefix = "bearer "

// AccessValidator parses and validates a signed access token.
type AccessValidator interface {
	ValidateAccess(token string) (*security.AccessClaims, error)
}

// SessionValidator reports whether the session named in an access token is still active.
type SessionValidator func(ctx context.Context, userID, sessionID string) (bool, error)

// AuthUnary returns a unary server interceptor that validates the Bearer (access) token
// from gRPC metadata and sets user_id, session_id and role in context for protected RPCs.
// publicMethods is the set of full method names that do not require a Bearer token
// (e.g. AuthService Register, Login, Refresh; grpc.health.v1.Health/Check).
// When sessions is non-nil, tokens whose session was revoked or has expired are refused.
func AuthUnary(tokens AccessValidator, publicMethods map[string]bool, sessions SessionValidator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token := extractBearer(ctx)
		public := publicMethods[info.FullMethod]

		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		claims, err := tokens.ValidateAccess(token)
		if err != nil {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		if sessions != nil && !public {
			ok, err := sessions(ctx, claims.Subject, claims.SessionID)
			if err != nil {
				slog.ErrorContext(ctx, "auth: session check failed", "session_id", claims.SessionID, "error", err)
				return nil, status.Error(codes.Unavailable, "session check unavailable")
			}
			if !ok {
				return nil, status.Error(codes.Unauthenticated, "session revoked or expired")
			}
		}

		ctx = WithIdentity(ctx, claims.Subject, claims.SessionID, claims.Role)
		return handler(ctx, req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
