package interceptors

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"account-platform/internal/security"
)

const protectedMethod = "/test.Service/ProtectedMethod"

func bearerCtx(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
}

func issue(t *testing.T, tokens *security.TokenProvider) string {
	t.Helper()
	token, _, _, err := tokens.IssueAccess("user-1", "user", "session-1", nil, 0)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	return token
}

func okHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "success", nil
}

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("error is not a gRPC status: %v", err)
	}
	if st.Code() != code {
		t.Errorf("status code = %v, want %v", st.Code(), code)
	}
}

func TestAuthUnary_PublicMethod(t *testing.T) {
	tokens := security.NewTestHMACTokenProvider()
	interceptor := AuthUnary(tokens, map[string]bool{"/test.Service/PublicMethod": true}, nil)

	for _, ctx := range []context.Context{context.Background(), bearerCtx("garbage")} {
		resp, err := interceptor(ctx, "request", &grpc.UnaryServerInfo{FullMethod: "/test.Service/PublicMethod"}, okHandler)
		if err != nil || resp != "success" {
			t.Errorf("public method: resp=%v err=%v", resp, err)
		}
	}
}

func TestAuthUnary_ProtectedMethod_Rejects(t *testing.T) {
	tokens := security.NewTestHMACTokenProvider()
	interceptor := AuthUnary(tokens, nil, nil)
	for name, ctx := range map[string]context.Context{
		"no token":      context.Background(),
		"invalid token": bearerCtx("invalid-token"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := interceptor(ctx, "request", &grpc.UnaryServerInfo{FullMethod: protectedMethod}, okHandler)
			wantCode(t, err, codes.Unauthenticated)
		})
	}
}

func TestAuthUnary_ProtectedMethod_ValidToken(t *testing.T) {
	tokens := security.NewTestHMACTokenProvider()
	interceptor := AuthUnary(tokens, nil, nil)

	var gotUser, gotSession, gotRole string
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		gotUser, _ = GetUserID(ctx)
		gotSession, _ = GetSessionID(ctx)
		gotRole, _ = GetRole(ctx)
		return "success", nil
	}
	if _, err := interceptor(bearerCtx(issue(t, tokens)), "request", &grpc.UnaryServerInfo{FullMethod: protectedMethod}, handler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if gotUser != "user-1" || gotSession != "session-1" || gotRole != "user" {
		t.Errorf("identity = %q/%q/%q", gotUser, gotSession, gotRole)
	}
}

func TestAuthUnary_SessionValidator(t *testing.T) {
	tokens := security.NewTestHMACTokenProvider()
	token := issue(t, tokens)
	tests := []struct {
		name     string
		validate SessionValidator
		wantCode codes.Code
	}{
		{"active", func(ctx context.Context, userID, sessionID string) (bool, error) {
			return userID == "user-1" && sessionID == "session-1", nil
		}, codes.OK},
		{"revoked", func(ctx context.Context, userID, sessionID string) (bool, error) {
			return false, nil
		}, codes.Unauthenticated},
		{"storage error", func(ctx context.Context, userID, sessionID string) (bool, error) {
			return false, errors.New("db down")
		}, codes.Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interceptor := AuthUnary(tokens, nil, tt.validate)
			_, err := interceptor(bearerCtx(token), "request", &grpc.UnaryServerInfo{FullMethod: protectedMethod}, okHandler)
			if tt.wantCode == codes.OK {
				if err != nil {
					t.Fatalf("interceptor: %v", err)
				}
				return
			}
			wantCode(t, err, tt.wantCode)
		})
	}
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		name, header, want string
	}{
		{"valid", "Bearer token123", "token123"},
		{"case insensitive", "bearer token123", "token123"},
		{"invalid prefix", "Basic token123", ""},
		{"whitespace", "  Bearer   token123  ", "token123"},
		{"too short", "Bear", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", tt.header))
			if got := extractBearer(ctx); got != tt.want {
				t.Errorf("extractBearer = %q, want %q", got, tt.want)
			}
		})
	}
	if got := extractBearer(context.Background()); got != "" {
		t.Errorf("missing metadata: %q", got)
	}
}
