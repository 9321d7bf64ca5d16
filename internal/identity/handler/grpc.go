// Package handler exposes the auth service over gRPC. Requests and responses are
// google.protobuf.Struct messages so the service needs no generated stubs.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"account-platform/internal/credential"
	"account-platform/internal/identity/service"
	"account-platform/internal/server/interceptors"
	sessiondomain "account-platform/internal/session/domain"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "account.v1.AuthService"

// PublicMethods are the full method names callable without a Bearer access token.
var PublicMethods = map[string]bool{
	fullMethod("Register"):             true,
	fullMethod("Login"):                true,
	fullMethod("Refresh"):              true,
	fullMethod("Logout"):               true,
	fullMethod("RequestPasswordReset"): true,
	fullMethod("ResetPassword"):        true,
	fullMethod("VerifyEmail"):          true,
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// AuthServiceServer is the server API for account.v1.AuthService.
type AuthServiceServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LogoutAll(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSessions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChangePassword(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RequestPasswordReset(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResetPassword(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RequestEmailVerification(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyEmail(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes account.v1.AuthService for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", AuthServiceServer.Register),
		unary("Login", AuthServiceServer.Login),
		unary("Refresh", AuthServiceServer.Refresh),
		unary("Logout", AuthServiceServer.Logout),
		unary("LogoutAll", AuthServiceServer.LogoutAll),
		unary("ListSessions", AuthServiceServer.ListSessions),
		unary("ChangePassword", AuthServiceServer.ChangePassword),
		unary("RequestPasswordReset", AuthServiceServer.RequestPasswordReset),
		unary("ResetPassword", AuthServiceServer.ResetPassword),
		unary("RequestEmailVerification", AuthServiceServer.RequestEmailVerification),
		unary("VerifyEmail", AuthServiceServer.VerifyEmail),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "account/v1/auth.proto",
}

type unaryCall func(AuthServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(AuthServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// RegisterAuthServiceServer registers srv with s.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// AuthServer implements AuthServiceServer by delegating to the auth service.
type AuthServer struct {
	auth *service.AuthService
}

// NewAuthServer returns a new Auth gRPC server. If auth is nil, every RPC returns Unimplemented.
func NewAuthServer(auth *service.AuthService) *AuthServer {
	return &AuthServer{auth: auth}
}

func (s *AuthServer) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, unimplemented("Register")
	}
	res, err := s.auth.Register(ctx, field(req, "email"), field(req, "password"), field(req, "name"), requestMeta(ctx))
	if err != nil {
		return nil, authErr(err)
	}
	return authResultToStruct(res)
}

func (s *AuthServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, unimplemented("Login")
	}
	res, err := s.auth.Login(ctx, field(req, "email"), field(req, "password"), requestMeta(ctx))
	if err != nil {
		return nil, authErr(err)
	}
	return authResultToStruct(res)
}

// Refresh takes the caller's claimed user_id with the refresh_token; no access token is needed.
func (s *AuthServer) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, unimplemented("Refresh")
	}
	res, err := s.auth.Refresh(ctx, field(req, "user_id"), field(req, "refresh_token"))
	if err != nil {
		return nil, authErr(err)
	}
	return authResultToStruct(res)
}

func (s *AuthServer) Logout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, unimplemented("Logout")
	}
	if err := s.auth.Logout(ctx, field(req, "user_id"), field(req, "refresh_token")); err != nil {
		return nil, authErr(err)
	}
	return &structpb.Struct{}, nil
}

func (s *AuthServer) LogoutAll(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, unimplemented("LogoutAll")
	}
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.auth.LogoutAll(ctx, userID)
	if err != nil {
		return nil, authErr(err)
	}
	return structpb.NewStruct(map[string]any{"revoked": n})
}

func (s *AuthServer) ListSessions(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, unimplemented("ListSessions")
	}
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.auth.ListSessions(ctx, userID)
	if err != nil {
		return nil, authErr(err)
	}
	current, _ := interceptors.GetSessionID(ctx)
	out := make([]any, 0, len(list))
	for _, sess := range list {
		out = append(out, sessionToMap(sess, sess.ID == current))
	}
	return structpb.NewStruct(map[string]any{"sessions": out})
}

func (s *AuthServer) ChangePassword(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, unimplemented("ChangePassword")
	}
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.auth.ChangePassword(ctx, userID, field(req, "current_password"), field(req, "new_password"), requestMeta(ctx))
	if err != nil {
		return nil, authErr(err)
	}
	return authResultToStruct(res)
}

// RequestPasswordReset answers the same way whether or not the email is registered.
func (s *AuthServer) RequestPasswordReset(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, unimplemented("RequestPasswordReset")
	}
	if err := s.auth.RequestPasswordReset(ctx, field(req, "email")); err != nil {
		return nil, authErr(err)
	}
	return &structpb.Struct{}, nil
}

func (s *AuthServer) ResetPassword(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, unimplemented("ResetPassword")
	}
	if err := s.auth.ResetPassword(ctx, field(req, "token"), field(req, "new_password")); err != nil {
		return nil, authErr(err)
	}
	return &structpb.Struct{}, nil
}

func (s *AuthServer) RequestEmailVerification(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, unimplemented("RequestEmailVerification")
	}
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.auth.RequestEmailVerification(ctx, userID); err != nil {
		return nil, authErr(err)
	}
	return &structpb.Struct{}, nil
}

func (s *AuthServer) VerifyEmail(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, unimplemented("VerifyEmail")
	}
	userID, err := s.auth.VerifyEmail(ctx, field(req, "token"))
	if err != nil {
		return nil, authErr(err)
	}
	return structpb.NewStruct(map[string]any{"user_id": userID})
}

// authErr maps service and credential errors to gRPC status errors.
func authErr(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, strings.TrimPrefix(err.Error(), service.ErrInvalidArgument.Error()+": "))
	case errors.Is(err, service.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, credential.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, credential.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case credential.IsUnauthorized(err):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, credential.ErrUnavailable):
		slog.Error("auth: storage unavailable", "error", err)
		return status.Error(codes.Unavailable, "service temporarily unavailable")
	default:
		slog.Error("auth: internal error", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func callerID(ctx context.Context) (string, error) {
	userID, ok := interceptors.GetUserID(ctx)
	if !ok || userID == "" {
		return "", status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	return userID, nil
}

func requestMeta(ctx context.Context) credential.RequestMeta {
	return credential.RequestMeta{
		UserAgent: interceptors.UserAgent(ctx),
		IPAddress: interceptors.ClientIP(ctx),
	}
}

func field(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func authResultToStruct(res *service.AuthResult) (*structpb.Struct, error) {
	m := map[string]any{
		"user_id":      res.UserID,
		"session_id":   res.SessionID,
		"access_token": res.AccessToken,
		"expires_at":   res.AccessExpiresAt.UTC().Format(time.RFC3339),
	}
	if res.RefreshToken != "" {
		m["refresh_token"] = res.RefreshToken
	}
	return structpb.NewStruct(m)
}

func sessionToMap(sess *sessiondomain.Session, current bool) map[string]any {
	return map[string]any{
		"id":         sess.ID,
		"user_agent": sess.UserAgent,
		"ip_address": sess.IPAddress,
		"created_at": sess.CreatedAt.UTC().Format(time.RFC3339),
		"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339),
		"current":    current,
	}
}
