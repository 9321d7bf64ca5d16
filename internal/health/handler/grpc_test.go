package handler

import (
	"context"
	"errors"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// mockPinger implements Pinger for tests.
type mockPinger struct {
	pingErr     error
	hasDeadline bool
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	_, m.hasDeadline = ctx.Deadline()
	return m.pingErr
}

func TestCheck_NilPinger(t *testing.T) {
	srv := NewServer(nil)
	resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}
}

func TestCheck_PingerSuccess(t *testing.T) {
	p := &mockPinger{}
	srv := NewServer(p)
	resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}
	if !p.hasDeadline {
		t.Error("ping context should carry a deadline")
	}
}

func TestCheck_PingerFailure(t *testing.T) {
	srv := NewServer(&mockPinger{pingErr: errors.New("connection refused")})
	resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check must not return gRPC error on ping failure: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", resp.GetStatus())
	}
}

func TestCheck_NamedServices(t *testing.T) {
	srv := NewServer(nil, "account.v1.AuthService")
	tests := []struct {
		service string
		want    healthpb.HealthCheckResponse_ServingStatus
	}{
		{"", healthpb.HealthCheckResponse_SERVING},
		{"account.v1.AuthService", healthpb.HealthCheckResponse_SERVING},
		{"other.v1.Service", healthpb.HealthCheckResponse_SERVICE_UNKNOWN},
	}
	for _, tt := range tests {
		resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: tt.service})
		if err != nil {
			t.Fatalf("Check(%q): %v", tt.service, err)
		}
		if resp.GetStatus() != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.service, resp.GetStatus(), tt.want)
		}
	}
}
