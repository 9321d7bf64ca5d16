package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != ":8080" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":8080")
	}
	if cfg.JWTIssuer != "account-platform" {
		t.Errorf("JWTIssuer = %q", cfg.JWTIssuer)
	}
	if cfg.AccessTTL() != 15*time.Minute {
		t.Errorf("AccessTTL = %v, want 15m", cfg.AccessTTL())
	}
	if cfg.RefreshTTL() != 168*time.Hour {
		t.Errorf("RefreshTTL = %v, want 168h", cfg.RefreshTTL())
	}
	if cfg.ResetTTL() != time.Hour {
		t.Errorf("ResetTTL = %v, want 1h", cfg.ResetTTL())
	}
	if cfg.VerifyTTL() != 24*time.Hour {
		t.Errorf("VerifyTTL = %v, want 24h", cfg.VerifyTTL())
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.HashAlgorithm != "bcrypt" {
		t.Errorf("HashAlgorithm = %q, want bcrypt", cfg.HashAlgorithm)
	}
	if cfg.SessionScanLimit != 100 {
		t.Errorf("SessionScanLimit = %d, want 100", cfg.SessionScanLimit)
	}
	if cfg.RefreshRotation {
		t.Error("RefreshRotation should default to false")
	}
	if cfg.Notifier != "log" {
		t.Errorf("Notifier = %q, want log", cfg.Notifier)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":9090")
	os.Setenv("JWT_ISSUER", "custom-issuer")
	os.Setenv("BCRYPT_COST", "14")
	os.Setenv("JWT_REFRESH_TTL", "604800000")
	os.Setenv("TOKEN_TTL_UNIT", "ms")
	os.Setenv("REFRESH_ROTATION", "true")
	os.Setenv("HASH_ALGORITHM", "ARGON2ID")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":9090")
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "custom-issuer")
	}
	if cfg.BcryptCost != 14 {
		t.Errorf("BcryptCost = %d, want 14", cfg.BcryptCost)
	}
	if cfg.RefreshTTL() != 7*24*time.Hour {
		t.Errorf("RefreshTTL = %v, want 168h", cfg.RefreshTTL())
	}
	if !cfg.RefreshRotation {
		t.Error("RefreshRotation = false, want true")
	}
	if cfg.HashAlgorithm != "argon2id" {
		t.Errorf("HashAlgorithm = %q, want argon2id", cfg.HashAlgorithm)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"bcrypt cost too high", map[string]string{"BCRYPT_COST": "32"}},
		{"bcrypt cost too low", map[string]string{"BCRYPT_COST": "3"}},
		{"unknown ttl unit", map[string]string{"TOKEN_TTL_UNIT": "minutes"}},
		{"bad refresh ttl", map[string]string{"JWT_REFRESH_TTL": "soon"}},
		{"negative reset ttl", map[string]string{"RESET_TOKEN_TTL": "-5"}},
		{"unknown hash", map[string]string{"HASH_ALGORITHM": "md5"}},
		{"negative scan limit", map[string]string{"SESSION_SCAN_LIMIT": "-1"}},
		{"unknown notifier", map[string]string{"NOTIFIER": "pigeon"}},
		{"kafka without brokers", map[string]string{"NOTIFIER": "kafka"}},
		{"amqp without url", map[string]string{"NOTIFIER": "amqp"}},
		{"webhook without url", map[string]string{"NOTIFIER": "webhook"}},
		{"memory notifier in production", map[string]string{"NOTIFIER": "memory", "APP_ENV": "production", "JWT_SECRET": "s"}},
		{"production without signing key", map[string]string{"APP_ENV": "production"}},
		{"negative argon2 memory", map[string]string{"ARGON2_MEMORY_KB": "-1"}},
		{"argon2 memory too large", map[string]string{"ARGON2_MEMORY_KB": "999999999"}},
		{"negative argon2 time", map[string]string{"ARGON2_TIME": "-1"}},
		{"argon2 parallelism above uint8", map[string]string{"ARGON2_PARALLELISM": "300"}},
		{"refresh ttl overflows", map[string]string{"JWT_REFRESH_TTL": "9223372036854775807"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tc.env {
				os.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("Load: want error")
			}
		})
	}
}

func TestParseTTL(t *testing.T) {
	cases := []struct {
		raw  string
		unit string
		want time.Duration
	}{
		{"15m", "s", 15 * time.Minute},
		{"168h", "ms", 168 * time.Hour},
		{"7d", "s", 7 * 24 * time.Hour},
		{"3600", "s", time.Hour},
		{"3600000", "ms", time.Hour},
		{"604800", "s", 7 * 24 * time.Hour},
		{"604800", "ms", 604800 * time.Millisecond},
		{" 30s ", "s", 30 * time.Second},
	}
	for _, tc := range cases {
		got, err := ParseTTL(tc.raw, tc.unit)
		if err != nil {
			t.Errorf("ParseTTL(%q, %q): %v", tc.raw, tc.unit, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseTTL(%q, %q) = %v, want %v", tc.raw, tc.unit, got, tc.want)
		}
	}
}

func TestParseTTL_Invalid(t *testing.T) {
	for _, raw := range []string{"", "0", "-1", "0d", "xd", "abc", "-5m", "0s"} {
		if _, err := ParseTTL(raw, "s"); err == nil {
			t.Errorf("ParseTTL(%q): want error", raw)
		}
	}
	overflow := []struct{ raw, unit string }{
		{"9223372036854775807", "s"},
		{"9223372036854775807", "ms"},
		{"10000000000", "s"},
		{"200000d", "s"},
	}
	for _, tc := range overflow {
		if d, err := ParseTTL(tc.raw, tc.unit); err == nil {
			t.Errorf("ParseTTL(%q, %q) = %v, want out of range error", tc.raw, tc.unit, d)
		}
	}
	if _, err := ParseTTL("10", "h"); err == nil {
		t.Error("ParseTTL with unknown unit: want error")
	}
}

func TestKafkaBrokersList(t *testing.T) {
	cfg := &Config{KafkaBrokers: " a:9092, ,b:9092 "}
	got := cfg.KafkaBrokersList()
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Errorf("KafkaBrokersList = %v", got)
	}
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should return nil list")
	}
}
