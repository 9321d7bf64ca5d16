package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"account-platform/internal/audit"
	auditrepo "account-platform/internal/audit/repository"
	"account-platform/internal/config"
	"account-platform/internal/credential"
	"account-platform/internal/db"
	"account-platform/internal/db/migrate"
	healthhandler "account-platform/internal/health/handler"
	identityservice "account-platform/internal/identity/service"
	"account-platform/internal/notify"
	"account-platform/internal/security"
	"account-platform/internal/server"
	"account-platform/internal/server/interceptors"
	"account-platform/internal/telemetry"
	telemetryotel "account-platform/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	slog.SetDefault(newLogger(cfg.LogLevel))

	if cfg.DatabaseURL == "" {
		log.Fatal(migrate.ErrEmptyDSN)
	}
	if cfg.AutoMigrate {
		if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		slog.Info("migrations applied")
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	// Providers go global before the credential components resolve their meters.
	ctx := context.Background()
	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Settings{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	emitter := telemetryotel.NewEventEmitter(providers.LoggerProvider)

	tokens, err := newTokenProvider(cfg)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}
	notifier, err := newNotifier(cfg)
	if err != nil {
		log.Fatalf("notifier: %v", err)
	}
	defer notifier.Close()

	auth, store := newAuthService(cfg, conn, tokens, notifier, emitter)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	public := server.PublicMethods()
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.AuthUnary(tokens, public, store.SessionActive),
			interceptors.TelemetryUnary(emitter, map[string]bool{healthhandler.CheckMethod: true}),
		),
	)
	server.RegisterServices(s, server.Deps{
		Auth:         auth,
		HealthPinger: conn,
		Reflection:   cfg.Env != "production",
	})

	go func() {
		slog.Info("gRPC server listening", "addr", cfg.GRPCAddr, "notifier", cfg.Notifier, "rotation", cfg.RefreshRotation)
		if err := s.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gRPC server...")
	s.GracefulStop()
	// Detached event emits may still be in flight.
	time.Sleep(telemetry.ShutdownDrainDuration)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		slog.Error("otel shutdown", "error", err)
	}
	slog.Info("gRPC server stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newAuthService(cfg *config.Config, conn *sql.DB, tokens *security.TokenProvider, notifier notify.Notifier, emitter telemetry.EventEmitter) (*identityservice.AuthService, *credential.Store) {
	hasher := newHasher(cfg)
	opts := []credential.Option{
		credential.WithScanLimit(cfg.SessionScanLimit),
		credential.WithRotation(cfg.RefreshRotation),
	}
	uow := credential.NewPostgresUnitOfWork(conn)
	store := credential.NewStore(uow, hasher, opts...)
	verifier := credential.NewVerifier(uow, hasher, opts...)
	creds := identityservice.Credentials{
		UnitOfWork: uow,
		Store:      store,
		Verifier:   verifier,
		Revoker:    credential.NewRevoker(uow, verifier, opts...),
		Refresh:    credential.NewRefreshPolicy(uow, verifier, store, tokens, cfg.RefreshTTL(), opts...),
	}
	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(conn), interceptors.ClientIP)
	auth := identityservice.NewAuthService(creds, hasher, tokens, notifier, auditLogger, emitter, identityservice.TTLs{
		Refresh: cfg.RefreshTTL(),
		Reset:   cfg.ResetTTL(),
		Verify:  cfg.VerifyTTL(),
	})
	return auth, store
}

func newHasher(cfg *config.Config) security.SecretHasher {
	if cfg.HashAlgorithm == "argon2id" {
		return security.NewArgon2Hasher(security.Argon2Params{
			MemoryKB:    uint32(cfg.Argon2MemoryKB),
			Time:        uint32(cfg.Argon2Time),
			Parallelism: uint8(cfg.Argon2Parallelism),
		})
	}
	return security.NewHasher(cfg.BcryptCost)
}

// newTokenProvider prefers JWT_SECRET (HS256) and falls back to the PEM key pair.
func newTokenProvider(cfg *config.Config) (*security.TokenProvider, error) {
	if cfg.JWTSecret != "" {
		return security.NewHMACTokenProvider([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL()), nil
	}
	if cfg.JWTPrivateKey == "" || cfg.JWTPublicKey == "" {
		return nil, fmt.Errorf("set JWT_SECRET or both JWT_PRIVATE_KEY and JWT_PUBLIC_KEY")
	}
	return security.NewTokenProviderFromPEM(cfg.JWTPrivateKey, cfg.JWTPublicKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
}

func newNotifier(cfg *config.Config) (notify.Notifier, error) {
	switch cfg.Notifier {
	case "memory":
		slog.Warn("notifier: in-memory outbox, messages are not delivered")
		return notify.NewOutbox(), nil
	case "webhook":
		return notify.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifyWebhookAPIKey), nil
	case "kafka":
		return notify.NewKafkaNotifier(cfg.KafkaBrokersList(), cfg.NotifyKafkaTopic)
	case "amqp":
		return notify.NewAMQPNotifier(cfg.AMQPURL, cfg.NotifyAMQPQueue)
	default:
		if cfg.Env == "production" {
			slog.Warn("notifier: log notifier in production, reset and verification messages are not delivered")
		}
		return notify.NewLogNotifier(slog.Default()), nil
	}
}
