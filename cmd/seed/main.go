// seed registers a development user for local testing.
// Idempotent: skips if dev@example.com already exists.
package main

import (
	"context"
	"errors"
	"log"

	"account-platform/internal/config"
	"account-platform/internal/credential"
	"account-platform/internal/db"
	identityservice "account-platform/internal/identity/service"
	"account-platform/internal/notify"
	"account-platform/internal/security"
)

const (
	devUserEmail = "dev@example.com"
	devUserName  = "Dev User"
	devPassword  = "DevPassword123!"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if cfg.Env == "production" {
		log.Fatal("seed: refusing to run with APP_ENV=production")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	hasher := security.NewHasher(cfg.BcryptCost)
	tokens := security.NewHMACTokenProvider([]byte("seed-only"), cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	uow := credential.NewPostgresUnitOfWork(conn)
	store := credential.NewStore(uow, hasher)
	verifier := credential.NewVerifier(uow, hasher)
	outbox := notify.NewOutbox()
	auth := identityservice.NewAuthService(identityservice.Credentials{
		UnitOfWork: uow,
		Store:      store,
		Verifier:   verifier,
		Revoker:    credential.NewRevoker(uow, verifier),
		Refresh:    credential.NewRefreshPolicy(uow, verifier, store, tokens, cfg.RefreshTTL()),
	}, hasher, tokens, outbox, nil, nil, identityservice.TTLs{
		Refresh: cfg.RefreshTTL(),
		Reset:   cfg.ResetTTL(),
		Verify:  cfg.VerifyTTL(),
	})

	ctx := context.Background()
	res, err := auth.Register(ctx, devUserEmail, devPassword, devUserName, credential.RequestMeta{UserAgent: "seed"})
	if errors.Is(err, credential.ErrConflict) {
		log.Printf("Seed already applied (%s exists). Skipping.", devUserEmail)
		return
	}
	if err != nil {
		log.Fatalf("seed: register: %v", err)
	}
	if msg, ok := outbox.Latest(devUserEmail, notify.KindEmailVerification); ok {
		if _, err := auth.VerifyEmail(ctx, msg.Token); err != nil {
			log.Fatalf("seed: verify email: %v", err)
		}
	}
	log.Printf("Seeded %s (user %s, password %s)", devUserEmail, res.UserID, devPassword)
}
