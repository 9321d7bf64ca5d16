package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"account-platform/internal/audit/domain"
	"account-platform/internal/db"
	"account-platform/internal/db/migrate"

	"github.com/google/uuid"
)

func TestPostgresRepository_CreateAndList(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	if err := migrate.Run(dsn, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	repo := NewPostgresRepository(conn)
	ctx := context.Background()
	userID := uuid.New().String()
	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, action := range []string{domain.ActionLoginSuccess, domain.ActionLogout} {
		err := repo.Create(ctx, &domain.AuditLog{
			ID: uuid.New().String(), UserID: userID, Action: action, Resource: domain.ResourceSession,
			IP: "127.0.0.1", CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := repo.Create(ctx, &domain.AuditLog{ID: uuid.New().String(), Action: domain.ActionLoginFailure,
		Resource: domain.ResourceAuthentication, IP: "unknown", CreatedAt: base}); err != nil {
		t.Fatalf("Create without user: %v", err)
	}

	list, err := repo.ListByUser(ctx, userID, 10, 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 2 || list[0].Action != domain.ActionLogout {
		t.Fatalf("ListByUser = %+v, want newest first", list)
	}
	page, err := repo.ListByUser(ctx, userID, 1, 1)
	if err != nil || len(page) != 1 || page[0].Action != domain.ActionLoginSuccess {
		t.Fatalf("ListByUser page 2 = %+v, %v", page, err)
	}
}
