package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"account-platform/internal/db"
	"account-platform/internal/db/migrate"
	"account-platform/internal/session/domain"

	"github.com/google/uuid"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
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
	t.Cleanup(func() { conn.Close() })
	return conn
}

func insertUser(t *testing.T, conn *sql.DB) string {
	t.Helper()
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := conn.Exec(`INSERT INTO users (id, email, password_hash, created_at, updated_at) VALUES ($1, $2, 'x', $3, $3)`,
		id, id+"@example.com", now)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return id
}

func newSession(userID string, createdAt time.Time) *domain.Session {
	return &domain.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: "hash-" + uuid.New().String(),
		ExpiresAt: createdAt.Add(time.Hour),
		UserAgent: "test-agent",
		CreatedAt: createdAt,
	}
}

func TestPostgresRepository_ListByUserBreaksTiesByInsertOrder(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	repo := NewPostgresRepository(conn)
	userID := insertUser(t, conn)

	at := time.Now().UTC().Truncate(time.Microsecond)
	var ids []string
	for range 5 {
		s := newSession(userID, at)
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, s.ID)
	}
	list, err := repo.ListByUser(ctx, userID, 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != len(ids) {
		t.Fatalf("ListByUser returned %d sessions, want %d", len(list), len(ids))
	}
	for i, s := range list {
		if want := ids[len(ids)-1-i]; s.ID != want {
			t.Errorf("list[%d] = %s, want %s (last inserted first)", i, s.ID, want)
		}
	}
}

func TestPostgresRepository_CreateListRevoke(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	repo := NewPostgresRepository(conn)
	userID := insertUser(t, conn)
	otherID := insertUser(t, conn)

	base := time.Now().UTC().Truncate(time.Microsecond)
	older := newSession(userID, base.Add(-time.Minute))
	newer := newSession(userID, base)
	other := newSession(otherID, base)
	for _, s := range []*domain.Session{older, newer, other} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	list, err := repo.ListByUser(ctx, userID, 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("ListByUser order wrong: %+v", list)
	}
	if list[0].UserAgent != "test-agent" || list[0].IPAddress != "" {
		t.Errorf("metadata not round-tripped: %+v", list[0])
	}
	limited, err := repo.ListByUser(ctx, userID, 1)
	if err != nil || len(limited) != 1 || limited[0].ID != newer.ID {
		t.Fatalf("ListByUser limit 1 = %+v, %v", limited, err)
	}

	ok, err := repo.Revoke(ctx, older.ID, base)
	if err != nil || !ok {
		t.Fatalf("Revoke = %v, %v", ok, err)
	}
	ok, err = repo.Revoke(ctx, older.ID, base)
	if err != nil || ok {
		t.Fatalf("second Revoke = %v, %v; want false", ok, err)
	}
	got, err := repo.GetByID(ctx, older.ID)
	if err != nil || got == nil || !got.Revoked || got.RevokedAt == nil {
		t.Fatalf("GetByID after revoke = %+v, %v", got, err)
	}

	n, err := repo.RevokeAllByUser(ctx, userID, base)
	if err != nil || n != 1 {
		t.Fatalf("RevokeAllByUser = %d, %v; want 1", n, err)
	}
	o, err := repo.GetByID(ctx, other.ID)
	if err != nil || o.Revoked {
		t.Fatalf("other user's session revoked: %+v, %v", o, err)
	}
}

func TestPostgresRepository_GetByID_NotFound(t *testing.T) {
	conn := openTestDB(t)
	s, err := NewPostgresRepository(conn).GetByID(context.Background(), uuid.New().String())
	if err != nil || s != nil {
		t.Fatalf("GetByID missing = %+v, %v; want nil, nil", s, err)
	}
}
