package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"account-platform/internal/db"
	"account-platform/internal/user/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	userColumns = `id, email, name, password_hash, role, status, email_verified,
	reset_token_hash, reset_token_expires_at, verify_token_hash, verify_token_expires_at,
	created_at, updated_at`

	pgUniqueViolation = "23505"
)

// PostgresRepository stores users in the users table.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a user repository over db, which may be a *sql.DB or a *sql.Tx.
func NewPostgresRepository(db db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// tokenColumns maps a token kind to its (hash, expires_at) column pair.
func tokenColumns(kind domain.TokenKind) (hashCol, expCol string, err error) {
	switch kind {
	case domain.TokenKindPasswordReset:
		return "reset_token_hash", "reset_token_expires_at", nil
	case domain.TokenKindEmailVerification:
		return "verify_token_hash", "verify_token_expires_at", nil
	default:
		return "", "", fmt.Errorf("%w: %q", domain.ErrUnknownTokenKind, kind)
	}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail returns the user with the given email, or nil if not found.
// Emails are stored normalized; the argument is normalized before lookup.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, domain.NormalizeEmail(email))
}

func (r *PostgresRepository) getOne(ctx context.Context, q string, arg any) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// Create persists the user. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	resetHash, resetExp := tokenToNull(u.ResetToken)
	verifyHash, verifyExp := tokenToNull(u.VerifyToken)
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		u.ID, domain.NormalizeEmail(u.Email), sql.NullString{String: u.Name, Valid: u.Name != ""},
		u.PasswordHash, u.Role, string(u.Status), u.EmailVerified,
		resetHash, resetExp, verifyHash, verifyExp,
		u.CreatedAt, u.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicateEmail
	}
	return err
}

func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error {
	return r.execOne(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, userID, hash, at)
}

func (r *PostgresRepository) SwapPasswordHash(ctx context.Context, userID, oldHash, newHash string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $3, updated_at = $4 WHERE id = $1 AND password_hash = $2`,
		userID, oldHash, newHash, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepository) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	return r.execOne(ctx, `UPDATE users SET email_verified = TRUE, updated_at = $2 WHERE id = $1`, userID, at)
}

func (r *PostgresRepository) SetSingleUseToken(ctx context.Context, userID string, kind domain.TokenKind, tok domain.SingleUseToken) error {
	hashCol, expCol, err := tokenColumns(kind)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE users SET %s = $2, %s = $3 WHERE id = $1`, hashCol, expCol)
	return r.execOne(ctx, q, userID, tok.Hash, tok.ExpiresAt)
}

func (r *PostgresRepository) ClearSingleUseToken(ctx context.Context, userID string, kind domain.TokenKind) error {
	hashCol, expCol, err := tokenColumns(kind)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE users SET %s = NULL, %s = NULL WHERE id = $1`, hashCol, expCol)
	return r.execOne(ctx, q, userID)
}

func (r *PostgresRepository) ConsumeSingleUseToken(ctx context.Context, userID string, kind domain.TokenKind, hash string) (bool, error) {
	hashCol, expCol, err := tokenColumns(kind)
	if err != nil {
		return false, err
	}
	q := fmt.Sprintf(`UPDATE users SET %[1]s = NULL, %[2]s = NULL WHERE id = $1 AND %[1]s = $2`, hashCol, expCol)
	res, err := r.db.ExecContext(ctx, q, userID, hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepository) ListPendingTokens(ctx context.Context, kind domain.TokenKind, now time.Time) ([]*domain.User, error) {
	hashCol, expCol, err := tokenColumns(kind)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT %s FROM users WHERE %s IS NOT NULL AND %s >= $1 ORDER BY %s DESC`,
		userColumns, hashCol, expCol, expCol)
	rows, err := r.db.QueryContext(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// execOne runs an UPDATE expected to touch exactly one user row; zero rows is sql.ErrNoRows.
func (r *PostgresRepository) execOne(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u                     domain.User
		name                  sql.NullString
		status                string
		resetHash, verifyHash sql.NullString
		resetExp, verifyExp   sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &name, &u.PasswordHash, &u.Role, &status, &u.EmailVerified,
		&resetHash, &resetExp, &verifyHash, &verifyExp, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Name = name.String
	u.Status = domain.UserStatus(status)
	u.ResetToken = nullToToken(resetHash, resetExp)
	u.VerifyToken = nullToToken(verifyHash, verifyExp)
	return &u, nil
}

func tokenToNull(t *domain.SingleUseToken) (sql.NullString, sql.NullTime) {
	if t == nil {
		return sql.NullString{}, sql.NullTime{}
	}
	return sql.NullString{String: t.Hash, Valid: true}, sql.NullTime{Time: t.ExpiresAt, Valid: true}
}

func nullToToken(h sql.NullString, exp sql.NullTime) *domain.SingleUseToken {
	if !h.Valid || !exp.Valid {
		return nil
	}
	return &domain.SingleUseToken{Hash: h.String, ExpiresAt: exp.Time}
}
