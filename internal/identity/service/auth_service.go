package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"account-platform/internal/audit"
	auditdomain "account-platform/internal/audit/domain"
	"account-platform/internal/credential"
	"account-platform/internal/notify"
	"account-platform/internal/security"
	sessiondomain "account-platform/internal/session/domain"
	"account-platform/internal/telemetry"
	userdomain "account-platform/internal/user/domain"
	userrepo "account-platform/internal/user/repository"
)

// Sentinel errors for auth service; handler maps them to gRPC codes.
// Credential errors (credential.ErrConflict, credential.ErrInvalidOrExpiredToken, ...) pass through.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidArgument    = errors.New("invalid argument")
)

const eventSource = "auth"

// AuthResult holds the outcome of Register, Login, ChangePassword and Refresh.
// RefreshToken is empty after a non-rotating refresh; the presented secret stays valid.
type AuthResult struct {
	UserID          string
	SessionID       string
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
}

// TTLs are the lifetimes of the secrets the service issues.
type TTLs struct {
	Refresh time.Duration
	Reset   time.Duration
	Verify  time.Duration
}

// Credentials bundles the credential subsystem components the service drives.
type Credentials struct {
	UnitOfWork credential.UnitOfWork
	Store      *credential.Store
	Verifier   *credential.Verifier
	Revoker    *credential.Revoker
	Refresh    *credential.RefreshPolicy
}

// AuthService implements registration, login, session refresh and revocation,
// password change and reset, and email verification.
type AuthService struct {
	uow      credential.UnitOfWork
	store    *credential.Store
	verifier *credential.Verifier
	revoker  *credential.Revoker
	refresh  *credential.RefreshPolicy
	hasher   security.SecretHasher
	tokens   credential.AccessIssuer
	notifier notify.Notifier
	audit    audit.AuditLogger
	events   telemetry.EventEmitter
	ttls     TTLs
}

// NewAuthService returns an AuthService with the given dependencies.
// auditLogger and events may be nil.
func NewAuthService(
	creds Credentials,
	hasher security.SecretHasher,
	tokens credential.AccessIssuer,
	notifier notify.Notifier,
	auditLogger audit.AuditLogger,
	events telemetry.EventEmitter,
	ttls TTLs,
) *AuthService {
	return &AuthService{
		uow:      creds.UnitOfWork,
		store:    creds.Store,
		verifier: creds.Verifier,
		revoker:  creds.Revoker,
		refresh:  creds.Refresh,
		hasher:   hasher,
		tokens:   tokens,
		notifier: notifier,
		audit:    auditLogger,
		events:   events,
		ttls:     ttls,
	}
}

// Register creates a user with role "user", starts a session and sends an
// email-verification token. A taken email fails with credential.ErrConflict.
func (s *AuthService) Register(ctx context.Context, email, password, name string, meta credential.RequestMeta) (*AuthResult, error) {
	email = userdomain.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hashed,
		Role:         userdomain.RoleUser,
		Status:       userdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	var res *AuthResult
	err = s.uow.WithinTx(ctx, func(r credential.Repos) error {
		existing, err := r.Users.GetByEmail(ctx, email)
		if err != nil {
			return credential.WrapStorage("lookup email", err)
		}
		if existing != nil {
			return emailTaken()
		}
		if err := r.Users.Create(ctx, user); err != nil {
			if errors.Is(err, userrepo.ErrDuplicateEmail) {
				return emailTaken()
			}
			return credential.WrapStorage("create user", err)
		}
		res, err = s.startSession(ctx, r, user, meta)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, user.ID, auditdomain.ActionRegister, auditdomain.ResourceUser, "session_id", res.SessionID)
	s.emit(ctx, telemetry.EventSessionCreated, user.ID, res.SessionID)

	if _, err := s.sendToken(ctx, user, userdomain.TokenKindEmailVerification); err != nil {
		slog.WarnContext(ctx, "register: verification token not issued", "user_id", user.ID, "error", err)
	}
	return res, nil
}

// Login authenticates with email and password and starts a session. Every
// authentication failure is ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string, meta credential.RequestMeta) (*AuthResult, error) {
	email = userdomain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.uow.Repos().Users.GetByEmail(ctx, email)
	if err != nil {
		return nil, credential.WrapStorage("lookup email", err)
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		s.logAudit(ctx, "", auditdomain.ActionLoginFailure, auditdomain.ResourceAuthentication, "reason", "unknown_or_inactive")
		return nil, ErrInvalidCredentials
	}
	if err := s.checkPassword(ctx, user, password); err != nil {
		s.logAudit(ctx, user.ID, auditdomain.ActionLoginFailure, auditdomain.ResourceAuthentication, "reason", "bad_password")
		return nil, err
	}
	res, err := s.startSession(ctx, s.uow.Repos(), user, meta)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, user.ID, auditdomain.ActionLoginSuccess, auditdomain.ResourceSession, "session_id", res.SessionID)
	s.emit(ctx, telemetry.EventSessionCreated, user.ID, res.SessionID)
	return res, nil
}

// Refresh issues a new access token for the session matching refreshToken.
func (s *AuthService) Refresh(ctx context.Context, userID, refreshToken string) (*AuthResult, error) {
	out, err := s.refresh.Refresh(ctx, strings.TrimSpace(userID), refreshToken)
	if errors.Is(err, credential.ErrSessionExpired) {
		s.logAudit(ctx, userID, auditdomain.ActionSessionExpired, auditdomain.ResourceSession)
		s.emit(ctx, telemetry.EventSessionExpired, userID, "")
	}
	if err != nil {
		return nil, err
	}
	event := telemetry.EventSessionRefreshed
	if out.Rotated {
		event = telemetry.EventSessionRotated
	}
	s.emit(ctx, event, out.Session.UserID, out.Session.ID)
	return &AuthResult{
		UserID:          out.Session.UserID,
		SessionID:       out.Session.ID,
		AccessToken:     out.AccessToken,
		AccessExpiresAt: out.AccessExpiresAt,
		RefreshToken:    out.RefreshToken,
	}, nil
}

// Logout revokes the session matching refreshToken.
func (s *AuthService) Logout(ctx context.Context, userID, refreshToken string) error {
	sess, err := s.revoker.RevokeOne(ctx, strings.TrimSpace(userID), refreshToken)
	if err != nil {
		return err
	}
	s.logAudit(ctx, sess.UserID, auditdomain.ActionLogout, auditdomain.ResourceSession, "session_id", sess.ID)
	s.emit(ctx, telemetry.EventSessionRevoked, sess.UserID, sess.ID)
	return nil
}

// LogoutAll revokes every session of the user and returns how many were revoked.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, credential.ErrUnauthorized
	}
	n, err := s.revoker.RevokeAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.logAudit(ctx, userID, auditdomain.ActionLogoutAll, auditdomain.ResourceSession, "revoked", fmt.Sprint(n))
	s.emit(ctx, telemetry.EventSessionsRevoked, userID, "")
	return n, nil
}

// ListSessions returns the user's active sessions, newest first.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]*sessiondomain.Session, error) {
	if userID == "" {
		return nil, credential.ErrUnauthorized
	}
	return s.store.ListActiveSessionsForUser(ctx, userID)
}

// ChangePassword verifies the current password, stores the new one, revokes
// every session and starts a fresh one for the caller, all in one transaction.
// The new hash replaces only the hash the current password was checked against,
// so a reset or change committed meanwhile wins and this call fails.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string, meta credential.RequestMeta) (*AuthResult, error) {
	if err := validatePassword(next); err != nil {
		return nil, err
	}
	user, err := s.uow.Repos().Users.GetByID(ctx, userID)
	if err != nil {
		return nil, credential.WrapStorage("load user", err)
	}
	if user == nil {
		return nil, credential.ErrUnauthorized
	}
	if err := s.checkPassword(ctx, user, current); err != nil {
		return nil, err
	}
	if current == next {
		return nil, fmt.Errorf("new password must differ from the current one: %w", credential.ErrConflict)
	}
	hashed, err := s.hasher.Hash([]byte(next))
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var (
		res     *AuthResult
		revoked int
	)
	err = s.uow.WithinTx(ctx, func(r credential.Repos) error {
		swapped, err := r.Users.SwapPasswordHash(ctx, user.ID, user.PasswordHash, hashed, time.Now().UTC())
		if err != nil {
			return credential.WrapStorage("update password", err)
		}
		if !swapped {
			return ErrInvalidCredentials
		}
		if revoked, err = s.revoker.RevokeAllTx(ctx, r, user.ID); err != nil {
			return err
		}
		res, err = s.startSession(ctx, r, user, meta)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, user.ID, auditdomain.ActionPasswordChanged, auditdomain.ResourceUser, "revoked", fmt.Sprint(revoked))
	s.emit(ctx, telemetry.EventPasswordChanged, user.ID, res.SessionID)
	return res, nil
}

// RequestPasswordReset issues a reset token for the account with the given email
// and hands it to the notifier. An unknown or inactive account succeeds without
// issuing anything. A new request replaces any outstanding token.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = userdomain.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	user, err := s.uow.Repos().Users.GetByEmail(ctx, email)
	if err != nil {
		return credential.WrapStorage("lookup email", err)
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return nil
	}
	if _, err := s.sendToken(ctx, user, userdomain.TokenKindPasswordReset); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil
		}
		return err
	}
	s.logAudit(ctx, user.ID, auditdomain.ActionPasswordResetReq, auditdomain.ResourceUser)
	return nil
}

// ResetPassword consumes the reset token, stores the new password and revokes
// every session of the user atomically.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hashed, err := s.hasher.Hash([]byte(newPassword))
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	var (
		userID  string
		revoked int
	)
	err = s.uow.WithinTx(ctx, func(r credential.Repos) error {
		user, err := s.verifier.ConsumeSingleUseTokenTx(ctx, r, userdomain.TokenKindPasswordReset, token)
		if err != nil {
			return err
		}
		if err := r.Users.UpdatePasswordHash(ctx, user.ID, hashed, time.Now().UTC()); err != nil {
			return credential.WrapStorage("update password", err)
		}
		revoked, err = s.revoker.RevokeAllTx(ctx, r, user.ID)
		userID = user.ID
		return err
	})
	if err != nil {
		return err
	}
	s.logAudit(ctx, userID, auditdomain.ActionPasswordReset, auditdomain.ResourceUser, "revoked", fmt.Sprint(revoked))
	s.emit(ctx, telemetry.EventPasswordReset, userID, "")
	return nil
}

// RequestEmailVerification issues a fresh verification token for the user.
// An already verified user fails with credential.ErrConflict.
func (s *AuthService) RequestEmailVerification(ctx context.Context, userID string) error {
	user, err := s.uow.Repos().Users.GetByID(ctx, userID)
	if err != nil {
		return credential.WrapStorage("load user", err)
	}
	if user == nil {
		return credential.ErrNotFound
	}
	if user.EmailVerified {
		return fmt.Errorf("email already verified: %w", credential.ErrConflict)
	}
	if _, err := s.sendToken(ctx, user, userdomain.TokenKindEmailVerification); err != nil {
		return err
	}
	s.logAudit(ctx, user.ID, auditdomain.ActionVerificationReq, auditdomain.ResourceUser)
	return nil
}

// VerifyEmail consumes the verification token and marks the owner's email
// verified. It returns the user ID.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.uow.WithinTx(ctx, func(r credential.Repos) error {
		user, err := s.verifier.ConsumeSingleUseTokenTx(ctx, r, userdomain.TokenKindEmailVerification, token)
		if err != nil {
			return err
		}
		if err := r.Users.MarkEmailVerified(ctx, user.ID, time.Now().UTC()); err != nil {
			return credential.WrapStorage("mark email verified", err)
		}
		userID = user.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	s.logAudit(ctx, userID, auditdomain.ActionEmailVerified, auditdomain.ResourceUser)
	s.emit(ctx, telemetry.EventEmailVerified, userID, "")
	return userID, nil
}

// startSession persists a new session for user through r and signs its access token.
func (s *AuthService) startSession(ctx context.Context, r credential.Repos, user *userdomain.User, meta credential.RequestMeta) (*AuthResult, error) {
	secret, err := security.NewOpaqueSecret()
	if err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}
	sess, err := s.store.SaveSessionTx(ctx, r, user.ID, secret, s.ttls.Refresh, meta)
	if err != nil {
		return nil, err
	}
	access, _, exp, err := s.tokens.IssueAccess(user.ID, user.Role, sess.ID, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	return &AuthResult{
		UserID:          user.ID,
		SessionID:       sess.ID,
		AccessToken:     access,
		AccessExpiresAt: exp,
		RefreshToken:    secret,
	}, nil
}

// sendToken stores a new single-use token of kind for user, then notifies.
// A notifier failure is logged; the stored token stays valid and the user can ask again.
func (s *AuthService) sendToken(ctx context.Context, user *userdomain.User, kind userdomain.TokenKind) (time.Time, error) {
	ttl := s.ttls.Reset
	if kind == userdomain.TokenKindEmailVerification {
		ttl = s.ttls.Verify
	}
	secret, err := security.NewOpaqueSecret()
	if err != nil {
		return time.Time{}, fmt.Errorf("generate %s secret: %w", kind, err)
	}
	exp, err := s.store.SetSingleUseToken(ctx, user.ID, kind, secret, ttl)
	if err != nil {
		return time.Time{}, err
	}
	if s.notifier == nil {
		return exp, nil
	}
	msg := notify.NewMessage(notify.Kind(kind), user.ID, user.Email, user.Name, secret, exp)
	if err := s.notifier.Send(ctx, msg); err != nil {
		slog.WarnContext(ctx, "notification not sent", "kind", kind, "user_id", user.ID, "message_id", msg.ID, "error", err)
		s.emit(ctx, telemetry.EventNotificationError, user.ID, "")
	}
	return exp, nil
}

// checkPassword maps any mismatch or unreadable hash to ErrInvalidCredentials.
func (s *AuthService) checkPassword(ctx context.Context, user *userdomain.User, password string) error {
	err := s.hasher.Compare(user.PasswordHash, []byte(password))
	if err == nil {
		return nil
	}
	if !errors.Is(err, security.ErrMismatch) {
		slog.WarnContext(ctx, "unreadable password hash", "user_id", user.ID, "error", err)
	}
	return ErrInvalidCredentials
}

func (s *AuthService) logAudit(ctx context.Context, userID, action, resource string, kv ...string) {
	if s.audit == nil {
		return
	}
	s.audit.LogEvent(ctx, userID, action, resource, metadataJSON(kv...))
}

func (s *AuthService) emit(ctx context.Context, eventType, userID, sessionID string) {
	telemetry.EmitAsync(ctx, s.events, &telemetry.Event{
		Type:      eventType,
		UserID:    userID,
		SessionID: sessionID,
		Source:    eventSource,
	})
}

// metadataJSON encodes key/value pairs as a JSON object; no pairs is "".
func metadataJSON(kv ...string) string {
	if len(kv) < 2 {
		return ""
	}
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func emailTaken() error {
	return fmt.Errorf("email already registered: %w", credential.ErrConflict)
}

// maxPasswordBytes is the bcrypt input limit; longer secrets are rejected by Hash.
const maxPasswordBytes = 72

var simpleEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidArgument)
	}
	if !simpleEmail.MatchString(email) {
		return fmt.Errorf("%w: invalid email format", ErrInvalidArgument)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return fmt.Errorf("%w: password must be at least 12 characters", ErrInvalidArgument)
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidArgument, maxPasswordBytes)
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	switch {
	case !hasUpper:
		return fmt.Errorf("%w: password must contain at least one uppercase letter", ErrInvalidArgument)
	case !hasLower:
		return fmt.Errorf("%w: password must contain at least one lowercase letter", ErrInvalidArgument)
	case !hasNumber:
		return fmt.Errorf("%w: password must contain at least one number", ErrInvalidArgument)
	case !hasSymbol:
		return fmt.Errorf("%w: password must contain at least one symbol", ErrInvalidArgument)
	}
	return nil
}
