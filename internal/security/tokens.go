package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoSigningKey is returned when the provider has neither a secret nor a private key.
	ErrNoSigningKey = errors.New("no signing key configured")
)

// opaqueSecretBytes is the entropy of refresh, reset and verification secrets (256 bits).
const opaqueSecretBytes = 32

// AccessClaims holds JWT claims for the access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role      string         `json:"role"`
	SessionID string         `json:"sid,omitempty"`
	Extra     map[string]any `json:"ext,omitempty"`
}

// SessionPair is the output of a login: a signed access token plus the refresh
// plaintext. The plaintext must be persisted (hashed) before it is handed out.
type SessionPair struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
}

// TokenProvider issues and validates signed access tokens and generates opaque
// secrets. Access tokens are signed HS256 with a server secret, or RS256/ES256
// with a private key.
type TokenProvider struct {
	secret     []byte
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
// issuer and audience are set on claims and validated on parse.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
	}
}

// NewHMACTokenProvider returns a TokenProvider that signs HS256 with secret.
func NewHMACTokenProvider(secret []byte, issuer, audience string, accessTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		secret:    secret,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
	}
}

// AccessTTL returns the default access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration {
	return p.accessTTL
}

// IssueAccess issues a short-lived access JWT for the user. ttl <= 0 uses the
// provider default. Returns the token string, its jti, and expiration time.
func (p *TokenProvider) IssueAccess(userID, role, sessionID string, extra map[string]any, ttl time.Duration) (token, jti string, expiresAt time.Time, err error) {
	jti, err = generateJTI()
	if err != nil {
		return "", "", time.Time{}, err
	}
	if ttl <= 0 {
		ttl = p.accessTTL
	}
	now := time.Now().UTC()
	expiresAt = now.Add(ttl)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role:      role,
		SessionID: sessionID,
		Extra:     extra,
	}
	token, err = p.sign(claims)
	return token, jti, expiresAt, err
}

// IssueSessionPair issues an access token and a fresh refresh plaintext for a new session.
func (p *TokenProvider) IssueSessionPair(userID, role, sessionID string) (*SessionPair, error) {
	access, _, exp, err := p.IssueAccess(userID, role, sessionID, nil, 0)
	if err != nil {
		return nil, err
	}
	refresh, err := NewOpaqueSecret()
	if err != nil {
		return nil, err
	}
	return &SessionPair{AccessToken: access, AccessExpiresAt: exp, RefreshToken: refresh}, nil
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	if len(p.secret) > 0 {
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	}
	if p.privateKey == nil {
		return "", ErrNoSigningKey
	}
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

func (p *TokenProvider) keyFunc(token *jwt.Token) (interface{}, error) {
	if len(p.secret) > 0 {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
			return p.secret, nil
		}
		return nil, ErrInvalidToken
	}
	if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
		return p.publicKey, nil
	}
	if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
		return p.publicKey, nil
	}
	return nil, ErrInvalidToken
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud).
func (p *TokenProvider) ValidateAccess(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, p.keyFunc,
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// NewOpaqueSecret returns 256 bits from crypto/rand, base64url-encoded without padding.
// The result is handed to the client once and only its hash is stored.
func NewOpaqueSecret() (string, error) {
	b := make([]byte, opaqueSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
