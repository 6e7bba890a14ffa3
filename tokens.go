package campusauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType tags what a signed token grants. A verifier only accepts its own type.
type TokenType string

const (
	TokenTypeSession      TokenType = "session"
	TokenTypeSecondFactor TokenType = "2fa"
)

// Default token expiry durations
const (
	TokenExpirySession      = 7 * 24 * time.Hour
	TokenExpirySecondFactor = 10 * time.Minute
)

// SessionClaims are the identity claims of a full session token. They
// reflect the principal at issuance and are never updated afterwards.
type SessionClaims struct {
	Type     TokenType `json:"type"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Role     Role      `json:"role"`
	jwt.RegisteredClaims
}

// SecondFactorClaims only grant the right to submit a code for one
// challenge. They carry no username, email or role.
type SecondFactorClaims struct {
	Type TokenType `json:"type"`
	jwt.RegisteredClaims
}

// ChallengeID is the outstanding challenge this token was minted for
func (c *SecondFactorClaims) ChallengeID() string { return c.ID }

// TokenConfig configures a TokenIssuer
type TokenConfig struct {
	// Key used for HMAC signing. Required.
	SigningKey []byte

	// Issuer claim. Defaults to "campusauth".
	Issuer string

	// Defaults to HS256. HS384 and HS512 are also accepted.
	SigningAlg string

	SessionExpiry      time.Duration
	SecondFactorExpiry time.Duration

	// Clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// EnsureDefaults fills unset fields. The signing key falls back to
// CAMPUSAUTH_JWT_SECRET_KEY from the environment.
func (c *TokenConfig) EnsureDefaults() *TokenConfig {
	if len(c.SigningKey) == 0 {
		if key := strings.TrimSpace(os.Getenv("CAMPUSAUTH_JWT_SECRET_KEY")); key != "" {
			c.SigningKey = []byte(key)
		}
	}
	if c.Issuer == "" {
		c.Issuer = "campusauth"
	}
	if c.SigningAlg == "" {
		c.SigningAlg = jwt.SigningMethodHS256.Alg()
	}
	if c.SessionExpiry <= 0 {
		c.SessionExpiry = TokenExpirySession
	}
	if c.SecondFactorExpiry <= 0 {
		c.SecondFactorExpiry = TokenExpirySecondFactor
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// TokenIssuer mints and validates signed session and second-factor tokens.
// It is safe for concurrent use.
type TokenIssuer struct {
	config TokenConfig
	method jwt.SigningMethod
}

func NewTokenIssuer(config TokenConfig) (*TokenIssuer, error) {
	config.EnsureDefaults()
	if len(config.SigningKey) == 0 {
		return nil, errors.New("token signing key is required")
	}
	var method jwt.SigningMethod
	switch config.SigningAlg {
	case "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", config.SigningAlg)
	}
	return &TokenIssuer{config: config, method: method}, nil
}

// SessionExpiry is how long issued session tokens live
func (t *TokenIssuer) SessionExpiry() time.Duration { return t.config.SessionExpiry }

func (t *TokenIssuer) registered(subject, id string, expiry time.Duration) jwt.RegisteredClaims {
	now := t.config.Now()
	return jwt.RegisteredClaims{
		Issuer:    t.config.Issuer,
		Subject:   subject,
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	}
}

// IssueSession mints a full session token for the principal as it is right now
func (t *TokenIssuer) IssueSession(p *Principal) (string, *SessionClaims, error) {
	claims := &SessionClaims{
		Type:             TokenTypeSession,
		Username:         p.Username,
		Email:            p.Email,
		Role:             p.Role,
		RegisteredClaims: t.registered(p.ID, "", t.config.SessionExpiry),
	}
	signed, err := jwt.NewWithClaims(t.method, claims).SignedString(t.config.SigningKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

// IssueSecondFactor mints a short-lived token scoped to one outstanding challenge
func (t *TokenIssuer) IssueSecondFactor(p *Principal, challengeID string) (string, *SecondFactorClaims, error) {
	claims := &SecondFactorClaims{
		Type:             TokenTypeSecondFactor,
		RegisteredClaims: t.registered(p.ID, challengeID, t.config.SecondFactorExpiry),
	}
	signed, err := jwt.NewWithClaims(t.method, claims).SignedString(t.config.SigningKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

// VerifySession checks signature, expiry and type. Second-factor tokens are
// rejected as malformed.
func (t *TokenIssuer) VerifySession(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := t.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeSession {
		return nil, fmt.Errorf("%w: not a session token", ErrTokenMalformed)
	}
	return claims, nil
}

// VerifySecondFactor accepts only second-factor tokens
func (t *TokenIssuer) VerifySecondFactor(tokenString string) (*SecondFactorClaims, error) {
	claims := &SecondFactorClaims{}
	if err := t.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeSecondFactor {
		return nil, fmt.Errorf("%w: not a second factor token", ErrTokenMalformed)
	}
	if claims.ChallengeID() == "" {
		return nil, fmt.Errorf("%w: missing challenge", ErrTokenMalformed)
	}
	return claims, nil
}

func (t *TokenIssuer) parse(tokenString string, claims jwt.Claims) error {
	if strings.TrimSpace(tokenString) == "" {
		return fmt.Errorf("%w: empty token", ErrTokenMalformed)
	}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			return t.config.SigningKey, nil
		},
		jwt.WithValidMethods([]string{t.method.Alg()}),
		jwt.WithIssuer(t.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.config.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !token.Valid {
		return fmt.Errorf("%w: invalid token", ErrTokenMalformed)
	}
	if sub, _ := claims.GetSubject(); sub == "" {
		return fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}
	return nil
}

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken is the stored form of a single-use secret (reset tokens, codes)
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
