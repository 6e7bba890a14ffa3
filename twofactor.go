package campusauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Defaults for second-factor challenges
const (
	DefaultCodeLength      = 6
	DefaultCodeWindow      = 5 * time.Minute
	DefaultMaxCodeAttempts = 5
	DefaultDispatchTimeout = 10 * time.Second
)

// Challenge is the one outstanding second-factor code of a principal.
// Only a hash of the code is kept.
type Challenge struct {
	ID          string         `json:"id"`
	PrincipalID string         `json:"principal_id"`
	Method      DeliveryMethod `json:"method"`
	CodeHash    string         `json:"code_hash,omitempty"`
	Attempts    int            `json:"attempts"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

func (c *Challenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ChallengeStore keeps at most one challenge per principal
type ChallengeStore interface {
	// ReplaceChallenge removes any outstanding challenge for c.PrincipalID
	// and installs c, as one atomic step.
	ReplaceChallenge(ctx context.Context, c *Challenge) error

	// GetChallenge returns the outstanding challenge or ErrNotFound
	GetChallenge(ctx context.Context, principalID string) (*Challenge, error)

	// IncrementAttempts bumps the failure count of the challenge if it is
	// still the outstanding one, returning the new count. ErrNotFound otherwise.
	IncrementAttempts(ctx context.Context, principalID, challengeID string) (int, error)

	// DeleteChallenge removes the challenge only if it is still the
	// outstanding one and reports whether it did.
	DeleteChallenge(ctx context.Context, principalID, challengeID string) (bool, error)
}

// SecondFactorChallenger issues and checks single-use second-factor codes
type SecondFactorChallenger struct {
	Principals PrincipalStore
	Challenges ChallengeStore
	Tokens     *TokenIssuer
	Dispatcher Dispatcher

	CodeLength      int
	CodeWindow      time.Duration
	MaxAttempts     int
	DispatchTimeout time.Duration

	// GenerateCode overrides the random code source, for tests
	GenerateCode func(length int) (string, error)

	Now func() time.Time
}

func (s *SecondFactorChallenger) EnsureDefaults() *SecondFactorChallenger {
	if s.CodeLength <= 0 {
		s.CodeLength = DefaultCodeLength
	}
	if s.CodeWindow <= 0 {
		s.CodeWindow = DefaultCodeWindow
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = DefaultMaxCodeAttempts
	}
	if s.DispatchTimeout <= 0 {
		s.DispatchTimeout = DefaultDispatchTimeout
	}
	if s.GenerateCode == nil {
		s.GenerateCode = RandomNumericCode
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// IssueCode starts a challenge for a principal that passed its first factor
// and returns the temporary second-factor token. Any earlier code for the
// principal stops working. If delivery fails the new code is withdrawn and
// ErrDispatchFailure is returned.
func (s *SecondFactorChallenger) IssueCode(ctx context.Context, p *Principal) (string, error) {
	s.EnsureDefaults()
	if !p.RequiresSecondFactor() {
		return "", ErrTwoFactorDisabled
	}

	now := s.Now()
	ch := &Challenge{
		ID:          uuid.NewString(),
		PrincipalID: p.ID,
		Method:      p.TwoFactor.Method,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.CodeWindow),
	}

	var msg Message
	if p.TwoFactor.Method == DeliveryTOTP {
		if p.TwoFactor.Secret == "" {
			return "", fmt.Errorf("principal %s has totp enabled without a secret", p.ID)
		}
	} else {
		code, err := s.GenerateCode(s.CodeLength)
		if err != nil {
			return "", err
		}
		if msg, err = secondFactorMessage(p, code, s.CodeWindow); err != nil {
			return "", fmt.Errorf("%w: %v", ErrDispatchFailure, err)
		}
		ch.Method = msg.Method
		ch.CodeHash = HashToken(code)
	}

	if err := s.Challenges.ReplaceChallenge(ctx, ch); err != nil {
		return "", fmt.Errorf("storing challenge: %w", err)
	}

	if ch.Method != DeliveryTOTP {
		dctx, cancel := context.WithTimeout(ctx, s.DispatchTimeout)
		err := s.Dispatcher.Dispatch(dctx, msg)
		cancel()
		if err != nil {
			slog.Warn("second factor dispatch failed", "principal", p.ID, "method", ch.Method, "err", err)
			if _, derr := s.Challenges.DeleteChallenge(ctx, p.ID, ch.ID); derr != nil {
				slog.Warn("could not withdraw undelivered challenge", "principal", p.ID, "err", derr)
			}
			return "", fmt.Errorf("%w: %v", ErrDispatchFailure, err)
		}
	}

	tempToken, _, err := s.Tokens.IssueSecondFactor(p, ch.ID)
	if err != nil {
		return "", err
	}
	return tempToken, nil
}

// VerifyCode checks a submitted code against the challenge named by the
// temporary token. On success the challenge is consumed and a full session
// token is issued for the principal's current state.
func (s *SecondFactorChallenger) VerifyCode(ctx context.Context, tempToken, code string) (*Principal, string, error) {
	s.EnsureDefaults()

	claims, err := s.Tokens.VerifySecondFactor(tempToken)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidTempToken, err)
	}
	principalID := claims.Subject

	ch, err := s.Challenges.GetChallenge(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", fmt.Errorf("%w: no outstanding challenge", ErrInvalidTempToken)
		}
		return nil, "", err
	}
	if ch.ID != claims.ChallengeID() {
		return nil, "", fmt.Errorf("%w: challenge superseded", ErrInvalidTempToken)
	}
	if ch.IsExpired(s.Now()) {
		s.withdraw(ctx, ch)
		return nil, "", ErrCodeExpired
	}
	if ch.Attempts >= s.MaxAttempts {
		s.withdraw(ctx, ch)
		return nil, "", ErrExhausted
	}

	p, err := s.Principals.GetPrincipalByID(ctx, principalID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidTempToken, err)
	}

	if !s.matches(ch, p, code) {
		attempts, err := s.Challenges.IncrementAttempts(ctx, principalID, ch.ID)
		if errors.Is(err, ErrNotFound) {
			return nil, "", fmt.Errorf("%w: challenge superseded", ErrInvalidTempToken)
		} else if err != nil {
			return nil, "", err
		}
		if attempts >= s.MaxAttempts {
			s.withdraw(ctx, ch)
			return nil, "", ErrExhausted
		}
		return nil, "", ErrCodeMismatch
	}

	consumed, err := s.Challenges.DeleteChallenge(ctx, principalID, ch.ID)
	if err != nil {
		return nil, "", err
	}
	if !consumed {
		// a concurrent submission got there first
		return nil, "", fmt.Errorf("%w: challenge already used", ErrInvalidTempToken)
	}

	session, _, err := s.Tokens.IssueSession(p)
	if err != nil {
		return nil, "", err
	}
	return p, session, nil
}

func (s *SecondFactorChallenger) matches(ch *Challenge, p *Principal, code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	if ch.Method == DeliveryTOTP {
		ok, err := totp.ValidateCustom(code, p.TwoFactor.Secret, s.Now(), totp.ValidateOpts{
			Period:    30,
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		return err == nil && ok
	}
	return subtle.ConstantTimeCompare([]byte(HashToken(code)), []byte(ch.CodeHash)) == 1
}

func (s *SecondFactorChallenger) withdraw(ctx context.Context, ch *Challenge) {
	if _, err := s.Challenges.DeleteChallenge(ctx, ch.PrincipalID, ch.ID); err != nil {
		slog.Warn("could not delete challenge", "principal", ch.PrincipalID, "err", err)
	}
}

// RandomNumericCode returns a uniformly random decimal code
func RandomNumericCode(length int) (string, error) {
	var sb strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}
	return sb.String(), nil
}

// NewTOTPEnrollment creates a fresh authenticator-app seed for a principal.
// The returned URL is what a QR code should encode; the secret goes into
// TwoFactorConfig.Secret.
func NewTOTPEnrollment(issuer, accountName string) (secret string, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
	if err != nil {
		return "", "", fmt.Errorf("generating totp key: %w", err)
	}
	return key.Secret(), key.URL(), nil
}
