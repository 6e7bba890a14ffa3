package campusauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest secret accepted when setting a password
const MinPasswordLength = 8

// CredentialVerifier checks a submitted username/password pair against the
// stored bcrypt hash. It holds no mutable state.
type CredentialVerifier struct {
	Principals PrincipalStore

	// Cost used by HashSecret. Defaults to bcrypt.DefaultCost.
	Cost int
}

func NewCredentialVerifier(principals PrincipalStore) *CredentialVerifier {
	return &CredentialVerifier{Principals: principals, Cost: bcrypt.DefaultCost}
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// compared against when no principal matches so a miss costs as much as a hit
func timingDummyHash() []byte {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("campusauth-dummy-secret"), bcrypt.DefaultCost)
	})
	return dummyHash
}

// Verify looks up the principal by username (or email when the identifier
// looks like one) and compares the secret. Read only.
func (v *CredentialVerifier) Verify(ctx context.Context, username, secret string) (*Principal, error) {
	username = strings.TrimSpace(username)
	if username == "" || secret == "" {
		return nil, ErrInvalidCredential
	}

	var p *Principal
	var err error
	if DetectUsernameType(username) == "email" {
		p, err = v.Principals.GetPrincipalByEmail(ctx, username)
	} else {
		p, err = v.Principals.GetPrincipalByUsername(ctx, username)
	}
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(timingDummyHash(), []byte(secret))
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("looking up principal: %w", err)
	}

	if !p.HasLocalCredential() {
		// federated-only account
		_ = bcrypt.CompareHashAndPassword(timingDummyHash(), []byte(secret))
		return nil, ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(secret)); err != nil {
		return nil, ErrInvalidCredential
	}
	return p, nil
}

// HashSecret produces the stored form of a new secret
func (v *CredentialVerifier) HashSecret(secret string) (string, error) {
	cost := v.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// ValidateNewSecret enforces the password policy for credential replacement
func ValidateNewSecret(secret string) error {
	if len(secret) < MinPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakSecret, MinPasswordLength)
	}
	if len(secret) > 72 {
		// bcrypt ignores everything past 72 bytes
		return fmt.Errorf("%w: must be at most 72 bytes", ErrWeakSecret)
	}
	return nil
}

// DetectUsernameType attempts to detect what type of username was provided
func DetectUsernameType(username string) string {
	if strings.Contains(username, "@") {
		return "email"
	}
	return "username"
}
