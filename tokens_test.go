package campusauth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ca "github.com/panyam/campusauth"
)

func newIssuer(t *testing.T, key string, now func() time.Time) *ca.TokenIssuer {
	t.Helper()
	issuer, err := ca.NewTokenIssuer(ca.TokenConfig{SigningKey: []byte(key), Now: now})
	require.NoError(t, err)
	return issuer
}

var alice = &ca.Principal{ID: "p-alice", Username: "alice", Email: "alice@example.com", Role: ca.RoleStudent}

func TestTokenIssuer_SessionRoundTrip(t *testing.T) {
	issuer := newIssuer(t, testSigningKey, nil)
	token, issued, err := issuer.IssueSession(alice)
	require.NoError(t, err)

	claims, err := issuer.VerifySession(token)
	require.NoError(t, err)
	assert.Equal(t, "p-alice", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, ca.RoleStudent, claims.Role)
	assert.Equal(t, ca.TokenTypeSession, claims.Type)
	assert.Equal(t, "campusauth", claims.Issuer)
	assert.Equal(t, issued.ExpiresAt.Unix(), claims.ExpiresAt.Unix())
	assert.WithinDuration(t, time.Now().Add(ca.TokenExpirySession), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenIssuer_TypesAreNotInterchangeable(t *testing.T) {
	issuer := newIssuer(t, testSigningKey, nil)

	temp, claims, err := issuer.IssueSecondFactor(alice, "challenge-1")
	require.NoError(t, err)
	assert.Equal(t, "challenge-1", claims.ChallengeID())

	_, err = issuer.VerifySession(temp)
	assert.ErrorIs(t, err, ca.ErrTokenMalformed, "a second factor token is never a session")

	session, _, err := issuer.IssueSession(alice)
	require.NoError(t, err)
	_, err = issuer.VerifySecondFactor(session)
	assert.ErrorIs(t, err, ca.ErrTokenMalformed)

	got, err := issuer.VerifySecondFactor(temp)
	require.NoError(t, err)
	assert.Equal(t, "p-alice", got.Subject)
}

func TestTokenIssuer_SecondFactorTokenCarriesNoIdentityClaims(t *testing.T) {
	issuer := newIssuer(t, testSigningKey, nil)
	temp, _, err := issuer.IssueSecondFactor(alice, "challenge-1")
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(temp, claims)
	require.NoError(t, err)
	assert.NotContains(t, claims, "username")
	assert.NotContains(t, claims, "email")
	assert.NotContains(t, claims, "role")
	assert.Equal(t, "2fa", claims["type"])
}

func TestTokenIssuer_RejectsOtherKeysAndExpiredTokens(t *testing.T) {
	issuer := newIssuer(t, testSigningKey, nil)

	t.Run("different key is malformed", func(t *testing.T) {
		other := newIssuer(t, "some-other-signing-key-987654321", nil)
		token, _, err := other.IssueSession(alice)
		require.NoError(t, err)
		_, err = issuer.VerifySession(token)
		assert.ErrorIs(t, err, ca.ErrTokenMalformed)
		assert.NotErrorIs(t, err, ca.ErrTokenExpired)
	})

	t.Run("expired is distinct", func(t *testing.T) {
		past := newIssuer(t, testSigningKey, func() time.Time { return time.Now().Add(-8 * 24 * time.Hour) })
		token, _, err := past.IssueSession(alice)
		require.NoError(t, err)
		_, err = issuer.VerifySession(token)
		assert.ErrorIs(t, err, ca.ErrTokenExpired)
		assert.NotErrorIs(t, err, ca.ErrTokenMalformed)
	})

	t.Run("garbage", func(t *testing.T) {
		for _, token := range []string{"", "   ", "not.a.jwt", "a.b"} {
			_, err := issuer.VerifySession(token)
			assert.ErrorIs(t, err, ca.ErrTokenMalformed, "token %q", token)
		}
	})

	t.Run("other algorithm", func(t *testing.T) {
		claims := &ca.SessionClaims{
			Type: ca.TokenTypeSession,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "campusauth",
				Subject:   "p-alice",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSigningKey))
		require.NoError(t, err)
		_, err = issuer.VerifySession(token)
		assert.ErrorIs(t, err, ca.ErrTokenMalformed)
	})
}

func TestTokenIssuer_ClaimsReflectIssuanceTime(t *testing.T) {
	issuer := newIssuer(t, testSigningKey, nil)
	p := *alice
	token, _, err := issuer.IssueSession(&p)
	require.NoError(t, err)

	p.Role = ca.RoleAdmin
	claims, err := issuer.VerifySession(token)
	require.NoError(t, err)
	assert.Equal(t, ca.RoleStudent, claims.Role, "role changes only show up in new tokens")
}

func TestNewTokenIssuer_Config(t *testing.T) {
	t.Setenv("CAMPUSAUTH_JWT_SECRET_KEY", "")
	_, err := ca.NewTokenIssuer(ca.TokenConfig{})
	assert.Error(t, err)

	_, err = ca.NewTokenIssuer(ca.TokenConfig{SigningKey: []byte("k"), SigningAlg: "RS256"})
	assert.Error(t, err)

	t.Setenv("CAMPUSAUTH_JWT_SECRET_KEY", "from-env")
	issuer, err := ca.NewTokenIssuer(ca.TokenConfig{SessionExpiry: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, issuer.SessionExpiry())

	token, _, err := issuer.IssueSession(alice)
	require.NoError(t, err)
	_, err = newIssuer(t, "from-env", nil).VerifySession(token)
	assert.NoError(t, err)
}

func TestGenerateSecureToken(t *testing.T) {
	a, err := ca.GenerateSecureToken()
	require.NoError(t, err)
	b, err := ca.GenerateSecureToken()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)

	assert.Equal(t, ca.HashToken(a), ca.HashToken(a))
	assert.NotEqual(t, a, ca.HashToken(a))
	assert.Equal(t, strings.ToLower(ca.HashToken(a)), ca.HashToken(a))
}
