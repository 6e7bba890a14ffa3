// Package campusauth authenticates the students, faculty and admins of a
// course platform and issues the tokens the rest of the platform trusts.
//
// # Architecture
//
// The flows are split into small components, each usable on its own:
//
// CredentialVerifier: checks a username (or email) and password against the
// stored bcrypt hash.
//
// TokenIssuer: mints and verifies signed session tokens and the short-lived
// second-factor tokens. A second-factor token is never accepted as a session.
//
// FederationBroker: maps a Google, GitHub, Facebook or Microsoft identity onto
// a local principal, linking by email or provisioning a new student.
//
// SecondFactorChallenger: issues single-use email/SMS codes (or checks an
// authenticator app code) after the first factor passes.
//
// RecoveryCoordinator: issues and redeems single-use password reset tokens.
//
// Authenticator: sequences the above into the entry flows (local login,
// federated login, second factor, password reset).
//
// # Basic Usage
//
//	import (
//	    "github.com/panyam/campusauth"
//	    "github.com/panyam/campusauth/oauth2"
//	    "github.com/panyam/campusauth/stores/fs"
//	)
//
//	dir := "/path/to/storage"
//	auth, err := campusauth.NewAuthenticator(campusauth.AuthenticatorConfig{
//	    Principals:  fs.NewFSPrincipalStore(dir),
//	    Links:       fs.NewFSLinkStore(dir),
//	    Challenges:  fs.NewFSChallengeStore(dir),
//	    ResetTokens: fs.NewFSResetTokenStore(dir),
//	    Dispatcher:  mySMTPDispatcher,
//	    Tokens:      campusauth.TokenConfig{SigningKey: []byte(secret)},
//	    Providers:   []campusauth.IdentityProvider{oauth2.NewGoogle("", "", "")},
//	    BaseURL:     "https://campus.example.edu",
//	})
//
// Set up HTTP handlers:
//
//	mux := http.NewServeMux()
//	mux.Handle("/auth/", http.StripPrefix("/auth", campusauth.NewAuthHandlers(auth).Handler()))
//	mux.Handle("/auth/oauth/", http.StripPrefix("/auth/oauth",
//	    campusauth.NewFederationHandler(auth, nil, "/app/login/done").Handler()))
//
//	mw := &campusauth.Middleware{Tokens: auth.Tokens}
//	mux.Handle("/api/", mw.Required(apiHandler))
//
// # Store Implementations
//
// The stores sub-packages back the four store interfaces with the filesystem
// (development), GORM (relational databases), Cloud Datastore and, for the
// short-lived challenges and reset tokens, Redis. Every backend passes the
// shared behavioral tests in stores/storetest.
//
// # Security
//
// Passwords are hashed with bcrypt. Second-factor codes and reset tokens are
// only stored as SHA-256 hashes. Reset tokens are 32 random bytes, hex-encoded
// to 64 characters, valid for 30 minutes and redeemable once. Each principal
// has at most one outstanding code and one outstanding reset token; issuing a
// new one invalidates the old. Unknown usernames and emails are
// indistinguishable from wrong passwords to the caller.
//
// # Testing
//
// Handlers can be tested without a running server using httptest. The
// filesystem stores with t.TempDir give each test isolated storage, and
// RecordingDispatcher captures the codes and links that would be sent.
package campusauth
