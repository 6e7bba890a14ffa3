package campusauth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
)

type sessionContextKey struct{}

// SetSessionInContext stores verified session claims in a context
func SetSessionInContext(ctx context.Context, claims *SessionClaims) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, claims)
}

// SessionFromContext returns the claims set by Middleware, or nil
func SessionFromContext(ctx context.Context) *SessionClaims {
	claims, _ := ctx.Value(sessionContextKey{}).(*SessionClaims)
	return claims
}

// PrincipalIDFromContext returns the authenticated principal id or ""
func PrincipalIDFromContext(ctx context.Context) string {
	if claims := SessionFromContext(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}

// Middleware authenticates requests carrying a session token, either as a
// bearer token or in a cookie. Second-factor temp tokens never pass.
type Middleware struct {
	Tokens *TokenIssuer

	// Defaults to "Authorization"
	AuthHeader string

	// Checked when no header is present. Empty disables cookies.
	CookieName string

	// Error handling
	OnAuthError func(w http.ResponseWriter, r *http.Request, err error)
}

// Required rejects requests without a valid session with 401
func (m *Middleware) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.validateRequest(r)
		if err != nil {
			m.handleAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(SetSessionInContext(r.Context(), claims)))
	})
}

// RequireRoles only lets principals holding one of the roles through
func (m *Middleware) RequireRoles(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := m.validateRequest(r)
			if err != nil {
				m.handleAuthError(w, r, err)
				return
			}
			if !slices.Contains(roles, claims.Role) {
				writeJSON(w, http.StatusForbidden, map[string]any{
					"error": "Insufficient role",
					"code":  "forbidden",
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(SetSessionInContext(r.Context(), claims)))
		})
	}
}

// Optional allows requests without auth but sets claims if present
func (m *Middleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, err := m.validateRequest(r); err == nil {
			r = r.WithContext(SetSessionInContext(r.Context(), claims))
		}
		next.ServeHTTP(w, r)
	})
}

var errMissingToken = errors.New("missing session token")

// validateRequest extracts and validates the token from the request
func (m *Middleware) validateRequest(r *http.Request) (*SessionClaims, error) {
	header := m.AuthHeader
	if header == "" {
		header = "Authorization"
	}

	token := ""
	if authHeader := r.Header.Get(header); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return nil, ErrTokenMalformed
		}
		token = strings.TrimSpace(parts[1])
	} else if m.CookieName != "" {
		if c, err := r.Cookie(m.CookieName); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return nil, errMissingToken
	}
	return m.Tokens.VerifySession(token)
}

// handleAuthError handles authentication errors
func (m *Middleware) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if m.OnAuthError != nil {
		m.OnAuthError(w, r, err)
		return
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	code := ErrCodeInvalidToken
	if errors.Is(err, ErrTokenExpired) {
		code = ErrCodeExpiredToken
	}
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"error": "Authentication required",
		"code":  code,
	})
}
