package campusauth

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound          = errors.New("principal not found")
	ErrInvalidCredential = errors.New("invalid credentials")
	ErrInvalidToken      = errors.New("invalid or already used token")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenMalformed    = errors.New("token malformed")
	ErrInvalidTempToken  = errors.New("invalid second factor token")
	ErrCodeExpired       = errors.New("verification code expired")
	ErrCodeMismatch      = errors.New("verification code does not match")
	ErrExhausted         = errors.New("too many failed verification attempts")
	ErrProviderFailure   = errors.New("identity provider authentication failed")
	ErrDispatchFailure   = errors.New("could not deliver message")
	ErrTwoFactorDisabled = errors.New("two factor authentication not enabled")
	ErrWeakSecret        = errors.New("password does not meet policy")
	ErrUnknownProvider   = errors.New("unknown identity provider")
	ErrAlreadyExists     = errors.New("already exists")
)

// Error codes returned to external callers
const (
	ErrCodeInvalidCreds     = "invalid_credentials"
	ErrCodeInvalidToken     = "invalid_token"
	ErrCodeExpiredToken     = "expired"
	ErrCodeInvalidTempToken = "invalid_temp_token"
	ErrCodeCodeMismatch     = "code_mismatch"
	ErrCodeCodeExpired      = "code_expired"
	ErrCodeExhausted        = "exhausted"
	ErrCodeAuthFailed       = "authentication_failed"
	ErrCodeDispatchFailed   = "dispatch_failed"
	ErrCodeWeakPassword     = "weak_password"
	ErrCodeMissingField     = "missing_field"
	ErrCodeInvalidEmail     = "invalid_email"
	ErrCodeServerError      = "server_error"
)

// AuthError is the external shape of a failed authentication step
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`
}

func (e *AuthError) Error() string { return e.Message }

func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

// ToAuthError maps an internal error to what callers may see.
// NotFound is folded into invalid credentials so account existence never leaks.
func ToAuthError(err error) *AuthError {
	var ae *AuthError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidCredential):
		return NewAuthError(ErrCodeInvalidCreds, "Invalid credentials", "password")
	case errors.Is(err, ErrInvalidTempToken):
		return NewAuthError(ErrCodeInvalidTempToken, "Verification session is invalid or expired, please log in again", "temp_token")
	case errors.Is(err, ErrCodeMismatch):
		return NewAuthError(ErrCodeCodeMismatch, "Incorrect verification code", "code")
	case errors.Is(err, ErrCodeExpired):
		return NewAuthError(ErrCodeCodeExpired, "Verification code expired, please log in again", "code")
	case errors.Is(err, ErrExhausted):
		return NewAuthError(ErrCodeExhausted, "Too many attempts, please log in again", "code")
	case errors.Is(err, ErrTokenExpired):
		return NewAuthError(ErrCodeExpiredToken, "Token has expired", "token")
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenMalformed):
		return NewAuthError(ErrCodeInvalidToken, "Invalid or expired token", "token")
	case errors.Is(err, ErrWeakSecret):
		return NewAuthError(ErrCodeWeakPassword, err.Error(), "password")
	case errors.Is(err, ErrDispatchFailure):
		return NewAuthError(ErrCodeDispatchFailed, "Could not send verification code, please try again", "")
	case errors.Is(err, ErrProviderFailure), errors.Is(err, ErrUnknownProvider):
		return NewAuthError(ErrCodeAuthFailed, "Authentication failed", "")
	}
	return NewAuthError(ErrCodeServerError, "Internal error", "")
}

// StatusCode picks the HTTP status for an AuthError code
func (e *AuthError) StatusCode() int {
	switch e.Code {
	case ErrCodeMissingField, ErrCodeInvalidEmail, ErrCodeWeakPassword, ErrCodeInvalidToken, ErrCodeExpiredToken:
		return http.StatusBadRequest
	case ErrCodeExhausted:
		return http.StatusTooManyRequests
	case ErrCodeDispatchFailed:
		return http.StatusBadGateway
	case ErrCodeServerError:
		return http.StatusInternalServerError
	}
	return http.StatusUnauthorized
}
