package campusauth

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// AuthErrorHandler lets an application render an auth failure itself (for
// example redirect back to a login page). Returning false falls back to JSON.
type AuthErrorHandler func(err *AuthError, w http.ResponseWriter, r *http.Request) bool

// RateLimiter interface for rate limiting login attempts
type RateLimiter interface {
	Allow(key string) bool
}

// AuthHandlers exposes the Authenticator over HTTP
type AuthHandlers struct {
	Auth *Authenticator

	// Optional, keyed by client ip and username
	RateLimiter RateLimiter

	// Called for any failed request. If nil, returns JSON error.
	OnError AuthErrorHandler

	// Where the reset form posts to. Defaults to /auth/reset-password.
	ResetPasswordURL string

	validate *validator.Validate
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type verifyRequest struct {
	TempToken string `json:"temp_token" validate:"required"`
	Code      string `json:"code" validate:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func NewAuthHandlers(auth *Authenticator) *AuthHandlers {
	return &AuthHandlers{Auth: auth}
}

func (h *AuthHandlers) validator() *validator.Validate {
	if h.validate == nil {
		v := validator.New(validator.WithRequiredStructEnabled())
		// report json field names
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		h.validate = v
	}
	return h.validate
}

// Handler returns the routes mounted relative to the auth prefix
func (h *AuthHandlers) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", h.HandleLogin)
	mux.HandleFunc("POST /2fa/verify", h.HandleVerifyTwoFactor)
	mux.HandleFunc("POST /forgot-password", h.HandleForgotPassword)
	mux.HandleFunc("GET /reset-password", h.HandleResetPasswordForm)
	mux.HandleFunc("POST /reset-password", h.HandleResetPassword)
	return mux
}

// HandleLogin handles username/password logins. The response carries
// either a session token or, when a second factor is pending, a temp token.
func (h *AuthHandlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if h.RateLimiter != nil && !h.RateLimiter.Allow(getClientIP(r)+":"+req.Username) {
		h.writeError(w, r, NewAuthError(ErrCodeExhausted, "Too many login attempts", ""))
		return
	}
	res, err := h.Auth.LoginLocal(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, ToAuthError(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleVerifyTwoFactor trades a temp token and code for a session
func (h *AuthHandlers) HandleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Auth.VerifyTwoFactor(r.Context(), req.TempToken, req.Code)
	if err != nil {
		h.writeError(w, r, ToAuthError(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleForgotPassword always answers the same way, whether or not the
// email is registered
func (h *AuthHandlers) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		slog.Error("password reset request failed", "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "If that email exists, a reset link has been sent",
	})
}

var resetFormTemplate = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<head><title>Reset Password</title></head>
<body>
<h1>Reset Password</h1>
<form method="POST" action="{{.Action}}">
	<input type="hidden" name="token" value="{{.Token}}">
	<label>New Password: <input type="password" name="password" required minlength="{{.MinLength}}"></label>
	<button type="submit">Reset Password</button>
</form>
</body>
</html>`))

// HandleResetPasswordForm shows the reset password form (GET). The token is
// only checked on submit.
func (h *AuthHandlers) HandleResetPasswordForm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Token required", http.StatusBadRequest)
		return
	}
	action := h.ResetPasswordURL
	if action == "" {
		action = "/auth/reset-password"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := resetFormTemplate.Execute(w, map[string]any{
		"Action":    action,
		"Token":     token,
		"MinLength": MinPasswordLength,
	}); err != nil {
		slog.Warn("rendering reset form", "err", err)
	}
}

// HandleResetPassword redeems a reset token with a new password
func (h *AuthHandlers) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Auth.ResetPassword(r.Context(), req.Token, req.Password)
	if err != nil {
		h.writeError(w, r, ToAuthError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "Password reset successfully",
		"token":       res.SessionToken,
		"temp_token":  res.TempToken,
		"requires2FA": res.Requires2FA,
		"user":        res.Principal,
	})
}

// decode reads a form or JSON body into dst and validates it. On failure
// the error response has already been written.
func (h *AuthHandlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			h.writeError(w, r, NewAuthError(ErrCodeMissingField, "Invalid form data", ""))
			return false
		}
		fillFromForm(dst, r.PostForm)
	} else if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, NewAuthError(ErrCodeMissingField, "Invalid request body", ""))
		return false
	}

	if err := h.validator().Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			code, msg := ErrCodeMissingField, fe.Field()+" is required"
			switch fe.Tag() {
			case "required":
			case "email":
				code, msg = ErrCodeInvalidEmail, "Invalid email address"
			default:
				msg = "Invalid " + fe.Field()
			}
			h.writeError(w, r, NewAuthError(code, msg, fe.Field()))
			return false
		}
		h.writeError(w, r, NewAuthError(ErrCodeMissingField, "Invalid request", ""))
		return false
	}
	return true
}

// fillFromForm copies form values into the string fields named by json tags
func fillFromForm(dst any, form url.Values) {
	v := reflect.ValueOf(dst).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := strings.SplitN(t.Field(i).Tag.Get("json"), ",", 2)[0]
		if name == "" || v.Field(i).Kind() != reflect.String {
			continue
		}
		v.Field(i).SetString(form.Get(name))
	}
}

func (h *AuthHandlers) writeError(w http.ResponseWriter, r *http.Request, err *AuthError) {
	if h.OnError != nil && h.OnError(err, w, r) {
		return
	}
	writeAuthError(w, err)
}

func writeAuthError(w http.ResponseWriter, err *AuthError) {
	body := map[string]any{
		"error": err.Message,
		"code":  err.Code,
	}
	if err.Field != "" {
		body["field"] = err.Field
	}
	writeJSON(w, err.StatusCode(), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response", "err", err)
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if colonIdx := strings.LastIndex(ip, ":"); colonIdx != -1 {
		ip = ip[:colonIdx]
	}
	return ip
}
