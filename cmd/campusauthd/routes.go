package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ca "github.com/panyam/campusauth"
)

// newRouter mounts:
//
//	/auth/...        password login, 2fa and recovery (campusauth.AuthHandlers)
//	/auth/oauth/...  federated login (campusauth.FederationHandler)
//	/api/me          the signed-in principal
//	/api/admin/...   admin-only second-factor toggle
//	/metrics         prometheus
func newRouter(cfg Config, auth *ca.Authenticator, stores *storeSet, limiter ca.RateLimiter) http.Handler {
	handlers := ca.NewAuthHandlers(auth)
	handlers.RateLimiter = limiter
	handlers.ResetPasswordURL = "/auth/reset-password"

	fed := ca.NewFederationHandler(auth, nil, cfg.OAuthCallbackURL)
	fed.CookieName = cfg.SessionCookie

	mw := &ca.Middleware{Tokens: auth.Tokens, CookieName: cfg.SessionCookie}

	r := mux.NewRouter()
	r.PathPrefix("/auth/oauth/").Handler(http.StripPrefix("/auth/oauth", fed.Handler()))
	r.PathPrefix("/auth/").Handler(http.StripPrefix("/auth", handlers.Handler()))

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/me", mw.Required(meHandler(stores.Principals))).Methods(http.MethodGet)
	if admin, ok := stores.Principals.(twoFactorAdmin); ok {
		api.Handle("/admin/two-factor", mw.RequireRoles(ca.RoleAdmin)(twoFactorHandler(stores.Principals, admin))).Methods(http.MethodPost)
	}

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	return r
}

func meHandler(principals ca.PrincipalStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := principals.GetPrincipalByID(r.Context(), ca.PrincipalIDFromContext(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p.Public())
	})
}

type twoFactorRequest struct {
	PrincipalID string `json:"principal_id" validate:"required"`
	Enabled     bool   `json:"enabled"`
	Method      string `json:"method" validate:"omitempty,oneof=email sms totp"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// twoFactorHandler lets admins switch a principal's second factor. Enabling
// totp returns the otpauth URL for the principal to scan.
func twoFactorHandler(principals ca.PrincipalStore, admin twoFactorAdmin) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req twoFactorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, ca.NewAuthError(ca.ErrCodeMissingField, "Invalid request body", ""))
			return
		}
		if err := validate.Struct(&req); err != nil {
			writeError(w, ca.NewAuthError(ca.ErrCodeMissingField, "principal_id and a valid method are required", ""))
			return
		}
		p, err := principals.GetPrincipalByID(r.Context(), req.PrincipalID)
		if err != nil {
			writeError(w, err)
			return
		}

		cfg := ca.TwoFactorConfig{Enabled: req.Enabled, Method: ca.DeliveryMethod(req.Method)}
		if cfg.Method == "" {
			cfg.Method = ca.DeliveryEmail
		}
		resp := map[string]any{"success": true}
		if cfg.Enabled && cfg.Method == ca.DeliveryTOTP {
			secret, url, err := ca.NewTOTPEnrollment("campusauth", p.Email)
			if err != nil {
				writeError(w, err)
				return
			}
			cfg.Secret = secret
			resp["otpauth_url"] = url
		}
		if err := admin.SetTwoFactor(r.Context(), p.ID, cfg); err != nil {
			writeError(w, err)
			return
		}
		slog.Info("second factor changed", "principal", p.ID, "enabled", cfg.Enabled, "method", cfg.Method,
			"by", ca.PrincipalIDFromContext(r.Context()))
		writeJSON(w, http.StatusOK, resp)
	})
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ca.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Not found", "code": "not_found"})
		return
	}
	ae := ca.ToAuthError(err)
	writeJSON(w, ae.StatusCode(), map[string]any{"error": ae.Message, "code": ae.Code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response", "err", err)
	}
}
