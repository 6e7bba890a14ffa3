package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	ca "github.com/panyam/campusauth"
)

const namespace = "campusauth"

// LoginsTotal counts completed logins.
// Labels:
//   - method: local, federated, second_factor or password_reset
var LoginsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Total number of logins that produced a session.",
	},
	[]string{"method"},
)

// LoginFailuresTotal counts failed login steps.
// Labels:
//   - method: as above
//   - code: the error code returned to the client
var LoginFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_failures_total",
		Help:      "Total number of failed login attempts by error code.",
	},
	[]string{"method", "code"},
)

// RateLimitedTotal counts login requests refused by the rate limiter
var RateLimitedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Login requests rejected by the rate limiter.",
	},
)

// instrument attaches the counters to the authenticator hooks
func instrument(auth *ca.Authenticator) {
	auth.OnLoginSuccess = func(principalID, method string) {
		LoginsTotal.WithLabelValues(method).Inc()
	}
	auth.OnLoginFailure = func(identifier, method string, err error) {
		LoginFailuresTotal.WithLabelValues(method, ca.ToAuthError(err).Code).Inc()
	}
}
