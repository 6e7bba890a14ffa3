package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	ca "github.com/panyam/campusauth"
)

// Config is loaded from the environment, with an optional .env file for
// local development
type Config struct {
	Addr    string `env:"CAMPUSAUTH_ADDR" envDefault:":8080"`
	BaseURL string `env:"CAMPUSAUTH_BASE_URL" envDefault:"http://localhost:8080"`
	LogJSON bool   `env:"CAMPUSAUTH_LOG_JSON" envDefault:"true"`

	// fs, postgres or datastore
	Backend   string `env:"CAMPUSAUTH_STORE" envDefault:"fs"`
	DataDir   string `env:"CAMPUSAUTH_DATA_DIR" envDefault:"./data"`
	DSN       string `env:"CAMPUSAUTH_POSTGRES_DSN"`
	ProjectID string `env:"CAMPUSAUTH_DATASTORE_PROJECT"`
	Namespace string `env:"CAMPUSAUTH_DATASTORE_NAMESPACE"`

	// When set, challenges and reset tokens live in redis
	RedisAddr   string `env:"CAMPUSAUTH_REDIS_ADDR"`
	RedisPrefix string `env:"CAMPUSAUTH_REDIS_PREFIX" envDefault:"campusauth:"`

	JWTSecret     string        `env:"CAMPUSAUTH_JWT_SECRET_KEY"`
	SessionExpiry time.Duration `env:"CAMPUSAUTH_SESSION_EXPIRY" envDefault:"168h"`

	TrustFederatedLogins bool   `env:"CAMPUSAUTH_TRUST_FEDERATED_LOGINS" envDefault:"false"`
	OAuthCallbackURL     string `env:"CAMPUSAUTH_OAUTH_CALLBACK_URL" envDefault:"/"`
	MicrosoftTenant      string `env:"OAUTH2_MICROSOFT_TENANT" envDefault:"common"`
	SessionCookie        string `env:"CAMPUSAUTH_SESSION_COOKIE" envDefault:"campusauth_session"`

	// Login attempts per minute per client and username
	LoginRatePerMinute int `env:"CAMPUSAUTH_LOGIN_RATE" envDefault:"10"`

	GRPCAddr string `env:"CAMPUSAUTH_GRPC_ADDR"`
}

// LoadConfig reads .env if present, then the environment
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case "fs":
	case "postgres":
		if c.DSN == "" {
			return errors.New("CAMPUSAUTH_POSTGRES_DSN is required for the postgres store")
		}
	case "datastore":
		if c.ProjectID == "" {
			return errors.New("CAMPUSAUTH_DATASTORE_PROJECT is required for the datastore store")
		}
	default:
		return fmt.Errorf("unknown store %q, want fs, postgres or datastore", c.Backend)
	}
	if c.JWTSecret == "" {
		return errors.New("CAMPUSAUTH_JWT_SECRET_KEY is required")
	}
	if c.LoginRatePerMinute <= 0 {
		c.LoginRatePerMinute = 10
	}
	if c.SessionExpiry <= 0 {
		c.SessionExpiry = ca.TokenExpirySession
	}
	return nil
}
