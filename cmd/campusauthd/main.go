// Command campusauthd serves campusauth over HTTP (and optionally gRPC):
// password login with second factor, federated login through Google,
// GitHub, Facebook and Microsoft, and password recovery.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	ca "github.com/panyam/campusauth"
	cagrpc "github.com/panyam/campusauth/grpc"
	oa2 "github.com/panyam/campusauth/oauth2"
)

func main() {
	if err := run(); err != nil {
		slog.Error("campusauthd failed", "err", err)
		os.Exit(1)
	}
}

func initLogger(cfg Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	initLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	auth, err := ca.NewAuthenticator(ca.AuthenticatorConfig{
		Principals:  stores.Principals,
		Links:       stores.Links,
		Challenges:  stores.Challenges,
		ResetTokens: stores.ResetTokens,
		Tokens: ca.TokenConfig{
			SigningKey:    []byte(cfg.JWTSecret),
			SessionExpiry: cfg.SessionExpiry,
		},
		Providers:            configuredProviders(cfg),
		BaseURL:              cfg.BaseURL,
		TrustFederatedLogins: cfg.TrustFederatedLogins,
	})
	if err != nil {
		return err
	}
	instrument(auth)

	limiter := newKeyedLimiter(cfg.LoginRatePerMinute)
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.prune(time.Hour)
			}
		}
	}()
	go runCleanup(ctx, stores.ResetTokens, time.Hour)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(cfg, auth, stores, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("http listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcServer, err = startGRPC(cfg.GRPCAddr, auth.Tokens, errCh)
		if err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	return server.Shutdown(shutdownCtx)
}

// configuredProviders enables every provider whose client id is set
func configuredProviders(cfg Config) []ca.IdentityProvider {
	callback := func(name string) string {
		return strings.TrimRight(cfg.BaseURL, "/") + "/auth/oauth/" + name + "/callback/"
	}
	google := oa2.NewGoogle("", "", callback(ca.ProviderGoogle))
	github := oa2.NewGitHub("", "", callback(ca.ProviderGitHub))
	facebook := oa2.NewFacebook("", "", callback(ca.ProviderFacebook))
	microsoft := oa2.NewMicrosoft("", "", callback(ca.ProviderMicrosoft), cfg.MicrosoftTenant)

	var providers []ca.IdentityProvider
	for _, p := range []*oa2.Provider{google, github.Provider, facebook, microsoft} {
		if p.ClientId == "" {
			continue
		}
		slog.Info("federated provider enabled", "provider", p.Name())
		if p.Name() == ca.ProviderGitHub {
			providers = append(providers, github)
		} else {
			providers = append(providers, p)
		}
	}
	return providers
}

// startGRPC serves the health service behind the session interceptors, so
// other campus services can check both reachability and their tokens
func startGRPC(addr string, verifier cagrpc.SessionVerifier, errCh chan<- error) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen: %w", err)
	}
	config := cagrpc.NewPublicMethodsConfig(verifier,
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
	)
	server := grpc.NewServer(
		grpc.UnaryInterceptor(cagrpc.UnaryAuthInterceptor(config)),
		grpc.StreamInterceptor(cagrpc.StreamAuthInterceptor(config)),
	)
	healthpb.RegisterHealthServer(server, health.NewServer())

	go func() {
		slog.Info("grpc listening", "addr", addr)
		if err := server.Serve(lis); err != nil {
			errCh <- err
		}
	}()
	return server, nil
}
