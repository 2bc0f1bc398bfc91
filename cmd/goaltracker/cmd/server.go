package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/goaltracker/api"
	"github.com/jmcleod/goaltracker/tracker"
)

var (
	tlsCert string
	tlsKey  string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the goal tracker web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := cfg.NewLogger(os.Stderr)
		ctx := cmd.Context()

		repo, err := openRepository(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer repo.Close()

		auth, err := newIdentity(cfg, repo, logger)
		if err != nil {
			return err
		}
		sessions, closeSessions, err := newSessionStore(ctx, cfg, repo, logger)
		if err != nil {
			return err
		}
		defer closeSessions()

		a, err := api.New(tracker.NewGateway(repo), auth,
			api.WithLogger(logger),
			api.WithSessionStore(sessions),
			api.WithSessionTTL(cfg.SessionTTL),
			api.WithCookieSecure(cfg.CookieSecure),
			api.WithTrustProxy(cfg.TrustProxy),
			api.WithTrustedProxies(cfg.TrustedProxies),
			api.WithDevMode(cfg.DevMode()),
			api.WithAlertFunc(func(e api.AlertEvent) {
				logger.Warn("security alert", "type", e.Type, "count", e.Count, "threshold", e.Threshold, "message", e.Message)
			}),
		)
		if err != nil {
			return err
		}
		defer a.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Mount("/", a.Router())

		var tlsConfig *tls.Config
		if tlsCert != "" && tlsKey != "" {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if tlsConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		logger.Info("starting server",
			"port", cfg.Port, "env", cfg.Env, "store", cfg.Store,
			"auth", cfg.AuthProvider, "tls", tlsConfig != nil)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntP("port", "p", 3000, "Port to listen on (PORT)")
	serverCmd.Flags().String("store", "bbolt", "Storage backend: memory, bbolt or postgres (STORE)")
	serverCmd.Flags().String("data-dir", "./data", "Directory for the bbolt database (DATA_DIR)")
	serverCmd.Flags().String("database-url", "", "Postgres connection string (DATABASE_URL)")
	serverCmd.Flags().String("auth-provider", "local", "Identity provider: local or gotrue (AUTH_PROVIDER)")
	serverCmd.Flags().Bool("dev", false, "Run in development mode")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}
