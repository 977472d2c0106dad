package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/notekeeper/internal/auth"
	"github.com/MarcoPoloResearchLab/notekeeper/internal/collection"
	"github.com/MarcoPoloResearchLab/notekeeper/internal/config"
	"github.com/MarcoPoloResearchLab/notekeeper/internal/logging"
	"github.com/MarcoPoloResearchLab/notekeeper/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "notes-api",
		Short: "Hosted note collection service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newIssueTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyServerDefaults(viper.GetViper())
	defaults := config.NewServerViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("issuer", defaults.GetString("auth.issuer"), "Expected session token issuer")
	cmd.PersistentFlags().Duration("token-ttl", defaults.GetDuration("auth.token_ttl"), "Lifetime of issued session tokens")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "CORS origins allowed to call the API (empty allows all)")
	cmd.PersistentFlags().Float64("rate-limit-rps", defaults.GetFloat64("ratelimit.rps"), "Per-user request rate")
	cmd.PersistentFlags().Int("rate-limit-burst", defaults.GetInt("ratelimit.burst"), "Per-user request burst")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.issuer", "issuer")
	bindFlag(cmd, "auth.token_ttl", "token-ttl")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "ratelimit.rps", "rate-limit-rps")
	bindFlag(cmd, "ratelimit.burst", "rate-limit-burst")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newIssueTokenCommand() *cobra.Command {
	var (
		userID string
		email  string
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Print a session token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.LoadServer(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.Issuer,
				TokenTTL:      appConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, _, err := issuer.Issue(cmd.Context(), userID, email)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "User id carried by the token")
	cmd.Flags().StringVar(&email, "email", "", "Optional email claim")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.LoadServer(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := collection.Open(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	documents, err := collection.NewService(collection.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: collection.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Documents:        documents,
		RateLimiter: server.NewRateLimiter(server.RateLimitConfig{
			RPS:   appConfig.RateLimitRPS,
			Burst: appConfig.RateLimitBurst,
		}),
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
