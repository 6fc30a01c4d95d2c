package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/slateworks/slate/internal/auth"
	"github.com/slateworks/slate/internal/board"
	"github.com/slateworks/slate/internal/collab"
	"github.com/slateworks/slate/internal/config"
	"github.com/slateworks/slate/internal/database"
	"github.com/slateworks/slate/internal/logging"
	"github.com/slateworks/slate/internal/presence"
	"github.com/slateworks/slate/internal/realtime"
	"github.com/slateworks/slate/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "slate-api",
		Short: "Slate collaborative whiteboard backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Access token signing secret (overrides env)")
	cmd.PersistentFlags().Int("realtime-buffer", defaults.GetInt("realtime.buffer_size"), "Per-subscriber event buffer size")
	cmd.PersistentFlags().Int("cursor-ttl-seconds", defaults.GetInt("presence.cursor_ttl_seconds"), "Seconds before an idle cursor decays")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "realtime.buffer_size", "realtime-buffer")
	bindFlag(cmd, "presence.cursor_ttl_seconds", "cursor-ttl-seconds")
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
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})

	shapeStore, err := board.NewService(board.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: board.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	directory, err := collab.NewDatabaseDirectory(db)
	if err != nil {
		return err
	}
	roles, err := collab.NewService(collab.ServiceConfig{
		Database:  db,
		Directory: directory,
		Clock:     time.Now,
	})
	if err != nil {
		return err
	}

	registry := presence.NewRegistry(presence.RegistryConfig{
		CursorTTL: appConfig.CursorTTL(),
	})

	hub, err := realtime.NewHub(realtime.HubConfig{
		Shapes:     shapeStore,
		Roles:      roles,
		Presence:   registry,
		Logger:     logger,
		BufferSize: appConfig.RealtimeBuffer,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenValidator: tokenIssuer,
		Shapes:         shapeStore,
		Roles:          roles,
		Directory:      directory,
		Presence:       registry,
		Hub:            hub,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
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
