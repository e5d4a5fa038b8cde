package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agoralabs/agora/internal/archive"
	"github.com/agoralabs/agora/internal/chat"
	"github.com/agoralabs/agora/internal/config"
	"github.com/agoralabs/agora/internal/logging"
	"github.com/agoralabs/agora/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "agora-api",
		Short: "Anonymous ephemeral chat service with per-message voting",
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
	cmd.PersistentFlags().Int("store-capacity", defaults.GetInt("chat.store_capacity"), "Maximum retained messages before eviction")
	cmd.PersistentFlags().Int("max-message-length", defaults.GetInt("chat.max_message_length"), "Maximum message text length in runes")
	cmd.PersistentFlags().Int("event-buffer", defaults.GetInt("chat.event_buffer"), "Per-session outbound event buffer")
	cmd.PersistentFlags().String("archive-dsn", defaults.GetString("archive.dsn"), "SQLite DSN for the message transcript")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "chat.store_capacity", "store-capacity")
	bindFlag(cmd, "chat.max_message_length", "max-message-length")
	bindFlag(cmd, "chat.event_buffer", "event-buffer")
	bindFlag(cmd, "archive.dsn", "archive-dsn")
	bindFlag(cmd, "log.level", "log-level")
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

	transcript, err := archive.Open(appConfig.ArchiveDSN, logger)
	if err != nil {
		return err
	}
	defer transcript.Close()

	room := chat.NewRoom(chat.RoomConfig{
		Capacity:         appConfig.StoreCapacity,
		MaxMessageLength: appConfig.MaxMessageLength,
		EventBuffer:      appConfig.EventBuffer,
		Recorder:         transcript,
		Logger:           logger,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Room:    room,
		Archive: transcript,
		Logger:  logger,
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
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.Int("store_capacity", appConfig.StoreCapacity))
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
