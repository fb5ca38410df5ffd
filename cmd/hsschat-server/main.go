// Command hsschat-server runs the chat server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aeolun/hsschat/pkg/server"
)

var Version = "dev"

var (
	flagConfig string
	flagAddr   string
	flagPretty bool
)

var rootCmd = &cobra.Command{
	Use:          "hsschat-server",
	Short:        "Websocket chat server",
	Version:      Version,
	SilenceUsage: true,
	RunE:         runServer,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagConfig, "config", "~/.hsschat/server.toml", "path to the server config file")
	flags.StringVar(&flagAddr, "addr", "", "listen address, overrides the config file")
	flags.BoolVar(&flagPretty, "pretty", false, "human readable console logs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tc, err := server.LoadConfig(flagConfig)
	if err != nil {
		return err
	}
	if flagAddr != "" {
		tc.Server.HTTPAddr = flagAddr
	}
	cfg, err := tc.ToServerConfig()
	if err != nil {
		return err
	}

	logger := newLogger(tc.Server.LogLevel, flagPretty)
	logger.Info().
		Str("version", Version).
		Str("addr", cfg.HTTPAddr).
		Str("avatar_dir", cfg.AvatarDir).
		Bool("metrics", cfg.MetricsEnabled).
		Msg("Starting server")

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down")
	if err := srv.Stop(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}
