// Command hsschat is the terminal chat client.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aeolun/hsschat/pkg/client"
	"github.com/aeolun/hsschat/pkg/client/session"
	"github.com/aeolun/hsschat/pkg/client/ui"
)

var Version = "dev"

const defaultServer = "localhost:8000"

var (
	flagConfig   string
	flagServer   string
	flagNick     string
	flagHeadless bool
)

var rootCmd = &cobra.Command{
	Use:          "hsschat",
	Short:        "Terminal chat client",
	Version:      Version,
	SilenceUsage: true,
	RunE:         runClient,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagConfig, "config", "~/.hsschat/client.toml", "path to the client config file")
	flags.StringVar(&flagServer, "server", "", "server address (ws://, wss://, http://, https:// or host:port)")
	flags.StringVar(&flagNick, "nick", "", "nickname to join with")
	flags.BoolVar(&flagHeadless, "headless", false, "line-based mode: read commands from stdin, print messages to stdout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := client.LoadConfig(flagConfig)
	if err != nil {
		return err
	}

	logger, closeLog, err := openLogger(cfg.Client.LogPath, cfg.Client.LogLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	statePath, err := client.ExpandPath(cfg.Client.StatePath)
	if err != nil {
		return err
	}
	state, err := client.OpenState(statePath)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer state.Close()

	server := pickServer(flagServer, cfg.Client.ServerURL, state)
	nick := client.ResolveNickname(flagNick, cfg.Client.Nickname, state.GetLastNickname())

	conn, err := client.NewConnection(server)
	if err != nil {
		return err
	}
	conn.SetLogger(logger)
	defer conn.Close()

	if err := conn.Open(nick); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := state.SaveSuccessfulConnection(server); err != nil {
		logger.Warn().Err(err).Msg("Failed to remember server")
	}
	logger.Info().Str("server", server).Str("nickname", nick).Msg("Connected")

	rec := session.NewReconciler(conn, state, logger)
	rec.SetMaxAvatarBytes(cfg.Client.MaxAvatarBytes)
	if cfg.Client.MetricsAddr != "" {
		rec.SetMetrics(serveMetrics(ctx, cfg.Client.MetricsAddr, logger))
	}
	uploader := client.NewAvatarClient(conn.GetHTTPBase(), logger)

	if flagHeadless {
		return runHeadless(ctx, conn, rec, uploader, os.Stdin, os.Stdout, logger)
	}

	model := ui.NewModel(ctx, conn, state, rec, ui.Options{
		Uploader:      uploader,
		Notifications: cfg.Client.Notifications,
		Notifier:      ui.DesktopNotifier,
		Logger:        logger,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("ui: %w", err)
	}
	return nil
}

// pickServer prefers the flag, then the config file, then the last server
// that accepted a connection.
func pickServer(flag, configured string, state client.StateInterface) string {
	if flag != "" {
		return flag
	}
	if configured != "" {
		return configured
	}
	if last, err := state.GetLastServer(); err == nil && last != "" {
		return last
	}
	return defaultServer
}

// openLogger writes JSON logs to path. The terminal belongs to the UI.
func openLogger(path, level string) (zerolog.Logger, func(), error) {
	path, err := client.ExpandPath(path)
	if err != nil {
		return zerolog.Nop(), func() {}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return zerolog.Nop(), func() {}, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return zerolog.Nop(), func() {}, fmt.Errorf("open log file: %w", err)
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(f).Level(lvl).With().Timestamp().Str("app", "hsschat").Logger()
	return logger, func() { f.Close() }, nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) *session.Metrics {
	reg := prometheus.NewRegistry()
	metrics := session.NewMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return metrics
}
