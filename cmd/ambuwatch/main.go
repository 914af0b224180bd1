package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/ambuwatch/internal/backend"
	"github.com/user/ambuwatch/internal/config"
	"github.com/user/ambuwatch/internal/stream"
	"github.com/user/ambuwatch/internal/vendor"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "ambuwatch",
	Short:         "Remote monitoring client for ambulance sessions",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func pidPath() string {
	return filepath.Join(filepath.Dir(cfgPath), "ambuwatch.pid")
}

func newBackend(cfg *config.Config) *backend.Client {
	return backend.New(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Token:   cfg.Backend.Token,
		Timeout: cfg.BackendTimeout(),
	})
}

func newResolver(cfg *config.Config, be *backend.Client) *stream.Resolver {
	return stream.NewResolver(be, vendor.New(),
		stream.WithVendorTimeout(cfg.VendorTimeout()),
	)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
