package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/ambuwatch/internal/config"
	"github.com/user/ambuwatch/internal/conference"
	"github.com/user/ambuwatch/internal/httpapi"
	"github.com/user/ambuwatch/internal/notify"
	"github.com/user/ambuwatch/internal/push"
	"github.com/user/ambuwatch/internal/scheduler"
	"github.com/user/ambuwatch/internal/session"
	"github.com/user/ambuwatch/internal/stream"
	"github.com/user/ambuwatch/internal/types"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("session", "", "session to open on startup")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local API for the dashboard",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile() (string, error) {
	path := pidPath()
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func newNotifier(cfg *config.Config) (*notify.Notifier, error) {
	reg := notify.NewRegistry()
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.Token)
		if err != nil {
			return nil, fmt.Errorf("create telegram notifier: %w", err)
		}
		reg.Register(notify.TelegramPrefix, tg.Handle)
		slog.Info("telegram notifications enabled")
	}
	return notify.NewNotifier(reg, cfg.Notify.Targets), nil
}

// resyncJob re-fetches the open session when the push channel is down.
func resyncJob(cfg *config.Config, facade *session.Facade) scheduler.Job {
	return scheduler.Job{
		Name:     "resync",
		Schedule: cfg.Resync.Schedule,
		Enabled:  cfg.Resync.Enabled,
		Timeout:  cfg.BackendTimeout(),
		Run: func(ctx context.Context) error {
			if facade.Live() {
				return nil
			}
			err := facade.Refresh(ctx)
			if errors.Is(err, session.ErrNoSession) {
				return nil
			}
			return err
		},
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	pidFile, err := writePIDFile()
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	be := newBackend(cfg)
	notifier, err := newNotifier(cfg)
	if err != nil {
		return err
	}

	fc := session.Config{
		Backend:             be,
		Resolver:            newResolver(cfg, be),
		Cache:               stream.NewCache(),
		Operator:            cfg.Operator,
		MaxLanes:            int64(cfg.MaxLanes),
		OnCredentialProblem: notifier.CredentialProblem,
	}
	if cfg.Push.URL != "" {
		fc.Push = push.New(push.Config{
			URL:          cfg.Push.URL,
			Token:        cfg.Backend.Token,
			PingInterval: cfg.PingInterval(),
		})
	} else {
		slog.Warn("push channel disabled (no push.url), relying on resync")
	}
	facade := session.New(fc)
	defer facade.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if id, _ := cmd.Flags().GetString("session"); id != "" {
		if err := facade.Open(ctx, types.SessionID(id)); err != nil {
			return err
		}
	}

	sched := scheduler.New(resyncJob(cfg, facade))
	if err := sched.Start(ctx); err != nil {
		slog.Error("scheduler started with errors", "error", err)
	}
	defer sched.Stop()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.NewServer(facade, conference.NewTracker()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("api server started", "listen", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("ambuwatch started",
		"log_level", cfg.LogLevel,
		"backend", cfg.Backend.BaseURL,
		"push", cfg.Push.URL != "",
		"resync", cfg.Resync.Enabled,
		"pid_file", pidFile,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	return httpServer.Shutdown(shutdownCtx)
}
