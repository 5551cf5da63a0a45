// screenwatch - watches a screen region and alerts once when it changes
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GriffinCanCode/screenwatch/internal/audio"
	"github.com/GriffinCanCode/screenwatch/internal/config"
	"github.com/GriffinCanCode/screenwatch/internal/grpcclient"
	"github.com/GriffinCanCode/screenwatch/internal/grpcserver"
	"github.com/GriffinCanCode/screenwatch/internal/logging"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/alert"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/command"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/monitor"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/resume"
	"github.com/GriffinCanCode/screenwatch/internal/screen"
	"github.com/GriffinCanCode/screenwatch/internal/server"
	"github.com/GriffinCanCode/screenwatch/internal/telegram"
	"github.com/GriffinCanCode/screenwatch/internal/trace"
)

const shutdownTimeout = 5 * time.Second

func main() {
	healthcheck := flag.Bool("healthcheck", false, "report whether the running instance is monitoring, then exit")
	flag.Parse()

	cfg := config.Load()
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	if *healthcheck {
		os.Exit(runHealthcheck(cfg))
	}
	if err := run(cfg); err != nil {
		slog.Error("screenwatch exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		slog.Warn("alert settings invalid, using defaults", "file", cfg.SettingsFile, "error", err)
	}
	creds, err := config.LoadCredentials(cfg.CredentialsFile)
	if err != nil {
		slog.Warn("telegram credentials invalid, remote channel disabled", "file", cfg.CredentialsFile, "error", err)
	}

	var sound alert.Sound
	if cfg.SoundEnabled {
		player, err := audio.NewPlayer(nil)
		if err != nil {
			slog.Warn("audio unavailable, alerts will be silent", "error", err)
		} else {
			sound = player
			defer func() { _ = player.Close() }()
		}
	}

	hub := server.NewHub(0)
	src := screen.New(cfg.CaptureTimeout)
	mgr := orchestrator.New(orchestrator.Config{
		Monitor: monitor.Config{
			Interval:             cfg.TickInterval,
			TileSize:             cfg.TileSize,
			Threshold:            cfg.ChangeThreshold,
			FailureWarnThreshold: cfg.FailureWarnThreshold,
		},
		Resume:        resume.Config{Countdown: cfg.CountdownSeconds, Tick: time.Second},
		Poller:        command.PollerConfig{Timeout: cfg.PollTimeout, RetryDelay: cfg.PollRetryDelay},
		DrainInterval: cfg.CommandDrainInterval,
		Region:        cfg.MonitorRegion,
	}, orchestrator.Deps{
		Screen:    src,
		Sound:     sound,
		Presenter: hub,
		Prompter:  hub,
	}, settings)

	newRemote := func(c config.Credentials) orchestrator.Remote {
		return telegram.New(cfg.TelegramAPIURL, c.BotToken, c.ChatID)
	}
	if creds != nil {
		mgr.SetRemote(newRemote(*creds), creds.ChatID)
	}

	grpcSrv := grpcserver.New()
	mgr.OnState(grpcSrv.SetMonitorState)

	srv := server.New(mgr, hub, server.Options{
		CredentialsFile: cfg.CredentialsFile,
		Credentials:     creds,
		Sound:           sound,
		NewRemote:       newRemote,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.Run(ctx) })
	g.Go(func() error {
		hub.Run(ctx, mgr.History().Events())
		return nil
	})
	g.Go(func() error { return grpcSrv.Serve(ctx, grpcLis) })
	g.Go(func() error {
		slog.Info("screenwatch starting", "http", cfg.HTTPAddr, "grpc", cfg.GRPCAddr, "remote", creds != nil)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		bootstrap(ctx, cfg, mgr)
		return nil
	})

	err = g.Wait()
	slog.Info("shutdown complete")
	return err
}

// bootstrap resolves the configured capture target and honours AUTO_START.
func bootstrap(ctx context.Context, cfg *config.Config, mgr *orchestrator.Manager) {
	target, err := mgr.SetTarget(ctx, screen.Target{Display: cfg.CaptureDisplay, Rect: cfg.CaptureTarget})
	if err != nil {
		slog.Warn("no capture target", "display", cfg.CaptureDisplay, "error", err)
		return
	}
	slog.Info("capture target ready", "target", target.String())

	if !cfg.AutoStart {
		return
	}
	if err := mgr.RequestStart(ctx); err != nil {
		slog.Error("auto start failed", "error", err)
	}
}

func runHealthcheck(cfg *config.Config) int {
	addr := cfg.GRPCAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	client, err := grpcclient.New(addr)
	if err != nil {
		slog.Error("healthcheck dial failed", "addr", addr, "error", err)
		return 2
	}
	defer func() { _ = client.Close() }()

	ctx, _ := trace.EnsureContext(context.Background())
	ctx, cancel := context.WithTimeout(ctx, 3*grpcclient.HealthCheckTimeout)
	defer cancel()
	status, err := client.Check(ctx, grpcserver.MonitorService)
	if err != nil {
		slog.Error("healthcheck failed", "addr", addr, "error", err)
		return 2
	}
	fmt.Println(status.String())
	if status != healthpb.HealthCheckResponse_SERVING {
		return 1
	}
	return 0
}
