package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quartzwm/quartz/internal/config"
	"github.com/quartzwm/quartz/internal/display"
	"github.com/quartzwm/quartz/internal/ipc"
	"github.com/quartzwm/quartz/internal/janitor"
	"github.com/quartzwm/quartz/internal/looper"
	"github.com/quartzwm/quartz/internal/server"
)

func runService(args []string) int {
	fs := flag.NewFlagSet("service", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (default: standard location)")
	logLevel := fs.String("log-level", "", "override log level (debug, info, warn, error)")
	backendName := fs.String("backend", "", "override display backend (fbdev, x11, headless)")
	socketPath := fs.String("socket", "", "override control socket path")
	fs.Parse(args)

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromPath(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *backendName != "" {
		cfg.DisplayBackend = config.BackendType(*backendName)
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	backend, err := display.Open(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to open display backend")
	}
	defer backend.Close()

	socket := cfg.SocketPath
	if socket == "" {
		socket, err = socketPathFromEnv("")
		if err != nil {
			logrus.WithError(err).Fatal("failed to resolve control socket path")
		}
	}

	loop := looper.New()
	svc := server.New(cfg, backend, loop)
	defer svc.Close()

	srv := ipc.NewServer(socket, svc, loop)
	if err := srv.Start(); err != nil {
		logrus.WithError(err).Fatal("failed to start control socket")
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loop.Run(ctx)
		return nil
	})
	if cfg.JanitorInterval > 0 {
		jan := janitor.New(cfg.GraphicsDir, time.Duration(cfg.JanitorInterval)*time.Second)
		g.Go(func() error {
			jan.Run(ctx)
			return nil
		})
	}

	logrus.Info("quartz service running")
	if err := g.Wait(); err != nil {
		logrus.WithError(err).Error("service stopped")
		return 1
	}
	logrus.Info("quartz service stopped")
	return 0
}

func runConfig(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: quartz config <validate|print>")
		return 2
	}

	path := flagValue(args[1:], "--config")
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}

	switch args[0] {
	case "validate":
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid: %v\n", err)
			return 1
		}
		fmt.Println("Configuration OK")
		return 0
	case "print":
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		fmt.Printf("window_limit_max: %d\n", cfg.WindowLimitMax)
		fmt.Printf("buffer_queue_by_name: %v\n", cfg.BufferQueueByName)
		fmt.Printf("fbdev_device_path: %s\n", cfg.FbdevDevicePath)
		fmt.Printf("display_sync_mode: %s\n", cfg.DisplaySyncMode)
		fmt.Printf("display_backend: %s\n", cfg.DisplayBackend)
		fmt.Printf("display: %dx%d @ %dHz\n", cfg.Display.Width, cfg.Display.Height, cfg.Display.RefreshHz)
		fmt.Printf("graphics_dir: %s\n", cfg.GraphicsDir)
		fmt.Printf("log_level: %s\n", cfg.LogLevel)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config command: %s\n", args[0])
		return 2
	}
}
