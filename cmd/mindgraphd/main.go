// Command mindgraphd runs one Collective MindGraph agent. The same binary
// serves every role; -role (or APP_NAME) selects which agent this process is,
// so one container image covers the whole deployment.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mindgraph/internal/bus"
	"github.com/MrWong99/mindgraph/internal/config"
	"github.com/MrWong99/mindgraph/internal/heartbeat"
	"github.com/MrWong99/mindgraph/internal/observe"
	"github.com/MrWong99/mindgraph/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	roleFlag := flag.String("role", "", "agent role to run (also accepted as the first argument; defaults to APP_NAME)")
	envFile := flag.String("env-file", "", "optional .env file to load before reading the environment")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "mindgraphd: load %s: %v\n", *envFile, err)
			return 1
		}
	} else {
		// Best effort: a .env next to the binary is convenient in development.
		_ = godotenv.Load()
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mindgraphd: %v\n", err)
		return 1
	}

	roleName := *roleFlag
	if roleName == "" && flag.NArg() > 0 {
		roleName = flag.Arg(0)
	}
	if roleName == "" {
		roleName = cfg.AppName
	}
	if roleName == "" || roleName == "app" {
		fmt.Fprintf(os.Stderr, "mindgraphd: no role selected — pass -role or set APP_NAME (known roles: %s)\n",
			strings.Join(roleNames(), ", "))
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("agent", roleName)
	slog.SetDefault(logger)

	logger.Info("mindgraph agent starting",
		"role", roleName,
		"mqtt", fmt.Sprintf("%s:%d", cfg.MQTTHost, cfg.MQTTPort),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    roleName,
		ServiceVersion: heartbeat.Version,
	})
	if err != nil {
		logger.Error("init telemetry", "error", err)
		return 1
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Storage ───────────────────────────────────────────────────────────────
	var st *store.Store
	if needsStore(roleName) {
		st, err = store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Error("connect to postgres", "error", err)
			return 1
		}
		defer st.Close()
		logger.Info("connected to postgres")
	}

	// ── Bus ───────────────────────────────────────────────────────────────────
	b := bus.New(bus.Config{
		ClientID: roleName,
		Host:     cfg.MQTTHost,
		Port:     cfg.MQTTPort,
		QoS:      byte(cfg.MQTTQoS),
		Logger:   logger,
	})
	defer b.Close()

	hb := heartbeat.New(roleName, b, cfg.HeartbeatInterval(), logger)

	// ── Assemble the role ─────────────────────────────────────────────────────
	r, err := buildRole(roleName, &runtime{
		cfg:     cfg,
		store:   st,
		bus:     b,
		hb:      hb,
		metrics: metrics,
		logger:  logger,
	})
	if err != nil {
		logger.Error("assemble role", "error", err)
		return 1
	}

	if err := b.Start(ctx, r.consumer.Topics(), r.consumer.HandleEvent); err != nil {
		logger.Error("connect to mqtt", "error", err)
		return 1
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hb.Run(gctx) })
	for _, runner := range r.runners {
		run := runner
		g.Go(func() error { return run(gctx) })
	}

	logger.Info("agent ready", "topics", r.consumer.Topics())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run error", "error", err)
		return 1
	}
	logger.Info("goodbye")
	return 0
}
