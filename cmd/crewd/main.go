// Command crewd runs the agent activation coordinator daemon: it loads the
// descriptor catalog, activates any configured autostart agents and keeps
// sessions swept until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crewd/internal/adapter/audit"
	"crewd/internal/adapter/catalog"
	"crewd/internal/adapter/loader"
	"crewd/internal/domain"
	"crewd/internal/infra/config"
	"crewd/internal/infra/logger"
	"crewd/internal/infra/snapshot"
	"crewd/internal/infra/tracer"
	"crewd/internal/usecase"
	"crewd/internal/usecase/eventbus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "crewd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "crewd.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	bus := eventbus.New(log)
	defer bus.Close()

	if cfg.Audit.Enabled {
		auditLog, err := audit.Open(cfg.Audit.Path, log)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer auditLog.Close()
		unsubscribe := auditLog.Attach(bus)
		defer unsubscribe()
		log.Info("audit log enabled", "path", cfg.Audit.Path)
	}

	snapshots := snapshot.NewStore(cfg.Snapshot.Path)
	if prev, err := snapshots.Read(); err != nil {
		log.Warn("previous snapshot unreadable", "path", cfg.Snapshot.Path, "error", err)
	} else if prev != nil && len(prev.ActiveAgentIDs) > 0 {
		log.Info("previous run left agents active",
			"agents", prev.ActiveAgentIDs,
			"saved_at", prev.SavedAt,
		)
	}

	registry := catalog.NewRegistry(bus, log)
	if cfg.Catalog.Dir != "" {
		n, err := registry.LoadDir(ctx, cfg.Catalog.Dir)
		if err != nil {
			return fmt.Errorf("load descriptor dir: %w", err)
		}
		log.Info("descriptors loaded", "dir", cfg.Catalog.Dir, "count", n)
	}

	resources := loader.New(cfg.Loader.Root, log)

	gateway := usecase.NewGateway(usecase.GatewayConfig{
		MaxFailures:     cfg.Recovery.MaxFailures,
		FallbackAfter:   cfg.Recovery.FallbackAfter,
		BreakerTimeout:  cfg.Recovery.BreakerTimeout,
		BreakerInterval: cfg.Recovery.BreakerInterval,
	}, bus, log)

	coord := usecase.NewCoordinator(usecase.CoordinatorConfig{
		MaxActive:         cfg.Coordinator.MaxActive,
		SessionTTL:        cfg.Coordinator.SessionTTL,
		SweepInterval:     cfg.Coordinator.SweepInterval,
		ActivationsPerMin: cfg.Coordinator.ActivationsPerMin,
		ActivationBurst:   cfg.Coordinator.ActivationBurst,
	}, registry, resources, gateway, snapshots, bus, log)
	gateway.Bind(coord)

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}

	for _, agentID := range cfg.Coordinator.Autostart {
		if _, err := coord.Activate(ctx, agentID, domain.ActivationContext{"trigger": "autostart"}); err != nil {
			log.Error("autostart activation failed", "agent_id", agentID, "error", err)
		}
	}

	log.Info("crewd started",
		"max_active", cfg.Coordinator.MaxActive,
		"session_ttl", cfg.Coordinator.SessionTTL.String(),
		"sweep_interval", cfg.Coordinator.SweepInterval.String(),
		"agents", registry.Len(),
	)

	<-ctx.Done()
	log.Info("shutdown signal received")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	coord.Shutdown(sctx)
	return nil
}
