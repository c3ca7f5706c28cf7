package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/yourorg/tenantfleet/internal/engine"
	"github.com/yourorg/tenantfleet/internal/fleet"
	"github.com/yourorg/tenantfleet/internal/fsops"
	"github.com/yourorg/tenantfleet/internal/infrastructure/command"
	"github.com/yourorg/tenantfleet/internal/infrastructure/logger"
	"github.com/yourorg/tenantfleet/internal/inventory"
	"github.com/yourorg/tenantfleet/internal/mail"
	"github.com/yourorg/tenantfleet/internal/repository"
	"github.com/yourorg/tenantfleet/internal/security/audit"
	"github.com/yourorg/tenantfleet/pkg/config"
	"github.com/yourorg/tenantfleet/pkg/database"
)

// fleetctl is the operator console: list tenants across all three
// stores, find orphans, and tear tenants down with explicit
// confirmation. It runs synchronously and exits when the operator quits.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fleetctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.NewLogger(cfg.LogLevel)
	ctx := context.Background()

	runner := command.NewRunner(cfg.CommandTimeout, log)
	cliClient := engine.NewCLIClient(cfg.EngineBinary, runner, log)

	var engineClient engine.Client = cliClient
	if cfg.EngineMode == "native" {
		nativeClient, err := engine.NewNativeClient(cfg.DockerHost, log)
		if err != nil {
			return fmt.Errorf("initialize engine client: %w", err)
		}
		defer nativeClient.Close()
		engineClient = nativeClient
	}

	// Fail before showing the menu: a tool that can only see two of the
	// three stores would report phantom orphans.
	if err := engineClient.Ping(ctx); err != nil {
		return fmt.Errorf("container engine unreachable: %w", err)
	}

	pool, err := database.NewConnectionPool(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("registry unreachable: %w", err)
	}
	defer pool.Close()

	if err := pool.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure registry schema: %w", err)
	}

	tenantRepo := repository.NewPostgresTenantRepository(pool.GetDB(), cfg.TransactionalReads, log)
	inv := inventory.NewReader(engineClient, cfg.ContainerPrefix, cfg.ImageSuffix, log)
	remover := fsops.NewRemover(cfg.DeployRoot, cfg.EngineBinary, runner, log)
	mailMgr := mail.NewCLIManager(cfg.MailCLIBinary, runner, log)
	manager := fleet.NewManager(cfg, tenantRepo, inv, engineClient, remover, mailMgr, audit.NewLogger(log), log)

	log.Info("fleetctl connected",
		slog.String("deploy_root", cfg.DeployRoot),
		slog.String("engine_mode", cfg.EngineMode),
	)

	menu := fleet.NewMenu(manager, os.Stdin, os.Stdout)
	return menu.Run(ctx)
}
