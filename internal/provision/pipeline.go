// Package provision implements the end-to-end construction of one
// tenant: a strictly sequential, fail-fast pipeline from cloned template
// to verified running container.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yourorg/tenantfleet/internal/domain"
	"github.com/yourorg/tenantfleet/internal/engine"
	"github.com/yourorg/tenantfleet/internal/infrastructure/command"
	"github.com/yourorg/tenantfleet/internal/inventory"
	"github.com/yourorg/tenantfleet/internal/observability/metrics"
	"github.com/yourorg/tenantfleet/pkg/config"
)

// Pipeline builds one tenant. It performs no rollback: a failed
// provision leaves the registry row with deployed=false as its audit
// trail and is torn down by fleet cleanup like any other tenant.
type Pipeline struct {
	cfg       *config.Config
	engine    engine.Client
	inventory *inventory.Reader
	tenants   domain.TenantRepository
	runner    *command.Runner
	logger    *slog.Logger
}

// NewPipeline creates a provisioning pipeline. The engine client must
// support compose operations (the CLI client).
func NewPipeline(
	cfg *config.Config,
	eng engine.Client,
	inv *inventory.Reader,
	tenants domain.TenantRepository,
	runner *command.Runner,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		engine:    eng,
		inventory: inv,
		tenants:   tenants,
		runner:    runner,
		logger:    logger,
	}
}

type step struct {
	name string
	run  func(ctx context.Context, t *domain.Tenant, dir string) error
}

// Provision runs the full pipeline for a tenant whose registry row
// already exists with deployed=false. Each step is gated on the success
// of the previous one; the first failure aborts.
func (p *Pipeline) Provision(ctx context.Context, t *domain.Tenant) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProvisionTimeout)
	defer cancel()

	log := p.logger.With(slog.String("subdomain", t.Subdomain))
	dir := filepath.Join(p.cfg.DeployRoot, t.Subdomain)
	start := time.Now()

	steps := []step{
		{"validate-template", p.validateTemplate},
		{"fetch-template", p.fetchTemplate},
		{"generate-config", p.generateConfig},
		{"install-dependencies", p.installDependencies},
		{"initialize-schema", p.initializeSchema},
		{"seed-baseline", p.seedBaseline},
		{"build-and-start", p.buildAndStart},
		{"verify", p.verify},
	}

	for _, s := range steps {
		stepStart := time.Now()
		if err := s.run(ctx, t, dir); err != nil {
			log.Error("provisioning step failed",
				slog.String("step", s.name),
				slog.String("error", err.Error()),
			)
			metrics.ObserveProvision("error", time.Since(start))
			return fmt.Errorf("step %s: %w", s.name, err)
		}
		log.Info("provisioning step completed",
			slog.String("step", s.name),
			slog.Duration("duration", time.Since(stepStart)),
		)
	}

	if err := p.tenants.SetDeployed(ctx, t.Subdomain, true); err != nil {
		metrics.ObserveProvision("error", time.Since(start))
		return fmt.Errorf("mark deployed: %w", err)
	}

	log.Info("tenant provisioned", slog.Duration("duration", time.Since(start)))
	metrics.ObserveProvision("success", time.Since(start))
	return nil
}

func (p *Pipeline) validateTemplate(ctx context.Context, t *domain.Tenant, dir string) error {
	if p.cfg.TemplateRepoURL != "" {
		return nil
	}
	info, err := os.Stat(p.cfg.TemplateDir)
	if err != nil {
		return fmt.Errorf("template source %s: %w", p.cfg.TemplateDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("template source %s is not a directory", p.cfg.TemplateDir)
	}
	return nil
}

func (p *Pipeline) fetchTemplate(ctx context.Context, t *domain.Tenant, dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("deployed directory %s already exists", dir)
	}

	if p.cfg.TemplateRepoURL != "" {
		if _, err := p.runner.Run(ctx, "git", "clone", "--depth", "1", p.cfg.TemplateRepoURL, dir); err != nil {
			return fmt.Errorf("clone template: %w", err)
		}
		return nil
	}
	if _, err := p.runner.Run(ctx, "cp", "-a", p.cfg.TemplateDir, dir); err != nil {
		return fmt.Errorf("copy template: %w", err)
	}
	return nil
}

func (p *Pipeline) generateConfig(ctx context.Context, t *domain.Tenant, dir string) error {
	if err := generateEnvFile(dir, t, p.cfg); err != nil {
		return err
	}
	return generateCompose(ctx, dir, t, p.cfg, p.engine.NetworkExists)
}

func (p *Pipeline) installDependencies(ctx context.Context, t *domain.Tenant, dir string) error {
	argv := strings.Fields(p.cfg.InstallCommand)
	if len(argv) == 0 {
		return nil
	}
	if _, err := p.runner.RunIn(ctx, dir, argv[0], argv[1:]...); err != nil {
		return fmt.Errorf("install dependencies: %w", err)
	}
	return nil
}

// initializeSchema runs the template's migration mechanism against a
// fresh tenant-private database file, then an idempotent fix-up pass.
func (p *Pipeline) initializeSchema(ctx context.Context, t *domain.Tenant, dir string) error {
	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, t.Subdomain+".sqlite")
	argv := strings.Fields(p.cfg.MigrateCommand)
	if len(argv) > 0 {
		env := []string{"DB_PATH=" + dbPath}
		if _, err := p.runner.RunEnv(ctx, dir, env, argv[0], argv[1:]...); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	return p.fixupPass(ctx, t, dir)
}

type fixupTask struct {
	name    string
	applied func(t *domain.Tenant, dir string) bool
	apply   func(t *domain.Tenant, dir string) error
}

// fixupPass applies supplementary fixes that migrations may or may not
// already cover. Every task checks before it applies, so the pass is
// safe to run repeatedly.
func (p *Pipeline) fixupPass(ctx context.Context, t *domain.Tenant, dir string) error {
	tasks := []fixupTask{
		{
			name: "database-file",
			applied: func(t *domain.Tenant, dir string) bool {
				_, err := os.Stat(filepath.Join(dir, "data", t.Subdomain+".sqlite"))
				return err == nil
			},
			apply: func(t *domain.Tenant, dir string) error {
				f, err := os.OpenFile(filepath.Join(dir, "data", t.Subdomain+".sqlite"), os.O_CREATE|os.O_WRONLY, 0o644)
				if err != nil {
					return err
				}
				return f.Close()
			},
		},
		{
			name: "uploads-dir",
			applied: func(t *domain.Tenant, dir string) bool {
				info, err := os.Stat(filepath.Join(dir, "data", "uploads"))
				return err == nil && info.IsDir()
			},
			apply: func(t *domain.Tenant, dir string) error {
				return os.MkdirAll(filepath.Join(dir, "data", "uploads"), 0o755)
			},
		},
		{
			name: "env-permissions",
			applied: func(t *domain.Tenant, dir string) bool {
				info, err := os.Stat(filepath.Join(dir, ".env"))
				return err == nil && info.Mode().Perm() == 0o600
			},
			apply: func(t *domain.Tenant, dir string) error {
				return os.Chmod(filepath.Join(dir, ".env"), 0o600)
			},
		},
	}

	for _, task := range tasks {
		if task.applied(t, dir) {
			p.logger.Debug("fixup already applied", slog.String("task", task.name))
			continue
		}
		if err := task.apply(t, dir); err != nil {
			return fmt.Errorf("fixup %s: %w", task.name, err)
		}
		p.logger.Info("fixup applied", slog.String("task", task.name), slog.String("subdomain", t.Subdomain))
	}
	return nil
}

// seedBaseline creates the tenant's admin user (credential hashed before
// it leaves this process), organization and mail settings, and default
// content templates, through the template app's own seed entrypoint.
func (p *Pipeline) seedBaseline(ctx context.Context, t *domain.Tenant, dir string) error {
	adminPassword, err := randomHex(12)
	if err != nil {
		return fmt.Errorf("generate admin password: %w", err)
	}
	hash, err := HashCredential(adminPassword)
	if err != nil {
		return fmt.Errorf("hash admin credential: %w", err)
	}

	env := []string{
		"ADMIN_EMAIL=" + t.Email,
		"ADMIN_PASSWORD_HASH=" + hash,
		"ORG_NAME=" + t.OrgName,
		"MAILBOX_ADDRESS=" + t.MailboxAddress,
		"SEED_DEFAULT_TEMPLATES=true",
		"DB_PATH=" + filepath.Join(dir, "data", t.Subdomain+".sqlite"),
	}
	if _, err := p.runner.RunEnv(ctx, dir, env, "npm", "run", "seed"); err != nil {
		return fmt.Errorf("seed baseline data: %w", err)
	}
	return nil
}

func (p *Pipeline) buildAndStart(ctx context.Context, t *domain.Tenant, dir string) error {
	if err := p.engine.ComposeBuild(ctx, dir); err != nil {
		return err
	}
	return p.engine.ComposeUp(ctx, dir)
}

// verify requires the expected container to actually appear in the
// runtime inventory; a clean compose exit alone is not success.
func (p *Pipeline) verify(ctx context.Context, t *domain.Tenant, dir string) error {
	exists, err := p.inventory.ContainerExists(ctx, t.Subdomain)
	if err != nil {
		return fmt.Errorf("verify container: %w", err)
	}
	if !exists {
		return fmt.Errorf("container %s did not appear after start", p.inventory.ContainerName(t.Subdomain))
	}
	return nil
}
