// Package fleet reconciles the three tenant stores (registry, runtime
// inventory, deployed directory tree) and drives tenant teardown.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yourorg/tenantfleet/internal/domain"
	"github.com/yourorg/tenantfleet/internal/engine"
	"github.com/yourorg/tenantfleet/internal/fsops"
	"github.com/yourorg/tenantfleet/internal/inventory"
	"github.com/yourorg/tenantfleet/internal/mail"
	"github.com/yourorg/tenantfleet/internal/observability/metrics"
	"github.com/yourorg/tenantfleet/internal/security/audit"
	"github.com/yourorg/tenantfleet/pkg/config"
)

// TenantStatus is one row of the cross-store reconciliation report
type TenantStatus struct {
	Subdomain      string
	InRegistry     bool
	Deployed       bool
	Email          string
	ContainerState string // empty when no container exists
	MemoryUsage    string
	HasImage       bool
	HasDir         bool
	DirSize        int64
}

// StepResult records the outcome of one independent teardown sub-step
type StepResult struct {
	Step   string
	Found  bool
	OK     bool
	Detail string
}

// CleanupReport aggregates the sub-steps of one ComprehensiveCleanup
type CleanupReport struct {
	Subdomain string
	Steps     []StepResult
}

// Success is true only if every sub-step succeeded
func (r *CleanupReport) Success() bool {
	for _, s := range r.Steps {
		if !s.OK {
			return false
		}
	}
	return true
}

// Manager owns fleet-wide reconciliation and teardown
type Manager struct {
	cfg       *config.Config
	tenants   domain.TenantRepository
	inventory *inventory.Reader
	engine    engine.Client
	remover   *fsops.Remover
	mail      mail.Manager
	audit     *audit.Logger
	logger    *slog.Logger
}

// NewManager creates a fleet manager
func NewManager(
	cfg *config.Config,
	tenants domain.TenantRepository,
	inv *inventory.Reader,
	eng engine.Client,
	remover *fsops.Remover,
	mailMgr mail.Manager,
	auditLogger *audit.Logger,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if auditLogger == nil {
		auditLogger = audit.NewLogger(logger)
	}
	return &Manager{
		cfg:       cfg,
		tenants:   tenants,
		inventory: inv,
		engine:    eng,
		remover:   remover,
		mail:      mailMgr,
		audit:     auditLogger,
		logger:    logger,
	}
}

// deployedSubdomains lists valid-subdomain directories under the deploy root
func (m *Manager) deployedSubdomains() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.DeployRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read deploy root: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && domain.ValidSubdomain(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// ListAllTenants unions subdomains observed in the registry, the runtime
// inventory, and the deployed directory tree, and reports the status of
// each across all three stores. Drift is reported, never assumed away.
func (m *Manager) ListAllTenants(ctx context.Context) ([]TenantStatus, error) {
	registry, err := m.tenants.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	containers, err := m.inventory.ListTenantContainers(ctx)
	if err != nil {
		return nil, err
	}
	images, err := m.inventory.ListTenantImages(ctx)
	if err != nil {
		return nil, err
	}
	dirs, err := m.deployedSubdomains()
	if err != nil {
		return nil, err
	}

	byTenant := map[string]*TenantStatus{}
	get := func(subdomain string) *TenantStatus {
		if s, ok := byTenant[subdomain]; ok {
			return s
		}
		s := &TenantStatus{Subdomain: subdomain, MemoryUsage: "N/A"}
		byTenant[subdomain] = s
		return s
	}

	for _, t := range registry {
		s := get(t.Subdomain)
		s.InRegistry = true
		s.Deployed = t.Deployed
		s.Email = t.Email
	}
	for _, c := range containers {
		s := get(c.Subdomain)
		s.ContainerState = c.State
		s.MemoryUsage = m.inventory.MemoryUsage(ctx, c.Subdomain)
	}
	for _, img := range images {
		get(img.Subdomain).HasImage = true
	}
	for _, d := range dirs {
		s := get(d)
		s.HasDir = true
		if size, err := fsops.DirSize(filepath.Join(m.cfg.DeployRoot, d)); err == nil {
			s.DirSize = size
		}
	}

	out := make([]TenantStatus, 0, len(byTenant))
	for _, s := range byTenant {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subdomain < out[j].Subdomain })
	return out, nil
}

// FindOrphanedContainers returns runtime containers with no registry row
func (m *Manager) FindOrphanedContainers(ctx context.Context) ([]domain.ContainerRecord, error) {
	known, err := m.registrySet(ctx)
	if err != nil {
		return nil, err
	}
	containers, err := m.inventory.ListTenantContainers(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.ContainerRecord
	for _, c := range containers {
		if !known[c.Subdomain] {
			out = append(out, c)
		}
	}
	return out, nil
}

// FindOrphanedImages returns runtime images with no registry row
func (m *Manager) FindOrphanedImages(ctx context.Context) ([]domain.ImageRecord, error) {
	known, err := m.registrySet(ctx)
	if err != nil {
		return nil, err
	}
	images, err := m.inventory.ListTenantImages(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.ImageRecord
	for _, img := range images {
		if !known[img.Subdomain] {
			out = append(out, img)
		}
	}
	return out, nil
}

// FindOrphanedRegistryRows returns registry rows with no runtime container
func (m *Manager) FindOrphanedRegistryRows(ctx context.Context) ([]*domain.Tenant, error) {
	containers, err := m.inventory.ListTenantContainers(ctx)
	if err != nil {
		return nil, err
	}
	running := map[string]bool{}
	for _, c := range containers {
		running[c.Subdomain] = true
	}

	registry, err := m.tenants.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	var out []*domain.Tenant
	for _, t := range registry {
		if !running[t.Subdomain] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Manager) registrySet(ctx context.Context) (map[string]bool, error) {
	registry, err := m.tenants.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	out := map[string]bool{}
	for _, t := range registry {
		out[t.Subdomain] = true
	}
	return out, nil
}

// ComprehensiveCleanup tears a tenant down across all three stores. The
// sub-steps are best-effort and independent of each other's success;
// the aggregate is true only if every step succeeded. Running it again
// on an already-clean subdomain reports "not found" everywhere and
// never errors.
func (m *Manager) ComprehensiveCleanup(ctx context.Context, subdomain string) *CleanupReport {
	report := &CleanupReport{Subdomain: subdomain}
	log := m.logger.With(slog.String("subdomain", subdomain))
	record := func(s StepResult) {
		report.Steps = append(report.Steps, s)
		result := "success"
		if !s.OK {
			result = "error"
		}
		metrics.ObserveCleanupStep(s.Step, result)
		log.Info("cleanup step",
			slog.String("step", s.Step),
			slog.Bool("found", s.Found),
			slog.Bool("ok", s.OK),
			slog.String("detail", s.Detail),
		)
	}

	// Resolve the mailbox address before the registry row is deleted;
	// afterwards there is nothing left to resolve it from.
	mailbox := ""
	rowExists := false
	if t, err := m.tenants.GetBySubdomain(ctx, subdomain); err == nil {
		mailbox = t.MailboxAddress
		rowExists = true
	}

	record(m.cleanupContainer(ctx, subdomain))
	record(m.cleanupImage(ctx, subdomain))
	record(m.cleanupDeployDir(ctx, subdomain))
	record(m.cleanupStrays(ctx, subdomain))

	if mailbox != "" {
		ok := mail.Cleanup(ctx, m.mail, mailbox, m.logger)
		record(StepResult{Step: "mailbox", Found: true, OK: ok, Detail: mailbox})
	} else {
		record(StepResult{Step: "mailbox", Found: false, OK: true, Detail: "no mailbox recorded"})
	}

	record(m.cleanupRegistryRow(ctx, subdomain, rowExists))

	// Routine housekeeping: prune images left dangling by the rmi above
	if err := m.engine.PruneImages(ctx); err != nil {
		record(StepResult{Step: "image-prune", Found: true, OK: false, Detail: err.Error()})
	} else {
		record(StepResult{Step: "image-prune", Found: true, OK: true, Detail: "pruned"})
	}

	var failed []string
	for _, s := range report.Steps {
		if !s.OK {
			failed = append(failed, s.Step)
		}
	}
	if len(failed) > 0 {
		m.audit.LogTeardown(ctx, subdomain, "failed", "failed steps: "+strings.Join(failed, ", "))
	} else {
		m.audit.LogTeardown(ctx, subdomain, "success", "")
	}

	return report
}

func (m *Manager) cleanupContainer(ctx context.Context, subdomain string) StepResult {
	name := m.inventory.ContainerName(subdomain)
	exists, err := m.inventory.ContainerExists(ctx, subdomain)
	if err != nil {
		return StepResult{Step: "container", Found: false, OK: false, Detail: err.Error()}
	}
	if !exists {
		return StepResult{Step: "container", Found: false, OK: true, Detail: "not found"}
	}
	if err := m.engine.StopContainer(ctx, name); err != nil {
		m.logger.Warn("stop failed before remove", slog.String("container", name), slog.String("error", err.Error()))
	}
	if err := m.engine.RemoveContainer(ctx, name); err != nil {
		return StepResult{Step: "container", Found: true, OK: false, Detail: err.Error()}
	}
	return StepResult{Step: "container", Found: true, OK: true, Detail: "removed " + name}
}

func (m *Manager) cleanupImage(ctx context.Context, subdomain string) StepResult {
	ref := m.inventory.ImageRef(subdomain)
	exists, err := m.inventory.ImageExists(ctx, subdomain)
	if err != nil {
		return StepResult{Step: "image", Found: false, OK: false, Detail: err.Error()}
	}
	if !exists {
		return StepResult{Step: "image", Found: false, OK: true, Detail: "not found"}
	}

	// Leave the image alone if any other container still uses it
	containers, err := m.engine.ListContainers(ctx)
	if err != nil {
		return StepResult{Step: "image", Found: true, OK: false, Detail: err.Error()}
	}
	expected := m.inventory.ContainerName(subdomain)
	for _, c := range containers {
		if c.Name != expected && (c.Image == ref || strings.HasPrefix(c.Image, ref+":")) {
			return StepResult{Step: "image", Found: true, OK: true, Detail: "in use by " + c.Name + ", kept"}
		}
	}

	if err := m.engine.RemoveImage(ctx, ref); err != nil {
		return StepResult{Step: "image", Found: true, OK: false, Detail: err.Error()}
	}
	return StepResult{Step: "image", Found: true, OK: true, Detail: "removed " + ref}
}

func (m *Manager) cleanupDeployDir(ctx context.Context, subdomain string) StepResult {
	dir := filepath.Join(m.cfg.DeployRoot, subdomain)
	if _, err := os.Lstat(dir); os.IsNotExist(err) {
		return StepResult{Step: "deploy-dir", Found: false, OK: true, Detail: "not found"}
	}
	size, _ := fsops.DirSize(dir)
	if !m.remover.ForceRemove(ctx, dir) {
		return StepResult{Step: "deploy-dir", Found: true, OK: false, Detail: "force removal failed"}
	}
	return StepResult{Step: "deploy-dir", Found: true, OK: true, Detail: "removed, freed " + fsops.FormatBytes(size)}
}

// cleanupStrays removes other deploy-root entries whose name merely
// contains the subdomain as a substring (stray backups, editor copies)
func (m *Manager) cleanupStrays(ctx context.Context, subdomain string) StepResult {
	entries, err := os.ReadDir(m.cfg.DeployRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return StepResult{Step: "strays", Found: false, OK: true, Detail: "not found"}
		}
		return StepResult{Step: "strays", Found: false, OK: false, Detail: err.Error()}
	}

	var removed, failed []string
	for _, e := range entries {
		name := e.Name()
		if name == subdomain || !strings.Contains(name, subdomain) {
			continue
		}
		path := filepath.Join(m.cfg.DeployRoot, name)
		if m.remover.ForceRemove(ctx, path) {
			removed = append(removed, name)
		} else {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		return StepResult{Step: "strays", Found: true, OK: false, Detail: "failed: " + strings.Join(failed, ", ")}
	}
	if len(removed) == 0 {
		return StepResult{Step: "strays", Found: false, OK: true, Detail: "not found"}
	}
	return StepResult{Step: "strays", Found: true, OK: true, Detail: "removed " + strings.Join(removed, ", ")}
}

func (m *Manager) cleanupRegistryRow(ctx context.Context, subdomain string, existed bool) StepResult {
	err := m.tenants.Delete(ctx, subdomain)
	if err == nil {
		return StepResult{Step: "registry-row", Found: true, OK: true, Detail: "deleted"}
	}
	if errors.Is(err, domain.ErrTenantNotFound) || !existed {
		return StepResult{Step: "registry-row", Found: false, OK: true, Detail: "not found"}
	}
	return StepResult{Step: "registry-row", Found: true, OK: false, Detail: err.Error()}
}

// ConfirmationPhrase is the exact phrase an operator must type before
// any irreversible action against a tenant
func ConfirmationPhrase(subdomain string) string {
	return "DELETE " + subdomain
}
