package fleet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yourorg/tenantfleet/internal/domain"
	"github.com/yourorg/tenantfleet/internal/engine"
	"github.com/yourorg/tenantfleet/internal/fsops"
	"github.com/yourorg/tenantfleet/internal/inventory"
	"github.com/yourorg/tenantfleet/internal/security/audit"
	"github.com/yourorg/tenantfleet/pkg/config"
)

type memTenantRepo struct {
	rows map[string]*domain.Tenant
}

func newMemTenantRepo() *memTenantRepo {
	return &memTenantRepo{rows: map[string]*domain.Tenant{}}
}

func (m *memTenantRepo) List(ctx context.Context) ([]*domain.Tenant, error) {
	out := []*domain.Tenant{}
	for _, t := range m.rows {
		out = append(out, t)
	}
	return out, nil
}
func (m *memTenantRepo) GetBySubdomain(ctx context.Context, subdomain string) (*domain.Tenant, error) {
	if t, ok := m.rows[subdomain]; ok {
		return t, nil
	}
	return nil, domain.ErrTenantNotFound
}
func (m *memTenantRepo) Insert(ctx context.Context, t *domain.Tenant) error {
	if _, ok := m.rows[t.Subdomain]; ok {
		return domain.ErrDuplicateTenant
	}
	t.CreatedAt = time.Now()
	m.rows[t.Subdomain] = t
	return nil
}
func (m *memTenantRepo) SetDeployed(ctx context.Context, subdomain string, deployed bool) error {
	t, ok := m.rows[subdomain]
	if !ok {
		return domain.ErrTenantNotFound
	}
	t.Deployed = deployed
	return nil
}
func (m *memTenantRepo) Delete(ctx context.Context, subdomain string) error {
	if _, ok := m.rows[subdomain]; !ok {
		return domain.ErrTenantNotFound
	}
	delete(m.rows, subdomain)
	return nil
}

// fakeEngine tracks containers and images as mutable maps so cleanup
// operations are observable
type fakeEngine struct {
	containers map[string]engine.ContainerInfo // by name
	images     map[string]engine.ImageInfo     // by repository
	stopped    []string
	pruned     int
	sysPruned  int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		containers: map[string]engine.ContainerInfo{},
		images:     map[string]engine.ImageInfo{},
	}
}

func (f *fakeEngine) addContainer(name, state, image string) {
	f.containers[name] = engine.ContainerInfo{Name: name, State: state, Image: image}
}
func (f *fakeEngine) addImage(repo string) {
	f.images[repo] = engine.ImageInfo{Repository: repo, Tag: "latest", ID: "sha-" + repo}
}

func (f *fakeEngine) Ping(ctx context.Context) error { return nil }
func (f *fakeEngine) ListContainers(ctx context.Context) ([]engine.ContainerInfo, error) {
	out := []engine.ContainerInfo{}
	for _, c := range f.containers {
		out = append(out, c)
	}
	return out, nil
}
func (f *fakeEngine) ListImages(ctx context.Context) ([]engine.ImageInfo, error) {
	out := []engine.ImageInfo{}
	for _, i := range f.images {
		out = append(out, i)
	}
	return out, nil
}
func (f *fakeEngine) ContainerExists(ctx context.Context, name string) (bool, error) {
	_, ok := f.containers[name]
	return ok, nil
}
func (f *fakeEngine) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, ok := f.images[ref]
	return ok, nil
}
func (f *fakeEngine) MemoryUsage(ctx context.Context, name string) (string, error) {
	if _, ok := f.containers[name]; ok {
		return "12MiB / 512MiB", nil
	}
	return "", errors.New("no such container")
}
func (f *fakeEngine) NetworkExists(ctx context.Context, name string) (bool, error) {
	return false, nil
}
func (f *fakeEngine) StopContainer(ctx context.Context, name string) error {
	f.stopped = append(f.stopped, name)
	return nil
}
func (f *fakeEngine) RemoveContainer(ctx context.Context, name string) error {
	delete(f.containers, name)
	return nil
}
func (f *fakeEngine) RemoveImage(ctx context.Context, ref string) error {
	delete(f.images, ref)
	return nil
}
func (f *fakeEngine) StreamLogs(ctx context.Context, name string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}
func (f *fakeEngine) ComposeBuild(ctx context.Context, dir string) error { return nil }
func (f *fakeEngine) ComposeUp(ctx context.Context, dir string) error    { return nil }
func (f *fakeEngine) PruneImages(ctx context.Context) error {
	f.pruned++
	return nil
}
func (f *fakeEngine) PruneSystem(ctx context.Context) error {
	f.sysPruned++
	return nil
}

type memMail struct {
	calls   []string
	deleted []string
	failOn  string // step name that should fail
	present map[string]bool
}

func newMemMail() *memMail { return &memMail{present: map[string]bool{}} }

func (m *memMail) DeleteMailbox(ctx context.Context, address string) error {
	m.calls = append(m.calls, "delete")
	if m.failOn == "delete" {
		return errors.New("mail backend down")
	}
	m.deleted = append(m.deleted, address)
	delete(m.present, address)
	return nil
}
func (m *memMail) RemoveForwarding(ctx context.Context, address string) error {
	m.calls = append(m.calls, "forward")
	if m.failOn == "forward" {
		return errors.New("mail backend down")
	}
	return nil
}
func (m *memMail) PurgeInboxData(ctx context.Context, address string) error {
	m.calls = append(m.calls, "purge")
	if m.failOn == "purge" {
		return errors.New("mail backend down")
	}
	return nil
}
func (m *memMail) MailboxGone(ctx context.Context, address string) (bool, error) {
	m.calls = append(m.calls, "verify")
	return !m.present[address], nil
}

type fixture struct {
	cfg     *config.Config
	repo    *memTenantRepo
	eng     *fakeEngine
	mail    *memMail
	logs    *strings.Builder // captures application and audit log lines
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		ContainerPrefix: "tenant-",
		ImageSuffix:     "-app",
		DeployRoot:      t.TempDir(),
		PlatformDomain:  "example.com",
	}
	repo := newMemTenantRepo()
	eng := newFakeEngine()
	mailMgr := newMemMail()
	logs := &strings.Builder{}
	log := slog.New(slog.NewTextHandler(logs, nil))
	inv := inventory.NewReader(eng, cfg.ContainerPrefix, cfg.ImageSuffix, log)
	remover := fsops.NewRemover(cfg.DeployRoot, "docker", nil, log)
	return &fixture{
		cfg:     cfg,
		repo:    repo,
		eng:     eng,
		mail:    mailMgr,
		logs:    logs,
		manager: NewManager(cfg, repo, inv, eng, remover, mailMgr, audit.NewLogger(log), log),
	}
}

func (f *fixture) mkDeployDir(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(f.cfg.DeployRoot, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.sqlite"), make([]byte, 64), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestListAllTenantsUnionsThreeStores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// alpha exists everywhere, beta only in runtime, gamma only in the
	// registry, delta only on disk
	f.repo.rows["alpha"] = &domain.Tenant{Subdomain: "alpha", Email: "a@x.com", Deployed: true}
	f.repo.rows["gamma"] = &domain.Tenant{Subdomain: "gamma", Email: "g@x.com"}
	f.eng.addContainer("tenant-alpha", "running", "alpha-app")
	f.eng.addContainer("tenant-beta", "exited", "beta-app")
	f.eng.addImage("alpha-app")
	f.mkDeployDir(t, "alpha")
	f.mkDeployDir(t, "delta")

	statuses, err := f.manager.ListAllTenants(ctx)
	if err != nil {
		t.Fatalf("ListAllTenants: %v", err)
	}
	if len(statuses) != 4 {
		t.Fatalf("expected 4 statuses, got %d: %+v", len(statuses), statuses)
	}

	byName := map[string]TenantStatus{}
	for _, s := range statuses {
		byName[s.Subdomain] = s
	}

	alpha := byName["alpha"]
	if !alpha.InRegistry || !alpha.Deployed || alpha.ContainerState != "running" || !alpha.HasImage || !alpha.HasDir {
		t.Errorf("alpha status wrong: %+v", alpha)
	}
	if alpha.DirSize != 64 {
		t.Errorf("alpha dir size = %d, want 64", alpha.DirSize)
	}

	beta := byName["beta"]
	if beta.InRegistry || beta.ContainerState != "exited" || beta.HasDir {
		t.Errorf("beta status wrong: %+v", beta)
	}

	gamma := byName["gamma"]
	if !gamma.InRegistry || gamma.ContainerState != "" || gamma.MemoryUsage != "N/A" {
		t.Errorf("gamma status wrong: %+v", gamma)
	}

	delta := byName["delta"]
	if delta.InRegistry || !delta.HasDir {
		t.Errorf("delta status wrong: %+v", delta)
	}
}

func TestOrphanClassification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.rows["known"] = &domain.Tenant{Subdomain: "known"}
	f.repo.rows["rowonly"] = &domain.Tenant{Subdomain: "rowonly"}
	f.eng.addContainer("tenant-known", "running", "known-app")
	f.eng.addContainer("tenant-ghost", "exited", "ghost-app")
	f.eng.addImage("known-app")
	f.eng.addImage("ghost-app")

	containers, err := f.manager.FindOrphanedContainers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(containers) != 1 || containers[0].Subdomain != "ghost" {
		t.Fatalf("orphaned containers = %+v, want exactly ghost", containers)
	}

	images, err := f.manager.FindOrphanedImages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(images) != 1 || images[0].Subdomain != "ghost" {
		t.Fatalf("orphaned images = %+v, want exactly ghost", images)
	}

	rows, err := f.manager.FindOrphanedRegistryRows(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Subdomain != "rowonly" {
		t.Fatalf("orphaned rows = %+v, want exactly rowonly", rows)
	}
}

func TestComprehensiveCleanupFullTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.rows["acme"] = &domain.Tenant{
		Subdomain:      "acme",
		Email:          "ops@acme.test",
		MailboxAddress: "admin@acme.example.com",
	}
	f.mail.present["admin@acme.example.com"] = true
	f.eng.addContainer("tenant-acme", "running", "acme-app")
	f.eng.addImage("acme-app")
	f.mkDeployDir(t, "acme")
	f.mkDeployDir(t, "acme-backup") // stray entry

	report := f.manager.ComprehensiveCleanup(ctx, "acme")
	if !report.Success() {
		t.Fatalf("cleanup should succeed, report: %+v", report.Steps)
	}

	if _, ok := f.eng.containers["tenant-acme"]; ok {
		t.Error("container not removed")
	}
	if len(f.eng.stopped) != 1 || f.eng.stopped[0] != "tenant-acme" {
		t.Errorf("container should be stopped before removal, got %v", f.eng.stopped)
	}
	if _, ok := f.eng.images["acme-app"]; ok {
		t.Error("image not removed")
	}
	if _, err := os.Lstat(filepath.Join(f.cfg.DeployRoot, "acme")); !os.IsNotExist(err) {
		t.Error("deploy dir not removed")
	}
	if _, err := os.Lstat(filepath.Join(f.cfg.DeployRoot, "acme-backup")); !os.IsNotExist(err) {
		t.Error("stray dir not removed")
	}
	if len(f.mail.deleted) != 1 || f.mail.deleted[0] != "admin@acme.example.com" {
		t.Errorf("mailbox not cleaned, deleted=%v", f.mail.deleted)
	}
	if _, ok := f.repo.rows["acme"]; ok {
		t.Error("registry row not deleted")
	}
	if f.eng.pruned != 1 {
		t.Errorf("image prune ran %d times, want 1", f.eng.pruned)
	}
}

func TestComprehensiveCleanupIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Nothing exists anywhere: every step reports not-found and the
	// aggregate still succeeds.
	report := f.manager.ComprehensiveCleanup(ctx, "ghost")
	if !report.Success() {
		t.Fatalf("cleanup of nothing must succeed, report: %+v", report.Steps)
	}
	for _, s := range report.Steps {
		if s.Step == "image-prune" {
			continue // housekeeping always runs
		}
		if s.Found {
			t.Errorf("step %s reported found on an empty system: %+v", s.Step, s)
		}
	}
	if len(f.mail.calls) != 0 {
		t.Errorf("mail subsystem touched with no mailbox recorded: %v", f.mail.calls)
	}
}

func TestCleanupAggregateFailsWhenOneStepFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.rows["acme"] = &domain.Tenant{
		Subdomain:      "acme",
		MailboxAddress: "admin@acme.example.com",
	}
	f.mail.failOn = "delete"

	report := f.manager.ComprehensiveCleanup(ctx, "acme")
	if report.Success() {
		t.Fatal("aggregate must fail when the mailbox step fails")
	}

	// Other steps still ran: the registry row is gone regardless
	if _, ok := f.repo.rows["acme"]; ok {
		t.Error("registry row should be deleted even when mail cleanup fails")
	}
}

func TestCleanupKeepsImageInUseElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.rows["acme"] = &domain.Tenant{Subdomain: "acme"}
	f.eng.addImage("acme-app")
	f.eng.addContainer("tenant-other", "running", "acme-app")

	report := f.manager.ComprehensiveCleanup(ctx, "acme")
	if !report.Success() {
		t.Fatalf("cleanup should succeed: %+v", report.Steps)
	}
	if _, ok := f.eng.images["acme-app"]; !ok {
		t.Fatal("image in use by another container must be kept")
	}
	for _, s := range report.Steps {
		if s.Step == "image" && !strings.Contains(s.Detail, "in use") {
			t.Errorf("image step detail should explain the keep: %+v", s)
		}
	}
}

func TestCleanupResolvesMailboxBeforeRowDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.rows["acme"] = &domain.Tenant{
		Subdomain:      "acme",
		MailboxAddress: "admin@acme.example.com",
	}

	report := f.manager.ComprehensiveCleanup(ctx, "acme")
	if !report.Success() {
		t.Fatalf("cleanup failed: %+v", report.Steps)
	}
	// The row is deleted during the run, yet the mailbox was still found
	if len(f.mail.deleted) != 1 {
		t.Fatal("mailbox address must be resolved before the registry row is deleted")
	}
}

func TestCleanupEmitsTeardownAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.rows["acme"] = &domain.Tenant{Subdomain: "acme"}
	report := f.manager.ComprehensiveCleanup(ctx, "acme")
	if !report.Success() {
		t.Fatalf("cleanup failed: %+v", report.Steps)
	}

	logs := f.logs.String()
	if !strings.Contains(logs, "action=teardown") || !strings.Contains(logs, "status=success") {
		t.Fatalf("teardown not audited: %q", logs)
	}
}

func TestCleanupAuditRecordsFailedSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.rows["acme"] = &domain.Tenant{
		Subdomain:      "acme",
		MailboxAddress: "admin@acme.example.com",
	}
	f.mail.failOn = "delete"

	f.manager.ComprehensiveCleanup(ctx, "acme")

	logs := f.logs.String()
	if !strings.Contains(logs, "action=teardown") || !strings.Contains(logs, "status=failed") {
		t.Fatalf("failed teardown not audited: %q", logs)
	}
	if !strings.Contains(logs, "mailbox") {
		t.Fatalf("audit detail should name the failed step: %q", logs)
	}
}

func TestConfirmationPhrase(t *testing.T) {
	if got := ConfirmationPhrase("acme"); got != "DELETE acme" {
		t.Fatalf("ConfirmationPhrase = %q", got)
	}
}
