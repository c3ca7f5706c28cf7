package fleet

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yourorg/tenantfleet/internal/domain"
)

func runMenu(t *testing.T, f *fixture, input string) string {
	t.Helper()
	var out strings.Builder
	menu := NewMenu(f.manager, strings.NewReader(input), &out)
	if err := menu.Run(context.Background()); err != nil {
		t.Fatalf("menu run: %v", err)
	}
	return out.String()
}

func TestMenuExit(t *testing.T) {
	f := newFixture(t)
	out := runMenu(t, f, "0\n")
	if !strings.Contains(out, "TenantFleet management") {
		t.Fatalf("menu not printed: %q", out)
	}
}

func TestMenuExitsOnEOF(t *testing.T) {
	f := newFixture(t)
	runMenu(t, f, "") // input ends immediately
}

func TestMenuWrongPhraseAbortsDeletion(t *testing.T) {
	f := newFixture(t)
	f.repo.rows["acme"] = &domain.Tenant{Subdomain: "acme", Email: "a@x.com"}
	f.eng.addContainer("tenant-acme", "running", "acme-app")

	// option 2, subdomain, then a wrong confirmation phrase
	out := runMenu(t, f, "2\nacme\ndelete acme\n0\n")

	if !strings.Contains(out, "aborted, nothing touched") {
		t.Fatalf("expected abort message, got: %q", out)
	}
	if _, ok := f.repo.rows["acme"]; !ok {
		t.Fatal("registry row deleted despite aborted confirmation")
	}
	if _, ok := f.eng.containers["tenant-acme"]; !ok {
		t.Fatal("container removed despite aborted confirmation")
	}
	logs := f.logs.String()
	if !strings.Contains(logs, "action=access_denied") || !strings.Contains(logs, "subdomain=acme") {
		t.Fatalf("rejected confirmation not audited: %q", logs)
	}
	if strings.Contains(logs, "action=teardown") {
		t.Fatal("no teardown must be audited for an aborted deletion")
	}
}

func TestMenuCorrectPhraseRunsCleanup(t *testing.T) {
	f := newFixture(t)
	f.repo.rows["acme"] = &domain.Tenant{Subdomain: "acme", Email: "a@x.com"}
	f.eng.addContainer("tenant-acme", "running", "acme-app")
	f.mkDeployDir(t, "acme")

	out := runMenu(t, f, "2\nacme\nDELETE acme\n0\n")

	if _, ok := f.repo.rows["acme"]; ok {
		t.Fatal("registry row should be deleted")
	}
	if _, ok := f.eng.containers["tenant-acme"]; ok {
		t.Fatal("container should be removed")
	}
	if _, err := os.Lstat(filepath.Join(f.cfg.DeployRoot, "acme")); !os.IsNotExist(err) {
		t.Fatal("deploy dir should be removed")
	}
	if !strings.Contains(out, "cleanup of acme complete") {
		t.Fatalf("missing completion message: %q", out)
	}
}

func TestMenuDeletePrintsFindingsBeforeConfirm(t *testing.T) {
	f := newFixture(t)
	f.repo.rows["acme"] = &domain.Tenant{Subdomain: "acme", Email: "ops@acme.test"}
	f.eng.addContainer("tenant-acme", "running", "acme-app")
	f.eng.addImage("acme-app")

	out := runMenu(t, f, "2\nacme\nno\n0\n")

	findings := strings.Index(out, "Found for acme")
	confirm := strings.Index(out, "to confirm")
	if findings == -1 || confirm == -1 || findings > confirm {
		t.Fatalf("findings must be printed before the confirmation prompt: %q", out)
	}
	if !strings.Contains(out, "container tenant-acme") {
		t.Errorf("container finding missing: %q", out)
	}
	if !strings.Contains(out, "image acme-app") {
		t.Errorf("image finding missing: %q", out)
	}
}

func TestMenuSystemPruneRequiresExactPhrase(t *testing.T) {
	f := newFixture(t)

	runMenu(t, f, "5\nprune system\n0\n")
	if f.eng.sysPruned != 0 {
		t.Fatal("system prune ran without the exact phrase")
	}

	runMenu(t, f, "5\nPRUNE SYSTEM\n0\n")
	if f.eng.sysPruned != 1 {
		t.Fatal("system prune should run after exact confirmation")
	}
}

func TestMenuDeleteRegistryRowOnly(t *testing.T) {
	f := newFixture(t)
	f.repo.rows["acme"] = &domain.Tenant{Subdomain: "acme", Email: "a@x.com"}
	f.eng.addContainer("tenant-acme", "running", "acme-app")

	out := runMenu(t, f, "7\nacme\nDELETE acme\n0\n")

	if _, ok := f.repo.rows["acme"]; ok {
		t.Fatal("row should be deleted")
	}
	if _, ok := f.eng.containers["tenant-acme"]; !ok {
		t.Fatal("row-only deletion must leave the container alone")
	}
	if !strings.Contains(out, "row deleted") {
		t.Fatalf("missing confirmation output: %q", out)
	}
}

func TestMenuUnknownChoice(t *testing.T) {
	f := newFixture(t)
	out := runMenu(t, f, "9\n0\n")
	if !strings.Contains(out, "unknown choice") {
		t.Fatalf("unknown choice not reported: %q", out)
	}
}
