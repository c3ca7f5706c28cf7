package fleet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/yourorg/tenantfleet/internal/fsops"
)

// Menu is the interactive fleet-management loop. Input and output are
// injectable so the confirmation protocol is testable.
type Menu struct {
	manager *Manager
	in      *bufio.Scanner
	out     io.Writer
}

// NewMenu creates the interactive menu
func NewMenu(manager *Manager, in io.Reader, out io.Writer) *Menu {
	return &Menu{
		manager: manager,
		in:      bufio.NewScanner(in),
		out:     out,
	}
}

// Run loops until the operator exits or input ends
func (m *Menu) Run(ctx context.Context) error {
	for {
		fmt.Fprintln(m.out)
		fmt.Fprintln(m.out, "TenantFleet management")
		fmt.Fprintln(m.out, "  1) List tenants")
		fmt.Fprintln(m.out, "  2) Delete one tenant")
		fmt.Fprintln(m.out, "  3) Clean up orphaned containers/images")
		fmt.Fprintln(m.out, "  4) Clean up orphaned registry rows")
		fmt.Fprintln(m.out, "  5) Engine-wide housekeeping prune")
		fmt.Fprintln(m.out, "  6) List raw registry rows")
		fmt.Fprintln(m.out, "  7) Delete one raw registry row")
		fmt.Fprintln(m.out, "  0) Exit")
		fmt.Fprint(m.out, "> ")

		choice, ok := m.readLine()
		if !ok {
			return nil
		}

		var err error
		switch strings.TrimSpace(choice) {
		case "1":
			err = m.listTenants(ctx)
		case "2":
			err = m.deleteTenant(ctx)
		case "3":
			err = m.cleanupOrphanedRuntime(ctx)
		case "4":
			err = m.cleanupOrphanedRows(ctx)
		case "5":
			err = m.systemPrune(ctx)
		case "6":
			err = m.listRegistryRows(ctx)
		case "7":
			err = m.deleteRegistryRow(ctx)
		case "0", "q", "exit":
			return nil
		default:
			fmt.Fprintln(m.out, "unknown choice")
		}
		if err != nil {
			fmt.Fprintf(m.out, "error: %v\n", err)
		}
	}
}

func (m *Menu) readLine() (string, bool) {
	if !m.in.Scan() {
		return "", false
	}
	return m.in.Text(), true
}

// confirm requires the operator to type the exact phrase DELETE
// <subdomain>; anything else aborts with no side effects
func (m *Menu) confirm(ctx context.Context, subdomain string) bool {
	phrase := ConfirmationPhrase(subdomain)
	fmt.Fprintf(m.out, "Type %q to confirm: ", phrase)
	input, ok := m.readLine()
	if !ok || strings.TrimSpace(input) != phrase {
		fmt.Fprintln(m.out, "aborted, nothing touched")
		m.manager.audit.LogDenied(ctx, subdomain, "confirmation phrase mismatch")
		return false
	}
	return true
}

func (m *Menu) listTenants(ctx context.Context) error {
	statuses, err := m.manager.ListAllTenants(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(m.out, "no tenants found in any store")
		return nil
	}

	w := tabwriter.NewWriter(m.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SUBDOMAIN\tREGISTRY\tDEPLOYED\tCONTAINER\tMEMORY\tIMAGE\tDIR SIZE")
	for _, s := range statuses {
		registry := "missing"
		if s.InRegistry {
			registry = "present"
		}
		containerState := s.ContainerState
		if containerState == "" {
			containerState = "missing"
		}
		image := "missing"
		if s.HasImage {
			image = "present"
		}
		dirSize := "missing"
		if s.HasDir {
			dirSize = fsops.FormatBytes(s.DirSize)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\t%s\n",
			s.Subdomain, registry, s.Deployed, containerState, s.MemoryUsage, image, dirSize)
	}
	return w.Flush()
}

// deleteTenant prints everything it found across the three stores
// before asking for confirmation, so the operator is never guessing.
func (m *Menu) deleteTenant(ctx context.Context) error {
	fmt.Fprint(m.out, "Subdomain to delete: ")
	subdomain, ok := m.readLine()
	if !ok {
		return nil
	}
	subdomain = strings.TrimSpace(subdomain)
	if subdomain == "" {
		return nil
	}

	if err := m.printFindings(ctx, subdomain); err != nil {
		return err
	}
	if !m.confirm(ctx, subdomain) {
		return nil
	}

	report := m.manager.ComprehensiveCleanup(ctx, subdomain)
	m.printReport(report)
	return nil
}

func (m *Menu) printFindings(ctx context.Context, subdomain string) error {
	statuses, err := m.manager.ListAllTenants(ctx)
	if err != nil {
		return err
	}
	for _, s := range statuses {
		if s.Subdomain != subdomain {
			continue
		}
		fmt.Fprintf(m.out, "Found for %s:\n", subdomain)
		if s.InRegistry {
			fmt.Fprintf(m.out, "  registry row (email %s, deployed %t)\n", s.Email, s.Deployed)
		}
		if s.ContainerState != "" {
			fmt.Fprintf(m.out, "  container %s (%s, memory %s)\n",
				m.manager.inventory.ContainerName(subdomain), s.ContainerState, s.MemoryUsage)
		}
		if s.HasImage {
			fmt.Fprintf(m.out, "  image %s\n", m.manager.inventory.ImageRef(subdomain))
		}
		if s.HasDir {
			fmt.Fprintf(m.out, "  deployed directory (%s)\n", fsops.FormatBytes(s.DirSize))
		}
		return nil
	}
	fmt.Fprintf(m.out, "nothing found for %s in any store\n", subdomain)
	return nil
}

func (m *Menu) printReport(report *CleanupReport) {
	for _, s := range report.Steps {
		status := "ok"
		if !s.OK {
			status = "FAILED"
		}
		found := "not found"
		if s.Found {
			found = "found"
		}
		fmt.Fprintf(m.out, "  %-14s %-10s %-7s %s\n", s.Step, found, status, s.Detail)
	}
	if report.Success() {
		fmt.Fprintf(m.out, "cleanup of %s complete\n", report.Subdomain)
	} else {
		fmt.Fprintf(m.out, "cleanup of %s finished with failures (see steps above)\n", report.Subdomain)
	}
}

func (m *Menu) cleanupOrphanedRuntime(ctx context.Context) error {
	containers, err := m.manager.FindOrphanedContainers(ctx)
	if err != nil {
		return err
	}
	images, err := m.manager.FindOrphanedImages(ctx)
	if err != nil {
		return err
	}
	if len(containers) == 0 && len(images) == 0 {
		fmt.Fprintln(m.out, "no orphaned runtime resources")
		return nil
	}

	for _, c := range containers {
		fmt.Fprintf(m.out, "orphaned container: %s (%s)\n", c.Name, c.State)
	}
	for _, img := range images {
		fmt.Fprintf(m.out, "orphaned image: %s:%s\n", img.Repository, img.Tag)
	}

	seen := map[string]bool{}
	for _, c := range containers {
		seen[c.Subdomain] = true
	}
	for _, img := range images {
		seen[img.Subdomain] = true
	}

	for subdomain := range seen {
		if !m.confirm(ctx, subdomain) {
			continue
		}
		report := m.manager.ComprehensiveCleanup(ctx, subdomain)
		m.printReport(report)
	}
	return nil
}

func (m *Menu) cleanupOrphanedRows(ctx context.Context) error {
	rows, err := m.manager.FindOrphanedRegistryRows(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(m.out, "no orphaned registry rows")
		return nil
	}

	for _, t := range rows {
		fmt.Fprintf(m.out, "orphaned registry row: %s (email %s, mailbox %s, deployed %t)\n",
			t.Subdomain, t.Email, t.MailboxAddress, t.Deployed)
		if !m.confirm(ctx, t.Subdomain) {
			continue
		}
		report := m.manager.ComprehensiveCleanup(ctx, t.Subdomain)
		m.printReport(report)
	}
	return nil
}

func (m *Menu) systemPrune(ctx context.Context) error {
	fmt.Fprint(m.out, "Type \"PRUNE SYSTEM\" to confirm engine-wide prune: ")
	input, ok := m.readLine()
	if !ok || strings.TrimSpace(input) != "PRUNE SYSTEM" {
		fmt.Fprintln(m.out, "aborted, nothing touched")
		m.manager.audit.LogDenied(ctx, "", "system prune confirmation mismatch")
		return nil
	}
	if err := m.manager.engine.PruneSystem(ctx); err != nil {
		return err
	}
	fmt.Fprintln(m.out, "engine prune complete")
	return nil
}

func (m *Menu) listRegistryRows(ctx context.Context) error {
	rows, err := m.manager.tenants.List(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(m.out, "registry is empty")
		return nil
	}
	w := tabwriter.NewWriter(m.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SUBDOMAIN\tEMAIL\tPLAN\tPORT\tDEPLOYED\tMAILBOX\tCREATED")
	for _, t := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\t%s\n",
			t.Subdomain, t.Email, t.Plan, t.Port, t.Deployed, t.MailboxAddress,
			t.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}

// deleteRegistryRow deletes only the registry row, leaving runtime and
// disk untouched. Useful when a row was created by hand or by a test.
func (m *Menu) deleteRegistryRow(ctx context.Context) error {
	fmt.Fprint(m.out, "Subdomain of row to delete: ")
	subdomain, ok := m.readLine()
	if !ok {
		return nil
	}
	subdomain = strings.TrimSpace(subdomain)
	if subdomain == "" {
		return nil
	}

	t, err := m.manager.tenants.GetBySubdomain(ctx, subdomain)
	if err != nil {
		fmt.Fprintf(m.out, "no registry row for %s\n", subdomain)
		return nil
	}
	fmt.Fprintf(m.out, "row: %s (email %s, plan %s, deployed %t)\n", t.Subdomain, t.Email, t.Plan, t.Deployed)

	if !m.confirm(ctx, subdomain) {
		return nil
	}
	if err := m.manager.tenants.Delete(ctx, subdomain); err != nil {
		return err
	}
	m.manager.audit.LogTeardown(ctx, subdomain, "success", "registry row only")
	fmt.Fprintln(m.out, "row deleted")
	return nil
}
