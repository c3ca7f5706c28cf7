// Package mail consumes the mail subsystem through its narrow deletion
// contract. Mail-account provisioning lives elsewhere; this package only
// removes what teardown must remove.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yourorg/tenantfleet/internal/infrastructure/command"
)

// Manager is the contract consumed from the mail subsystem
type Manager interface {
	DeleteMailbox(ctx context.Context, address string) error
	RemoveForwarding(ctx context.Context, address string) error
	PurgeInboxData(ctx context.Context, address string) error
	MailboxGone(ctx context.Context, address string) (bool, error)
}

// CLIManager drives the platform's mail admin CLI through the shared
// timeout-bounded command runner
type CLIManager struct {
	binary string
	runner *command.Runner
	logger *slog.Logger
}

// NewCLIManager creates a mail manager backed by the mail admin CLI
func NewCLIManager(binary string, runner *command.Runner, logger *slog.Logger) *CLIManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIManager{binary: binary, runner: runner, logger: logger}
}

func (m *CLIManager) DeleteMailbox(ctx context.Context, address string) error {
	if _, err := m.runner.Run(ctx, m.binary, "mailbox", "delete", address); err != nil {
		return fmt.Errorf("delete mailbox %s: %w", address, err)
	}
	return nil
}

func (m *CLIManager) RemoveForwarding(ctx context.Context, address string) error {
	if _, err := m.runner.Run(ctx, m.binary, "forward", "remove", address); err != nil {
		return fmt.Errorf("remove forwarding for %s: %w", address, err)
	}
	return nil
}

func (m *CLIManager) PurgeInboxData(ctx context.Context, address string) error {
	if _, err := m.runner.Run(ctx, m.binary, "inbox", "purge", address); err != nil {
		return fmt.Errorf("purge inbox for %s: %w", address, err)
	}
	return nil
}

// MailboxGone re-queries the account listing and reports whether the
// address no longer appears
func (m *CLIManager) MailboxGone(ctx context.Context, address string) (bool, error) {
	res, err := m.runner.Run(ctx, m.binary, "mailbox", "list")
	if err != nil {
		return false, fmt.Errorf("list mailboxes: %w", err)
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if strings.TrimSpace(line) == address {
			return false, nil
		}
	}
	return true, nil
}

// Cleanup removes the tenant's mailbox and any forwarding configuration:
// delete, remove forwarding, purge inbox storage, then re-query to
// confirm. Verification failure is a warning, never an abort; mail
// cleanup is best-effort relative to container and registry cleanup.
func Cleanup(ctx context.Context, mgr Manager, address string, logger *slog.Logger) bool {
	if logger == nil {
		logger = slog.Default()
	}
	if address == "" {
		logger.Debug("no mailbox address recorded, skipping mail cleanup")
		return true
	}
	log := logger.With(slog.String("address", address))
	ok := true

	if err := mgr.DeleteMailbox(ctx, address); err != nil {
		log.Warn("mailbox deletion failed", slog.String("error", err.Error()))
		ok = false
	}
	if err := mgr.RemoveForwarding(ctx, address); err != nil {
		log.Warn("forwarding removal failed", slog.String("error", err.Error()))
		ok = false
	}
	if err := mgr.PurgeInboxData(ctx, address); err != nil {
		log.Warn("inbox purge failed", slog.String("error", err.Error()))
		ok = false
	}

	gone, err := mgr.MailboxGone(ctx, address)
	if err != nil {
		log.Warn("mailbox verification failed", slog.String("error", err.Error()))
	} else if !gone {
		log.Warn("mailbox still present after cleanup")
	}

	return ok
}
