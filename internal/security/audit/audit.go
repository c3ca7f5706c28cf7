package audit

import (
	"context"
	"log/slog"
	"time"
)

// Logger records the irreversible things done to tenants, so teardown
// and provisioning always leave a trail independent of the registry
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates an audit logger on top of the application logger
func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

// LogAction records one auditable action against a tenant
func (al *Logger) LogAction(ctx context.Context, subdomain, action, status, details string) {
	al.logger.Info("audit",
		slog.String("action", action),
		slog.String("subdomain", subdomain),
		slog.String("status", status),
		slog.String("details", details),
		slog.Time("timestamp", time.Now()),
	)
}

// LogProvisioning records a provisioning lifecycle event
func (al *Logger) LogProvisioning(ctx context.Context, subdomain, status, details string) {
	al.LogAction(ctx, subdomain, "provision", status, details)
}

// LogTeardown records a teardown lifecycle event
func (al *Logger) LogTeardown(ctx context.Context, subdomain, status, details string) {
	al.LogAction(ctx, subdomain, "teardown", status, details)
}

// LogDenied records a rejected operational request
func (al *Logger) LogDenied(ctx context.Context, subdomain, reason string) {
	al.LogAction(ctx, subdomain, "access_denied", "denied", reason)
}
