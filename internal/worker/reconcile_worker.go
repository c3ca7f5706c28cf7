package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/yourorg/tenantfleet/internal/fleet"
	"github.com/yourorg/tenantfleet/internal/observability/metrics"
)

// ReconcileWorker periodically recomputes drift between the registry,
// the runtime inventory, and the deployed directory tree. It reports
// drift through metrics and warn logs only; remediation is always
// operator-confirmed, never automatic.
type ReconcileWorker struct {
	manager  *fleet.Manager
	logger   *slog.Logger
	interval time.Duration
}

// NewReconcileWorker creates a reconciliation worker
func NewReconcileWorker(manager *fleet.Manager, logger *slog.Logger, interval time.Duration) *ReconcileWorker {
	return &ReconcileWorker{
		manager:  manager,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the reconciliation loop
func (w *ReconcileWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("reconcile worker started", slog.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reconcile worker stopped")
			return
		case <-ticker.C:
			w.reconcile(ctx)
		}
	}
}

func (w *ReconcileWorker) reconcile(ctx context.Context) {
	statuses, err := w.manager.ListAllTenants(ctx)
	if err != nil {
		w.logger.Error("reconciliation failed", slog.String("error", err.Error()))
		return
	}

	deployed := 0
	for _, s := range statuses {
		if s.InRegistry && s.Deployed {
			deployed++
		}
	}
	metrics.SetDeployedTenants(deployed)

	containers, err := w.manager.FindOrphanedContainers(ctx)
	if err != nil {
		w.logger.Error("orphaned container scan failed", slog.String("error", err.Error()))
		return
	}
	images, err := w.manager.FindOrphanedImages(ctx)
	if err != nil {
		w.logger.Error("orphaned image scan failed", slog.String("error", err.Error()))
		return
	}
	rows, err := w.manager.FindOrphanedRegistryRows(ctx)
	if err != nil {
		w.logger.Error("orphaned row scan failed", slog.String("error", err.Error()))
		return
	}

	metrics.SetOrphaned("container", len(containers))
	metrics.SetOrphaned("image", len(images))
	metrics.SetOrphaned("registry-row", len(rows))

	for _, c := range containers {
		w.logger.Warn("orphaned container detected",
			slog.String("container", c.Name),
			slog.String("state", c.State),
		)
	}
	for _, img := range images {
		w.logger.Warn("orphaned image detected", slog.String("image", img.Repository))
	}
	for _, t := range rows {
		w.logger.Warn("registry row without runtime",
			slog.String("subdomain", t.Subdomain),
			slog.Bool("deployed", t.Deployed),
		)
	}
}
