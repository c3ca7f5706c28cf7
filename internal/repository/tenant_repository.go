package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/yourorg/tenantfleet/internal/domain"
)

// PostgresTenantRepository implements domain.TenantRepository.
// Writes run inside their own short transaction, committed or rolled
// back on every exit path, so neither the async provisioning worker nor
// the fleet tool ever holds a lock across user think time. Reads do the
// same when TRANSACTIONAL_READS is on, or hit the pool directly when a
// consistent snapshot per read is not worth the round trips.
type PostgresTenantRepository struct {
	db      *sql.DB
	txReads bool
	logger  *slog.Logger
}

// NewPostgresTenantRepository creates a new tenant repository
func NewPostgresTenantRepository(db *sql.DB, txReads bool, logger *slog.Logger) *PostgresTenantRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTenantRepository{db: db, txReads: txReads, logger: logger}
}

// withTx runs fn inside a transaction with guaranteed commit-or-rollback
func (r *PostgresTenantRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Error("rollback failed", slog.String("error", rbErr.Error()))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// read runs fn against a transaction or the bare pool, depending on the
// TRANSACTIONAL_READS setting
func (r *PostgresTenantRepository) read(ctx context.Context, fn func(q querier) error) error {
	if !r.txReads {
		return fn(r.db)
	}
	return r.withTx(ctx, func(tx *sql.Tx) error { return fn(tx) })
}

const tenantColumns = `subdomain, email, port, plan, billing_frequency, org_name,
	mailbox_address, mailbox_password, forwarding_to, deployed,
	billing_customer, billing_sub, created_at`

func scanTenant(row interface{ Scan(...any) error }) (*domain.Tenant, error) {
	t := &domain.Tenant{}
	err := row.Scan(
		&t.Subdomain, &t.Email, &t.Port, &t.Plan, &t.BillingFrequency, &t.OrgName,
		&t.MailboxAddress, &t.MailboxPassword, &t.ForwardingTo, &t.Deployed,
		&t.BillingCustomer, &t.BillingSub, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// List returns all tenants ordered by creation time
func (r *PostgresTenantRepository) List(ctx context.Context) ([]*domain.Tenant, error) {
	var out []*domain.Tenant
	err := r.read(ctx, func(q querier) error {
		rows, err := q.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at DESC`)
		if err != nil {
			return fmt.Errorf("failed to list tenants: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTenant(rows)
			if err != nil {
				return fmt.Errorf("failed to scan tenant: %w", err)
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

// GetBySubdomain retrieves a tenant by subdomain
func (r *PostgresTenantRepository) GetBySubdomain(ctx context.Context, subdomain string) (*domain.Tenant, error) {
	var tenant *domain.Tenant
	err := r.read(ctx, func(q querier) error {
		row := q.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE subdomain = $1`, subdomain)
		t, err := scanTenant(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrTenantNotFound
			}
			return fmt.Errorf("failed to get tenant: %w", err)
		}
		tenant = t
		return nil
	})
	return tenant, err
}

// Insert creates a new tenant row. A duplicate subdomain maps to
// domain.ErrDuplicateTenant via the unique constraint, which is the
// backstop against two provisioning runs racing on the same subdomain.
func (r *PostgresTenantRepository) Insert(ctx context.Context, t *domain.Tenant) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO tenants (subdomain, email, port, plan, billing_frequency, org_name,
				mailbox_address, mailbox_password, forwarding_to, deployed,
				billing_customer, billing_sub)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING created_at
		`
		err := tx.QueryRowContext(ctx, query,
			t.Subdomain, t.Email, t.Port, t.Plan, t.BillingFrequency, t.OrgName,
			t.MailboxAddress, t.MailboxPassword, t.ForwardingTo, t.Deployed,
			t.BillingCustomer, t.BillingSub,
		).Scan(&t.CreatedAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return fmt.Errorf("%w: %s", domain.ErrDuplicateTenant, t.Subdomain)
			}
			return fmt.Errorf("failed to insert tenant: %w", err)
		}
		return nil
	})
}

// SetDeployed flips the deployed flag for a tenant
func (r *PostgresTenantRepository) SetDeployed(ctx context.Context, subdomain string, deployed bool) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE tenants SET deployed = $1 WHERE subdomain = $2`, deployed, subdomain)
		if err != nil {
			return fmt.Errorf("failed to update deployment status: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rows == 0 {
			return domain.ErrTenantNotFound
		}
		return nil
	})
}

// Delete removes a tenant row
func (r *PostgresTenantRepository) Delete(ctx context.Context, subdomain string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM tenants WHERE subdomain = $1`, subdomain)
		if err != nil {
			return fmt.Errorf("failed to delete tenant: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rows == 0 {
			return domain.ErrTenantNotFound
		}
		return nil
	})
}
