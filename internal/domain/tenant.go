package domain

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// Tenant is the authoritative registry record for one customer instance
type Tenant struct {
	Subdomain        string
	Email            string
	Port             int
	Plan             string
	BillingFrequency string
	OrgName          string
	MailboxAddress   string
	MailboxPassword  string
	ForwardingTo     string
	Deployed         bool
	BillingCustomer  string // external billing customer reference
	BillingSub       string // external billing subscription reference
	CreatedAt        time.Time
}

// ContainerRecord mirrors what the engine reports for one container.
// It is never written directly; it reflects live runtime state.
type ContainerRecord struct {
	Name      string
	Subdomain string
	State     string // running, exited, created, ...
	Image     string
	CreatedAt string
	Ports     string
}

// ImageRecord mirrors what the engine reports for one image
type ImageRecord struct {
	Repository string
	Subdomain  string
	Tag        string
	ID         string
	Size       string
}

var (
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrDuplicateTenant = errors.New("tenant already exists")
)

// TenantRepository defines registry access, keyed by subdomain
type TenantRepository interface {
	List(ctx context.Context) ([]*Tenant, error)
	GetBySubdomain(ctx context.Context, subdomain string) (*Tenant, error)
	Insert(ctx context.Context, tenant *Tenant) error
	SetDeployed(ctx context.Context, subdomain string, deployed bool) error
	Delete(ctx context.Context, subdomain string) error
}

var (
	subdomainRe       = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
	legacySubdomainRe = regexp.MustCompile(`^[a-z0-9-]+$`)
)

// ValidSubdomain reports whether s is a structurally valid tenant
// subdomain: 3-63 chars, lowercase alphanumeric plus hyphen, no edge hyphen.
func ValidSubdomain(s string) bool {
	if len(s) < 3 || len(s) > 63 {
		return false
	}
	return subdomainRe.MatchString(s)
}

// ValidSubdomainLegacy is the looser rule older fleets were provisioned
// under: edge hyphens and short names allowed, character set unchanged.
// Selected by the STRICT_VALIDATION setting at the intake boundary only;
// reconciliation and path confinement always use the strict rule.
func ValidSubdomainLegacy(s string) bool {
	if len(s) < 1 || len(s) > 63 {
		return false
	}
	return legacySubdomainRe.MatchString(s)
}
