package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/yourorg/tenantfleet/internal/domain"
	"github.com/yourorg/tenantfleet/internal/infrastructure/redis"
	"github.com/yourorg/tenantfleet/internal/observability/metrics"
	"github.com/yourorg/tenantfleet/internal/provision"
	"github.com/yourorg/tenantfleet/internal/security/audit"
	"github.com/yourorg/tenantfleet/pkg/config"
)

// WebhookRequest is the payload the billing provider posts when a
// payment for a new tenant succeeds
type WebhookRequest struct {
	EventID          string `json:"eventId"`
	Type             string `json:"type"`
	Subdomain        string `json:"subdomain"`
	Email            string `json:"email"`
	Plan             string `json:"plan"`
	BillingFrequency string `json:"billingFrequency"`
	OrgName          string `json:"orgName"`
	Port             int    `json:"port"`
	CustomerRef      string `json:"customerRef"`
	SubscriptionRef  string `json:"subscriptionRef"`
}

// WebhookHandler accepts billing events and starts one asynchronous
// provisioning run per event. Duplicate events are dropped via a Redis
// dedup key; concurrent runs for the same subdomain are blocked by a
// per-subdomain lock, with the registry's unique constraint as the
// backstop.
type WebhookHandler struct {
	cfg      *config.Config
	tenants  domain.TenantRepository
	pipeline *provision.Pipeline
	redis    *redis.Client
	audit    *audit.Logger
	logger   *slog.Logger
}

// NewWebhookHandler creates the billing webhook handler
func NewWebhookHandler(
	cfg *config.Config,
	tenants domain.TenantRepository,
	pipeline *provision.Pipeline,
	redisClient *redis.Client,
	auditLogger *audit.Logger,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		cfg:      cfg,
		tenants:  tenants,
		pipeline: pipeline,
		redis:    redisClient,
		audit:    auditLogger,
		logger:   logger,
	}
}

// ServeHTTP handles POST /api/billing/webhook
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode webhook", slog.String("error", err.Error()))
		metrics.ObserveWebhookEvent("invalid")
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if req.EventID == "" || req.Type != "payment.succeeded" {
		metrics.ObserveWebhookEvent("invalid")
		http.Error(w, "unsupported event", http.StatusBadRequest)
		return
	}
	if !h.validSubdomain(req.Subdomain) {
		metrics.ObserveWebhookEvent("invalid")
		http.Error(w, "invalid subdomain", http.StatusBadRequest)
		return
	}
	if _, ok := h.cfg.Plans[req.Plan]; !ok {
		metrics.ObserveWebhookEvent("invalid")
		http.Error(w, "unknown plan", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Dedup on the billing event identifier: a retried delivery of the
	// same event must be acknowledged without re-provisioning.
	fresh, err := h.redis.SetNX(ctx, "billing-event:"+req.EventID, "1", 24*time.Hour)
	if err != nil {
		h.logger.Error("dedup check failed", slog.String("error", err.Error()))
		http.Error(w, "dedup store unavailable", http.StatusServiceUnavailable)
		return
	}
	if !fresh {
		h.logger.Info("duplicate billing event ignored", slog.String("event_id", req.EventID))
		metrics.ObserveWebhookEvent("duplicate")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Advisory lock on the subdomain: two different events racing to
	// provision the same subdomain become a detectable no-op here.
	lockKey := "provision-lock:" + req.Subdomain
	locked, err := h.redis.SetNX(ctx, lockKey, req.EventID, h.cfg.ProvisionTimeout+time.Minute)
	if err != nil {
		h.logger.Error("lock acquisition failed", slog.String("error", err.Error()))
		http.Error(w, "lock store unavailable", http.StatusServiceUnavailable)
		return
	}
	if !locked {
		h.logger.Warn("provisioning already in progress", slog.String("subdomain", req.Subdomain))
		metrics.ObserveWebhookEvent("locked")
		http.Error(w, "provisioning already in progress for this subdomain", http.StatusConflict)
		return
	}

	tenant, err := h.buildTenant(&req)
	if err != nil {
		_ = h.redis.Delete(ctx, lockKey)
		h.logger.Error("failed to build tenant record", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// The row is written before any work starts so progress is
	// observable; deployed stays false until the pipeline verifies.
	if err := h.tenants.Insert(ctx, tenant); err != nil {
		_ = h.redis.Delete(ctx, lockKey)
		if errors.Is(err, domain.ErrDuplicateTenant) {
			h.logger.Warn("subdomain already registered", slog.String("subdomain", req.Subdomain))
			metrics.ObserveWebhookEvent("duplicate")
			http.Error(w, "subdomain already registered", http.StatusConflict)
			return
		}
		h.logger.Error("registry insert failed", slog.String("error", err.Error()))
		http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
		return
	}

	metrics.ObserveWebhookEvent("accepted")
	h.audit.LogProvisioning(ctx, req.Subdomain, "started", "event "+req.EventID)

	// One provisioning workflow per payment event, off the request path
	go func() {
		ctx := context.Background()
		defer func() {
			if err := h.redis.Delete(ctx, lockKey); err != nil {
				h.logger.Warn("failed to release provision lock", slog.String("subdomain", req.Subdomain))
			}
		}()

		if err := h.pipeline.Provision(ctx, tenant); err != nil {
			// No rollback: the deployed=false row is the audit trail of
			// a stalled provision, cleaned up later by fleet operations.
			h.logger.Error("provisioning failed",
				slog.String("subdomain", req.Subdomain),
				slog.String("error", err.Error()),
			)
			h.audit.LogProvisioning(ctx, req.Subdomain, "failed", err.Error())
			return
		}
		h.audit.LogProvisioning(ctx, req.Subdomain, "completed", "")
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"subdomain": req.Subdomain,
		"status":    "provisioning",
	})
}

// validSubdomain applies the strict naming rule, or the legacy one when
// STRICT_VALIDATION is off for fleets with grandfathered names
func (h *WebhookHandler) validSubdomain(s string) bool {
	if h.cfg.StrictValidation {
		return domain.ValidSubdomain(s)
	}
	return domain.ValidSubdomainLegacy(s)
}

func (h *WebhookHandler) buildTenant(req *WebhookRequest) (*domain.Tenant, error) {
	mailboxPassword, err := provision.RandomSecret(16)
	if err != nil {
		return nil, err
	}
	frequency := req.BillingFrequency
	if frequency == "" {
		frequency = "monthly"
	}
	// Mailboxes live under MAIL_DOMAIN when the mail stack runs on its
	// own apex; otherwise they follow the platform domain.
	mailDomain := h.cfg.MailDomain
	if mailDomain == "" {
		mailDomain = h.cfg.PlatformDomain
	}
	return &domain.Tenant{
		Subdomain:        req.Subdomain,
		Email:            req.Email,
		Port:             req.Port,
		Plan:             req.Plan,
		BillingFrequency: frequency,
		OrgName:          req.OrgName,
		MailboxAddress:   "admin@" + req.Subdomain + "." + mailDomain,
		MailboxPassword:  mailboxPassword,
		BillingCustomer:  req.CustomerRef,
		BillingSub:       req.SubscriptionRef,
	}, nil
}
