package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/catalog"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// historyWindow bounds how far back the handler loads history for a check.
// A full calendar year covers the widest detector window (annual limits).
const historyWindow = 366 * 24 * time.Hour

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *engine.Engine
	policies *policy.Engine
	catalog  *catalog.Static
	recorder domain.Recorder
	version  string
}

// NewHandler creates a new API handler. The static catalog may be nil when
// threshold configs are served straight from the repository.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, policies *policy.Engine, cat *catalog.Static, recorder domain.Recorder, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		engine:   eng,
		policies: policies,
		catalog:  cat,
		recorder: recorder,
		version:  version,
	}
}

// CheckRequest is the request body for POST /check.
type CheckRequest struct {
	Transaction  *domain.Transaction `json:"transaction"`
	Jurisdiction string              `json:"jurisdiction,omitempty"`

	// Now pins the evaluation time. Omitted means wall clock; supplying it
	// makes the check replayable.
	Now *time.Time `json:"now,omitempty"`
}

// CheckResponse is the response for POST /check.
type CheckResponse struct {
	*domain.FraudCheckResult
	Reasons []string `json:"reasons,omitempty"`
}

// Check handles POST /check: persist the transaction, score it against the
// tenant's stored history, persist the outcome and publish events.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}

	result, err := h.runCheck(r, &req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransaction) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		slog.Error("check failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "check failed"})
		return
	}

	writeJSON(w, http.StatusOK, CheckResponse{FraudCheckResult: result, Reasons: result.Reasons()})
}

// BatchRequest is the request body for POST /check/batch.
type BatchRequest struct {
	Items []CheckRequest `json:"items"`
}

// BatchItemResponse is one item of the batch response, keyed to its input
// position.
type BatchItemResponse struct {
	Index  int                      `json:"index"`
	Result *domain.FraudCheckResult `json:"result,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

// CheckBatch handles POST /check/batch. Items are checked independently in
// order; one malformed item never fails the rest.
func (h *Handler) CheckBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "items is required"})
		return
	}

	items := make([]BatchItemResponse, len(req.Items))
	for i := range req.Items {
		item := BatchItemResponse{Index: i}
		result, err := h.runCheck(r, &req.Items[i])
		if err != nil {
			item.Error = err.Error()
		}
		item.Result = result
		items[i] = item
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// runCheck is the shared pipeline behind both check endpoints. The history
// snapshot is taken before the candidate is saved so the engine sees a
// consistent "prior history plus candidate" picture.
func (h *Handler) runCheck(r *http.Request, req *CheckRequest) (*domain.FraudCheckResult, error) {
	ctx := r.Context()
	tenantID := domain.TenantFromContext(ctx)

	tx := req.Transaction
	if tx == nil {
		return nil, domain.ErrInvalidTransaction
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	tx.TenantID = tenantID
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if req.Now != nil {
		now = req.Now.UTC()
	}

	history, err := h.repo.ListTransactions(ctx, tenantID, now.Add(-historyWindow))
	if err != nil {
		return nil, err
	}
	history = history.Exclude(tx.ID)

	result, err := h.engine.Check(ctx, &engine.Input{
		Transaction:  tx,
		History:      history,
		Jurisdiction: req.Jurisdiction,
		Now:          now,
	})
	if err != nil && !errors.Is(err, engine.ErrAuditFailed) {
		return nil, err
	}
	if errors.Is(err, engine.ErrAuditFailed) {
		// The decision stands; the compliance gap is logged, not fatal.
		slog.Error("audit trail incomplete for check", "check_id", result.ID, "error", err)
	}

	if err := h.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
		slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
	}
	if err := h.repo.SaveFraudCheck(ctx, tenantID, result); err != nil {
		slog.Error("failed to save check result", "check_id", result.ID, "error", err)
	}
	for i := range result.Alerts {
		if err := h.repo.SaveAlert(ctx, tenantID, &result.Alerts[i]); err != nil {
			slog.Error("failed to save alert", "alert_id", result.Alerts[i].ID, "error", err)
		}
	}

	h.publish(ctx, tenantID, domain.TopicCheckCompleted, result)
	for i := range result.Alerts {
		h.publish(ctx, tenantID, domain.TopicAlertRaised, &result.Alerts[i])
	}

	return result, nil
}

func (h *Handler) publish(ctx context.Context, tenantID, topic string, payload any) {
	if h.bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal event payload", "topic", topic, "error", err)
		return
	}
	if err := h.bus.Publish(ctx, tenantID, topic, raw); err != nil {
		slog.Error("failed to publish event", "topic", topic, "error", err)
	}
}

// GetCheck retrieves a stored check result by ID.
func (h *Handler) GetCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := domain.TenantFromContext(ctx)
	checkID := chi.URLParam(r, "id")

	result, err := h.repo.GetFraudCheck(ctx, tenantID, checkID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "check not found"})
			return
		}
		slog.Error("failed to get check", "id", checkID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get check"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListAlerts returns the tenant's alerts, optionally filtered by review
// state via ?state=pending.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := domain.TenantFromContext(ctx)

	state := domain.ReviewState(r.URL.Query().Get("state"))
	switch state {
	case "", domain.ReviewPending, domain.ReviewReviewed, domain.ReviewDismissed, domain.ReviewConfirmed:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown review state"})
		return
	}

	alerts, err := h.repo.ListAlerts(ctx, tenantID, state)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list alerts"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// GetAlert retrieves a single alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := domain.TenantFromContext(ctx)
	alertID := chi.URLParam(r, "id")

	alert, err := h.repo.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "alert not found"})
			return
		}
		slog.Error("failed to get alert", "id", alertID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get alert"})
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// ReviewAlert handles POST /alerts/{id}/review. Only pending alerts accept
// a decision; the reviewer comes from the X-User-ID header and lands in the
// audit trail.
func (h *Handler) ReviewAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := domain.TenantFromContext(ctx)
	alertID := chi.URLParam(r, "id")

	reviewer := GetUserID(ctx)
	if reviewer == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "X-User-ID header is required for review"})
		return
	}

	var decision domain.ReviewDecision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	if err := decision.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	alert, err := h.repo.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "alert not found"})
			return
		}
		slog.Error("failed to get alert", "id", alertID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get alert"})
		return
	}

	if err := alert.Apply(&decision, reviewer, time.Now().UTC()); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	if err := h.repo.UpdateAlertReview(ctx, tenantID, alert); err != nil {
		slog.Error("failed to update alert review", "id", alertID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update alert"})
		return
	}

	if h.recorder != nil {
		if err := h.recorder.Record(ctx, tenantID, reviewer, domain.AuditReviewAlert, &decision); err != nil {
			slog.Error("failed to audit alert review", "id", alertID, "error", err)
		}
	}

	slog.Info("alert reviewed", "alert_id", alertID, "decision", decision.Decision, "reviewer", reviewer)
	writeJSON(w, http.StatusOK, alert)
}

// ListThresholds returns the tenant's stored threshold configs.
func (h *Handler) ListThresholds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := domain.TenantFromContext(ctx)

	configs, err := h.repo.ListThresholdConfigs(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list threshold configs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list thresholds"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"thresholds": configs, "count": len(configs)})
}

// CreateThreshold stores a threshold config. Changes become visible to the
// engine after POST /thresholds/reload.
func (h *Handler) CreateThreshold(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := domain.TenantFromContext(ctx)

	var cfg domain.ThresholdConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	if cfg.Jurisdiction == "" || cfg.CategoryCode == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "jurisdiction and categoryCode are required"})
		return
	}

	if err := h.repo.SaveThresholdConfig(ctx, tenantID, &cfg); err != nil {
		slog.Error("failed to save threshold config", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save threshold"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"threshold": cfg,
		"message":   "Threshold saved. Call POST /thresholds/reload to apply changes.",
	})
}

// ReloadThresholds swaps the in-memory catalog for the repository's current
// threshold configs in one atomic step.
func (h *Handler) ReloadThresholds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := domain.TenantFromContext(ctx)

	if h.catalog == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "catalog reload not available in this configuration"})
		return
	}

	configs, err := h.repo.ListThresholdConfigs(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list threshold configs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load thresholds"})
		return
	}

	// Stored configs overlay the built-in seed table so a reload never
	// drops the defaults for pairs the tenant has not customized. Replace
	// keeps the last entry per pair, so the stored configs win.
	entries := append(catalog.SeedEntries(), configs...)
	h.catalog.Replace(entries)
	slog.Info("threshold catalog reloaded", "count", len(configs))
	writeJSON(w, http.StatusOK, map[string]any{"message": "thresholds reloaded successfully", "count": len(configs)})
}

// ListPolicies returns the policy rules currently loaded in the engine.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	if h.policies == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "policy engine not available"})
		return
	}

	rules := h.policies.LoadedRules()
	writeJSON(w, http.StatusOK, map[string]any{"policies": rules, "count": len(rules), "source": "database"})
}

// CreatePolicy validates and stores a policy rule. The expression is
// compiled up front so a broken rule never reaches the database.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := domain.TenantFromContext(ctx)

	if h.policies == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "policy engine not available"})
		return
	}

	var rule domain.PolicyRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	if rule.ID == "" || rule.Name == "" || rule.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id, name, and expression are required"})
		return
	}
	if rule.Version == "" {
		rule.Version = "1.0.0"
	}
	rule.TenantID = tenantID

	if err := h.policies.Validate(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid policy rule: " + err.Error()})
		return
	}

	if err := h.repo.SavePolicyRule(ctx, tenantID, &rule); err != nil {
		slog.Error("failed to save policy rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save policy"})
		return
	}

	slog.Info("policy rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"policy":  rule,
		"message": "Policy saved. Call POST /policies/reload to apply changes.",
	})
}

// ReloadPolicies reloads all enabled policy rules from the database into
// the engine. A failed reload keeps the previous rule set.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := domain.TenantFromContext(ctx)

	if h.policies == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "policy engine not available"})
		return
	}

	rules, err := h.repo.ListPolicyRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list policy rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load policies"})
		return
	}

	if err := h.policies.Reload(rules); err != nil {
		slog.Error("failed to reload policy rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to reload policies: " + err.Error()})
		return
	}

	slog.Info("policy rules reloaded", "count", len(rules))
	writeJSON(w, http.StatusOK, map[string]any{"message": "policies reloaded successfully", "count": len(rules)})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": status, "version": h.version})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
