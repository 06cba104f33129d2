package handler

import (
	"cmp"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mtlprog/agentdeploy/internal/handler/dto"
	"github.com/mtlprog/agentdeploy/internal/middleware"
	"github.com/mtlprog/agentdeploy/internal/service"
	"github.com/mtlprog/agentdeploy/internal/static"
	"github.com/mtlprog/agentdeploy/internal/telegram"
	"github.com/mtlprog/agentdeploy/internal/worker"
)

const (
	// maxWebhookBody caps the billing webhook payload.
	maxWebhookBody = 1 << 20

	// defaultDeployWriteTimeout bounds a synchronous deploy response. It
	// replaces the server's WriteTimeout for that route only.
	defaultDeployWriteTimeout = 5 * time.Minute
)

// Pinger reports whether the database is reachable. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps lists everything the HTTP layer calls into.
type Deps struct {
	DB            Pinger
	Agents        *service.AgentService
	Finalizer     *worker.FinalizeWorker
	Billing       *service.BillingReconciler
	Telegram      *telegram.Client
	WebhookSecret string       // empty disables signature checks
	Metrics       http.Handler // optional /metrics handler

	DeployWriteTimeout time.Duration // zero selects defaultDeployWriteTimeout
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	db            Pinger
	agents        *service.AgentService
	finalizer     *worker.FinalizeWorker
	billing       *service.BillingReconciler
	telegram      *telegram.Client
	webhookSecret string
	metrics       http.Handler
	owner         *middleware.OwnerMiddleware

	deployWriteTimeout time.Duration
}

// New creates a new Handler instance with all dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		db:            deps.DB,
		agents:        deps.Agents,
		finalizer:     deps.Finalizer,
		billing:       deps.Billing,
		telegram:      deps.Telegram,
		webhookSecret: deps.WebhookSecret,
		metrics:       deps.Metrics,
		owner:         middleware.NewOwnerMiddleware(respondError),

		deployWriteTimeout: cmp.Or(deps.DeployWriteTimeout, defaultDeployWriteTimeout),
	}
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /guide.md", h.handleGuide)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}

	// Billing provider callback, authenticated by signature rather than owner.
	mux.HandleFunc("POST /api/v1/payment/webhook", h.handlePaymentWebhook)

	auth := func(fn http.HandlerFunc) http.Handler {
		return h.owner.Authenticate(fn)
	}

	mux.Handle("GET /api/v1/agents", auth(h.handleListAgents))
	mux.Handle("POST /api/v1/agents", auth(h.handleCreateAgent))
	mux.Handle("POST /api/v1/agents/stop", auth(h.handleStopAgents))
	mux.Handle("GET /api/v1/agents/{id}", auth(h.handleGetAgent))
	mux.Handle("DELETE /api/v1/agents/{id}", auth(h.handleDeleteAgent))
	mux.Handle("POST /api/v1/agents/{id}/config", auth(h.handleConfigureAgent))
	mux.Handle("POST /api/v1/agents/{id}/deploy", auth(h.handleDeployAgent))
	mux.Handle("POST /api/v1/agents/{id}/finalize", auth(h.handleFinalizeAgent))
	mux.Handle("POST /api/v1/agents/{id}/restart", auth(h.handleRestartAgent))
	mux.Handle("GET /api/v1/agents/{id}/logs", auth(h.handleGetLogs))
	mux.Handle("GET /api/v1/agents/{id}/deployments", auth(h.handleListDeployments))
	mux.Handle("GET /api/v1/agents/{id}/gateway-token", auth(h.handleGetGatewayToken))
	mux.Handle("GET /api/v1/agents/{id}/setup-password", auth(h.handleGetSetupPassword))
	mux.Handle("GET /api/v1/finalize-jobs/{id}", auth(h.handleGetFinalizeJob))

	mux.Handle("GET /api/v1/subscription", auth(h.handleGetSubscription))
	mux.Handle("GET /api/v1/payments", auth(h.handleListPayments))

	mux.Handle("POST /api/v1/telegram/validate-token", auth(h.handleValidateTelegramToken))
	mux.Handle("POST /api/v1/telegram/resolve-chat", auth(h.handleResolveTelegramChat))
}

// handleHealthz returns 200 OK if the database is reachable.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		slog.Error("database health check failed", "error", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleGuide serves the API walkthrough as markdown.
func (h *Handler) handleGuide(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(static.GuideMd)); err != nil {
		slog.Error("failed to write guide", "error", err)
	}
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a standard error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, dto.NewErrorResponse(code, message))
}

// respondDomainError maps a service error to its HTTP representation.
func respondDomainError(w http.ResponseWriter, err error) {
	status, code, message := dto.MapDomainError(err)
	respondError(w, status, code, message)
}

// requireOwner extracts the authenticated owner.
// Returns (ownerID, true) if present, ("", false) if not (error already sent to client).
func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID, err := middleware.OwnerFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return "", false
	}
	return ownerID, true
}

// extractID extracts and validates the {id} path parameter.
// Returns (id, true) if valid, ("", false) if invalid (error already sent to client).
func extractID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", name+" id is required")
		return "", false
	}

	if _, err := uuid.Parse(id); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", name+"_id must be a valid UUID")
		return "", false
	}

	return id, true
}

// decodeJSON parses the request body.
// Returns false if the body is invalid (error already sent to client).
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return false
	}
	return true
}
