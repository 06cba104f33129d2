package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/mtlprog/agentdeploy/internal/billing"
	"github.com/mtlprog/agentdeploy/internal/handler/dto"
)

// handleGetSubscription returns the owner's billing standing.
// @Summary Get subscription
// @Description Active is true only for an authorized subscription that is still paid up.
// @Tags billing
// @Produce json
// @Success 200 {object} dto.SubscriptionResponse
// @Security OwnerAuth
// @Router /subscription [get]
func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	state, err := h.billing.SubscriptionStatus(r.Context(), ownerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToSubscriptionResponse(state.Active, state.ValidUntil, state.Subscription))
}

// handleListPayments returns the owner's most recent payments.
// @Summary List payments
// @Tags billing
// @Produce json
// @Success 200 {object} dto.PaymentsListResponse
// @Security OwnerAuth
// @Router /payments [get]
func (h *Handler) handleListPayments(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	payments, err := h.billing.ListPayments(r.Context(), ownerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToPaymentsListResponse(payments))
}

// handlePaymentWebhook receives billing notifications.
// The provider retries anything but 2xx, so every request is acknowledged;
// failures are logged and picked up again by the overdue sweep.
// @Summary Billing webhook
// @Tags billing
// @Accept json
// @Produce json
// @Param x-signature header string false "HMAC signature"
// @Param x-request-id header string false "Provider request id"
// @Success 200 {object} dto.WebhookResponse
// @Router /payment/webhook [post]
func (h *Handler) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ack := dto.WebhookResponse{Received: true}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Warn("failed to read webhook body", "error", err)
		respondJSON(w, http.StatusOK, ack)
		return
	}

	n := billing.ParseNotification(r.URL.Query(), body)

	if h.webhookSecret != "" {
		err := billing.VerifySignature(h.webhookSecret,
			r.Header.Get("x-signature"), r.Header.Get("x-request-id"), n.DataID)
		if err != nil {
			slog.Warn("rejected webhook", "type", n.Type, "data_id", n.DataID, "error", err)
			respondJSON(w, http.StatusOK, ack)
			return
		}
	}

	if err := h.billing.HandleNotification(r.Context(), n); err != nil {
		slog.Error("failed to process webhook", "type", n.Type, "data_id", n.DataID, "error", err)
	}

	respondJSON(w, http.StatusOK, ack)
}
