package dto

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mtlprog/agentdeploy/internal/domain"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorResponse creates a new error response.
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}

// DeployErrorResponse is returned when provisioning failed after the agent
// was moved to DEPLOYING, so the client sees the resulting FAILED agent.
type DeployErrorResponse struct {
	Error ErrorDetail   `json:"error"`
	Agent AgentResponse `json:"agent"`
}

// MapDomainError maps domain errors to HTTP status codes and error codes.
// Specific sentinels are matched before the class they wrap.
func MapDomainError(err error) (status int, code string, message string) {
	message = err.Error()

	switch {
	// Agent errors
	case errors.Is(err, domain.ErrAgentNotFound):
		return http.StatusNotFound, "AGENT_NOT_FOUND", message
	case errors.Is(err, domain.ErrServiceNotProvisioned):
		return http.StatusNotFound, "SERVICE_NOT_PROVISIONED", message
	case errors.Is(err, domain.ErrRuntimeSecretMissing):
		return http.StatusNotFound, "RUNTIME_SECRET_MISSING", message
	case errors.Is(err, domain.ErrChannelUserMissing):
		return http.StatusNotFound, "CHANNEL_USER_MISSING", message
	case errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound, "JOB_NOT_FOUND", message
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", message
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION", message

	// Billing errors
	case errors.Is(err, domain.ErrSubscriptionInactive):
		return http.StatusPaymentRequired, "SUBSCRIPTION_INACTIVE", message
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusForbidden, "QUOTA_EXCEEDED", message

	// Provider errors
	case errors.Is(err, domain.ErrHandshakeTimeout):
		return http.StatusGatewayTimeout, "HANDSHAKE_TIMEOUT", message
	case errors.Is(err, domain.ErrProvisioning):
		return http.StatusBadGateway, "PROVISIONING_FAILED", message

	// Validation errors
	case errors.Is(err, domain.ErrModelProviderMismatch):
		return http.StatusUnprocessableEntity, "MODEL_PROVIDER_MISMATCH", message
	case errors.Is(err, domain.ErrUnknownProvider):
		return http.StatusUnprocessableEntity, "UNKNOWN_PROVIDER", message
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", message

	// Vault errors never leak ciphertext details.
	case errors.Is(err, domain.ErrDecrypt):
		slog.Error("stored secret could not be decrypted", "error", err)
		return http.StatusInternalServerError, "DECRYPT_FAILED", "Stored secret could not be decrypted"

	// Default: internal server error
	default:
		slog.Error("unmapped domain error returned to client",
			"error", err,
			"error_type", fmt.Sprintf("%T", err),
		)
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
	}
}
