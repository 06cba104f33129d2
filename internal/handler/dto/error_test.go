package dto

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mtlprog/agentdeploy/internal/domain"
)

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"agent not found", domain.ErrAgentNotFound, http.StatusNotFound, "AGENT_NOT_FOUND"},
		{"wrapped agent not found", fmt.Errorf("load: %w", domain.ErrAgentNotFound), http.StatusNotFound, "AGENT_NOT_FOUND"},
		{"no service", domain.ErrServiceNotProvisioned, http.StatusNotFound, "SERVICE_NOT_PROVISIONED"},
		{"runtime secret", domain.ErrRuntimeSecretMissing, http.StatusNotFound, "RUNTIME_SECRET_MISSING"},
		{"channel user", domain.ErrChannelUserMissing, http.StatusNotFound, "CHANNEL_USER_MISSING"},
		{"job", domain.ErrJobNotFound, http.StatusNotFound, "JOB_NOT_FOUND"},
		{"transition", domain.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
		{"inactive", domain.ErrSubscriptionInactive, http.StatusPaymentRequired, "SUBSCRIPTION_INACTIVE"},
		{"quota", domain.ErrQuotaExceeded, http.StatusForbidden, "QUOTA_EXCEEDED"},
		{"handshake", domain.ErrHandshakeTimeout, http.StatusGatewayTimeout, "HANDSHAKE_TIMEOUT"},
		{"provisioning", domain.ErrProvisioning, http.StatusBadGateway, "PROVISIONING_FAILED"},
		{"mismatch", domain.ErrModelProviderMismatch, http.StatusUnprocessableEntity, "MODEL_PROVIDER_MISMATCH"},
		{"unknown provider", domain.ErrUnknownProvider, http.StatusUnprocessableEntity, "UNKNOWN_PROVIDER"},
		{"missing field", domain.ErrMissingField, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"decrypt", domain.ErrDecrypt, http.StatusInternalServerError, "DECRYPT_FAILED"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _ := MapDomainError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestMapDomainError_HidesInternals(t *testing.T) {
	_, _, message := MapDomainError(errors.New("pq: connection refused to 10.0.0.1"))
	assert.Equal(t, "Internal server error", message)

	_, _, message = MapDomainError(fmt.Errorf("%w: cipher: message authentication failed", domain.ErrDecrypt))
	assert.NotContains(t, message, "cipher")
}
