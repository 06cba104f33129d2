package domain

import (
	"errors"
	"fmt"
)

// Error classes. Specific errors below wrap one of these so callers can
// branch with errors.Is on the class.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrProvisioning      = errors.New("provisioning failed")
	ErrHandshakeTimeout  = errors.New("handshake timed out")
)

var (
	// Agent errors
	ErrAgentNotFound         = fmt.Errorf("agent %w", ErrNotFound)
	ErrSecretNotFound        = fmt.Errorf("agent secret %w", ErrNotFound)
	ErrServiceNotProvisioned = fmt.Errorf("agent service %w", ErrNotFound)
	ErrRuntimeSecretMissing  = fmt.Errorf("runtime secret %w", ErrNotFound)
	ErrChannelUserMissing    = fmt.Errorf("channel user id %w", ErrNotFound)
	ErrDeploymentNotFound    = fmt.Errorf("deployment %w", ErrNotFound)

	// Finalize job errors
	ErrJobNotFound = fmt.Errorf("finalize job %w", ErrNotFound)

	// Validation errors
	ErrUnknownProvider       = fmt.Errorf("%w: unknown provider", ErrValidation)
	ErrModelProviderMismatch = fmt.Errorf("%w: model does not match provider", ErrValidation)
	ErrInvalidChannel        = fmt.Errorf("%w: unsupported channel", ErrValidation)
	ErrMissingField          = fmt.Errorf("%w: required field missing", ErrValidation)

	// Billing errors
	ErrSubscriptionNotFound = fmt.Errorf("subscription %w", ErrNotFound)
	ErrSubscriptionInactive = errors.New("subscription is not active")
	ErrQuotaExceeded        = errors.New("agent quota exceeded")
	ErrPaymentNotFound      = fmt.Errorf("payment %w", ErrNotFound)

	// Vault errors
	ErrDecrypt = errors.New("decrypt secret")
)
