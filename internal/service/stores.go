package service

import (
	"context"
	"time"

	"github.com/mtlprog/agentdeploy/internal/domain"
)

// AgentStore persists agents. UpdateStatus must apply the change only when
// the stored status is one of change.From and report ErrInvalidTransition otherwise.
// AttachService records a provisioned service whatever the current status is.
type AgentStore interface {
	Create(ctx context.Context, agent *domain.Agent) (*domain.Agent, error)
	GetByID(ctx context.Context, agentID string) (*domain.Agent, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Agent, error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)
	UpdateStatus(ctx context.Context, change domain.StatusChange) (*domain.Agent, error)
	AttachService(ctx context.Context, agentID, serviceRef, endpoint string) (*domain.Agent, error)
	Delete(ctx context.Context, agentID string) error
}

// SecretStore persists the encrypted credential set of each agent. Save
// never touches the runtime secrets; only UpdateRuntimeSecrets writes them.
type SecretStore interface {
	Save(ctx context.Context, secret *domain.AgentSecret) (*domain.AgentSecret, error)
	GetByAgentID(ctx context.Context, agentID string) (*domain.AgentSecret, error)
	UpdateRuntimeSecrets(ctx context.Context, agentID, setupPassword, gatewayToken string) error
}

// DeploymentStore is the append-only deployment log.
type DeploymentStore interface {
	Create(ctx context.Context, d *domain.Deployment) (*domain.Deployment, error)
	Latest(ctx context.Context, agentID string) (*domain.Deployment, error)
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*domain.Deployment, error)
}

// SubscriptionStore persists billing subscriptions.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)
	GetLatestByOwner(ctx context.Context, ownerID string) (*domain.Subscription, error)
	GetByExternalRef(ctx context.Context, externalRef string) (*domain.Subscription, error)
	UpdateStatus(ctx context.Context, externalRef string, status domain.SubscriptionStatus, nextBillingDate *time.Time) (*domain.Subscription, error)
	ListOverdue(ctx context.Context, before time.Time) ([]*domain.Subscription, error)
}

// PaymentStore persists payments seen through billing webhooks.
type PaymentStore interface {
	Create(ctx context.Context, p *domain.Payment) (*domain.Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)
	UpdateStatus(ctx context.Context, transactionID, status string) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*domain.Payment, error)
	LatestApproved(ctx context.Context, ownerID string) (*domain.Payment, error)
}

// Cipher seals credential fields at rest. *vault.Vault satisfies it.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(sealed string) (string, error)
	EncryptOptional(plaintext *string) (*string, error)
	DecryptOptional(sealed *string) (*string, error)
}

// TransitionRecorder observes status changes. *metrics.Metrics satisfies it.
type TransitionRecorder interface {
	Transition(from, to string)
}

// BillingEventRecorder observes webhook handling. *metrics.Metrics satisfies it.
type BillingEventRecorder interface {
	BillingEvent(eventType, result string)
}

type nopRecorder struct{}

func (nopRecorder) Transition(string, string)   {}
func (nopRecorder) BillingEvent(string, string) {}
