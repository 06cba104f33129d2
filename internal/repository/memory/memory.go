// Package memory is an in-process implementation of the agent store.
// It mirrors the PostgreSQL repositories, including the guarded status
// update and cascading deletes, and backs tests and local runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtlprog/agentdeploy/internal/domain"
)

// Store holds every table behind one lock.
type Store struct {
	mu            sync.Mutex
	now           func() time.Time
	last          time.Time
	agents        map[string]domain.Agent
	secrets       map[string]domain.AgentSecret // keyed by agent id
	deployments   []domain.Deployment
	subscriptions []domain.Subscription
	payments      []domain.Payment
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		now:     time.Now,
		agents:  make(map[string]domain.Agent),
		secrets: make(map[string]domain.AgentSecret),
	}
}

// tick returns a strictly increasing timestamp so that "newest first"
// ordering is stable even within one clock tick.
func (s *Store) tick() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

// Agents returns the agent repository view.
func (s *Store) Agents() *AgentRepository { return &AgentRepository{s} }

// Secrets returns the secret repository view.
func (s *Store) Secrets() *SecretRepository { return &SecretRepository{s} }

// Deployments returns the deployment repository view.
func (s *Store) Deployments() *DeploymentRepository { return &DeploymentRepository{s} }

// Subscriptions returns the subscription repository view.
func (s *Store) Subscriptions() *SubscriptionRepository { return &SubscriptionRepository{s} }

// Payments returns the payment repository view.
func (s *Store) Payments() *PaymentRepository { return &PaymentRepository{s} }

// AgentRepository is the in-memory agent table.
type AgentRepository struct{ s *Store }

func (r *AgentRepository) Create(_ context.Context, agent *domain.Agent) (*domain.Agent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if agent.Status == "" {
		agent.Status = domain.AgentStatusDraft
	}
	if agent.Channel == "" {
		agent.Channel = domain.ChannelTelegram
	}
	agent.ID = uuid.NewString()
	agent.CreatedAt = r.s.tick()
	agent.UpdatedAt = agent.CreatedAt
	r.s.agents[agent.ID] = cloneAgent(*agent)
	return agent, nil
}

func (r *AgentRepository) GetByID(_ context.Context, agentID string) (*domain.Agent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	agent, ok := r.s.agents[agentID]
	if !ok {
		return nil, domain.ErrAgentNotFound
	}
	out := cloneAgent(agent)
	return &out, nil
}

func (r *AgentRepository) ListByOwner(_ context.Context, ownerID string) ([]*domain.Agent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var agents []*domain.Agent
	for _, a := range r.s.agents {
		if a.OwnerID == ownerID {
			out := cloneAgent(a)
			agents = append(agents, &out)
		}
	}
	sort.SliceStable(agents, func(i, j int) bool {
		return agents[i].CreatedAt.After(agents[j].CreatedAt)
	})
	return agents, nil
}

func (r *AgentRepository) CountByOwner(_ context.Context, ownerID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	count := 0
	for _, a := range r.s.agents {
		if a.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

func (r *AgentRepository) UpdateStatus(_ context.Context, change domain.StatusChange) (*domain.Agent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if !change.To.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, change.To)
	}
	agent, ok := r.s.agents[change.AgentID]
	if !ok || !slices.Contains(change.From, agent.Status) {
		return nil, fmt.Errorf("%w: agent %s is not in %v", domain.ErrInvalidTransition, change.AgentID, change.From)
	}

	agent.Status = change.To
	if change.ServiceRef != nil {
		agent.ServiceRef = ptr(*change.ServiceRef)
	}
	if change.Endpoint != nil {
		agent.Endpoint = ptr(*change.Endpoint)
	}
	agent.UpdatedAt = r.s.tick()
	r.s.agents[agent.ID] = agent

	out := cloneAgent(agent)
	return &out, nil
}

func (r *AgentRepository) AttachService(_ context.Context, agentID, serviceRef, endpoint string) (*domain.Agent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	agent, ok := r.s.agents[agentID]
	if !ok {
		return nil, domain.ErrAgentNotFound
	}
	agent.ServiceRef = ptr(serviceRef)
	agent.Endpoint = ptr(endpoint)
	agent.UpdatedAt = r.s.tick()
	r.s.agents[agentID] = agent

	out := cloneAgent(agent)
	return &out, nil
}

func (r *AgentRepository) Delete(_ context.Context, agentID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.agents[agentID]; !ok {
		return domain.ErrAgentNotFound
	}
	delete(r.s.agents, agentID)
	delete(r.s.secrets, agentID)
	r.s.deployments = slices.DeleteFunc(r.s.deployments, func(d domain.Deployment) bool {
		return d.AgentID == agentID
	})
	return nil
}

// SecretRepository is the in-memory agent_secrets table.
type SecretRepository struct{ s *Store }

func (r *SecretRepository) Save(_ context.Context, secret *domain.AgentSecret) (*domain.AgentSecret, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.agents[secret.AgentID]; !ok {
		return nil, domain.ErrAgentNotFound
	}
	stored := cloneSecret(*secret)
	stored.SetupPassword, stored.GatewayToken = nil, nil
	if prev, ok := r.s.secrets[secret.AgentID]; ok {
		stored.ID = prev.ID
		stored.SetupPassword = prev.SetupPassword
		stored.GatewayToken = prev.GatewayToken
	} else {
		stored.ID = uuid.NewString()
	}
	stored.CreatedAt = r.s.tick()
	r.s.secrets[secret.AgentID] = stored

	out := cloneSecret(stored)
	return &out, nil
}

func (r *SecretRepository) GetByAgentID(_ context.Context, agentID string) (*domain.AgentSecret, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	secret, ok := r.s.secrets[agentID]
	if !ok {
		return nil, domain.ErrSecretNotFound
	}
	out := cloneSecret(secret)
	return &out, nil
}

func (r *SecretRepository) UpdateRuntimeSecrets(_ context.Context, agentID, setupPassword, gatewayToken string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	secret, ok := r.s.secrets[agentID]
	if !ok {
		return domain.ErrSecretNotFound
	}
	secret.SetupPassword = ptr(setupPassword)
	secret.GatewayToken = ptr(gatewayToken)
	r.s.secrets[agentID] = secret
	return nil
}

// DeploymentRepository is the in-memory deployment log.
type DeploymentRepository struct{ s *Store }

func (r *DeploymentRepository) Create(_ context.Context, d *domain.Deployment) (*domain.Deployment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.agents[d.AgentID]; !ok {
		return nil, domain.ErrAgentNotFound
	}
	d.ID = uuid.NewString()
	d.CreatedAt = r.s.tick()
	r.s.deployments = append(r.s.deployments, *d)
	return d, nil
}

func (r *DeploymentRepository) Latest(_ context.Context, agentID string) (*domain.Deployment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for i := len(r.s.deployments) - 1; i >= 0; i-- {
		if r.s.deployments[i].AgentID == agentID {
			d := r.s.deployments[i]
			return &d, nil
		}
	}
	return nil, domain.ErrDeploymentNotFound
}

func (r *DeploymentRepository) ListByAgent(_ context.Context, agentID string, limit int) ([]*domain.Deployment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Deployment
	for i := len(r.s.deployments) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if r.s.deployments[i].AgentID == agentID {
			d := r.s.deployments[i]
			out = append(out, &d)
		}
	}
	return out, nil
}

// SubscriptionRepository is the in-memory subscriptions table.
type SubscriptionRepository struct{ s *Store }

func (r *SubscriptionRepository) Create(_ context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.subscriptions {
		if existing.ExternalRef == sub.ExternalRef {
			return nil, fmt.Errorf("create subscription: duplicate external ref %q", sub.ExternalRef)
		}
	}
	sub.ID = uuid.NewString()
	sub.CreatedAt = r.s.tick()
	sub.UpdatedAt = sub.CreatedAt
	r.s.subscriptions = append(r.s.subscriptions, cloneSubscription(*sub))
	return sub, nil
}

func (r *SubscriptionRepository) GetLatestByOwner(_ context.Context, ownerID string) (*domain.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for i := len(r.s.subscriptions) - 1; i >= 0; i-- {
		if r.s.subscriptions[i].OwnerID == ownerID {
			out := cloneSubscription(r.s.subscriptions[i])
			return &out, nil
		}
	}
	return nil, domain.ErrSubscriptionNotFound
}

func (r *SubscriptionRepository) GetByExternalRef(_ context.Context, externalRef string) (*domain.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, sub := range r.s.subscriptions {
		if sub.ExternalRef == externalRef {
			out := cloneSubscription(sub)
			return &out, nil
		}
	}
	return nil, domain.ErrSubscriptionNotFound
}

func (r *SubscriptionRepository) UpdateStatus(
	_ context.Context,
	externalRef string,
	status domain.SubscriptionStatus,
	nextBillingDate *time.Time,
) (*domain.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for i := range r.s.subscriptions {
		sub := &r.s.subscriptions[i]
		if sub.ExternalRef != externalRef {
			continue
		}
		sub.Status = status
		if nextBillingDate != nil {
			sub.NextBillingDate = ptr(*nextBillingDate)
		}
		sub.UpdatedAt = r.s.tick()
		out := cloneSubscription(*sub)
		return &out, nil
	}
	return nil, domain.ErrSubscriptionNotFound
}

func (r *SubscriptionRepository) ListOverdue(_ context.Context, before time.Time) ([]*domain.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Subscription
	for _, sub := range r.s.subscriptions {
		if sub.Status.KeepsAgentsAlive() && sub.NextBillingDate != nil && sub.NextBillingDate.Before(before) {
			c := cloneSubscription(sub)
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NextBillingDate.Before(*out[j].NextBillingDate)
	})
	return out, nil
}

// PaymentRepository is the in-memory payments table.
type PaymentRepository struct{ s *Store }

func (r *PaymentRepository) Create(_ context.Context, p *domain.Payment) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.payments {
		if existing.TransactionID == p.TransactionID {
			return nil, fmt.Errorf("create payment: duplicate transaction %q", p.TransactionID)
		}
	}
	p.ID = uuid.NewString()
	p.CreatedAt = r.s.tick()
	r.s.payments = append(r.s.payments, *p)
	return p, nil
}

func (r *PaymentRepository) GetByTransactionID(_ context.Context, transactionID string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, p := range r.s.payments {
		if p.TransactionID == transactionID {
			return &p, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (r *PaymentRepository) UpdateStatus(_ context.Context, transactionID, status string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for i := range r.s.payments {
		if r.s.payments[i].TransactionID == transactionID {
			r.s.payments[i].Status = status
			return nil
		}
	}
	return domain.ErrPaymentNotFound
}

func (r *PaymentRepository) ListByOwner(_ context.Context, ownerID string, limit int) ([]*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Payment
	for i := len(r.s.payments) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if r.s.payments[i].OwnerID == ownerID {
			p := r.s.payments[i]
			out = append(out, &p)
		}
	}
	return out, nil
}

func (r *PaymentRepository) LatestApproved(_ context.Context, ownerID string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for i := len(r.s.payments) - 1; i >= 0; i-- {
		p := r.s.payments[i]
		if p.OwnerID == ownerID && p.Status == domain.PaymentStatusApproved {
			return &p, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func ptr[T any](v T) *T { return &v }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return ptr(*p)
}

func cloneAgent(a domain.Agent) domain.Agent {
	a.ServiceRef = clonePtr(a.ServiceRef)
	a.Endpoint = clonePtr(a.Endpoint)
	return a
}

func cloneSecret(s domain.AgentSecret) domain.AgentSecret {
	s.ChannelChatID = clonePtr(s.ChannelChatID)
	s.SetupPassword = clonePtr(s.SetupPassword)
	s.GatewayToken = clonePtr(s.GatewayToken)
	return s
}

func cloneSubscription(s domain.Subscription) domain.Subscription {
	s.NextBillingDate = clonePtr(s.NextBillingDate)
	return s
}
