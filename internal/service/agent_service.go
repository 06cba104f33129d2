package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/mtlprog/agentdeploy/internal/domain"
	"github.com/mtlprog/agentdeploy/internal/gateway"
)

const (
	noLogsMessage      = "No logs available"
	deployStartedLog   = "Deploy started"
	restartTriggered   = "Restart triggered"
	deploymentsPerPage = 50
)

// AgentServiceDeps lists the collaborators of AgentService.
type AgentServiceDeps struct {
	Agents        AgentStore
	Secrets       SecretStore
	Deployments   DeploymentStore
	Subscriptions SubscriptionStore
	Cipher        Cipher
	Gateway       gateway.DeploymentGateway
	Metrics       TransitionRecorder // optional
}

// AgentService drives agents through their lifecycle. It is the only writer of agent status.
type AgentService struct {
	agents        AgentStore
	secrets       SecretStore
	deployments   DeploymentStore
	subscriptions SubscriptionStore
	cipher        Cipher
	gateway       gateway.DeploymentGateway
	metrics       TransitionRecorder
	validator     *Validator
}

// NewAgentService creates a new AgentService.
func NewAgentService(deps AgentServiceDeps) *AgentService {
	var recorder TransitionRecorder = nopRecorder{}
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}
	return &AgentService{
		agents:        deps.Agents,
		secrets:       deps.Secrets,
		deployments:   deps.Deployments,
		subscriptions: deps.Subscriptions,
		cipher:        deps.Cipher,
		gateway:       deps.Gateway,
		metrics:       recorder,
		validator:     NewValidator(),
	}
}

// CreateAgentInput holds the fields of a new agent.
type CreateAgentInput struct {
	Name    string
	Model   string
	Channel domain.Channel
}

// ConfigureInput holds plaintext credentials; they are sealed before storage.
type ConfigureInput struct {
	Provider      domain.Provider
	APIKey        string
	ChannelToken  string
	ChannelUserID string
	ChannelChatID *string
}

// getOwnedAgent fetches an agent and hides agents of other owners.
func (s *AgentService) getOwnedAgent(ctx context.Context, ownerID, agentID string) (*domain.Agent, error) {
	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.IsOwnedBy(ownerID) {
		return nil, domain.ErrAgentNotFound
	}
	return agent, nil
}

// transition applies a guarded status change and records it. Every source
// status of the change must be a lifecycle edge to change.To.
func (s *AgentService) transition(ctx context.Context, from domain.AgentStatus, change domain.StatusChange) (*domain.Agent, error) {
	for _, source := range change.From {
		if !domain.CanTransition(source, change.To) {
			return nil, fmt.Errorf("%w: %s -> %s is not a lifecycle edge", domain.ErrInvalidTransition, source, change.To)
		}
	}
	agent, err := s.agents.UpdateStatus(ctx, change)
	if err != nil {
		return nil, err
	}
	s.metrics.Transition(string(from), string(change.To))
	return agent, nil
}

// optionalSecret returns the agent's secret, or nil if it was never configured.
func (s *AgentService) optionalSecret(ctx context.Context, agentID string) (*domain.AgentSecret, error) {
	secret, err := s.secrets.GetByAgentID(ctx, agentID)
	if errors.Is(err, domain.ErrSecretNotFound) {
		return nil, nil
	}
	return secret, err
}

// appendDeployment writes one audit row.
func (s *AgentService) appendDeployment(ctx context.Context, agentID string, outcome domain.DeploymentOutcome, logs string) error {
	_, err := s.deployments.Create(ctx, &domain.Deployment{
		AgentID: agentID,
		Outcome: outcome,
		Logs:    logs,
	})
	if err != nil {
		return fmt.Errorf("record %s deployment: %w", outcome, err)
	}
	return nil
}

// CreateAgent creates a DRAFT agent if the owner's subscription allows another one.
func (s *AgentService) CreateAgent(ctx context.Context, ownerID string, in CreateAgentInput) (*domain.Agent, error) {
	if in.Channel == "" {
		in.Channel = domain.ChannelTelegram
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Model = strings.TrimSpace(in.Model)
	if err := s.validator.CanCreate(in.Name, in.Model, in.Channel); err != nil {
		return nil, err
	}

	sub, err := s.subscriptions.GetLatestByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return nil, fmt.Errorf("%w: no subscription found", domain.ErrSubscriptionInactive)
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if sub.Status != domain.SubscriptionAuthorized {
		return nil, fmt.Errorf("%w: subscription is %s", domain.ErrSubscriptionInactive, sub.Status)
	}

	count, err := s.agents.CountByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("count agents: %w", err)
	}
	if count >= sub.MaxAgents {
		return nil, fmt.Errorf("%w: plan %s allows %d agents", domain.ErrQuotaExceeded, sub.PlanID, sub.MaxAgents)
	}

	agent, err := s.agents.Create(ctx, &domain.Agent{
		OwnerID: ownerID,
		Name:    in.Name,
		Model:   in.Model,
		Channel: in.Channel,
		Status:  domain.AgentStatusDraft,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("agent created",
		"agent_id", agent.ID,
		"owner_id", ownerID,
		"model", agent.Model,
	)
	return agent, nil
}

// GetAgent returns one of the owner's agents.
func (s *AgentService) GetAgent(ctx context.Context, ownerID, agentID string) (*domain.Agent, error) {
	return s.getOwnedAgent(ctx, ownerID, agentID)
}

// ListAgents returns the owner's agents, newest first.
func (s *AgentService) ListAgents(ctx context.Context, ownerID string) ([]*domain.Agent, error) {
	return s.agents.ListByOwner(ctx, ownerID)
}

// ConfigureAgent replaces the agent's credentials. The store keeps runtime
// secrets from an earlier deploy so finalize can be re-run without a redeploy.
func (s *AgentService) ConfigureAgent(ctx context.Context, ownerID, agentID string, in ConfigureInput) (*domain.Agent, error) {
	agent, err := s.getOwnedAgent(ctx, ownerID, agentID)
	if err != nil {
		return nil, err
	}
	in.Provider = domain.Provider(strings.ToLower(strings.TrimSpace(string(in.Provider))))
	if err := s.validator.CanConfigure(agent, in); err != nil {
		return nil, err
	}

	secret := &domain.AgentSecret{
		AgentID:  agent.ID,
		Provider: in.Provider,
	}
	if secret.EncryptedAPIKey, err = s.cipher.Encrypt(strings.TrimSpace(in.APIKey)); err != nil {
		return nil, fmt.Errorf("seal api key: %w", err)
	}
	if secret.ChannelToken, err = s.cipher.Encrypt(strings.TrimSpace(in.ChannelToken)); err != nil {
		return nil, fmt.Errorf("seal channel token: %w", err)
	}
	if userID := strings.TrimSpace(in.ChannelUserID); userID != "" {
		if secret.ChannelUserID, err = s.cipher.Encrypt(userID); err != nil {
			return nil, fmt.Errorf("seal channel user id: %w", err)
		}
	}
	var chatID *string
	if in.ChannelChatID != nil && strings.TrimSpace(*in.ChannelChatID) != "" {
		trimmed := strings.TrimSpace(*in.ChannelChatID)
		chatID = &trimmed
	}
	if secret.ChannelChatID, err = s.cipher.EncryptOptional(chatID); err != nil {
		return nil, fmt.Errorf("seal channel chat id: %w", err)
	}

	if _, err := s.secrets.Save(ctx, secret); err != nil {
		return nil, fmt.Errorf("save secret: %w", err)
	}

	if !slices.Contains(configurableFrom, agent.Status) {
		slog.Info("agent reconfigured in place", "agent_id", agent.ID, "status", agent.Status)
		return agent, nil
	}

	updated, err := s.transition(ctx, agent.Status, domain.StatusChange{
		AgentID: agent.ID,
		From:    configurableFrom,
		To:      domain.AgentStatusConfigured,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("agent configured", "agent_id", agent.ID, "provider", in.Provider)
	return updated, nil
}

// DeployAgent provisions the agent's workload. On provisioning failure the
// agent is moved to FAILED and returned together with an ErrProvisioning error.
func (s *AgentService) DeployAgent(ctx context.Context, ownerID, agentID string) (*domain.Agent, error) {
	agent, err := s.getOwnedAgent(ctx, ownerID, agentID)
	if err != nil {
		return nil, err
	}
	secret, err := s.optionalSecret(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.CanDeploy(agent, secret); err != nil {
		return nil, err
	}

	req, err := s.deployRequest(agent, secret)
	if err != nil {
		return nil, err
	}

	deploying, err := s.transition(ctx, agent.Status, domain.StatusChange{
		AgentID: agent.ID,
		From:    []domain.AgentStatus{agent.Status},
		To:      domain.AgentStatusDeploying,
	})
	if err != nil {
		return nil, err
	}

	// From here on every failure must leave the agent FAILED, not stuck in DEPLOYING.
	if err := s.storeRuntimeSecrets(ctx, agent.ID, &req); err != nil {
		return s.failDeploy(ctx, deploying, err)
	}
	if err := s.appendDeployment(ctx, agent.ID, domain.DeploymentStarted, deployStartedLog); err != nil {
		return s.failDeploy(ctx, deploying, err)
	}

	slog.Info("deploy started", "agent_id", agent.ID, "owner_id", ownerID)

	res, err := s.gateway.Deploy(ctx, req)
	if err != nil {
		return s.failDeploy(ctx, deploying, err)
	}

	// The remote service exists now. Its reference is recorded even if the
	// agent was stopped meanwhile, so delete can still tear it down.
	bookkeeping := context.WithoutCancel(ctx)
	updated, err := s.agents.AttachService(bookkeeping, agent.ID, res.ServiceRef, res.Endpoint)
	if err != nil {
		orphanErr := s.releaseOrphan(bookkeeping, agent.ID, res.ServiceRef, err)
		if errors.Is(err, domain.ErrAgentNotFound) {
			return nil, orphanErr
		}
		return s.failDeploy(bookkeeping, deploying, orphanErr)
	}
	if err := s.appendDeployment(bookkeeping, agent.ID, domain.DeploymentSuccess, res.Logs); err != nil {
		slog.Error("failed to record deploy success", "agent_id", agent.ID, "error", err)
	}

	if updated.Status != domain.AgentStatusDeploying {
		slog.Warn("agent left DEPLOYING while provisioning",
			"agent_id", agent.ID,
			"status", updated.Status,
			"service_ref", res.ServiceRef,
		)
	}
	slog.Info("deploy provisioned",
		"agent_id", agent.ID,
		"service_ref", res.ServiceRef,
		"endpoint", res.Endpoint,
	)
	return updated, nil
}

// releaseOrphan handles a provisioned service whose reference could not be
// recorded. A deleted agent leaves nothing to attach it to, so the service is
// torn down; otherwise the reference is logged for manual cleanup.
func (s *AgentService) releaseOrphan(ctx context.Context, agentID, serviceRef string, cause error) error {
	if errors.Is(cause, domain.ErrAgentNotFound) {
		if err := s.gateway.DeleteService(ctx, serviceRef); err != nil {
			slog.Error("failed to delete orphaned service",
				"agent_id", agentID,
				"service_ref", serviceRef,
				"error", err,
			)
		}
		return fmt.Errorf("agent removed during deploy: %w", cause)
	}
	slog.Error("failed to record provisioned service",
		"agent_id", agentID,
		"service_ref", serviceRef,
		"error", cause,
	)
	return fmt.Errorf("record service %s: %w", serviceRef, cause)
}

// deployRequest decrypts the stored credentials for the gateway.
func (s *AgentService) deployRequest(agent *domain.Agent, secret *domain.AgentSecret) (gateway.DeployRequest, error) {
	req := gateway.DeployRequest{
		AgentID:  agent.ID,
		Model:    agent.Model,
		Provider: secret.Provider,
	}
	var err error
	if req.APIKey, err = s.cipher.Decrypt(secret.EncryptedAPIKey); err != nil {
		return req, fmt.Errorf("open api key: %w", err)
	}
	if req.ChannelToken, err = s.cipher.Decrypt(secret.ChannelToken); err != nil {
		return req, fmt.Errorf("open channel token: %w", err)
	}
	if req.ChannelUserID, err = s.cipher.Decrypt(secret.ChannelUserID); err != nil {
		return req, fmt.Errorf("open channel user id: %w", err)
	}
	chatID, err := s.cipher.DecryptOptional(secret.ChannelChatID)
	if err != nil {
		return req, fmt.Errorf("open channel chat id: %w", err)
	}
	if chatID != nil {
		req.ChannelChatID = *chatID
	}
	return req, nil
}

// storeRuntimeSecrets generates fresh handshake secrets, seals and stores them.
func (s *AgentService) storeRuntimeSecrets(ctx context.Context, agentID string, req *gateway.DeployRequest) error {
	password, err := randomSecret(24, base64.RawURLEncoding.EncodeToString)
	if err != nil {
		return err
	}
	token, err := randomSecret(32, hex.EncodeToString)
	if err != nil {
		return err
	}

	sealedPassword, err := s.cipher.Encrypt(password)
	if err != nil {
		return fmt.Errorf("seal setup password: %w", err)
	}
	sealedToken, err := s.cipher.Encrypt(token)
	if err != nil {
		return fmt.Errorf("seal gateway token: %w", err)
	}
	if err := s.secrets.UpdateRuntimeSecrets(ctx, agentID, sealedPassword, sealedToken); err != nil {
		return fmt.Errorf("store runtime secrets: %w", err)
	}

	req.SetupPassword = password
	req.GatewayToken = token
	return nil
}

func randomSecret(n int, encode func([]byte) string) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return encode(buf), nil
}

// failDeploy records the failure and moves the agent to FAILED. Bookkeeping
// runs detached from the request so a cancelled client cannot strand the agent.
func (s *AgentService) failDeploy(ctx context.Context, agent *domain.Agent, cause error) (*domain.Agent, error) {
	ctx = context.WithoutCancel(ctx)

	slog.Error("deploy failed", "agent_id", agent.ID, "error", cause)

	if err := s.appendDeployment(ctx, agent.ID, domain.DeploymentFailed, cause.Error()); err != nil {
		slog.Error("failed to record deploy failure", "agent_id", agent.ID, "error", err)
	}

	failed, err := s.transition(ctx, domain.AgentStatusDeploying, domain.StatusChange{
		AgentID: agent.ID,
		From:    deployingOnly,
		To:      domain.AgentStatusFailed,
	})
	if err != nil {
		slog.Error("failed to mark agent failed", "agent_id", agent.ID, "error", err)
		failed = agent
	}

	if !errors.Is(cause, domain.ErrProvisioning) {
		cause = fmt.Errorf("%w: %w", domain.ErrProvisioning, cause)
	}
	return failed, cause
}

// FinalizePlan is a validated finalize request, ready to run.
type FinalizePlan struct {
	agent   *domain.Agent
	request gateway.FinalizeRequest
}

// AgentID returns the agent the plan finalizes.
func (p *FinalizePlan) AgentID() string {
	return p.agent.ID
}

// PrepareFinalize checks finalize preconditions and decrypts what the handshake needs.
func (s *AgentService) PrepareFinalize(ctx context.Context, ownerID, agentID string) (*FinalizePlan, error) {
	agent, err := s.getOwnedAgent(ctx, ownerID, agentID)
	if err != nil {
		return nil, err
	}
	secret, err := s.optionalSecret(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.CanFinalize(agent, secret); err != nil {
		return nil, err
	}

	req := gateway.FinalizeRequest{
		ServiceRef: *agent.ServiceRef,
		Provider:   secret.Provider,
	}
	if agent.Endpoint != nil {
		req.Endpoint = *agent.Endpoint
	}
	// Only qualified references override the template's default model.
	if strings.Contains(agent.Model, "/") {
		req.Model = agent.Model
	}
	if req.SetupPassword, err = s.cipher.Decrypt(*secret.SetupPassword); err != nil {
		return nil, fmt.Errorf("open setup password: %w", err)
	}
	if req.APIKey, err = s.cipher.Decrypt(secret.EncryptedAPIKey); err != nil {
		return nil, fmt.Errorf("open api key: %w", err)
	}
	if req.ChannelToken, err = s.cipher.Decrypt(secret.ChannelToken); err != nil {
		return nil, fmt.Errorf("open channel token: %w", err)
	}
	if req.ChannelUserID, err = s.cipher.Decrypt(secret.ChannelUserID); err != nil {
		return nil, fmt.Errorf("open channel user id: %w", err)
	}

	return &FinalizePlan{agent: agent, request: req}, nil
}

// RunFinalize performs the handshake of a prepared plan. A failed handshake
// is recorded and the status is left as is so finalize can be retried.
func (s *AgentService) RunFinalize(ctx context.Context, plan *FinalizePlan) (*domain.Agent, error) {
	agentID := plan.agent.ID

	res, err := s.gateway.Finalize(ctx, plan.request)
	if err != nil {
		slog.Error("finalize failed", "agent_id", agentID, "error", err)
		if recErr := s.appendDeployment(context.WithoutCancel(ctx), agentID, domain.DeploymentFailed, err.Error()); recErr != nil {
			slog.Error("failed to record finalize failure", "agent_id", agentID, "error", recErr)
		}
		return nil, err
	}

	bookkeeping := context.WithoutCancel(ctx)
	current, err := s.agents.GetByID(bookkeeping, agentID)
	if err != nil {
		return nil, err
	}
	updated, err := s.transition(bookkeeping, current.Status, domain.StatusChange{
		AgentID:  agentID,
		From:     finalizableFrom,
		To:       domain.AgentStatusRunning,
		Endpoint: &res.Endpoint,
	})
	if err != nil {
		// Typically the agent was stopped while the handshake ran.
		slog.Warn("finalized agent could not be marked running", "agent_id", agentID, "error", err)
		if recErr := s.appendDeployment(bookkeeping, agentID, domain.DeploymentFailed, err.Error()); recErr != nil {
			slog.Error("failed to record finalize failure", "agent_id", agentID, "error", recErr)
		}
		return nil, err
	}
	if err := s.appendDeployment(bookkeeping, agentID, domain.DeploymentSuccess, res.Logs); err != nil {
		slog.Error("failed to record finalize success", "agent_id", agentID, "error", err)
	}

	slog.Info("agent running", "agent_id", agentID, "endpoint", res.Endpoint)
	return updated, nil
}

// FinalizeSetup runs the setup handshake inline.
func (s *AgentService) FinalizeSetup(ctx context.Context, ownerID, agentID string) (*domain.Agent, error) {
	plan, err := s.PrepareFinalize(ctx, ownerID, agentID)
	if err != nil {
		return nil, err
	}
	return s.RunFinalize(ctx, plan)
}

// RestartAgent asks the provider to restart the agent's service. Status is unchanged.
func (s *AgentService) RestartAgent(ctx context.Context, ownerID, agentID string) (*domain.Agent, error) {
	agent, err := s.getOwnedAgent(ctx, ownerID, agentID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.CanRestart(agent); err != nil {
		return nil, err
	}

	if err := s.gateway.Restart(ctx, *agent.ServiceRef); err != nil {
		return nil, fmt.Errorf("restart service: %w", err)
	}
	if err := s.appendDeployment(ctx, agent.ID, domain.DeploymentSuccess, restartTriggered); err != nil {
		return nil, err
	}

	slog.Info("agent restarted", "agent_id", agent.ID, "service_ref", *agent.ServiceRef)
	return agent, nil
}

// GetLogs returns the logs of the agent's latest deployment record.
func (s *AgentService) GetLogs(ctx context.Context, ownerID, agentID string) (string, error) {
	if _, err := s.getOwnedAgent(ctx, ownerID, agentID); err != nil {
		return "", err
	}
	latest, err := s.deployments.Latest(ctx, agentID)
	if err != nil {
		if errors.Is(err, domain.ErrDeploymentNotFound) {
			return noLogsMessage, nil
		}
		return "", err
	}
	return latest.Logs, nil
}

// ListDeployments returns the agent's deployment records, newest first.
func (s *AgentService) ListDeployments(ctx context.Context, ownerID, agentID string) ([]*domain.Deployment, error) {
	if _, err := s.getOwnedAgent(ctx, ownerID, agentID); err != nil {
		return nil, err
	}
	return s.deployments.ListByAgent(ctx, agentID, deploymentsPerPage)
}

// GetGatewayToken returns the decrypted gateway token of the last deploy.
func (s *AgentService) GetGatewayToken(ctx context.Context, ownerID, agentID string) (string, error) {
	return s.runtimeSecret(ctx, ownerID, agentID, "gateway token", func(sec *domain.AgentSecret) *string {
		return sec.GatewayToken
	})
}

// GetSetupPassword returns the decrypted setup password of the last deploy.
func (s *AgentService) GetSetupPassword(ctx context.Context, ownerID, agentID string) (string, error) {
	return s.runtimeSecret(ctx, ownerID, agentID, "setup password", func(sec *domain.AgentSecret) *string {
		return sec.SetupPassword
	})
}

func (s *AgentService) runtimeSecret(
	ctx context.Context,
	ownerID, agentID, name string,
	field func(*domain.AgentSecret) *string,
) (string, error) {
	if _, err := s.getOwnedAgent(ctx, ownerID, agentID); err != nil {
		return "", err
	}
	secret, err := s.secrets.GetByAgentID(ctx, agentID)
	if err != nil {
		if errors.Is(err, domain.ErrSecretNotFound) {
			return "", fmt.Errorf("%w: %s", domain.ErrRuntimeSecretMissing, name)
		}
		return "", err
	}
	sealed := field(secret)
	if sealed == nil {
		return "", fmt.Errorf("%w: %s", domain.ErrRuntimeSecretMissing, name)
	}
	plain, err := s.cipher.Decrypt(*sealed)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", name, err)
	}
	return plain, nil
}

// DeleteAgent tears down the agent's service and removes the agent with its
// secret and deployment history. A teardown failure keeps the agent so the
// remote service is not orphaned.
func (s *AgentService) DeleteAgent(ctx context.Context, ownerID, agentID string) error {
	agent, err := s.getOwnedAgent(ctx, ownerID, agentID)
	if err != nil {
		return err
	}

	if agent.HasService() {
		if err := s.gateway.DeleteService(ctx, *agent.ServiceRef); err != nil {
			return fmt.Errorf("delete service: %w", err)
		}
	}
	if err := s.agents.Delete(ctx, agent.ID); err != nil {
		return err
	}

	slog.Info("agent deleted", "agent_id", agent.ID, "owner_id", ownerID)
	return nil
}

// StopAllAgents moves every RUNNING or DEPLOYING agent of the owner to STOPPED.
// Returns the number stopped, and an error if any agent failed.
func (s *AgentService) StopAllAgents(ctx context.Context, ownerID string) (int, error) {
	agents, err := s.agents.ListByOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("list agents: %w", err)
	}

	count := 0
	candidates := 0
	var errs []error
	for _, agent := range agents {
		if !agent.Status.IsActive() {
			continue
		}
		candidates++
		_, err := s.transition(ctx, agent.Status, domain.StatusChange{
			AgentID: agent.ID,
			From:    stoppableFrom,
			To:      domain.AgentStatusStopped,
		})
		if err != nil {
			slog.Error("failed to stop agent",
				"agent_id", agent.ID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("agent %s: %w", agent.ID, err))
			continue
		}
		count++
	}

	slog.Info("stopped owner agents",
		"owner_id", ownerID,
		"total", candidates,
		"stopped", count,
		"failed", len(errs),
	)

	if len(errs) > 0 {
		return count, fmt.Errorf("stopped %d/%d agents, %d failures: %w",
			count, candidates, len(errs), errors.Join(errs...))
	}
	return count, nil
}
