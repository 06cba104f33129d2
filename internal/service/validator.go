package service

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mtlprog/agentdeploy/internal/domain"
)

// Status sets accepted by each guarded command.
var (
	configurableFrom = []domain.AgentStatus{domain.AgentStatusDraft, domain.AgentStatusConfigured}
	deployableFrom   = []domain.AgentStatus{domain.AgentStatusConfigured, domain.AgentStatusStopped, domain.AgentStatusFailed}
	finalizableFrom  = []domain.AgentStatus{domain.AgentStatusDeploying, domain.AgentStatusRunning}
	stoppableFrom    = []domain.AgentStatus{domain.AgentStatusRunning, domain.AgentStatusDeploying}
	deployingOnly    = []domain.AgentStatus{domain.AgentStatusDeploying}
)

const maxAgentNameChars = 100

// Validator checks command preconditions against the current agent state.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// CanCreate validates the fields of a new agent.
func (v *Validator) CanCreate(name, model string, channel domain.Channel) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name", domain.ErrMissingField)
	}
	if len([]rune(name)) > maxAgentNameChars {
		return fmt.Errorf("%w: name exceeds %d characters", domain.ErrValidation, maxAgentNameChars)
	}
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("%w: model", domain.ErrMissingField)
	}
	if channel != domain.ChannelTelegram {
		return fmt.Errorf("%w: %q", domain.ErrInvalidChannel, channel)
	}
	return nil
}

// CanConfigure validates a credential update. Any status but DEPLOYING accepts one.
func (v *Validator) CanConfigure(agent *domain.Agent, in ConfigureInput) error {
	if agent.Status == domain.AgentStatusDeploying {
		return fmt.Errorf("%w: agent %s is deploying, wait for it to finish before reconfiguring",
			domain.ErrInvalidTransition, agent.ID)
	}
	if in.Provider == "" {
		return fmt.Errorf("%w: provider", domain.ErrMissingField)
	}
	if strings.TrimSpace(in.APIKey) == "" {
		return fmt.Errorf("%w: api key", domain.ErrMissingField)
	}
	if strings.TrimSpace(in.ChannelToken) == "" {
		return fmt.Errorf("%w: channel token", domain.ErrMissingField)
	}
	return domain.ValidateModelProvider(in.Provider, agent.Model)
}

// CanDeploy validates that an agent can be provisioned. secret is nil when
// the agent was never configured.
func (v *Validator) CanDeploy(agent *domain.Agent, secret *domain.AgentSecret) error {
	if !slices.Contains(deployableFrom, agent.Status) {
		return fmt.Errorf("%w: agent %s is in %s status, expected one of %v",
			domain.ErrInvalidTransition, agent.ID, agent.Status, deployableFrom)
	}
	if secret == nil || secret.ChannelUserID == "" {
		return fmt.Errorf("%w: configure the agent with a channel user id before deploying", domain.ErrChannelUserMissing)
	}
	return nil
}

// CanFinalize validates that the setup handshake can run.
func (v *Validator) CanFinalize(agent *domain.Agent, secret *domain.AgentSecret) error {
	if !slices.Contains(finalizableFrom, agent.Status) {
		return fmt.Errorf("%w: agent %s is in %s status, expected one of %v",
			domain.ErrInvalidTransition, agent.ID, agent.Status, finalizableFrom)
	}
	if !agent.HasService() {
		return fmt.Errorf("%w: agent %s", domain.ErrServiceNotProvisioned, agent.ID)
	}
	if secret == nil || secret.SetupPassword == nil {
		return fmt.Errorf("%w: setup password for agent %s", domain.ErrRuntimeSecretMissing, agent.ID)
	}
	if secret.ChannelUserID == "" {
		return domain.ErrChannelUserMissing
	}
	return nil
}

// CanRestart validates that the agent has a service to restart.
func (v *Validator) CanRestart(agent *domain.Agent) error {
	if !agent.HasService() {
		return fmt.Errorf("%w: agent %s is not deployed yet", domain.ErrServiceNotProvisioned, agent.ID)
	}
	return nil
}
