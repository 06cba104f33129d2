package domain

import "time"

// AgentStatus represents the lifecycle status of an agent.
type AgentStatus string

const (
	AgentStatusDraft      AgentStatus = "DRAFT"
	AgentStatusConfigured AgentStatus = "CONFIGURED"
	AgentStatusDeploying  AgentStatus = "DEPLOYING"
	AgentStatusRunning    AgentStatus = "RUNNING"
	AgentStatusFailed     AgentStatus = "FAILED"
	AgentStatusStopped    AgentStatus = "STOPPED"
)

// IsValid checks if the status is one of the allowed values.
func (s AgentStatus) IsValid() bool {
	switch s {
	case AgentStatusDraft, AgentStatusConfigured, AgentStatusDeploying,
		AgentStatusRunning, AgentStatusFailed, AgentStatusStopped:
		return true
	default:
		return false
	}
}

// IsActive returns true if the agent holds (or is acquiring) remote resources.
func (s AgentStatus) IsActive() bool {
	return s == AgentStatusDeploying || s == AgentStatusRunning
}

// transitions lists every allowed status edge, self-edges included.
var transitions = map[AgentStatus][]AgentStatus{
	AgentStatusDraft:      {AgentStatusConfigured},
	AgentStatusConfigured: {AgentStatusConfigured, AgentStatusDeploying},
	AgentStatusDeploying:  {AgentStatusDeploying, AgentStatusRunning, AgentStatusFailed, AgentStatusStopped},
	AgentStatusRunning:    {AgentStatusRunning, AgentStatusDeploying, AgentStatusFailed, AgentStatusStopped},
	AgentStatusStopped:    {AgentStatusDeploying},
	AgentStatusFailed:     {AgentStatusDeploying},
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to AgentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Channel is the messaging channel a deployed agent talks on.
type Channel string

const (
	ChannelTelegram Channel = "telegram"
)

// Agent represents a user's deployable automation workload.
type Agent struct {
	ID         string
	OwnerID    string
	Name       string
	Model      string
	Channel    Channel
	Status     AgentStatus
	ServiceRef *string // infra provider service id, set after provisioning
	Endpoint   *string // public domain of the deployed workload
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsOwnedBy checks if the agent belongs to the given owner.
func (a *Agent) IsOwnedBy(ownerID string) bool {
	return a.OwnerID == ownerID
}

// HasService returns true if provisioning produced a service reference.
func (a *Agent) HasService() bool {
	return a.ServiceRef != nil && *a.ServiceRef != ""
}

// StatusChange describes a guarded status write.
// The write only applies if the agent's current status is one of From.
type StatusChange struct {
	AgentID    string
	From       []AgentStatus
	To         AgentStatus
	ServiceRef *string // nil keeps the stored value
	Endpoint   *string // nil keeps the stored value
}
