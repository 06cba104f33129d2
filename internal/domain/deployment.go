package domain

import "time"

// DeploymentOutcome is the result recorded for one provisioning or finalize attempt.
type DeploymentOutcome string

const (
	DeploymentStarted DeploymentOutcome = "started"
	DeploymentSuccess DeploymentOutcome = "success"
	DeploymentFailed  DeploymentOutcome = "failed"
)

// Deployment is an immutable audit log entry for an agent.
type Deployment struct {
	ID        string
	AgentID   string
	Outcome   DeploymentOutcome
	Logs      string
	CreatedAt time.Time
}
