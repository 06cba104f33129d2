package gateway

import (
	"context"
	"fmt"

	"github.com/mtlprog/agentdeploy/internal/domain"
)

// Stub stands in for the provider when no credentials are configured.
// Deploys succeed with a placeholder reference; finalize cannot succeed
// because there is no workload to talk to.
type Stub struct{}

// NewStub creates a Stub gateway.
func NewStub() *Stub {
	return &Stub{}
}

func (s *Stub) Deploy(_ context.Context, req DeployRequest) (*DeployResult, error) {
	return &DeployResult{
		ServiceRef: stubRefPrefix + req.AgentID,
		Logs:       "Railway API token/project/environment not set. Stub mode.",
	}, nil
}

func (s *Stub) Finalize(_ context.Context, req FinalizeRequest) (*FinalizeResult, error) {
	return nil, fmt.Errorf("%w: stub mode cannot finalize service %s, configure Railway credentials",
		domain.ErrProvisioning, req.ServiceRef)
}

func (s *Stub) Restart(context.Context, string) error { return nil }

func (s *Stub) DeleteService(context.Context, string) error { return nil }
