// Package gateway talks to the infrastructure provider that hosts agent
// workloads and to the workloads themselves during the setup handshake.
//
// The gateway is stateless: it never reads or writes the agent store.
// Callers persist whatever it returns.
package gateway

import (
	"context"
	"strings"

	"github.com/mtlprog/agentdeploy/internal/domain"
)

// DeploymentGateway provisions, configures and tears down agent workloads.
type DeploymentGateway interface {
	// Deploy creates the remote service and injects its configuration.
	Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error)
	// Finalize waits for the workload to come up and runs its setup flow.
	Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResult, error)
	// Restart forces the provider to redeploy the service.
	Restart(ctx context.Context, serviceRef string) error
	// DeleteService tears the remote service down.
	DeleteService(ctx context.Context, serviceRef string) error
}

// DeployRequest carries decrypted credentials for one provisioning run.
type DeployRequest struct {
	AgentID       string
	Model         string
	Provider      domain.Provider
	APIKey        string
	ChannelToken  string
	ChannelUserID string
	ChannelChatID string
	SetupPassword string
	GatewayToken  string
}

// DeployResult describes the provisioned service.
// Endpoint is empty when the provider did not hand out a public domain.
type DeployResult struct {
	ServiceRef string
	Endpoint   string
	Logs       string
}

// FinalizeRequest carries what the setup handshake needs.
type FinalizeRequest struct {
	ServiceRef    string
	Endpoint      string // empty means a domain must be created first
	SetupPassword string
	Provider      domain.Provider
	APIKey        string
	Model         string // optional override passed to the workload
	ChannelToken  string
	ChannelUserID string
}

// FinalizeResult is the confirmed endpoint and the handshake transcript.
type FinalizeResult struct {
	Endpoint string
	Logs     string
}

// StepRecorder receives one observation per provisioning step.
// *metrics.Metrics satisfies it.
type StepRecorder interface {
	GatewayStep(step, result string)
}

type nopRecorder struct{}

func (nopRecorder) GatewayStep(string, string) {}

const stubRefPrefix = "stub-"

// IsStubRef reports whether a service reference was issued in stub mode.
func IsStubRef(serviceRef string) bool {
	return strings.HasPrefix(serviceRef, stubRefPrefix)
}

// providerKeyVar is the provider specific variable the workload reads its API key from.
func providerKeyVar(p domain.Provider) string {
	switch p {
	case domain.ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case domain.ProviderGoogle:
		return "GEMINI_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// authChoice is the workload setup flow's name for the provider credential.
func authChoice(p domain.Provider) string {
	switch p {
	case domain.ProviderAnthropic:
		return "apiKey"
	case domain.ProviderGoogle:
		return "gemini-api-key"
	default:
		return "openai-api-key"
	}
}
