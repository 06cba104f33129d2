package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mtlprog/agentdeploy/internal/domain"
)

// DefaultRailwayAPIURL is the public GraphQL endpoint of the provider.
const DefaultRailwayAPIURL = "https://backboard.railway.app/graphql/v2"

// DefaultTemplateRepo is the repository new services are built from.
const DefaultTemplateRepo = "arjunkomath/openclaw-railway-template"

// RailwayConfig identifies the project and environment services are created in.
type RailwayConfig struct {
	APIURL        string
	Token         string
	ProjectID     string
	EnvironmentID string
	TemplateRepo  string
}

// Complete reports whether every credential needed to provision is set.
func (c RailwayConfig) Complete() bool {
	return c.Token != "" && c.ProjectID != "" && c.EnvironmentID != ""
}

// Railway provisions workloads through the Railway GraphQL API.
type Railway struct {
	cfg        RailwayConfig
	httpClient *http.Client
	handshake  *handshake
	runner     stepRunner
}

// NewRailway creates a Railway gateway. A nil recorder disables step metrics.
func NewRailway(cfg RailwayConfig, policy HandshakePolicy, recorder StepRecorder) *Railway {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultRailwayAPIURL
	}
	if cfg.TemplateRepo == "" {
		cfg.TemplateRepo = DefaultTemplateRepo
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Railway{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		handshake:  newHandshake(policy),
		runner:     stepRunner{recorder: recorder},
	}
}

// New returns a Railway gateway when the credentials are complete and a Stub otherwise.
func New(cfg RailwayConfig, policy HandshakePolicy, recorder StepRecorder) DeploymentGateway {
	if !cfg.Complete() {
		slog.Warn("railway credentials are not configured, running in stub mode")
		return NewStub()
	}
	return NewRailway(cfg, policy, recorder)
}

const (
	serviceCreateMutation = `mutation serviceCreate($input: ServiceCreateInput!) {
  serviceCreate(input: $input) { id }
}`
	volumeCreateMutation = `mutation volumeCreate($input: VolumeCreateInput!) {
  volumeCreate(input: $input) { name }
}`
	serviceDomainCreateMutation = `mutation serviceDomainCreate($input: ServiceDomainCreateInput!) {
  serviceDomainCreate(input: $input) { domain environmentId serviceId }
}`
	variableCollectionUpsertMutation = `mutation variableCollectionUpsert($input: VariableCollectionUpsertInput!) {
  variableCollectionUpsert(input: $input)
}`
	serviceInstanceRedeployMutation = `mutation serviceInstanceRedeploy($serviceId: String!, $environmentId: String!) {
  serviceInstanceRedeploy(serviceId: $serviceId, environmentId: $environmentId)
}`
	serviceDeleteMutation = `mutation serviceDelete($id: String!) {
  serviceDelete(id: $id)
}`
)

// Deploy creates the service from the template and configures it.
func (r *Railway) Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error) {
	st := &deployState{req: req}
	steps := []step{
		{name: "serviceCreate", required: true, run: r.createService},
		{name: "volumeCreate", run: r.createVolume},
		{name: "serviceDomainCreate", run: r.createDeployDomain},
		{name: "variableCollectionUpsert", required: true, run: r.upsertVariables},
		{name: "serviceInstanceRedeploy", run: r.redeploy},
	}

	logs, err := r.runner.run(ctx, steps, st)
	if err != nil {
		return nil, err
	}

	if st.endpoint != "" {
		logs = append(logs, "Public domain: https://"+st.endpoint)
	}
	slog.Info("service provisioned",
		"agent_id", req.AgentID,
		"service_ref", st.serviceID,
		"endpoint", st.endpoint,
	)

	return &DeployResult{
		ServiceRef: st.serviceID,
		Endpoint:   st.endpoint,
		Logs:       strings.Join(logs, "\n"),
	}, nil
}

func (r *Railway) createService(ctx context.Context, st *deployState) error {
	name, _, _ := strings.Cut(st.req.AgentID, "-")

	var out struct {
		ServiceCreate struct {
			ID string `json:"id"`
		} `json:"serviceCreate"`
	}
	err := r.graphql(ctx, "serviceCreate", serviceCreateMutation, map[string]any{
		"input": map[string]any{
			"projectId":     r.cfg.ProjectID,
			"environmentId": r.cfg.EnvironmentID,
			"name":          "OpenClaw - Agent " + name,
			"source":        map[string]string{"repo": r.cfg.TemplateRepo},
		},
	}, &out)
	if err != nil {
		return err
	}
	if out.ServiceCreate.ID == "" {
		return errors.New("railway serviceCreate: empty service id")
	}
	st.serviceID = out.ServiceCreate.ID
	return nil
}

func (r *Railway) createVolume(ctx context.Context, st *deployState) error {
	return r.graphql(ctx, "volumeCreate", volumeCreateMutation, map[string]any{
		"input": map[string]any{
			"projectId":     r.cfg.ProjectID,
			"environmentId": r.cfg.EnvironmentID,
			"serviceId":     st.serviceID,
			"mountPath":     "/data",
		},
	}, nil)
}

func (r *Railway) createDeployDomain(ctx context.Context, st *deployState) error {
	domainName, err := r.createDomain(ctx, "serviceDomainCreate", st.serviceID)
	if err != nil {
		return err
	}
	st.endpoint = domainName
	return nil
}

func (r *Railway) createDomain(ctx context.Context, label, serviceID string) (string, error) {
	var out struct {
		ServiceDomainCreate struct {
			Domain string `json:"domain"`
		} `json:"serviceDomainCreate"`
	}
	err := r.graphql(ctx, label, serviceDomainCreateMutation, map[string]any{
		"input": map[string]any{
			"environmentId": r.cfg.EnvironmentID,
			"serviceId":     serviceID,
		},
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ServiceDomainCreate.Domain, nil
}

// workloadVariables is the environment the template expects.
func workloadVariables(req DeployRequest) map[string]string {
	vars := map[string]string{
		"PORT":                   "8080",
		"SETUP_PASSWORD":         req.SetupPassword,
		"OPENCLAW_STATE_DIR":     "/data/.openclaw",
		"OPENCLAW_WORKSPACE_DIR": "/data/workspace",
		"OPENCLAW_GATEWAY_TOKEN": req.GatewayToken,
		"NODE_OPTIONS":           "--max-old-space-size=1024",
		"DEFAULT_MODEL":          req.Model,
		"MESSAGING_CHANNEL":      string(domain.ChannelTelegram),
		"PROVIDER_API_KEY":       req.APIKey,
		"TELEGRAM_BOT_TOKEN":     req.ChannelToken,
		"TELEGRAM_CHAT_ID":       req.ChannelChatID,
		"TELEGRAM_USER_ID":       req.ChannelUserID,
		"TELEGRAM_ALLOW_FROM":    req.ChannelUserID,
	}
	vars[providerKeyVar(req.Provider)] = req.APIKey
	return vars
}

func (r *Railway) upsertVariables(ctx context.Context, st *deployState) error {
	return r.setVariables(ctx, "variableCollectionUpsert", st.serviceID, workloadVariables(st.req))
}

func (r *Railway) setVariables(ctx context.Context, label, serviceID string, vars map[string]string) error {
	return r.graphql(ctx, label, variableCollectionUpsertMutation, map[string]any{
		"input": map[string]any{
			"projectId":     r.cfg.ProjectID,
			"environmentId": r.cfg.EnvironmentID,
			"serviceId":     serviceID,
			"variables":     vars,
		},
	}, nil)
}

func (r *Railway) redeploy(ctx context.Context, st *deployState) error {
	return r.graphql(ctx, "serviceInstanceRedeploy", serviceInstanceRedeployMutation, map[string]any{
		"serviceId":     st.serviceID,
		"environmentId": r.cfg.EnvironmentID,
	}, nil)
}

// Finalize ensures the service has a public domain and runs the setup handshake.
func (r *Railway) Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResult, error) {
	endpoint := req.Endpoint
	if endpoint == "" {
		created, err := r.createDomain(ctx, "serviceDomainCreate(finalize)", req.ServiceRef)
		if err != nil {
			return nil, fmt.Errorf("%w: create public domain: %w", domain.ErrProvisioning, err)
		}
		if created == "" {
			return nil, fmt.Errorf("%w: provider did not return a public domain, generate one in the Railway UI and finalize again",
				domain.ErrProvisioning)
		}
		endpoint = created
	}

	logs, err := r.handshake.run(ctx, endpoint, req)
	if err != nil {
		return nil, err
	}
	return &FinalizeResult{Endpoint: endpoint, Logs: logs}, nil
}

// Restart touches a variable so the provider redeploys the service.
func (r *Railway) Restart(ctx context.Context, serviceRef string) error {
	if serviceRef == "" {
		return domain.ErrServiceNotProvisioned
	}
	if IsStubRef(serviceRef) {
		return nil
	}
	err := r.setVariables(ctx, "restart", serviceRef, map[string]string{
		"RESTART_TRIGGER": strconv.FormatInt(time.Now().UnixMilli(), 10),
	})
	if err != nil {
		return fmt.Errorf("%w: restart: %w", domain.ErrProvisioning, err)
	}
	return nil
}

// DeleteService removes the service and everything attached to it.
func (r *Railway) DeleteService(ctx context.Context, serviceRef string) error {
	if serviceRef == "" || IsStubRef(serviceRef) {
		return nil
	}
	if err := r.graphql(ctx, "serviceDelete", serviceDeleteMutation, map[string]any{"id": serviceRef}, nil); err != nil {
		return fmt.Errorf("%w: delete service: %w", domain.ErrProvisioning, err)
	}
	return nil
}

var authErrorPattern = regexp.MustCompile(`(?i)not authorized|forbidden|unauthorized`)

type graphqlError struct {
	Message string `json:"message"`
	TraceID string `json:"traceId"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// graphql posts one operation and decodes its data into out (nil to discard).
func (r *Railway) graphql(ctx context.Context, label, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("railway %s: marshal request: %w", label, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("railway %s: create request: %w", label, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.cfg.Token)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("railway %s: http request: %w", label, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("railway %s: read response: %w", label, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("railway %s: HTTP %d %s", label, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var gr graphqlResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return fmt.Errorf("railway %s: parse response: %w", label, err)
	}
	if len(gr.Errors) > 0 {
		first := gr.Errors[0]
		msg := first.Message
		if msg == "" {
			msg = "GraphQL error"
		}
		if first.TraceID != "" {
			msg += " traceId=" + first.TraceID
		}
		if authErrorPattern.MatchString(first.Message) {
			return fmt.Errorf("railway %s: %s. RAILWAY_API_TOKEN must be a personal or team token, not a project token, "+
				"with permission to create services, volumes and domains", label, msg)
		}
		return fmt.Errorf("railway %s: %s", label, msg)
	}
	if len(gr.Data) == 0 || string(gr.Data) == "null" {
		return fmt.Errorf("railway %s: missing data in response", label)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("railway %s: parse data: %w", label, err)
	}
	return nil
}
