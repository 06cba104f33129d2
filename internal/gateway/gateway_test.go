package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mtlprog/agentdeploy/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() HandshakePolicy {
	return HandshakePolicy{
		ProbeTimeout:       time.Second,
		ReachInterval:      5 * time.Millisecond,
		ReachBudget:        100 * time.Millisecond,
		ConfigureAttempts:  5,
		ConfigureBaseDelay: time.Millisecond,
		ConfigureStepDelay: time.Millisecond,
		ReadyInterval:      5 * time.Millisecond,
		ReadyBudget:        50 * time.Millisecond,
	}
}

// fakeRailway answers GraphQL mutations by operation name.
type fakeRailway struct {
	mu       sync.Mutex
	calls    []string
	vars     map[string]map[string]any
	failOps  map[string]string
	domain   string
	lastAuth string
}

func newFakeRailway() *fakeRailway {
	return &fakeRailway{
		vars:    make(map[string]map[string]any),
		failOps: make(map[string]string),
		domain:  "agent.up.railway.app",
	}
}

func operationName(query string) string {
	fields := strings.Fields(query)
	if len(fields) < 2 {
		return ""
	}
	name, _, _ := strings.Cut(fields[1], "(")
	return name
}

func (f *fakeRailway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	op := operationName(body.Query)

	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.vars[op] = body.Variables
	f.lastAuth = r.Header.Get("Authorization")
	failMsg, fail := f.failOps[op]
	domainName := f.domain
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fail {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":   nil,
			"errors": []map[string]string{{"message": failMsg, "traceId": "t-1"}},
		})
		return
	}

	var data any
	switch op {
	case "serviceCreate":
		data = map[string]any{"serviceCreate": map[string]string{"id": "svc-1"}}
	case "volumeCreate":
		data = map[string]any{"volumeCreate": map[string]string{"name": "vol"}}
	case "serviceDomainCreate":
		data = map[string]any{"serviceDomainCreate": map[string]string{"domain": domainName}}
	case "variableCollectionUpsert":
		data = map[string]any{"variableCollectionUpsert": true}
	case "serviceInstanceRedeploy":
		data = map[string]any{"serviceInstanceRedeploy": true}
	case "serviceDelete":
		data = map[string]any{"serviceDelete": true}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func (f *fakeRailway) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRailway) auth() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

func (f *fakeRailway) variablesOf(op string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vars[op]
}

func newTestRailway(t *testing.T, fake *fakeRailway) *Railway {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewRailway(RailwayConfig{
		APIURL:        srv.URL,
		Token:         "tok",
		ProjectID:     "proj",
		EnvironmentID: "env",
	}, fastPolicy(), nil)
}

func deployRequest() DeployRequest {
	return DeployRequest{
		AgentID:       "1a2b3c4d-0000-0000-0000-000000000000",
		Model:         "claude-3-opus",
		Provider:      domain.ProviderAnthropic,
		APIKey:        "sk-ant",
		ChannelToken:  "123456789:token",
		ChannelUserID: "42",
		SetupPassword: "pw",
		GatewayToken:  "gt",
	}
}

func TestDeploy_AllStepsSucceed(t *testing.T) {
	fake := newFakeRailway()
	rw := newTestRailway(t, fake)

	res, err := rw.Deploy(context.Background(), deployRequest())
	require.NoError(t, err)

	assert.Equal(t, "svc-1", res.ServiceRef)
	assert.Equal(t, "agent.up.railway.app", res.Endpoint)
	assert.Equal(t, []string{
		"serviceCreate", "volumeCreate", "serviceDomainCreate",
		"variableCollectionUpsert", "serviceInstanceRedeploy",
	}, fake.called())
	assert.Equal(t, "Bearer tok", fake.auth())

	input := fake.variablesOf("serviceCreate")["input"].(map[string]any)
	assert.Equal(t, "OpenClaw - Agent 1a2b3c4d", input["name"])
	assert.Equal(t, map[string]any{"repo": DefaultTemplateRepo}, input["source"])

	vars := fake.variablesOf("variableCollectionUpsert")["input"].(map[string]any)["variables"].(map[string]any)
	assert.Equal(t, "8080", vars["PORT"])
	assert.Equal(t, "pw", vars["SETUP_PASSWORD"])
	assert.Equal(t, "gt", vars["OPENCLAW_GATEWAY_TOKEN"])
	assert.Equal(t, "sk-ant", vars["ANTHROPIC_API_KEY"])
	assert.Equal(t, "sk-ant", vars["PROVIDER_API_KEY"])
	assert.Equal(t, "42", vars["TELEGRAM_ALLOW_FROM"])
	assert.Equal(t, "", vars["TELEGRAM_CHAT_ID"])
	assert.NotContains(t, vars, "OPENAI_API_KEY")
}

func TestDeploy_BestEffortFailuresContinue(t *testing.T) {
	fake := newFakeRailway()
	fake.failOps["volumeCreate"] = "volume quota reached"
	fake.failOps["serviceDomainCreate"] = "domain limit"
	fake.failOps["serviceInstanceRedeploy"] = "busy"
	rw := newTestRailway(t, fake)

	res, err := rw.Deploy(context.Background(), deployRequest())
	require.NoError(t, err)

	assert.Equal(t, "svc-1", res.ServiceRef)
	assert.Empty(t, res.Endpoint)
	assert.Contains(t, res.Logs, "volumeCreate: failed (continuing)")
	assert.Contains(t, res.Logs, "serviceDomainCreate: failed (continuing)")
	assert.Contains(t, res.Logs, "variableCollectionUpsert: ok")
}

func TestDeploy_RequiredFailureAborts(t *testing.T) {
	fake := newFakeRailway()
	fake.failOps["variableCollectionUpsert"] = "bad input"
	rw := newTestRailway(t, fake)

	_, err := rw.Deploy(context.Background(), deployRequest())
	require.ErrorIs(t, err, domain.ErrProvisioning)
	assert.Contains(t, err.Error(), "variableCollectionUpsert")
	assert.NotContains(t, fake.called(), "serviceInstanceRedeploy")
}

func TestDeploy_AuthorizationErrorIsActionable(t *testing.T) {
	fake := newFakeRailway()
	fake.failOps["serviceCreate"] = "Not Authorized"
	rw := newTestRailway(t, fake)

	_, err := rw.Deploy(context.Background(), deployRequest())
	require.ErrorIs(t, err, domain.ErrProvisioning)
	assert.Contains(t, err.Error(), "personal or team token")
	assert.Contains(t, err.Error(), "traceId=t-1")
	assert.Equal(t, []string{"serviceCreate"}, fake.called())
}

func TestRestart_UpsertsTrigger(t *testing.T) {
	fake := newFakeRailway()
	rw := newTestRailway(t, fake)

	require.NoError(t, rw.Restart(context.Background(), "svc-1"))

	input := fake.variablesOf("variableCollectionUpsert")["input"].(map[string]any)
	assert.Equal(t, "svc-1", input["serviceId"])
	assert.Contains(t, input["variables"], "RESTART_TRIGGER")
}

func TestStubRefsNeverReachProvider(t *testing.T) {
	fake := newFakeRailway()
	rw := newTestRailway(t, fake)

	require.NoError(t, rw.Restart(context.Background(), "stub-abc"))
	require.NoError(t, rw.DeleteService(context.Background(), "stub-abc"))
	require.NoError(t, rw.DeleteService(context.Background(), ""))
	assert.Empty(t, fake.called())

	require.NoError(t, rw.DeleteService(context.Background(), "svc-1"))
	assert.Equal(t, []string{"serviceDelete"}, fake.called())
}

func TestNew_FallsBackToStub(t *testing.T) {
	gw := New(RailwayConfig{Token: "tok"}, fastPolicy(), nil)
	_, isStub := gw.(*Stub)
	assert.True(t, isStub)

	gw = New(RailwayConfig{Token: "tok", ProjectID: "p", EnvironmentID: "e"}, fastPolicy(), nil)
	_, isRailway := gw.(*Railway)
	assert.True(t, isRailway)
}

func TestStub(t *testing.T) {
	stub := NewStub()

	res, err := stub.Deploy(context.Background(), DeployRequest{AgentID: "a-1"})
	require.NoError(t, err)
	assert.Equal(t, "stub-a-1", res.ServiceRef)
	assert.True(t, IsStubRef(res.ServiceRef))

	_, err = stub.Finalize(context.Background(), FinalizeRequest{ServiceRef: res.ServiceRef})
	assert.ErrorIs(t, err, domain.ErrProvisioning)
}
