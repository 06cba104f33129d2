package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/agentdeploy/internal/billing"
	"github.com/mtlprog/agentdeploy/internal/domain"
	"github.com/mtlprog/agentdeploy/internal/gateway"
	"github.com/mtlprog/agentdeploy/internal/handler"
	"github.com/mtlprog/agentdeploy/internal/handler/dto"
	"github.com/mtlprog/agentdeploy/internal/middleware"
	"github.com/mtlprog/agentdeploy/internal/repository/memory"
	"github.com/mtlprog/agentdeploy/internal/service"
	"github.com/mtlprog/agentdeploy/internal/telegram"
	"github.com/mtlprog/agentdeploy/internal/vault"
	"github.com/mtlprog/agentdeploy/internal/worker"
)

const (
	webhookSecret = "whsec-test"
	botToken      = "123456789:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
)

type okPinger struct{ err error }

func (p okPinger) Ping(context.Context) error { return p.err }

type stubGateway struct {
	mu          sync.Mutex
	deployErr   error
	deployDelay time.Duration
}

func (g *stubGateway) Deploy(context.Context, gateway.DeployRequest) (*gateway.DeployResult, error) {
	g.mu.Lock()
	delay := g.deployDelay
	g.mu.Unlock()
	time.Sleep(delay)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deployErr != nil {
		return nil, g.deployErr
	}
	return &gateway.DeployResult{ServiceRef: "svc-1", Logs: "serviceCreate: ok"}, nil
}

func (g *stubGateway) Finalize(context.Context, gateway.FinalizeRequest) (*gateway.FinalizeResult, error) {
	return &gateway.FinalizeResult{Endpoint: "d.example.com", Logs: "Setup finalized for d.example.com."}, nil
}

func (g *stubGateway) Restart(context.Context, string) error { return nil }

func (g *stubGateway) DeleteService(context.Context, string) error { return nil }

type nopRequests struct{}

func (nopRequests) HTTPRequest(string, string, int, time.Duration) {}

type stubBillingAPI struct {
	mu           sync.Mutex
	preapprovals map[string]*billing.Preapproval
}

func (a *stubBillingAPI) GetPayment(_ context.Context, id string) (*billing.Payment, error) {
	return nil, fmt.Errorf("payment %s: 404", id)
}

func (a *stubBillingAPI) GetPreapproval(_ context.Context, id string) (*billing.Preapproval, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.preapprovals[id]
	if !ok {
		return nil, fmt.Errorf("preapproval %s: 404", id)
	}
	return p, nil
}

// HandlerTestSuite drives the HTTP API over an in-memory store.
type HandlerTestSuite struct {
	suite.Suite
	store    *memory.Store
	gw       *stubGateway
	api      *stubBillingAPI
	tg       *httptest.Server
	handler  *handler.Handler
	server   *httptest.Server
	worker   *worker.FinalizeWorker
	billing  *service.BillingReconciler
	owner    string
	stranger string
}

func (s *HandlerTestSuite) SetupTest() {
	ctx := context.Background()
	s.store = memory.New()
	s.gw = &stubGateway{}
	s.api = &stubBillingAPI{preapprovals: make(map[string]*billing.Preapproval)}

	v, err := vault.New("test-app-secret-0123456789")
	s.Require().NoError(err)

	agents := service.NewAgentService(service.AgentServiceDeps{
		Agents:        s.store.Agents(),
		Secrets:       s.store.Secrets(),
		Deployments:   s.store.Deployments(),
		Subscriptions: s.store.Subscriptions(),
		Cipher:        v,
		Gateway:       s.gw,
	})

	s.billing, err = service.NewBillingReconciler(service.BillingReconcilerDeps{
		Subscriptions: s.store.Subscriptions(),
		Payments:      s.store.Payments(),
		API:           s.api,
		Agents:        agents,
	})
	s.Require().NoError(err)

	s.worker = worker.NewFinalizeWorker(agents, worker.NewMemoryJobStore(time.Hour), 2, nil)

	s.tg = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":123456789,"is_bot":true,"first_name":"Support","username":"support_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			_, _ = w.Write([]byte(`{"ok":true,"result":[{"message":{"chat":{"id":42,"type":"private","username":"alice"}}}]}`))
		default:
			http.NotFound(w, r)
		}
	}))

	h := handler.New(handler.Deps{
		DB:            okPinger{},
		Agents:        agents,
		Finalizer:     s.worker,
		Billing:       s.billing,
		Telegram:      telegram.NewClient(s.tg.URL),
		WebhookSecret: webhookSecret,
	})
	s.handler = h
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	s.server = httptest.NewServer(mux)

	s.owner = uuid.NewString()
	s.stranger = uuid.NewString()
	_, err = s.store.Subscriptions().Create(ctx, &domain.Subscription{
		OwnerID:     s.owner,
		ExternalRef: "pre-1",
		Status:      domain.SubscriptionAuthorized,
		PlanID:      domain.DefaultPlanID,
		MaxAgents:   2,
	})
	s.Require().NoError(err)
}

func (s *HandlerTestSuite) TearDownTest() {
	s.server.Close()
	s.tg.Close()
	s.billing.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Require().NoError(s.worker.Shutdown(ctx))
}

func (s *HandlerTestSuite) do(method, path, owner string, body any) *http.Response {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(middleware.HeaderUserID, owner)
	}

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *HandlerTestSuite) decode(resp *http.Response, out any) {
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
}

func (s *HandlerTestSuite) errorCode(resp *http.Response) string {
	var body dto.ErrorResponse
	s.decode(resp, &body)
	return body.Error.Code
}

func (s *HandlerTestSuite) createAgent() dto.AgentResponse {
	resp := s.do(http.MethodPost, "/api/v1/agents", s.owner, dto.CreateAgentRequest{Name: "Support bot", Model: "gpt-4o"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	var agent dto.AgentResponse
	s.decode(resp, &agent)
	return agent
}

func (s *HandlerTestSuite) configure(agentID string) {
	resp := s.do(http.MethodPost, "/api/v1/agents/"+agentID+"/config", s.owner, dto.ConfigureAgentRequest{
		Provider:      "openai",
		APIKey:        "sk-test",
		ChannelToken:  botToken,
		ChannelUserID: "42",
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
}

func (s *HandlerTestSuite) TestHealthz() {
	resp := s.do(http.MethodGet, "/healthz", "", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *HandlerTestSuite) TestGuide() {
	resp := s.do(http.MethodGet, "/guide.md", "", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Contains(resp.Header.Get("Content-Type"), "text/markdown")
}

func (s *HandlerTestSuite) TestAuthRequired() {
	resp := s.do(http.MethodGet, "/api/v1/agents", "", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Equal("UNAUTHORIZED", s.errorCode(resp))

	resp = s.do(http.MethodGet, "/api/v1/agents", "not-a-uuid", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *HandlerTestSuite) TestInvalidAgentID() {
	resp := s.do(http.MethodGet, "/api/v1/agents/nope", s.owner, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("INVALID_REQUEST", s.errorCode(resp))
}

func (s *HandlerTestSuite) TestCreateAgent_Errors() {
	s.Run("invalid json", func() {
		req, err := http.NewRequest(http.MethodPost, s.server.URL+"/api/v1/agents", strings.NewReader("{"))
		s.Require().NoError(err)
		req.Header.Set(middleware.HeaderUserID, s.owner)
		resp, err := http.DefaultClient.Do(req)
		s.Require().NoError(err)
		defer func() { _ = resp.Body.Close() }()
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})

	s.Run("no subscription", func() {
		resp := s.do(http.MethodPost, "/api/v1/agents", s.stranger, dto.CreateAgentRequest{Name: "x", Model: "gpt-4o"})
		s.Equal(http.StatusPaymentRequired, resp.StatusCode)
		s.Equal("SUBSCRIPTION_INACTIVE", s.errorCode(resp))
	})

	s.Run("quota", func() {
		s.createAgent()
		s.createAgent()
		resp := s.do(http.MethodPost, "/api/v1/agents", s.owner, dto.CreateAgentRequest{Name: "x", Model: "gpt-4o"})
		s.Equal(http.StatusForbidden, resp.StatusCode)
		s.Equal("QUOTA_EXCEEDED", s.errorCode(resp))
	})
}

func (s *HandlerTestSuite) TestOtherOwnerSeesNotFound() {
	agent := s.createAgent()

	resp := s.do(http.MethodGet, "/api/v1/agents/"+agent.ID, s.stranger, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal("AGENT_NOT_FOUND", s.errorCode(resp))
}

func (s *HandlerTestSuite) TestConfigure_ModelProviderMismatch() {
	agent := s.createAgent()

	resp := s.do(http.MethodPost, "/api/v1/agents/"+agent.ID+"/config", s.owner, dto.ConfigureAgentRequest{
		Provider:      "anthropic",
		APIKey:        "sk-test",
		ChannelToken:  botToken,
		ChannelUserID: "42",
	})
	s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	s.Equal("MODEL_PROVIDER_MISMATCH", s.errorCode(resp))
}

func (s *HandlerTestSuite) TestDeploy_FromDraftConflicts() {
	agent := s.createAgent()

	resp := s.do(http.MethodPost, "/api/v1/agents/"+agent.ID+"/deploy", s.owner, nil)
	s.Equal(http.StatusConflict, resp.StatusCode)
	s.Equal("INVALID_TRANSITION", s.errorCode(resp))
}

func (s *HandlerTestSuite) TestDeploy_FailureReturnsFailedAgent() {
	agent := s.createAgent()
	s.configure(agent.ID)
	s.gw.mu.Lock()
	s.gw.deployErr = errors.New("railway down")
	s.gw.mu.Unlock()

	resp := s.do(http.MethodPost, "/api/v1/agents/"+agent.ID+"/deploy", s.owner, nil)
	s.Equal(http.StatusBadGateway, resp.StatusCode)

	var body dto.DeployErrorResponse
	s.decode(resp, &body)
	s.Equal("PROVISIONING_FAILED", body.Error.Code)
	s.Equal(string(domain.AgentStatusFailed), body.Agent.Status)
}

func (s *HandlerTestSuite) TestDeploy_OutlivesServerWriteTimeout() {
	agent := s.createAgent()
	s.configure(agent.ID)
	s.gw.mu.Lock()
	s.gw.deployDelay = 300 * time.Millisecond
	s.gw.mu.Unlock()

	mux := http.NewServeMux()
	s.handler.RegisterRoutes(mux)
	srv := httptest.NewUnstartedServer(middleware.Observe(nopRequests{})(mux))
	srv.Config.WriteTimeout = 50 * time.Millisecond
	srv.Start()
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/agents/"+agent.ID+"/deploy", nil)
	s.Require().NoError(err)
	req.Header.Set(middleware.HeaderUserID, s.owner)

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer func() { _ = resp.Body.Close() }()
	s.Equal(http.StatusOK, resp.StatusCode)

	var body dto.AgentResponse
	s.decode(resp, &body)
	s.Equal(string(domain.AgentStatusDeploying), body.Status)
}

func (s *HandlerTestSuite) TestLifecycle() {
	agent := s.createAgent()
	s.Equal(string(domain.AgentStatusDraft), agent.Status)
	s.configure(agent.ID)

	resp := s.do(http.MethodPost, "/api/v1/agents/"+agent.ID+"/deploy", s.owner, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var deployed dto.AgentResponse
	s.decode(resp, &deployed)
	s.Equal(string(domain.AgentStatusDeploying), deployed.Status)
	s.Require().NotNil(deployed.ServiceRef)
	s.Equal("svc-1", *deployed.ServiceRef)

	resp = s.do(http.MethodGet, "/api/v1/agents/"+agent.ID+"/setup-password", s.owner, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var password dto.SetupPasswordResponse
	s.decode(resp, &password)
	s.Len(password.SetupPassword, 32)

	resp = s.do(http.MethodPost, "/api/v1/agents/"+agent.ID+"/finalize", s.owner, nil)
	s.Require().Equal(http.StatusAccepted, resp.StatusCode)
	var job dto.FinalizeJobResponse
	s.decode(resp, &job)
	s.Equal("/api/v1/finalize-jobs/"+job.ID, resp.Header.Get("Location"))

	s.Eventually(func() bool {
		resp := s.do(http.MethodGet, "/api/v1/finalize-jobs/"+job.ID, s.owner, nil)
		var polled dto.FinalizeJobResponse
		s.decode(resp, &polled)
		return polled.Status == string(domain.JobSucceeded)
	}, 5*time.Second, 20*time.Millisecond)

	resp = s.do(http.MethodGet, "/api/v1/agents/"+agent.ID, s.owner, nil)
	var running dto.AgentResponse
	s.decode(resp, &running)
	s.Equal(string(domain.AgentStatusRunning), running.Status)
	s.Require().NotNil(running.Endpoint)
	s.Equal("d.example.com", *running.Endpoint)

	resp = s.do(http.MethodGet, "/api/v1/agents/"+agent.ID+"/logs", s.owner, nil)
	var logs dto.LogsResponse
	s.decode(resp, &logs)
	s.Equal("Setup finalized for d.example.com.", logs.Logs)

	resp = s.do(http.MethodGet, "/api/v1/agents/"+agent.ID+"/deployments", s.owner, nil)
	var history dto.DeploymentsListResponse
	s.decode(resp, &history)
	s.Len(history.Deployments, 3)

	resp = s.do(http.MethodPost, "/api/v1/agents/stop", s.owner, nil)
	var stopped dto.StopAgentsResponse
	s.decode(resp, &stopped)
	s.Equal(1, stopped.Stopped)

	resp = s.do(http.MethodDelete, "/api/v1/agents/"+agent.ID, s.owner, nil)
	s.Equal(http.StatusNoContent, resp.StatusCode)

	resp = s.do(http.MethodGet, "/api/v1/agents/"+agent.ID, s.owner, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *HandlerTestSuite) TestFinalizeJob_OtherOwner() {
	agent := s.createAgent()
	s.configure(agent.ID)
	resp := s.do(http.MethodPost, "/api/v1/agents/"+agent.ID+"/deploy", s.owner, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	resp = s.do(http.MethodPost, "/api/v1/agents/"+agent.ID+"/finalize", s.owner, nil)
	s.Require().Equal(http.StatusAccepted, resp.StatusCode)
	var job dto.FinalizeJobResponse
	s.decode(resp, &job)

	resp = s.do(http.MethodGet, "/api/v1/finalize-jobs/"+job.ID, s.stranger, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal("JOB_NOT_FOUND", s.errorCode(resp))
}

func (s *HandlerTestSuite) TestSubscription() {
	resp := s.do(http.MethodGet, "/api/v1/subscription", s.stranger, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var empty dto.SubscriptionResponse
	s.decode(resp, &empty)
	s.False(empty.Active)
	s.Nil(empty.Status)

	resp = s.do(http.MethodGet, "/api/v1/payments", s.owner, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var payments dto.PaymentsListResponse
	s.decode(resp, &payments)
	s.Empty(payments.Payments)
}

func (s *HandlerTestSuite) postWebhook(body string, signed bool) *http.Response {
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/api/v1/payment/webhook", strings.NewReader(body))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if signed {
		req.Header.Set("x-request-id", "req-1")
		req.Header.Set("x-signature", billing.Sign(webhookSecret, "req-1", "pre-1", "1700000000"))
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *HandlerTestSuite) TestWebhook_CancelsSubscription() {
	s.api.preapprovals["pre-1"] = &billing.Preapproval{ID: "pre-1", Status: string(domain.SubscriptionCancelled)}

	resp := s.postWebhook(`{"type":"preapproval","data":{"id":"pre-1"}}`, true)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var ack dto.WebhookResponse
	s.decode(resp, &ack)
	s.True(ack.Received)

	sub, err := s.store.Subscriptions().GetLatestByOwner(context.Background(), s.owner)
	s.Require().NoError(err)
	s.Equal(domain.SubscriptionCancelled, sub.Status)
}

func (s *HandlerTestSuite) TestWebhook_BadSignatureIgnored() {
	s.api.preapprovals["pre-1"] = &billing.Preapproval{ID: "pre-1", Status: string(domain.SubscriptionCancelled)}

	resp := s.postWebhook(`{"type":"preapproval","data":{"id":"pre-1"}}`, false)
	s.Equal(http.StatusOK, resp.StatusCode)

	sub, err := s.store.Subscriptions().GetLatestByOwner(context.Background(), s.owner)
	s.Require().NoError(err)
	s.Equal(domain.SubscriptionAuthorized, sub.Status)
}

func (s *HandlerTestSuite) TestWebhook_ProcessingErrorStillAcknowledged() {
	resp := s.postWebhook(`{"type":"preapproval","data":{"id":"pre-1"}}`, true)
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *HandlerTestSuite) TestTelegram() {
	resp := s.do(http.MethodPost, "/api/v1/telegram/validate-token", s.owner, dto.TelegramTokenRequest{Token: botToken})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var bot dto.TelegramBotResponse
	s.decode(resp, &bot)
	s.True(bot.Valid)
	s.Equal("support_bot", bot.Username)

	resp = s.do(http.MethodPost, "/api/v1/telegram/validate-token", s.owner, dto.TelegramTokenRequest{Token: "bad"})
	s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	s.Equal("VALIDATION_ERROR", s.errorCode(resp))

	resp = s.do(http.MethodPost, "/api/v1/telegram/resolve-chat", s.owner, dto.TelegramTokenRequest{Token: botToken})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var chat dto.TelegramChatResponse
	s.decode(resp, &chat)
	s.Equal("42", chat.ChatID)
}

func TestHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}
