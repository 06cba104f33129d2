package dto

import (
	"time"

	"github.com/mtlprog/agentdeploy/internal/domain"
	"github.com/mtlprog/agentdeploy/internal/telegram"
)

// AgentResponse represents an agent. Credentials are never included.
type AgentResponse struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	Channel    string    `json:"channel"`
	Status     string    `json:"status"`
	ServiceRef *string   `json:"service_ref"`
	Endpoint   *string   `json:"endpoint"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AgentsListResponse represents the response for GET /agents.
type AgentsListResponse struct {
	Agents []AgentResponse `json:"agents"`
	Total  int             `json:"total"`
}

// LogsResponse represents the latest deployment logs of an agent.
type LogsResponse struct {
	Logs string `json:"logs"`
}

// DeploymentResponse represents one deployment audit record.
type DeploymentResponse struct {
	ID        string    `json:"id"`
	Outcome   string    `json:"outcome"`
	Logs      string    `json:"logs"`
	CreatedAt time.Time `json:"created_at"`
}

// DeploymentsListResponse represents the response for GET /agents/{id}/deployments.
type DeploymentsListResponse struct {
	Deployments []DeploymentResponse `json:"deployments"`
}

// GatewayTokenResponse carries the decrypted gateway token.
type GatewayTokenResponse struct {
	GatewayToken string `json:"gateway_token"`
}

// SetupPasswordResponse carries the decrypted setup password.
type SetupPasswordResponse struct {
	SetupPassword string `json:"setup_password"`
}

// StopAgentsResponse represents the response for POST /agents/stop.
type StopAgentsResponse struct {
	Stopped int `json:"stopped"`
}

// FinalizeJobResponse represents a background finalize job.
type FinalizeJobResponse struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubscriptionResponse represents the owner's billing standing.
type SubscriptionResponse struct {
	Active          bool       `json:"active"`
	ValidUntil      *time.Time `json:"valid_until"`
	Status          *string    `json:"status"`
	PlanID          *string    `json:"plan_id"`
	MaxAgents       int        `json:"max_agents"`
	NextBillingDate *time.Time `json:"next_billing_date"`
}

// PaymentResponse represents one payment.
type PaymentResponse struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	Amount        string    `json:"amount"`
	PlanID        string    `json:"plan_id"`
	CreatedAt     time.Time `json:"created_at"`
	ValidUntil    time.Time `json:"valid_until"`
}

// PaymentsListResponse represents the response for GET /payments.
type PaymentsListResponse struct {
	Payments []PaymentResponse `json:"payments"`
}

// WebhookResponse is the acknowledgement sent to the billing provider.
type WebhookResponse struct {
	Received bool `json:"received"`
}

// TelegramBotResponse describes a validated bot token.
type TelegramBotResponse struct {
	Valid    bool   `json:"valid"`
	BotID    int64  `json:"bot_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// TelegramChatResponse describes a chat discovered through the bot.
type TelegramChatResponse struct {
	ChatID   string `json:"chat_id"`
	Type     string `json:"type"`
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
}

// ToAgentResponse converts a domain agent.
func ToAgentResponse(a *domain.Agent) AgentResponse {
	return AgentResponse{
		ID:         a.ID,
		OwnerID:    a.OwnerID,
		Name:       a.Name,
		Model:      a.Model,
		Channel:    string(a.Channel),
		Status:     string(a.Status),
		ServiceRef: a.ServiceRef,
		Endpoint:   a.Endpoint,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

// ToAgentsListResponse converts a list of agents.
func ToAgentsListResponse(agents []*domain.Agent) AgentsListResponse {
	out := AgentsListResponse{Agents: make([]AgentResponse, 0, len(agents)), Total: len(agents)}
	for _, a := range agents {
		out.Agents = append(out.Agents, ToAgentResponse(a))
	}
	return out
}

// ToDeploymentsListResponse converts deployment records.
func ToDeploymentsListResponse(deployments []*domain.Deployment) DeploymentsListResponse {
	out := DeploymentsListResponse{Deployments: make([]DeploymentResponse, 0, len(deployments))}
	for _, d := range deployments {
		out.Deployments = append(out.Deployments, DeploymentResponse{
			ID:        d.ID,
			Outcome:   string(d.Outcome),
			Logs:      d.Logs,
			CreatedAt: d.CreatedAt,
		})
	}
	return out
}

// ToFinalizeJobResponse converts a finalize job.
func ToFinalizeJobResponse(j *domain.FinalizeJob) FinalizeJobResponse {
	return FinalizeJobResponse{
		ID:        j.ID,
		AgentID:   j.AgentID,
		Status:    string(j.Status),
		Error:     j.Error,
		Endpoint:  j.Endpoint,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// ToSubscriptionResponse converts a subscription standing. sub may be nil.
func ToSubscriptionResponse(active bool, validUntil *time.Time, sub *domain.Subscription) SubscriptionResponse {
	out := SubscriptionResponse{Active: active, ValidUntil: validUntil}
	if sub != nil {
		status := string(sub.Status)
		out.Status = &status
		out.PlanID = &sub.PlanID
		out.MaxAgents = sub.MaxAgents
		out.NextBillingDate = sub.NextBillingDate
	}
	return out
}

// ToPaymentsListResponse converts payments.
func ToPaymentsListResponse(payments []*domain.Payment) PaymentsListResponse {
	out := PaymentsListResponse{Payments: make([]PaymentResponse, 0, len(payments))}
	for _, p := range payments {
		out.Payments = append(out.Payments, PaymentResponse{
			ID:            p.ID,
			TransactionID: p.TransactionID,
			Status:        p.Status,
			Amount:        p.Amount,
			PlanID:        p.PlanID,
			CreatedAt:     p.CreatedAt,
			ValidUntil:    p.ValidUntil(),
		})
	}
	return out
}

// ToTelegramBotResponse converts a validated bot.
func ToTelegramBotResponse(b *telegram.Bot) TelegramBotResponse {
	return TelegramBotResponse{Valid: true, BotID: b.ID, Username: b.Username, Name: b.Name}
}

// ToTelegramChatResponse converts a discovered chat.
func ToTelegramChatResponse(c *telegram.Chat) TelegramChatResponse {
	return TelegramChatResponse{ChatID: c.ID, Type: c.Type, Title: c.Title, Username: c.Username}
}
