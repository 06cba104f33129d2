package domain

import "time"

// SubscriptionStatus mirrors the billing provider's preapproval status.
type SubscriptionStatus string

const (
	SubscriptionAuthorized SubscriptionStatus = "authorized"
	SubscriptionPending    SubscriptionStatus = "pending"
	SubscriptionPaused     SubscriptionStatus = "paused"
	SubscriptionCancelled  SubscriptionStatus = "cancelled"
)

// KeepsAgentsAlive returns true for statuses under which agents may keep running.
func (s SubscriptionStatus) KeepsAgentsAlive() bool {
	return s == SubscriptionAuthorized || s == SubscriptionPending
}

// Subscription is a user's recurring billing authorization.
type Subscription struct {
	ID              string
	OwnerID         string
	ExternalRef     string // billing provider preapproval id
	Status          SubscriptionStatus
	PlanID          string
	MaxAgents       int
	NextBillingDate *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PaymentStatusApproved is the billing provider status of a settled charge.
const PaymentStatusApproved = "approved"

// PaymentValidity is how long one approved payment keeps a subscription active.
const PaymentValidity = 30 * 24 * time.Hour

// Payment records one charge seen through checkout or a billing webhook.
type Payment struct {
	ID            string
	OwnerID       string
	TransactionID string
	Status        string
	Amount        string
	PlanID        string
	CreatedAt     time.Time
}

// ValidUntil returns the end of the period this payment pays for.
func (p *Payment) ValidUntil() time.Time {
	return p.CreatedAt.Add(PaymentValidity)
}
