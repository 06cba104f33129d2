package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"

	"github.com/mtlprog/agentdeploy/internal/billing"
	"github.com/mtlprog/agentdeploy/internal/domain"
)

const (
	// DefaultDedupeTTL is how long a handled notification suppresses its duplicates.
	DefaultDedupeTTL = 30 * time.Second

	paymentHistoryLimit = 10
)

// Billing event results reported to metrics.
const (
	billingResultProcessed = "processed"
	billingResultDuplicate = "duplicate"
	billingResultIgnored   = "ignored"
	billingResultFailed    = "failed"
)

// BillingAPI reads billing objects referenced by webhook notifications.
// *billing.Client satisfies it.
type BillingAPI interface {
	GetPayment(ctx context.Context, id string) (*billing.Payment, error)
	GetPreapproval(ctx context.Context, id string) (*billing.Preapproval, error)
}

// AgentStopper stops all agents of an owner. *AgentService satisfies it.
type AgentStopper interface {
	StopAllAgents(ctx context.Context, ownerID string) (int, error)
}

// BillingReconcilerDeps lists the collaborators of BillingReconciler.
type BillingReconcilerDeps struct {
	Subscriptions SubscriptionStore
	Payments      PaymentStore
	API           BillingAPI
	Agents        AgentStopper
	Metrics       BillingEventRecorder // optional
	DedupeTTL     time.Duration        // zero selects DefaultDedupeTTL
	Now           func() time.Time     // optional, for tests
}

// BillingReconciler keeps local subscription and payment state in line with
// the billing provider and stops agents of owners whose subscription lapsed.
type BillingReconciler struct {
	subscriptions SubscriptionStore
	payments      PaymentStore
	api           BillingAPI
	agents        AgentStopper
	metrics       BillingEventRecorder
	seen          *ristretto.Cache[string, struct{}]
	dedupeTTL     time.Duration
	now           func() time.Time
}

// NewBillingReconciler creates a BillingReconciler. Close releases its cache.
func NewBillingReconciler(deps BillingReconcilerDeps) (*BillingReconciler, error) {
	seen, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters:        100_000,
		MaxCost:            10_000, // one unit per notification
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	r := &BillingReconciler{
		subscriptions: deps.Subscriptions,
		payments:      deps.Payments,
		api:           deps.API,
		agents:        deps.Agents,
		metrics:       deps.Metrics,
		seen:          seen,
		dedupeTTL:     deps.DedupeTTL,
		now:           deps.Now,
	}
	if r.metrics == nil {
		r.metrics = nopRecorder{}
	}
	if r.dedupeTTL <= 0 {
		r.dedupeTTL = DefaultDedupeTTL
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Close releases the dedupe cache.
func (r *BillingReconciler) Close() {
	r.seen.Close()
}

// HandleNotification applies one webhook notification. Notifications of
// unknown types are ignored. A notification handled within the dedupe window
// is skipped.
func (r *BillingReconciler) HandleNotification(ctx context.Context, n billing.Notification) error {
	if n.DataID == "" {
		r.metrics.BillingEvent(n.Type, billingResultIgnored)
		return nil
	}
	if _, dup := r.seen.Get(n.Key()); dup {
		slog.Info("duplicate billing notification skipped", "type", n.Type, "data_id", n.DataID)
		r.metrics.BillingEvent(n.Type, billingResultDuplicate)
		return nil
	}

	var err error
	switch n.Type {
	case billing.TypePayment:
		err = r.applyPayment(ctx, n.DataID)
	case billing.TypePreapproval:
		err = r.applyPreapproval(ctx, n.DataID)
	default:
		slog.Debug("billing notification ignored", "type", n.Type, "data_id", n.DataID)
		r.metrics.BillingEvent(n.Type, billingResultIgnored)
		return nil
	}
	if err != nil {
		r.metrics.BillingEvent(n.Type, billingResultFailed)
		return fmt.Errorf("%s %s: %w", n.Type, n.DataID, err)
	}

	r.seen.SetWithTTL(n.Key(), struct{}{}, 1, r.dedupeTTL)
	r.seen.Wait()
	r.metrics.BillingEvent(n.Type, billingResultProcessed)
	return nil
}

func (r *BillingReconciler) applyPayment(ctx context.Context, paymentID string) error {
	p, err := r.api.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}

	txID := p.TransactionID()
	err = r.payments.UpdateStatus(ctx, txID, p.Status)
	if err == nil {
		slog.Info("payment updated", "transaction_id", txID, "status", p.Status)
		return nil
	}
	if !errors.Is(err, domain.ErrPaymentNotFound) {
		return fmt.Errorf("update payment: %w", err)
	}

	preapprovalID := p.PreapprovalID()
	if preapprovalID == "" {
		slog.Warn("payment without subscription reference ignored", "transaction_id", txID)
		return nil
	}
	sub, err := r.subscriptions.GetByExternalRef(ctx, preapprovalID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			slog.Warn("payment for unknown subscription ignored",
				"transaction_id", txID,
				"preapproval_id", preapprovalID,
			)
			return nil
		}
		return fmt.Errorf("get subscription: %w", err)
	}

	if _, err := r.payments.Create(ctx, &domain.Payment{
		OwnerID:       sub.OwnerID,
		TransactionID: txID,
		Status:        p.Status,
		Amount:        p.Amount(),
		PlanID:        sub.PlanID,
	}); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}

	slog.Info("payment recorded",
		"transaction_id", txID,
		"owner_id", sub.OwnerID,
		"status", p.Status,
		"amount", p.Amount(),
	)
	return nil
}

func (r *BillingReconciler) applyPreapproval(ctx context.Context, preapprovalID string) error {
	pre, err := r.api.GetPreapproval(ctx, preapprovalID)
	if err != nil {
		return err
	}
	status := domain.SubscriptionStatus(pre.Status)

	sub, err := r.subscriptions.UpdateStatus(ctx, preapprovalID, status, pre.NextPaymentDate)
	if errors.Is(err, domain.ErrSubscriptionNotFound) {
		sub, err = r.createSubscription(ctx, pre)
		if sub == nil && err == nil {
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("store subscription: %w", err)
	}

	slog.Info("subscription updated",
		"preapproval_id", preapprovalID,
		"owner_id", sub.OwnerID,
		"status", sub.Status,
	)

	if !sub.Status.KeepsAgentsAlive() {
		stopped, err := r.agents.StopAllAgents(ctx, sub.OwnerID)
		if err != nil {
			// Stopping is best-effort: the subscription state is already stored.
			slog.Error("failed to stop agents of lapsed subscription",
				"owner_id", sub.OwnerID,
				"stopped", stopped,
				"error", err,
			)
		} else if stopped > 0 {
			slog.Info("agents stopped for lapsed subscription", "owner_id", sub.OwnerID, "stopped", stopped)
		}
	}
	return nil
}

// createSubscription stores a preapproval seen for the first time. The
// external reference carries the owner id set at checkout; anything else is
// not ours and is skipped with a nil subscription.
func (r *BillingReconciler) createSubscription(ctx context.Context, pre *billing.Preapproval) (*domain.Subscription, error) {
	if err := uuid.Validate(pre.ExternalReference); err != nil {
		slog.Warn("preapproval without owner reference ignored",
			"preapproval_id", pre.ID,
			"external_reference", pre.ExternalReference,
		)
		return nil, nil
	}

	plan, _ := domain.PlanByID(domain.DefaultPlanID)
	return r.subscriptions.Create(ctx, &domain.Subscription{
		OwnerID:         pre.ExternalReference,
		ExternalRef:     pre.ID,
		Status:          domain.SubscriptionStatus(pre.Status),
		PlanID:          plan.ID,
		MaxAgents:       plan.MaxAgents,
		NextBillingDate: pre.NextPaymentDate,
	})
}

// SweepOverdue re-reads every live subscription whose billing date has passed,
// catching up on missed webhooks. Returns the number reconciled.
func (r *BillingReconciler) SweepOverdue(ctx context.Context) (int, error) {
	subs, err := r.subscriptions.ListOverdue(ctx, r.now())
	if err != nil {
		return 0, fmt.Errorf("list overdue subscriptions: %w", err)
	}

	count := 0
	var errs []error
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := r.applyPreapproval(ctx, sub.ExternalRef); err != nil {
			slog.Error("failed to reconcile subscription",
				"subscription_id", sub.ID,
				"preapproval_id", sub.ExternalRef,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		count++
	}

	slog.Info("reconciled overdue subscriptions",
		"total", len(subs),
		"reconciled", count,
		"failed", len(errs),
	)

	if len(errs) > 0 {
		return count, fmt.Errorf("reconciled %d/%d subscriptions, %d failures: %w",
			count, len(subs), len(errs), errors.Join(errs...))
	}
	return count, nil
}

// SubscriptionState is the owner's effective billing standing.
type SubscriptionState struct {
	Active       bool
	ValidUntil   *time.Time
	Subscription *domain.Subscription // nil when the owner never subscribed
}

// SubscriptionStatus reports whether the owner currently has a paid subscription.
func (r *BillingReconciler) SubscriptionStatus(ctx context.Context, ownerID string) (*SubscriptionState, error) {
	sub, err := r.subscriptions.GetLatestByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return &SubscriptionState{}, nil
		}
		return nil, err
	}

	validUntil, err := r.validUntil(ctx, sub)
	if err != nil {
		return nil, err
	}
	return &SubscriptionState{
		Active:       sub.Status == domain.SubscriptionAuthorized && validUntil != nil,
		ValidUntil:   validUntil,
		Subscription: sub,
	}, nil
}

// validUntil picks the first future date of: latest approved payment + validity,
// next billing date of an authorized subscription, last update + validity.
func (r *BillingReconciler) validUntil(ctx context.Context, sub *domain.Subscription) (*time.Time, error) {
	now := r.now()

	paid, err := r.payments.LatestApproved(ctx, sub.OwnerID)
	switch {
	case err == nil:
		if until := paid.ValidUntil(); until.After(now) {
			return &until, nil
		}
	case !errors.Is(err, domain.ErrPaymentNotFound):
		return nil, fmt.Errorf("get latest payment: %w", err)
	}

	if sub.Status == domain.SubscriptionAuthorized && sub.NextBillingDate != nil && sub.NextBillingDate.After(now) {
		until := *sub.NextBillingDate
		return &until, nil
	}

	if until := sub.UpdatedAt.Add(domain.PaymentValidity); until.After(now) {
		return &until, nil
	}
	return nil, nil
}

// ListPayments returns the owner's most recent payments, newest first.
func (r *BillingReconciler) ListPayments(ctx context.Context, ownerID string) ([]*domain.Payment, error) {
	return r.payments.ListByOwner(ctx, ownerID, paymentHistoryLimit)
}
