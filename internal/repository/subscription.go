package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/agentdeploy/internal/domain"
)

var subscriptionColumns = []string{
	"id", "owner_id", "external_ref", "status", "plan_id", "max_agents",
	"next_billing_date", "created_at", "updated_at",
}

// SubscriptionRepository handles database operations for subscriptions.
type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var s domain.Subscription
	err := row.Scan(
		&s.ID,
		&s.OwnerID,
		&s.ExternalRef,
		&s.Status,
		&s.PlanID,
		&s.MaxAgents,
		&s.NextBillingDate,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return &s, nil
}

// Create inserts a subscription.
func (r *SubscriptionRepository) Create(ctx context.Context, s *domain.Subscription) (*domain.Subscription, error) {
	query, args, err := psql.
		Insert("subscriptions").
		Columns("owner_id", "external_ref", "status", "plan_id", "max_agents", "next_billing_date").
		Values(s.OwnerID, s.ExternalRef, s.Status, s.PlanID, s.MaxAgents, s.NextBillingDate).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Create query for subscription: %w", err)
	}

	if err := r.pool.QueryRow(ctx, query, args...).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return s, nil
}

// GetLatestByOwner returns the owner's most recently created subscription.
func (r *SubscriptionRepository) GetLatestByOwner(ctx context.Context, ownerID string) (*domain.Subscription, error) {
	query, args, err := psql.
		Select(subscriptionColumns...).
		From("subscriptions").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetLatestByOwner query: %w", err)
	}

	return scanSubscription(r.pool.QueryRow(ctx, query, args...))
}

// GetByExternalRef looks a subscription up by its billing provider reference.
func (r *SubscriptionRepository) GetByExternalRef(ctx context.Context, externalRef string) (*domain.Subscription, error) {
	query, args, err := psql.
		Select(subscriptionColumns...).
		From("subscriptions").
		Where(sq.Eq{"external_ref": externalRef}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByExternalRef query: %w", err)
	}

	return scanSubscription(r.pool.QueryRow(ctx, query, args...))
}

// UpdateStatus sets the status and, when given, the next billing date.
func (r *SubscriptionRepository) UpdateStatus(
	ctx context.Context,
	externalRef string,
	status domain.SubscriptionStatus,
	nextBillingDate *time.Time,
) (*domain.Subscription, error) {
	builder := psql.
		Update("subscriptions").
		Set("status", status).
		Set("updated_at", sq.Expr("NOW()"))
	if nextBillingDate != nil {
		builder = builder.Set("next_billing_date", *nextBillingDate)
	}

	query, args, err := builder.
		Where(sq.Eq{"external_ref": externalRef}).
		Suffix("RETURNING " + joinColumns(subscriptionColumns)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build UpdateStatus query for subscription %s: %w", externalRef, err)
	}

	return scanSubscription(r.pool.QueryRow(ctx, query, args...))
}

// ListOverdue returns live subscriptions whose next billing date is before the cutoff.
func (r *SubscriptionRepository) ListOverdue(ctx context.Context, before time.Time) ([]*domain.Subscription, error) {
	query, args, err := psql.
		Select(subscriptionColumns...).
		From("subscriptions").
		Where(sq.Eq{"status": []domain.SubscriptionStatus{
			domain.SubscriptionAuthorized,
			domain.SubscriptionPending,
		}}).
		Where(sq.Lt{"next_billing_date": before}).
		OrderBy("next_billing_date ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListOverdue query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query overdue subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return subs, nil
}
