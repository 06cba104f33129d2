package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/agentdeploy/internal/domain"
)

var paymentColumns = []string{"id", "owner_id", "transaction_id", "status", "amount", "plan_id", "created_at"}

// PaymentRepository handles database operations for payments.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	if err := row.Scan(&p.ID, &p.OwnerID, &p.TransactionID, &p.Status, &p.Amount, &p.PlanID, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}

// Create inserts a payment.
func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) (*domain.Payment, error) {
	query, args, err := psql.
		Insert("payments").
		Columns("owner_id", "transaction_id", "status", "amount", "plan_id").
		Values(p.OwnerID, p.TransactionID, p.Status, p.Amount, p.PlanID).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Create query for payment: %w", err)
	}

	if err := r.pool.QueryRow(ctx, query, args...).Scan(&p.ID, &p.CreatedAt); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	return p, nil
}

// GetByTransactionID looks a payment up by the billing provider's id.
func (r *PaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	query, args, err := psql.
		Select(paymentColumns...).
		From("payments").
		Where(sq.Eq{"transaction_id": transactionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByTransactionID query: %w", err)
	}

	return scanPayment(r.pool.QueryRow(ctx, query, args...))
}

// UpdateStatus changes a payment's status.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, transactionID, status string) error {
	query, args, err := psql.
		Update("payments").
		Set("status", status).
		Where(sq.Eq{"transaction_id": transactionID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build UpdateStatus query for payment %s: %w", transactionID, err)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

// ListByOwner returns the owner's payments, newest first.
func (r *PaymentRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*domain.Payment, error) {
	return r.list(ctx, sq.Eq{"owner_id": ownerID}, limit)
}

// LatestApproved returns the owner's newest approved payment.
func (r *PaymentRepository) LatestApproved(ctx context.Context, ownerID string) (*domain.Payment, error) {
	payments, err := r.list(ctx, sq.Eq{"owner_id": ownerID, "status": domain.PaymentStatusApproved}, 1)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, domain.ErrPaymentNotFound
	}
	return payments[0], nil
}

func (r *PaymentRepository) list(ctx context.Context, where sq.Eq, limit int) ([]*domain.Payment, error) {
	builder := psql.
		Select(paymentColumns...).
		From("payments").
		Where(where).
		OrderBy("created_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query for payments: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return payments, nil
}
