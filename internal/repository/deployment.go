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

var deploymentColumns = []string{"id", "agent_id", "outcome", "logs", "created_at"}

// DeploymentRepository handles the append-only deployment log.
type DeploymentRepository struct {
	pool *pgxpool.Pool
}

// NewDeploymentRepository creates a new DeploymentRepository.
func NewDeploymentRepository(pool *pgxpool.Pool) *DeploymentRepository {
	return &DeploymentRepository{pool: pool}
}

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.AgentID, &d.Outcome, &d.Logs, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDeploymentNotFound
		}
		return nil, fmt.Errorf("scan deployment: %w", err)
	}
	return &d, nil
}

// Create appends a deployment record. Records are never updated.
func (r *DeploymentRepository) Create(ctx context.Context, d *domain.Deployment) (*domain.Deployment, error) {
	query, args, err := psql.
		Insert("deployments").
		Columns("agent_id", "outcome", "logs").
		Values(d.AgentID, d.Outcome, d.Logs).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Create query for deployment: %w", err)
	}

	if err := r.pool.QueryRow(ctx, query, args...).Scan(&d.ID, &d.CreatedAt); err != nil {
		return nil, fmt.Errorf("create deployment: %w", err)
	}
	return d, nil
}

// Latest returns the newest deployment record of an agent.
func (r *DeploymentRepository) Latest(ctx context.Context, agentID string) (*domain.Deployment, error) {
	query, args, err := psql.
		Select(deploymentColumns...).
		From("deployments").
		Where(sq.Eq{"agent_id": agentID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Latest query for agent %s: %w", agentID, err)
	}

	return scanDeployment(r.pool.QueryRow(ctx, query, args...))
}

// ListByAgent returns an agent's deployment records, newest first.
func (r *DeploymentRepository) ListByAgent(ctx context.Context, agentID string, limit int) ([]*domain.Deployment, error) {
	builder := psql.
		Select(deploymentColumns...).
		From("deployments").
		Where(sq.Eq{"agent_id": agentID}).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListByAgent query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}
	defer rows.Close()

	var deployments []*domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return deployments, nil
}
