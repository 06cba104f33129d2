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

// agentColumns is the shared list of columns for agent queries.
var agentColumns = []string{
	"id", "owner_id", "name", "model", "channel", "status",
	"service_ref", "endpoint", "created_at", "updated_at",
}

// AgentRepository handles database operations for agents.
type AgentRepository struct {
	pool *pgxpool.Pool
}

// NewAgentRepository creates a new AgentRepository.
func NewAgentRepository(pool *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{pool: pool}
}

// scanAgent scans a single row into an Agent struct.
func scanAgent(row pgx.Row) (*domain.Agent, error) {
	var agent domain.Agent
	err := row.Scan(
		&agent.ID,
		&agent.OwnerID,
		&agent.Name,
		&agent.Model,
		&agent.Channel,
		&agent.Status,
		&agent.ServiceRef,
		&agent.Endpoint,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAgentNotFound
		}
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	if !agent.Status.IsValid() {
		return nil, fmt.Errorf("scan agent %s: unknown status %q", agent.ID, agent.Status)
	}
	return &agent, nil
}

// Create inserts a new agent and returns it with ID and timestamps populated.
func (r *AgentRepository) Create(ctx context.Context, agent *domain.Agent) (*domain.Agent, error) {
	if agent.Status == "" {
		agent.Status = domain.AgentStatusDraft
	}
	if agent.Channel == "" {
		agent.Channel = domain.ChannelTelegram
	}

	query, args, err := psql.
		Insert("agents").
		Columns("owner_id", "name", "model", "channel", "status").
		Values(agent.OwnerID, agent.Name, agent.Model, agent.Channel, agent.Status).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Create query for agent: %w", err)
	}

	err = r.pool.QueryRow(ctx, query, args...).Scan(&agent.ID, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	return agent, nil
}

// GetByID retrieves an agent by ID.
func (r *AgentRepository) GetByID(ctx context.Context, agentID string) (*domain.Agent, error) {
	query, args, err := psql.
		Select(agentColumns...).
		From("agents").
		Where(sq.Eq{"id": agentID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for agent %s: %w", agentID, err)
	}

	return scanAgent(r.pool.QueryRow(ctx, query, args...))
}

// ListByOwner returns the owner's agents, newest first.
func (r *AgentRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Agent, error) {
	query, args, err := psql.
		Select(agentColumns...).
		From("agents").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListByOwner query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return agents, nil
}

// CountByOwner counts the owner's agents regardless of status.
func (r *AgentRepository) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	query, args, err := psql.
		Select("COUNT(*)").
		From("agents").
		Where(sq.Eq{"owner_id": ownerID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build CountByOwner query: %w", err)
	}

	var count int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return count, nil
}

// UpdateStatus applies a guarded status change in a single statement.
// Returns ErrInvalidTransition if the agent is no longer in one of change.From.
func (r *AgentRepository) UpdateStatus(ctx context.Context, change domain.StatusChange) (*domain.Agent, error) {
	builder := psql.
		Update("agents").
		Set("status", change.To).
		Set("updated_at", sq.Expr("NOW()"))
	if change.ServiceRef != nil {
		builder = builder.Set("service_ref", *change.ServiceRef)
	}
	if change.Endpoint != nil {
		builder = builder.Set("endpoint", *change.Endpoint)
	}

	query, args, err := builder.
		Where(sq.Eq{
			"id":     change.AgentID,
			"status": change.From,
		}).
		Suffix("RETURNING " + joinColumns(agentColumns)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build UpdateStatus query for agent %s: %w", change.AgentID, err)
	}

	agent, err := scanAgent(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, domain.ErrAgentNotFound) {
		return nil, fmt.Errorf("%w: agent %s is not in %v", domain.ErrInvalidTransition, change.AgentID, change.From)
	}
	return agent, err
}

// AttachService records the provisioned service of an agent without
// touching its status.
func (r *AgentRepository) AttachService(ctx context.Context, agentID, serviceRef, endpoint string) (*domain.Agent, error) {
	query, args, err := psql.
		Update("agents").
		Set("service_ref", serviceRef).
		Set("endpoint", endpoint).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": agentID}).
		Suffix("RETURNING " + joinColumns(agentColumns)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build AttachService query for agent %s: %w", agentID, err)
	}

	return scanAgent(r.pool.QueryRow(ctx, query, args...))
}

// Delete removes an agent; secrets and deployments cascade.
func (r *AgentRepository) Delete(ctx context.Context, agentID string) error {
	query, args, err := psql.
		Delete("agents").
		Where(sq.Eq{"id": agentID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Delete query for agent %s: %w", agentID, err)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}
