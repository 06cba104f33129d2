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

var secretColumns = []string{
	"id", "agent_id", "provider", "encrypted_api_key", "channel_token",
	"channel_user_id", "channel_chat_id", "setup_password", "gateway_token", "created_at",
}

// SecretRepository stores the current credential set of each agent.
// Values arrive already encrypted; this layer never sees plaintext.
type SecretRepository struct {
	pool *pgxpool.Pool
}

// NewSecretRepository creates a new SecretRepository.
func NewSecretRepository(pool *pgxpool.Pool) *SecretRepository {
	return &SecretRepository{pool: pool}
}

func scanSecret(row pgx.Row) (*domain.AgentSecret, error) {
	var s domain.AgentSecret
	err := row.Scan(
		&s.ID,
		&s.AgentID,
		&s.Provider,
		&s.EncryptedAPIKey,
		&s.ChannelToken,
		&s.ChannelUserID,
		&s.ChannelChatID,
		&s.SetupPassword,
		&s.GatewayToken,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSecretNotFound
		}
		return nil, fmt.Errorf("scan agent secret: %w", err)
	}
	return &s, nil
}

// Save replaces the agent's credential columns. Secrets are not versioned.
// setup_password and gateway_token belong to UpdateRuntimeSecrets and are
// left untouched, so a concurrent deploy cannot lose its fresh values.
func (r *SecretRepository) Save(ctx context.Context, secret *domain.AgentSecret) (*domain.AgentSecret, error) {
	query, args, err := psql.
		Insert("agent_secrets").
		Columns(
			"agent_id", "provider", "encrypted_api_key", "channel_token",
			"channel_user_id", "channel_chat_id",
		).
		Values(
			secret.AgentID, secret.Provider, secret.EncryptedAPIKey, secret.ChannelToken,
			secret.ChannelUserID, secret.ChannelChatID,
		).
		Suffix(`ON CONFLICT (agent_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			encrypted_api_key = EXCLUDED.encrypted_api_key,
			channel_token = EXCLUDED.channel_token,
			channel_user_id = EXCLUDED.channel_user_id,
			channel_chat_id = EXCLUDED.channel_chat_id,
			created_at = NOW()
		RETURNING ` + joinColumns(secretColumns)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Save query for agent secret %s: %w", secret.AgentID, err)
	}

	return scanSecret(r.pool.QueryRow(ctx, query, args...))
}

// GetByAgentID retrieves the agent's current secret.
func (r *SecretRepository) GetByAgentID(ctx context.Context, agentID string) (*domain.AgentSecret, error) {
	query, args, err := psql.
		Select(secretColumns...).
		From("agent_secrets").
		Where(sq.Eq{"agent_id": agentID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByAgentID query for agent secret %s: %w", agentID, err)
	}

	return scanSecret(r.pool.QueryRow(ctx, query, args...))
}

// UpdateRuntimeSecrets stores the encrypted setup password and gateway token.
func (r *SecretRepository) UpdateRuntimeSecrets(ctx context.Context, agentID, setupPassword, gatewayToken string) error {
	query, args, err := psql.
		Update("agent_secrets").
		Set("setup_password", setupPassword).
		Set("gateway_token", gatewayToken).
		Where(sq.Eq{"agent_id": agentID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build UpdateRuntimeSecrets query for agent %s: %w", agentID, err)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update runtime secrets: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSecretNotFound
	}
	return nil
}
