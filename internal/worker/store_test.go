package worker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/agentdeploy/internal/domain"
)

func newJob(agentID string, status domain.JobStatus) *domain.FinalizeJob {
	return &domain.FinalizeJob{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		OwnerID:   uuid.NewString(),
		Status:    status,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func exerciseJobStore(t *testing.T, store JobStore) {
	ctx := context.Background()
	agentID := uuid.NewString()

	_, err := store.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	active, err := store.ActiveForAgent(ctx, agentID)
	require.NoError(t, err)
	assert.Nil(t, active)

	job := newJob(agentID, domain.JobPending)
	require.NoError(t, store.Save(ctx, job))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.AgentID, got.AgentID)
	assert.Equal(t, domain.JobPending, got.Status)

	active, err = store.ActiveForAgent(ctx, agentID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, job.ID, active.ID)

	job.Status = domain.JobSucceeded
	job.Endpoint = "d.example.com"
	require.NoError(t, store.Save(ctx, job))

	active, err = store.ActiveForAgent(ctx, agentID)
	require.NoError(t, err)
	assert.Nil(t, active)

	got, err = store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "d.example.com", got.Endpoint)
}

func TestMemoryJobStore(t *testing.T) {
	exerciseJobStore(t, NewMemoryJobStore(time.Hour))
}

func TestMemoryJobStore_Expiry(t *testing.T) {
	store := NewMemoryJobStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }

	job := newJob(uuid.NewString(), domain.JobRunning)
	require.NoError(t, store.Save(context.Background(), job))

	now = now.Add(2 * time.Minute)
	_, err := store.Get(context.Background(), job.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	active, err := store.ActiveForAgent(context.Background(), job.AgentID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestRedisJobStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	store, err := NewRedisJobStore(context.Background(), url, time.Minute)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	store.prefix = "agentdeploy-test:" + uuid.NewString() + ":"

	exerciseJobStore(t, store)
}
