package worker

import (
	"context"
	"sync"
	"time"

	"github.com/mtlprog/agentdeploy/internal/domain"
)

// JobStore persists finalize jobs for polling.
type JobStore interface {
	// Save creates or replaces a job.
	Save(ctx context.Context, job *domain.FinalizeJob) error
	// Get returns a job or domain.ErrJobNotFound.
	Get(ctx context.Context, jobID string) (*domain.FinalizeJob, error)
	// ActiveForAgent returns the agent's non-terminal job, or nil if there is none.
	ActiveForAgent(ctx context.Context, agentID string) (*domain.FinalizeJob, error)
}

type memoryEntry struct {
	job       domain.FinalizeJob
	expiresAt time.Time
}

// MemoryJobStore keeps jobs in process. Jobs expire after the TTL.
type MemoryJobStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	jobs    map[string]memoryEntry
	byAgent map[string]string
}

// NewMemoryJobStore creates a MemoryJobStore.
func NewMemoryJobStore(ttl time.Duration) *MemoryJobStore {
	return &MemoryJobStore{
		ttl:     ttl,
		now:     time.Now,
		jobs:    make(map[string]memoryEntry),
		byAgent: make(map[string]string),
	}
}

func (m *MemoryJobStore) Save(_ context.Context, job *domain.FinalizeJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs[job.ID] = memoryEntry{job: *job, expiresAt: m.now().Add(m.ttl)}
	m.byAgent[job.AgentID] = job.ID
	return nil
}

func (m *MemoryJobStore) Get(_ context.Context, jobID string) (*domain.FinalizeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lookup(jobID)
}

func (m *MemoryJobStore) ActiveForAgent(_ context.Context, agentID string) (*domain.FinalizeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobID, ok := m.byAgent[agentID]
	if !ok {
		return nil, nil
	}
	job, err := m.lookup(jobID)
	if err != nil || job.Status.IsTerminal() {
		return nil, nil
	}
	return job, nil
}

// lookup must be called with mu held.
func (m *MemoryJobStore) lookup(jobID string) (*domain.FinalizeJob, error) {
	entry, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if m.now().After(entry.expiresAt) {
		delete(m.jobs, jobID)
		if m.byAgent[entry.job.AgentID] == jobID {
			delete(m.byAgent, entry.job.AgentID)
		}
		return nil, domain.ErrJobNotFound
	}
	job := entry.job
	return &job, nil
}
