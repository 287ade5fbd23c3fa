// Package jobs runs background analysis work (KYC traces, forward/backward
// traces) off the request goroutine and tracks status for later polling.
// Cancellation is advisory: a cancelled job's context is cancelled, but the
// engine itself only checks for that at its own suspension points.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/utxo-provenance/pkg/models"
)

// Runner is the work a dispatched job performs. It must respect ctx
// cancellation at its own suspension points.
type Runner func(ctx context.Context) (result string, err error)

// Persister is the subset of store.Store the manager needs. Left as an
// interface so the manager can run with no database configured at all.
type Persister interface {
	CreateJob(ctx context.Context, job models.AnalysisJob) error
	UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, result, jobErr string) error
}

type entry struct {
	job    models.AnalysisJob
	cancel context.CancelFunc
}

// Manager tracks in-flight and completed background jobs in memory, and
// optionally mirrors status transitions to a durable store.
type Manager struct {
	mu    sync.RWMutex
	jobs  map[string]*entry
	store Persister
}

// NewManager builds a job manager. store may be nil, in which case job
// state lives only in memory for the life of the process.
func NewManager(store Persister) *Manager {
	return &Manager{jobs: make(map[string]*entry), store: store}
}

// Dispatch starts run in a new goroutine and returns immediately with the
// job's queued record. The background context is derived from ctx but
// outlives the caller's request lifetime; only Cancel or the job finishing
// ends it.
func (m *Manager) Dispatch(ctx context.Context, kind, request string, run Runner) models.AnalysisJob {
	now := time.Now()
	job := models.AnalysisJob{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    models.JobQueued,
		Request:   request,
		CreatedAt: now,
		UpdatedAt: now,
	}
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m.mu.Lock()
	m.jobs[job.ID] = &entry{job: job, cancel: cancel}
	m.mu.Unlock()

	if m.store != nil {
		_ = m.store.CreateJob(ctx, job)
	}

	go m.run(jobCtx, job.ID, run)
	return job
}

func (m *Manager) run(ctx context.Context, id string, run Runner) {
	m.setStatus(ctx, id, models.JobRunning, "", "")
	result, err := run(ctx)
	if err != nil {
		m.setStatus(ctx, id, models.JobFailed, "", err.Error())
		return
	}
	m.setStatus(ctx, id, models.JobDone, result, "")
}

func (m *Manager) setStatus(ctx context.Context, id string, status models.JobStatus, result, jobErr string) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if ok {
		e.job.Status = status
		e.job.Result = result
		e.job.Error = jobErr
		e.job.UpdatedAt = time.Now()
	}
	m.mu.Unlock()

	if ok && m.store != nil {
		_ = m.store.UpdateJobStatus(ctx, id, status, result, jobErr)
	}
}

// Get returns a snapshot of one job's current state.
func (m *Manager) Get(id string) (models.AnalysisJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	if !ok {
		return models.AnalysisJob{}, false
	}
	return e.job, true
}

// List returns a snapshot of every tracked job.
func (m *Manager) List() []models.AnalysisJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]models.AnalysisJob, 0, len(m.jobs))
	for _, e := range m.jobs {
		list = append(list, e.job)
	}
	return list
}

// Cancel signals a running job's context. It does not force the job to
// stop; the engine running it only observes cancellation at its next
// suspension point. Returns false if the job is unknown.
func (m *Manager) Cancel(id string) bool {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	e.cancel()
	return true
}
