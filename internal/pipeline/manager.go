package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voc-insights-go/internal/aggregator"
	"voc-insights-go/internal/logger"
	"voc-insights-go/internal/store"
	"voc-insights-go/internal/types"
)

var (
	ErrBusy          = errors.New("a generation job is already running")
	ErrJobNotFound   = errors.New("job not found")
	ErrJobFinished   = errors.New("job already finished")
	ErrNothingToSave = errors.New("job has no unsaved snapshot")
	ErrManagerClose  = errors.New("manager closed")
)

// DefaultHistory is how many finished jobs a manager remembers.
const DefaultHistory = 50

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Done() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Job is a snapshot of one generation's state. Values returned by the
// manager are copies.
type Job struct {
	ID       string              `json:"id"`
	Status   Status              `json:"status"`
	Month    string              `json:"month"`
	Country  types.Country       `json:"country"`
	Key      string              `json:"key"`
	Progress aggregator.Progress `json:"progress"`
	Error    string              `json:"error,omitempty"`
	// Unsaved is set when the snapshot was built but the save failed;
	// RetrySave persists it without re-running summarization.
	Unsaved    bool      `json:"unsaved,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

type jobState struct {
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
	// pending holds a built snapshot whose save failed.
	pending *Result
}

type ManagerOption func(*Manager)

// WithHistory bounds how many finished jobs stay queryable.
func WithHistory(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.history = n
		}
	}
}

// Manager runs at most one generation at a time and tracks the jobs it
// started. Store writes assume a single writer, hence one job at a time.
type Manager struct {
	runner  *Runner
	history int

	mu      sync.Mutex
	jobs    map[string]*jobState
	order   []string
	current string
	closed  bool
	wg      sync.WaitGroup
	log     *logrus.Entry
}

func NewManager(r *Runner, opts ...ManagerOption) *Manager {
	m := &Manager{
		runner:  r,
		history: DefaultHistory,
		jobs:    map[string]*jobState{},
		log:     logger.Component("pipeline.manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start validates req and launches it in the background.
func (m *Manager) Start(req Request) (Job, error) {
	key, err := store.KeyFor(req.Month, req.Country)
	if err != nil {
		m.discard(req)
		return Job{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.discard(req)
		return Job{}, ErrManagerClose
	}
	if m.current != "" {
		m.discard(req)
		return Job{}, ErrBusy
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	req.RunID = id
	st := &jobState{
		job: Job{
			ID:        id,
			Status:    StatusQueued,
			Month:     req.Month,
			Country:   req.Country,
			Key:       key,
			CreatedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.jobs[id] = st
	m.order = append(m.order, id)
	m.current = id

	m.wg.Add(1)
	go m.run(ctx, st, req)

	m.log.WithFields(logrus.Fields{"job_id": id, "key": key}).Info("job queued")
	return st.job, nil
}

func (m *Manager) run(ctx context.Context, st *jobState, req Request) {
	defer m.wg.Done()
	defer close(st.done)
	defer m.discard(req)
	log := m.log.WithField("job_id", st.job.ID)

	m.update(st, func(j *Job) {
		j.Status = StatusRunning
		j.StartedAt = time.Now().UTC()
	})
	log.Info("job started")

	res, err := m.runner.run(ctx, req, func(p aggregator.Progress) {
		m.update(st, func(j *Job) { j.Progress = p })
	})

	m.mu.Lock()
	st.job.FinishedAt = time.Now().UTC()
	switch {
	case err == nil:
		st.job.Status = StatusSucceeded
	case errors.Is(err, aggregator.ErrCancelled), errors.Is(err, context.Canceled):
		st.job.Status = StatusCancelled
		st.job.Error = err.Error()
	default:
		st.job.Status = StatusFailed
		st.job.Error = err.Error()
	}
	if errors.Is(err, ErrSave) {
		st.pending = &res
		st.job.Unsaved = true
	}
	status := st.job.Status
	if m.current == st.job.ID {
		m.current = ""
	}
	m.prune()
	m.mu.Unlock()
	st.cancel()

	if err != nil {
		log.WithFields(logrus.Fields{"status": status, "error": err.Error()}).Warn("job finished")
		return
	}
	log.WithField("status", status).Info("job finished")
}

// RetrySave persists the snapshot of a job whose save failed.
func (m *Manager) RetrySave(ctx context.Context, id string) (Job, error) {
	m.mu.Lock()
	st, ok := m.jobs[id]
	switch {
	case !ok:
		m.mu.Unlock()
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	case m.current != "":
		m.mu.Unlock()
		return Job{}, ErrBusy
	case st.pending == nil:
		job := st.job
		m.mu.Unlock()
		return job, fmt.Errorf("%w: %s", ErrNothingToSave, id)
	}
	// hold the single-writer slot while saving
	m.current = id
	res := *st.pending
	m.mu.Unlock()

	err := m.runner.Save(ctx, res)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = ""
	if err != nil {
		st.job.Error = err.Error()
		return st.job, err
	}
	st.pending = nil
	st.job.Unsaved = false
	st.job.Status = StatusSucceeded
	st.job.Error = ""
	st.job.FinishedAt = time.Now().UTC()
	m.log.WithFields(logrus.Fields{"job_id": id, "key": res.Key}).Info("snapshot saved on retry")
	return st.job, nil
}

// prune forgets the oldest finished jobs beyond the history limit.
// Callers hold m.mu.
func (m *Manager) prune() {
	finished := 0
	for _, id := range m.order {
		if m.jobs[id].job.Status.Done() {
			finished++
		}
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if finished > m.history && m.jobs[id].job.Status.Done() {
			delete(m.jobs, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

func (m *Manager) update(st *jobState, fn func(*Job)) {
	m.mu.Lock()
	fn(&st.job)
	m.mu.Unlock()
}

// discard removes a temporary upload.
func (m *Manager) discard(req Request) {
	if !req.Temporary || req.Path == "" {
		return
	}
	if err := os.Remove(req.Path); err != nil && !os.IsNotExist(err) {
		m.log.WithFields(logrus.Fields{"path": req.Path, "error": err.Error()}).Warn("remove upload failed")
	}
}

func (m *Manager) Get(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return st.job, nil
}

// Cancel asks a job to stop. The summary in flight completes first.
func (m *Manager) Cancel(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if st.job.Status.Done() {
		return st.job, ErrJobFinished
	}
	st.cancel()
	m.log.WithField("job_id", id).Info("cancellation requested")
	return st.job, nil
}

// Busy reports whether a job is queued, running or being re-saved.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != ""
}

// Wait blocks until the job ends or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Job, error) {
	m.mu.Lock()
	st, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	select {
	case <-st.done:
		// the job may already have been pruned from history
		m.mu.Lock()
		defer m.mu.Unlock()
		return st.job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Close cancels the running job and waits for it to stop.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for _, st := range m.jobs {
		st.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
