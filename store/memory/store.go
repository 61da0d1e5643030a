package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/jobcontrol"
	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

// Ensure Store implements the job contracts at compile time.
// We can't import store here (import cycle in tests), so we verify each part.
var (
	_ job.Store   = (*Store)(nil)
	_ job.Watcher = (*Store)(nil)
)

// watchBuffer is the per-subscriber channel capacity. A full buffer means
// the subscriber already has a wake-up queued, so further sends are dropped.
const watchBuffer = 64

// Option configures a memory Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp mutations.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
	now  func() time.Time

	subMu sync.Mutex
	subs  map[string]map[chan job.Change]struct{}
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs: make(map[string]*job.Job),
		now:  func() time.Time { return time.Now().UTC() },
		subs: make(map[string]map[chan job.Change]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// Insert persists a new job. A nil ID is assigned, an empty status
// defaults to ready.
func (m *Store) Insert(_ context.Context, j *job.Job) (id.JobID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j.ID.IsNil() {
		j.ID = id.NewJobID()
	}
	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return id.Nil, jobcontrol.ErrJobAlreadyExists
	}

	now := m.now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	if j.Status == "" {
		j.Status = job.StatusReady
	}
	if j.RunAt.IsZero() {
		j.RunAt = now
	}

	m.jobs[key] = j.Clone()
	m.notify(j, job.OpInserted)
	return j.ID, nil
}

// Get retrieves a job by ID.
func (m *Store) Get(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobcontrol.ErrJobNotFound
	}
	return j.Clone(), nil
}

// Find returns jobs matching q ordered by creation time.
func (m *Store) Find(_ context.Context, q job.Query) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.matching(q)
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	result := make([]*job.Job, len(matched))
	for i, j := range matched {
		result[i] = job.Project(j, q.Fields)
	}
	return result, nil
}

// Count returns the number of jobs matching q.
func (m *Store) Count(_ context.Context, q job.Query) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if q.Matches(j) {
			n++
		}
	}
	return n, nil
}

// UpdateStatus applies a compare-and-set transition.
func (m *Store) UpdateStatus(_ context.Context, jobID id.JobID, t job.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return jobcontrol.ErrJobNotFound
	}
	if !t.Allows(j) {
		return jobcontrol.ErrInvalidState
	}
	t.Apply(j, m.now())
	m.notify(j, job.OpUpdated)
	return nil
}

// Claim moves the oldest due ready job of q.Type to running.
func (m *Store) Claim(_ context.Context, q job.ClaimQuery) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *job.Job
	for _, j := range m.jobs {
		if j.Type != q.Type || j.Status != job.StatusReady || j.RunAt.After(q.Now) {
			continue
		}
		if next == nil || j.RunAt.Before(next.RunAt) ||
			(j.RunAt.Equal(next.RunAt) && j.CreatedAt.Before(next.CreatedAt)) {
			next = j
		}
	}
	if next == nil {
		return nil, nil //nolint:nilnil // nothing claimable is not an error
	}

	now := m.now()
	next.Status = job.StatusRunning
	next.WorkerID = q.WorkerID
	next.StartedAt = &now
	next.UpdatedAt = now
	m.notify(next, job.OpUpdated)

	// Return a copy so callers can mutate without racing with the store.
	return next.Clone(), nil
}

// RemoveMany deletes the given jobs.
func (m *Store) RemoveMany(_ context.Context, ids []id.JobID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, jobID := range ids {
		key := jobID.String()
		if _, ok := m.jobs[key]; ok {
			delete(m.jobs, key)
			n++
		}
	}
	return n, nil
}

// CancelActive cancels every non-terminal job of jobType.
func (m *Store) CancelActive(_ context.Context, jobType string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var n int64
	for _, j := range m.jobs {
		if j.Type != jobType || j.Status.IsTerminal() {
			continue
		}
		job.Transition{From: j.Status, To: job.StatusCancelled}.Apply(j, now)
		m.notify(j, job.OpUpdated)
		n++
	}
	return n, nil
}

// Promote moves due pending jobs of jobType to ready.
func (m *Store) Promote(_ context.Context, jobType string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stamp := m.now()
	var n int64
	for _, j := range m.jobs {
		if j.Type != jobType || j.Status != job.StatusPending || j.RunAt.After(now) {
			continue
		}
		job.Transition{From: job.StatusPending, To: job.StatusReady}.Apply(j, stamp)
		m.notify(j, job.OpUpdated)
		n++
	}
	return n, nil
}

// Reclaim returns abandoned running jobs of jobType to ready.
func (m *Store) Reclaim(_ context.Context, jobType string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stamp := m.now()
	var n int64
	for _, j := range m.jobs {
		if j.Type != jobType || j.Status != job.StatusRunning || !j.UpdatedAt.Before(cutoff) {
			continue
		}
		job.Transition{From: job.StatusRunning, To: job.StatusReady}.Apply(j, stamp)
		m.notify(j, job.OpUpdated)
		n++
	}
	return n, nil
}

// matching returns live records matching q sorted by CreatedAt.
// Callers must hold m.mu.
func (m *Store) matching(q job.Query) []*job.Job {
	out := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if q.Matches(j) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID.String() < out[k].ID.String()
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}

// ──────────────────────────────────────────────────
// Change feed
// ──────────────────────────────────────────────────

// Watch subscribes to changes of jobType. The channel is closed when ctx
// is done.
func (m *Store) Watch(ctx context.Context, jobType string) (<-chan job.Change, error) {
	ch := make(chan job.Change, watchBuffer)

	m.subMu.Lock()
	set, ok := m.subs[jobType]
	if !ok {
		set = make(map[chan job.Change]struct{})
		m.subs[jobType] = set
	}
	set[ch] = struct{}{}
	m.subMu.Unlock()

	go func() {
		<-ctx.Done()
		m.subMu.Lock()
		delete(m.subs[jobType], ch)
		close(ch)
		m.subMu.Unlock()
	}()

	return ch, nil
}

// notify fans a change out to the subscribers of j.Type without blocking.
func (m *Store) notify(j *job.Job, op job.Op) {
	c := job.Change{JobID: j.ID, Type: j.Type, Status: j.Status, Op: op}

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs[j.Type] {
		select {
		case ch <- c:
		default:
		}
	}
}
