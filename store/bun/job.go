package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/xraph/jobcontrol"
	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

// Insert persists a new job. A nil ID is assigned, an empty status
// defaults to ready and a zero RunAt to now.
func (s *Store) Insert(ctx context.Context, j *job.Job) (id.JobID, error) {
	if j.ID.IsNil() {
		j.ID = id.NewJobID()
	}
	now := s.now()
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

	m := toJobModel(j)
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return id.Nil, jobcontrol.ErrJobAlreadyExists
		}
		return id.Nil, fmt.Errorf("jobcontrol/bun: insert job: %w", err)
	}
	return j.ID, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).Where("id = ?", jobID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, jobcontrol.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobcontrol/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// Find returns jobs matching q ordered by creation time. When q.Fields is
// set only those columns are read.
func (s *Store) Find(ctx context.Context, q job.Query) ([]*job.Job, error) {
	var models []jobModel
	sq := applyQuery(s.db.NewSelect().Model(&models), q).OrderExpr("created_at ASC")
	if cols := projection(q.Fields); cols != nil {
		sq = sq.Column(cols...)
	}
	if q.Limit > 0 {
		sq = sq.Limit(q.Limit)
	}

	if err := sq.Scan(ctx); err != nil {
		return nil, fmt.Errorf("jobcontrol/bun: find jobs: %w", err)
	}
	return fromJobModels(models)
}

// Count returns the number of jobs matching q.
func (s *Store) Count(ctx context.Context, q job.Query) (int64, error) {
	n, err := applyQuery(s.db.NewSelect().Model((*jobModel)(nil)), q).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("jobcontrol/bun: count jobs: %w", err)
	}
	return int64(n), nil
}

// UpdateStatus applies a compare-and-set transition.
func (s *Store) UpdateStatus(ctx context.Context, jobID id.JobID, t job.Transition) error {
	if !job.CanTransition(t.From, t.To) {
		return jobcontrol.ErrInvalidState
	}

	now := s.now()
	uq := s.db.NewUpdate().Model((*jobModel)(nil)).
		Set("status = ?", string(t.To)).
		Set("updated_at = ?", now).
		Where("id = ?", jobID.String()).
		Where("status = ?", string(t.From))

	if !t.WorkerID.IsNil() {
		uq = uq.Where("worker_id = ?", t.WorkerID.String())
	}
	if t.IncrementRetry {
		uq = uq.Set("retry_count = retry_count + 1")
	}
	if !t.RunAt.IsZero() {
		uq = uq.Set("run_at = ?", t.RunAt)
	}
	if t.LastError != "" {
		uq = uq.Set("last_error = ?", t.LastError)
	}
	switch t.To {
	case job.StatusReady:
		uq = uq.Set("worker_id = ''")
	case job.StatusCompleted:
		uq = uq.Set("result = ?", t.Result).Set("result_data = ?", t.ResultData)
	}
	if t.To.IsTerminal() {
		uq = uq.Set("completed_at = ?", now)
	}

	res, err := uq.Exec(ctx)
	if err != nil {
		return fmt.Errorf("jobcontrol/bun: update status: %w", err)
	}
	if rowsAffected(res) == 1 {
		return nil
	}

	exists, err := s.db.NewSelect().Model((*jobModel)(nil)).Where("id = ?", jobID.String()).Exists(ctx)
	if err != nil {
		return fmt.Errorf("jobcontrol/bun: update status: %w", err)
	}
	if !exists {
		return jobcontrol.ErrJobNotFound
	}
	return jobcontrol.ErrInvalidState
}

// Claim atomically moves the oldest due ready job of q.Type to running.
// Concurrent claimers skip rows locked by each other.
func (s *Store) Claim(ctx context.Context, q job.ClaimQuery) (*job.Job, error) {
	var models []jobModel
	now := s.now()
	err := s.db.NewRaw(`
		UPDATE jobcontrol_jobs
		SET status = 'running', worker_id = ?2, started_at = ?3, updated_at = ?3
		WHERE id = (
			SELECT id FROM jobcontrol_jobs
			WHERE type = ?0
			  AND status = 'ready'
			  AND run_at <= ?1
			ORDER BY run_at ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING *`,
		q.Type, q.Now, q.WorkerID.String(), now,
	).Scan(ctx, &models)
	if err != nil && !isNoRows(err) {
		return nil, fmt.Errorf("jobcontrol/bun: claim job: %w", err)
	}
	if len(models) == 0 {
		return nil, nil //nolint:nilnil // nothing claimable is not an error
	}
	return fromJobModel(&models[0])
}

// RemoveMany deletes the given jobs.
func (s *Store) RemoveMany(ctx context.Context, ids []id.JobID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.NewDelete().Model((*jobModel)(nil)).
		Where("id = ANY(?)", pgdialect.Array(id.Strings(ids))).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("jobcontrol/bun: remove jobs: %w", err)
	}
	return rowsAffected(res), nil
}

// CancelActive cancels every non-terminal job of jobType.
func (s *Store) CancelActive(ctx context.Context, jobType string) (int64, error) {
	now := s.now()
	res, err := s.db.NewUpdate().Model((*jobModel)(nil)).
		Set("status = ?", string(job.StatusCancelled)).
		Set("updated_at = ?", now).
		Set("completed_at = ?", now).
		Where("type = ?", jobType).
		Where("status IN (?)", bun.In(statusStrings(job.ActiveStatuses()))).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("jobcontrol/bun: cancel active: %w", err)
	}
	return rowsAffected(res), nil
}

// Promote moves due pending jobs of jobType to ready.
func (s *Store) Promote(ctx context.Context, jobType string, now time.Time) (int64, error) {
	res, err := s.db.NewUpdate().Model((*jobModel)(nil)).
		Set("status = ?", string(job.StatusReady)).
		Set("updated_at = ?", s.now()).
		Where("type = ?", jobType).
		Where("status = ?", string(job.StatusPending)).
		Where("run_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("jobcontrol/bun: promote: %w", err)
	}
	return rowsAffected(res), nil
}

// Reclaim returns running jobs of jobType not updated since cutoff to
// ready. The retry count is left unchanged.
func (s *Store) Reclaim(ctx context.Context, jobType string, cutoff time.Time) (int64, error) {
	res, err := s.db.NewUpdate().Model((*jobModel)(nil)).
		Set("status = ?", string(job.StatusReady)).
		Set("worker_id = ''").
		Set("updated_at = ?", s.now()).
		Where("type = ?", jobType).
		Where("status = ?", string(job.StatusRunning)).
		Where("updated_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("jobcontrol/bun: reclaim: %w", err)
	}
	return rowsAffected(res), nil
}

// ──────────────────────────────────────────────────
// Query helpers
// ──────────────────────────────────────────────────

// applyQuery adds q's filters to a select.
func applyQuery(sq *bun.SelectQuery, q job.Query) *bun.SelectQuery {
	if len(q.Types) > 0 {
		sq = sq.Where("type IN (?)", bun.In(q.Types))
	}
	if len(q.ExcludeTypes) > 0 {
		sq = sq.Where("type NOT IN (?)", bun.In(q.ExcludeTypes))
	}
	if len(q.Statuses) > 0 {
		sq = sq.Where("status IN (?)", bun.In(q.StatusStrings()))
	}
	if !q.UpdatedBefore.IsZero() {
		sq = sq.Where("updated_at < ?", q.UpdatedBefore)
	}
	return sq
}

// projectable maps Query.Fields names to columns.
var projectable = map[string]string{
	job.FieldID:        "id",
	job.FieldType:      "type",
	job.FieldStatus:    "status",
	job.FieldUpdatedAt: "updated_at",
	job.FieldCreatedAt: "created_at",
	job.FieldRunAt:     "run_at",
}

// projection returns the columns to select for fields, or nil when the
// full record must be read.
func projection(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	cols := []string{"id"}
	for _, f := range fields {
		col, ok := projectable[f]
		if !ok {
			return nil
		}
		if f != job.FieldID {
			cols = append(cols, col)
		}
	}
	return cols
}

func statusStrings(statuses []job.Status) []string {
	return job.Query{Statuses: statuses}.StatusStrings()
}
