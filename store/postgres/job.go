package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/jobcontrol"
	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

const jobColumns = `
	id, type, status, data, retry, retry_count,
	repeat_schedule, repeat_id, repeated, cancel_repeats,
	run_at, worker_id, result, result_data, last_error,
	started_at, completed_at, created_at, updated_at`

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

	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobcontrol_jobs (`+jobColumns+`)
		VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19
		)`,
		j.ID.String(), j.Type, string(j.Status), j.Data, j.Retry, j.RetryCount,
		j.RepeatSchedule, j.RepeatID, j.Repeated, j.CancelRepeats,
		j.RunAt, j.WorkerID.String(), j.Result, j.ResultData, j.LastError,
		j.StartedAt, j.CompletedAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return id.Nil, jobcontrol.ErrJobAlreadyExists
		}
		return id.Nil, fmt.Errorf("jobcontrol/postgres: insert job: %w", err)
	}
	return j.ID, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobcontrol_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobcontrol.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobcontrol/postgres: get job: %w", err)
	}
	return j, nil
}

// Find returns jobs matching q ordered by creation time. When q.Fields is
// set only those columns are read.
func (s *Store) Find(ctx context.Context, q job.Query) ([]*job.Job, error) {
	cols, project := projection(q.Fields)
	where, args := whereClause(q)

	query := `SELECT ` + cols + ` FROM jobcontrol_jobs` + where + ` ORDER BY created_at ASC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobcontrol/postgres: find jobs: %w", err)
	}
	defer rows.Close()

	if project != nil {
		return collectProjected(rows, project)
	}
	return collectJobs(rows)
}

// Count returns the number of jobs matching q.
func (s *Store) Count(ctx context.Context, q job.Query) (int64, error) {
	where, args := whereClause(q)

	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobcontrol_jobs`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("jobcontrol/postgres: count jobs: %w", err)
	}
	return count, nil
}

// UpdateStatus applies a compare-and-set transition.
func (s *Store) UpdateStatus(ctx context.Context, jobID id.JobID, t job.Transition) error {
	if !job.CanTransition(t.From, t.To) {
		return jobcontrol.ErrInvalidState
	}

	now := s.now()
	var runAt *time.Time
	if !t.RunAt.IsZero() {
		runAt = &t.RunAt
	}
	retryInc := 0
	if t.IncrementRetry {
		retryInc = 1
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobcontrol_jobs SET
			status       = $2,
			updated_at   = $3,
			retry_count  = retry_count + $4,
			run_at       = COALESCE($5::timestamptz, run_at),
			last_error   = CASE WHEN $6::text <> '' THEN $6::text ELSE last_error END,
			worker_id    = CASE WHEN $2 = 'ready' THEN '' ELSE worker_id END,
			result       = CASE WHEN $2 = 'completed' THEN $7 ELSE result END,
			result_data  = CASE WHEN $2 = 'completed' THEN $8::jsonb ELSE result_data END,
			completed_at = CASE WHEN $9::bool THEN $3 ELSE completed_at END
		WHERE id = $1
		  AND status = $10
		  AND ($11::text = '' OR worker_id = $11::text)`,
		jobID.String(), string(t.To), now, retryInc,
		runAt, t.LastError, t.Result, t.ResultData, t.To.IsTerminal(),
		string(t.From), t.WorkerID.String(),
	)
	if err != nil {
		return fmt.Errorf("jobcontrol/postgres: update status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM jobcontrol_jobs WHERE id = $1)`, jobID.String(),
	).Scan(&exists); err != nil {
		return fmt.Errorf("jobcontrol/postgres: update status: %w", err)
	}
	if !exists {
		return jobcontrol.ErrJobNotFound
	}
	return jobcontrol.ErrInvalidState
}

// Claim atomically moves the oldest due ready job of q.Type to running.
// Concurrent claimers skip rows locked by each other.
func (s *Store) Claim(ctx context.Context, q job.ClaimQuery) (*job.Job, error) {
	now := s.now()
	row := s.pool.QueryRow(ctx, `
		UPDATE jobcontrol_jobs
		SET status = 'running', worker_id = $3, started_at = $4, updated_at = $4
		WHERE id = (
			SELECT id FROM jobcontrol_jobs
			WHERE type = $1
			  AND status = 'ready'
			  AND run_at <= $2
			ORDER BY run_at ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		q.Type, q.Now, q.WorkerID.String(), now,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil //nolint:nilnil // nothing claimable is not an error
		}
		return nil, fmt.Errorf("jobcontrol/postgres: claim job: %w", err)
	}
	return j, nil
}

// RemoveMany deletes the given jobs.
func (s *Store) RemoveMany(ctx context.Context, ids []id.JobID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobcontrol_jobs WHERE id = ANY($1)`,
		id.Strings(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("jobcontrol/postgres: remove jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CancelActive cancels every non-terminal job of jobType.
func (s *Store) CancelActive(ctx context.Context, jobType string) (int64, error) {
	now := s.now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobcontrol_jobs
		SET status = 'cancelled', updated_at = $2, completed_at = $2
		WHERE type = $1 AND status IN ('pending', 'ready', 'running')`,
		jobType, now,
	)
	if err != nil {
		return 0, fmt.Errorf("jobcontrol/postgres: cancel active: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Promote moves due pending jobs of jobType to ready.
func (s *Store) Promote(ctx context.Context, jobType string, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobcontrol_jobs
		SET status = 'ready', updated_at = $3
		WHERE type = $1 AND status = 'pending' AND run_at <= $2`,
		jobType, now, s.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("jobcontrol/postgres: promote: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Reclaim returns running jobs of jobType not updated since cutoff to
// ready. The retry count is left unchanged.
func (s *Store) Reclaim(ctx context.Context, jobType string, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobcontrol_jobs
		SET status = 'ready', worker_id = '', updated_at = $3
		WHERE type = $1 AND status = 'running' AND updated_at < $2`,
		jobType, cutoff, s.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("jobcontrol/postgres: reclaim: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ──────────────────────────────────────────────────
// Query helpers
// ──────────────────────────────────────────────────

// whereClause renders q's filters as a WHERE clause with positional args.
func whereClause(q job.Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(q.Types) > 0 {
		add("type = ANY($%d)", q.Types)
	}
	if len(q.ExcludeTypes) > 0 {
		add("NOT (type = ANY($%d))", q.ExcludeTypes)
	}
	if len(q.Statuses) > 0 {
		add("status = ANY($%d)", q.StatusStrings())
	}
	if !q.UpdatedBefore.IsZero() {
		add("updated_at < $%d", q.UpdatedBefore)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
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

// projection returns the column list for fields. The field list is nil
// when the full record must be read.
func projection(fields []string) (string, []string) {
	if len(fields) == 0 {
		return jobColumns, nil
	}
	cols := []string{"id"}
	kept := []string{job.FieldID}
	for _, f := range fields {
		col, ok := projectable[f]
		if !ok {
			return jobColumns, nil
		}
		if f == job.FieldID {
			continue
		}
		cols = append(cols, col)
		kept = append(kept, f)
	}
	return strings.Join(cols, ", "), kept
}

// scanJob scans a single full job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		statusStr string
		workerStr string
	)
	err := row.Scan(
		&idStr, &j.Type, &statusStr, &j.Data, &j.Retry, &j.RetryCount,
		&j.RepeatSchedule, &j.RepeatID, &j.Repeated, &j.CancelRepeats,
		&j.RunAt, &workerStr, &j.Result, &j.ResultData, &j.LastError,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("jobcontrol/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID
	j.Status = job.Status(statusStr)
	j.WorkerID = id.ParseWorkerIDOrNil(workerStr)
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobcontrol/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobcontrol/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

// collectProjected scans rows holding only the given fields.
func collectProjected(rows pgx.Rows, fields []string) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		var (
			j         job.Job
			idStr     string
			statusStr string
		)
		dest := make([]any, 0, len(fields))
		for _, f := range fields {
			switch f {
			case job.FieldID:
				dest = append(dest, &idStr)
			case job.FieldType:
				dest = append(dest, &j.Type)
			case job.FieldStatus:
				dest = append(dest, &statusStr)
			case job.FieldUpdatedAt:
				dest = append(dest, &j.UpdatedAt)
			case job.FieldCreatedAt:
				dest = append(dest, &j.CreatedAt)
			case job.FieldRunAt:
				dest = append(dest, &j.RunAt)
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("jobcontrol/postgres: scan projected row: %w", err)
		}
		parsedID, err := id.ParseJobID(idStr)
		if err != nil {
			return nil, fmt.Errorf("jobcontrol/postgres: parse job id %q: %w", idStr, err)
		}
		j.ID = parsedID
		j.Status = job.Status(statusStr)
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobcontrol/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
