package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

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

	args, err := jobArgs(j)
	if err != nil {
		return id.Nil, fmt.Errorf("jobcontrol/sqlite: insert job: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobcontrol_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return id.Nil, jobcontrol.ErrJobAlreadyExists
		}
		return id.Nil, fmt.Errorf("jobcontrol/sqlite: insert job: %w", err)
	}
	return j.ID, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobcontrol_jobs WHERE id = ?`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobcontrol.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobcontrol/sqlite: get job: %w", err)
	}
	return j, nil
}

// Find returns jobs matching q ordered by creation time. Projections are
// not applied; whole records are returned.
func (s *Store) Find(ctx context.Context, q job.Query) ([]*job.Job, error) {
	where, args := whereClause(q)
	query := `SELECT ` + jobColumns + ` FROM jobcontrol_jobs` + where + ` ORDER BY created_at ASC`
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobcontrol/sqlite: find jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("jobcontrol/sqlite: scan job row: %w", scanErr)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobcontrol/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}

// Count returns the number of jobs matching q.
func (s *Store) Count(ctx context.Context, q job.Query) (int64, error) {
	where, args := whereClause(q)

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobcontrol_jobs`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("jobcontrol/sqlite: count jobs: %w", err)
	}
	return n, nil
}

// UpdateStatus applies a compare-and-set transition.
func (s *Store) UpdateStatus(ctx context.Context, jobID id.JobID, t job.Transition) error {
	if !job.CanTransition(t.From, t.To) {
		return jobcontrol.ErrInvalidState
	}

	now := formatTime(s.now())
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(t.To), now}
	set := func(expr string, a ...any) {
		sets = append(sets, expr)
		args = append(args, a...)
	}

	if t.IncrementRetry {
		set("retry_count = retry_count + 1")
	}
	if !t.RunAt.IsZero() {
		set("run_at = ?", formatTime(t.RunAt))
	}
	if t.LastError != "" {
		set("last_error = ?", t.LastError)
	}
	switch t.To {
	case job.StatusReady:
		set("worker_id = ''")
	case job.StatusCompleted:
		resultData, err := marshalMap(t.ResultData)
		if err != nil {
			return fmt.Errorf("jobcontrol/sqlite: encode result data: %w", err)
		}
		set("result = ?", t.Result)
		set("result_data = ?", resultData)
	}
	if t.To.IsTerminal() {
		set("completed_at = ?", now)
	}

	query := `UPDATE jobcontrol_jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status = ?`
	args = append(args, jobID.String(), string(t.From))
	if !t.WorkerID.IsNil() {
		query += ` AND worker_id = ?`
		args = append(args, t.WorkerID.String())
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("jobcontrol/sqlite: update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 { //nolint:errcheck // go-sqlite3 always reports rows
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM jobcontrol_jobs WHERE id = ?)`, jobID.String(),
	).Scan(&exists); err != nil {
		return fmt.Errorf("jobcontrol/sqlite: update status: %w", err)
	}
	if !exists {
		return jobcontrol.ErrJobNotFound
	}
	return jobcontrol.ErrInvalidState
}

// Claim moves the oldest due ready job of q.Type to running. SQLite has a
// single writer, so the UPDATE ... RETURNING is atomic without row locks.
func (s *Store) Claim(ctx context.Context, q job.ClaimQuery) (*job.Job, error) {
	now := formatTime(s.now())
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobcontrol_jobs
		SET status = 'running', worker_id = ?, started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobcontrol_jobs
			WHERE type = ?
			  AND status = 'ready'
			  AND run_at <= ?
			ORDER BY run_at ASC, created_at ASC
			LIMIT 1
		)
		RETURNING `+jobColumns,
		q.WorkerID.String(), now, now, q.Type, formatTime(q.Now),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil //nolint:nilnil // nothing claimable is not an error
		}
		return nil, fmt.Errorf("jobcontrol/sqlite: claim job: %w", err)
	}
	return j, nil
}

// RemoveMany deletes the given jobs.
func (s *Store) RemoveMany(ctx context.Context, ids []id.JobID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in, args := inList(id.Strings(ids))
	return s.exec(ctx, "remove jobs", `DELETE FROM jobcontrol_jobs WHERE id IN (`+in+`)`, args...)
}

// CancelActive cancels every non-terminal job of jobType.
func (s *Store) CancelActive(ctx context.Context, jobType string) (int64, error) {
	now := formatTime(s.now())
	return s.exec(ctx, "cancel active", `
		UPDATE jobcontrol_jobs
		SET status = 'cancelled', updated_at = ?, completed_at = ?
		WHERE type = ? AND status IN ('pending', 'ready', 'running')`,
		now, now, jobType,
	)
}

// Promote moves due pending jobs of jobType to ready.
func (s *Store) Promote(ctx context.Context, jobType string, now time.Time) (int64, error) {
	return s.exec(ctx, "promote", `
		UPDATE jobcontrol_jobs
		SET status = 'ready', updated_at = ?
		WHERE type = ? AND status = 'pending' AND run_at <= ?`,
		formatTime(s.now()), jobType, formatTime(now),
	)
}

// Reclaim returns running jobs of jobType not updated since cutoff to
// ready. The retry count is left unchanged.
func (s *Store) Reclaim(ctx context.Context, jobType string, cutoff time.Time) (int64, error) {
	return s.exec(ctx, "reclaim", `
		UPDATE jobcontrol_jobs
		SET status = 'ready', worker_id = '', updated_at = ?
		WHERE type = ? AND status = 'running' AND updated_at < ?`,
		formatTime(s.now()), jobType, formatTime(cutoff),
	)
}

// ──────────────────────────────────────────────────
// Query helpers
// ──────────────────────────────────────────────────

// exec runs a statement and returns the affected row count.
func (s *Store) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("jobcontrol/sqlite: %s: %w", op, err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // go-sqlite3 always reports rows
	return n, nil
}

// whereClause renders q's filters as a WHERE clause.
func whereClause(q job.Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if len(q.Types) > 0 {
		in, a := inList(q.Types)
		conds = append(conds, "type IN ("+in+")")
		args = append(args, a...)
	}
	if len(q.ExcludeTypes) > 0 {
		in, a := inList(q.ExcludeTypes)
		conds = append(conds, "type NOT IN ("+in+")")
		args = append(args, a...)
	}
	if len(q.Statuses) > 0 {
		in, a := inList(q.StatusStrings())
		conds = append(conds, "status IN ("+in+")")
		args = append(args, a...)
	}
	if !q.UpdatedBefore.IsZero() {
		conds = append(conds, "updated_at < ?")
		args = append(args, formatTime(q.UpdatedBefore))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// inList returns a placeholder list for values.
func inList(values []string) (string, []any) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", "), args
}
