package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil //nolint:nilnil // NULL column
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// marshalMap encodes a JSON object column. Nil maps are stored as NULL.
func marshalMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalMap(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ── Job row ─────────────────────────────────────────────────────

const jobColumns = `
	id, type, status, data, retry, retry_count,
	repeat_schedule, repeat_id, repeated, cancel_repeats,
	run_at, worker_id, result, result_data, last_error,
	started_at, completed_at, created_at, updated_at`

// jobArgs returns the insert arguments for j in jobColumns order.
func jobArgs(j *job.Job) ([]any, error) {
	data, err := marshalMap(j.Data)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	retry, err := json.Marshal(j.Retry)
	if err != nil {
		return nil, fmt.Errorf("encode retry: %w", err)
	}
	resultData, err := marshalMap(j.ResultData)
	if err != nil {
		return nil, fmt.Errorf("encode result data: %w", err)
	}
	return []any{
		j.ID.String(), j.Type, string(j.Status), data, string(retry), j.RetryCount,
		j.RepeatSchedule, j.RepeatID, j.Repeated, j.CancelRepeats,
		formatTime(j.RunAt), j.WorkerID.String(), j.Result, resultData, j.LastError,
		formatTimePtr(j.StartedAt), formatTimePtr(j.CompletedAt),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt),
	}, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob scans a full row selected with jobColumns.
func scanJob(row rowScanner) (*job.Job, error) {
	var (
		idStr, status, retry, runAt, workerID string
		createdAt, updatedAt                  string
		data, resultData                      sql.NullString
		startedAt, completedAt                sql.NullString
		j                                     job.Job
	)
	err := row.Scan(
		&idStr, &j.Type, &status, &data, &retry, &j.RetryCount,
		&j.RepeatSchedule, &j.RepeatID, &j.Repeated, &j.CancelRepeats,
		&runAt, &workerID, &j.Result, &resultData, &j.LastError,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if j.ID, err = id.ParseJobID(idStr); err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", idStr, err)
	}
	j.Status = job.Status(status)
	j.WorkerID = id.ParseWorkerIDOrNil(workerID)
	if j.Data, err = unmarshalMap(data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	if j.ResultData, err = unmarshalMap(resultData); err != nil {
		return nil, fmt.Errorf("decode result data: %w", err)
	}
	if err = json.Unmarshal([]byte(retry), &j.Retry); err != nil {
		return nil, fmt.Errorf("decode retry: %w", err)
	}
	if j.RunAt, err = parseTime(runAt); err != nil {
		return nil, fmt.Errorf("parse run_at: %w", err)
	}
	if j.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if j.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &j, nil
}
