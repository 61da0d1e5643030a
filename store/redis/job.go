package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/jobcontrol"
	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

// Insert stores the job hash and adds it to its status index.
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

	fields, err := jobFields(j)
	if err != nil {
		return id.Nil, fmt.Errorf("jobcontrol/redis: insert job: %w", err)
	}
	args := append([]any{
		s.prefix, j.ID.String(), j.Type, string(j.Status), micros(j.RunAt), micros(j.UpdatedAt),
	}, fields...)

	n, err := insertScript.Run(ctx, s.client, []string{s.jobKey(j.ID.String())}, args...).Int()
	if err != nil {
		return id.Nil, fmt.Errorf("jobcontrol/redis: insert job: %w", err)
	}
	if n == 0 {
		return id.Nil, jobcontrol.ErrJobAlreadyExists
	}
	return j.ID, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, s.jobKey(jobID.String()))
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("jobcontrol/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, jobcontrol.ErrJobNotFound
	}
	return mapToJob(vals)
}

// Find returns jobs matching q ordered by creation time. Candidates come
// from the status indexes; remaining filters are applied after loading.
func (s *Store) Find(ctx context.Context, q job.Query) ([]*job.Job, error) {
	ids, err := s.candidates(ctx, q)
	if err != nil {
		return nil, err
	}

	read := readFields(q.Fields)
	pipe := s.client.Pipeline()
	cmds := make([]goredis.Cmder, len(ids))
	for i, jobID := range ids {
		if read == nil {
			cmds[i] = pipe.HGetAll(ctx, s.jobKey(jobID))
		} else {
			cmds[i] = pipe.HMGet(ctx, s.jobKey(jobID), read...)
		}
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("jobcontrol/redis: find jobs: %w", err)
		}
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		vals := hashValues(cmd, read)
		if len(vals) == 0 || vals["id"] == "" {
			// Removed between the index read and the load.
			continue
		}
		j, convErr := mapToJob(vals)
		if convErr != nil {
			return nil, convErr
		}
		if q.Matches(j) {
			jobs = append(jobs, j)
		}
	}

	slices.SortFunc(jobs, func(a, b *job.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	if q.Limit > 0 && len(jobs) > q.Limit {
		jobs = jobs[:q.Limit]
	}
	if len(q.Fields) > 0 {
		for i, j := range jobs {
			jobs[i] = job.Project(j, q.Fields)
		}
	}
	return jobs, nil
}

// Count returns the number of jobs matching q.
func (s *Store) Count(ctx context.Context, q job.Query) (int64, error) {
	q.Limit = 0
	q.Fields = []string{job.FieldID}
	jobs, err := s.Find(ctx, q)
	if err != nil {
		return 0, err
	}
	return int64(len(jobs)), nil
}

// UpdateStatus applies a compare-and-set transition.
func (s *Store) UpdateStatus(ctx context.Context, jobID id.JobID, t job.Transition) error {
	if !job.CanTransition(t.From, t.To) {
		return jobcontrol.ErrInvalidState
	}

	runAt := ""
	if !t.RunAt.IsZero() {
		runAt = micros(t.RunAt)
	}
	resultData, err := packMap(t.ResultData)
	if err != nil {
		return fmt.Errorf("jobcontrol/redis: encode result data: %w", err)
	}

	n, err := transitionScript.Run(ctx, s.client, []string{s.jobKey(jobID.String())},
		s.prefix, string(t.From), string(t.To), t.WorkerID.String(), micros(s.now()),
		boolString(t.IncrementRetry), runAt, t.LastError, t.Result, resultData,
		boolString(t.To.IsTerminal()),
	).Int()
	if err != nil {
		return fmt.Errorf("jobcontrol/redis: update status: %w", err)
	}
	switch n {
	case 1:
		return nil
	case -1:
		return jobcontrol.ErrJobNotFound
	default:
		return jobcontrol.ErrInvalidState
	}
}

// Claim atomically moves the oldest due ready job of q.Type to running.
func (s *Store) Claim(ctx context.Context, q job.ClaimQuery) (*job.Job, error) {
	jobID, err := claimScript.Run(ctx, s.client, nil,
		s.prefix, q.Type, micros(q.Now), q.WorkerID.String(), micros(s.now()),
	).Text()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil //nolint:nilnil // nothing claimable is not an error
		}
		return nil, fmt.Errorf("jobcontrol/redis: claim job: %w", err)
	}
	return s.getJobByKey(ctx, s.jobKey(jobID))
}

// RemoveMany deletes the given jobs.
func (s *Store) RemoveMany(ctx context.Context, ids []id.JobID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{s.prefix}
	for _, jobID := range ids {
		args = append(args, jobID.String())
	}
	n, err := removeScript.Run(ctx, s.client, nil, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("jobcontrol/redis: remove jobs: %w", err)
	}
	return n, nil
}

// CancelActive cancels every non-terminal job of jobType. Statuses are
// swept in lifecycle order so a job advancing mid-sweep is still caught.
func (s *Store) CancelActive(ctx context.Context, jobType string) (int64, error) {
	var total int64
	for _, from := range job.ActiveStatuses() {
		n, err := s.move(ctx, jobType, from, job.StatusCancelled, "+inf", false)
		if err != nil {
			return total, fmt.Errorf("jobcontrol/redis: cancel active: %w", err)
		}
		total += n
	}
	return total, nil
}

// Promote moves due pending jobs of jobType to ready.
func (s *Store) Promote(ctx context.Context, jobType string, now time.Time) (int64, error) {
	n, err := s.move(ctx, jobType, job.StatusPending, job.StatusReady, micros(now), false)
	if err != nil {
		return 0, fmt.Errorf("jobcontrol/redis: promote: %w", err)
	}
	return n, nil
}

// Reclaim returns running jobs of jobType not updated since cutoff to
// ready. The retry count is left unchanged.
func (s *Store) Reclaim(ctx context.Context, jobType string, cutoff time.Time) (int64, error) {
	n, err := s.move(ctx, jobType, job.StatusRunning, job.StatusReady, "("+micros(cutoff), true)
	if err != nil {
		return 0, fmt.Errorf("jobcontrol/redis: reclaim: %w", err)
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (s *Store) move(ctx context.Context, jobType string, from, to job.Status, upTo string, clearWorker bool) (int64, error) {
	return moveScript.Run(ctx, s.client, nil,
		s.prefix, jobType, string(from), string(to), upTo, micros(s.now()),
		boolString(clearWorker), boolString(to.IsTerminal()),
	).Int64()
}

// candidates returns the IDs indexed under q's types and statuses.
func (s *Store) candidates(ctx context.Context, q job.Query) ([]string, error) {
	types := q.Types
	if len(types) == 0 {
		all, err := s.client.SMembers(ctx, s.typesKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("jobcontrol/redis: list types: %w", err)
		}
		types = all
	}
	statuses := q.Statuses
	if len(statuses) == 0 {
		statuses = job.AllStatuses()
	}

	pipe := s.client.Pipeline()
	var cmds []*goredis.StringSliceCmd
	for _, jobType := range types {
		if slices.Contains(q.ExcludeTypes, jobType) {
			continue
		}
		for _, status := range statuses {
			cmds = append(cmds, pipe.ZRange(ctx, s.indexKey(string(status), jobType), 0, -1))
		}
	}
	if len(cmds) == 0 {
		return nil, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("jobcontrol/redis: read indexes: %w", err)
	}

	var ids []string
	for _, cmd := range cmds {
		ids = append(ids, cmd.Val()...)
	}
	return ids, nil
}

// readFields returns the hash fields to load for a projection, or nil to
// load the whole hash. Filter fields are always included.
func readFields(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	read := []string{"id", "type", "status", "created_at", "updated_at"}
	for _, f := range fields {
		switch f {
		case job.FieldID, job.FieldType, job.FieldStatus, job.FieldCreatedAt, job.FieldUpdatedAt:
		case job.FieldRunAt:
			read = append(read, "run_at")
		default:
			return nil
		}
	}
	return read
}

// hashValues extracts a field map from an HGETALL or HMGET result.
func hashValues(cmd goredis.Cmder, read []string) map[string]string {
	switch c := cmd.(type) {
	case *goredis.MapStringStringCmd:
		return c.Val()
	case *goredis.SliceCmd:
		vals := make(map[string]string, len(read))
		for i, v := range c.Val() {
			if str, ok := v.(string); ok {
				vals[read[i]] = str
			}
		}
		return vals
	}
	return nil
}
