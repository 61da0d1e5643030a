package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

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

	if _, err := s.jobs.InsertOne(ctx, toJobModel(j)); err != nil {
		if isDuplicateKey(err) {
			return id.Nil, jobcontrol.ErrJobAlreadyExists
		}
		return id.Nil, fmt.Errorf("jobcontrol/mongo: insert job: %w", err)
	}
	return j.ID, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.jobs.FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, jobcontrol.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobcontrol/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// Find returns jobs matching q ordered by creation time. When q.Fields is
// set only those fields are read.
func (s *Store) Find(ctx context.Context, q job.Query) ([]*job.Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if proj := projection(q.Fields); proj != nil {
		opts.SetProjection(proj)
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.jobs.Find(ctx, queryFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("jobcontrol/mongo: find jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("jobcontrol/mongo: decode jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Count returns the number of jobs matching q.
func (s *Store) Count(ctx context.Context, q job.Query) (int64, error) {
	n, err := s.jobs.CountDocuments(ctx, queryFilter(q))
	if err != nil {
		return 0, fmt.Errorf("jobcontrol/mongo: count jobs: %w", err)
	}
	return n, nil
}

// UpdateStatus applies a compare-and-set transition.
func (s *Store) UpdateStatus(ctx context.Context, jobID id.JobID, t job.Transition) error {
	if !job.CanTransition(t.From, t.To) {
		return jobcontrol.ErrInvalidState
	}

	now := s.now()
	filter := bson.M{"_id": jobID.String(), "status": string(t.From)}
	if !t.WorkerID.IsNil() {
		filter["worker_id"] = t.WorkerID.String()
	}

	set := bson.M{"status": string(t.To), "updated_at": now}
	if !t.RunAt.IsZero() {
		set["run_at"] = t.RunAt
	}
	if t.LastError != "" {
		set["last_error"] = t.LastError
	}
	switch t.To {
	case job.StatusReady:
		set["worker_id"] = ""
	case job.StatusCompleted:
		set["result"] = t.Result
		set["result_data"] = t.ResultData
	}
	if t.To.IsTerminal() {
		set["completed_at"] = now
	}

	update := bson.M{"$set": set}
	if t.IncrementRetry {
		update["$inc"] = bson.M{"retry_count": 1}
	}

	res, err := s.jobs.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("jobcontrol/mongo: update status: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := s.jobs.CountDocuments(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("jobcontrol/mongo: update status: %w", err)
	}
	if n == 0 {
		return jobcontrol.ErrJobNotFound
	}
	return jobcontrol.ErrInvalidState
}

// Claim atomically moves the oldest due ready job of q.Type to running
// with a single FindOneAndUpdate.
func (s *Store) Claim(ctx context.Context, q job.ClaimQuery) (*job.Job, error) {
	now := s.now()
	filter := bson.M{
		"type":   q.Type,
		"status": string(job.StatusReady),
		"run_at": bson.M{"$lte": q.Now},
	}
	update := bson.M{
		"$set": bson.M{
			"status":     string(job.StatusRunning),
			"worker_id":  q.WorkerID.String(),
			"started_at": now,
			"updated_at": now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{
			{Key: "run_at", Value: 1},
			{Key: "created_at", Value: 1},
		})

	var m jobModel
	if err := s.jobs.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, nil //nolint:nilnil // nothing claimable is not an error
		}
		return nil, fmt.Errorf("jobcontrol/mongo: claim job: %w", err)
	}
	return fromJobModel(&m)
}

// RemoveMany deletes the given jobs.
func (s *Store) RemoveMany(ctx context.Context, ids []id.JobID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.jobs.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": id.Strings(ids)}})
	if err != nil {
		return 0, fmt.Errorf("jobcontrol/mongo: remove jobs: %w", err)
	}
	return res.DeletedCount, nil
}

// CancelActive cancels every non-terminal job of jobType.
func (s *Store) CancelActive(ctx context.Context, jobType string) (int64, error) {
	now := s.now()
	active := job.Query{Statuses: job.ActiveStatuses()}.StatusStrings()
	return s.updateMany(ctx, "cancel active",
		bson.M{"type": jobType, "status": bson.M{"$in": active}},
		bson.M{"$set": bson.M{
			"status":       string(job.StatusCancelled),
			"updated_at":   now,
			"completed_at": now,
		}},
	)
}

// Promote moves due pending jobs of jobType to ready.
func (s *Store) Promote(ctx context.Context, jobType string, now time.Time) (int64, error) {
	return s.updateMany(ctx, "promote",
		bson.M{"type": jobType, "status": string(job.StatusPending), "run_at": bson.M{"$lte": now}},
		bson.M{"$set": bson.M{"status": string(job.StatusReady), "updated_at": s.now()}},
	)
}

// Reclaim returns running jobs of jobType not updated since cutoff to
// ready. The retry count is left unchanged.
func (s *Store) Reclaim(ctx context.Context, jobType string, cutoff time.Time) (int64, error) {
	return s.updateMany(ctx, "reclaim",
		bson.M{"type": jobType, "status": string(job.StatusRunning), "updated_at": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{
			"status":     string(job.StatusReady),
			"worker_id":  "",
			"updated_at": s.now(),
		}},
	)
}

// ──────────────────────────────────────────────────
// Query helpers
// ──────────────────────────────────────────────────

func (s *Store) updateMany(ctx context.Context, op string, filter, update bson.M) (int64, error) {
	res, err := s.jobs.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("jobcontrol/mongo: %s: %w", op, err)
	}
	return res.ModifiedCount, nil
}

// queryFilter renders q as a MongoDB filter document.
func queryFilter(q job.Query) bson.M {
	filter := bson.M{}

	typeCond := bson.M{}
	if len(q.Types) > 0 {
		typeCond["$in"] = q.Types
	}
	if len(q.ExcludeTypes) > 0 {
		typeCond["$nin"] = q.ExcludeTypes
	}
	if len(typeCond) > 0 {
		filter["type"] = typeCond
	}
	if len(q.Statuses) > 0 {
		filter["status"] = bson.M{"$in": q.StatusStrings()}
	}
	if !q.UpdatedBefore.IsZero() {
		filter["updated_at"] = bson.M{"$lt": q.UpdatedBefore}
	}
	return filter
}

// projectable lists the Query.Fields names stored under the same key.
var projectable = map[string]bool{
	job.FieldType:      true,
	job.FieldStatus:    true,
	job.FieldUpdatedAt: true,
	job.FieldCreatedAt: true,
	job.FieldRunAt:     true,
}

// projection returns a projection document for fields, or nil when the
// full document must be read.
func projection(fields []string) bson.M {
	if len(fields) == 0 {
		return nil
	}
	proj := bson.M{"_id": 1}
	for _, f := range fields {
		if f == job.FieldID {
			continue
		}
		if !projectable[f] {
			return nil
		}
		proj[f] = 1
	}
	return proj
}
