package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

// changeEvent is the subset of a change stream event Watch reads.
type changeEvent struct {
	OperationType string `bson:"operationType"`
	FullDocument  struct {
		ID     string `bson:"_id"`
		Type   string `bson:"type"`
		Status string `bson:"status"`
	} `bson:"fullDocument"`
}

// Watch opens a change stream on inserts and updates of jobType. The
// channel is closed when ctx ends or the stream fails.
func (s *Store) Watch(ctx context.Context, jobType string) (<-chan job.Change, error) {
	pipeline := mongod.Pipeline{
		{{Key: "$match", Value: bson.M{
			"operationType":     bson.M{"$in": []string{"insert", "update", "replace"}},
			"fullDocument.type": jobType,
		}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := s.jobs.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, fmt.Errorf("jobcontrol/mongo: watch: %w", err)
	}

	ch := make(chan job.Change, 16)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close(context.Background()) }()

		for stream.Next(ctx) {
			var ev changeEvent
			if err := stream.Decode(&ev); err != nil {
				s.logger.Warn("malformed change event", slog.String("error", err.Error()))
				continue
			}
			change, ok := toChange(ev)
			if !ok {
				continue
			}
			select {
			case ch <- change:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			s.logger.Warn("mongo change stream failed",
				slog.String("job_type", jobType),
				slog.String("error", err.Error()),
			)
		}
	}()

	return ch, nil
}

// toChange converts a change stream event. Events whose document was
// deleted before lookup are dropped.
func toChange(ev changeEvent) (job.Change, bool) {
	jobID, err := id.ParseJobID(ev.FullDocument.ID)
	if err != nil {
		return job.Change{}, false
	}
	change := job.Change{
		JobID:  jobID,
		Type:   ev.FullDocument.Type,
		Status: job.Status(ev.FullDocument.Status),
		Op:     job.OpUpdated,
	}
	if ev.OperationType == "insert" {
		change.Op = job.OpInserted
	}
	return change, true
}
