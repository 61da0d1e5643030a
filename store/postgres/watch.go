package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

// changePayload is the JSON body sent by the jobs table trigger.
type changePayload struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Op     string `json:"op"`
}

// Watch listens for inserts and status changes of jobType. It holds one
// pooled connection in LISTEN mode until ctx ends or the connection
// fails; the channel is then closed.
func (s *Store) Watch(ctx context.Context, jobType string) (<-chan job.Change, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobcontrol/postgres: acquire listen conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("jobcontrol/postgres: listen: %w", err)
	}

	// The listening connection leaves the pool for good: a cancelled wait
	// can leave it unusable.
	listener := conn.Hijack()

	ch := make(chan job.Change, 16)
	go func() {
		defer close(ch)
		defer func() { _ = listener.Close(context.Background()) }()

		for {
			n, err := listener.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("postgres listen failed",
						slog.String("job_type", jobType),
						slog.String("error", err.Error()),
					)
				}
				return
			}

			var p changePayload
			if err := json.Unmarshal([]byte(n.Payload), &p); err != nil {
				s.logger.Warn("malformed job notification", slog.String("payload", n.Payload))
				continue
			}
			if p.Type != jobType {
				continue
			}

			jobID, err := id.ParseJobID(p.ID)
			if err != nil {
				continue
			}
			change := job.Change{
				JobID:  jobID,
				Type:   p.Type,
				Status: job.Status(p.Status),
				Op:     job.OpUpdated,
			}
			if p.Op == "insert" {
				change.Op = job.OpInserted
			}

			select {
			case ch <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}
