package bunstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun/driver/pgdriver"

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

// Watch listens for inserts and status changes of jobType through a
// dedicated pgdriver listener. The channel is closed when ctx ends or the
// listener fails.
func (s *Store) Watch(ctx context.Context, jobType string) (<-chan job.Change, error) {
	ln := pgdriver.NewListener(s.db)
	if err := ln.Listen(ctx, notifyChannel); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("jobcontrol/bun: listen: %w", err)
	}

	ch := make(chan job.Change, 16)
	go func() {
		defer close(ch)
		defer func() { _ = ln.Close() }()

		notifications := ln.Channel()
		for {
			var n pgdriver.Notification
			select {
			case <-ctx.Done():
				return
			case got, ok := <-notifications:
				if !ok {
					s.logger.Warn("bun listener closed", slog.String("job_type", jobType))
					return
				}
				n = got
			}

			change, ok := decodeChange(n.Payload, jobType)
			if !ok {
				continue
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

// decodeChange parses a trigger payload, reporting false for malformed
// payloads and other job types.
func decodeChange(payload, jobType string) (job.Change, bool) {
	var p changePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil || p.Type != jobType {
		return job.Change{}, false
	}
	jobID, err := id.ParseJobID(p.ID)
	if err != nil {
		return job.Change{}, false
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
	return change, true
}
