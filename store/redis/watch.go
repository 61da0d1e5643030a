package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/jobcontrol/job"
)

// Watch subscribes to the change channel of jobType. The subscription is
// confirmed before Watch returns. The channel is closed when ctx ends.
func (s *Store) Watch(ctx context.Context, jobType string) (<-chan job.Change, error) {
	pubsub := s.client.Subscribe(ctx, s.changesChannel(jobType))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("jobcontrol/redis: subscribe: %w", err)
	}

	ch := make(chan job.Change, 16)
	go func() {
		defer close(ch)
		defer func() { _ = pubsub.Close() }()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				change, valid := decodeChange(msg.Payload)
				if !valid {
					s.logger.Warn("malformed job notification", slog.String("channel", msg.Channel))
					continue
				}
				select {
				case ch <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}
