package queue

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Notifier publishes and receives "new deliveries" hints over a Redis
// channel. The hints only shorten an idle worker's sleep; the queue table
// stays the source of truth, so a lost message costs latency and nothing else.
type Notifier struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

// NewNotifier creates a Notifier on the given channel.
func NewNotifier(client *redis.Client, channel string, log zerolog.Logger) *Notifier {
	return &Notifier{client: client, channel: channel, log: log}
}

// Notify announces that new jobs were committed.
func (n *Notifier) Notify(ctx context.Context) error {
	return n.client.Publish(ctx, n.channel, "deliveries").Err()
}

// Subscribe returns a channel that receives a value per notification. Bursts
// collapse into one pending wake-up. The channel is closed when ctx is done.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	sub := n.client.Subscribe(ctx, n.channel)
	// Wait for the subscription to be confirmed so a Notify sent right
	// after Subscribe returns is not missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	n.log.Info().Str("channel", n.channel).Msg("subscribed to delivery wake-ups")
	return out, nil
}
