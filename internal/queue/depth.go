package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter-relay/internal/metrics"
)

// SampleDepth refreshes the queue depth gauge every interval until ctx is
// done.
func (q *Queue) SampleDepth(ctx context.Context, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := q.Depth(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("failed to sample delivery queue depth")
		} else {
			metrics.QueueDepth.Set(float64(n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
