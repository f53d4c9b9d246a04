package scanner

import (
	"context"

	"github.com/fiffu/uptimesync/lib/models"
	"github.com/fiffu/uptimesync/lib/reconciler"
)

// RepairScan re-enqueues the task for every subscription stuck in a pending status for longer than
// SubscriptionStatusMaxAge. The tasks are guarded on status, so enqueueing one that is merely slow
// is harmless.
func (s *Scanner) RepairScan(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-SubscriptionStatusMaxAge)

	count := 0
	err := s.store.FindStale(ctx, models.PendingStatuses, cutoff, s.batchSize, func(batch models.Subscriptions) error {
		for _, sub := range batch {
			task, ok := reconciler.TaskFor(sub.Status)
			if !ok {
				continue
			}
			if err := s.queue.Enqueue(ctx, task, sub.ID); err != nil {
				s.log.Sugar().Errorw("Failed to enqueue repair", "task", task, "uptime_subscription_id", sub.ID, "err", err)
				continue
			}
			count += 1
		}
		return nil
	})

	s.metrics.Repaired.Add(float64(count))
	return count, err
}
