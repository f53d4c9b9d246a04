package scanner

import (
	"context"

	"github.com/fiffu/uptimesync/lib/models"
)

// BrokenMonitorScan disables auto detected monitors that have been failing for longer than
// BrokenMonitorAgeLimit. Manually configured monitors are left alone.
func (s *Scanner) BrokenMonitorScan(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-BrokenMonitorAgeLimit)

	count := 0
	err := s.store.FindBroken(ctx, cutoff, s.batchSize, func(batch models.Subscriptions) error {
		for _, sub := range batch {
			if s.disableIfAutoDetected(ctx, sub) {
				count += 1
			}
		}
		return nil
	})

	s.metrics.DisabledBroken.Add(float64(count))
	return count, err
}

func (s *Scanner) disableIfAutoDetected(ctx context.Context, sub *models.Subscription) bool {
	detector, err := s.store.DetectorForSubscription(ctx, sub.ID)
	if err != nil {
		s.log.Sugar().Errorw("Failed to find detector for broken monitor", "uptime_subscription_id", sub.ID, "err", err)
		return false
	}
	if detector.Mode != models.MonitorAutoDetectedActive || !detector.Enabled {
		return false
	}

	if err := s.detectors.DisableDetector(ctx, detector.ID); err != nil {
		s.log.Sugar().Errorw("Failed to disable broken monitor",
			"detector_id", detector.ID, "uptime_subscription_id", sub.ID, "err", err)
		return false
	}
	s.log.Sugar().Infow("Disabled broken monitor", "detector_id", detector.ID, "uptime_subscription_id", sub.ID)
	return true
}
