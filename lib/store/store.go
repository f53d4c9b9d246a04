package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fiffu/uptimesync/lib/models"
	"gorm.io/gorm"
)

var (
	ErrNotFound       = errors.New("uptime subscription does not exist")
	ErrStatusMismatch = errors.New("uptime subscription status does not match")
	ErrNoDetector     = errors.New("detector does not exist")
)

// Fields are extra columns written together with a status transition.
type Fields map[string]any

// Store is the durable record store for subscriptions, their region assignments and detectors.
// Every status write is a compare-and-swap on the current status.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db}
}

func (s *Store) Create(ctx context.Context, sub *models.Subscription, detector *models.Detector) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sub).Error; err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		if detector == nil {
			return nil
		}
		detector.UptimeSubscriptionID = sub.ID
		if err := tx.Create(detector).Error; err != nil {
			return fmt.Errorf("create detector: %w", err)
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id uint) (*models.Subscription, error) {
	sub := &models.Subscription{}
	tx := s.db.WithContext(ctx).Preload("Regions").First(sub, id)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Store) Regions(ctx context.Context, id uint) ([]models.SubscriptionRegion, error) {
	var regions []models.SubscriptionRegion
	tx := s.db.WithContext(ctx).
		Where("uptime_subscription_id = ?", id).
		Order("region_slug").
		Find(&regions)
	return regions, tx.Error
}

// TransitionStatus moves a subscription to status `to` and writes fields, but only while its current
// status is one of `from`. It returns ErrStatusMismatch when the guard fails.
func (s *Store) TransitionStatus(ctx context.Context, id uint, from []models.SubscriptionStatus, to models.SubscriptionStatus, fields Fields) error {
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range fields {
		updates[k] = v
	}

	tx := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if err := tx.Error; err != nil {
		return err
	}
	if tx.RowsAffected == 0 {
		return missError(s.db.WithContext(ctx), id)
	}
	return nil
}

// Delete removes the subscription and its region assignments, guarded on its current status.
func (s *Store) Delete(ctx context.Context, id uint, from models.SubscriptionStatus) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND status = ?", id, from).Delete(&models.Subscription{})
		if err := res.Error; err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return missError(tx, id)
		}
		return tx.Where("uptime_subscription_id = ?", id).Delete(&models.SubscriptionRegion{}).Error
	})
}

func missError(db *gorm.DB, id uint) error {
	var count int64
	if err := db.Model(&models.Subscription{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrStatusMismatch
}

// FindStale calls fn with batches of subscriptions in one of the statuses whose last lifecycle
// transition happened before cutoff.
func (s *Store) FindStale(ctx context.Context, statuses []models.SubscriptionStatus, cutoff time.Time, batchSize int, fn func(models.Subscriptions) error) error {
	var subs models.Subscriptions
	tx := s.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Where("updated_at < ?", cutoff).
		FindInBatches(&subs, batchSize, func(tx *gorm.DB, batch int) error {
			return fn(subs)
		})
	return tx.Error
}

// FindBroken calls fn with batches of subscriptions that have been failing since before cutoff.
func (s *Store) FindBroken(ctx context.Context, cutoff time.Time, batchSize int, fn func(models.Subscriptions) error) error {
	var subs models.Subscriptions
	tx := s.db.WithContext(ctx).
		Where("uptime_status = ?", models.UptimeFailed).
		Where("uptime_status_update_date < ?", cutoff).
		FindInBatches(&subs, batchSize, func(tx *gorm.DB, batch int) error {
			return fn(subs)
		})
	return tx.Error
}

// UpdateConfig rewrites the check configuration of a subscription, guarded on its status.
func (s *Store) UpdateConfig(ctx context.Context, id uint, from []models.SubscriptionStatus, to models.SubscriptionStatus, sub *models.Subscription) error {
	return s.TransitionStatus(ctx, id, from, to, Fields{
		"url":              sub.URL,
		"interval_seconds": sub.IntervalSeconds,
		"timeout_ms":       sub.TimeoutMs,
		"method":           sub.Method,
		"headers":          sub.Headers,
		"body":             sub.Body,
		"trace_sampling":   sub.TraceSampling,
	})
}

// SetUptimeStatus records the latest check outcome. The update date only moves when the status
// actually changes, so it marks the start of the current streak.
func (s *Store) SetUptimeStatus(ctx context.Context, id uint, status models.UptimeStatus, at time.Time) error {
	tx := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND (uptime_status <> ? OR uptime_status_update_date IS NULL)", id, status).
		UpdateColumns(map[string]any{
			"uptime_status":             status,
			"uptime_status_update_date": sql.NullTime{Time: at, Valid: true},
		})
	if err := tx.Error; err != nil {
		return err
	}
	if tx.RowsAffected == 0 {
		if err := missError(s.db.WithContext(ctx), id); errors.Is(err, ErrStatusMismatch) {
			// Already in this status; the streak continues.
			return nil
		} else {
			return err
		}
	}
	return nil
}

func (s *Store) Detector(ctx context.Context, id uint) (*models.Detector, error) {
	detector := &models.Detector{}
	tx := s.db.WithContext(ctx).First(detector, id)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoDetector
	} else if err != nil {
		return nil, err
	}
	return detector, nil
}

func (s *Store) DetectorForSubscription(ctx context.Context, subscriptionID uint) (*models.Detector, error) {
	detector := &models.Detector{}
	tx := s.db.WithContext(ctx).Where("uptime_subscription_id = ?", subscriptionID).First(detector)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoDetector
	} else if err != nil {
		return nil, err
	}
	return detector, nil
}

// SetDetectorEnabled flips the detector and moves its subscription in the same transaction.
func (s *Store) SetDetectorEnabled(ctx context.Context, detectorID uint, enabled bool, from []models.SubscriptionStatus, to models.SubscriptionStatus) (*models.Detector, error) {
	detector := &models.Detector{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(detector, detectorID).Error; errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoDetector
		} else if err != nil {
			return err
		}

		if err := tx.Model(detector).Update("enabled", enabled).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Subscription{}).
			Where("id = ? AND status IN ?", detector.UptimeSubscriptionID, from).
			Update("status", to)
		if err := res.Error; err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return ErrStatusMismatch
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detector, nil
}

func (s *Store) DeleteDetector(ctx context.Context, detectorID uint) error {
	return s.db.WithContext(ctx).Delete(&models.Detector{}, detectorID).Error
}
