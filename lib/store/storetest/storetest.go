// Package storetest opens throwaway databases and seeds fixtures for tests.
package storetest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fiffu/uptimesync/lib/models"
	"github.com/fiffu/uptimesync/lib/store"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private in-memory sqlite database with the schema migrated.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Discard,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, store.Migrate(db))
	return db
}

// Subscription inserts a subscription in the given status assigned to regions, which are given as
// "slug" or "slug:mode".
func Subscription(t *testing.T, db *gorm.DB, status models.SubscriptionStatus, regions ...string) *models.Subscription {
	t.Helper()

	sub := &models.Subscription{
		URL:             "https://example.com/health",
		IntervalSeconds: 60,
		TimeoutMs:       1000,
		Method:          "GET",
		Headers:         []models.Header{{"User-Agent", "uptimesync"}},
		Status:          status,
		UptimeStatus:    models.UptimeOK,
	}
	for _, r := range regions {
		slug, mode, found := strings.Cut(r, ":")
		if !found {
			mode = string(models.RegionActive)
		}
		sub.Regions = append(sub.Regions, models.SubscriptionRegion{RegionSlug: slug, Mode: models.RegionMode(mode)})
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

// Detector attaches a detector in mode to the subscription.
func Detector(t *testing.T, db *gorm.DB, sub *models.Subscription, mode models.MonitorMode) *models.Detector {
	t.Helper()

	detector := &models.Detector{Name: "monitor", Mode: mode, Enabled: true, UptimeSubscriptionID: sub.ID}
	require.NoError(t, db.Create(detector).Error)
	return detector
}

// Age rewrites the lifecycle timestamp without touching anything else.
func Age(t *testing.T, db *gorm.DB, sub *models.Subscription, age time.Duration) {
	t.Helper()

	err := db.Model(&models.Subscription{}).Where("id = ?", sub.ID).
		UpdateColumn("updated_at", time.Now().UTC().Add(-age)).Error
	require.NoError(t, err)
}

// Failing marks the subscription as failing for the given duration.
func Failing(t *testing.T, db *gorm.DB, sub *models.Subscription, since time.Duration) {
	t.Helper()

	err := db.Model(&models.Subscription{}).Where("id = ?", sub.ID).
		UpdateColumns(map[string]any{
			"uptime_status":             models.UptimeFailed,
			"uptime_status_update_date": time.Now().UTC().Add(-since),
		}).Error
	require.NoError(t, err)
}

// Reload reads the subscription back, or returns nil when it is gone.
func Reload(t *testing.T, db *gorm.DB, id uint) *models.Subscription {
	t.Helper()

	var subs []models.Subscription
	require.NoError(t, db.Preload("Regions").Where("id = ?", id).Find(&subs).Error)
	if len(subs) == 0 {
		return nil
	}
	return &subs[0]
}
