package store

import (
	"github.com/fiffu/uptimesync/lib/models"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Subscription{},
		&models.SubscriptionRegion{},
		&models.Detector{},
	)
}
