package models

import "time"

// Detector is the monitor definition that owns a subscription.
type Detector struct {
	ID                   uint `gorm:"primarykey"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
	Name                 string
	Mode                 MonitorMode `gorm:"type:varchar(32);not null;default:manual"`
	Enabled              bool        `gorm:"not null;default:true"`
	UptimeSubscriptionID uint        `gorm:"not null;uniqueIndex"`
}
