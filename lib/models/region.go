package models

type SubscriptionRegion struct {
	ID                   uint       `gorm:"primarykey"`
	UptimeSubscriptionID uint       `gorm:"not null;uniqueIndex:idx_subscription_region"`
	RegionSlug           string     `gorm:"not null;uniqueIndex:idx_subscription_region"`
	Mode                 RegionMode `gorm:"type:varchar(20);not null;default:active"`
}

func (SubscriptionRegion) TableName() string { return "uptime_subscription_regions" }
