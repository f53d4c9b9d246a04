package models

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

// Header is a single request header as a [name, value] pair.
type Header [2]string

type Subscription struct {
	ID             uint `gorm:"primarykey"`
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"index:idx_status_updated_at"`
	SubscriptionID *string   `gorm:"uniqueIndex"`

	URL             string `gorm:"not null"`
	IntervalSeconds int    `gorm:"not null"`
	TimeoutMs       int    `gorm:"not null"`
	Method          string `gorm:"not null;default:GET"`
	Headers         datatypes.JSONSlice[Header]
	Body            *string
	TraceSampling   bool

	Status                 SubscriptionStatus `gorm:"type:varchar(20);not null;index:idx_status_updated_at"`
	UptimeStatus           UptimeStatus       `gorm:"type:varchar(20);not null;default:ok;index:idx_uptime_status"`
	UptimeStatusUpdateDate sql.NullTime       `gorm:"index:idx_uptime_status"`

	Regions []SubscriptionRegion `gorm:"foreignKey:UptimeSubscriptionID;constraint:OnDelete:CASCADE"`
}

func (Subscription) TableName() string { return "uptime_subscriptions" }

type Subscriptions []*Subscription

// RegionSlugs returns the slugs of the loaded region assignments, optionally only those in mode.
func (s *Subscription) RegionSlugs(mode ...RegionMode) []string {
	slugs := make([]string, 0, len(s.Regions))
	for _, r := range s.Regions {
		if len(mode) > 0 && r.Mode != mode[0] {
			continue
		}
		slugs = append(slugs, r.RegionSlug)
	}
	return slugs
}
