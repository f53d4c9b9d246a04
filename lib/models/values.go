package models

// SubscriptionStatus is the lifecycle status of a subscription.
type SubscriptionStatus string

const (
	StatusCreating SubscriptionStatus = "creating"
	StatusActive   SubscriptionStatus = "active"
	StatusUpdating SubscriptionStatus = "updating"
	StatusDeleting SubscriptionStatus = "deleting"
	StatusDisabled SubscriptionStatus = "disabled"
)

// PendingStatuses are transitional; a record sitting in one of these is waiting on a task.
var PendingStatuses = []SubscriptionStatus{StatusCreating, StatusUpdating, StatusDeleting}

// UptimeStatus is the operational health reported by the check results, independent of lifecycle.
type UptimeStatus string

const (
	UptimeOK     UptimeStatus = "ok"
	UptimeFailed UptimeStatus = "failed"
)

// RegionMode decides which round robin a region takes part in.
type RegionMode string

const (
	RegionActive RegionMode = "active"
	RegionShadow RegionMode = "shadow"
)

type RegionScheduleMode string

const RoundRobin RegionScheduleMode = "round_robin"

// MonitorMode tells how a detector came to exist.
type MonitorMode string

const (
	MonitorManual                 MonitorMode = "manual"
	MonitorAutoDetectedOnboarding MonitorMode = "auto_detected_onboarding"
	MonitorAutoDetectedActive     MonitorMode = "auto_detected_active"
)
