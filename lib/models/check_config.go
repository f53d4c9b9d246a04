package models

// CheckConfig is the snapshot pushed to a region. Regions treat it as an upsert keyed on
// SubscriptionID.
type CheckConfig struct {
	SubscriptionID     string             `json:"subscription_id"`
	URL                string             `json:"url"`
	IntervalSeconds    int                `json:"interval_seconds"`
	TimeoutMs          int                `json:"timeout_ms"`
	RequestMethod      string             `json:"request_method"`
	RequestHeaders     []Header           `json:"request_headers"`
	RequestBody        *string            `json:"request_body,omitempty"`
	TraceSampling      bool               `json:"trace_sampling"`
	ActiveRegions      []string           `json:"active_regions"`
	RegionScheduleMode RegionScheduleMode `json:"region_schedule_mode"`
}

// ConfigRemoval tells a region to stop running a check.
type ConfigRemoval struct {
	SubscriptionID string `json:"subscription_id"`
}
