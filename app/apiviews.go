package app

import (
	"database/sql"
	"time"

	"github.com/fiffu/uptimesync/lib"
	"github.com/fiffu/uptimesync/lib/models"
)

type SubscriptionView struct {
	ID                     uint                      `json:"id"`
	SubscriptionID         *string                   `json:"subscription_id"`
	Status                 models.SubscriptionStatus `json:"status"`
	URL                    string                    `json:"url"`
	IntervalSeconds        int                       `json:"interval_seconds"`
	TimeoutMs              int                       `json:"timeout_ms"`
	Method                 string                    `json:"method"`
	Headers                []models.Header           `json:"headers"`
	Body                   *string                   `json:"body,omitempty"`
	TraceSampling          bool                      `json:"trace_sampling"`
	UptimeStatus           models.UptimeStatus       `json:"uptime_status"`
	UptimeStatusUpdateDate *string                   `json:"uptime_status_update_date"`
	Regions                []RegionView              `json:"regions"`
	UpdatedAt              string                    `json:"updated_at"`
}

type RegionView struct {
	Slug string            `json:"slug"`
	Mode models.RegionMode `json:"mode"`
}

type DetectorView struct {
	ID      uint               `json:"id"`
	Name    string             `json:"name"`
	Mode    models.MonitorMode `json:"mode"`
	Enabled bool               `json:"enabled"`
}

type SubscriptionDetailView struct {
	SubscriptionView
	Detector *DetectorView `json:"detector"`
}

func (view RegionView) From(entity models.SubscriptionRegion) RegionView {
	return RegionView{Slug: entity.RegionSlug, Mode: entity.Mode}
}

func (view DetectorView) From(entity *models.Detector) DetectorView {
	return DetectorView{
		ID:      entity.ID,
		Name:    entity.Name,
		Mode:    entity.Mode,
		Enabled: entity.Enabled,
	}
}

func (view SubscriptionView) From(entity *models.Subscription) SubscriptionView {
	headers := []models.Header(entity.Headers)
	if headers == nil {
		headers = []models.Header{}
	}
	return SubscriptionView{
		ID:                     entity.ID,
		SubscriptionID:         entity.SubscriptionID,
		Status:                 entity.Status,
		URL:                    entity.URL,
		IntervalSeconds:        entity.IntervalSeconds,
		TimeoutMs:              entity.TimeoutMs,
		Method:                 entity.Method,
		Headers:                headers,
		Body:                   entity.Body,
		TraceSampling:          entity.TraceSampling,
		UptimeStatus:           entity.UptimeStatus,
		UptimeStatusUpdateDate: isoformat(entity.UptimeStatusUpdateDate),
		Regions:                FromMany[models.SubscriptionRegion, RegionView](entity.Regions),
		UpdatedAt:              entity.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (view SubscriptionDetailView) From(entity *lib.SubscriptionDetail) SubscriptionDetailView {
	out := SubscriptionDetailView{SubscriptionView: SubscriptionView{}.From(entity.Subscription)}
	if entity.Detector != nil {
		detector := DetectorView{}.From(entity.Detector)
		out.Detector = &detector
	}
	return out
}

type Fromable[Entity any, Repr any] interface {
	From(Entity) Repr
}

func FromMany[T any, U Fromable[T, U]](elems []T) []U {
	out := make([]U, len(elems))
	for i, t := range elems {
		var u U
		out[i] = u.From(t)
	}
	return out
}

func isoformat(t sql.NullTime) *string {
	if !t.Valid {
		return nil
	}
	s := t.Time.UTC().Format(time.RFC3339)
	return &s
}
