package alerting

import (
	"strings"
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

// AlertInput is the editable content of a draft.
type AlertInput struct {
	Title          string               `json:"title"`
	Message        string               `json:"message"`
	Instructions   string               `json:"instructions"`
	ContactInfo    string               `json:"contact_info"`
	DisasterTypeID string               `json:"disaster_type_id"`
	Severity       models.AlertSeverity `json:"severity"`
	Targeting      models.Targeting     `json:"targeting"`
	Channels       models.ChannelSet    `json:"channels"`
	ExpiresAt      *time.Time           `json:"expires_at"`
}

// validateDraft checks what must hold for any stored alert. Drafts may be
// incomplete; activation applies the stricter checks.
func validateDraft(in *AlertInput, now time.Time) error {
	if len(in.Title) > 200 {
		return invalid("title", "must be at most 200 characters")
	}
	if strings.ContainsAny(in.Title, "\r\n") {
		return invalid("title", "must be a single line")
	}
	if in.Severity == "" {
		in.Severity = models.AlertSeverityInfo
	}
	if !in.Severity.Valid() {
		return invalid("severity", "must be one of info, minor, moderate, severe, extreme")
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return invalid("expires_at", "must be in the future")
	}
	return validateTargeting(in.Targeting)
}

func validateTargeting(t models.Targeting) error {
	if t.HasPoint() && t.HasLocation() {
		return invalid("targeting", "point and administrative targeting cannot be combined")
	}
	if !t.HasPoint() {
		return nil
	}
	if t.CenterLat == nil || t.CenterLng == nil || t.RadiusKm == nil {
		return invalid("targeting", "center_lat, center_lng and radius_km must be set together")
	}
	if *t.CenterLat < -90 || *t.CenterLat > 90 {
		return invalid("center_lat", "must be between -90 and 90")
	}
	if *t.CenterLng < -180 || *t.CenterLng > 180 {
		return invalid("center_lng", "must be between -180 and 180")
	}
	if *t.RadiusKm < 0 {
		return invalid("radius_km", "must not be negative")
	}
	return nil
}

func validateActivation(a *models.Alert, now time.Time) error {
	if strings.TrimSpace(a.Message) == "" {
		return invalid("message", "must not be empty")
	}
	if !a.Channels.Any() {
		return invalid("channels", "at least one channel must be requested")
	}
	if err := validateTargeting(a.Targeting); err != nil {
		return err
	}
	if a.Targeting.HasPoint() && *a.Targeting.RadiusKm <= 0 {
		return invalid("radius_km", "must be greater than 0")
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
		return invalid("expires_at", "must be in the future")
	}
	return nil
}
