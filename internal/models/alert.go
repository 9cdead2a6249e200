package models

import (
	"math"
	"time"
)

type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityMinor    AlertSeverity = "minor"
	AlertSeverityModerate AlertSeverity = "moderate"
	AlertSeveritySevere   AlertSeverity = "severe"
	AlertSeverityExtreme  AlertSeverity = "extreme"
)

func (s AlertSeverity) Valid() bool {
	return s.rank() > 0
}

func (s AlertSeverity) rank() int {
	switch s {
	case AlertSeverityInfo:
		return 1
	case AlertSeverityMinor:
		return 2
	case AlertSeverityModerate:
		return 3
	case AlertSeveritySevere:
		return 4
	case AlertSeverityExtreme:
		return 5
	default:
		return 0
	}
}

// PriorityScore is the derived urgency of a severity, higher is more urgent.
func (s AlertSeverity) PriorityScore() int {
	return s.rank() * 20
}

type AlertStatus string

const (
	AlertStatusDraft     AlertStatus = "draft"
	AlertStatusActive    AlertStatus = "active"
	AlertStatusExpired   AlertStatus = "expired"
	AlertStatusCancelled AlertStatus = "cancelled"
	AlertStatusArchived  AlertStatus = "archived"
)

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusDraft, AlertStatusActive, AlertStatusExpired, AlertStatusCancelled, AlertStatusArchived:
		return true
	}
	return false
}

// Targeting selects the audience of an alert. Either the point fields or
// LocationID are set, never both. All unset means untargeted.
type Targeting struct {
	CenterLat  *float64 `json:"center_lat,omitempty"`
	CenterLng  *float64 `json:"center_lng,omitempty"`
	RadiusKm   *float64 `json:"radius_km,omitempty"`
	LocationID string   `json:"location_id,omitempty"`
}

func (t Targeting) HasPoint() bool {
	return t.CenterLat != nil || t.CenterLng != nil || t.RadiusKm != nil
}

func (t Targeting) HasLocation() bool {
	return t.LocationID != ""
}

func (t Targeting) Untargeted() bool {
	return !t.HasPoint() && !t.HasLocation()
}

func (t Targeting) Center() Coordinates {
	var c Coordinates
	if t.CenterLat != nil {
		c.Latitude = *t.CenterLat
	}
	if t.CenterLng != nil {
		c.Longitude = *t.CenterLng
	}
	return c
}

// CoverageAreaKm2 is informational only and never used for matching.
func (t Targeting) CoverageAreaKm2() float64 {
	if t.RadiusKm == nil {
		return 0
	}
	return math.Pi * *t.RadiusKm * *t.RadiusKm
}

type ChannelSet struct {
	SMS   bool `json:"send_sms"`
	Push  bool `json:"send_push"`
	Email bool `json:"send_email"`
	Web   bool `json:"publish_web"`
}

// Requested lists the channels in dispatch order.
func (c ChannelSet) Requested() []Channel {
	var out []Channel
	if c.SMS {
		out = append(out, ChannelSMS)
	}
	if c.Push {
		out = append(out, ChannelPush)
	}
	if c.Email {
		out = append(out, ChannelEmail)
	}
	if c.Web {
		out = append(out, ChannelWeb)
	}
	return out
}

func (c ChannelSet) Any() bool {
	return c.SMS || c.Push || c.Email || c.Web
}

type Alert struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Message        string        `json:"message"`
	Instructions   string        `json:"instructions,omitempty"`
	ContactInfo    string        `json:"contact_info,omitempty"`
	DisasterTypeID string        `json:"disaster_type_id,omitempty"`
	Severity       AlertSeverity `json:"severity"`
	PriorityScore  int           `json:"priority_score"`
	Targeting      Targeting     `json:"targeting"`
	Channels       ChannelSet    `json:"channels"`
	Status         AlertStatus   `json:"status"`
	CreatedBy      string        `json:"created_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	IssuedAt       *time.Time    `json:"issued_at,omitempty"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty"`
	CancelledAt    *time.Time    `json:"cancelled_at,omitempty"`
	ArchivedAt     *time.Time    `json:"archived_at,omitempty"`
}

// ExpiredAt reports whether an active alert is past its expiry at now.
func (a *Alert) ExpiredAt(now time.Time) bool {
	return a.Status == AlertStatusActive && a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// AlertEvent is published on every lifecycle transition and resend.
type AlertEvent struct {
	Type      string
	AlertID   string
	Status    AlertStatus
	Severity  AlertSeverity
	Title     string
	Sent      int
	Failed    int
	Timestamp time.Time
}

const (
	AlertEventActivated = "activated"
	AlertEventCancelled = "cancelled"
	AlertEventExpired   = "expired"
	AlertEventArchived  = "archived"
	AlertEventResent    = "resent"
)
