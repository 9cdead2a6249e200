package models

import "time"

type ResponseStatus string

const (
	ResponseAcknowledged ResponseStatus = "acknowledged"
	ResponseSafe         ResponseStatus = "safe"
	ResponseNeedHelp     ResponseStatus = "need_help"
	ResponseEvacuated    ResponseStatus = "evacuated"
)

func (s ResponseStatus) Valid() bool {
	switch s {
	case ResponseAcknowledged, ResponseSafe, ResponseNeedHelp, ResponseEvacuated:
		return true
	}
	return false
}

// Response is the current self-reported status of a recipient for an alert.
type Response struct {
	AlertID     string         `json:"alert_id"`
	RecipientID string         `json:"recipient_id"`
	Status      ResponseStatus `json:"status"`
	Feedback    string         `json:"feedback,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type ResponseCounts struct {
	Acknowledged int `json:"acknowledged"`
	Safe         int `json:"safe"`
	NeedHelp     int `json:"need_help"`
	Evacuated    int `json:"evacuated"`
	WithFeedback int `json:"with_feedback"`
	Total        int `json:"total"`
}

func (c *ResponseCounts) Add(status ResponseStatus, n int) {
	switch status {
	case ResponseAcknowledged:
		c.Acknowledged += n
	case ResponseSafe:
		c.Safe += n
	case ResponseNeedHelp:
		c.NeedHelp += n
	case ResponseEvacuated:
		c.Evacuated += n
	default:
		return
	}
	c.Total += n
}
