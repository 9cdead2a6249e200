package channel

import (
	"context"
	"fmt"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

// Publisher receives alerts published to the public listing.
type Publisher interface {
	Broadcast(e *models.AlertEvent)
}

// WebDispatcher publishes an alert to the public listing. It has a single
// synthetic recipient; the listing itself reads active alerts with
// publish_web set, so dispatch only announces the publication.
type WebDispatcher struct {
	publisher Publisher
}

func NewWebDispatcher(p Publisher) *WebDispatcher {
	return &WebDispatcher{publisher: p}
}

func (d *WebDispatcher) Channel() models.Channel {
	return models.ChannelWeb
}

func (d *WebDispatcher) Dispatch(ctx context.Context, alert *models.Alert, r *models.Recipient) (string, error) {
	if r.ID != models.PublicRecipientID {
		return "", fmt.Errorf("web channel has no per-recipient delivery")
	}
	if d.publisher != nil {
		d.publisher.Broadcast(&models.AlertEvent{
			Type:     "published",
			AlertID:  alert.ID,
			Status:   alert.Status,
			Severity: alert.Severity,
			Title:    alert.Title,
		})
	}
	return "web:" + alert.ID, nil
}
