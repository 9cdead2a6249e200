// Package stats derives delivery and response statistics from the ledger.
package stats

import (
	"math"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

type ChannelStats struct {
	Channel     models.Channel `json:"channel"`
	Targeted    int            `json:"targeted"`
	Sent        int            `json:"sent"`
	Delivered   int            `json:"delivered"`
	Read        int            `json:"read"`
	Failed      int            `json:"failed"`
	SuccessRate int            `json:"success_rate"`
}

type DeliveryStatus struct {
	AlertID          string                `json:"alert_id"`
	Status           models.AlertStatus    `json:"status"`
	Channels         []ChannelStats        `json:"channels"`
	TotalTargetUsers int                   `json:"total_target_users"`
	TotalAttempts    int                   `json:"total_attempts"`
	DeliveryRate     int                   `json:"delivery_rate"`
	Responses        models.ResponseCounts `json:"responses"`
}

// Rate returns successful/targeted as a rounded percentage, 0 when nothing
// was targeted.
func Rate(successful, targeted int) int {
	if targeted <= 0 {
		return 0
	}
	return int(math.Round(float64(successful) * 100 / float64(targeted)))
}

// Aggregate computes a snapshot from the latest attempt of every ledger key.
// Requested channels with no entries still appear with zero counts. When the
// activation audience is known it is the denominator, so recipients a halted
// pass never reached still count as targeted.
func Aggregate(alert *models.Alert, latest []models.LedgerEntry, attempts int, responses models.ResponseCounts, audience *models.AudienceSize) *DeliveryStatus {
	byChannel := make(map[models.Channel]*ChannelStats)
	var order []models.Channel
	get := func(ch models.Channel) *ChannelStats {
		cs, ok := byChannel[ch]
		if !ok {
			cs = &ChannelStats{Channel: ch}
			byChannel[ch] = cs
			order = append(order, ch)
		}
		return cs
	}
	for _, ch := range alert.Channels.Requested() {
		get(ch)
	}

	users := make(map[string]struct{})
	for _, e := range latest {
		cs := get(e.Channel)
		cs.Targeted++
		switch e.Outcome {
		case models.OutcomeSent:
			cs.Sent++
		case models.OutcomeDelivered:
			cs.Delivered++
		case models.OutcomeRead:
			cs.Read++
		case models.OutcomeFailed:
			cs.Failed++
		}
		if e.Channel.PerRecipient() {
			users[e.RecipientID] = struct{}{}
		}
	}

	totalUsers := len(users)
	if audience != nil {
		totalUsers = max(totalUsers, audience.TotalUsers)
		for ch, n := range audience.Targeted {
			cs := get(ch)
			cs.Targeted = max(cs.Targeted, n)
		}
	}

	out := &DeliveryStatus{
		AlertID:          alert.ID,
		Status:           alert.Status,
		TotalTargetUsers: totalUsers,
		TotalAttempts:    attempts,
		Responses:        responses,
	}

	var successful, targeted int
	for _, ch := range order {
		cs := byChannel[ch]
		ok := cs.Sent + cs.Delivered + cs.Read
		cs.SuccessRate = Rate(ok, cs.Targeted)
		successful += ok
		targeted += cs.Targeted
		out.Channels = append(out.Channels, *cs)
	}
	out.DeliveryRate = Rate(successful, targeted)
	return out
}
