package models

import "time"

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelWeb   Channel = "web"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelPush, ChannelEmail, ChannelWeb:
		return true
	}
	return false
}

// PerRecipient is false for web publishing, which has a single public entry.
func (c Channel) PerRecipient() bool {
	return c != ChannelWeb
}

// PublicRecipientID keys the single ledger entry of a web publication.
const PublicRecipientID = "public"

type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeDelivered Outcome = "delivered"
	OutcomeRead      Outcome = "read"
	OutcomeFailed    Outcome = "failed"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSent, OutcomeDelivered, OutcomeRead, OutcomeFailed:
		return true
	}
	return false
}

// Successful reports whether the provider accepted the notification.
func (o Outcome) Successful() bool {
	return o == OutcomeSent || o == OutcomeDelivered || o == OutcomeRead
}

func (o Outcome) rank() int {
	switch o {
	case OutcomeSent:
		return 1
	case OutcomeDelivered:
		return 2
	case OutcomeRead:
		return 3
	default:
		return 0
	}
}

// CanUpgradeTo reports whether a receipt carrying next may replace o.
// sent < delivered < read; a failure report only replaces sent.
func (o Outcome) CanUpgradeTo(next Outcome) bool {
	if next == OutcomeFailed {
		return o == OutcomeSent
	}
	if o == OutcomeFailed {
		return false
	}
	return next.rank() > o.rank()
}

type LedgerKey struct {
	AlertID     string
	RecipientID string
	Channel     Channel
}

// LedgerEntry is one dispatch attempt. Rows are append-only; receipts only
// upgrade Outcome on the latest attempt of a key.
type LedgerEntry struct {
	ID          int64     `json:"id"`
	AlertID     string    `json:"alert_id"`
	RecipientID string    `json:"recipient_id"`
	Channel     Channel   `json:"channel"`
	Attempt     int       `json:"attempt"`
	Outcome     Outcome   `json:"outcome"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	ProviderRef string    `json:"provider_ref,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (e *LedgerEntry) Key() LedgerKey {
	return LedgerKey{AlertID: e.AlertID, RecipientID: e.RecipientID, Channel: e.Channel}
}

// Receipt is an asynchronous provider report about a sent notification.
type Receipt struct {
	AlertID     string    `json:"alert_id"`
	RecipientID string    `json:"recipient_id"`
	Channel     Channel   `json:"channel"`
	Outcome     Outcome   `json:"outcome"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	ReportedAt  time.Time `json:"reported_at"`
}

// AudienceSize is the audience recorded at activation. Targeted counts every
// key per channel, reachable or not; TotalUsers counts distinct recipients of
// per-recipient channels.
type AudienceSize struct {
	Targeted   map[Channel]int
	TotalUsers int
}
