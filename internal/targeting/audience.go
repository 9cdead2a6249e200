package targeting

import (
	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

// Rejection is a recipient kept in a channel's audience who cannot be reached
// on it. It is recorded as a failed ledger entry without calling a provider.
type Rejection struct {
	Recipient models.Recipient
	Reason    string
}

type Audience struct {
	Channel     models.Channel
	Reachable   []models.Recipient
	Unreachable []Rejection
}

func (a Audience) Size() int {
	return len(a.Reachable) + len(a.Unreachable)
}

// AudienceFor narrows candidates to one channel. Inactive accounts and
// recipients who opted out are dropped; recipients lacking the contact method
// stay in the audience as unreachable. Web publishing has one public entry.
func AudienceFor(ch models.Channel, candidates []models.Recipient) Audience {
	aud := Audience{Channel: ch}
	if !ch.PerRecipient() {
		aud.Reachable = []models.Recipient{models.PublicRecipient()}
		return aud
	}

	for _, r := range candidates {
		if !r.Active || !r.OptedIn(ch) {
			continue
		}
		if reason := Unreachable(ch, &r); reason != "" {
			aud.Unreachable = append(aud.Unreachable, Rejection{Recipient: r, Reason: reason})
			continue
		}
		aud.Reachable = append(aud.Reachable, r)
	}
	return aud
}

// Unreachable returns why r cannot be contacted on ch, or "" if it can.
func Unreachable(ch models.Channel, r *models.Recipient) string {
	switch ch {
	case models.ChannelSMS:
		if r.Phone == "" || !r.PhoneVerified {
			return "recipient has no verified phone number"
		}
	case models.ChannelPush:
		if r.PushToken == "" {
			return "recipient has no push token"
		}
	case models.ChannelEmail:
		if r.Email == "" || !r.EmailVerified {
			return "recipient has no verified email address"
		}
	}
	return ""
}
