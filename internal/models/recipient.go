package models

// Recipient is a citizen account as exposed by the user directory.
// Latitude/Longitude fall back to the registered location's point when the
// account has no point of its own.
type Recipient struct {
	ID            string
	Name          string
	Latitude      *float64
	Longitude     *float64
	LocationID    string
	Phone         string
	PhoneVerified bool
	PushToken     string
	Email         string
	EmailVerified bool
	OptInSMS      bool
	OptInPush     bool
	OptInEmail    bool
	Active        bool
}

func (r *Recipient) Coordinates() (Coordinates, bool) {
	if r.Latitude == nil || r.Longitude == nil {
		return Coordinates{}, false
	}
	return Coordinates{Latitude: *r.Latitude, Longitude: *r.Longitude}, true
}

// OptedIn reports the recipient's opt-in flag for a channel. Web publishing
// has no per-recipient opt-in.
func (r *Recipient) OptedIn(ch Channel) bool {
	switch ch {
	case ChannelSMS:
		return r.OptInSMS
	case ChannelPush:
		return r.OptInPush
	case ChannelEmail:
		return r.OptInEmail
	default:
		return true
	}
}

// PublicRecipient is the synthetic audience of the web channel.
func PublicRecipient() Recipient {
	return Recipient{ID: PublicRecipientID, Name: "public", Active: true}
}
