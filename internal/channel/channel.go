// Package channel holds one Dispatcher per notification medium. The dispatch
// engine only depends on the Dispatcher interface.
package channel

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

// Dispatcher delivers one alert to one recipient. A nil error means the
// provider accepted the notification; the returned reference identifies it in
// later delivery receipts.
type Dispatcher interface {
	Channel() models.Channel
	Dispatch(ctx context.Context, alert *models.Alert, r *models.Recipient) (ref string, err error)
}

// ProviderError is a rejection reported by a channel provider.
type ProviderError struct {
	Channel    models.Channel
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	body := truncate(strings.TrimSpace(e.Body), 200)
	return fmt.Sprintf("%s provider rejected notification: status %d: %s", e.Channel, e.StatusCode, body)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Registry maps channels to their dispatchers.
type Registry map[models.Channel]Dispatcher

func NewRegistry(dispatchers ...Dispatcher) Registry {
	reg := make(Registry, len(dispatchers))
	for _, d := range dispatchers {
		if d != nil {
			reg[d.Channel()] = d
		}
	}
	return reg
}

// Disabled stands in for a channel with no configured provider; every
// dispatch fails so the ledger shows why nothing was sent.
type Disabled struct {
	Ch models.Channel
}

func (d Disabled) Channel() models.Channel {
	return d.Ch
}

func (d Disabled) Dispatch(context.Context, *models.Alert, *models.Recipient) (string, error) {
	return "", fmt.Errorf("%s channel is not configured", d.Ch)
}

// Text renders the plain-text body shared by SMS and email.
func Text(a *models.Alert) string {
	var b strings.Builder
	if a.Title != "" {
		b.WriteString(strings.ToUpper(string(a.Severity)))
		b.WriteString(": ")
		b.WriteString(a.Title)
		b.WriteString("\n")
	}
	b.WriteString(a.Message)
	if a.Instructions != "" {
		b.WriteString("\n")
		b.WriteString(a.Instructions)
	}
	if a.ContactInfo != "" {
		b.WriteString("\nContact: ")
		b.WriteString(a.ContactInfo)
	}
	return b.String()
}
