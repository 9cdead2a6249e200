package channel

import (
	"context"
	"fmt"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"

	"github.com/mr1hm/go-emergency-alerts/internal/config"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type EmailDispatcher struct {
	host     string
	port     int
	username string
	password string
	from     string
	send     SendMailFunc
}

func NewEmailDispatcher(cfg config.EmailConfig) *EmailDispatcher {
	return &EmailDispatcher{
		host:     strings.TrimSpace(cfg.SMTPHost),
		port:     cfg.SMTPPort,
		username: strings.TrimSpace(cfg.Username),
		password: cfg.Password,
		from:     strings.TrimSpace(cfg.From),
		send:     smtp.SendMail,
	}
}

// WithSender replaces the SMTP transport, used by tests.
func (d *EmailDispatcher) WithSender(send SendMailFunc) *EmailDispatcher {
	d.send = send
	return d
}

func (d *EmailDispatcher) Channel() models.Channel {
	return models.ChannelEmail
}

func (d *EmailDispatcher) Dispatch(ctx context.Context, alert *models.Alert, r *models.Recipient) (string, error) {
	if r.Email == "" {
		return "", fmt.Errorf("recipient has no email address")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	to, err := mail.ParseAddress(r.Email)
	if err != nil {
		return "", fmt.Errorf("invalid email address: %w", err)
	}
	from := mail.Address{Address: d.from}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), headerValue(alert.Title))
	messageID := fmt.Sprintf("<%s.%s@%s>", headerValue(alert.ID), headerValue(r.ID), d.host)

	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMessage-ID: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n",
		from.String(), to.String(), mime.QEncoding.Encode("utf-8", subject), messageID)
	msg := []byte(headers + Text(alert))

	var auth smtp.Auth
	if d.username != "" {
		auth = smtp.PlainAuth("", d.username, d.password, d.host)
	}

	addr := fmt.Sprintf("%s:%d", d.host, d.port)
	if err := d.send(addr, auth, d.from, []string{to.Address}, msg); err != nil {
		return "", fmt.Errorf("error sending email: %w", err)
	}
	return messageID, nil
}

// headerValue folds line breaks so a value stays on its own header line.
func headerValue(v string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(v), " "))
}
