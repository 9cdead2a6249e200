package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/config"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

// SMSDispatcher posts form-encoded messages to an SMS gateway.
type SMSDispatcher struct {
	url      string
	apiKey   string
	senderID string
	client   *http.Client
}

func NewSMSDispatcher(cfg config.SMSConfig, timeout time.Duration) *SMSDispatcher {
	return &SMSDispatcher{
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
		senderID: cfg.SenderID,
		client:   &http.Client{Timeout: timeout},
	}
}

func (d *SMSDispatcher) Channel() models.Channel {
	return models.ChannelSMS
}

type smsResponse struct {
	MessageID string `json:"message_id"`
}

func (d *SMSDispatcher) Dispatch(ctx context.Context, alert *models.Alert, r *models.Recipient) (string, error) {
	if r.Phone == "" {
		return "", fmt.Errorf("recipient has no phone number")
	}

	form := url.Values{}
	form.Set("senderid", d.senderID)
	form.Set("mobile", r.Phone)
	form.Set("msg", Text(alert))
	form.Set("reference", alert.ID+":"+r.ID)
	form.Set("output", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if d.apiKey != "" {
		req.Header.Set("apikey", d.apiKey)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error doing request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{Channel: models.ChannelSMS, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out smsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		slog.Debug("sms provider returned no message id", "recipient_id", r.ID, "error", err)
	}

	slog.Debug("sms sent", "alert_id", alert.ID, "recipient_id", r.ID, "duration", time.Since(start))
	return out.MessageID, nil
}
