package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/config"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

// PushDispatcher sends device notifications through an FCM-style HTTP API.
type PushDispatcher struct {
	url       string
	serverKey string
	client    *http.Client
}

func NewPushDispatcher(cfg config.PushConfig, timeout time.Duration) *PushDispatcher {
	return &PushDispatcher{
		url:       cfg.URL,
		serverKey: cfg.ServerKey,
		client:    &http.Client{Timeout: timeout},
	}
}

func (d *PushDispatcher) Channel() models.Channel {
	return models.ChannelPush
}

type pushMessage struct {
	To           string            `json:"to"`
	Priority     string            `json:"priority"`
	Notification pushNotification  `json:"notification"`
	Data         map[string]string `json:"data"`
}

type pushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type pushResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

func (d *PushDispatcher) Dispatch(ctx context.Context, alert *models.Alert, r *models.Recipient) (string, error) {
	if r.PushToken == "" {
		return "", fmt.Errorf("recipient has no push token")
	}

	priority := "normal"
	if alert.PriorityScore >= models.AlertSeveritySevere.PriorityScore() {
		priority = "high"
	}

	payload, err := json.Marshal(pushMessage{
		To:       r.PushToken,
		Priority: priority,
		Notification: pushNotification{
			Title: alert.Title,
			Body:  alert.Message,
		},
		Data: map[string]string{
			"alert_id":     alert.ID,
			"recipient_id": r.ID,
			"severity":     string(alert.Severity),
		},
	})
	if err != nil {
		return "", fmt.Errorf("error marshalling push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.serverKey != "" {
		req.Header.Set("Authorization", "key="+d.serverKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error doing request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{Channel: models.ChannelPush, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out pushResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("error decoding push response: %w", err)
	}
	if out.Error != "" {
		return "", &ProviderError{Channel: models.ChannelPush, StatusCode: resp.StatusCode, Body: out.Error}
	}
	return out.MessageID, nil
}
