package alerting

import (
	"context"
	"fmt"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
	"github.com/mr1hm/go-emergency-alerts/internal/stats"
)

// GetAlertDeliveryStatus is a read-side snapshot; it may trail an in-flight
// dispatch pass.
func (s *Service) GetAlertDeliveryStatus(ctx context.Context, id string) (*stats.DeliveryStatus, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	latest, err := s.store.LatestAttempts(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("error loading ledger: %w", err)
	}
	attempts, err := s.store.CountAttempts(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("error counting attempts: %w", err)
	}
	responses, err := s.store.CountResponses(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("error counting responses: %w", err)
	}
	audience, err := s.store.AudienceSize(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("error loading audience: %w", err)
	}
	return stats.Aggregate(a, latest, attempts, responses, audience), nil
}

// RespondToAlert records the recipient's current status. The latest
// submission wins; every submission is kept in the response log.
func (s *Service) RespondToAlert(ctx context.Context, alertID, recipientID string, status models.ResponseStatus, feedback string) (*models.Response, error) {
	if !status.Valid() {
		return nil, invalid("status", "must be one of acknowledged, safe, need_help, evacuated")
	}
	if len(feedback) > 2000 {
		return nil, invalid("feedback", "must be at most 2000 characters")
	}

	a, err := s.load(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !s.acceptsResponses(a) {
		return nil, fmt.Errorf("cannot respond to %s alert: %w", a.Status, ErrAlertNotActive)
	}

	addressed, err := s.store.HasRecipient(ctx, a.ID, recipientID)
	if err != nil {
		return nil, fmt.Errorf("error checking recipient: %w", err)
	}
	if !addressed {
		return nil, fmt.Errorf("recipient %s was not addressed by alert %s: %w", recipientID, a.ID, ErrNotFound)
	}

	now := s.now()
	resp := &models.Response{
		AlertID:     a.ID,
		RecipientID: recipientID,
		Status:      status,
		Feedback:    feedback,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if prev, err := s.store.GetResponse(ctx, a.ID, recipientID); err != nil {
		return nil, fmt.Errorf("error loading response: %w", err)
	} else if prev != nil {
		resp.CreatedAt = prev.CreatedAt
	}

	if err := s.store.UpsertResponse(ctx, resp); err != nil {
		return nil, fmt.Errorf("error saving response: %w", err)
	}
	return resp, nil
}

// acceptsResponses allows active alerts, and expired ones within the
// configured grace period after expires_at.
func (s *Service) acceptsResponses(a *models.Alert) bool {
	switch a.Status {
	case models.AlertStatusActive:
		return true
	case models.AlertStatusExpired:
		if s.expiredGrace <= 0 || a.ExpiresAt == nil {
			return false
		}
		return !s.now().After(a.ExpiresAt.Add(s.expiredGrace))
	default:
		return false
	}
}

// ListActiveAlertsForRecipient runs targeting in reverse: every active alert
// whose area covers the recipient.
func (s *Service) ListActiveAlertsForRecipient(ctx context.Context, recipientID string) ([]models.Alert, error) {
	r, err := s.store.GetRecipient(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("error loading recipient: %w", err)
	}
	if r == nil {
		return nil, fmt.Errorf("recipient %s: %w", recipientID, ErrNotFound)
	}

	active := models.AlertStatusActive
	alerts, err := s.ListAlerts(ctx, repository.Filter{Status: &active})
	if err != nil {
		return nil, err
	}

	var out []models.Alert
	for _, a := range alerts {
		covered, err := s.resolver.Covers(ctx, a.Targeting, r)
		if err != nil {
			return nil, fmt.Errorf("error matching alert %s: %w", a.ID, err)
		}
		if covered {
			out = append(out, a)
		}
	}
	return out, nil
}
