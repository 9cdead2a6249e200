// Package alerting owns the alert lifecycle: drafting, activation with
// dispatch, cancellation, expiry, archival, resend and citizen responses.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-emergency-alerts/internal/config"
	"github.com/mr1hm/go-emergency-alerts/internal/dispatch"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
	"github.com/mr1hm/go-emergency-alerts/internal/targeting"
)

// EventPublisher receives lifecycle events, implemented by the gRPC
// broadcaster.
type EventPublisher interface {
	Broadcast(e *models.AlertEvent)
}

// Dispatcher runs one fan-out pass, implemented by dispatch.Engine.
type Dispatcher interface {
	Run(ctx context.Context, alert *models.Alert, audiences []targeting.Audience) *dispatch.Summary
}

type Store interface {
	repository.AlertRepository
	repository.LedgerRepository
	repository.ResponseRepository
	repository.DirectoryRepository
}

type Service struct {
	store        Store
	resolver     *targeting.Resolver
	dispatcher   Dispatcher
	events       EventPublisher
	expiredGrace time.Duration
	now          func() time.Time
	passes       *alertLocks
}

func NewService(store Store, dispatcher Dispatcher, events EventPublisher, cfg config.ResponseConfig) *Service {
	return &Service{
		store:        store,
		resolver:     targeting.NewResolver(store),
		dispatcher:   dispatcher,
		events:       events,
		expiredGrace: cfg.ExpiredGrace,
		now:          func() time.Time { return time.Now().UTC() },
		passes:       newAlertLocks(),
	}
}

// WithClock replaces the time source, used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) publish(a *models.Alert, eventType string, sent, failed int) {
	if s.events == nil {
		return
	}
	s.events.Broadcast(&models.AlertEvent{
		Type:      eventType,
		AlertID:   a.ID,
		Status:    a.Status,
		Severity:  a.Severity,
		Title:     a.Title,
		Sent:      sent,
		Failed:    failed,
		Timestamp: s.now(),
	})
}

func (s *Service) checkReferences(ctx context.Context, in *AlertInput) error {
	if in.DisasterTypeID != "" {
		dt, err := s.store.GetDisasterType(ctx, in.DisasterTypeID)
		if err != nil {
			return fmt.Errorf("error loading disaster type: %w", err)
		}
		if dt == nil {
			return invalid("disaster_type_id", "unknown disaster type")
		}
	}
	if in.Targeting.HasLocation() {
		loc, err := s.store.GetLocation(ctx, in.Targeting.LocationID)
		if err != nil {
			return fmt.Errorf("error loading location: %w", err)
		}
		if loc == nil {
			return invalid("location_id", "unknown administrative location")
		}
	}
	return nil
}

func (s *Service) CreateAlert(ctx context.Context, in AlertInput, createdBy string) (*models.Alert, error) {
	now := s.now()
	if err := validateDraft(&in, now); err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, &in); err != nil {
		return nil, err
	}

	a := &models.Alert{
		ID:        uuid.NewString(),
		Status:    models.AlertStatusDraft,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyInput(a, &in)

	if err := s.store.AddAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("error creating alert: %w", err)
	}
	slog.Info("alert drafted", "alert_id", a.ID, "severity", a.Severity)
	return a, nil
}

func applyInput(a *models.Alert, in *AlertInput) {
	a.Title = in.Title
	a.Message = in.Message
	a.Instructions = in.Instructions
	a.ContactInfo = in.ContactInfo
	a.DisasterTypeID = in.DisasterTypeID
	a.Severity = in.Severity
	a.PriorityScore = in.Severity.PriorityScore()
	a.Targeting = in.Targeting
	a.Channels = in.Channels
	a.ExpiresAt = in.ExpiresAt
}

// UpdateDraft replaces the content of a draft. Any other status is a state
// conflict: issued content is immutable.
func (s *Service) UpdateDraft(ctx context.Context, id string, in AlertInput) (*models.Alert, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != models.AlertStatusDraft {
		return nil, fmt.Errorf("cannot edit %s alert: %w", a.Status, ErrStateConflict)
	}

	now := s.now()
	if err := validateDraft(&in, now); err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, &in); err != nil {
		return nil, err
	}

	applyInput(a, &in)
	a.UpdatedAt = now

	ok, err := s.store.UpdateDraft(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("error updating alert: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("alert left draft state: %w", ErrStateConflict)
	}
	return a, nil
}

// load fetches an alert and expires it lazily if it is past expires_at.
func (s *Service) load(ctx context.Context, id string) (*models.Alert, error) {
	a, err := s.store.GetAlert(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error loading alert: %w", err)
	}
	if a == nil {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err := s.expireLazily(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) expireLazily(ctx context.Context, a *models.Alert) error {
	now := s.now()
	if !a.ExpiredAt(now) {
		return nil
	}
	ok, err := s.store.TransitionStatus(ctx, a.ID, []models.AlertStatus{models.AlertStatusActive}, models.AlertStatusExpired, now)
	if err != nil {
		return fmt.Errorf("error expiring alert: %w", err)
	}
	if !ok {
		status, err := s.store.GetStatus(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("error reloading alert status: %w", err)
		}
		a.Status = status
		return nil
	}
	a.Status = models.AlertStatusExpired
	a.UpdatedAt = now
	slog.Info("alert expired", "alert_id", a.ID)
	s.publish(a, models.AlertEventExpired, 0, 0)
	return nil
}

func (s *Service) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	return s.load(ctx, id)
}

func (s *Service) ListAlerts(ctx context.Context, opts repository.Filter) ([]models.Alert, error) {
	alerts, err := s.store.ListAlerts(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing alerts: %w", err)
	}

	out := alerts[:0]
	for i := range alerts {
		a := &alerts[i]
		if err := s.expireLazily(ctx, a); err != nil {
			return nil, err
		}
		if opts.Status != nil && a.Status != *opts.Status {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

// ListPublicAlerts returns active alerts published to the web listing.
func (s *Service) ListPublicAlerts(ctx context.Context) ([]models.Alert, error) {
	active := models.AlertStatusActive
	published := true
	return s.ListAlerts(ctx, repository.Filter{Status: &active, Published: &published})
}

func (s *Service) ListDisasterTypes(ctx context.Context) ([]models.DisasterType, error) {
	return s.store.ListDisasterTypes(ctx)
}
