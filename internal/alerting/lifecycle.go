package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mr1hm/go-emergency-alerts/internal/dispatch"
	"github.com/mr1hm/go-emergency-alerts/internal/logging"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/targeting"
)

// Activation is what an operator sees after activating: per-channel counts
// even under partial failure.
type Activation struct {
	Alert            *models.Alert     `json:"alert"`
	Summary          *dispatch.Summary `json:"summary"`
	TotalTargetUsers int               `json:"total_target_users"`
}

// ActivateAlert moves a draft to active and runs the initial dispatch pass.
// Validation and audience resolution happen first so a rejected activation
// leaves no ledger rows.
func (s *Service) ActivateAlert(ctx context.Context, id string) (*Activation, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != models.AlertStatusDraft {
		return nil, fmt.Errorf("cannot activate %s alert: %w", a.Status, ErrStateConflict)
	}

	now := s.now()
	if err := validateActivation(a, now); err != nil {
		return nil, err
	}

	candidates, err := s.resolver.Resolve(ctx, a.Targeting)
	if errors.Is(err, targeting.ErrUnknownLocation) {
		return nil, invalid("location_id", "unknown administrative location")
	}
	if err != nil {
		return nil, fmt.Errorf("error resolving audience: %w", err)
	}

	var audiences []targeting.Audience
	size := &models.AudienceSize{Targeted: make(map[models.Channel]int)}
	users := make(map[string]struct{})
	for _, ch := range a.Channels.Requested() {
		aud := targeting.AudienceFor(ch, candidates)
		audiences = append(audiences, aud)
		size.Targeted[ch] = aud.Size()
		if !ch.PerRecipient() {
			continue
		}
		for _, r := range aud.Reachable {
			users[r.ID] = struct{}{}
		}
		for _, rej := range aud.Unreachable {
			users[rej.Recipient.ID] = struct{}{}
		}
	}

	size.TotalUsers = len(users)

	unlock := s.passes.lock(a.ID)
	defer unlock()

	ok, err := s.store.TransitionStatus(ctx, a.ID, []models.AlertStatus{models.AlertStatusDraft}, models.AlertStatusActive, now)
	if err != nil {
		return nil, fmt.Errorf("error activating alert: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("alert is no longer a draft: %w", ErrStateConflict)
	}
	a.Status = models.AlertStatusActive
	a.IssuedAt = &now
	a.UpdatedAt = now

	log := logging.ForAlert(a.ID)
	if err := s.store.SaveAudienceSize(ctx, a.ID, size); err != nil {
		// the alert is already active, stats fall back to the ledger
		log.Error("failed to record audience size", "error", err)
	}
	log.Info("alert activated", "severity", a.Severity, "candidates", len(candidates), "channels", len(audiences))

	// the pass outlives a cancelled request; cancellation goes through CancelAlert
	sum := s.dispatcher.Run(context.WithoutCancel(ctx), a, audiences)

	if sum.Interrupted {
		if status, err := s.store.GetStatus(ctx, a.ID); err == nil && status != "" {
			a.Status = status
		}
	}
	s.publish(a, models.AlertEventActivated, sum.Sent(), sum.Failed())

	return &Activation{Alert: a, Summary: sum, TotalTargetUsers: size.TotalUsers}, nil
}

// CancelAlert stops further sends. Cancelling a cancelled alert is a no-op.
func (s *Service) CancelAlert(ctx context.Context, id string) (*models.Alert, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch a.Status {
	case models.AlertStatusCancelled:
		return a, nil
	case models.AlertStatusActive:
	default:
		return nil, fmt.Errorf("cannot cancel %s alert: %w", a.Status, ErrStateConflict)
	}

	now := s.now()
	ok, err := s.store.TransitionStatus(ctx, a.ID, []models.AlertStatus{models.AlertStatusActive}, models.AlertStatusCancelled, now)
	if err != nil {
		return nil, fmt.Errorf("error cancelling alert: %w", err)
	}
	if !ok {
		status, err := s.store.GetStatus(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("error reloading alert status: %w", err)
		}
		if status == models.AlertStatusCancelled {
			a.Status = status
			return a, nil
		}
		return nil, fmt.Errorf("cannot cancel %s alert: %w", status, ErrStateConflict)
	}

	a.Status = models.AlertStatusCancelled
	a.CancelledAt = &now
	a.UpdatedAt = now
	slog.Info("alert cancelled", "alert_id", a.ID)
	s.publish(a, models.AlertEventCancelled, 0, 0)
	return a, nil
}

// ArchiveAlert freezes an active, expired or cancelled alert. Archiving twice
// is a no-op.
func (s *Service) ArchiveAlert(ctx context.Context, id string) (*models.Alert, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == models.AlertStatusArchived {
		return a, nil
	}

	from := []models.AlertStatus{models.AlertStatusActive, models.AlertStatusExpired, models.AlertStatusCancelled}
	now := s.now()
	ok, err := s.store.TransitionStatus(ctx, a.ID, from, models.AlertStatusArchived, now)
	if err != nil {
		return nil, fmt.Errorf("error archiving alert: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("cannot archive %s alert: %w", a.Status, ErrStateConflict)
	}

	a.Status = models.AlertStatusArchived
	a.ArchivedAt = &now
	a.UpdatedAt = now
	slog.Info("alert archived", "alert_id", a.ID)
	s.publish(a, models.AlertEventArchived, 0, 0)
	return a, nil
}

// ExpireDue expires every active alert past expires_at and returns how many
// changed.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.store.ExpireDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("error expiring alerts: %w", err)
	}
	for _, id := range ids {
		a, err := s.store.GetAlert(ctx, id)
		if err != nil || a == nil {
			slog.Warn("expired alert vanished before event", "alert_id", id, "error", err)
			continue
		}
		s.publish(a, models.AlertEventExpired, 0, 0)
	}
	if len(ids) > 0 {
		slog.Info("expired alerts", "count", len(ids))
	}
	return len(ids), nil
}

// ResendFailedNotifications re-dispatches keys whose latest attempt failed.
// Recipients still lacking the contact method, or who opted out since, are
// left alone, so repeating the call without new failures writes nothing.
func (s *Service) ResendFailedNotifications(ctx context.Context, id string) (*dispatch.Summary, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != models.AlertStatusActive {
		return nil, fmt.Errorf("cannot resend %s alert: %w", a.Status, ErrAlertNotActive)
	}

	unlock := s.passes.lock(a.ID)
	defer unlock()

	// a pass that held the lock may have ended with a cancel
	status, err := s.store.GetStatus(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("error checking alert status: %w", err)
	}
	if status != models.AlertStatusActive {
		return nil, fmt.Errorf("cannot resend %s alert: %w", status, ErrAlertNotActive)
	}

	failed, err := s.store.LatestFailed(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("error loading failed deliveries: %w", err)
	}
	if len(failed) == 0 {
		return &dispatch.Summary{}, nil
	}

	var ids []string
	for _, e := range failed {
		if e.Channel.PerRecipient() {
			ids = append(ids, e.RecipientID)
		}
	}
	recipients, err := s.store.GetRecipients(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("error loading recipients: %w", err)
	}
	byID := make(map[string]models.Recipient, len(recipients))
	for _, r := range recipients {
		byID[r.ID] = r
	}

	byChannel := make(map[models.Channel]*targeting.Audience)
	var order []models.Channel
	for _, e := range failed {
		var r models.Recipient
		if e.Channel.PerRecipient() {
			var ok bool
			r, ok = byID[e.RecipientID]
			if !ok || !r.Active || !r.OptedIn(e.Channel) || targeting.Unreachable(e.Channel, &r) != "" {
				continue
			}
		} else {
			r = models.PublicRecipient()
		}

		aud, ok := byChannel[e.Channel]
		if !ok {
			aud = &targeting.Audience{Channel: e.Channel}
			byChannel[e.Channel] = aud
			order = append(order, e.Channel)
		}
		aud.Reachable = append(aud.Reachable, r)
	}

	log := logging.ForAlert(a.ID)
	if len(order) == 0 {
		log.Info("resend skipped, no reachable failed deliveries", "failed", len(failed))
		return &dispatch.Summary{}, nil
	}

	audiences := make([]targeting.Audience, 0, len(order))
	for _, ch := range order {
		audiences = append(audiences, *byChannel[ch])
	}

	log.Info("resending failed deliveries", "failed", len(failed))
	sum := s.dispatcher.Run(context.WithoutCancel(ctx), a, audiences)
	s.publish(a, models.AlertEventResent, sum.Sent(), sum.Failed())
	return sum, nil
}
