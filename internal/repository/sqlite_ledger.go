package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

const attemptColumns = `id, alert_id, recipient_id, channel, attempt, outcome, error_detail,
	provider_ref, attempted_at, updated_at`

// latestAttempt restricts a delivery_attempts alias d to the newest attempt of its key.
const latestAttempt = `d.attempt = (
	SELECT MAX(x.attempt) FROM delivery_attempts x
	WHERE x.alert_id = d.alert_id AND x.recipient_id = d.recipient_id AND x.channel = d.channel)`

func scanAttempt(row rowScanner) (*models.LedgerEntry, error) {
	var (
		e                      models.LedgerEntry
		attemptedAt, updatedAt int64
	)
	if err := row.Scan(&e.ID, &e.AlertID, &e.RecipientID, &e.Channel, &e.Attempt, &e.Outcome,
		&e.ErrorDetail, &e.ProviderRef, &attemptedAt, &updatedAt); err != nil {
		return nil, err
	}
	e.AttemptedAt = fromMillis(attemptedAt)
	e.UpdatedAt = fromMillis(updatedAt)
	return &e, nil
}

func (s *SQLiteDB) queryAttempts(ctx context.Context, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		e, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning attempt: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// AppendAttempt inserts a new attempt row, numbering it after the key's
// previous attempts. e.ID and e.Attempt are filled in.
func (s *SQLiteDB) AppendAttempt(ctx context.Context, e *models.LedgerEntry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.AttemptedAt
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO delivery_attempts (alert_id, recipient_id, channel, attempt, outcome,
			error_detail, provider_ref, attempted_at, updated_at)
		SELECT ?, ?, ?, COALESCE(MAX(attempt), 0) + 1, ?, ?, ?, ?, ?
		FROM delivery_attempts WHERE alert_id = ? AND recipient_id = ? AND channel = ?
		RETURNING id, attempt`,
		e.AlertID, e.RecipientID, e.Channel, e.Outcome, e.ErrorDetail, e.ProviderRef,
		toMillis(e.AttemptedAt), toMillis(e.UpdatedAt),
		e.AlertID, e.RecipientID, e.Channel,
	)
	if err := row.Scan(&e.ID, &e.Attempt); err != nil {
		return fmt.Errorf("error appending attempt for %s/%s/%s: %w", e.AlertID, e.RecipientID, e.Channel, err)
	}
	return nil
}

func (s *SQLiteDB) LatestAttempts(ctx context.Context, alertID string) ([]models.LedgerEntry, error) {
	entries, err := s.queryAttempts(ctx, `SELECT `+attemptColumns+` FROM delivery_attempts d
		WHERE d.alert_id = ? AND `+latestAttempt+`
		ORDER BY d.channel, d.recipient_id`, alertID)
	if err != nil {
		return nil, fmt.Errorf("error listing latest attempts of %s: %w", alertID, err)
	}
	return entries, nil
}

func (s *SQLiteDB) LatestFailed(ctx context.Context, alertID string) ([]models.LedgerEntry, error) {
	entries, err := s.queryAttempts(ctx, `SELECT `+attemptColumns+` FROM delivery_attempts d
		WHERE d.alert_id = ? AND d.outcome = ? AND `+latestAttempt+`
		ORDER BY d.channel, d.recipient_id`, alertID, models.OutcomeFailed)
	if err != nil {
		return nil, fmt.Errorf("error listing failed attempts of %s: %w", alertID, err)
	}
	return entries, nil
}

func (s *SQLiteDB) History(ctx context.Context, key models.LedgerKey) ([]models.LedgerEntry, error) {
	entries, err := s.queryAttempts(ctx, `SELECT `+attemptColumns+` FROM delivery_attempts
		WHERE alert_id = ? AND recipient_id = ? AND channel = ?
		ORDER BY attempt`, key.AlertID, key.RecipientID, key.Channel)
	if err != nil {
		return nil, fmt.Errorf("error fetching attempt history: %w", err)
	}
	return entries, nil
}

func (s *SQLiteDB) CountAttempts(ctx context.Context, alertID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_attempts WHERE alert_id = ?`, alertID).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting attempts of %s: %w", alertID, err)
	}
	return n, nil
}

func (s *SQLiteDB) HasRecipient(ctx context.Context, alertID, recipientID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM delivery_attempts WHERE alert_id = ? AND recipient_id = ?)`,
		alertID, recipientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking recipient %s of %s: %w", recipientID, alertID, err)
	}
	return exists, nil
}

func (s *SQLiteDB) ApplyReceipt(ctx context.Context, r *models.Receipt) (bool, error) {
	reported := r.ReportedAt
	if reported.IsZero() {
		reported = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var (
		id      int64
		current models.Outcome
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, outcome FROM delivery_attempts
		WHERE alert_id = ? AND recipient_id = ? AND channel = ?
		ORDER BY attempt DESC LIMIT 1`,
		r.AlertID, r.RecipientID, r.Channel).Scan(&id, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error loading latest attempt: %w", err)
	}

	if !current.CanUpgradeTo(r.Outcome) {
		return false, nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE delivery_attempts SET outcome = ?, error_detail = ?, updated_at = ?
		WHERE id = ? AND outcome = ?`,
		r.Outcome, r.ErrorDetail, toMillis(reported), id, current)
	if err != nil {
		return false, fmt.Errorf("error applying receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}
