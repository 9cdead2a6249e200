package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

func (s *SQLiteDB) UpsertResponse(ctx context.Context, r *models.Response) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO responses (alert_id, recipient_id, status, feedback, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (alert_id, recipient_id) DO UPDATE SET
			status = excluded.status,
			feedback = excluded.feedback,
			updated_at = excluded.updated_at`,
		r.AlertID, r.RecipientID, r.Status, r.Feedback, toMillis(r.CreatedAt), toMillis(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("error upserting response: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO response_log (alert_id, recipient_id, status, feedback, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.AlertID, r.RecipientID, r.Status, r.Feedback, toMillis(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("error appending response log: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteDB) GetResponse(ctx context.Context, alertID, recipientID string) (*models.Response, error) {
	var (
		r                    models.Response
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT alert_id, recipient_id, status, feedback, created_at, updated_at
		FROM responses WHERE alert_id = ? AND recipient_id = ?`, alertID, recipientID).
		Scan(&r.AlertID, &r.RecipientID, &r.Status, &r.Feedback, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching response: %w", err)
	}
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return &r, nil
}

func (s *SQLiteDB) CountResponses(ctx context.Context, alertID string) (models.ResponseCounts, error) {
	var counts models.ResponseCounts

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), SUM(CASE WHEN feedback <> '' THEN 1 ELSE 0 END)
		FROM responses WHERE alert_id = ? GROUP BY status`, alertID)
	if err != nil {
		return counts, fmt.Errorf("error counting responses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status       models.ResponseStatus
			n, feedbacks int
		)
		if err := rows.Scan(&status, &n, &feedbacks); err != nil {
			return counts, err
		}
		counts.Add(status, n)
		counts.WithFeedback += feedbacks
	}
	return counts, rows.Err()
}

func (s *SQLiteDB) ResponseLog(ctx context.Context, alertID, recipientID string) ([]models.Response, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT alert_id, recipient_id, status, feedback, created_at
		FROM response_log WHERE alert_id = ? AND recipient_id = ? ORDER BY id`, alertID, recipientID)
	if err != nil {
		return nil, fmt.Errorf("error fetching response log: %w", err)
	}
	defer rows.Close()

	var log []models.Response
	for rows.Next() {
		var (
			r         models.Response
			createdAt int64
		)
		if err := rows.Scan(&r.AlertID, &r.RecipientID, &r.Status, &r.Feedback, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = fromMillis(createdAt)
		r.UpdatedAt = r.CreatedAt
		log = append(log, r)
	}
	return log, rows.Err()
}
