package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

func (s *SQLiteDB) SaveAudienceSize(ctx context.Context, alertID string, size *models.AudienceSize) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO alert_audiences (alert_id, total_users) VALUES (?, ?)
		ON CONFLICT (alert_id) DO UPDATE SET total_users = excluded.total_users`,
		alertID, size.TotalUsers); err != nil {
		return fmt.Errorf("error saving audience of %s: %w", alertID, err)
	}
	for ch, n := range size.Targeted {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO alert_channel_targets (alert_id, channel, targeted) VALUES (?, ?, ?)
			ON CONFLICT (alert_id, channel) DO UPDATE SET targeted = excluded.targeted`,
			alertID, ch, n); err != nil {
			return fmt.Errorf("error saving %s audience of %s: %w", ch, alertID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteDB) AudienceSize(ctx context.Context, alertID string) (*models.AudienceSize, error) {
	size := &models.AudienceSize{Targeted: make(map[models.Channel]int)}
	err := s.db.QueryRowContext(ctx,
		`SELECT total_users FROM alert_audiences WHERE alert_id = ?`, alertID).Scan(&size.TotalUsers)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching audience of %s: %w", alertID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, targeted FROM alert_channel_targets WHERE alert_id = ?`, alertID)
	if err != nil {
		return nil, fmt.Errorf("error fetching channel audiences of %s: %w", alertID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ch models.Channel
			n  int
		)
		if err := rows.Scan(&ch, &n); err != nil {
			return nil, err
		}
		size.Targeted[ch] = n
	}
	return size, rows.Err()
}
