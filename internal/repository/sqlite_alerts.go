package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

const alertColumns = `id, title, message, instructions, contact_info, disaster_type_id, severity,
	priority_score, center_lat, center_lng, radius_km, location_id, send_sms, send_push,
	send_email, publish_web, status, created_by, created_at, updated_at, issued_at,
	expires_at, cancelled_at, archived_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a                                        models.Alert
		centerLat, centerLng, radius             sql.NullFloat64
		sms, push, email, web                    int
		createdAt, updatedAt                     int64
		issuedAt, expiresAt, cancelledAt, archAt sql.NullInt64
	)
	err := row.Scan(
		&a.ID, &a.Title, &a.Message, &a.Instructions, &a.ContactInfo, &a.DisasterTypeID, &a.Severity,
		&a.PriorityScore, &centerLat, &centerLng, &radius, &a.Targeting.LocationID, &sms, &push,
		&email, &web, &a.Status, &a.CreatedBy, &createdAt, &updatedAt, &issuedAt,
		&expiresAt, &cancelledAt, &archAt,
	)
	if err != nil {
		return nil, err
	}

	a.Targeting.CenterLat = floatPtr(centerLat)
	a.Targeting.CenterLng = floatPtr(centerLng)
	a.Targeting.RadiusKm = floatPtr(radius)
	a.Channels = models.ChannelSet{SMS: sms == 1, Push: push == 1, Email: email == 1, Web: web == 1}
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	a.IssuedAt = timePtr(issuedAt)
	a.ExpiresAt = timePtr(expiresAt)
	a.CancelledAt = timePtr(cancelledAt)
	a.ArchivedAt = timePtr(archAt)
	return &a, nil
}

func (s *SQLiteDB) AddAlert(ctx context.Context, a *models.Alert) error {
	query := `INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.Title, a.Message, a.Instructions, a.ContactInfo, a.DisasterTypeID, a.Severity,
		a.PriorityScore, nullFloat(a.Targeting.CenterLat), nullFloat(a.Targeting.CenterLng),
		nullFloat(a.Targeting.RadiusKm), a.Targeting.LocationID,
		boolInt(a.Channels.SMS), boolInt(a.Channels.Push), boolInt(a.Channels.Email), boolInt(a.Channels.Web),
		a.Status, a.CreatedBy, toMillis(a.CreatedAt), toMillis(a.UpdatedAt),
		nullMillis(a.IssuedAt), nullMillis(a.ExpiresAt), nullMillis(a.CancelledAt), nullMillis(a.ArchivedAt),
	)
	if err != nil {
		return fmt.Errorf("error inserting alert %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLiteDB) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching alert %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLiteDB) ListAlerts(ctx context.Context, opts Filter) ([]models.Alert, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *opts.Status)
	}
	if opts.Severity != nil {
		where = append(where, "severity = ?")
		args = append(args, *opts.Severity)
	}
	if opts.Published != nil {
		where = append(where, "publish_web = ?")
		args = append(args, boolInt(*opts.Published))
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY priority_score DESC, created_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func (s *SQLiteDB) UpdateDraft(ctx context.Context, a *models.Alert) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET
			title = ?, message = ?, instructions = ?, contact_info = ?, disaster_type_id = ?,
			severity = ?, priority_score = ?, center_lat = ?, center_lng = ?, radius_km = ?,
			location_id = ?, send_sms = ?, send_push = ?, send_email = ?, publish_web = ?,
			expires_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		a.Title, a.Message, a.Instructions, a.ContactInfo, a.DisasterTypeID,
		a.Severity, a.PriorityScore, nullFloat(a.Targeting.CenterLat), nullFloat(a.Targeting.CenterLng),
		nullFloat(a.Targeting.RadiusKm), a.Targeting.LocationID,
		boolInt(a.Channels.SMS), boolInt(a.Channels.Push), boolInt(a.Channels.Email), boolInt(a.Channels.Web),
		nullMillis(a.ExpiresAt), toMillis(a.UpdatedAt),
		a.ID, models.AlertStatusDraft,
	)
	if err != nil {
		return false, fmt.Errorf("error updating draft %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteDB) TransitionStatus(ctx context.Context, id string, from []models.AlertStatus, to models.AlertStatus, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	set := "status = ?, updated_at = ?"
	args := []any{to, toMillis(at)}
	switch to {
	case models.AlertStatusActive:
		set += ", issued_at = ?"
		args = append(args, toMillis(at))
	case models.AlertStatusCancelled:
		set += ", cancelled_at = ?"
		args = append(args, toMillis(at))
	case models.AlertStatusArchived:
		set += ", archived_at = ?"
		args = append(args, toMillis(at))
	}

	args = append(args, id)
	for _, st := range from {
		args = append(args, st)
	}

	query := fmt.Sprintf(`UPDATE alerts SET %s WHERE id = ? AND status IN (%s)`, set, placeholders(len(from)))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("error transitioning alert %s to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteDB) GetStatus(ctx context.Context, id string) (models.AlertStatus, error) {
	var status models.AlertStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM alerts WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("error fetching status of alert %s: %w", id, err)
	}
	return status, nil
}

func (s *SQLiteDB) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM alerts WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?`,
		models.AlertStatusActive, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("error selecting due alerts: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// same predicate as the select, the transaction holds the only connection
	if _, err := tx.ExecContext(ctx,
		`UPDATE alerts SET status = ?, updated_at = ? WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?`,
		models.AlertStatusExpired, toMillis(now), models.AlertStatusActive, toMillis(now)); err != nil {
		return nil, fmt.Errorf("error expiring alerts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}
