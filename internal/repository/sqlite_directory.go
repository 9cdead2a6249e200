package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

// Recipients without their own point inherit their location's point.
const recipientSelect = `
	SELECT r.id, r.name, COALESCE(r.latitude, l.latitude), COALESCE(r.longitude, l.longitude),
		COALESCE(r.location_id, ''), r.phone, r.phone_verified, r.push_token, r.email, r.email_verified,
		r.opt_in_sms, r.opt_in_push, r.opt_in_email, r.active
	FROM recipients r LEFT JOIN locations l ON l.id = r.location_id`

func scanRecipient(row rowScanner) (*models.Recipient, error) {
	var (
		r                      models.Recipient
		lat, lng               sql.NullFloat64
		phoneOK, emailOK       int
		optSMS, optPush, optEm int
		active                 int
	)
	if err := row.Scan(&r.ID, &r.Name, &lat, &lng, &r.LocationID, &r.Phone, &phoneOK, &r.PushToken,
		&r.Email, &emailOK, &optSMS, &optPush, &optEm, &active); err != nil {
		return nil, err
	}
	r.Latitude = floatPtr(lat)
	r.Longitude = floatPtr(lng)
	r.PhoneVerified = phoneOK == 1
	r.EmailVerified = emailOK == 1
	r.OptInSMS = optSMS == 1
	r.OptInPush = optPush == 1
	r.OptInEmail = optEm == 1
	r.Active = active == 1
	return &r, nil
}

func (s *SQLiteDB) queryRecipients(ctx context.Context, query string, args ...any) ([]models.Recipient, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying recipients: %w", err)
	}
	defer rows.Close()

	var recipients []models.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning recipient: %w", err)
		}
		recipients = append(recipients, *r)
	}
	return recipients, rows.Err()
}

func (s *SQLiteDB) UpsertRecipient(ctx context.Context, r *models.Recipient) error {
	var location sql.NullString
	if r.LocationID != "" {
		location = sql.NullString{String: r.LocationID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recipients (id, name, latitude, longitude, location_id, phone, phone_verified,
			push_token, email, email_verified, opt_in_sms, opt_in_push, opt_in_email, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, latitude = excluded.latitude, longitude = excluded.longitude,
			location_id = excluded.location_id, phone = excluded.phone,
			phone_verified = excluded.phone_verified, push_token = excluded.push_token,
			email = excluded.email, email_verified = excluded.email_verified,
			opt_in_sms = excluded.opt_in_sms, opt_in_push = excluded.opt_in_push,
			opt_in_email = excluded.opt_in_email, active = excluded.active`,
		r.ID, r.Name, nullFloat(r.Latitude), nullFloat(r.Longitude), location, r.Phone,
		boolInt(r.PhoneVerified), r.PushToken, r.Email, boolInt(r.EmailVerified),
		boolInt(r.OptInSMS), boolInt(r.OptInPush), boolInt(r.OptInEmail), boolInt(r.Active))
	if err != nil {
		return fmt.Errorf("error upserting recipient %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteDB) GetRecipient(ctx context.Context, id string) (*models.Recipient, error) {
	row := s.db.QueryRowContext(ctx, recipientSelect+` WHERE r.id = ?`, id)
	r, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching recipient %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLiteDB) GetRecipients(ctx context.Context, ids []string) ([]models.Recipient, error) {
	return s.queryRecipientsIn(ctx, "r.id", ids)
}

// queryRecipientsIn matches column against values in bounded batches and
// returns the union ordered by id.
func (s *SQLiteDB) queryRecipientsIn(ctx context.Context, column string, values []string) ([]models.Recipient, error) {
	var out []models.Recipient
	for _, batch := range chunks(values, maxInArgs) {
		rs, err := s.queryRecipients(ctx, recipientSelect+` WHERE `+column+` IN (`+placeholders(len(batch))+`)`, stringArgs(batch)...)
		if err != nil {
			return nil, err
		}
		out = append(out, rs...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *SQLiteDB) ListRecipients(ctx context.Context) ([]models.Recipient, error) {
	return s.queryRecipients(ctx, recipientSelect+` ORDER BY r.id`)
}

func (s *SQLiteDB) ListRecipientsInBox(ctx context.Context, box BoundingBox) ([]models.Recipient, error) {
	return s.queryRecipients(ctx, recipientSelect+`
		WHERE COALESCE(r.latitude, l.latitude) BETWEEN ? AND ?
		AND COALESCE(r.longitude, l.longitude) BETWEEN ? AND ?
		ORDER BY r.id`, box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
}

func (s *SQLiteDB) ListRecipientsInLocations(ctx context.Context, locationIDs []string) ([]models.Recipient, error) {
	return s.queryRecipientsIn(ctx, "r.location_id", locationIDs)
}

func (s *SQLiteDB) UpsertLocation(ctx context.Context, l *models.Location) error {
	var parent sql.NullString
	if l.ParentID != "" {
		parent = sql.NullString{String: l.ParentID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (id, parent_id, name, latitude, longitude) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET parent_id = excluded.parent_id, name = excluded.name,
			latitude = excluded.latitude, longitude = excluded.longitude`,
		l.ID, parent, l.Name, nullFloat(l.Latitude), nullFloat(l.Longitude))
	if err != nil {
		return fmt.Errorf("error upserting location %s: %w", l.ID, err)
	}
	return nil
}

func (s *SQLiteDB) GetLocation(ctx context.Context, id string) (*models.Location, error) {
	var (
		l        models.Location
		parent   sql.NullString
		lat, lng sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, parent_id, name, latitude, longitude FROM locations WHERE id = ?`, id).
		Scan(&l.ID, &parent, &l.Name, &lat, &lng)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching location %s: %w", id, err)
	}
	l.ParentID = parent.String
	l.Latitude = floatPtr(lat)
	l.Longitude = floatPtr(lng)
	return &l, nil
}

func (s *SQLiteDB) Descendants(ctx context.Context, id string) ([]string, error) {
	return s.queryIDs(ctx, `
		WITH RECURSIVE tree(id) AS (
			SELECT id FROM locations WHERE id = ?
			UNION
			SELECT l.id FROM locations l JOIN tree t ON l.parent_id = t.id
		)
		SELECT id FROM tree`, id)
}

func (s *SQLiteDB) Ancestors(ctx context.Context, id string) ([]string, error) {
	return s.queryIDs(ctx, `
		WITH RECURSIVE chain(id, parent_id) AS (
			SELECT id, parent_id FROM locations WHERE id = ?
			UNION
			SELECT l.id, l.parent_id FROM locations l JOIN chain c ON l.id = c.parent_id
		)
		SELECT id FROM chain`, id)
}

func (s *SQLiteDB) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error walking location hierarchy: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteDB) UpsertDisasterType(ctx context.Context, dt *models.DisasterType) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disaster_types (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`, dt.ID, dt.Name)
	if err != nil {
		return fmt.Errorf("error upserting disaster type %s: %w", dt.ID, err)
	}
	return nil
}

func (s *SQLiteDB) ListDisasterTypes(ctx context.Context) ([]models.DisasterType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM disaster_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("error listing disaster types: %w", err)
	}
	defer rows.Close()

	var types []models.DisasterType
	for rows.Next() {
		var dt models.DisasterType
		if err := rows.Scan(&dt.ID, &dt.Name); err != nil {
			return nil, err
		}
		types = append(types, dt)
	}
	return types, rows.Err()
}

func (s *SQLiteDB) GetDisasterType(ctx context.Context, id string) (*models.DisasterType, error) {
	var dt models.DisasterType
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM disaster_types WHERE id = ?`, id).Scan(&dt.ID, &dt.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching disaster type %s: %w", id, err)
	}
	return &dt, nil
}
