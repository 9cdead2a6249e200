package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS disaster_types (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS locations (
			id TEXT PRIMARY KEY,
			parent_id TEXT,
			name TEXT NOT NULL,
			latitude REAL,
			longitude REAL
		);

		CREATE TABLE IF NOT EXISTS recipients (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			latitude REAL,
			longitude REAL,
			location_id TEXT,
			phone TEXT NOT NULL DEFAULT '',
			phone_verified INTEGER NOT NULL DEFAULT 0,
			push_token TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			email_verified INTEGER NOT NULL DEFAULT 0,
			opt_in_sms INTEGER NOT NULL DEFAULT 1,
			opt_in_push INTEGER NOT NULL DEFAULT 1,
			opt_in_email INTEGER NOT NULL DEFAULT 1,
			active INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			instructions TEXT NOT NULL DEFAULT '',
			contact_info TEXT NOT NULL DEFAULT '',
			disaster_type_id TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL,
			priority_score INTEGER NOT NULL,
			center_lat REAL,
			center_lng REAL,
			radius_km REAL,
			location_id TEXT NOT NULL DEFAULT '',
			send_sms INTEGER NOT NULL DEFAULT 0,
			send_push INTEGER NOT NULL DEFAULT 0,
			send_email INTEGER NOT NULL DEFAULT 0,
			publish_web INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			issued_at INTEGER,
			expires_at INTEGER,
			cancelled_at INTEGER,
			archived_at INTEGER
		);

		CREATE TABLE IF NOT EXISTS delivery_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			error_detail TEXT NOT NULL DEFAULT '',
			provider_ref TEXT NOT NULL DEFAULT '',
			attempted_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (alert_id, recipient_id, channel, attempt),
			FOREIGN KEY (alert_id) REFERENCES alerts(id)
		);

		CREATE TABLE IF NOT EXISTS alert_audiences (
			alert_id TEXT PRIMARY KEY,
			total_users INTEGER NOT NULL,
			FOREIGN KEY (alert_id) REFERENCES alerts(id)
		);

		CREATE TABLE IF NOT EXISTS alert_channel_targets (
			alert_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			targeted INTEGER NOT NULL,
			PRIMARY KEY (alert_id, channel),
			FOREIGN KEY (alert_id) REFERENCES alerts(id)
		);

		CREATE TABLE IF NOT EXISTS responses (
			alert_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			status TEXT NOT NULL,
			feedback TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (alert_id, recipient_id),
			FOREIGN KEY (alert_id) REFERENCES alerts(id)
		);

		CREATE TABLE IF NOT EXISTS response_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			status TEXT NOT NULL,
			feedback TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
		CREATE INDEX IF NOT EXISTS idx_locations_parent ON locations(parent_id);
		CREATE INDEX IF NOT EXISTS idx_recipients_location ON recipients(location_id);
		CREATE INDEX IF NOT EXISTS idx_recipients_point ON recipients(latitude, longitude);
		CREATE INDEX IF NOT EXISTS idx_attempts_alert ON delivery_attempts(alert_id, outcome);
		CREATE INDEX IF NOT EXISTS idx_response_log_key ON response_log(alert_id, recipient_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Times are stored as unix milliseconds so comparisons happen in SQL.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// maxInArgs keeps IN lists well under SQLite's bound-variable limit.
const maxInArgs = 500

// chunks de-duplicates values and splits them into slices of at most size.
func chunks(values []string, size int) [][]string {
	seen := make(map[string]struct{}, len(values))
	uniq := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		uniq = append(uniq, v)
	}

	var out [][]string
	for len(uniq) > size {
		out = append(out, uniq[:size])
		uniq = uniq[size:]
	}
	if len(uniq) > 0 {
		out = append(out, uniq)
	}
	return out
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
