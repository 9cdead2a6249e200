package repository

import (
	"context"
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

type Filter struct {
	Limit     int
	Offset    int
	Status    *models.AlertStatus
	Severity  *models.AlertSeverity
	Published *bool // publish_web requested
}

// BoundingBox limits recipient scans before the exact distance test.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

type AlertRepository interface {
	AddAlert(ctx context.Context, a *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, opts Filter) ([]models.Alert, error)
	// UpdateDraft rewrites content, targeting and channels only while the
	// alert is a draft. It reports false if the alert is not a draft.
	UpdateDraft(ctx context.Context, a *models.Alert) (bool, error)
	// TransitionStatus moves the alert to `to` if its status is one of
	// `from`, stamping the matching lifecycle timestamp with at.
	TransitionStatus(ctx context.Context, id string, from []models.AlertStatus, to models.AlertStatus, at time.Time) (bool, error)
	GetStatus(ctx context.Context, id string) (models.AlertStatus, error)
	// ExpireDue marks every active alert whose expires_at is before now as
	// expired and returns their ids.
	ExpireDue(ctx context.Context, now time.Time) ([]string, error)
}

type LedgerRepository interface {
	AppendAttempt(ctx context.Context, e *models.LedgerEntry) error
	// LatestAttempts returns the current (latest) attempt of every key of an
	// alert.
	LatestAttempts(ctx context.Context, alertID string) ([]models.LedgerEntry, error)
	LatestFailed(ctx context.Context, alertID string) ([]models.LedgerEntry, error)
	History(ctx context.Context, key models.LedgerKey) ([]models.LedgerEntry, error)
	CountAttempts(ctx context.Context, alertID string) (int, error)
	HasRecipient(ctx context.Context, alertID, recipientID string) (bool, error)
	// ApplyReceipt upgrades the latest attempt of the receipt's key. It
	// reports false when the receipt would not move the outcome forward.
	ApplyReceipt(ctx context.Context, r *models.Receipt) (bool, error)
	// SaveAudienceSize records the audience resolved at activation so stats
	// keep the full denominator when a pass is halted.
	SaveAudienceSize(ctx context.Context, alertID string, size *models.AudienceSize) error
	// AudienceSize returns nil when none was recorded.
	AudienceSize(ctx context.Context, alertID string) (*models.AudienceSize, error)
}

type ResponseRepository interface {
	// UpsertResponse stores the current response and appends it to the
	// response log.
	UpsertResponse(ctx context.Context, r *models.Response) error
	GetResponse(ctx context.Context, alertID, recipientID string) (*models.Response, error)
	CountResponses(ctx context.Context, alertID string) (models.ResponseCounts, error)
	ResponseLog(ctx context.Context, alertID, recipientID string) ([]models.Response, error)
}

// DirectoryRepository exposes the collaborator-owned recipient directory,
// administrative hierarchy and disaster-type catalog.
type DirectoryRepository interface {
	UpsertRecipient(ctx context.Context, r *models.Recipient) error
	GetRecipient(ctx context.Context, id string) (*models.Recipient, error)
	GetRecipients(ctx context.Context, ids []string) ([]models.Recipient, error)
	ListRecipients(ctx context.Context) ([]models.Recipient, error)
	ListRecipientsInBox(ctx context.Context, box BoundingBox) ([]models.Recipient, error)
	ListRecipientsInLocations(ctx context.Context, locationIDs []string) ([]models.Recipient, error)

	UpsertLocation(ctx context.Context, l *models.Location) error
	GetLocation(ctx context.Context, id string) (*models.Location, error)
	// Descendants returns id and every node below it.
	Descendants(ctx context.Context, id string) ([]string, error)
	// Ancestors returns id and every node above it.
	Ancestors(ctx context.Context, id string) ([]string, error)

	UpsertDisasterType(ctx context.Context, dt *models.DisasterType) error
	ListDisasterTypes(ctx context.Context) ([]models.DisasterType, error)
	GetDisasterType(ctx context.Context, id string) (*models.DisasterType, error)
}
