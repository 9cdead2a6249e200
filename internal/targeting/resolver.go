package targeting

import (
	"context"
	"errors"
	"fmt"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

var (
	ErrMixedTargeting  = errors.New("point and administrative targeting cannot be combined")
	ErrUnknownLocation = errors.New("unknown administrative location")
)

type Directory interface {
	ListRecipients(ctx context.Context) ([]models.Recipient, error)
	ListRecipientsInBox(ctx context.Context, box repository.BoundingBox) ([]models.Recipient, error)
	ListRecipientsInLocations(ctx context.Context, locationIDs []string) ([]models.Recipient, error)
	GetLocation(ctx context.Context, id string) (*models.Location, error)
	Descendants(ctx context.Context, id string) ([]string, error)
	Ancestors(ctx context.Context, id string) ([]string, error)
}

// Resolver turns an alert's targeting into the set of recipients inside it.
type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns every recipient covered by t. Untargeted alerts cover the
// whole directory.
func (r *Resolver) Resolve(ctx context.Context, t models.Targeting) ([]models.Recipient, error) {
	switch {
	case t.HasPoint() && t.HasLocation():
		return nil, ErrMixedTargeting
	case t.HasPoint():
		if t.CenterLat == nil || t.CenterLng == nil || t.RadiusKm == nil {
			return nil, fmt.Errorf("incomplete point targeting")
		}
		return r.resolveRadius(ctx, t.Center(), *t.RadiusKm)
	case t.HasLocation():
		return r.resolveLocation(ctx, t.LocationID)
	default:
		return r.dir.ListRecipients(ctx)
	}
}

func (r *Resolver) resolveRadius(ctx context.Context, center models.Coordinates, radiusKm float64) ([]models.Recipient, error) {
	var (
		candidates []models.Recipient
		err        error
	)
	if box, ok := boundingBox(center, radiusKm); ok {
		candidates, err = r.dir.ListRecipientsInBox(ctx, box)
	} else {
		candidates, err = r.dir.ListRecipients(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading candidates: %w", err)
	}

	matched := make([]models.Recipient, 0, len(candidates))
	for _, rc := range candidates {
		p, ok := rc.Coordinates()
		if !ok {
			continue
		}
		if Within(center, p, radiusKm) {
			matched = append(matched, rc)
		}
	}
	return matched, nil
}

func (r *Resolver) resolveLocation(ctx context.Context, locationID string) ([]models.Recipient, error) {
	loc, err := r.dir.GetLocation(ctx, locationID)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocation, locationID)
	}

	ids, err := r.dir.Descendants(ctx, locationID)
	if err != nil {
		return nil, err
	}
	return r.dir.ListRecipientsInLocations(ctx, ids)
}

// Covers reports whether t includes recipient rc. It is the reverse of
// Resolve, used to list the alerts that apply to one recipient.
func (r *Resolver) Covers(ctx context.Context, t models.Targeting, rc *models.Recipient) (bool, error) {
	switch {
	case t.HasPoint() && t.HasLocation():
		return false, ErrMixedTargeting
	case t.HasPoint():
		if t.CenterLat == nil || t.CenterLng == nil || t.RadiusKm == nil {
			return false, nil
		}
		p, ok := rc.Coordinates()
		if !ok {
			return false, nil
		}
		return Within(t.Center(), p, *t.RadiusKm), nil
	case t.HasLocation():
		if rc.LocationID == "" {
			return false, nil
		}
		ancestors, err := r.dir.Ancestors(ctx, rc.LocationID)
		if err != nil {
			return false, err
		}
		for _, id := range ancestors {
			if id == t.LocationID {
				return true, nil
			}
		}
		return false, nil
	default:
		return true, nil
	}
}
