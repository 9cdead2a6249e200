package api

import (
	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   *Geometry      `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// toGeoJSON renders alert coverage. Point-targeted alerts get their center as
// geometry; administrative and untargeted alerts have a null geometry.
func toGeoJSON(alerts []models.Alert) FeatureCollection {
	features := make([]Feature, 0, len(alerts))

	for _, a := range alerts {
		var geom *Geometry
		if a.Targeting.HasPoint() {
			center := a.Targeting.Center()
			geom = &Geometry{
				Type:        "Point",
				Coordinates: []float64{center.Longitude, center.Latitude},
			}
		}

		props := map[string]any{
			"id":                a.ID,
			"title":             a.Title,
			"message":           a.Message,
			"severity":          a.Severity,
			"priority_score":    a.PriorityScore,
			"status":            a.Status,
			"coverage_area_km2": a.Targeting.CoverageAreaKm2(),
			"issued_at":         a.IssuedAt,
			"expires_at":        a.ExpiresAt,
		}
		if a.Targeting.RadiusKm != nil {
			props["radius_km"] = *a.Targeting.RadiusKm
		}
		if a.Targeting.HasLocation() {
			props["location_id"] = a.Targeting.LocationID
		}

		features = append(features, Feature{
			Type:       "Feature",
			Geometry:   geom,
			Properties: props,
		})
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
