package models

// DisasterType is an entry of the read-only disaster-type catalog.
type DisasterType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Location is a node of the administrative hierarchy (country, province,
// district, sector ...). ParentID is empty for roots.
type Location struct {
	ID        string   `json:"id"`
	ParentID  string   `json:"parent_id,omitempty"`
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

func (l *Location) Coordinates() (Coordinates, bool) {
	if l.Latitude == nil || l.Longitude == nil {
		return Coordinates{}, false
	}
	return Coordinates{Latitude: *l.Latitude, Longitude: *l.Longitude}, true
}
