package targeting

import (
	"math"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

const earthRadiusKm = 6371.0

// kmPerDegree is the length of one degree of latitude on the haversine sphere.
const kmPerDegree = earthRadiusKm * math.Pi / 180

// HaversineKm returns the great-circle distance between a and b.
func HaversineKm(a, b models.Coordinates) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Within reports whether p lies inside the circle, boundary included.
func Within(center, p models.Coordinates, radiusKm float64) bool {
	if radiusKm == 0 {
		return center == p
	}
	return HaversineKm(center, p) <= radiusKm
}

// boundingBox returns a box enclosing the circle, padded slightly so the
// exact distance test decides boundary cases. ok is false when the box would
// cross a pole or the antimeridian.
func boundingBox(center models.Coordinates, radiusKm float64) (repository.BoundingBox, bool) {
	dLat := radiusKm/kmPerDegree + 1e-6
	// longitude span is widest at the box edge nearest a pole
	cosLat := math.Cos((math.Abs(center.Latitude) + dLat) * math.Pi / 180)
	if cosLat < 1e-6 {
		return repository.BoundingBox{}, false
	}
	dLng := radiusKm/(kmPerDegree*cosLat) + 1e-6

	box := repository.BoundingBox{
		MinLat: center.Latitude - dLat,
		MaxLat: center.Latitude + dLat,
		MinLng: center.Longitude - dLng,
		MaxLng: center.Longitude + dLng,
	}
	if box.MinLat < -90 || box.MaxLat > 90 || box.MinLng < -180 || box.MaxLng > 180 {
		return repository.BoundingBox{}, false
	}
	return box, true
}
