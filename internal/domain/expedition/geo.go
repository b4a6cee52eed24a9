package expedition

import (
	"math"
	"sort"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// DefaultRadiusKm is the proximity radius used when none is given.
const DefaultRadiusKm = 10.0

// Distance returns the great-circle distance in kilometers between two points
// using the haversine formula.
func Distance(from, to Coordinates) float64 {
	dLat := toRad(to.Lat - from.Lat)
	dLng := toRad(to.Lng - from.Lng)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(from.Lat))*math.Cos(toRad(to.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

func toRad(degrees float64) float64 {
	return degrees * (math.Pi / 180)
}

// WithDistance pairs an expedition with its distance from a query origin.
type WithDistance struct {
	Expedition *Expedition `json:"expedition"`
	DistanceKm float64     `json:"distanceKm"`
}

// FilterNearby keeps the expeditions within radiusKm of origin, sorted by
// ascending distance (ties keep input order) and truncated to limit when
// limit > 0. A negative radius means none was given and falls back to
// DefaultRadiusKm; zero keeps only expeditions at origin itself.
func FilterNearby(origin Coordinates, candidates []*Expedition, radiusKm float64, limit int) []WithDistance {
	if radiusKm < 0 {
		radiusKm = DefaultRadiusKm
	}

	out := make([]WithDistance, 0, len(candidates))
	for _, e := range candidates {
		if e == nil {
			continue
		}
		d := Distance(origin, e.Location.Coordinates)
		if d <= radiusKm {
			out = append(out, WithDistance{Expedition: e, DistanceKm: d})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistanceKm < out[j].DistanceKm
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
