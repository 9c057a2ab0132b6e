package service

import (
	"math"
	"sort"

	"github.com/tdn1104/swapmeet/internal/core/domain"
)

const earthRadiusMeters = 6371000.0

// Distance returns the great-circle distance between two points in meters.
func Distance(a, b domain.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// FindCandidates returns the available listings within radiusMeters of
// origin, nearest first, ties broken by earlier creation time. Pure
// function of its inputs: no mutation, no I/O.
func FindCandidates(origin domain.Coordinate, radiusMeters float64, listings []domain.Listing) []domain.Listing {
	type scored struct {
		listing  domain.Listing
		distance float64
	}

	matched := make([]scored, 0, len(listings))
	for _, l := range listings {
		if l.Status != domain.ListingAvailable {
			continue
		}
		d := Distance(origin, l.Coord)
		if d > radiusMeters {
			continue
		}
		matched = append(matched, scored{listing: l, distance: d})
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].distance != matched[j].distance {
			return matched[i].distance < matched[j].distance
		}
		return matched[i].listing.CreatedAt.Before(matched[j].listing.CreatedAt)
	})

	out := make([]domain.Listing, len(matched))
	for i, m := range matched {
		out[i] = m.listing
	}
	return out
}
