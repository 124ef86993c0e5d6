// Package matching ranks dealers against a requirement and decides which
// pending pickups a partner can see. Everything here is pure and read-only.
package matching

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// EarthRadiusKm is the sphere radius used for great-circle distance.
	EarthRadiusKm = 6371.0

	// BaseRadiusKm is the visibility radius of a brand new request.
	BaseRadiusKm = 5.0
	// RadiusGrowthKmPerMinute widens the radius as a request waits.
	RadiusGrowthKmPerMinute = 0.5
	// MaxRadiusKm caps the visibility radius.
	MaxRadiusKm = 50.0

	// UnknownAgeMinutes is assumed when a request has no usable timestamp.
	UnknownAgeMinutes = 60.0
)

// GeoPoint is a WGS84 position in degrees.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Point builds a GeoPoint from optional coordinates. Both must be set.
func Point(lat, lon *float64) *GeoPoint {
	if lat == nil || lon == nil {
		return nil
	}
	return &GeoPoint{Latitude: *lat, Longitude: *lon}
}

// HaversineKm returns the great-circle distance between a and b.
func HaversineKm(a, b GeoPoint) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// AllowedRadiusKm is min(50, 5 + age*0.5) for an age in minutes.
func AllowedRadiusKm(ageMinutes float64) float64 {
	return math.Min(MaxRadiusKm, BaseRadiusKm+ageMinutes*RadiusGrowthKmPerMinute)
}

// RequestSite is what visibility needs to know about a pickup request.
// A zero CreatedAt means the timestamp was missing or unreadable.
type RequestSite struct {
	Location  *GeoPoint
	CreatedAt time.Time
}

// AgeMinutes returns how long the request has waited at now.
func (s RequestSite) AgeMinutes(now time.Time) float64 {
	if s.CreatedAt.IsZero() {
		return UnknownAgeMinutes
	}
	return now.Sub(s.CreatedAt).Minutes()
}

// Visible reports whether partner can see the request at now. Missing
// coordinates on either side never hide a request.
func Visible(partner *GeoPoint, site RequestSite, now time.Time) bool {
	if partner == nil || site.Location == nil {
		return true
	}
	return HaversineKm(*partner, *site.Location) <= AllowedRadiusKm(site.AgeMinutes(now))
}

// FilterVisible keeps the items whose site is visible to partner, in order.
func FilterVisible[T any](items []T, partner *GeoPoint, now time.Time, site func(T) RequestSite) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if Visible(partner, site(item), now) {
			out = append(out, item)
		}
	}
	return out
}

// Candidate is one dealer's stock of the requested material.
type Candidate struct {
	DealerID    string
	DealerName  string
	Location    *string
	AvailableKg float64
}

// Match is a ranked candidate. Score is the share of the remaining demand
// the dealer can cover, as a percentage capped at 100.
type Match struct {
	DealerID    string  `json:"dealer_id"`
	DealerName  string  `json:"dealer_name"`
	Location    *string `json:"location,omitempty"`
	AvailableKg float64 `json:"available_kg"`
	Score       float64 `json:"match_score"`
}

var hundred = decimal.NewFromInt(100)

// Score is min(available/remaining, 1)*100 rounded to one decimal.
func Score(availableKg, remainingKg float64) float64 {
	if remainingKg <= 0 {
		return 0
	}
	ratio := decimal.NewFromFloat(availableKg).Div(decimal.NewFromFloat(remainingKg))
	if ratio.GreaterThan(decimal.NewFromInt(1)) {
		ratio = decimal.NewFromInt(1)
	}
	score, _ := ratio.Mul(hundred).Round(1).Float64()
	return score
}

// RankDealers scores candidates with stock and sorts them best first. Ties
// keep their input order. Nothing matches once the requirement is filled.
func RankDealers(candidates []Candidate, remainingKg float64) []Match {
	if remainingKg <= 0 {
		return []Match{}
	}
	out := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if c.AvailableKg <= 0 {
			continue
		}
		out = append(out, Match{
			DealerID:    c.DealerID,
			DealerName:  c.DealerName,
			Location:    c.Location,
			AvailableKg: c.AvailableKg,
			Score:       Score(c.AvailableKg, remainingKg),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
