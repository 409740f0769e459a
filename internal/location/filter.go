// Package location turns raw positioning readings into accepted DeviceLocation values.
package location

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/models"
)

// DefaultThreshold is the accuracy radius, in meters, above which a fix is discarded.
const DefaultThreshold = 30.0

type Reason string

const (
	ReasonNone        Reason = ""
	ReasonMalformed   Reason = "malformed"
	ReasonPrecision   Reason = "precision"
	ReasonOutOfRegion Reason = "out_of_region"
)

// Fix is a raw reading from the positioning source.
type Fix struct {
	Lat       float64
	Lng       float64
	Accuracy  float64
	Timestamp time.Time
	Speed     *float64
	Battery   *int
	Network   *models.NetworkStatus
}

type Result struct {
	Location *models.DeviceLocation
	Reason   Reason
	// Geoblocked marks an accepted fix that lies outside the configured region.
	Geoblocked bool
}

func (r Result) Accepted() bool {
	return r.Location != nil
}

// Bounds is a lat/lng rectangle. It does not wrap across the antimeridian.
type Bounds struct {
	MinLat, MinLng float64
	MaxLat, MaxLng float64
}

func (b Bounds) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

func (b Bounds) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.MinLat, b.MinLng, b.MaxLat, b.MaxLng)
}

// ParseBounds reads "minLat,minLng,maxLat,maxLng". An empty string means no region.
func ParseBounds(s string) (*Bounds, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bounds %q: want minLat,minLng,maxLat,maxLng", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bounds %q: %w", s, err)
		}
		v[i] = f
	}
	b := &Bounds{MinLat: v[0], MinLng: v[1], MaxLat: v[2], MaxLng: v[3]}
	if b.MinLat > b.MaxLat || b.MinLng > b.MaxLng {
		return nil, fmt.Errorf("bounds %q: min exceeds max", s)
	}
	if !validCoords(b.MinLat, b.MinLng) || !validCoords(b.MaxLat, b.MaxLng) {
		return nil, fmt.Errorf("bounds %q: coordinates out of range", s)
	}
	return b, nil
}

// Filter checks malformed values, then precision against threshold, then region.
// A fix outside bounds is still accepted and flagged Geoblocked.
func Filter(fix Fix, threshold float64, bounds *Bounds) Result {
	if malformed(fix) {
		return Result{Reason: ReasonMalformed}
	}
	if fix.Accuracy > threshold {
		return Result{Reason: ReasonPrecision}
	}

	loc := &models.DeviceLocation{
		Lat:       fix.Lat,
		Lng:       fix.Lng,
		Accuracy:  fix.Accuracy,
		Timestamp: fix.Timestamp,
	}
	if fix.Speed != nil {
		v := *fix.Speed
		loc.Speed = &v
	}
	if fix.Battery != nil {
		v := *fix.Battery
		loc.Battery = &v
	}
	if fix.Network != nil {
		v := *fix.Network
		loc.Network = &v
	}

	if bounds != nil && !bounds.Contains(fix.Lat, fix.Lng) {
		return Result{Location: loc, Reason: ReasonOutOfRegion, Geoblocked: true}
	}
	return Result{Location: loc}
}

func malformed(f Fix) bool {
	if bad(f.Lat) || bad(f.Lng) || bad(f.Accuracy) {
		return true
	}
	if !validCoords(f.Lat, f.Lng) || f.Accuracy < 0 || f.Timestamp.IsZero() {
		return true
	}
	if f.Speed != nil && (bad(*f.Speed) || *f.Speed < 0) {
		return true
	}
	if f.Battery != nil && (*f.Battery < 0 || *f.Battery > 100) {
		return true
	}
	if f.Network != nil && !f.Network.Valid() {
		return true
	}
	return false
}

func bad(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

func validCoords(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
