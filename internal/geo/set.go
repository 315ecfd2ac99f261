package geo

import (
	"context"
	"log/slog"
	"strings"

	"fleetwatch/tracking-server/internal/model"
)

// EtollPrefix selects the geofences that participate in toll enrollment.
const EtollPrefix = "_etoll"

// PolygonSet is an immutable collection of toll-zone polygons. It is
// built once at startup; runtime geofence changes require a restart.
type PolygonSet struct {
	polygons []Polygon
}

// NewPolygonSet builds a set from pre-parsed polygons. Used by tests and
// by the loader below.
func NewPolygonSet(polygons []Polygon) *PolygonSet {
	return &PolygonSet{polygons: polygons}
}

// GeofenceLister is the slice of the store the loader needs.
type GeofenceLister interface {
	Geofences(ctx context.Context) ([]model.Geofence, error)
}

// LoadEtollPolygons reads every geofence whose name starts with the
// etoll prefix. A polygon that fails to parse is logged and skipped so a
// single bad fence cannot keep the server from starting.
func LoadEtollPolygons(ctx context.Context, lister GeofenceLister, logger *slog.Logger) (*PolygonSet, error) {
	fences, err := lister.Geofences(ctx)
	if err != nil {
		return nil, err
	}

	var polygons []Polygon
	for _, fence := range fences {
		if !strings.HasPrefix(fence.Name, EtollPrefix) {
			continue
		}
		polygon, err := ParsePolygon(fence.Area)
		if err != nil {
			logger.Warn("skipping unparsable geofence", "name", fence.Name, "error", err)
			continue
		}
		polygons = append(polygons, polygon)
	}

	logger.Info("toll geofences loaded", "count", len(polygons))
	return NewPolygonSet(polygons), nil
}

// Contains reports whether the point lies inside any polygon of the set.
func (s *PolygonSet) Contains(lat, lon float64) bool {
	if s == nil {
		return false
	}
	for _, polygon := range s.polygons {
		if polygon.Contains(lat, lon) {
			return true
		}
	}
	return false
}

// Size returns the number of loaded polygons.
func (s *PolygonSet) Size() int {
	if s == nil {
		return 0
	}
	return len(s.polygons)
}
