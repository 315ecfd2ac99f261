package geo

import (
	"fmt"
	"strconv"
	"strings"
)

// Polygon is a closed ring of WGS-84 vertices treated as planar.
type Polygon struct {
	lat []float64
	lon []float64
}

// ParsePolygon decodes the stored area format
// "POLYGON ((lat lon, lat lon, ...))" into a Polygon.
func ParsePolygon(area string) (Polygon, error) {
	body := strings.TrimSpace(area)
	upper := strings.ToUpper(body)
	if !strings.HasPrefix(upper, "POLYGON") {
		return Polygon{}, fmt.Errorf("not a polygon: %q", area)
	}

	body = strings.TrimSpace(body[len("POLYGON"):])
	body = strings.TrimPrefix(body, "(")
	body = strings.TrimSuffix(body, ")")
	body = strings.TrimSpace(body)
	body = strings.TrimPrefix(body, "(")
	body = strings.TrimSuffix(body, ")")

	pairs := strings.Split(body, ",")
	if len(pairs) < 3 {
		return Polygon{}, fmt.Errorf("polygon needs at least 3 vertices, got %d", len(pairs))
	}

	p := Polygon{
		lat: make([]float64, 0, len(pairs)),
		lon: make([]float64, 0, len(pairs)),
	}
	for _, pair := range pairs {
		fields := strings.Fields(strings.TrimSpace(pair))
		if len(fields) != 2 {
			return Polygon{}, fmt.Errorf("invalid vertex %q", pair)
		}
		lat, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return Polygon{}, fmt.Errorf("invalid latitude %q: %w", fields[0], err)
		}
		lon, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return Polygon{}, fmt.Errorf("invalid longitude %q: %w", fields[1], err)
		}
		p.lat = append(p.lat, lat)
		p.lon = append(p.lon, lon)
	}

	return p, nil
}

// Contains runs a ray-casting point-in-polygon test. Behavior for points
// exactly on an edge is unspecified.
func (p Polygon) Contains(lat, lon float64) bool {
	inside := false
	n := len(p.lat)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		if (p.lon[i] > lon) != (p.lon[j] > lon) &&
			lat < (p.lat[j]-p.lat[i])*(lon-p.lon[i])/(p.lon[j]-p.lon[i])+p.lat[i] {
			inside = !inside
		}
	}
	return inside
}
