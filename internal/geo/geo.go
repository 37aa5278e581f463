// Package geo parses published GeoJSON geographies into an in-memory index
// and answers point-in-polygon queries for the compliance engine.
package geo

import (
	"encoding/json"
	"fmt"

	"curbsight/internal/types"
)

// ring is a closed loop of [lng, lat] positions, GeoJSON coordinate order.
type ring [][2]float64

// polygon is an outer ring plus zero or more holes.
type polygon []ring

// Shape is a parsed Polygon or MultiPolygon geometry.
type Shape struct {
	polygons []polygon
}

// geoJSON is the subset of the GeoJSON object model the index accepts.
// Geography payloads may be a bare geometry, a Feature, or a
// FeatureCollection.
type geoJSON struct {
	Type        string            `json:"type"`
	Coordinates json.RawMessage   `json:"coordinates"`
	Geometry    *geoJSON          `json:"geometry"`
	Features    []json.RawMessage `json:"features"`
}

// ParseGeometry parses a GeoJSON document into a Shape. Feature and
// FeatureCollection wrappers are unwrapped; anything other than Polygon or
// MultiPolygon geometry is rejected.
func ParseGeometry(raw json.RawMessage) (*Shape, error) {
	var doc geoJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidGeometry,
			"geography is not valid GeoJSON", err)
	}
	shape := &Shape{}
	if err := shape.add(&doc); err != nil {
		return nil, err
	}
	if len(shape.polygons) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidGeometry,
			"geography contains no polygons", nil)
	}
	return shape, nil
}

func (s *Shape) add(doc *geoJSON) error {
	switch doc.Type {
	case "Polygon":
		var poly polygon
		if err := json.Unmarshal(doc.Coordinates, &poly); err != nil {
			return types.NewAppError(types.ErrCodeValidationInvalidGeometry,
				"malformed polygon coordinates", err)
		}
		s.polygons = append(s.polygons, poly)
	case "MultiPolygon":
		var polys []polygon
		if err := json.Unmarshal(doc.Coordinates, &polys); err != nil {
			return types.NewAppError(types.ErrCodeValidationInvalidGeometry,
				"malformed multipolygon coordinates", err)
		}
		s.polygons = append(s.polygons, polys...)
	case "Feature":
		if doc.Geometry == nil {
			return types.NewAppError(types.ErrCodeValidationInvalidGeometry,
				"feature has no geometry", nil)
		}
		return s.add(doc.Geometry)
	case "FeatureCollection":
		for _, f := range doc.Features {
			var feature geoJSON
			if err := json.Unmarshal(f, &feature); err != nil {
				return types.NewAppError(types.ErrCodeValidationInvalidGeometry,
					"malformed feature", err)
			}
			if err := s.add(&feature); err != nil {
				return err
			}
		}
	default:
		return types.NewAppError(types.ErrCodeValidationInvalidGeometry,
			fmt.Sprintf("unsupported geometry type %q", doc.Type), nil)
	}
	return nil
}

// Contains reports whether the point lies inside the shape: inside any
// polygon's outer ring and outside that polygon's holes.
func (s *Shape) Contains(lat, lng float64) bool {
	for _, poly := range s.polygons {
		if len(poly) == 0 {
			continue
		}
		if !pointInRing(lat, lng, poly[0]) {
			continue
		}
		inHole := false
		for _, hole := range poly[1:] {
			if pointInRing(lat, lng, hole) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// pointInRing is the even-odd ray casting test. A horizontal ray is cast
// east from the point; an odd crossing count means inside. Points exactly on
// an edge may land on either side, which is acceptable at geofence scale.
func pointInRing(lat, lng float64, r ring) bool {
	inside := false
	n := len(r)
	if n < 3 {
		return false
	}
	j := n - 1
	for i := 0; i < n; i++ {
		// GeoJSON positions are [lng, lat].
		xi, yi := r[i][0], r[i][1]
		xj, yj := r[j][0], r[j][1]
		if (yi > lat) != (yj > lat) &&
			lng < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}
