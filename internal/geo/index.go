package geo

import (
	"sync"

	"curbsight/internal/types"
)

// Index is a concurrency-safe registry of parsed geographies keyed by id.
// It satisfies the engine's GeographyResolver. Geographies are immutable
// once published, so the index only ever grows or is rebuilt wholesale.
type Index struct {
	mu     sync.RWMutex
	shapes map[string]*Shape
}

// NewIndex builds an index from published geographies. Geographies with
// unparseable geometry are rejected, never silently skipped.
func NewIndex(geographies []*types.Geography) (*Index, error) {
	idx := &Index{shapes: make(map[string]*Shape, len(geographies))}
	for _, g := range geographies {
		if err := idx.Add(g); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Add parses and registers one geography.
func (idx *Index) Add(g *types.Geography) error {
	shape, err := ParseGeometry(g.Geometry)
	if err != nil {
		if appErr, ok := err.(*types.AppError); ok {
			return appErr.WithDetails(map[string]any{"geography_id": g.GeographyID})
		}
		return err
	}
	idx.mu.Lock()
	idx.shapes[g.GeographyID] = shape
	idx.mu.Unlock()
	return nil
}

// HasGeography reports whether the id resolves to a parsed shape.
func (idx *Index) HasGeography(geographyID string) bool {
	idx.mu.RLock()
	_, ok := idx.shapes[geographyID]
	idx.mu.RUnlock()
	return ok
}

// PointInGeography reports whether the point lies inside the named
// geography. Unknown ids return false.
func (idx *Index) PointInGeography(geographyID string, lat, lng float64) bool {
	idx.mu.RLock()
	shape, ok := idx.shapes[geographyID]
	idx.mu.RUnlock()
	if !ok {
		return false
	}
	return shape.Contains(lat, lng)
}

// Len returns the number of indexed geographies.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.shapes)
}
