package geo

import (
	"context"
	"sync"

	"swiftride/internal/types"
)

// MemoryIndex is a naive in-process index used when Redis is not configured
// and in tests. Linear scan plus insertion sort; fine for small fleets.
type MemoryIndex struct {
	mu        sync.RWMutex
	positions map[types.ID]types.Point
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{positions: make(map[types.ID]types.Point)}
}

func (m *MemoryIndex) Upsert(_ context.Context, driverID types.ID, pos types.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[driverID] = pos
	return nil
}

func (m *MemoryIndex) Remove(_ context.Context, driverID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, driverID)
	return nil
}

func (m *MemoryIndex) Nearby(_ context.Context, center types.Point, radiusMeters float64, limit int) ([]Candidate, error) {
	m.mu.RLock()
	out := make([]Candidate, 0, len(m.positions))
	for id, pos := range m.positions {
		d := center.DistanceMeters(pos)
		if d > radiusMeters {
			continue
		}
		out = append(out, Candidate{DriverID: id, Position: pos, DistanceMeters: d})
	}
	m.mu.RUnlock()

	sortByDistance(out, func(c Candidate) float64 { return c.DistanceMeters })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function.
func sortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
