// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/residency-engine/generic"
	"github.com/warp/residency-engine/residency"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	legs map[residency.SubjectID]map[residency.LegID]residency.Leg
}

// Compile-time check
var _ residency.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		legs: make(map[residency.SubjectID]map[residency.LegID]residency.Leg),
	}
}

// SaveLeg inserts or replaces a leg.
func (m *Memory) SaveLeg(_ context.Context, leg residency.Leg) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.legs[leg.Subject]
	if !ok {
		byID = make(map[residency.LegID]residency.Leg)
		m.legs[leg.Subject] = byID
	}
	byID[leg.ID] = leg
	return nil
}

// Legs returns a copy of the subject's legs, ordered by departure.
func (m *Memory) Legs(_ context.Context, subject residency.SubjectID) ([]residency.Leg, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]residency.Leg, 0, len(m.legs[subject]))
	for _, leg := range m.legs[subject] {
		out = append(out, leg)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Departure.Time.Equal(out[j].Departure.Time) {
			return out[i].Departure.Time.Before(out[j].Departure.Time)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) DeleteLeg(_ context.Context, subject residency.SubjectID, id residency.LegID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.legs[subject]
	if !ok {
		return generic.ErrLegNotFound
	}
	if _, ok := byID[id]; !ok {
		return generic.ErrLegNotFound
	}
	delete(byID, id)
	if len(byID) == 0 {
		delete(m.legs, subject)
	}
	return nil
}

func (m *Memory) Subjects(_ context.Context) ([]residency.SubjectID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]residency.SubjectID, 0, len(m.legs))
	for s := range m.legs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legs = make(map[residency.SubjectID]map[residency.LegID]residency.Leg)
	return nil
}
