package posestore

import (
	"maps"
	"sync"
)

// Level is the persistence hand-off owned by the hosting level record.
//
// The tolerance map is the durable source of truth for tolerance. The pose
// blob carries a denormalized copy that other readers may still consume, so
// both are written on every change.
type Level interface {
	PutPose(poseID string, blob []byte) error
	DeletePose(poseID string) error
	SetTolerance(poseID string, pct float64) error
	DeleteTolerance(poseID string) error
}

// MemoryLevel is an in-process Level. Safe for concurrent use.
type MemoryLevel struct {
	mu         sync.RWMutex
	blobs      map[string][]byte
	tolerances map[string]float64
}

// NewMemoryLevel returns an empty MemoryLevel.
func NewMemoryLevel() *MemoryLevel {
	return &MemoryLevel{
		blobs:      make(map[string][]byte),
		tolerances: make(map[string]float64),
	}
}

func (m *MemoryLevel) PutPose(poseID string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[poseID] = append([]byte(nil), blob...)
	return nil
}

func (m *MemoryLevel) DeletePose(poseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, poseID)
	return nil
}

func (m *MemoryLevel) SetTolerance(poseID string, pct float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tolerances[poseID] = pct
	return nil
}

func (m *MemoryLevel) DeleteTolerance(poseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tolerances, poseID)
	return nil
}

// Tolerances returns a copy of the tolerance map.
func (m *MemoryLevel) Tolerances() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.tolerances)
}

// Blobs returns a copy of the stored pose blobs.
func (m *MemoryLevel) Blobs() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(m.blobs))
	for id, b := range m.blobs {
		out[id] = append([]byte(nil), b...)
	}
	return out
}
