package services

import (
	"context"
	"sync"

	"walletguard-lab/internal/domain/models"
)

// MemorySnapshotStore keeps snapshots in process memory
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]models.EmergencySnapshot
}

// NewMemorySnapshotStore creates an empty in-memory store
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string]models.EmergencySnapshot)}
}

// SaveSnapshot stores a deep copy of snap
func (s *MemorySnapshotStore) SaveSnapshot(_ context.Context, snap *models.EmergencySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.SessionID] = cloneSnapshot(*snap)
	return nil
}

// LoadSnapshot returns a copy of the stored snapshot, or nil
func (s *MemorySnapshotStore) LoadSnapshot(_ context.Context, sessionID string) (*models.EmergencySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snaps[sessionID]
	if !ok {
		return nil, nil
	}
	c := cloneSnapshot(snap)
	return &c, nil
}

func cloneSnapshot(snap models.EmergencySnapshot) models.EmergencySnapshot {
	c := snap
	c.Events = make([]models.EmergencyEvent, len(snap.Events))
	for i, e := range snap.Events {
		c.Events[i] = e.Clone()
	}
	c.Rules = append([]models.EmergencyRule(nil), snap.Rules...)
	return c
}
