package memory

import (
	"context"
	"sync"

	"babaphone/internal/core/domain"
	"babaphone/internal/core/ports"
)

type MemoryPairingRepository struct {
	pairings map[string]*domain.Pairing
	mu       sync.RWMutex
}

func NewMemoryPairingRepository() ports.PairingRepository {
	return &MemoryPairingRepository{
		pairings: make(map[string]*domain.Pairing),
	}
}

func (r *MemoryPairingRepository) Create(ctx context.Context, pairing *domain.Pairing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// a device belongs to at most one pairing; a new connect replaces it
	for id, p := range r.pairings {
		if p.Involves(pairing.ParentID) || p.Involves(pairing.ChildID) {
			delete(r.pairings, id)
		}
	}
	stored := *pairing
	r.pairings[pairing.ID] = &stored
	return nil
}

func (r *MemoryPairingRepository) FindByDevice(ctx context.Context, id domain.DeviceID) (*domain.Pairing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.pairings {
		if p.Involves(id) {
			out := *p
			return &out, nil
		}
	}
	return nil, domain.ErrPairingNotFound
}

func (r *MemoryPairingRepository) RemoveByDevice(ctx context.Context, id domain.DeviceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for pid, p := range r.pairings {
		if p.Involves(id) {
			delete(r.pairings, pid)
			return nil
		}
	}
	return domain.ErrPairingNotFound
}
