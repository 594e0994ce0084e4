package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/drfirst/go-rxhl7/internal/domain/pharmacy"
	"github.com/drfirst/go-rxhl7/internal/hl7/er7"
)

// Patients is an in-memory patient directory
type Patients struct {
	mu     sync.RWMutex
	ids    map[uuid.UUID]struct{}
	byMRN  map[er7.SiteMRN]uuid.UUID
	byRAMQ map[string]uuid.UUID
}

// NewPatients creates an empty directory
func NewPatients() *Patients {
	return &Patients{
		ids:    make(map[uuid.UUID]struct{}),
		byMRN:  make(map[er7.SiteMRN]uuid.UUID),
		byRAMQ: make(map[string]uuid.UUID),
	}
}

// Add registers a patient under a health insurance number and site MRNs.
// It returns the patient id.
func (p *Patients) Add(ramq string, mrns ...er7.SiteMRN) uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := uuid.New()
	p.ids[id] = struct{}{}
	if ramq != "" {
		p.byRAMQ[ramq] = id
	}
	for _, m := range mrns {
		p.byMRN[m] = id
	}
	return id
}

// ResolvePatient matches the PID against site MRNs first, then RAMQ
func (p *Patients) ResolvePatient(ctx context.Context, pid *er7.PID) (uuid.UUID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range pid.MRNSites {
		if id, ok := p.byMRN[m]; ok {
			return id, nil
		}
	}
	if pid.RAMQ != "" {
		if id, ok := p.byRAMQ[pid.RAMQ]; ok {
			return id, nil
		}
	}
	return uuid.Nil, fmt.Errorf("patient %s %s: %w", pid.FirstName, pid.LastName, pharmacy.ErrNotFound)
}

func (p *Patients) exists(id uuid.UUID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.ids[id]
	return ok
}
