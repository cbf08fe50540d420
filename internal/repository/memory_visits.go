package repository

import (
	"context"
	"sync"

	"dental-bot/internal/models"
)

// MemoryVisitsRepository keeps visits in process memory (STORE_DRIVER=memory and tests).
type MemoryVisitsRepository struct {
	mu     sync.RWMutex
	nextID int64
	visits []models.PatientVisit
}

func NewMemoryVisitsRepository() *MemoryVisitsRepository {
	return &MemoryVisitsRepository{nextID: 1}
}

func (r *MemoryVisitsRepository) Append(ctx context.Context, f models.VisitFields) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.visits = append(r.visits, f.WithID(id))
	return id, nil
}

func (r *MemoryVisitsRepository) ListAll(ctx context.Context) ([]models.PatientVisit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.PatientVisit, len(r.visits))
	copy(out, r.visits)
	return out, nil
}
