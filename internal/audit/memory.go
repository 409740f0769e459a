package audit

import (
	"context"
	"sync"

	"github.com/AnshRaj112/safemobile-backend/internal/models"
)

// MemoryRepository keeps entries in process (development/testing use).
type MemoryRepository struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(_ context.Context, e *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
	return nil
}

func (r *MemoryRepository) List(_ context.Context, limit, offset int) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.AuditLog, 0, limit)
	for i := len(r.entries) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		e := r.entries[i]
		out = append(out, &e)
	}
	return out, nil
}

// Entries returns a copy oldest-first (for tests/inspection).
func (r *MemoryRepository) Entries() []models.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuditLog, len(r.entries))
	copy(out, r.entries)
	return out
}
