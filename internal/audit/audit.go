// Package audit records administrative and remote-control actions. Entries are append-only.
package audit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/models"
	"github.com/google/uuid"
)

// Repository persists audit logs. List returns newest first.
type Repository interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)
}

// Entry is what callers describe; the Logger stamps id and time.
type Entry struct {
	ActorID    string
	ActorEmail string
	Action     models.AuditAction
	TargetID   string
	Details    string
	Severity   models.Severity
}

type Logger struct {
	repo Repository
	now  func() time.Time
}

func NewLogger(repo Repository) *Logger {
	return &Logger{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Log writes one entry and returns the stored record. Failures are logged and returned;
// callers decide whether they matter, nothing is rolled back.
func (l *Logger) Log(ctx context.Context, e Entry) (*models.AuditLog, error) {
	if e.Severity == "" {
		e.Severity = models.SeverityLow
	}
	rec := &models.AuditLog{
		ID:         uuid.New().String(),
		Timestamp:  l.now(),
		ActorID:    e.ActorID,
		ActorEmail: e.ActorEmail,
		Action:     e.Action,
		TargetID:   e.TargetID,
		Details:    e.Details,
		Severity:   e.Severity,
	}
	if err := l.repo.Create(ctx, rec); err != nil {
		log.Printf("audit: failed to log %s on %s: %v", e.Action, e.TargetID, err)
		return nil, fmt.Errorf("audit %s: %w", e.Action, err)
	}
	return rec, nil
}

// List pages through the trail, newest first.
func (l *Logger) List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return l.repo.List(ctx, limit, offset)
}
