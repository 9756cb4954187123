package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/procward/internal/domain"
	"github.com/jkaninda/procward/internal/storage"
)

// SessionRepository implements session archive persistence with GORM.
// The SQLite backend reuses it unchanged.
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a SessionRepository.
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Save upserts a session record by ID.
func (r *SessionRepository) Save(ctx context.Context, rec *domain.SessionRecord) error {
	if rec.ID == uuid.Nil {
		return fmt.Errorf("saving session: missing id")
	}
	model := toSessionModel(rec)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"command", "pid", "process_name", "priority", "affinity",
				"network_blocked", "log_path", "report_path", "state",
				"ended_at", "updated_at",
			}),
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("saving session %s: %w", rec.ID, err)
	}
	return nil
}

// Get retrieves a session record by ID.
func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.SessionRecord, error) {
	var model SessionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return toSessionDomain(&model), nil
}

// List returns up to limit sessions, newest first. limit <= 0 means 50.
func (r *SessionRepository) List(ctx context.Context, limit int) ([]domain.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []SessionModel
	if err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	out := make([]domain.SessionRecord, len(models))
	for i := range models {
		out[i] = *toSessionDomain(&models[i])
	}
	return out, nil
}

// DeleteBefore removes sessions started before t.
func (r *SessionRepository) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("started_at < ?", t).
		Delete(&SessionModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("pruning sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

var _ storage.SessionStore = (*SessionRepository)(nil)
