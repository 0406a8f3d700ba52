package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/GearMarket/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// eventRepository implements the EventRepository interface
type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new ledger repository instance
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Exists(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProcessedEvent{}).Where("event_id = ?", eventID).Count(&count).Error
	if err != nil {
		return false, translateError(err)
	}
	return count > 0, nil
}

func (r *eventRepository) Record(ctx context.Context, event *models.ProcessedEvent) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, translateError(tx.Error)
	}
	return tx.RowsAffected > 0, nil
}

func (r *eventRepository) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.ProcessedEvent, error) {
	var events []models.ProcessedEvent
	err := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, translateError(err)
}

func (r *eventRepository) DeleteByIDs(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.ProcessedEvent{})
	return res.RowsAffected, translateError(res.Error)
}
