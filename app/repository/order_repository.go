package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/GearMarket/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// orderRepository implements the OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}
	return translateError(r.db.WithContext(ctx).Create(order).Error)
}

func (r *orderRepository) GetByReference(ctx context.Context, reference string) (*models.Order, error) {
	return r.first(r.db.WithContext(ctx), "reference = ?", reference)
}

func (r *orderRepository) GetByPaymentRef(ctx context.Context, paymentRef string) (*models.Order, error) {
	return r.first(r.db.WithContext(ctx), "payment_ref = ?", paymentRef)
}

func (r *orderRepository) GetByPaymentRefForUpdate(ctx context.Context, paymentRef string) (*models.Order, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "payment_ref = ?", paymentRef)
}

func (r *orderRepository) first(q *gorm.DB, cond string, arg interface{}) (*models.Order, error) {
	var order models.Order
	if err := q.Where(cond, arg).First(&order).Error; err != nil {
		return nil, translateError(err)
	}
	return &order, nil
}

func (r *orderRepository) UpdateState(ctx context.Context, order *models.Order) error {
	return translateError(r.db.WithContext(ctx).
		Model(order).
		Select("status", "requires_manual_review", "review_reason", "paid_at", "closed_at", "updated_at").
		Updates(order).Error)
}

func (r *orderRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.OrderStatusPending, createdBefore).
		Order("COALESCE(reconciled_at, created_at) ASC, id ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, translateError(err)
}

func (r *orderRepository) MarkReconciled(ctx context.Context, orderID uint, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		UpdateColumn("reconciled_at", at)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orderRepository) ListByListing(ctx context.Context, listingID uint) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).Where("listing_id = ?", listingID).Order("id ASC").Find(&orders).Error
	return orders, translateError(err)
}
