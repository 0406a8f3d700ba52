package repository

import (
	"context"

	"github.com/ManuelReschke/GearMarket/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// listingRepository implements the ListingRepository interface
type listingRepository struct {
	db *gorm.DB
}

// NewListingRepository creates a new listing repository instance
func NewListingRepository(db *gorm.DB) ListingRepository {
	return &listingRepository{db: db}
}

func (r *listingRepository) Create(ctx context.Context, listing *models.Listing) error {
	if listing.Availability == "" {
		listing.Availability = models.AvailabilityAvailable
	}
	if listing.Version == 0 {
		listing.Version = 1
	}
	return translateError(r.db.WithContext(ctx).Create(listing).Error)
}

func (r *listingRepository) GetByID(ctx context.Context, id uint) (*models.Listing, error) {
	var listing models.Listing
	if err := r.db.WithContext(ctx).First(&listing, id).Error; err != nil {
		return nil, translateError(err)
	}
	return &listing, nil
}

func (r *listingRepository) GetByIDForUpdate(ctx context.Context, id uint) (*models.Listing, error) {
	var listing models.Listing
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&listing, id).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &listing, nil
}

func (r *listingRepository) CompareAndSwap(ctx context.Context, listing *models.Listing, expectedVersion uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ? AND version = ?", listing.ID, expectedVersion).
		Updates(map[string]interface{}{
			"availability":      listing.Availability,
			"reserved_order_id": listing.ReservedOrderID,
			"version":           expectedVersion + 1,
		})
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	if res.RowsAffected != 1 {
		return false, nil
	}
	listing.Version = expectedVersion + 1
	return true, nil
}
