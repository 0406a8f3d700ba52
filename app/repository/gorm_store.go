package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// gormStore implements Store on top of a gorm connection or transaction
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a Store backed by GORM. The connection should be
// opened with TranslateError enabled so unique violations map to ErrDuplicate.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Listings() ListingRepository {
	return &listingRepository{db: s.db}
}

func (s *gormStore) Orders() OrderRepository {
	return &orderRepository{db: s.db}
}

func (s *gormStore) MerchantAccounts() MerchantAccountRepository {
	return &merchantAccountRepository{db: s.db}
}

func (s *gormStore) Events() EventRepository {
	return &eventRepository{db: s.db}
}

func (s *gormStore) Users() UserRepository {
	return &userRepository{db: s.db}
}

func (s *gormStore) Notifications() NotificationRepository {
	return &notificationRepository{db: s.db}
}

func (s *gormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// translateError maps gorm errors onto the package sentinels
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}
