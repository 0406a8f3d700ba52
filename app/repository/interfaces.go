package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/GearMarket/app/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicate is returned when an insert violates a unique key.
	ErrDuplicate = errors.New("repository: duplicate key")
)

// ListingRepository defines the listing operations used by the payments core
type ListingRepository interface {
	Create(ctx context.Context, listing *models.Listing) error
	GetByID(ctx context.Context, id uint) (*models.Listing, error)
	// GetByIDForUpdate locks the row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id uint) (*models.Listing, error)
	// CompareAndSwap writes availability and reservation if the stored version
	// still equals expectedVersion. On success listing.Version is advanced.
	CompareAndSwap(ctx context.Context, listing *models.Listing, expectedVersion uint) (bool, error)
}

// OrderRepository defines the order operations used by the payments core
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByReference(ctx context.Context, reference string) (*models.Order, error)
	GetByPaymentRef(ctx context.Context, paymentRef string) (*models.Order, error)
	// GetByPaymentRefForUpdate locks the row until the surrounding transaction ends.
	GetByPaymentRefForUpdate(ctx context.Context, paymentRef string) (*models.Order, error)
	// UpdateState persists status, review and timestamp columns only.
	UpdateState(ctx context.Context, order *models.Order) error
	// ListStalePending returns pending orders created before createdBefore,
	// least recently reconciled first. Orders never swept count from creation.
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error)
	// MarkReconciled records a sweep attempt without touching updated_at.
	MarkReconciled(ctx context.Context, orderID uint, at time.Time) error
	ListByListing(ctx context.Context, listingID uint) ([]models.Order, error)
}

// MerchantAccountRepository defines the connected account operations
type MerchantAccountRepository interface {
	Create(ctx context.Context, account *models.MerchantAccount) error
	GetBySellerID(ctx context.Context, sellerID uint) (*models.MerchantAccount, error)
	GetByProcessorAccountID(ctx context.Context, accountID string) (*models.MerchantAccount, error)
	UpdateStatus(ctx context.Context, account *models.MerchantAccount) error
}

// EventRepository is the processed-event ledger
type EventRepository interface {
	Exists(ctx context.Context, eventID string) (bool, error)
	// Record inserts the event unless its id is already present and reports
	// whether a row was created.
	Record(ctx context.Context, event *models.ProcessedEvent) (bool, error)
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.ProcessedEvent, error)
	DeleteByIDs(ctx context.Context, ids []uint) (int64, error)
}

// UserRepository gives read access to marketplace principals
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

// NotificationRepository stores in-app notifications
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByUser(ctx context.Context, userID uint, limit int) ([]models.Notification, error)
}

// Store bundles all repositories behind one transactional boundary.
type Store interface {
	Listings() ListingRepository
	Orders() OrderRepository
	MerchantAccounts() MerchantAccountRepository
	Events() EventRepository
	Users() UserRepository
	Notifications() NotificationRepository
	// WithTx runs fn inside a single transaction. Any error returned by fn
	// rolls back every write made through the Store passed to it.
	WithTx(ctx context.Context, fn func(tx Store) error) error
	// Ping checks connectivity of the underlying storage.
	Ping(ctx context.Context) error
}
