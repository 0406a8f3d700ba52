package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/GearMarket/app/models"
)

// MemoryStore is a process-local Store used for DB_DRIVER=memory and tests.
// WithTx holds a single store-wide lock for the duration of the callback,
// which gives the same mutual exclusion as row locks on the SQL backends.
type MemoryStore struct {
	mu   *sync.Mutex
	data *memoryData
	inTx bool
}

type memoryData struct {
	nextID   uint
	listings map[uint]models.Listing
	orders   map[uint]models.Order
	accounts map[uint]models.MerchantAccount
	events   map[uint]models.ProcessedEvent
	users    map[uint]models.User
	notes    map[uint]models.Notification
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		data: &memoryData{
			listings: map[uint]models.Listing{},
			orders:   map[uint]models.Order{},
			accounts: map[uint]models.MerchantAccount{},
			events:   map[uint]models.ProcessedEvent{},
			users:    map[uint]models.User{},
			notes:    map[uint]models.Notification{},
			now:      time.Now,
		},
	}
}

// SetNow overrides the timestamp source used for created_at/updated_at.
func (s *MemoryStore) SetNow(now func() time.Time) {
	defer s.lock()()
	s.data.now = now
}

// PutUser inserts or replaces a user row. Users are owned by the profile
// platform, so the Store interface itself has no write path for them.
func (s *MemoryStore) PutUser(user models.User) {
	defer s.lock()()
	if user.ID == 0 {
		user.ID = s.data.id()
	}
	s.data.users[user.ID] = user
}

func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) Listings() ListingRepository                 { return memoryListings{s} }
func (s *MemoryStore) Orders() OrderRepository                     { return memoryOrders{s} }
func (s *MemoryStore) MerchantAccounts() MerchantAccountRepository { return memoryAccounts{s} }
func (s *MemoryStore) Events() EventRepository                     { return memoryEvents{s} }
func (s *MemoryStore) Users() UserRepository                       { return memoryUsers{s} }
func (s *MemoryStore) Notifications() NotificationRepository       { return memoryNotifications{s} }

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&MemoryStore{mu: s.mu, data: s.data, inTx: true}); err != nil {
		*s.data = *snapshot
		return err
	}
	return nil
}

func (d *memoryData) id() uint {
	d.nextID++
	return d.nextID
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		nextID:   d.nextID,
		listings: make(map[uint]models.Listing, len(d.listings)),
		orders:   make(map[uint]models.Order, len(d.orders)),
		accounts: make(map[uint]models.MerchantAccount, len(d.accounts)),
		events:   make(map[uint]models.ProcessedEvent, len(d.events)),
		users:    make(map[uint]models.User, len(d.users)),
		notes:    make(map[uint]models.Notification, len(d.notes)),
		now:      d.now,
	}
	for k, v := range d.listings {
		c.listings[k] = cloneListing(v)
	}
	for k, v := range d.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.events {
		c.events[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.notes {
		c.notes[k] = v
	}
	return c
}

func cloneListing(l models.Listing) models.Listing {
	if l.ReservedOrderID != nil {
		id := *l.ReservedOrderID
		l.ReservedOrderID = &id
	}
	return l
}

func cloneOrder(o models.Order) models.Order {
	if o.PaidAt != nil {
		t := *o.PaidAt
		o.PaidAt = &t
	}
	if o.ClosedAt != nil {
		t := *o.ClosedAt
		o.ClosedAt = &t
	}
	if o.ReconciledAt != nil {
		t := *o.ReconciledAt
		o.ReconciledAt = &t
	}
	return o
}

// sweepKey orders stale orders by their last sweep attempt, or creation.
func sweepKey(o models.Order) time.Time {
	if o.ReconciledAt != nil {
		return *o.ReconciledAt
	}
	return o.CreatedAt
}

// listings

type memoryListings struct{ s *MemoryStore }

func (r memoryListings) Create(ctx context.Context, listing *models.Listing) error {
	defer r.s.lock()()
	d := r.s.data
	if listing.Availability == "" {
		listing.Availability = models.AvailabilityAvailable
	}
	if listing.Version == 0 {
		listing.Version = 1
	}
	if listing.ID == 0 {
		listing.ID = d.id()
	} else if _, ok := d.listings[listing.ID]; ok {
		return ErrDuplicate
	}
	now := d.now()
	listing.CreatedAt, listing.UpdatedAt = now, now
	d.listings[listing.ID] = cloneListing(*listing)
	return nil
}

func (r memoryListings) GetByID(ctx context.Context, id uint) (*models.Listing, error) {
	defer r.s.lock()()
	l, ok := r.s.data.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	l = cloneListing(l)
	return &l, nil
}

func (r memoryListings) GetByIDForUpdate(ctx context.Context, id uint) (*models.Listing, error) {
	return r.GetByID(ctx, id)
}

func (r memoryListings) CompareAndSwap(ctx context.Context, listing *models.Listing, expectedVersion uint) (bool, error) {
	defer r.s.lock()()
	d := r.s.data
	stored, ok := d.listings[listing.ID]
	if !ok || stored.Version != expectedVersion {
		return false, nil
	}
	stored.Availability = listing.Availability
	stored.ReservedOrderID = listing.ReservedOrderID
	stored.Version = expectedVersion + 1
	stored.UpdatedAt = d.now()
	d.listings[listing.ID] = cloneListing(stored)
	listing.Version = stored.Version
	listing.UpdatedAt = stored.UpdatedAt
	return true, nil
}

// orders

type memoryOrders struct{ s *MemoryStore }

func (r memoryOrders) Create(ctx context.Context, order *models.Order) error {
	defer r.s.lock()()
	d := r.s.data
	for _, o := range d.orders {
		if o.Reference == order.Reference || o.PaymentRef == order.PaymentRef {
			return ErrDuplicate
		}
	}
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}
	order.ID = d.id()
	now := d.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	d.orders[order.ID] = cloneOrder(*order)
	return nil
}

func (r memoryOrders) find(match func(models.Order) bool) (*models.Order, error) {
	defer r.s.lock()()
	for _, o := range r.s.data.orders {
		if match(o) {
			o = cloneOrder(o)
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (r memoryOrders) GetByReference(ctx context.Context, reference string) (*models.Order, error) {
	return r.find(func(o models.Order) bool { return o.Reference == reference })
}

func (r memoryOrders) GetByPaymentRef(ctx context.Context, paymentRef string) (*models.Order, error) {
	return r.find(func(o models.Order) bool { return o.PaymentRef == paymentRef })
}

func (r memoryOrders) GetByPaymentRefForUpdate(ctx context.Context, paymentRef string) (*models.Order, error) {
	return r.GetByPaymentRef(ctx, paymentRef)
}

func (r memoryOrders) UpdateState(ctx context.Context, order *models.Order) error {
	defer r.s.lock()()
	d := r.s.data
	stored, ok := d.orders[order.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = order.Status
	stored.RequiresManualReview = order.RequiresManualReview
	stored.ReviewReason = order.ReviewReason
	stored.PaidAt = order.PaidAt
	stored.ClosedAt = order.ClosedAt
	stored.UpdatedAt = d.now()
	d.orders[order.ID] = cloneOrder(stored)
	order.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r memoryOrders) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error) {
	defer r.s.lock()()
	var out []models.Order
	for _, o := range r.s.data.orders {
		if o.Status == models.OrderStatusPending && o.CreatedAt.Before(createdBefore) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := sweepKey(out[i]), sweepKey(out[j])
		if ki.Equal(kj) {
			return out[i].ID < out[j].ID
		}
		return ki.Before(kj)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memoryOrders) MarkReconciled(ctx context.Context, orderID uint, at time.Time) error {
	defer r.s.lock()()
	d := r.s.data
	stored, ok := d.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	t := at
	stored.ReconciledAt = &t
	d.orders[orderID] = stored
	return nil
}

func (r memoryOrders) ListByListing(ctx context.Context, listingID uint) ([]models.Order, error) {
	defer r.s.lock()()
	var out []models.Order
	for _, o := range r.s.data.orders {
		if o.ListingID == listingID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// merchant accounts

type memoryAccounts struct{ s *MemoryStore }

func (r memoryAccounts) Create(ctx context.Context, account *models.MerchantAccount) error {
	defer r.s.lock()()
	d := r.s.data
	for _, a := range d.accounts {
		if a.SellerID == account.SellerID || a.ProcessorAccountID == account.ProcessorAccountID {
			return ErrDuplicate
		}
	}
	account.ID = d.id()
	now := d.now()
	account.CreatedAt, account.UpdatedAt = now, now
	d.accounts[account.ID] = *account
	return nil
}

func (r memoryAccounts) find(match func(models.MerchantAccount) bool) (*models.MerchantAccount, error) {
	defer r.s.lock()()
	for _, a := range r.s.data.accounts {
		if match(a) {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (r memoryAccounts) GetBySellerID(ctx context.Context, sellerID uint) (*models.MerchantAccount, error) {
	return r.find(func(a models.MerchantAccount) bool { return a.SellerID == sellerID })
}

func (r memoryAccounts) GetByProcessorAccountID(ctx context.Context, accountID string) (*models.MerchantAccount, error) {
	return r.find(func(a models.MerchantAccount) bool { return a.ProcessorAccountID == accountID })
}

func (r memoryAccounts) UpdateStatus(ctx context.Context, account *models.MerchantAccount) error {
	defer r.s.lock()()
	d := r.s.data
	stored, ok := d.accounts[account.ID]
	if !ok {
		return ErrNotFound
	}
	stored.OnboardingStatus = account.OnboardingStatus
	stored.ChargesEnabled = account.ChargesEnabled
	stored.PayoutsEnabled = account.PayoutsEnabled
	stored.StatusCheckedAt = account.StatusCheckedAt
	stored.UpdatedAt = d.now()
	d.accounts[account.ID] = stored
	return nil
}

// ledger

type memoryEvents struct{ s *MemoryStore }

func (r memoryEvents) Exists(ctx context.Context, eventID string) (bool, error) {
	defer r.s.lock()()
	for _, e := range r.s.data.events {
		if e.EventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (r memoryEvents) Record(ctx context.Context, event *models.ProcessedEvent) (bool, error) {
	defer r.s.lock()()
	d := r.s.data
	for _, e := range d.events {
		if e.EventID == event.EventID {
			return false, nil
		}
	}
	event.ID = d.id()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = d.now()
	}
	d.events[event.ID] = *event
	return true, nil
}

func (r memoryEvents) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.ProcessedEvent, error) {
	defer r.s.lock()()
	var out []models.ProcessedEvent
	for _, e := range r.s.data.events {
		if e.CreatedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memoryEvents) DeleteByIDs(ctx context.Context, ids []uint) (int64, error) {
	defer r.s.lock()()
	var n int64
	for _, id := range ids {
		if _, ok := r.s.data.events[id]; ok {
			delete(r.s.data.events, id)
			n++
		}
	}
	return n, nil
}

// users

type memoryUsers struct{ s *MemoryStore }

func (r memoryUsers) GetByID(ctx context.Context, id uint) (*models.User, error) {
	defer r.s.lock()()
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

// notifications

type memoryNotifications struct{ s *MemoryStore }

func (r memoryNotifications) Create(ctx context.Context, n *models.Notification) error {
	defer r.s.lock()()
	d := r.s.data
	n.ID = d.id()
	now := d.now()
	n.CreatedAt, n.UpdatedAt = now, now
	d.notes[n.ID] = *n
	return nil
}

func (r memoryNotifications) ListByUser(ctx context.Context, userID uint, limit int) ([]models.Notification, error) {
	defer r.s.lock()()
	var out []models.Notification
	for _, n := range r.s.data.notes {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
