// Package merchant links sellers to their connected payout accounts at the
// payment processor and tracks whether they can be paid.
package merchant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GearMarket/app/models"
	"github.com/ManuelReschke/GearMarket/app/repository"
	"github.com/ManuelReschke/GearMarket/internal/pkg/metrics"
	"github.com/ManuelReschke/GearMarket/internal/pkg/processor"
)

var (
	// ErrSellerNotOnboarded is returned when a seller cannot receive payments yet.
	ErrSellerNotOnboarded = errors.New("merchant: seller has no active payout account")
	// ErrUnknownAccount is returned for processor accounts not linked to a seller.
	ErrUnknownAccount = errors.New("merchant: unknown processor account")
)

// ProvisioningError reports that a connected account could not be created
// for reasons retrying will not fix.
type ProvisioningError struct {
	SellerID uint
	Reason   string
	Err      error
}

func (e *ProvisioningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("merchant: cannot provision account for seller %d: %s: %v", e.SellerID, e.Reason, e.Err)
	}
	return fmt.Sprintf("merchant: cannot provision account for seller %d: %s", e.SellerID, e.Reason)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// Status is a point-in-time view of a connected account.
type Status struct {
	AccountID               string                  `json:"account_id"`
	OnboardingStatus        models.OnboardingStatus `json:"onboarding_status"`
	IsActive                bool                    `json:"is_active"`
	ChargesEnabled          bool                    `json:"charges_enabled"`
	PayoutsEnabled          bool                    `json:"payouts_enabled"`
	OutstandingRequirements []string                `json:"outstanding_requirements"`
}

// Onboarding is the result of EnsureAccount.
type Onboarding struct {
	AccountID     string
	OnboardingURL string
	IsActive      bool
	Status        models.OnboardingStatus
}

// StatusCache caches Status values by processor account id.
type StatusCache interface {
	Load(ctx context.Context, key string, dst interface{}) (bool, error)
	Store(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Config holds the onboarding parameters.
type Config struct {
	DefaultCountry string
	StatusTTL      time.Duration
	RefreshURL     string
	ReturnURL      string
}

// Service manages connected accounts.
type Service struct {
	store   repository.Store
	gateway processor.Gateway
	cache   StatusCache
	cfg     Config
	metrics *metrics.Payments
	now     func() time.Time
}

// NewService creates a merchant service. cache may be nil.
func NewService(store repository.Store, gateway processor.Gateway, cache StatusCache, cfg Config, m *metrics.Payments) *Service {
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = time.Minute
	}
	return &Service{store: store, gateway: gateway, cache: cache, cfg: cfg, metrics: m, now: time.Now}
}

// StatusFor maps processor account state onto the onboarding status.
func StatusFor(a *processor.Account) models.OnboardingStatus {
	switch {
	case a.ChargesEnabled && a.PayoutsEnabled:
		return models.OnboardingActive
	case a.DisabledReason != "":
		return models.OnboardingRestricted
	case a.DetailsSubmitted || len(a.CurrentlyDue) > 0 || len(a.PastDue) > 0:
		return models.OnboardingPending
	default:
		return models.OnboardingNotStarted
	}
}

func statusOf(a *processor.Account) Status {
	st := StatusFor(a)
	reqs := a.OutstandingRequirements()
	if reqs == nil {
		reqs = []string{}
	}
	return Status{
		AccountID:               a.ID,
		OnboardingStatus:        st,
		IsActive:                st == models.OnboardingActive,
		ChargesEnabled:          a.ChargesEnabled,
		PayoutsEnabled:          a.PayoutsEnabled,
		OutstandingRequirements: reqs,
	}
}

// IdempotencyKey is the processor idempotency key used when provisioning
// the seller's account.
func IdempotencyKey(sellerID uint) string {
	return fmt.Sprintf("merchant-account-seller-%d", sellerID)
}

// EnsureAccount returns the seller's connected account and a fresh
// onboarding link, provisioning the account on first use.
func (s *Service) EnsureAccount(ctx context.Context, sellerID uint) (*Onboarding, error) {
	acct, err := s.store.MerchantAccounts().GetBySellerID(ctx, sellerID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		acct, err = s.provision(ctx, sellerID)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("load merchant account: %w: %v", processor.ErrTransient, err)
	default:
		if _, err := s.sync(ctx, acct); err != nil {
			return nil, err
		}
	}

	link, err := s.gateway.CreateOnboardingLink(ctx, acct.ProcessorAccountID, s.cfg.RefreshURL, s.cfg.ReturnURL)
	if err != nil {
		s.metrics.ProcessorError("create_onboarding_link", processor.Kind(err))
		return nil, fmt.Errorf("onboarding link for %s: %w", acct.ProcessorAccountID, err)
	}

	return &Onboarding{
		AccountID:     acct.ProcessorAccountID,
		OnboardingURL: link,
		IsActive:      acct.OnboardingStatus == models.OnboardingActive,
		Status:        acct.OnboardingStatus,
	}, nil
}

func (s *Service) provision(ctx context.Context, sellerID uint) (*models.MerchantAccount, error) {
	seller, err := s.store.Users().GetByID(ctx, sellerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &ProvisioningError{SellerID: sellerID, Reason: "seller profile not found"}
		}
		return nil, fmt.Errorf("load seller profile: %w: %v", processor.ErrTransient, err)
	}
	email := seller.ContactEmail()
	if email == "" {
		return nil, &ProvisioningError{SellerID: sellerID, Reason: "seller profile has no email"}
	}
	country := strings.ToUpper(strings.TrimSpace(seller.Country))
	if country == "" {
		country = s.cfg.DefaultCountry
	}

	pa, err := s.gateway.CreateAccount(ctx, processor.AccountParams{
		SellerID:       sellerID,
		Email:          email,
		Country:        country,
		IdempotencyKey: IdempotencyKey(sellerID),
	})
	if err != nil {
		s.metrics.ProcessorError("create_account", processor.Kind(err))
		if processor.IsRejected(err) {
			return nil, &ProvisioningError{SellerID: sellerID, Reason: "processor rejected seller profile", Err: err}
		}
		return nil, fmt.Errorf("provision account for seller %d: %w", sellerID, err)
	}

	now := s.now()
	acct := &models.MerchantAccount{
		SellerID:           sellerID,
		ProcessorAccountID: pa.ID,
		OnboardingStatus:   StatusFor(pa),
		ChargesEnabled:     pa.ChargesEnabled,
		PayoutsEnabled:     pa.PayoutsEnabled,
		StatusCheckedAt:    &now,
	}
	if err := s.store.MerchantAccounts().Create(ctx, acct); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("store merchant account: %w: %v", processor.ErrTransient, err)
		}
		// a concurrent request for the same seller won the insert
		winner, rerr := s.store.MerchantAccounts().GetBySellerID(ctx, sellerID)
		if rerr != nil {
			return nil, fmt.Errorf("reload merchant account: %w: %v", processor.ErrTransient, rerr)
		}
		return winner, nil
	}
	log.Infof("[Merchant] Provisioned account %s for seller %d", acct.ProcessorAccountID, sellerID)
	return acct, nil
}

// RefreshStatus polls the processor for the account state. Results are
// cached for the configured TTL and no table is written.
func (s *Service) RefreshStatus(ctx context.Context, accountID string) (*Status, error) {
	if s.cache != nil {
		var cached Status
		hit, err := s.cache.Load(ctx, accountID, &cached)
		if err != nil {
			log.Warnf("[Merchant] Status cache read failed for %s: %v", accountID, err)
		} else if hit {
			return &cached, nil
		}
	}

	pa, err := s.gateway.GetAccount(ctx, accountID)
	if err != nil {
		s.metrics.ProcessorError("get_account", processor.Kind(err))
		return nil, fmt.Errorf("refresh status of %s: %w", accountID, err)
	}
	st := statusOf(pa)
	s.storeCached(ctx, &st)
	return &st, nil
}

// SellerStatus returns the seller's account status, NotStarted when no
// account exists yet. The stored row is used when the processor is unreachable.
func (s *Service) SellerStatus(ctx context.Context, sellerID uint) (*Status, error) {
	acct, err := s.store.MerchantAccounts().GetBySellerID(ctx, sellerID)
	if errors.Is(err, repository.ErrNotFound) {
		return &Status{OnboardingStatus: models.OnboardingNotStarted, OutstandingRequirements: []string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load merchant account: %w: %v", processor.ErrTransient, err)
	}

	st, err := s.RefreshStatus(ctx, acct.ProcessorAccountID)
	if err != nil {
		if !processor.IsTransient(err) {
			return nil, err
		}
		log.Warnf("[Merchant] Using stored status for seller %d: %v", sellerID, err)
		return &Status{
			AccountID:               acct.ProcessorAccountID,
			OnboardingStatus:        acct.OnboardingStatus,
			IsActive:                acct.OnboardingStatus == models.OnboardingActive,
			ChargesEnabled:          acct.ChargesEnabled,
			PayoutsEnabled:          acct.PayoutsEnabled,
			OutstandingRequirements: []string{},
		}, nil
	}
	return st, nil
}

// ActiveAccount returns the seller's account if it can receive payments.
func (s *Service) ActiveAccount(ctx context.Context, sellerID uint) (*models.MerchantAccount, error) {
	acct, err := s.store.MerchantAccounts().GetBySellerID(ctx, sellerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSellerNotOnboarded
	}
	if err != nil {
		return nil, fmt.Errorf("load merchant account: %w: %v", processor.ErrTransient, err)
	}
	st, err := s.RefreshStatus(ctx, acct.ProcessorAccountID)
	if err != nil {
		return nil, err
	}
	if !st.IsActive {
		return nil, ErrSellerNotOnboarded
	}
	return acct, nil
}

// SyncStatus polls the processor and persists the account state.
func (s *Service) SyncStatus(ctx context.Context, accountID string) (*models.MerchantAccount, error) {
	acct, err := s.store.MerchantAccounts().GetByProcessorAccountID(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUnknownAccount
	}
	if err != nil {
		return nil, fmt.Errorf("load merchant account: %w: %v", processor.ErrTransient, err)
	}
	if _, err := s.sync(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *Service) sync(ctx context.Context, acct *models.MerchantAccount) (*Status, error) {
	pa, err := s.gateway.GetAccount(ctx, acct.ProcessorAccountID)
	if err != nil {
		s.metrics.ProcessorError("get_account", processor.Kind(err))
		return nil, fmt.Errorf("poll account %s: %w", acct.ProcessorAccountID, err)
	}
	st := statusOf(pa)
	now := s.now()
	previous := acct.OnboardingStatus
	acct.OnboardingStatus = st.OnboardingStatus
	acct.ChargesEnabled = st.ChargesEnabled
	acct.PayoutsEnabled = st.PayoutsEnabled
	acct.StatusCheckedAt = &now
	if err := s.store.MerchantAccounts().UpdateStatus(ctx, acct); err != nil {
		return nil, fmt.Errorf("store account status: %w: %v", processor.ErrTransient, err)
	}
	if previous != st.OnboardingStatus {
		log.Infof("[Merchant] Account %s of seller %d: %s -> %s", acct.ProcessorAccountID, acct.SellerID, previous, st.OnboardingStatus)
	}
	s.storeCached(ctx, &st)
	return &st, nil
}

func (s *Service) storeCached(ctx context.Context, st *Status) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Store(ctx, st.AccountID, st, s.cfg.StatusTTL); err != nil {
		log.Warnf("[Merchant] Status cache write failed for %s: %v", st.AccountID, err)
	}
}
