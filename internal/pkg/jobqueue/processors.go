package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GearMarket/app/models"
	"github.com/ManuelReschke/GearMarket/app/repository"
	"github.com/ManuelReschke/GearMarket/internal/pkg/crm"
	"github.com/ManuelReschke/GearMarket/internal/pkg/mail"
)

// JobProcessor executes a dequeued job.
type JobProcessor interface {
	Process(ctx context.Context, job *Job) error
}

// Processor runs the marketplace side-effect jobs.
type Processor struct {
	store    repository.Store
	mailer   mail.Sender
	crm      crm.Publisher
	opsEmail string
}

// NewProcessor wires the job handlers to their collaborators.
func NewProcessor(store repository.Store, mailer mail.Sender, publisher crm.Publisher, opsEmail string) *Processor {
	return &Processor{store: store, mailer: mailer, crm: publisher, opsEmail: opsEmail}
}

func (p *Processor) Process(ctx context.Context, job *Job) error {
	switch job.Type {
	case JobTypeSaleNotification:
		return p.processSaleNotificationJob(ctx, job)
	case JobTypeSellerEmail:
		return p.processSellerEmailJob(ctx, job)
	case JobTypeCRMSync:
		return p.processCRMSyncJob(ctx, job)
	case JobTypeOperatorAlert:
		return p.processOperatorAlertJob(job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// processSaleNotificationJob writes in-app notifications for both parties
func (p *Processor) processSaleNotificationJob(ctx context.Context, job *Job) error {
	payload, err := OrderJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	amount := formatAmount(payload.Amount, payload.Currency)
	notes := []models.Notification{
		{
			UserID:      payload.SellerID,
			Type:        models.NotificationTypeSaleCompleted,
			Content:     fmt.Sprintf("Your listing sold for %s (order %s).", amount, payload.OrderReference),
			ReferenceID: payload.OrderID,
		},
		{
			UserID:      payload.BuyerID,
			Type:        models.NotificationTypePurchasePaid,
			Content:     fmt.Sprintf("Payment of %s received for order %s.", amount, payload.OrderReference),
			ReferenceID: payload.OrderID,
		},
	}
	return p.store.WithTx(ctx, func(tx repository.Store) error {
		for i := range notes {
			if err := tx.Notifications().Create(ctx, &notes[i]); err != nil {
				return fmt.Errorf("create notification: %w", err)
			}
		}
		return nil
	})
}

// processSellerEmailJob mails the seller that the item was paid
func (p *Processor) processSellerEmailJob(ctx context.Context, job *Job) error {
	payload, err := OrderJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	seller, err := p.store.Users().GetByID(ctx, payload.SellerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warnf("[JobQueue] Seller %d not found, skipping sale email for %s", payload.SellerID, payload.OrderReference)
			return nil
		}
		return err
	}
	to := seller.ContactEmail()
	if to == "" {
		log.Warnf("[JobQueue] Seller %d has no email, skipping sale email for %s", payload.SellerID, payload.OrderReference)
		return nil
	}

	subject := fmt.Sprintf("Your item sold (order %s)", payload.OrderReference)
	body := fmt.Sprintf("Hello %s,\n\nyour listing #%d was paid: %s.\nOrder reference: %s\n\nPlease prepare the item for shipping.\n",
		seller.Name, payload.ListingID, formatAmount(payload.Amount, payload.Currency), payload.OrderReference)
	return p.mailer.SendMail(to, subject, body)
}

// processCRMSyncJob publishes the sale to the CRM sink
func (p *Processor) processCRMSyncJob(ctx context.Context, job *Job) error {
	payload, err := OrderJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	occurred := time.Now().UTC()
	if payload.PaidAt != nil {
		occurred = payload.PaidAt.UTC()
	}
	return p.crm.Publish(ctx, crm.Event{
		Type:           crm.EventSaleCompleted,
		OrderReference: payload.OrderReference,
		ListingID:      payload.ListingID,
		BuyerID:        payload.BuyerID,
		SellerID:       payload.SellerID,
		Amount:         payload.Amount,
		Currency:       payload.Currency,
		OccurredAt:     occurred,
	})
}

func (p *Processor) processOperatorAlertJob(job *Job) error {
	payload, err := OperatorAlertJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	log.Warnf("[Alert] %s: %s", payload.Subject, payload.Body)
	if p.opsEmail == "" {
		return nil
	}
	return p.mailer.SendMail(p.opsEmail, "[GearMarket] "+payload.Subject, payload.Body)
}

func formatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, currency)
}
