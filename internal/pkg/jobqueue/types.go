package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/ManuelReschke/GearMarket/app/models"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeSaleNotification JobType = "sale_notification"
	JobTypeSellerEmail      JobType = "seller_email"
	JobTypeCRMSync          JobType = "crm_sync"
	JobTypeOperatorAlert    JobType = "operator_alert"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Key         string                 `json:"key,omitempty"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// OrderJobPayload carries the order snapshot for sale notification,
// seller email and CRM sync jobs.
type OrderJobPayload struct {
	OrderID        uint       `json:"order_id"`
	OrderReference string     `json:"order_reference"`
	ListingID      uint       `json:"listing_id"`
	BuyerID        uint       `json:"buyer_id"`
	SellerID       uint       `json:"seller_id"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
}

// NewOrderJobPayload snapshots the fields the side-effect jobs need.
func NewOrderJobPayload(o *models.Order) OrderJobPayload {
	return OrderJobPayload{
		OrderID:        o.ID,
		OrderReference: o.Reference,
		ListingID:      o.ListingID,
		BuyerID:        o.BuyerID,
		SellerID:       o.SellerID,
		Amount:         o.Amount,
		Currency:       o.Currency,
		PaidAt:         o.PaidAt,
	}
}

// ToMap converts the payload to a map for storage
func (p OrderJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"order_id":        p.OrderID,
		"order_reference": p.OrderReference,
		"listing_id":      p.ListingID,
		"buyer_id":        p.BuyerID,
		"seller_id":       p.SellerID,
		"amount":          p.Amount,
		"currency":        p.Currency,
	}
	if p.PaidAt != nil {
		m["paid_at"] = p.PaidAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

// OrderJobPayloadFromMap creates a payload from a map
func OrderJobPayloadFromMap(data map[string]interface{}) (*OrderJobPayload, error) {
	var payload OrderJobPayload
	if err := fromMap(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// OperatorAlertJobPayload is a message for the operations mailbox
type OperatorAlertJobPayload struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (p OperatorAlertJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"subject": p.Subject,
		"body":    p.Body,
	}
}

func OperatorAlertJobPayloadFromMap(data map[string]interface{}) (*OperatorAlertJobPayload, error) {
	var payload OperatorAlertJobPayload
	if err := fromMap(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func fromMap(data map[string]interface{}, dst interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, dst)
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
