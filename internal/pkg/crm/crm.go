// Package crm publishes buyer and seller activity to the CRM sink.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/segmentio/kafka-go"
)

// Event types emitted to the CRM topic.
const (
	EventSaleCompleted = "sale_completed"
)

// Event is one CRM record update. Buyer and seller are synced together.
type Event struct {
	Type           string    `json:"type"`
	OrderReference string    `json:"order_reference"`
	ListingID      uint      `json:"listing_id"`
	BuyerID        uint      `json:"buyer_id"`
	SellerID       uint      `json:"seller_id"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher delivers CRM events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes CRM events to a Kafka topic keyed by order reference.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

func (k *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	v, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("crm: marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Topic: k.topic,
		Key:   []byte(evt.OrderReference),
		Value: v,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("crm: publish %s: %w", evt.OrderReference, err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// LogPublisher is used when no brokers are configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, evt Event) error {
	log.Infof("[CRM] No broker configured, skipping %s for order %s", evt.Type, evt.OrderReference)
	return nil
}

func (LogPublisher) Close() error { return nil }

// NewPublisher returns a Kafka publisher, or a LogPublisher without brokers.
func NewPublisher(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return LogPublisher{}
	}
	return NewKafkaPublisher(brokers, topic)
}
