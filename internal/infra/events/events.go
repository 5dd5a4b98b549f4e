// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// OrderStatusChanged is emitted after a transition commits.
type OrderStatusChanged struct {
	OrderID     int64     `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      int64     `json:"user_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	ActorUserID int64     `json:"actor_user_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Publisher interface {
	PublishOrderStatus(ctx context.Context, ev OrderStatusChanged) error
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	w   MessageWriter
	log *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, log)
}

func NewKafkaPublisherWithWriter(w MessageWriter, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{w: w, log: log}
}

// 同じ注文のイベントは同じパーティションに入る
func (p *KafkaPublisher) PublishOrderStatus(ctx context.Context, ev OrderStatusChanged) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.OrderID, 10)),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte("order.status_changed")},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.log.Error("failed to publish order event",
			zap.Int64("order_id", ev.OrderID),
			zap.String("to", ev.To),
			zap.Error(err),
		)
		return err
	}
	p.log.Info("order event published", zap.Int64("order_id", ev.OrderID), zap.String("to", ev.To))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// Noop is used when no brokers are configured.
type Noop struct{}

func (Noop) PublishOrderStatus(context.Context, OrderStatusChanged) error { return nil }
