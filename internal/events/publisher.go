// Package events publishes order status-change notifications for downstream
// consumers (email, push, analytics). Delivery is fire-and-forget: the
// lifecycle engine never blocks or fails a transition on publishing.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/domain/order"
)

// StatusChangedEvent is the wire format of one committed transition.
type StatusChangedEvent struct {
	EventID        string    `json:"event_id"`
	OrderID        string    `json:"order_id"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	PaymentStatus  string    `json:"payment_status"`
	ChangedBy      string    `json:"changed_by"`
	ChangedAt      time.Time `json:"changed_at"`
}

// Publisher writes status-change events to Kafka, keyed by order ID so a
// single order's events stay in one partition, in order.
type Publisher struct {
	writer *kafka.Writer
}

var _ order.Events = (*Publisher)(nil)

// NewPublisher creates a Publisher for the given brokers and topic. Writes
// are async: errors are logged by the writer's completion callback, never
// returned to the transition path.
func NewPublisher(brokers []string, topic string, lg *zap.Logger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					lg.Error("publish status event", zap.Error(err), zap.Int("messages", len(messages)))
				}
			},
		},
	}
}

// StatusChanged implements order.Events.
func (p *Publisher) StatusChanged(ctx context.Context, o *order.Order, h *order.StatusHistory) {
	value, err := json.Marshal(StatusChangedEvent{
		EventID:        h.ID,
		OrderID:        o.ID,
		PreviousStatus: string(h.PreviousStatus),
		NewStatus:      string(h.NewStatus),
		PaymentStatus:  string(o.PaymentStatus),
		ChangedBy:      h.ChangedBy,
		ChangedAt:      h.ChangedAt,
	})
	if err != nil {
		zctx.From(ctx).Error("marshal status event", zap.Error(err))
		return
	}

	// Async writer: WriteMessages only enqueues.
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(o.ID),
		Value: value,
		Time:  h.ChangedAt,
	}); err != nil {
		zctx.From(ctx).Error("enqueue status event", zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Noop is an order.Events sink that drops everything; used when no brokers
// are configured.
type Noop struct{}

// StatusChanged implements order.Events.
func (Noop) StatusChanged(context.Context, *order.Order, *order.StatusHistory) {}
