package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/psds-microservice/issue-tracker/internal/model"
)

const (
	EventTicketCreated = "ticket.created"
	EventTicketUpdated = "ticket.updated"
	EventTicketDeleted = "ticket.deleted"
)

// TicketEventProducer publishes ticket lifecycle events; tests substitute a recorder.
type TicketEventProducer interface {
	ProduceTicketEvent(ctx context.Context, event string, payload map[string]interface{})
}

// Producer writes ticket events to a Kafka topic, best-effort.
type Producer struct {
	writer *kafka.Writer
	topic  string
	log    *slog.Logger
}

// NewProducer returns a producer. With no brokers or no topic every method is a no-op.
func NewProducer(brokers []string, topic string, log *slog.Logger) *Producer {
	if len(brokers) == 0 || topic == "" {
		return &Producer{log: log}
	}
	return &Producer{
		topic: topic,
		log:   log,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// ProduceTicketEvent writes {"event": event, ...payload} keyed by ticket_id so events of one
// ticket stay ordered within a partition.
func (p *Producer) ProduceTicketEvent(ctx context.Context, event string, payload map[string]interface{}) {
	if p.writer == nil {
		return
	}
	msg := map[string]interface{}{"event": event}
	for k, v := range payload {
		msg[k] = v
	}
	body, err := json.Marshal(msg)
	if err != nil {
		p.log.Error("kafka: marshal ticket event", "error", err)
		return
	}
	key, _ := json.Marshal(payload["ticket_id"])
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: body}); err != nil {
		p.log.Warn("kafka: write ticket event", "event", event, "error", err)
	}
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// TicketPayload is the event body for t.
func TicketPayload(t *model.Ticket) map[string]interface{} {
	if t == nil {
		return nil
	}
	payload := map[string]interface{}{
		"ticket_id":  t.ID,
		"project_id": t.ProjectID,
		"name":       t.Name,
		"status":     string(t.Status),
		"priority":   string(t.Priority),
		"type":       string(t.Type),
		"updated_at": t.UpdatedAt,
	}
	if t.HostID != nil {
		payload["host_id"] = *t.HostID
	}
	if t.CategoryID != nil {
		payload["category_id"] = *t.CategoryID
	}
	return payload
}

// PublishAsync sends the event in a goroutine with its own timeout, detached from the request.
func PublishAsync(p TicketEventProducer, event string, t *model.Ticket) {
	if p == nil || t == nil {
		return
	}
	payload := TicketPayload(t)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.ProduceTicketEvent(ctx, event, payload)
	}()
}
