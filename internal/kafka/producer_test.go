package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psds-microservice/issue-tracker/internal/logger"
	"github.com/psds-microservice/issue-tracker/internal/model"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	done   chan struct{}
}

func (r *recorder) ProduceTicketEvent(ctx context.Context, event string, payload map[string]interface{}) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	close(r.done)
}

func TestTicketPayload(t *testing.T) {
	host := uint64(3)
	tk := &model.Ticket{ID: 9, ProjectID: 2, HostID: &host, Name: "crash", Status: model.TicketStatusOpen,
		Priority: model.TicketPriorityHigh, Type: model.TicketTypeBug}

	p := TicketPayload(tk)
	assert.Equal(t, uint64(9), p["ticket_id"])
	assert.Equal(t, uint64(3), p["host_id"])
	assert.Equal(t, "bug", p["type"])
	assert.NotContains(t, p, "category_id")
	assert.Nil(t, TicketPayload(nil))
}

func TestPublishAsync(t *testing.T) {
	r := &recorder{done: make(chan struct{})}
	PublishAsync(r, EventTicketCreated, &model.Ticket{ID: 1})

	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("event not published")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.events, 1)
	assert.Equal(t, EventTicketCreated, r.events[0])

	PublishAsync(nil, EventTicketCreated, &model.Ticket{ID: 1})
}

func TestProducer_NoBrokersIsNoop(t *testing.T) {
	p := NewProducer(nil, "topic", logger.Discard())
	p.ProduceTicketEvent(context.Background(), EventTicketUpdated, map[string]interface{}{"ticket_id": 1})
	assert.NoError(t, p.Close())
}
