package app

import (
	"context"
	"log"
	"time"

	"github.com/parivartan/core-service/pkg/rabbitmq"
)

// EventPublisher publishes domain events to a fixed exchange. Publishing is
// best effort: failures are logged and never fail the originating operation.
type EventPublisher struct {
	publisher rabbitmq.Publisher
	exchange  string
}

func NewEventPublisher(publisher rabbitmq.Publisher, exchange string) *EventPublisher {
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{}
	}
	return &EventPublisher{publisher: publisher, exchange: exchange}
}

func (p *EventPublisher) Publish(ctx context.Context, routingKey string, payload interface{}) {
	if p == nil || p.publisher == nil {
		return
	}
	// Detach from the request so a client disconnect does not drop the event.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.publisher.Publish(publishCtx, p.exchange, routingKey, payload); err != nil {
		log.Printf("level=warn component=events routing_key=%s msg=\"event publish failed\" err=%v", routingKey, err)
	}
}
