package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/parivartan/core-service/internal/domain"
)

// PaymentStatusConsumer applies gateway status events delivered over the broker with
// the same semantics as the webhook endpoint.
type PaymentStatusConsumer struct {
	payments *PaymentService
}

func NewPaymentStatusConsumer(payments *PaymentService) *PaymentStatusConsumer {
	return &PaymentStatusConsumer{payments: payments}
}

// HandleMessage returns false only for failures worth retrying.
func (c *PaymentStatusConsumer) HandleMessage(body []byte) bool {
	var event domain.GatewayStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=payment_consumer msg=\"failed to unmarshal payload; dropping\" err=%v", err)
		return true
	}
	if event.PaymentID == "" {
		log.Printf("level=warn component=payment_consumer msg=\"missing payment id; dropping\"")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := c.payments.applyGatewayStatus(ctx, domain.PaymentWebhookRequest{
		PaymentID:       event.PaymentID,
		TransactionID:   event.TransactionID,
		Status:          event.Status,
		GatewayResponse: event.GatewayResponse,
	}, settledViaConsumer)
	if err != nil {
		var validationErr *ValidationError
		switch {
		case errors.Is(err, ErrNotFound):
			log.Printf("level=warn component=payment_consumer payment_id=%s msg=\"no payment transaction; acknowledging\"", event.PaymentID)
			return true
		case errors.As(err, &validationErr):
			log.Printf("level=warn component=payment_consumer payment_id=%s msg=\"invalid event; dropping\" err=%v", event.PaymentID, err)
			return true
		default:
			log.Printf("level=error component=payment_consumer payment_id=%s msg=\"processing failed\" err=%v", event.PaymentID, err)
			return false
		}
	}

	log.Printf("level=info component=payment_consumer payment_id=%s status=%s ignored=%t already_settled=%t", result.PaymentID, result.Status, result.Ignored, result.AlreadySettled)
	return true
}
