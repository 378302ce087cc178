package worker

import (
	"context"
	"log"

	"booking-service/internal/broker"
	"booking-service/internal/service"
)

// PaymentRetryWorker drains the payment-retry topic and re-attempts
// best-effort processor calls (cancel, refund) that failed inline.
type PaymentRetryWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	payments     *service.PaymentOrchestrator
}

// NewPaymentRetryWorker creates a new payment retry worker
func NewPaymentRetryWorker(
	consumer *broker.Consumer,
	payments *service.PaymentOrchestrator,
) *PaymentRetryWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnPaymentRetry(payments.Retry)

	return &PaymentRetryWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		payments:     payments,
	}
}

// Start starts the worker
func (w *PaymentRetryWorker) Start(ctx context.Context) error {
	log.Println("Starting payment retry worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentRetryWorker) Stop() error {
	log.Println("Stopping payment retry worker...")
	return w.consumer.Close()
}
