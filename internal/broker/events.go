package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"booking-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing booking domain events
type EventPublisher struct {
	producer      *Producer
	retryProducer *Producer
}

// NewEventPublisher creates a new event publisher. The retry producer
// writes to the payment-retry topic consumed by the retry worker.
func NewEventPublisher(producer, retryProducer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer, retryProducer: retryProducer}
}

func bookingKey(bookingID int64) string {
	return fmt.Sprintf("booking-%d", bookingID)
}

// PublishBookingCreated publishes a BookingCreated event
func (ep *EventPublisher) PublishBookingCreated(ctx context.Context, event *models.BookingCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishBookingTransitioned publishes approve/reject/activate/complete events
func (ep *EventPublisher) PublishBookingTransitioned(ctx context.Context, event *models.BookingTransitionedEvent) error {
	return ep.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishBookingCancelled publishes a BookingCancelled event
func (ep *EventPublisher) PublishBookingCancelled(ctx context.Context, event *models.BookingCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishPaymentCaptured publishes a PaymentCaptured event
func (ep *EventPublisher) PublishPaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error {
	return ep.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishPaymentFailed publishes a PaymentFailed event
func (ep *EventPublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	return ep.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishPaymentRetry enqueues a best-effort processor call for the
// asynchronous retry worker.
func (ep *EventPublisher) PublishPaymentRetry(ctx context.Context, event *models.PaymentRetryEvent) error {
	return ep.retryProducer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// EventHandler routes incoming events to registered handlers
type EventHandler struct {
	onPaymentRetry func(context.Context, *models.PaymentRetryEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnPaymentRetry registers a handler for PaymentRetry events
func (eh *EventHandler) OnPaymentRetry(handler func(context.Context, *models.PaymentRetryEvent) error) {
	eh.onPaymentRetry = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypePaymentRetry:
		if eh.onPaymentRetry != nil {
			var event models.PaymentRetryEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentRetry event: %w", err)
			}
			return eh.onPaymentRetry(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
