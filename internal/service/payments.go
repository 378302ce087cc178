package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxPaymentRetryAttempts bounds the asynchronous retry loop for
// best-effort processor calls.
const maxPaymentRetryAttempts = 5

// PaymentOrchestrator maintains exactly one external payment authorization
// per booking and keeps the booking's payment status synchronized with the
// processor's true state. Cancellations and refunds are best-effort: the
// booking's own state change is authoritative and failures go to the
// asynchronous retry queue instead of blocking the transition.
type PaymentOrchestrator struct {
	store     Store
	processor PaymentProcessor
	publisher Publisher
	logger    *zap.Logger
}

// NewPaymentOrchestrator creates a payment orchestrator.
func NewPaymentOrchestrator(store Store, processor PaymentProcessor, publisher Publisher) *PaymentOrchestrator {
	return &PaymentOrchestrator{
		store:     store,
		processor: processor,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// Open requests a payment authorization for a booking total. Failure here
// aborts booking creation entirely; the caller runs it inside the creation
// transaction.
func (po *PaymentOrchestrator) Open(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Authorization, error) {
	ctx, span := util.StartSpan(ctx, "PaymentOrchestrator.Open")
	defer span.End()

	util.PaymentAuthAttemptsTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	auth, err := po.processor.CreateAuthorization(ctx, amount, currency, metadata)
	if err != nil {
		util.PaymentAuthFailedTotal.Inc()
		return nil, fmt.Errorf("%w: %v", models.ErrPaymentAuthorizationFailed, err)
	}
	return auth, nil
}

// CancelBestEffort voids a booking's authorization. A processor failure is
// logged and queued for retry, never surfaced: the state transition that
// triggered the cancellation has already committed.
func (po *PaymentOrchestrator) CancelBestEffort(ctx context.Context, booking *models.Booking) {
	if booking.PaymentIntentID == "" {
		return
	}
	if err := po.processor.CancelAuthorization(ctx, booking.PaymentIntentID); err != nil {
		po.logger.Warn("Payment cancellation failed, queueing retry",
			zap.Int64("booking_id", booking.ID),
			zap.String("intent_id", booking.PaymentIntentID),
			zap.Error(err))
		po.queueRetry(ctx, booking.ID, booking.PaymentIntentID, models.PaymentOpCancel, 0)
	}
}

// RefundBestEffort refunds part or all of a booking's charge, retrying
// asynchronously on failure.
func (po *PaymentOrchestrator) RefundBestEffort(ctx context.Context, booking *models.Booking, amount int64) {
	if booking.PaymentIntentID == "" || amount <= 0 {
		return
	}
	if err := po.processor.Refund(ctx, booking.PaymentIntentID, amount); err != nil {
		po.logger.Warn("Payment refund failed, queueing retry",
			zap.Int64("booking_id", booking.ID),
			zap.String("intent_id", booking.PaymentIntentID),
			zap.Int64("amount", amount),
			zap.Error(err))
		po.queueRetry(ctx, booking.ID, booking.PaymentIntentID, models.PaymentOpRefund, amount)
	}
}

func (po *PaymentOrchestrator) queueRetry(ctx context.Context, bookingID int64, intentID, operation string, refundAmount int64) {
	event := &models.PaymentRetryEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentRetry,
			Timestamp: time.Now(),
		},
		BookingID:    bookingID,
		IntentID:     intentID,
		Operation:    operation,
		RefundAmount: refundAmount,
		Attempt:      1,
	}
	if err := po.publisher.PublishPaymentRetry(ctx, event); err != nil {
		po.logger.Error("Failed to queue payment retry", zap.Error(err))
	}
}

// Retry re-attempts a queued best-effort processor call. Exhausted retries
// are dropped with an error log; the consumer always commits the message.
func (po *PaymentOrchestrator) Retry(ctx context.Context, event *models.PaymentRetryEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentOrchestrator.Retry")
	defer span.End()

	util.PaymentRetriesTotal.Inc()

	var err error
	switch event.Operation {
	case models.PaymentOpCancel:
		err = po.processor.CancelAuthorization(ctx, event.IntentID)
	case models.PaymentOpRefund:
		err = po.processor.Refund(ctx, event.IntentID, event.RefundAmount)
	default:
		po.logger.Error("Unknown payment retry operation", zap.String("operation", event.Operation))
		return nil
	}

	if err == nil {
		po.logger.Info("Payment retry succeeded",
			zap.Int64("booking_id", event.BookingID),
			zap.String("operation", event.Operation),
			zap.Int("attempt", event.Attempt))
		return nil
	}

	if event.Attempt >= maxPaymentRetryAttempts {
		po.logger.Error("Payment retry exhausted",
			zap.Int64("booking_id", event.BookingID),
			zap.String("intent_id", event.IntentID),
			zap.String("operation", event.Operation),
			zap.Error(err))
		return nil
	}

	next := &models.PaymentRetryEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentRetry,
			Timestamp: time.Now(),
		},
		BookingID:    event.BookingID,
		IntentID:     event.IntentID,
		Operation:    event.Operation,
		RefundAmount: event.RefundAmount,
		Attempt:      event.Attempt + 1,
	}
	return po.publisher.PublishPaymentRetry(ctx, next)
}

// WebhookNotification is the processor's asynchronous payment update.
// Delivery is at-least-once and may arrive out of order.
type WebhookNotification struct {
	EventID   string    `json:"event_id"`
	IntentID  string    `json:"intent_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// VerifyWebhookSignature checks the hex-encoded HMAC-SHA256 of the raw
// request body against the shared webhook secret.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// HandleWebhook reconciles a verified processor notification with the
// booking's payment status. Replays, unknown intents and stale updates are
// all swallowed after logging: the endpoint must stay idempotent.
func (po *PaymentOrchestrator) HandleWebhook(ctx context.Context, notification *WebhookNotification) error {
	ctx, span := util.StartSpan(ctx, "PaymentOrchestrator.HandleWebhook")
	defer span.End()

	processed, err := po.store.IsEventProcessed(ctx, notification.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		util.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		po.logger.Info("Webhook event already processed", zap.String("event_id", notification.EventID))
		return nil
	}

	booking, err := po.store.GetBookingByIntentID(ctx, notification.IntentID)
	if errors.Is(err, models.ErrNotFound) {
		util.WebhookEventsTotal.WithLabelValues("unknown_intent").Inc()
		po.logger.Warn("Webhook for unknown payment intent discarded",
			zap.String("intent_id", notification.IntentID),
			zap.String("event_id", notification.EventID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up intent: %w", err)
	}

	err = po.store.UpdatePaymentStatus(ctx, booking.ID, notification.Status, notification.CreatedAt)
	if errors.Is(err, models.ErrReconciliationStale) {
		util.WebhookEventsTotal.WithLabelValues("stale").Inc()
		po.logger.Info("Stale payment notification discarded",
			zap.Int64("booking_id", booking.ID),
			zap.String("status", notification.Status))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}

	switch notification.Status {
	case models.PaymentStatusCaptured:
		event := &models.PaymentCapturedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentCaptured,
				Timestamp: time.Now(),
			},
			BookingID: booking.ID,
			IntentID:  notification.IntentID,
			Amount:    booking.TotalAmount,
		}
		if err := po.publisher.PublishPaymentCaptured(ctx, event); err != nil {
			po.logger.Error("Failed to publish PaymentCaptured event", zap.Error(err))
		}
	case models.PaymentStatusFailed:
		event := &models.PaymentFailedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentFailed,
				Timestamp: time.Now(),
			},
			BookingID: booking.ID,
			IntentID:  notification.IntentID,
			Reason:    "processor_declined",
		}
		if err := po.publisher.PublishPaymentFailed(ctx, event); err != nil {
			po.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
		}
	}

	if err := po.store.MarkEventProcessed(ctx, notification.EventID, "payment_webhook"); err != nil {
		po.logger.Error("Failed to mark webhook event processed", zap.Error(err))
	}

	util.WebhookEventsTotal.WithLabelValues("processed").Inc()
	po.logger.Info("Payment status reconciled",
		zap.Int64("booking_id", booking.ID),
		zap.String("status", notification.Status))
	return nil
}
