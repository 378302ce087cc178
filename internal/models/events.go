package models

import "time"

// Event types
const (
	EventTypeBookingCreated   = "BOOKING_CREATED"
	EventTypeBookingApproved  = "BOOKING_APPROVED"
	EventTypeBookingRejected  = "BOOKING_REJECTED"
	EventTypeBookingActivated = "BOOKING_ACTIVATED"
	EventTypeBookingCompleted = "BOOKING_COMPLETED"
	EventTypeBookingCancelled = "BOOKING_CANCELLED"
	EventTypePaymentCaptured  = "PAYMENT_CAPTURED"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
	EventTypePaymentRetry     = "PAYMENT_RETRY"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// BookingCreatedEvent published when a booking enters PENDING
type BookingCreatedEvent struct {
	BaseEvent
	BookingID   int64  `json:"booking_id"`
	ItemID      int64  `json:"item_id"`
	RenterID    int64  `json:"renter_id"`
	OwnerID     int64  `json:"owner_id"`
	StartDate   Date   `json:"start_date"`
	EndDate     Date   `json:"end_date"`
	TotalAmount int64  `json:"total_amount"`
	IntentID    string `json:"intent_id"`
}

// BookingTransitionedEvent published for approve/reject/activate/complete
// transitions; EventType carries which transition happened.
type BookingTransitionedEvent struct {
	BaseEvent
	BookingID int64         `json:"booking_id"`
	ItemID    int64         `json:"item_id"`
	RenterID  int64         `json:"renter_id"`
	OwnerID   int64         `json:"owner_id"`
	Status    BookingStatus `json:"status"`
}

// BookingCancelledEvent published when a booking is cancelled
type BookingCancelledEvent struct {
	BaseEvent
	BookingID    int64  `json:"booking_id"`
	ItemID       int64  `json:"item_id"`
	RenterID     int64  `json:"renter_id"`
	OwnerID      int64  `json:"owner_id"`
	CancelledBy  int64  `json:"cancelled_by"`
	RefundAmount int64  `json:"refund_amount"`
	IntentID     string `json:"intent_id"`
}

// PaymentCapturedEvent published when the processor confirms capture
type PaymentCapturedEvent struct {
	BaseEvent
	BookingID int64  `json:"booking_id"`
	IntentID  string `json:"intent_id"`
	Amount    int64  `json:"amount"`
}

// PaymentFailedEvent published when the processor reports failure
type PaymentFailedEvent struct {
	BaseEvent
	BookingID int64  `json:"booking_id"`
	IntentID  string `json:"intent_id"`
	Reason    string `json:"reason"`
}

// Payment retry operations
const (
	PaymentOpCancel = "cancel"
	PaymentOpRefund = "refund"
)

// PaymentRetryEvent queues an asynchronous retry of a best-effort
// processor call (cancellation or refund) that failed inline.
type PaymentRetryEvent struct {
	BaseEvent
	BookingID    int64  `json:"booking_id"`
	IntentID     string `json:"intent_id"`
	Operation    string `json:"operation"`
	RefundAmount int64  `json:"refund_amount,omitempty"`
	Attempt      int    `json:"attempt"`
}
