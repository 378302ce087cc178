package service

import (
	"context"
	"time"

	"booking-service/internal/models"
)

// Store is the transactional datastore the engine coordinates through.
// *store.Store implements it; tests substitute an in-memory fake.
type Store interface {
	GetItemByID(ctx context.Context, id int64) (*models.CatalogItem, error)
	CreateBookingWithPayment(ctx context.Context, booking *models.Booking, open func(ctx context.Context) (string, string, string, error)) error
	GetBookingByID(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByIntentID(ctx context.Context, intentID string) (*models.Booking, error)
	ListBookingsByUser(ctx context.Context, userID int64, role string) ([]models.Booking, error)
	FindOverlapping(ctx context.Context, itemID int64, start, end models.Date, excludeID int64) ([]int64, error)
	TransitionStatus(ctx context.Context, id int64, from, to models.BookingStatus, message string) (*models.Booking, error)
	UpdatePaymentStatus(ctx context.Context, bookingID int64, status string, notifiedAt time.Time) error
	ListDueForActivation(ctx context.Context, today models.Date) ([]models.Booking, error)
	ListDueForCompletion(ctx context.Context, today models.Date) ([]models.Booking, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Cache is the distributed read-view cache. It is never the source of
// truth; every implementation error degrades to a cache miss.
type Cache interface {
	GetUserBookings(ctx context.Context, userID int64, role string) ([]models.Booking, bool)
	SetUserBookings(ctx context.Context, userID int64, role string, bookings []models.Booking) error
	GetAvailability(ctx context.Context, itemID int64, start, end models.Date) (available, hit bool)
	SetAvailability(ctx context.Context, itemID int64, start, end models.Date, available bool) error
	InvalidateItem(ctx context.Context, itemID int64) error
	InvalidateUserBookings(ctx context.Context, userID int64) error
}

// Publisher emits lifecycle and payment events. *broker.EventPublisher
// implements it.
type Publisher interface {
	PublishBookingCreated(ctx context.Context, event *models.BookingCreatedEvent) error
	PublishBookingTransitioned(ctx context.Context, event *models.BookingTransitionedEvent) error
	PublishBookingCancelled(ctx context.Context, event *models.BookingCancelledEvent) error
	PublishPaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
	PublishPaymentRetry(ctx context.Context, event *models.PaymentRetryEvent) error
}
