package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"booking-service/internal/models"
)

// fakeStore is an in-memory Store that mirrors the datastore's contract:
// overlap rejection under a single lock, compare-and-swap transitions and
// timestamp-guarded payment updates.
type fakeStore struct {
	mu        sync.Mutex
	items     map[int64]*models.CatalogItem
	bookings  map[int64]*models.Booking
	processed map[string]bool
	nextID    int64

	// commitErr simulates a commit that fails after the payment
	// authorization opened, rolling the insert back.
	commitErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:     make(map[int64]*models.CatalogItem),
		bookings:  make(map[int64]*models.Booking),
		processed: make(map[string]bool),
	}
}

func (f *fakeStore) addItem(item *models.CatalogItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.ID] = item
}

func cloneBooking(b *models.Booking) *models.Booking {
	c := *b
	return &c
}

func (f *fakeStore) GetItemByID(ctx context.Context, id int64) (*models.CatalogItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("catalog item %d: %w", id, models.ErrNotFound)
	}
	c := *item
	return &c, nil
}

func (f *fakeStore) CreateBookingWithPayment(ctx context.Context, booking *models.Booking, open func(ctx context.Context) (string, string, string, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.bookings {
		if existing.ItemID == booking.ItemID && existing.Status.Occupies() &&
			existing.Overlaps(booking.StartDate, booking.EndDate) {
			return fmt.Errorf("%w: booking %d", models.ErrConflict, existing.ID)
		}
	}

	intentID, clientSecret, status, err := open(ctx)
	if err != nil {
		return err
	}

	f.nextID++
	booking.ID = f.nextID
	booking.PaymentIntentID = intentID
	booking.PaymentClientSecret = clientSecret
	booking.PaymentStatus = status

	if f.commitErr != nil {
		return f.commitErr
	}

	booking.CreatedAt = time.Now()
	booking.UpdatedAt = booking.CreatedAt
	f.bookings[booking.ID] = cloneBooking(booking)
	return nil
}

func (f *fakeStore) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	booking, ok := f.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %d: %w", id, models.ErrNotFound)
	}
	return cloneBooking(booking), nil
}

func (f *fakeStore) GetBookingByIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, booking := range f.bookings {
		if booking.PaymentIntentID == intentID {
			return cloneBooking(booking), nil
		}
	}
	return nil, fmt.Errorf("intent %s: %w", intentID, models.ErrNotFound)
}

func (f *fakeStore) ListBookingsByUser(ctx context.Context, userID int64, role string) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, booking := range f.bookings {
		switch role {
		case "renter":
			if booking.RenterID != userID {
				continue
			}
		case "owner":
			if booking.OwnerID != userID {
				continue
			}
		default:
			if booking.RenterID != userID && booking.OwnerID != userID {
				continue
			}
		}
		out = append(out, *booking)
	}
	return out, nil
}

func (f *fakeStore) FindOverlapping(ctx context.Context, itemID int64, start, end models.Date, excludeID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for _, booking := range f.bookings {
		if booking.ItemID == itemID && booking.ID != excludeID &&
			booking.Status.Occupies() && booking.Overlaps(start, end) {
			ids = append(ids, booking.ID)
		}
	}
	return ids, nil
}

func (f *fakeStore) TransitionStatus(ctx context.Context, id int64, from, to models.BookingStatus, message string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	booking, ok := f.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %d: %w", id, models.ErrNotFound)
	}
	if booking.Status != from {
		return cloneBooking(booking), fmt.Errorf("%w: booking %d is %s, not %s",
			models.ErrInvalidState, id, booking.Status, from)
	}
	booking.Status = to
	if to == models.StatusApproved {
		now := time.Now()
		booking.ApprovedAt = &now
	}
	if message != "" {
		booking.Message = message
	}
	booking.UpdatedAt = time.Now()
	return cloneBooking(booking), nil
}

func (f *fakeStore) UpdatePaymentStatus(ctx context.Context, bookingID int64, status string, notifiedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	booking, ok := f.bookings[bookingID]
	if !ok {
		return fmt.Errorf("booking %d: %w", bookingID, models.ErrNotFound)
	}
	if !booking.PaymentUpdatedAt.Before(notifiedAt) {
		return fmt.Errorf("booking %d: %w", bookingID, models.ErrReconciliationStale)
	}
	booking.PaymentStatus = status
	booking.PaymentUpdatedAt = notifiedAt
	return nil
}

func (f *fakeStore) ListDueForActivation(ctx context.Context, today models.Date) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, booking := range f.bookings {
		if booking.Status == models.StatusApproved && !booking.StartDate.After(today) {
			out = append(out, *booking)
		}
	}
	return out, nil
}

func (f *fakeStore) ListDueForCompletion(ctx context.Context, today models.Date) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, booking := range f.bookings {
		if booking.Status == models.StatusActive && booking.EndDate.Before(today) {
			out = append(out, *booking)
		}
	}
	return out, nil
}

func (f *fakeStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[eventID], nil
}

func (f *fakeStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[eventID] = true
	return nil
}

// fakeCache records invalidations and serves nothing unless primed.
type fakeCache struct {
	mu               sync.Mutex
	userBookings     map[string][]models.Booking
	availability     map[string]bool
	invalidatedItems []int64
	invalidatedUsers []int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		userBookings: make(map[string][]models.Booking),
		availability: make(map[string]bool),
	}
}

func userKey(userID int64, role string) string {
	return fmt.Sprintf("%d:%s", userID, role)
}

func availKey(itemID int64, start, end models.Date) string {
	return fmt.Sprintf("%d:%s:%s", itemID, start, end)
}

func (f *fakeCache) GetUserBookings(ctx context.Context, userID int64, role string) ([]models.Booking, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bookings, ok := f.userBookings[userKey(userID, role)]
	return bookings, ok
}

func (f *fakeCache) SetUserBookings(ctx context.Context, userID int64, role string, bookings []models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userBookings[userKey(userID, role)] = bookings
	return nil
}

func (f *fakeCache) GetAvailability(ctx context.Context, itemID int64, start, end models.Date) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	available, ok := f.availability[availKey(itemID, start, end)]
	return available, ok
}

func (f *fakeCache) SetAvailability(ctx context.Context, itemID int64, start, end models.Date, available bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.availability[availKey(itemID, start, end)] = available
	return nil
}

func (f *fakeCache) InvalidateItem(ctx context.Context, itemID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.availability = make(map[string]bool)
	f.invalidatedItems = append(f.invalidatedItems, itemID)
	return nil
}

func (f *fakeCache) InvalidateUserBookings(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, role := range []string{"renter", "owner", "either"} {
		delete(f.userBookings, userKey(userID, role))
	}
	f.invalidatedUsers = append(f.invalidatedUsers, userID)
	return nil
}

// fakePublisher records every published event.
type fakePublisher struct {
	mu          sync.Mutex
	created     []*models.BookingCreatedEvent
	transitions []*models.BookingTransitionedEvent
	cancelled   []*models.BookingCancelledEvent
	captured    []*models.PaymentCapturedEvent
	failed      []*models.PaymentFailedEvent
	retries     []*models.PaymentRetryEvent
}

func (f *fakePublisher) PublishBookingCreated(ctx context.Context, event *models.BookingCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, event)
	return nil
}

func (f *fakePublisher) PublishBookingTransitioned(ctx context.Context, event *models.BookingTransitionedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, event)
	return nil
}

func (f *fakePublisher) PublishBookingCancelled(ctx context.Context, event *models.BookingCancelledEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, event)
	return nil
}

func (f *fakePublisher) PublishPaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captured = append(f.captured, event)
	return nil
}

func (f *fakePublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, event)
	return nil
}

func (f *fakePublisher) PublishPaymentRetry(ctx context.Context, event *models.PaymentRetryEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries = append(f.retries, event)
	return nil
}

// fakeProcessor simulates the external payment processor with switchable
// failure modes.
type fakeProcessor struct {
	mu         sync.Mutex
	failAuth   bool
	failCancel bool
	failRefund bool
	authorized []string
	cancelled  []string
	refunded   map[string]int64
	nextIntent int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{refunded: make(map[string]int64)}
}

func (f *fakeProcessor) CreateAuthorization(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Authorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAuth {
		return nil, fmt.Errorf("card declined")
	}
	f.nextIntent++
	intentID := fmt.Sprintf("pi_%d", f.nextIntent)
	f.authorized = append(f.authorized, intentID)
	return &Authorization{
		IntentID:     intentID,
		ClientSecret: intentID + "_secret",
		Status:       models.PaymentStatusRequiresConfirmation,
	}, nil
}

func (f *fakeProcessor) CancelAuthorization(ctx context.Context, intentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCancel {
		return fmt.Errorf("processor unavailable")
	}
	f.cancelled = append(f.cancelled, intentID)
	return nil
}

func (f *fakeProcessor) Refund(ctx context.Context, intentID string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRefund {
		return fmt.Errorf("processor unavailable")
	}
	f.refunded[intentID] += amount
	return nil
}
