package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"booking-service/internal/models"
	"booking-service/internal/pricing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOwnerID  = int64(200)
	testRenterID = int64(100)
)

type testEnv struct {
	store *fakeStore
	cache *fakeCache
	pub   *fakePublisher
	proc  *fakeProcessor
	svc   *BookingService
}

// newTestEnv wires the service against in-memory collaborators. The
// catalog holds one item: daily rate 5000, no insurance, owned by 200.
// "Today" is pinned to 2026-09-01.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newFakeStore()
	store.addItem(&models.CatalogItem{
		ID:        1,
		OwnerID:   testOwnerID,
		Title:     "Excavator",
		DailyRate: 5000,
	})

	cache := newFakeCache()
	pub := &fakePublisher{}
	proc := newFakeProcessor()

	payments := NewPaymentOrchestrator(store, proc, pub)
	availability := NewAvailabilityChecker(store, cache)
	calc := pricing.NewCalculator(pricing.FeePolicy{
		ServiceFeePercent:    10,
		HostingFeeFlat:       200,
		CommissionPercent:    15,
		InsurancePassThrough: true,
		Currency:             "USD",
	})

	svc := NewBookingService(store, cache, pub, payments, availability, calc, BookingPolicy{
		MinLeadTimeDays:         0,
		CancelFreeDays:          3,
		CancelLateRefundPercent: 50,
	})
	svc.today = func() models.Date { return models.NewDate(2026, 9, 1) }

	return &testEnv{store: store, cache: cache, pub: pub, proc: proc, svc: svc}
}

func (e *testEnv) createBooking(t *testing.T, renterID int64, start, end models.Date) *models.Booking {
	t.Helper()
	booking, err := e.svc.CreateBooking(context.Background(), &CreateBookingRequest{
		RenterID:  renterID,
		ItemID:    1,
		StartDate: start,
		EndDate:   end,
	})
	require.NoError(t, err)
	return booking
}

func TestCreateBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	booking := env.createBooking(t, testRenterID,
		models.NewDate(2026, 9, 10), models.NewDate(2026, 9, 12))

	assert.Equal(t, models.StatusPending, booking.Status)
	assert.Equal(t, testOwnerID, booking.OwnerID)
	// 3 days * 5000 base + 10% service fee + 200 flat hosting fee.
	assert.Equal(t, int64(16700), booking.TotalAmount)
	assert.Equal(t, "pi_1", booking.PaymentIntentID)
	assert.NotEmpty(t, booking.PaymentClientSecret)

	require.Len(t, env.pub.created, 1)
	assert.Equal(t, booking.ID, env.pub.created[0].BookingID)

	// Both parties' cached views are dropped.
	assert.Contains(t, env.cache.invalidatedUsers, testRenterID)
	assert.Contains(t, env.cache.invalidatedUsers, testOwnerID)
	assert.Contains(t, env.cache.invalidatedItems, int64(1))

	listed, err := env.svc.ListBookings(ctx, testRenterID, "renter")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, booking.ID, listed[0].ID)
}

func TestCreateBookingInvalidRange(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
		RenterID:  testRenterID,
		ItemID:    1,
		StartDate: models.NewDate(2026, 9, 12),
		EndDate:   models.NewDate(2026, 9, 10),
	})
	assert.ErrorIs(t, err, models.ErrInvalidRange)
}

func TestCreateBookingLeadTime(t *testing.T) {
	env := newTestEnv(t)
	env.svc.policy.MinLeadTimeDays = 2

	// Today is Sep 1, so the earliest bookable start is Sep 3.
	_, err := env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
		RenterID:  testRenterID,
		ItemID:    1,
		StartDate: models.NewDate(2026, 9, 2),
		EndDate:   models.NewDate(2026, 9, 4),
	})
	assert.ErrorIs(t, err, models.ErrInvalidRange)
}

func TestCreateBookingOwnItem(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
		RenterID:  testOwnerID,
		ItemID:    1,
		StartDate: models.NewDate(2026, 9, 10),
		EndDate:   models.NewDate(2026, 9, 12),
	})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCreateBookingPaymentDeclined(t *testing.T) {
	env := newTestEnv(t)
	env.proc.failAuth = true

	_, err := env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
		RenterID:  testRenterID,
		ItemID:    1,
		StartDate: models.NewDate(2026, 9, 10),
		EndDate:   models.NewDate(2026, 9, 12),
	})
	assert.ErrorIs(t, err, models.ErrPaymentAuthorizationFailed)

	// Nothing persisted, nothing published.
	listed, err := env.svc.ListBookings(context.Background(), testRenterID, "renter")
	require.NoError(t, err)
	assert.Empty(t, listed)
	assert.Empty(t, env.pub.created)
}

func TestCreateBookingCommitRaceVoidsAuthorization(t *testing.T) {
	env := newTestEnv(t)
	env.store.commitErr = fmt.Errorf("%w: could not serialize access", models.ErrConflict)

	_, err := env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
		RenterID:  testRenterID,
		ItemID:    1,
		StartDate: models.NewDate(2026, 9, 10),
		EndDate:   models.NewDate(2026, 9, 12),
	})
	assert.ErrorIs(t, err, models.ErrConflict)

	// The insert rolled back after the authorization opened; the orphaned
	// authorization must be voided.
	assert.Contains(t, env.proc.cancelled, "pi_1")
	assert.Empty(t, env.pub.created)

	listed, err := env.svc.ListBookings(context.Background(), testRenterID, "renter")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestCreateBookingOverlapConflict(t *testing.T) {
	env := newTestEnv(t)

	env.createBooking(t, testRenterID,
		models.NewDate(2026, 9, 10), models.NewDate(2026, 9, 15))

	_, err := env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
		RenterID:  101,
		ItemID:    1,
		StartDate: models.NewDate(2026, 9, 14),
		EndDate:   models.NewDate(2026, 9, 18),
	})
	assert.ErrorIs(t, err, models.ErrConflict)

	// An adjacent range that only touches the boundary day still
	// conflicts: ranges are inclusive on both ends.
	_, err = env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
		RenterID:  101,
		ItemID:    1,
		StartDate: models.NewDate(2026, 9, 15),
		EndDate:   models.NewDate(2026, 9, 16),
	})
	assert.ErrorIs(t, err, models.ErrConflict)

	// The day after the booking ends is free.
	_, err = env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
		RenterID:  101,
		ItemID:    1,
		StartDate: models.NewDate(2026, 9, 16),
		EndDate:   models.NewDate(2026, 9, 18),
	})
	assert.NoError(t, err)
}

func TestConcurrentOverlappingCreates(t *testing.T) {
	env := newTestEnv(t)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
				RenterID:  int64(100 + i),
				ItemID:    1,
				StartDate: models.NewDate(2026, 9, 10),
				EndDate:   models.NewDate(2026, 9, 12),
			})
		}(i)
	}
	wg.Wait()

	succeeded, conflicted := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, models.ErrConflict):
			conflicted++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, conflicted)
}

func TestApproveBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	booking := env.createBooking(t, testRenterID,
		models.NewDate(2026, 9, 10), models.NewDate(2026, 9, 12))

	approved, err := env.svc.ApproveBooking(ctx, testOwnerID, booking.ID, "see you then")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
	assert.NotNil(t, approved.ApprovedAt)
	assert.Equal(t, "see you then", approved.Message)

	require.Len(t, env.pub.transitions, 1)
	assert.Equal(t, models.EventTypeBookingApproved, env.pub.transitions[0].EventType)
}

func TestApproveByNonOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	booking := env.createBooking(t, testRenterID,
		models.NewDate(2026, 9, 10), models.NewDate(2026, 9, 12))

	_, err := env.svc.ApproveBooking(ctx, testRenterID, booking.ID, "")
	assert.ErrorIs(t, err, models.ErrForbidden)

	// The booking is untouched.
	current, err := env.svc.GetBooking(ctx, testRenterID, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, current.Status)
}

func TestRejectBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	booking := env.createBooking(t, testRenterID,
		models.NewDate(2026, 9, 10), models.NewDate(2026, 9, 12))

	rejected, err := env.svc.RejectBooking(ctx, testOwnerID, booking.ID, "unavailable")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)

	// Rejection voids the payment authorization.
	assert.Contains(t, env.proc.cancelled, booking.PaymentIntentID)

	// Rejecting again reports the invalid state and changes nothing.
	_, err = env.svc.RejectBooking(ctx, testOwnerID, booking.ID, "again")
	assert.ErrorIs(t, err, models.ErrInvalidState)

	current, err := env.svc.GetBooking(ctx, testOwnerID, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, current.Status)
	assert.Equal(t, "unavailable", current.Message)

	// The rejected range no longer occupies the calendar.
	_, err = env.svc.CreateBooking(ctx, &CreateBookingRequest{
		RenterID:  101,
		ItemID:    1,
		StartDate: models.NewDate(2026, 9, 10),
		EndDate:   models.NewDate(2026, 9, 12),
	})
	assert.NoError(t, err)
}

func TestCancelBookingFullRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Start is 9 days out, beyond the 3-day free-cancellation window.
	booking := env.createBooking(t, testRenterID,
		models.NewDate(2026, 9, 10), models.NewDate(2026, 9, 12))
	_, err := env.svc.ApproveBooking(ctx, testOwnerID, booking.ID, "")
	require.NoError(t, err)

	// The processor has captured the charge.
	require.NoError(t, env.store.UpdatePaymentStatus(ctx, booking.ID,
		models.PaymentStatusCaptured, env.svc.today().Time()))

	cancelled, err := env.svc.CancelBooking(ctx, testRenterID, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, booking.TotalAmount, env.proc.refunded[booking.PaymentIntentID])

	require.Len(t, env.pub.cancelled, 1)
	assert.Equal(t, booking.TotalAmount, env.pub.cancelled[0].RefundAmount)
	assert.Equal(t, testRenterID, env.pub.cancelled[0].CancelledBy)
}

func TestCancelBookingLateRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Start is tomorrow, inside the free-cancellation window.
	booking := env.createBooking(t, testRenterID,
		models.NewDate(2026, 9, 2), models.NewDate(2026, 9, 4))
	_, err := env.svc.ApproveBooking(ctx, testOwnerID, booking.ID, "")
	require.NoError(t, err)

	require.NoError(t, env.store.UpdatePaymentStatus(ctx, booking.ID,
		models.PaymentStatusCaptured, env.svc.today().Time()))

	_, err = env.svc.CancelBooking(ctx, testOwnerID, booking.ID)
	require.NoError(t, err)

	// 50% of the captured total.
	assert.Equal(t, booking.TotalAmount/2, env.proc.refunded[booking.PaymentIntentID])
}

func TestCancelBookingUncapturedVoidsAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	booking := env.createBooking(t, testRenterID,
		models.NewDate(2026, 9, 10), models.NewDate(2026, 9, 12))
	_, err := env.svc.ApproveBooking(ctx, testOwnerID, booking.ID, "")
	require.NoError(t, err)

	_, err = env.svc.CancelBooking(ctx, testRenterID, booking.ID)
	require.NoError(t, err)

	assert.Contains(t, env.proc.cancelled, booking.PaymentIntentID)
	assert.Zero(t, env.proc.refunded[booking.PaymentIntentID])
}

func TestCancelByThirdParty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	booking := env.createBooking(t, testRenterID,
		models.NewDate(2026, 9, 10), models.NewDate(2026, 9, 12))
	_, err := env.svc.ApproveBooking(ctx, testOwnerID, booking.ID, "")
	require.NoError(t, err)

	_, err = env.svc.CancelBooking(ctx, 999, booking.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestCancelPendingBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	booking := env.createBooking(t, testRenterID,
		models.NewDate(2026, 9, 10), models.NewDate(2026, 9, 12))

	// PENDING cannot go straight to CANCELLED; the renter withdraws by
	// waiting for a decision or the owner rejects.
	_, err := env.svc.CancelBooking(ctx, testRenterID, booking.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestActivateIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	booking := env.createBooking(t, testRenterID,
		models.NewDate(2026, 9, 10), models.NewDate(2026, 9, 12))
	_, err := env.svc.ApproveBooking(ctx, testOwnerID, booking.ID, "")
	require.NoError(t, err)

	active, err := env.svc.ActivateBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, active.Status)

	// Replaying the activation is a no-op, not an error.
	again, err := env.svc.ActivateBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, again.Status)

	activations := 0
	for _, event := range env.pub.transitions {
		if event.EventType == models.EventTypeBookingActivated {
			activations++
		}
	}
	assert.Equal(t, 1, activations)
}

func TestLifecycleSweeps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	booking := env.createBooking(t, testRenterID,
		models.NewDate(2026, 9, 10), models.NewDate(2026, 9, 12))
	_, err := env.svc.ApproveBooking(ctx, testOwnerID, booking.ID, "")
	require.NoError(t, err)

	// Not due yet.
	activated, err := env.svc.ActivateDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, activated)

	// The start date arrives.
	env.svc.today = func() models.Date { return models.NewDate(2026, 9, 10) }
	activated, err = env.svc.ActivateDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, activated)

	current, err := env.svc.GetBooking(ctx, testRenterID, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, current.Status)

	// The rental period elapses.
	env.svc.today = func() models.Date { return models.NewDate(2026, 9, 13) }
	completed, err := env.svc.CompleteElapsed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)

	current, err = env.svc.GetBooking(ctx, testRenterID, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, current.Status)
}

func TestListBookingsInvalidRole(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.ListBookings(context.Background(), testRenterID, "admin")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestGetBookingThirdParty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	booking := env.createBooking(t, testRenterID,
		models.NewDate(2026, 9, 10), models.NewDate(2026, 9, 12))

	_, err := env.svc.GetBooking(ctx, 999, booking.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestQuotePrice(t *testing.T) {
	env := newTestEnv(t)

	breakdown, err := env.svc.QuotePrice(context.Background(), 1,
		models.NewDate(2026, 9, 10), models.NewDate(2026, 9, 12))
	require.NoError(t, err)

	assert.Equal(t, int64(15000), breakdown.BasePrice)
	assert.Equal(t, int64(1500), breakdown.ServiceFee)
	assert.Equal(t, int64(200), breakdown.HostingFee)
	assert.Equal(t, int64(16700), breakdown.Total)
	assert.Equal(t, breakdown.Total, breakdown.OwnerPayout+breakdown.PlatformRevenue)
	assert.Equal(t, "daily", breakdown.Tier.Name)
}
