package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/pricing"
	"booking-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BookingPolicy is the configurable business policy for bookings.
type BookingPolicy struct {
	MinLeadTimeDays         int
	CancelFreeDays          int
	CancelLateRefundPercent float64
}

// BookingService owns the booking lifecycle: creation under the
// availability guarantee, owner approval/rejection, activation,
// completion and cancellation.
type BookingService struct {
	store        Store
	cache        Cache
	publisher    Publisher
	payments     *PaymentOrchestrator
	availability *AvailabilityChecker
	calc         *pricing.Calculator
	policy       BookingPolicy
	logger       *zap.Logger

	// today is swappable in tests.
	today func() models.Date
}

// NewBookingService creates a booking service.
func NewBookingService(
	store Store,
	cache Cache,
	publisher Publisher,
	payments *PaymentOrchestrator,
	availability *AvailabilityChecker,
	calc *pricing.Calculator,
	policy BookingPolicy,
) *BookingService {
	return &BookingService{
		store:        store,
		cache:        cache,
		publisher:    publisher,
		payments:     payments,
		availability: availability,
		calc:         calc,
		policy:       policy,
		logger:       util.GetLogger(),
		today:        models.Today,
	}
}

// CreateBookingRequest represents a renter's booking request.
type CreateBookingRequest struct {
	// RenterID is filled from the authenticated caller, not the body.
	RenterID  int64       `json:"-"`
	ItemID    int64       `json:"item_id" binding:"required"`
	StartDate models.Date `json:"start_date" binding:"required"`
	EndDate   models.Date `json:"end_date" binding:"required"`
	Message   string      `json:"message"`
}

// QuotePrice resolves the full price breakdown for an item over a range
// without touching the calendar.
func (s *BookingService) QuotePrice(ctx context.Context, itemID int64, start, end models.Date) (*models.PriceBreakdown, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.QuotePrice")
	defer span.End()

	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", models.ErrInvalidRange, end, start)
	}

	item, err := s.store.GetItemByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	days := start.DaysUntil(end) + 1
	breakdown, err := s.calc.Quote(item, days)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	return &breakdown, nil
}

// CreateBooking validates the request, quotes the price, and persists a
// PENDING booking together with its payment authorization as one
// all-or-nothing unit. Overlap with any occupying booking fails with
// ErrConflict, including the concurrent-writer case caught by the
// datastore constraint.
func (s *BookingService) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.CreateBooking")
	defer span.End()

	if req.EndDate.Before(req.StartDate) {
		util.BookingsFailedTotal.WithLabelValues("invalid_range").Inc()
		return nil, fmt.Errorf("%w: end %s before start %s", models.ErrInvalidRange, req.EndDate, req.StartDate)
	}

	earliest := s.today().AddDays(s.policy.MinLeadTimeDays)
	if req.StartDate.Before(earliest) {
		util.BookingsFailedTotal.WithLabelValues("invalid_range").Inc()
		return nil, fmt.Errorf("%w: start %s is before the earliest bookable date %s", models.ErrInvalidRange, req.StartDate, earliest)
	}

	item, err := s.store.GetItemByID(ctx, req.ItemID)
	if err != nil {
		util.BookingsFailedTotal.WithLabelValues("item_not_found").Inc()
		return nil, err
	}
	if item.OwnerID == req.RenterID {
		util.BookingsFailedTotal.WithLabelValues("own_item").Inc()
		return nil, fmt.Errorf("%w: cannot book your own item", models.ErrValidation)
	}

	days := req.StartDate.DaysUntil(req.EndDate) + 1
	breakdown, err := s.calc.Quote(item, days)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	booking := &models.Booking{
		ItemID:      req.ItemID,
		RenterID:    req.RenterID,
		OwnerID:     item.OwnerID,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Status:      models.StatusPending,
		Message:     req.Message,
		TotalAmount: breakdown.Total,
	}

	err = s.store.CreateBookingWithPayment(ctx, booking, func(ctx context.Context) (string, string, string, error) {
		auth, err := s.payments.Open(ctx, breakdown.Total, breakdown.Currency, map[string]string{
			"booking_id": strconv.FormatInt(booking.ID, 10),
			"item_id":    strconv.FormatInt(req.ItemID, 10),
		})
		if err != nil {
			return "", "", "", err
		}
		return auth.IntentID, auth.ClientSecret, auth.Status, nil
	})
	if err != nil {
		// A failure after the authorization opened (the commit losing a
		// serialization race, for instance) rolls the booking back but
		// leaves the authorization live at the processor. Void it so no
		// authorization exists without a booking.
		if booking.PaymentIntentID != "" {
			s.payments.CancelBestEffort(ctx, booking)
		}
		switch {
		case errors.Is(err, models.ErrConflict):
			util.BookingsFailedTotal.WithLabelValues("conflict").Inc()
		case errors.Is(err, models.ErrPaymentAuthorizationFailed):
			util.BookingsFailedTotal.WithLabelValues("payment").Inc()
		default:
			util.BookingsFailedTotal.WithLabelValues("db_error").Inc()
		}
		return nil, err
	}

	util.BookingsCreatedTotal.Inc()
	s.logger.Info("Booking created",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("item_id", booking.ItemID),
		zap.Int64("renter_id", booking.RenterID),
		zap.Int64("total", booking.TotalAmount))

	event := &models.BookingCreatedEvent{
		BaseEvent:   s.baseEvent(models.EventTypeBookingCreated),
		BookingID:   booking.ID,
		ItemID:      booking.ItemID,
		RenterID:    booking.RenterID,
		OwnerID:     booking.OwnerID,
		StartDate:   booking.StartDate,
		EndDate:     booking.EndDate,
		TotalAmount: booking.TotalAmount,
		IntentID:    booking.PaymentIntentID,
	}
	if err := s.publisher.PublishBookingCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish BookingCreated event", zap.Error(err))
	}

	s.invalidateViews(ctx, booking)
	return booking, nil
}

// DecisionFunc is the shape of the owner decision operations
// (ApproveBooking, RejectBooking).
type DecisionFunc func(ctx context.Context, ownerID, bookingID int64, message string) (*models.Booking, error)

// ApproveBooking moves a PENDING booking to APPROVED. Only the item owner
// may approve. Availability is re-checked as a safety net; the exclusion
// constraint should have made an overlap impossible at creation.
func (s *BookingService) ApproveBooking(ctx context.Context, ownerID, bookingID int64, message string) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.ApproveBooking")
	defer span.End()

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: only the item owner may approve", models.ErrForbidden)
	}
	if booking.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: booking %d is %s", models.ErrInvalidState, bookingID, booking.Status)
	}

	available, conflicts, err := s.availability.Check(ctx, booking.ItemID, booking.StartDate, booking.EndDate, booking.ID)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, fmt.Errorf("%w: bookings %v", models.ErrConflict, conflicts)
	}

	updated, err := s.store.TransitionStatus(ctx, bookingID, models.StatusPending, models.StatusApproved, message)
	if err != nil {
		return nil, err
	}

	util.BookingTransitionsTotal.WithLabelValues("approve").Inc()
	s.logger.Info("Booking approved", zap.Int64("booking_id", bookingID), zap.Int64("owner_id", ownerID))

	s.publishTransition(ctx, updated, models.EventTypeBookingApproved)
	s.invalidateViews(ctx, updated)
	return updated, nil
}

// RejectBooking moves a PENDING booking to REJECTED, releasing the
// calendar range and voiding the payment authorization best-effort.
func (s *BookingService) RejectBooking(ctx context.Context, ownerID, bookingID int64, message string) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.RejectBooking")
	defer span.End()

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: only the item owner may reject", models.ErrForbidden)
	}
	if booking.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: booking %d is %s", models.ErrInvalidState, bookingID, booking.Status)
	}

	updated, err := s.store.TransitionStatus(ctx, bookingID, models.StatusPending, models.StatusRejected, message)
	if err != nil {
		return nil, err
	}

	util.BookingTransitionsTotal.WithLabelValues("reject").Inc()
	s.logger.Info("Booking rejected", zap.Int64("booking_id", bookingID), zap.Int64("owner_id", ownerID))

	s.payments.CancelBestEffort(ctx, updated)
	s.publishTransition(ctx, updated, models.EventTypeBookingRejected)
	s.invalidateViews(ctx, updated)
	return updated, nil
}

// CancelBooking cancels an APPROVED or ACTIVE booking on behalf of either
// party and triggers a policy-based refund best-effort.
func (s *BookingService) CancelBooking(ctx context.Context, callerID, bookingID int64) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.CancelBooking")
	defer span.End()

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if callerID != booking.RenterID && callerID != booking.OwnerID {
		return nil, fmt.Errorf("%w: only the renter or the owner may cancel", models.ErrForbidden)
	}
	if !booking.Status.CanTransitionTo(models.StatusCancelled) {
		return nil, fmt.Errorf("%w: booking %d is %s", models.ErrInvalidState, bookingID, booking.Status)
	}

	updated, err := s.store.TransitionStatus(ctx, bookingID, booking.Status, models.StatusCancelled, "")
	if err != nil {
		return nil, err
	}

	daysBefore := s.today().DaysUntil(updated.StartDate)
	refund := pricing.RefundAmount(updated.TotalAmount, daysBefore,
		s.policy.CancelFreeDays, s.policy.CancelLateRefundPercent)

	util.BookingTransitionsTotal.WithLabelValues("cancel").Inc()
	s.logger.Info("Booking cancelled",
		zap.Int64("booking_id", bookingID),
		zap.Int64("cancelled_by", callerID),
		zap.Int64("refund", refund))

	// An authorization that was never captured is voided; a captured
	// charge is refunded per the cancellation policy.
	if updated.PaymentStatus == models.PaymentStatusCaptured {
		s.payments.RefundBestEffort(ctx, updated, refund)
	} else {
		s.payments.CancelBestEffort(ctx, updated)
	}

	event := &models.BookingCancelledEvent{
		BaseEvent:    s.baseEvent(models.EventTypeBookingCancelled),
		BookingID:    updated.ID,
		ItemID:       updated.ItemID,
		RenterID:     updated.RenterID,
		OwnerID:      updated.OwnerID,
		CancelledBy:  callerID,
		RefundAmount: refund,
		IntentID:     updated.PaymentIntentID,
	}
	if err := s.publisher.PublishBookingCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish BookingCancelled event", zap.Error(err))
	}

	s.invalidateViews(ctx, updated)
	return updated, nil
}

// ActivateBooking marks an APPROVED booking ACTIVE once its rental period
// starts. System-triggered by the sweep or by a hand-off confirmation;
// activating an already-ACTIVE booking is a no-op.
func (s *BookingService) ActivateBooking(ctx context.Context, bookingID int64) (*models.Booking, error) {
	return s.systemTransition(ctx, bookingID,
		models.StatusApproved, models.StatusActive,
		models.EventTypeBookingActivated, "activate")
}

// CompleteBooking marks an ACTIVE booking COMPLETED once its rental
// period has elapsed or the return is confirmed. Idempotent like
// ActivateBooking; downstream payout accounting hangs off the event.
func (s *BookingService) CompleteBooking(ctx context.Context, bookingID int64) (*models.Booking, error) {
	return s.systemTransition(ctx, bookingID,
		models.StatusActive, models.StatusCompleted,
		models.EventTypeBookingCompleted, "complete")
}

func (s *BookingService) systemTransition(ctx context.Context, bookingID int64, from, to models.BookingStatus, eventType, metricLabel string) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.systemTransition")
	defer span.End()

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status == to {
		return booking, nil
	}
	if booking.Status != from {
		return nil, fmt.Errorf("%w: booking %d is %s", models.ErrInvalidState, bookingID, booking.Status)
	}

	updated, err := s.store.TransitionStatus(ctx, bookingID, from, to, "")
	if err != nil {
		// A concurrent caller may have landed the same transition first.
		if errors.Is(err, models.ErrInvalidState) && updated != nil && updated.Status == to {
			return updated, nil
		}
		return nil, err
	}

	util.BookingTransitionsTotal.WithLabelValues(metricLabel).Inc()
	s.logger.Info("Booking transitioned",
		zap.Int64("booking_id", bookingID),
		zap.String("status", updated.Status.String()))

	s.publishTransition(ctx, updated, eventType)
	s.invalidateViews(ctx, updated)
	return updated, nil
}

// ActivateDue activates every APPROVED booking whose start date has
// arrived. Called by the periodic sweep; each booking is handled
// independently so one failure does not block the batch.
func (s *BookingService) ActivateDue(ctx context.Context) (int, error) {
	due, err := s.store.ListDueForActivation(ctx, s.today())
	if err != nil {
		return 0, err
	}

	activated := 0
	for _, booking := range due {
		if _, err := s.ActivateBooking(ctx, booking.ID); err != nil {
			s.logger.Error("Sweep failed to activate booking",
				zap.Int64("booking_id", booking.ID), zap.Error(err))
			continue
		}
		activated++
	}
	return activated, nil
}

// CompleteElapsed completes every ACTIVE booking whose end date has
// passed.
func (s *BookingService) CompleteElapsed(ctx context.Context) (int, error) {
	due, err := s.store.ListDueForCompletion(ctx, s.today())
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, booking := range due {
		if _, err := s.CompleteBooking(ctx, booking.ID); err != nil {
			s.logger.Error("Sweep failed to complete booking",
				zap.Int64("booking_id", booking.ID), zap.Error(err))
			continue
		}
		completed++
	}
	return completed, nil
}

// ListBookings returns a user's bookings as renter, owner or either,
// served from the cache when possible.
func (s *BookingService) ListBookings(ctx context.Context, userID int64, role string) ([]models.Booking, error) {
	switch role {
	case "renter", "owner", "either":
	default:
		return nil, fmt.Errorf("%w: role must be renter, owner or either", models.ErrValidation)
	}

	if bookings, hit := s.cache.GetUserBookings(ctx, userID, role); hit {
		util.CacheHitsTotal.WithLabelValues("bookings").Inc()
		return bookings, nil
	}

	bookings, err := s.store.ListBookingsByUser(ctx, userID, role)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetUserBookings(ctx, userID, role, bookings); err != nil {
		s.logger.Warn("Failed to cache booking list", zap.Int64("user_id", userID), zap.Error(err))
	}
	return bookings, nil
}

// GetBooking retrieves a booking, restricted to its two parties.
func (s *BookingService) GetBooking(ctx context.Context, callerID, bookingID int64) (*models.Booking, error) {
	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if callerID != booking.RenterID && callerID != booking.OwnerID {
		return nil, fmt.Errorf("%w: booking belongs to other parties", models.ErrForbidden)
	}
	return booking, nil
}

// invalidateViews drops every cached view a calendar mutation can stale:
// the item's availability and both parties' booking lists.
func (s *BookingService) invalidateViews(ctx context.Context, booking *models.Booking) {
	if err := s.cache.InvalidateItem(ctx, booking.ItemID); err != nil {
		s.logger.Warn("Failed to invalidate availability cache",
			zap.Int64("item_id", booking.ItemID), zap.Error(err))
	}
	for _, userID := range []int64{booking.RenterID, booking.OwnerID} {
		if err := s.cache.InvalidateUserBookings(ctx, userID); err != nil {
			s.logger.Warn("Failed to invalidate booking list cache",
				zap.Int64("user_id", userID), zap.Error(err))
		}
	}
}

func (s *BookingService) publishTransition(ctx context.Context, booking *models.Booking, eventType string) {
	event := &models.BookingTransitionedEvent{
		BaseEvent: s.baseEvent(eventType),
		BookingID: booking.ID,
		ItemID:    booking.ItemID,
		RenterID:  booking.RenterID,
		OwnerID:   booking.OwnerID,
		Status:    booking.Status,
	}
	if err := s.publisher.PublishBookingTransitioned(ctx, event); err != nil {
		s.logger.Error("Failed to publish booking event",
			zap.String("event_type", eventType), zap.Error(err))
	}
}

func (s *BookingService) baseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
