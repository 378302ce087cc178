package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const occupyingStatuses = "('PENDING', 'APPROVED', 'ACTIVE')"

// CreateBookingWithPayment inserts a PENDING booking and opens its payment
// authorization as one all-or-nothing unit. The open callback returns the
// intent id, client secret and initial processor status. The insert runs
// inside a serializable transaction; the range-exclusion constraint
// rejects a concurrent overlapping writer even if both passed the
// pre-check. If the payment call fails the transaction rolls back and the
// booking never becomes visible. On a failure after open succeeds (the
// commit losing a serialization race, for instance) the intent id is
// already recorded on the booking struct so the caller can void the
// now-orphaned authorization.
func (s *Store) CreateBookingWithPayment(ctx context.Context, booking *models.Booking, open func(ctx context.Context) (string, string, string, error)) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	conflicts, err := findOverlappingTx(ctx, tx, booking.ItemID, booking.StartDate, booking.EndDate, 0)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return fmt.Errorf("%w: booking %d", models.ErrConflict, conflicts[0])
	}

	query := `
		INSERT INTO bookings (item_id, renter_id, owner_id, start_date, end_date, status, message, total_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, payment_updated_at, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		booking.ItemID, booking.RenterID, booking.OwnerID,
		booking.StartDate, booking.EndDate, booking.Status,
		booking.Message, booking.TotalAmount,
	).Scan(&booking.ID, &booking.PaymentUpdatedAt, &booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		return translateError(err)
	}

	intentID, clientSecret, status, err := open(ctx)
	if err != nil {
		if errors.Is(err, models.ErrPaymentAuthorizationFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrPaymentAuthorizationFailed, err)
	}
	booking.PaymentIntentID = intentID
	booking.PaymentClientSecret = clientSecret
	booking.PaymentStatus = status

	// payment_updated_at stays at its -infinity default here: the
	// staleness guard compares processor-delivered timestamps only, so
	// the first webhook is never discarded for predating the local clock.
	_, err = tx.ExecContext(ctx,
		`UPDATE bookings SET payment_intent_id = $1, payment_client_secret = $2, payment_status = $3 WHERE id = $4`,
		intentID, clientSecret, status, booking.ID)
	if err != nil {
		return err
	}

	return translateError(tx.Commit())
}

// GetBookingByID retrieves a booking by ID
func (s *Store) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.GetContext(ctx, &booking, "SELECT * FROM bookings WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("booking %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// GetBookingByIntentID retrieves the booking holding a payment intent.
func (s *Store) GetBookingByIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.GetContext(ctx, &booking,
		"SELECT * FROM bookings WHERE payment_intent_id = $1", intentID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("intent %s: %w", intentID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// ListBookingsByUser retrieves bookings where the user is the renter, the
// owner, or either.
func (s *Store) ListBookingsByUser(ctx context.Context, userID int64, role string) ([]models.Booking, error) {
	var where string
	switch role {
	case "renter":
		where = "renter_id = $1"
	case "owner":
		where = "owner_id = $1"
	default:
		where = "(renter_id = $1 OR owner_id = $1)"
	}

	var bookings []models.Booking
	err := s.db.SelectContext(ctx, &bookings,
		"SELECT * FROM bookings WHERE "+where+" ORDER BY created_at DESC", userID)
	return bookings, err
}

// FindOverlapping returns the ids of occupying bookings for the item whose
// inclusive ranges overlap [start, end], skipping excludeID when non-zero.
func (s *Store) FindOverlapping(ctx context.Context, itemID int64, start, end models.Date, excludeID int64) ([]int64, error) {
	return findOverlappingTx(ctx, s.db, itemID, start, end, excludeID)
}

type queryer interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

var _ queryer = (*sqlx.DB)(nil)
var _ queryer = (*sqlx.Tx)(nil)

func findOverlappingTx(ctx context.Context, q queryer, itemID int64, start, end models.Date, excludeID int64) ([]int64, error) {
	query := `
		SELECT id FROM bookings
		WHERE item_id = $1
		  AND status IN ` + occupyingStatuses + `
		  AND start_date <= $3
		  AND end_date >= $2
		  AND id <> $4
		ORDER BY id`

	var ids []int64
	if err := q.SelectContext(ctx, &ids, query, itemID, start, end, excludeID); err != nil {
		return nil, err
	}
	return ids, nil
}

// TransitionStatus performs a compare-and-swap status update: the write
// only lands if the row is still in the expected status, serializing
// transitions per booking. Approval stamps approved_at; a non-empty
// message replaces the stored one.
func (s *Store) TransitionStatus(ctx context.Context, id int64, from, to models.BookingStatus, message string) (*models.Booking, error) {
	query := `
		UPDATE bookings
		SET status = $3,
		    approved_at = CASE WHEN $3 = 'APPROVED' THEN NOW() ELSE approved_at END,
		    message = CASE WHEN $4 <> '' THEN $4 ELSE message END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING *`

	var booking models.Booking
	err := s.db.GetContext(ctx, &booking, query, id, from, to, message)
	if err == nil {
		return &booking, nil
	}
	if err != sql.ErrNoRows {
		return nil, translateError(err)
	}

	// CAS missed: distinguish a vanished booking from a concurrent or
	// illegal transition.
	current, getErr := s.GetBookingByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return current, fmt.Errorf("%w: booking %d is %s, not %s", models.ErrInvalidState, id, current.Status, from)
}

// UpdatePaymentStatus records a processor notification. The write is
// guarded by the notification timestamp so an out-of-order replay cannot
// roll the payment state backwards; a stale notification reports
// ErrReconciliationStale. Only processor timestamps are compared, never
// the local clock, so clock skew cannot reject a legitimate first
// notification.
func (s *Store) UpdatePaymentStatus(ctx context.Context, bookingID int64, status string, notifiedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET payment_status = $2, payment_updated_at = $3, updated_at = NOW()
		 WHERE id = $1 AND payment_updated_at < $3`,
		bookingID, status, notifiedAt.UTC())
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("booking %d: %w", bookingID, models.ErrReconciliationStale)
	}
	return nil
}

// ListDueForActivation returns APPROVED bookings whose rental period has
// started as of the given date.
func (s *Store) ListDueForActivation(ctx context.Context, today models.Date) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.SelectContext(ctx, &bookings,
		"SELECT * FROM bookings WHERE status = 'APPROVED' AND start_date <= $1 ORDER BY id", today)
	return bookings, err
}

// ListDueForCompletion returns ACTIVE bookings whose rental period has
// elapsed as of the given date.
func (s *Store) ListDueForCompletion(ctx context.Context, today models.Date) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.SelectContext(ctx, &bookings,
		"SELECT * FROM bookings WHERE status = 'ACTIVE' AND end_date < $1 ORDER BY id", today)
	return bookings, err
}
