package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a civil date (no time component, UTC). It travels as
// "YYYY-MM-DD" on the wire and maps to a Postgres DATE column.
type Date struct {
	t time.Time
}

// NewDate builds a Date from year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// Today returns the current date in UTC.
func Today() Date {
	now := time.Now().UTC()
	return NewDate(now.Year(), now.Month(), now.Day())
}

func (d Date) String() string     { return d.t.Format(dateLayout) }
func (d Date) Time() time.Time    { return d.t }
func (d Date) IsZero() bool       { return d.t.IsZero() }
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// DaysUntil returns the number of days from d to o (o - d).
func (d Date) DaysUntil(o Date) int {
	return int(o.t.Sub(d.t) / (24 * time.Hour))
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Scan implements sql.Scanner for DATE columns.
func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*d = NewDate(v.Year(), v.Month(), v.Day())
		return nil
	case []byte:
		parsed, err := ParseDate(string(v))
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) {
	return d.t, nil
}

// CatalogItem is a rentable piece of equipment. It is owned by the
// listing-management service; this subsystem only reads it.
type CatalogItem struct {
	ID                int64     `db:"id" json:"id"`
	OwnerID           int64     `db:"owner_id" json:"owner_id"`
	Title             string    `db:"title" json:"title"`
	DailyRate         int64     `db:"daily_rate" json:"daily_rate"`
	WeeklyRate        *int64    `db:"weekly_rate" json:"weekly_rate,omitempty"`
	MonthlyRate       *int64    `db:"monthly_rate" json:"monthly_rate,omitempty"`
	ReplacementValue  int64     `db:"replacement_value" json:"replacement_value"`
	InsuranceRequired bool      `db:"insurance_required" json:"insurance_required"`
	InsuranceRate     float64   `db:"insurance_rate" json:"insurance_rate"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// BookingStatus represents the current state of a booking in its lifecycle.
type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusApproved  BookingStatus = "APPROVED"
	StatusRejected  BookingStatus = "REJECTED"
	StatusActive    BookingStatus = "ACTIVE"
	StatusCompleted BookingStatus = "COMPLETED"
	StatusCancelled BookingStatus = "CANCELLED"
)

// validTransitions defines the state machine for booking status transitions.
var validTransitions = map[BookingStatus][]BookingStatus{
	StatusPending:   {StatusApproved, StatusRejected},
	StatusApproved:  {StatusActive, StatusCancelled},
	StatusActive:    {StatusCompleted, StatusCancelled},
	StatusRejected:  {},
	StatusCompleted: {},
	StatusCancelled: {},
}

// OccupyingStatuses are the statuses that reserve the item's calendar.
var OccupyingStatuses = []BookingStatus{StatusPending, StatusApproved, StatusActive}

// IsValid returns true if the status is a recognized booking status.
func (s BookingStatus) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransitionTo returns true if a transition from this status to the
// target is allowed.
func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transitions are possible.
func (s BookingStatus) IsTerminal() bool {
	allowed, ok := validTransitions[s]
	if !ok {
		return true
	}
	return len(allowed) == 0
}

// Occupies returns true if a booking in this status blocks the calendar.
func (s BookingStatus) Occupies() bool {
	for _, o := range OccupyingStatuses {
		if s == o {
			return true
		}
	}
	return false
}

func (s BookingStatus) String() string { return string(s) }

// Booking is a single rental agreement between a renter and an item's
// owner over an inclusive date range. Rows are never deleted; terminal
// statuses preserve the audit trail.
type Booking struct {
	ID                  int64         `db:"id" json:"id"`
	ItemID              int64         `db:"item_id" json:"item_id"`
	RenterID            int64         `db:"renter_id" json:"renter_id"`
	OwnerID             int64         `db:"owner_id" json:"owner_id"`
	StartDate           Date          `db:"start_date" json:"start_date"`
	EndDate             Date          `db:"end_date" json:"end_date"`
	Status              BookingStatus `db:"status" json:"status"`
	Message             string        `db:"message" json:"message,omitempty"`
	TotalAmount         int64         `db:"total_amount" json:"total_amount"`
	PaymentIntentID     string        `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	PaymentClientSecret string        `db:"payment_client_secret" json:"payment_client_secret,omitempty"`
	PaymentStatus       string        `db:"payment_status" json:"payment_status,omitempty"`
	PaymentUpdatedAt    time.Time     `db:"payment_updated_at" json:"payment_updated_at"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
	ApprovedAt          *time.Time    `db:"approved_at" json:"approved_at,omitempty"`
}

// Days returns the inclusive length of the booked range.
func (b *Booking) Days() int {
	return b.StartDate.DaysUntil(b.EndDate) + 1
}

// Overlaps reports whether the booking's inclusive range shares at least
// one day with [start, end].
func (b *Booking) Overlaps(start, end Date) bool {
	return !b.StartDate.After(end) && !start.After(b.EndDate)
}

// RateTier records which rate combination produced the base price.
type RateTier struct {
	Name   string `json:"name"` // "daily", "weekly" or "monthly"
	Months int    `json:"months,omitempty"`
	Weeks  int    `json:"weeks,omitempty"`
	Days   int    `json:"days,omitempty"`
}

// PriceBreakdown is the derived price decomposition for a quote or a
// booking. All amounts are integer minor currency units.
type PriceBreakdown struct {
	BasePrice       int64    `json:"base_price"`
	Insurance       int64    `json:"insurance"`
	ServiceFee      int64    `json:"service_fee"`
	HostingFee      int64    `json:"hosting_fee"`
	Total           int64    `json:"total"`
	OwnerPayout     int64    `json:"owner_payout"`
	PlatformRevenue int64    `json:"platform_revenue"`
	Currency        string   `json:"currency"`
	Tier            RateTier `json:"tier"`
}

// ProcessedEvent for webhook/event idempotency.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// Payment statuses reported by the external processor.
const (
	PaymentStatusRequiresConfirmation = "requires_confirmation"
	PaymentStatusAuthorized           = "authorized"
	PaymentStatusCaptured             = "captured"
	PaymentStatusFailed               = "failed"
	PaymentStatusCancelled            = "cancelled"
	PaymentStatusRefunded             = "refunded"
)
