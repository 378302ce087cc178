package pricing

import (
	"errors"

	"booking-service/internal/models"
)

var (
	ErrInvalidDays  = errors.New("pricing: rental length must be at least one day")
	ErrMissingDaily = errors.New("pricing: item has no daily rate")
)

// RateTable is the per-item rate tiers in minor currency units.
// Weekly and monthly tiers are optional.
type RateTable struct {
	Daily   int64
	Weekly  *int64
	Monthly *int64
}

// TableFromItem extracts the rate table from a catalog item.
func TableFromItem(item *models.CatalogItem) RateTable {
	return RateTable{
		Daily:   item.DailyRate,
		Weekly:  item.WeeklyRate,
		Monthly: item.MonthlyRate,
	}
}

// ResolveBase picks the cheapest applicable rate combination for an
// inclusive rental of the given number of days. The result is never more
// than the pure daily price. Pure function, no I/O.
func ResolveBase(table RateTable, days int) (int64, models.RateTier, error) {
	if days < 1 {
		return 0, models.RateTier{}, ErrInvalidDays
	}
	if table.Daily <= 0 {
		return 0, models.RateTier{}, ErrMissingDaily
	}

	best := table.Daily * int64(days)
	tier := models.RateTier{Name: "daily", Days: days}

	if table.Weekly != nil && days >= 7 {
		weeks := days / 7
		rem := days % 7
		price := *table.Weekly*int64(weeks) + table.Daily*int64(rem)
		if price < best {
			best = price
			tier = models.RateTier{Name: "weekly", Weeks: weeks, Days: rem}
		}
	}

	if table.Monthly != nil && days >= 28 {
		months := days / 30
		rem := days % 30
		remPrice, remTier := remainderPrice(table, rem)
		price := *table.Monthly*int64(months) + remPrice
		if price < best {
			best = price
			tier = models.RateTier{
				Name:   "monthly",
				Months: months,
				Weeks:  remTier.Weeks,
				Days:   remTier.Days,
			}
		}
	}

	return best, tier, nil
}

// remainderPrice prices the leftover days of a monthly tier at the daily
// rate, or at the weekly rate when the remainder spans a week or more and
// that comes out cheaper.
func remainderPrice(table RateTable, days int) (int64, models.RateTier) {
	price := table.Daily * int64(days)
	tier := models.RateTier{Days: days}
	if table.Weekly != nil && days >= 7 {
		weeks := days / 7
		rem := days % 7
		weekly := *table.Weekly*int64(weeks) + table.Daily*int64(rem)
		if weekly < price {
			return weekly, models.RateTier{Weeks: weeks, Days: rem}
		}
	}
	return price, tier
}
