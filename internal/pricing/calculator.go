package pricing

import (
	"math"

	"booking-service/internal/models"
)

// FeePolicy is the platform fee configuration. Percentages are whole
// percent values (10 means 10%).
type FeePolicy struct {
	ServiceFeePercent    float64
	HostingFeeFlat       int64
	HostingFeePercent    float64
	CommissionPercent    float64
	InsurancePassThrough bool
	Currency             string
}

// Calculator combines a resolved base price with insurance and platform
// fees into a full price breakdown.
type Calculator struct {
	policy FeePolicy
}

// NewCalculator creates a calculator with the given fee policy.
func NewCalculator(policy FeePolicy) *Calculator {
	return &Calculator{policy: policy}
}

// Quote resolves the base price for the item over an inclusive rental of
// the given length and decomposes it into the full breakdown.
func (c *Calculator) Quote(item *models.CatalogItem, days int) (models.PriceBreakdown, error) {
	base, tier, err := ResolveBase(TableFromItem(item), days)
	if err != nil {
		return models.PriceBreakdown{}, err
	}
	return c.Breakdown(base, tier, item), nil
}

// Breakdown decomposes a base price into the renter-facing total and the
// owner/platform split. Each leaf amount is rounded exactly once; the
// platform revenue is derived as total minus payout so
// payout + platformRevenue == total holds for every input.
func (c *Calculator) Breakdown(base int64, tier models.RateTier, item *models.CatalogItem) models.PriceBreakdown {
	var insurance int64
	if item.InsuranceRequired {
		insurance = percentOf(base, item.InsuranceRate*100)
	}

	serviceFee := percentOf(base, c.policy.ServiceFeePercent)
	hostingFee := c.policy.HostingFeeFlat + percentOf(base, c.policy.HostingFeePercent)
	total := base + insurance + serviceFee + hostingFee

	commission := percentOf(base, c.policy.CommissionPercent)
	payout := base - commission
	if c.policy.InsurancePassThrough {
		payout += insurance
	}
	if payout < 0 {
		payout = 0
	}

	return models.PriceBreakdown{
		BasePrice:       base,
		Insurance:       insurance,
		ServiceFee:      serviceFee,
		HostingFee:      hostingFee,
		Total:           total,
		OwnerPayout:     payout,
		PlatformRevenue: total - payout,
		Currency:        c.policy.Currency,
		Tier:            tier,
	}
}

// RefundAmount computes the refund for a cancellation happening
// daysBeforeStart days before the rental begins. Cancellations at or
// beyond the free window refund in full; later ones refund the
// configured percentage of the total.
func RefundAmount(total int64, daysBeforeStart, freeWindowDays int, lateRefundPercent float64) int64 {
	if daysBeforeStart >= freeWindowDays {
		return total
	}
	return percentOf(total, lateRefundPercent)
}

// percentOf computes percent of amount in integer basis points, rounding
// half up. float64 only quantizes the configured percentage, never the
// amount, so the arithmetic is exact while amount*bp fits in int64.
func percentOf(amount int64, percent float64) int64 {
	if percent <= 0 {
		return 0
	}
	bp := roundHalfUp(percent * 100)
	return (amount*bp + 5000) / 10000
}

func roundHalfUp(f float64) int64 {
	return int64(math.Floor(f + 0.5))
}
