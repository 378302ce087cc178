package service

import (
	"context"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// AvailabilityChecker answers "is this item free over this range". The
// cached verdict serves read traffic only; booking creation re-validates
// inside the serializable transaction, where the datastore exclusion
// constraint is the real guard against the check-then-act race.
type AvailabilityChecker struct {
	store  Store
	cache  Cache
	logger *zap.Logger
}

// NewAvailabilityChecker creates an availability checker.
func NewAvailabilityChecker(store Store, cache Cache) *AvailabilityChecker {
	return &AvailabilityChecker{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// Check reports whether the candidate inclusive range is free of
// occupying bookings, returning the conflicting booking ids otherwise.
// excludeID skips one booking, used when re-validating an existing one.
func (a *AvailabilityChecker) Check(ctx context.Context, itemID int64, start, end models.Date, excludeID int64) (bool, []int64, error) {
	if end.Before(start) {
		return false, nil, models.ErrInvalidRange
	}

	conflicts, err := a.store.FindOverlapping(ctx, itemID, start, end, excludeID)
	if err != nil {
		return false, nil, err
	}
	return len(conflicts) == 0, conflicts, nil
}

// CheckCached is the read-path variant: it consults the cached verdict
// first and falls back to the store on a miss. Only safe for display;
// never used to authorize a write.
func (a *AvailabilityChecker) CheckCached(ctx context.Context, itemID int64, start, end models.Date) (bool, error) {
	if end.Before(start) {
		return false, models.ErrInvalidRange
	}

	if available, hit := a.cache.GetAvailability(ctx, itemID, start, end); hit {
		util.CacheHitsTotal.WithLabelValues("availability").Inc()
		return available, nil
	}

	available, _, err := a.Check(ctx, itemID, start, end, 0)
	if err != nil {
		return false, err
	}

	if err := a.cache.SetAvailability(ctx, itemID, start, end, available); err != nil {
		a.logger.Warn("Failed to cache availability", zap.Int64("item_id", itemID), zap.Error(err))
	}
	return available, nil
}
