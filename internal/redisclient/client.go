package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"booking-service/internal/models"

	"github.com/go-redis/redis/v8"
)

// Client caches read views of booking data. The cache is never the source
// of truth: every availability or transition decision re-reads the
// transactional store, so a stale entry is a performance bug only.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewClient creates a new Redis client.
func NewClient(addr, password string, db int, ttl time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb, ttl: ttl}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func availabilityKey(itemID int64) string {
	return fmt.Sprintf("availability:%d", itemID)
}

func bookingsKey(userID int64, role string) string {
	return fmt.Sprintf("bookings:%d:%s", userID, role)
}

// GetUserBookings returns the cached booking list for a user/role view, or
// (nil, false) on a miss. Cache errors degrade to a miss.
func (c *Client) GetUserBookings(ctx context.Context, userID int64, role string) ([]models.Booking, bool) {
	raw, err := c.rdb.Get(ctx, bookingsKey(userID, role)).Bytes()
	if err != nil {
		return nil, false
	}
	var bookings []models.Booking
	if err := json.Unmarshal(raw, &bookings); err != nil {
		return nil, false
	}
	return bookings, true
}

// SetUserBookings caches a booking list view with the configured TTL.
func (c *Client) SetUserBookings(ctx context.Context, userID int64, role string, bookings []models.Booking) error {
	raw, err := json.Marshal(bookings)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, bookingsKey(userID, role), raw, c.ttl).Err()
}

// GetAvailability returns a cached availability verdict for an item/range
// pair, or (false, false) on a miss.
func (c *Client) GetAvailability(ctx context.Context, itemID int64, start, end models.Date) (available, hit bool) {
	field := start.String() + ":" + end.String()
	raw, err := c.rdb.HGet(ctx, availabilityKey(itemID), field).Result()
	if err != nil {
		return false, false
	}
	return raw == "1", true
}

// SetAvailability caches an availability verdict.
func (c *Client) SetAvailability(ctx context.Context, itemID int64, start, end models.Date, available bool) error {
	field := start.String() + ":" + end.String()
	val := "0"
	if available {
		val = "1"
	}
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, availabilityKey(itemID), field, val)
	pipe.Expire(ctx, availabilityKey(itemID), c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// InvalidateItem drops the cached availability view for an item.
func (c *Client) InvalidateItem(ctx context.Context, itemID int64) error {
	return c.rdb.Del(ctx, availabilityKey(itemID)).Err()
}

// InvalidateUserBookings drops every cached booking view for a user.
func (c *Client) InvalidateUserBookings(ctx context.Context, userID int64) error {
	keys := []string{
		bookingsKey(userID, "renter"),
		bookingsKey(userID, "owner"),
		bookingsKey(userID, "either"),
	}
	return c.rdb.Del(ctx, keys...).Err()
}
