package marketdata

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	freshTTL = 5 * time.Minute
	staleTTL = 10 * time.Minute
)

// SpotSource fetches the current rate; satisfied by *Client.
type SpotSource interface {
	FetchSpot(ctx context.Context) (float64, error)
}

// SpotCache is the process-wide single-entry spot price cache. A value younger
// than 5 minutes is served without I/O; on upstream failure a value up to 10
// minutes old is served with a warning.
type SpotCache struct {
	source SpotSource

	mu        sync.Mutex
	price     float64
	fetchedAt time.Time

	now func() time.Time // test hook
}

// NewSpotCache wraps a spot source with caching.
func NewSpotCache(source SpotSource) *SpotCache {
	return &SpotCache{source: source, now: time.Now}
}

// Spot returns the cached or freshly fetched XAU->USD rate.
func (c *SpotCache) Spot(ctx context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	age := now.Sub(c.fetchedAt)
	if !c.fetchedAt.IsZero() && age < freshTTL {
		return c.price, nil
	}

	price, err := c.source.FetchSpot(ctx)
	if err != nil {
		if !c.fetchedAt.IsZero() && age < staleTTL {
			log.Printf("marketdata: spot fetch failed, serving %s-old cache: %v", age.Round(time.Second), err)
			return c.price, nil
		}
		return 0, fmt.Errorf("fetch spot: %w", err)
	}

	c.price = price
	c.fetchedAt = now
	return price, nil
}
