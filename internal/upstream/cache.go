package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/multicloud-portal/portal/internal/models"
)

// DefaultLookupTTL is how long subscription and location lists are reused.
const DefaultLookupTTL = 5 * time.Minute

type cached[T any] struct {
	value     T
	fetchedAt time.Time
	ok        bool
}

// LookupCache holds slow-changing lookup lists fetched from the API.
// A stale value is served when a refresh fails.
type LookupCache struct {
	mu            sync.RWMutex
	ttl           time.Duration
	now           func() time.Time
	subscriptions cached[[]models.Subscription]
	locations     map[models.Cloud]cached[[]models.Location]
}

// NewLookupCache creates a cache with the given TTL.
func NewLookupCache(ttl time.Duration) *LookupCache {
	if ttl <= 0 {
		ttl = DefaultLookupTTL
	}
	return &LookupCache{
		ttl:       ttl,
		now:       time.Now,
		locations: make(map[models.Cloud]cached[[]models.Location]),
	}
}

func (lc *LookupCache) fresh(fetchedAt time.Time) bool {
	return lc.now().Sub(fetchedAt) < lc.ttl
}

// Subscriptions returns the cached subscription list, fetching it if expired.
func (lc *LookupCache) Subscriptions(ctx context.Context, client *Client) ([]models.Subscription, error) {
	lc.mu.RLock()
	entry := lc.subscriptions
	lc.mu.RUnlock()
	if entry.ok && lc.fresh(entry.fetchedAt) {
		return entry.value, nil
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.subscriptions.ok && lc.fresh(lc.subscriptions.fetchedAt) {
		return lc.subscriptions.value, nil
	}

	subs, err := client.ListSubscriptions(ctx)
	if err != nil {
		if lc.subscriptions.ok {
			return lc.subscriptions.value, nil
		}
		return nil, err
	}
	lc.subscriptions = cached[[]models.Subscription]{value: subs, fetchedAt: lc.now(), ok: true}
	return subs, nil
}

// Locations returns the cached location list for a cloud, fetching it if expired.
func (lc *LookupCache) Locations(ctx context.Context, client *Client, cloud models.Cloud) ([]models.Location, error) {
	lc.mu.RLock()
	entry := lc.locations[cloud]
	lc.mu.RUnlock()
	if entry.ok && lc.fresh(entry.fetchedAt) {
		return entry.value, nil
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()

	entry = lc.locations[cloud]
	if entry.ok && lc.fresh(entry.fetchedAt) {
		return entry.value, nil
	}

	locs, err := client.ListLocations(ctx, cloud)
	if err != nil {
		if entry.ok {
			return entry.value, nil
		}
		return nil, err
	}
	lc.locations[cloud] = cached[[]models.Location]{value: locs, fetchedAt: lc.now(), ok: true}
	return locs, nil
}

// Invalidate clears every cached list.
func (lc *LookupCache) Invalidate() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.subscriptions = cached[[]models.Subscription]{}
	lc.locations = make(map[models.Cloud]cached[[]models.Location])
}
