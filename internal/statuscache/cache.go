// Package statuscache keeps a low-latency, TTL-bounded mirror of each slot's
// lifecycle status so step loops can poll it every tick without a store
// round trip.
package statuscache

import (
	"context"
	"errors"
	"time"

	"github.com/devghori1264/agingwms/internal/models"
	"github.com/devghori1264/agingwms/internal/storage"
	"github.com/jellydator/ttlcache/v3"
)

// DefaultTTL bounds staleness when a writer dies without refreshing the entry.
const DefaultTTL = time.Hour

// SlotReader is the part of the store the cache falls back to on a miss.
type SlotReader interface {
	GetSlot(ctx context.Context, id string) (*models.Slot, error)
}

// Observer receives hit/miss notifications (metrics).
type Observer interface {
	CacheHit()
	CacheMiss()
}

type Cache struct {
	items *ttlcache.Cache[string, models.SlotStatus]
	store SlotReader
	obs   Observer
}

// New builds a cache in front of store. Call Start to run expiry and Stop on shutdown.
func New(store SlotReader, ttl time.Duration, obs Observer) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		items: ttlcache.New(
			ttlcache.WithTTL[string, models.SlotStatus](ttl),
			ttlcache.WithDisableTouchOnHit[string, models.SlotStatus](),
		),
		store: store,
		obs:   obs,
	}
}

func (c *Cache) Start() { go c.items.Start() }

func (c *Cache) Stop() { c.items.Stop() }

// Set records the status written by a command. Call it right after the durable save.
func (c *Cache) Set(slotID string, st models.SlotStatus) {
	c.items.Set(slotID, st, ttlcache.DefaultTTL)
}

func (c *Cache) Invalidate(slotID string) {
	c.items.Delete(slotID)
}

// Peek returns the cached status without touching the store.
func (c *Cache) Peek(slotID string) (models.SlotStatus, bool) {
	item := c.items.Get(slotID)
	if item == nil {
		return models.StatusEmpty, false
	}
	return item.Value(), true
}

// Status returns the slot status, reading through to the store on a miss.
// A slot that no longer exists reads as Empty and is not cached.
func (c *Cache) Status(ctx context.Context, slotID string) (models.SlotStatus, error) {
	if st, ok := c.Peek(slotID); ok {
		if c.obs != nil {
			c.obs.CacheHit()
		}
		return st, nil
	}
	if c.obs != nil {
		c.obs.CacheMiss()
	}
	slot, err := c.store.GetSlot(ctx, slotID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.StatusEmpty, nil
	}
	if err != nil {
		return models.StatusEmpty, err
	}
	c.Set(slotID, slot.Status)
	return slot.Status, nil
}

func (c *Cache) Len() int {
	return c.items.Len()
}
