package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/devghori1264/agingwms/internal/models"
)

// RetryPolicy bounds the update-then-save loop on version conflicts.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	// Jitter is the fraction of Backoff added at random, 0 disables it.
	Jitter float64
	// OnConflict is called for every conflict observed, e.g. to count them.
	OnConflict func()
}

// DefaultRetryPolicy is five attempts 100ms apart.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, Backoff: 100 * time.Millisecond, Jitter: 0.5}

func (p RetryPolicy) delay() time.Duration {
	d := p.Backoff
	if p.Jitter > 0 && d > 0 {
		d += time.Duration(rand.Float64() * p.Jitter * float64(d))
	}
	return d
}

// MutateFunc edits freshly loaded slots. Missing slots arrive as nil and may
// be replaced in place; nil entries left in the slice are not saved.
type MutateFunc func(slots []*models.Slot) error

// UpdateSlots loads ids, applies mutate and saves the result atomically,
// retrying the whole sequence on ErrConflict. Errors from mutate are
// returned as-is without retry.
func UpdateSlots(ctx context.Context, st Store, p RetryPolicy, ids []string, mutate MutateFunc) ([]*models.Slot, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.delay()):
			}
		}

		slots := make([]*models.Slot, len(ids))
		for i, id := range ids {
			s, err := st.GetSlot(ctx, id)
			switch {
			case errors.Is(err, ErrNotFound):
			case err != nil:
				return nil, err
			default:
				slots[i] = s
			}
		}
		if err := mutate(slots); err != nil {
			return nil, err
		}

		var dirty []*models.Slot
		for _, s := range slots {
			if s != nil {
				dirty = append(dirty, s)
			}
		}
		err := st.SaveSlots(ctx, dirty...)
		if err == nil {
			return slots, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		lastErr = err
		if p.OnConflict != nil {
			p.OnConflict()
		}
	}
	return nil, fmt.Errorf("%w: slots %v after %d attempts: %w", models.ErrConcurrencyExhausted, ids, attempts, lastErr)
}

// UpdateSlot is UpdateSlots for an existing slot; a missing slot is ErrNotFound.
func UpdateSlot(ctx context.Context, st Store, p RetryPolicy, id string, mutate func(*models.Slot) error) (*models.Slot, error) {
	out, err := UpdateSlots(ctx, st, p, []string{id}, func(slots []*models.Slot) error {
		if slots[0] == nil {
			return fmt.Errorf("slot %s: %w", id, ErrNotFound)
		}
		return mutate(slots[0])
	})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
