// Package inventory implements the slot write/move/clear operations.
package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/devghori1264/agingwms/internal/models"
	"github.com/devghori1264/agingwms/internal/statuscache"
	"github.com/devghori1264/agingwms/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/devghori1264/agingwms/internal/inventory")

// JobControl is the part of the lifecycle controller inventory needs:
// slot locks shared with job commands, and aborting a chain on clear.
type JobControl interface {
	LockSlots(ids ...string) func()
	Abort(slotID string, cause error) bool
}

type Service struct {
	store storage.Store
	cache *statuscache.Cache
	jobs  JobControl
	retry storage.RetryPolicy
	log   *zap.Logger
}

func NewService(store storage.Store, cache *statuscache.Cache, jobs JobControl, retry storage.RetryPolicy, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if retry.Attempts == 0 {
		retry = storage.DefaultRetryPolicy
	}
	return &Service{store: store, cache: cache, jobs: jobs, retry: retry, log: log.Named("inventory")}
}

// Write loads a tray into slotID, creating the slot on first use. Cells not
// in the new list are deleted.
func (s *Service) Write(ctx context.Context, slotID, tray string, cells []models.Cell) (slot *models.Slot, err error) {
	ctx, span := tracer.Start(ctx, "inventory.Write", trace.WithAttributes(attribute.String("slot.id", slotID)))
	defer func() { endSpan(span, err) }()

	if err := validateWrite(slotID, tray, cells); err != nil {
		return nil, err
	}

	unlock := s.jobs.LockSlots(slotID)
	defer unlock()

	out, err := storage.UpdateSlots(ctx, s.store, s.retry, []string{slotID}, func(slots []*models.Slot) error {
		if slots[0] == nil {
			slots[0] = models.NewSlot(slotID)
		}
		cur := slots[0]
		if cur.Status.Active() {
			return fmt.Errorf("%w: slot %s is %s", models.ErrInvalidState, slotID, cur.Status)
		}
		// the store rejects cells held by another slot within the save
		cur.LoadTray(tray, cells)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slot = out[0]
	s.cache.Set(slot.ID, slot.Status)
	s.log.Info("tray written", zap.String("slot", slotID), zap.String("tray", tray), zap.Int("cells", len(cells)))
	return slot, nil
}

// Move transfers tray and cells from src to dst in one atomic save. On any
// failure both slots are left as they were.
func (s *Service) Move(ctx context.Context, src, dst string) (moved []*models.Slot, err error) {
	ctx, span := tracer.Start(ctx, "inventory.Move", trace.WithAttributes(
		attribute.String("slot.source", src),
		attribute.String("slot.target", dst),
	))
	defer func() { endSpan(span, err) }()

	switch {
	case strings.TrimSpace(src) == "" || strings.TrimSpace(dst) == "":
		return nil, fmt.Errorf("%w: source and target slot are required", models.ErrArgument)
	case src == dst:
		return nil, fmt.Errorf("%w: cannot move slot %s onto itself", models.ErrArgument, src)
	}

	unlock := s.jobs.LockSlots(src, dst)
	defer unlock()

	out, err := storage.UpdateSlots(ctx, s.store, s.retry, []string{src, dst}, func(slots []*models.Slot) error {
		from, to := slots[0], slots[1]
		switch {
		case from == nil:
			return fmt.Errorf("source slot %s: %w", src, models.ErrNotFound)
		case !from.HasTray():
			return fmt.Errorf("%w: source slot %s has no tray", models.ErrInvalidState, src)
		case from.Status.Active():
			return fmt.Errorf("%w: source slot %s is %s", models.ErrInvalidState, src, from.Status)
		}
		if to == nil {
			to = models.NewSlot(dst)
			slots[1] = to
		}
		if to.Status != models.StatusEmpty {
			return fmt.Errorf("%w: target slot %s is %s", models.ErrInvalidState, dst, to.Status)
		}
		to.LoadTray(from.TrayBarcode, from.Cells)
		from.Clear()
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, sl := range out {
		s.cache.Set(sl.ID, sl.Status)
	}
	s.log.Info("tray moved", zap.String("from", src), zap.String("to", dst), zap.String("tray", out[1].TrayBarcode))
	return out, nil
}

// Clear empties a slot from any status, aborting its running chain. With
// purge the slot record itself is deleted.
func (s *Service) Clear(ctx context.Context, slotID string, purge bool) (slot *models.Slot, err error) {
	ctx, span := tracer.Start(ctx, "inventory.Clear", trace.WithAttributes(
		attribute.String("slot.id", slotID),
		attribute.Bool("purge", purge),
	))
	defer func() { endSpan(span, err) }()

	unlock := s.jobs.LockSlots(slotID)
	defer unlock()

	slot, err = storage.UpdateSlot(ctx, s.store, s.retry, slotID, func(sl *models.Slot) error {
		sl.Clear()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.Set(slot.ID, slot.Status)
	if s.jobs.Abort(slotID, fmt.Errorf("%w: slot %s cleared", models.ErrForcedTermination, slotID)) {
		s.log.Info("aborted running job", zap.String("slot", slotID))
	}

	if purge {
		if err := s.store.DeleteSlot(ctx, slotID, slot.Version); err != nil {
			return nil, fmt.Errorf("purge slot %s: %w", slotID, err)
		}
		s.cache.Invalidate(slotID)
	}
	s.log.Info("slot cleared", zap.String("slot", slotID), zap.Bool("purge", purge))
	return slot, nil
}

func (s *Service) Get(ctx context.Context, slotID string) (*models.Slot, error) {
	return s.store.GetSlot(ctx, slotID)
}

func (s *Service) List(ctx context.Context) ([]*models.Slot, error) {
	return s.store.ListSlots(ctx)
}

func validateWrite(slotID, tray string, cells []models.Cell) error {
	if strings.TrimSpace(slotID) == "" {
		return fmt.Errorf("%w: slot id is required", models.ErrArgument)
	}
	if strings.TrimSpace(tray) == "" {
		return fmt.Errorf("%w: tray barcode is required", models.ErrArgument)
	}
	seen := make(map[string]bool, len(cells))
	for _, c := range cells {
		switch {
		case strings.TrimSpace(c.Barcode) == "":
			return fmt.Errorf("%w: cell barcode is required", models.ErrArgument)
		case seen[c.Barcode]:
			return fmt.Errorf("%w: duplicate cell %s", models.ErrArgument, c.Barcode)
		case c.ChannelIndex <= 0:
			return fmt.Errorf("%w: cell %s channel index must be > 0", models.ErrArgument, c.Barcode)
		}
		seen[c.Barcode] = true
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, models.Code(err))
	}
	span.End()
}
