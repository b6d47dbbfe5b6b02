package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/devghori1264/agingwms/internal/models"
	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

var (
	ErrNotFound = models.ErrNotFound
	ErrConflict = models.ErrConcurrencyConflict
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks . Store

// Store interface (kept minimal, allows swapping implementations).
type Store interface {
	// GetSlot returns the slot with its cells hydrated.
	GetSlot(ctx context.Context, id string) (*models.Slot, error)
	// SaveSlots saves all slots atomically. Each slot's Version must match the
	// stored one (0 for a slot that does not exist yet); on success every
	// Version is incremented in place. Cells listed on a slot are written and
	// owned by it; cells dropped from every slot in the batch are deleted.
	// Claiming a cell owned by a slot outside the batch is ErrInvalidState.
	SaveSlots(ctx context.Context, slots ...*models.Slot) error
	// DeleteSlot physically removes a slot and its cells.
	DeleteSlot(ctx context.Context, id string, version int64) error
	ListSlots(ctx context.Context) ([]*models.Slot, error)

	GetCell(ctx context.Context, barcode string) (*models.Cell, error)
	SaveCell(ctx context.Context, c *models.Cell) error
	DeleteCell(ctx context.Context, barcode string) error

	Close() error
}

// BadgerStore implements Store with Badger DB.
type BadgerStore struct {
	db *badger.DB
}

// Options configures the Badger store.
type Options struct {
	Path     string
	InMemory bool
	Logger   *zap.Logger
}

func NewBadgerStore(o Options) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(o.Path))
	if o.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	if o.Logger != nil {
		opts.Logger = badgerLogger{o.Logger.Named("badger").Sugar()}
	}
	opts = opts.WithValueLogFileSize(1 << 20) // smaller value log for local dev
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// slotRecord is the persisted form of a slot; cells live under their own keys.
type slotRecord struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	Status      models.SlotStatus `json:"status"`
	TrayBarcode string            `json:"tray_barcode,omitempty"`
	CurrentStep string            `json:"current_step,omitempty"`
	Cells       []string          `json:"cells,omitempty"`
	Version     int64             `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

const (
	slotPrefix = "slot:"
	cellPrefix = "cell:"
)

func slotKey(id string) []byte {
	return []byte(slotPrefix + id)
}

func cellKey(barcode string) []byte {
	return []byte(cellPrefix + barcode)
}

func (s *BadgerStore) GetSlot(ctx context.Context, id string) (*models.Slot, error) {
	var out *models.Slot
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := readSlot(txn, id)
		if err != nil {
			return err
		}
		out, err = hydrate(txn, rec)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("slot %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) ListSlots(ctx context.Context) ([]*models.Slot, error) {
	var out []*models.Slot
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(slotPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec slotRecord
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return err
			}
			slot, err := hydrate(txn, &rec)
			if err != nil {
				return err
			}
			out = append(out, slot)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) SaveSlots(ctx context.Context, slots ...*models.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		kept := make(map[string]bool)
		batch := make(map[string]bool, len(slots))
		var dropped []string
		for _, slot := range slots {
			batch[slot.ID] = true
			for _, c := range slot.Cells {
				kept[c.Barcode] = true
			}
		}
		for _, slot := range slots {
			prev, err := readSlot(txn, slot.ID)
			switch {
			case errors.Is(err, ErrNotFound):
				if slot.Version != 0 {
					return fmt.Errorf("%w: slot %s was deleted", ErrConflict, slot.ID)
				}
			case err != nil:
				return err
			default:
				if prev.Version != slot.Version {
					return fmt.Errorf("%w: slot %s at version %d, have %d", ErrConflict, slot.ID, prev.Version, slot.Version)
				}
				dropped = append(dropped, prev.Cells...)
			}

			rec := slotRecord{
				ID:          slot.ID,
				Name:        slot.Name,
				Status:      slot.Status,
				TrayBarcode: slot.TrayBarcode,
				CurrentStep: slot.CurrentStep,
				Version:     slot.Version + 1,
				CreatedAt:   slot.CreatedAt,
				UpdatedAt:   slot.UpdatedAt,
			}
			for i := range slot.Cells {
				c := slot.Cells[i]
				owner, err := cellOwner(txn, c.Barcode)
				if err != nil {
					return err
				}
				if owner != "" && owner != slot.ID && !batch[owner] {
					return fmt.Errorf("%w: cell %s belongs to slot %s", models.ErrInvalidState, c.Barcode, owner)
				}
				c.SlotID = slot.ID
				c.Version++
				if err := setJSON(txn, cellKey(c.Barcode), c); err != nil {
					return err
				}
				rec.Cells = append(rec.Cells, c.Barcode)
			}
			if err := setJSON(txn, slotKey(slot.ID), rec); err != nil {
				return err
			}
		}
		for _, barcode := range dropped {
			if kept[barcode] {
				continue
			}
			if err := txn.Delete(cellKey(barcode)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return err
	}
	for _, slot := range slots {
		slot.Version++
		for i := range slot.Cells {
			slot.Cells[i].SlotID = slot.ID
			slot.Cells[i].Version++
		}
	}
	return nil
}

func (s *BadgerStore) DeleteSlot(ctx context.Context, id string, version int64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		rec, err := readSlot(txn, id)
		if err != nil {
			return err
		}
		if rec.Version != version {
			return fmt.Errorf("%w: slot %s at version %d, have %d", ErrConflict, id, rec.Version, version)
		}
		for _, barcode := range rec.Cells {
			if err := txn.Delete(cellKey(barcode)); err != nil {
				return err
			}
		}
		return txn.Delete(slotKey(id))
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (s *BadgerStore) GetCell(ctx context.Context, barcode string) (*models.Cell, error) {
	var out models.Cell
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, cellKey(barcode), &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveCell writes a single cell with the same version rule as SaveSlots.
func (s *BadgerStore) SaveCell(ctx context.Context, c *models.Cell) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var prev models.Cell
		err := getJSON(txn, cellKey(c.Barcode), &prev)
		switch {
		case errors.Is(err, ErrNotFound):
			if c.Version != 0 {
				return fmt.Errorf("%w: cell %s was deleted", ErrConflict, c.Barcode)
			}
		case err != nil:
			return err
		case prev.Version != c.Version:
			return fmt.Errorf("%w: cell %s at version %d, have %d", ErrConflict, c.Barcode, prev.Version, c.Version)
		}
		next := *c
		next.Version++
		return setJSON(txn, cellKey(c.Barcode), next)
	})
	if err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return err
	}
	c.Version++
	return nil
}

func (s *BadgerStore) DeleteCell(ctx context.Context, barcode string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(cellKey(barcode))
	})
}

func readSlot(txn *badger.Txn, id string) (*slotRecord, error) {
	var rec slotRecord
	if err := getJSON(txn, slotKey(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// cellOwner returns the slot holding barcode, or "" when the cell is free or
// its slot is gone. Reading inside txn makes concurrent claims conflict.
func cellOwner(txn *badger.Txn, barcode string) (string, error) {
	var c models.Cell
	err := getJSON(txn, cellKey(barcode), &c)
	switch {
	case errors.Is(err, ErrNotFound):
		return "", nil
	case err != nil:
		return "", err
	case c.SlotID == "":
		return "", nil
	}
	if _, err := readSlot(txn, c.SlotID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return c.SlotID, nil
}

func hydrate(txn *badger.Txn, rec *slotRecord) (*models.Slot, error) {
	slot := &models.Slot{
		ID:          rec.ID,
		Name:        rec.Name,
		Status:      rec.Status,
		TrayBarcode: rec.TrayBarcode,
		CurrentStep: rec.CurrentStep,
		Version:     rec.Version,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	for _, barcode := range rec.Cells {
		var c models.Cell
		if err := getJSON(txn, cellKey(barcode), &c); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		slot.Cells = append(slot.Cells, c)
	}
	return slot, nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(b []byte) error {
		return json.Unmarshal(b, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// badgerLogger routes badger's printf logging into zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, args ...interface{})   { l.s.Errorf(f, args...) }
func (l badgerLogger) Warningf(f string, args ...interface{}) { l.s.Warnf(f, args...) }
func (l badgerLogger) Infof(f string, args ...interface{})    { l.s.Debugf(f, args...) }
func (l badgerLogger) Debugf(f string, args ...interface{})   { l.s.Debugf(f, args...) }
