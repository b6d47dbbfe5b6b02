package storage

import (
	"context"
	"testing"

	"github.com/devghori1264/agingwms/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func loadedSlot(id, tray string, barcodes ...string) *models.Slot {
	s := models.NewSlot(id)
	var cells []models.Cell
	for i, b := range barcodes {
		cells = append(cells, models.Cell{Barcode: b, ChannelIndex: i + 1})
	}
	s.LoadTray(tray, cells)
	return s
}

func TestSaveAndGetSlot(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	slot := loadedSlot("1-1-1", "T-01", "C1", "C2")
	require.NoError(t, st.SaveSlots(ctx, slot))
	assert.EqualValues(t, 1, slot.Version)

	got, err := st.GetSlot(ctx, "1-1-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOccupied, got.Status)
	assert.Equal(t, "T-01", got.TrayBarcode)
	require.Len(t, got.Cells, 2)
	assert.Equal(t, "1-1-1", got.Cells[0].SlotID)

	cell, err := st.GetCell(ctx, "C2")
	require.NoError(t, err)
	assert.Equal(t, 2, cell.ChannelIndex)
}

func TestGetSlotNotFound(t *testing.T) {
	_, err := newTestStore(t).GetSlot(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveSlotsRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.SaveSlots(ctx, loadedSlot("A", "T", "C1")))

	first, err := st.GetSlot(ctx, "A")
	require.NoError(t, err)
	second, err := st.GetSlot(ctx, "A")
	require.NoError(t, err)

	first.SetStatus(models.StatusRunning)
	require.NoError(t, st.SaveSlots(ctx, first))

	second.SetStatus(models.StatusPaused)
	err = st.SaveSlots(ctx, second)
	assert.ErrorIs(t, err, ErrConflict)
	assert.EqualValues(t, 1, second.Version, "failed save must not bump version")

	got, err := st.GetSlot(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
}

func TestSaveSlotsCreateRequiresZeroVersion(t *testing.T) {
	s := models.NewSlot("ghost")
	s.Version = 3
	err := newTestStore(t).SaveSlots(context.Background(), s)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSaveSlotsDeletesDroppedCells(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.SaveSlots(ctx, loadedSlot("A", "T", "C1", "C2")))

	a, err := st.GetSlot(ctx, "A")
	require.NoError(t, err)
	a.Clear()
	require.NoError(t, st.SaveSlots(ctx, a))

	_, err = st.GetCell(ctx, "C1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveSlotsMovesCellsBetweenSlots(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.SaveSlots(ctx, loadedSlot("A", "T", "C1")))

	a, err := st.GetSlot(ctx, "A")
	require.NoError(t, err)
	b := models.NewSlot("B")
	b.LoadTray(a.TrayBarcode, a.Cells)
	a.Clear()
	require.NoError(t, st.SaveSlots(ctx, a, b))

	cell, err := st.GetCell(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "B", cell.SlotID)
}

func TestSaveSlotsRejectsCellOwnedElsewhere(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.SaveSlots(ctx, loadedSlot("A", "T1", "C1")))

	err := st.SaveSlots(ctx, loadedSlot("B", "T2", "C2", "C1"))
	require.ErrorIs(t, err, models.ErrInvalidState)

	_, err = st.GetSlot(ctx, "B")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.GetCell(ctx, "C2")
	assert.ErrorIs(t, err, ErrNotFound)
	cell, err := st.GetCell(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "A", cell.SlotID)
}

func TestSaveSlotsFreesCellsOfDeletedSlot(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.SaveSlots(ctx, loadedSlot("A", "T1", "C1")))
	a, err := st.GetSlot(ctx, "A")
	require.NoError(t, err)
	require.NoError(t, st.DeleteSlot(ctx, "A", a.Version))

	require.NoError(t, st.SaveSlots(ctx, loadedSlot("B", "T2", "C1")))
}

func TestSaveSlotsIsAtomic(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.SaveSlots(ctx, loadedSlot("A", "T", "C1")))

	a, err := st.GetSlot(ctx, "A")
	require.NoError(t, err)
	stale := models.NewSlot("B")
	stale.Version = 7
	a.Clear()
	require.ErrorIs(t, st.SaveSlots(ctx, a, stale), ErrConflict)

	got, err := st.GetSlot(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "T", got.TrayBarcode)
	assert.Len(t, got.Cells, 1)
}

func TestListAndDeleteSlot(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.SaveSlots(ctx, loadedSlot("A", "T1", "C1"), loadedSlot("B", "T2")))

	all, err := st.ListSlots(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.ErrorIs(t, st.DeleteSlot(ctx, "A", 9), ErrConflict)
	require.NoError(t, st.DeleteSlot(ctx, "A", 1))
	_, err = st.GetCell(ctx, "C1")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err = st.ListSlots(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSaveCellVersioning(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	c := &models.Cell{Barcode: "X", ChannelIndex: 1}
	require.NoError(t, st.SaveCell(ctx, c))
	assert.EqualValues(t, 1, c.Version)

	stale := *c
	stale.Version = 0
	assert.ErrorIs(t, st.SaveCell(ctx, &stale), ErrConflict)

	require.NoError(t, st.DeleteCell(ctx, "X"))
	_, err := st.GetCell(ctx, "X")
	assert.ErrorIs(t, err, ErrNotFound)
}
