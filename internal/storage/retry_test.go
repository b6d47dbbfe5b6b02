package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/devghori1264/agingwms/internal/models"
	"github.com/devghori1264/agingwms/internal/storage"
	"github.com/devghori1264/agingwms/internal/storage/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var fastRetry = storage.RetryPolicy{Attempts: 3}

func TestUpdateSlotRetriesConflicts(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	ctx := context.Background()

	st.EXPECT().GetSlot(gomock.Any(), "A").DoAndReturn(func(context.Context, string) (*models.Slot, error) {
		return &models.Slot{ID: "A", Status: models.StatusOccupied, Version: 4}, nil
	}).Times(2)
	gomock.InOrder(
		st.EXPECT().SaveSlots(gomock.Any(), gomock.Any()).Return(storage.ErrConflict),
		st.EXPECT().SaveSlots(gomock.Any(), gomock.Any()).Return(nil),
	)

	conflicts := 0
	p := fastRetry
	p.OnConflict = func() { conflicts++ }
	got, err := storage.UpdateSlot(ctx, st, p, "A", func(s *models.Slot) error {
		s.SetStatus(models.StatusPaused)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, got.Status)
	assert.Equal(t, 1, conflicts)
}

func TestUpdateSlotExhausted(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)

	st.EXPECT().GetSlot(gomock.Any(), "A").Return(&models.Slot{ID: "A"}, nil).AnyTimes()
	st.EXPECT().SaveSlots(gomock.Any(), gomock.Any()).Return(storage.ErrConflict).Times(3)

	_, err := storage.UpdateSlot(context.Background(), st, fastRetry, "A", func(*models.Slot) error { return nil })
	assert.ErrorIs(t, err, models.ErrConcurrencyExhausted)
	assert.ErrorIs(t, err, models.ErrConcurrencyConflict)
}

func TestUpdateSlotMutateErrorNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	st.EXPECT().GetSlot(gomock.Any(), "A").Return(&models.Slot{ID: "A"}, nil).Times(1)

	boom := errors.New("boom")
	_, err := storage.UpdateSlot(context.Background(), st, fastRetry, "A", func(*models.Slot) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestUpdateSlotMissing(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	st.EXPECT().GetSlot(gomock.Any(), "A").Return(nil, storage.ErrNotFound)

	_, err := storage.UpdateSlot(context.Background(), st, fastRetry, "A", func(*models.Slot) error { return nil })
	assert.ErrorIs(t, err, models.ErrNotFound)
}
