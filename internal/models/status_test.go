package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotStatusText(t *testing.T) {
	for st, name := range statusNames {
		b, err := st.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, name, string(b))
		assert.Equal(t, name, st.String())

		var back SlotStatus
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, st, back)
	}
}

func TestSlotStatusUnknown(t *testing.T) {
	_, err := SlotStatus(7).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "SlotStatus(7)", SlotStatus(7).String())

	_, err = ParseStatus("running")
	assert.ErrorIs(t, err, ErrArgument)

	var st SlotStatus
	assert.ErrorIs(t, json.Unmarshal([]byte(`"Done"`), &st), ErrArgument)
}

func TestSlotStatusJSONUsesNames(t *testing.T) {
	b, err := json.Marshal(map[string]SlotStatus{"status": StatusError})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Error"}`, string(b))
}

func TestActive(t *testing.T) {
	assert.True(t, StatusRunning.Active())
	assert.True(t, StatusPaused.Active())
	assert.False(t, StatusOccupied.Active())
	assert.False(t, StatusEmpty.Active())
	assert.False(t, StatusError.Active())
}

func TestCode(t *testing.T) {
	exhausted := fmt.Errorf("%w: after 5 attempts: %w", ErrConcurrencyExhausted, ErrConcurrencyConflict)
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("%w: slot A is Running", ErrInvalidState), "InvalidState"},
		{fmt.Errorf("slot A: %w", ErrNotFound), "NotFound"},
		{exhausted, "ConcurrencyExhausted"},
		{ErrConcurrencyConflict, "ConcurrencyConflict"},
		{fmt.Errorf("step 1: %w", ErrTimeout), "Timeout"},
		{ErrForcedTermination, "ForcedTermination"},
		{ErrArgument, "ArgumentError"},
		{errors.New("disk on fire"), "Internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Code(tt.err), "%v", tt.err)
	}
}
