package steps

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devghori1264/agingwms/internal/events"
	"github.com/devghori1264/agingwms/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeStatus struct {
	v atomic.Int64
}

func newFakeStatus(st models.SlotStatus) *fakeStatus {
	f := &fakeStatus{}
	f.set(st)
	return f
}

func (f *fakeStatus) set(st models.SlotStatus) { f.v.Store(int64(st)) }

func (f *fakeStatus) Status(context.Context, string) (models.SlotStatus, error) {
	return models.SlotStatus(f.v.Load()), nil
}

var fastOpts = Options{Tick: time.Millisecond, SimulatedTick: time.Second, PauseWait: 2 * time.Millisecond}

func newTestRunner(t *testing.T, st StatusSource) (*Runner, *events.Hub, *events.Subscription) {
	t.Helper()
	hub := events.NewHub(nil)
	sub := hub.Subscribe(4096, "")
	t.Cleanup(sub.Close)
	r := NewRunner(st, zaptest.NewLogger(t), nil, fastOpts)
	r.rand = func() float64 { return 0.5 }
	return r, hub, sub
}

func drain(sub *events.Subscription) (tele []models.Telemetry, states []models.StepState, all []events.Event) {
	for {
		select {
		case ev := <-sub.C:
			all = append(all, ev)
			if ev.Telemetry != nil {
				tele = append(tele, *ev.Telemetry)
			}
			if ev.StepState != nil {
				states = append(states, *ev.StepState)
			}
		default:
			return
		}
	}
}

func env(hub *events.Hub) Env {
	return Env{JobID: "job-1", SlotID: "1-1-1", TrayBarcode: "T-01", Events: hub}
}

func TestCCChargeCompletesAtCutoff(t *testing.T) {
	r, hub, sub := newTestRunner(t, newFakeStatus(models.StatusRunning))

	res, err := r.Run(context.Background(), env(hub), 1, models.CCChargeParams{
		SlotID: "1-1-1", TargetCurrent: 10, CutoffVoltage: 4.2, MaxDurationMinutes: 60,
	})
	require.NoError(t, err)

	tele, states, _ := drain(sub)
	require.Len(t, tele, 50)
	for i := 1; i < len(tele); i++ {
		assert.Greater(t, tele[i].Voltage, tele[i-1].Voltage)
	}
	assert.InDelta(t, 4.2, tele[len(tele)-1].Voltage, 1e-9)
	assert.Equal(t, "T-01", tele[0].TrayBarcode)

	require.Len(t, states, 2)
	assert.Equal(t, models.StepStarted, states[0].EventType)
	assert.Equal(t, 60.0, states[0].RemainingMinutes)
	assert.Equal(t, models.StepCompleted, states[1].EventType)
	assert.Equal(t, 100.0, states[1].ProgressPercent)

	assert.Equal(t, "CutoffVoltage", res.EndReason)
	assert.InDelta(t, 50*10.0/3600, res.Capacity, 1e-9)
	assert.InDelta(t, 3.22, res.Metrics.StartVoltage, 1e-9)
	assert.InDelta(t, 4.2, res.Metrics.EndVoltage, 1e-9)
}

func TestCCChargeTimesOut(t *testing.T) {
	r, hub, sub := newTestRunner(t, newFakeStatus(models.StatusRunning))

	_, err := r.Run(context.Background(), env(hub), 0, models.CCChargeParams{
		SlotID: "1-1-1", TargetCurrent: 10, CutoffVoltage: 4.2, MaxDurationMinutes: 0.5,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTimeout)
	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, models.KindCCCharge, se.Kind)

	_, states, _ := drain(sub)
	for _, s := range states {
		assert.NotEqual(t, models.StepCompleted, s.EventType)
	}
}

// The safety cutoff fires only once elapsed exceeds the limit, so a step
// still gets the tick that starts exactly at the limit.
func TestTimeoutBoundaryAllowsTickAtLimit(t *testing.T) {
	r, hub, sub := newTestRunner(t, newFakeStatus(models.StatusRunning))

	// 31 ticks (elapsed 0s..30s) reach 3.82V within a 30s limit.
	_, err := r.Run(context.Background(), env(hub), 0, models.CCChargeParams{
		SlotID: "1-1-1", TargetCurrent: 10, CutoffVoltage: 3.82, MaxDurationMinutes: 0.5,
	})
	require.NoError(t, err)
	tele, _, _ := drain(sub)
	require.Len(t, tele, 31)
	assert.Equal(t, 30*time.Second, tele[30].RunDuration)

	// One more step is needed for 3.84V: that tick would start at 31s.
	_, err = r.Run(context.Background(), env(hub), 0, models.CCChargeParams{
		SlotID: "1-1-1", TargetCurrent: 10, CutoffVoltage: 3.84, MaxDurationMinutes: 0.5,
	})
	assert.ErrorIs(t, err, models.ErrTimeout)
	tele, _, _ = drain(sub)
	require.Len(t, tele, 31)
	assert.InDelta(t, 3.82, tele[30].Voltage, 1e-9)
}

func TestRestRunsForDuration(t *testing.T) {
	r, hub, sub := newTestRunner(t, newFakeStatus(models.StatusRunning))

	res, err := r.Run(context.Background(), env(hub), 0, models.RestParams{SlotID: "1-1-1", DurationMinutes: 1})
	require.NoError(t, err)
	assert.Equal(t, "Duration", res.EndReason)

	tele, _, _ := drain(sub)
	require.Len(t, tele, 60)
	assert.Equal(t, 59*time.Second, tele[59].RunDuration)
	assert.Zero(t, tele[0].Current)
	assert.InDelta(t, 25.0, tele[0].Temperature, 0.5)
}

func TestCVChargeDecaysToCutoff(t *testing.T) {
	r, hub, sub := newTestRunner(t, newFakeStatus(models.StatusRunning))

	res, err := r.Run(context.Background(), env(hub), 2, models.CVChargeParams{
		SlotID: "1-1-1", TargetVoltage: 4.2, CutoffCurrent: 0.5, MaxDurationMinutes: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "CutoffCurrent", res.EndReason)

	tele, _, _ := drain(sub)
	require.NotEmpty(t, tele)
	for i := 1; i < len(tele); i++ {
		assert.Less(t, tele[i].Current, tele[i-1].Current)
		assert.Equal(t, 4.2, tele[i].Voltage)
	}
	assert.LessOrEqual(t, tele[len(tele)-1].Current, 0.5)
}

func TestDischargeFallsToCutoff(t *testing.T) {
	r, hub, sub := newTestRunner(t, newFakeStatus(models.StatusRunning))

	res, err := r.Run(context.Background(), env(hub), 3, models.DischargeParams{
		SlotID: "1-1-1", TargetCurrent: 6, CutoffVoltage: 3.0, MaxDurationMinutes: 10,
	})
	require.NoError(t, err)

	tele, _, _ := drain(sub)
	require.Len(t, tele, 24)
	assert.InDelta(t, 3.0, tele[23].Voltage, 1e-9)
	assert.InDelta(t, 24*6.0/3600, res.Capacity, 1e-9)
}

func TestStopForcesTermination(t *testing.T) {
	st := newFakeStatus(models.StatusRunning)
	r, hub, sub := newTestRunner(t, st)

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), env(hub), 0, models.RestParams{SlotID: "1-1-1", DurationMinutes: 600})
		done <- err
	}()

	waitTelemetry(t, sub, 3)
	st.set(models.StatusError)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, models.ErrForcedTermination)
	case <-time.After(time.Second):
		t.Fatal("step did not observe stop")
	}
}

func TestClearedSlotForcesTermination(t *testing.T) {
	r, hub, _ := newTestRunner(t, newFakeStatus(models.StatusEmpty))
	_, err := r.Run(context.Background(), env(hub), 0, models.RestParams{SlotID: "1-1-1", DurationMinutes: 1})
	assert.ErrorIs(t, err, models.ErrForcedTermination)
}

func TestCancelCauseIsReported(t *testing.T) {
	r, hub, _ := newTestRunner(t, newFakeStatus(models.StatusRunning))
	ctx, cancel := context.WithCancelCause(context.Background())
	cause := errors.New("operator pulled the plug")
	cancel(cause)

	_, err := r.Run(ctx, env(hub), 0, models.RestParams{SlotID: "1-1-1", DurationMinutes: 1})
	assert.ErrorIs(t, err, cause)
}

func TestPauseFreezesCounters(t *testing.T) {
	st := newFakeStatus(models.StatusRunning)
	r, hub, sub := newTestRunner(t, st)

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), env(hub), 0, models.CCChargeParams{
			SlotID: "1-1-1", TargetCurrent: 10, CutoffVoltage: 4.2, MaxDurationMinutes: 60,
		})
		done <- err
	}()

	var seen []events.Event
	seen = append(seen, waitTelemetry(t, sub, 5)...)
	st.set(models.StatusPaused)
	seen = append(seen, waitState(t, sub, models.StepPaused)...)
	time.Sleep(20 * time.Millisecond)
	st.set(models.StatusRunning)

	require.NoError(t, <-done)
	_, _, rest := drain(sub)
	seen = append(seen, rest...)

	var before, after *models.Telemetry
	pausedAt, resumedAt := -1, -1
	for i, ev := range seen {
		switch {
		case ev.StepState != nil && ev.StepState.EventType == models.StepPaused:
			pausedAt = i
		case ev.StepState != nil && ev.StepState.EventType == models.StepRunning:
			resumedAt = i
		case ev.Telemetry != nil && pausedAt < 0:
			before = ev.Telemetry
		case ev.Telemetry != nil && resumedAt >= 0 && after == nil:
			after = ev.Telemetry
		case ev.Telemetry != nil:
			require.True(t, resumedAt >= 0, "telemetry published while paused")
		}
	}
	require.NotNil(t, before)
	require.NotNil(t, after)
	require.Greater(t, resumedAt, pausedAt)

	assert.Equal(t, before.RunDuration+time.Second, after.RunDuration)
	assert.InDelta(t, before.Capacity+10.0/3600, after.Capacity, 1e-9)
	assert.InDelta(t, before.Voltage+0.02, after.Voltage, 1e-9)
}

func waitTelemetry(t *testing.T, sub *events.Subscription, n int) []events.Event {
	t.Helper()
	var got []events.Event
	count := 0
	deadline := time.After(2 * time.Second)
	for count < n {
		select {
		case ev := <-sub.C:
			got = append(got, ev)
			if ev.Telemetry != nil {
				count++
			}
		case <-deadline:
			t.Fatalf("saw %d telemetry events, want %d", count, n)
		}
	}
	return got
}

func waitState(t *testing.T, sub *events.Subscription, typ models.StepEventType) []events.Event {
	t.Helper()
	var got []events.Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.C:
			got = append(got, ev)
			if ev.StepState != nil && ev.StepState.EventType == typ {
				return got
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}
