package natsclient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/devghori1264/agingwms/internal/gateway"
	"github.com/devghori1264/agingwms/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sent struct {
	subject string
	data    []byte
}

type fakeConn struct {
	out    []sent
	closed bool
	err    error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.out = append(f.out, sent{subject, data})
	return nil
}

func (f *fakeConn) IsClosed() bool { return f.closed }

func TestSubjects(t *testing.T) {
	assert.Equal(t, "aging.cmd.StartJob", CommandSubject(gateway.CmdStartJob))
	assert.Equal(t, "aging.telemetry.1-1-1", TelemetrySubject("1-1-1"))
	assert.Equal(t, "aging.stepstate.a_b_c", StepStateSubject("a.b c"))
	assert.Equal(t, "aging.telemetry._", TelemetrySubject(""))
}

func TestPublisherEncodesEvents(t *testing.T) {
	conn := &fakeConn{}
	p := newPublisher(conn, zaptest.NewLogger(t))
	ctx := context.Background()

	p.PublishTelemetry(ctx, models.Telemetry{SlotID: "1-1-1", Voltage: 3.9})
	p.PublishStepState(ctx, models.StepState{SlotID: "1-1-1", EventType: models.StepCompleted})

	require.Len(t, conn.out, 2)
	assert.Equal(t, "aging.telemetry.1-1-1", conn.out[0].subject)
	var tel models.Telemetry
	require.NoError(t, json.Unmarshal(conn.out[0].data, &tel))
	assert.Equal(t, 3.9, tel.Voltage)

	assert.Equal(t, "aging.stepstate.1-1-1", conn.out[1].subject)
	var st models.StepState
	require.NoError(t, json.Unmarshal(conn.out[1].data, &st))
	assert.Equal(t, models.StepCompleted, st.EventType)
}

func TestPublisherSwallowsTransportErrors(t *testing.T) {
	conn := &fakeConn{err: errors.New("slow consumer")}
	p := newPublisher(conn, zaptest.NewLogger(t))
	assert.NotPanics(t, func() { p.PublishTelemetry(context.Background(), models.Telemetry{SlotID: "A"}) })

	closed := newPublisher(&fakeConn{closed: true}, nil)
	assert.Error(t, closed.Publish(context.Background(), "x", nil))
}

type fakeDispatcher struct {
	command string
	payload []byte
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, command string, payload []byte) gateway.Result {
	f.command, f.payload = command, payload
	return gateway.Result{Success: true, Message: "ok", JobID: "job-9"}
}

func TestResponderHandle(t *testing.T) {
	d := &fakeDispatcher{}
	r := NewResponder(nil, d, zaptest.NewLogger(t))

	out := r.handle(context.Background(), gateway.CmdPauseJob, []byte(`{"slot_id":"A"}`))
	assert.Equal(t, gateway.CmdPauseJob, d.command)
	assert.JSONEq(t, `{"slot_id":"A"}`, string(d.payload))

	res, err := DecodeResult(out)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "job-9", res.JobID)

	_, err = DecodeResult([]byte("nope"))
	assert.Error(t, err)
}
