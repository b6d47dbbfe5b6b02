package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/devghori1264/agingwms/internal/gateway"
	"github.com/devghori1264/agingwms/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	command string
	payload any
	result  gateway.Result
	closed  bool
}

func (f *fakeTransport) Call(_ context.Context, command string, payload any) (gateway.Result, error) {
	f.command, f.payload = command, payload
	return f.result, nil
}

func (f *fakeTransport) Watch(ctx context.Context, slotID string, fn func(string, []byte)) error {
	fn("telemetry", []byte(`{"slot_id":"`+slotID+`"}`+"\n"))
	return nil
}

func (f *fakeTransport) Close() error { f.closed = true; return nil }

func execute(t *testing.T, ft *fakeTransport, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(func(context.Context) (transport, error) { return ft, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestStartReadsJobFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
batch_id: B-7
steps:
  - type: Rest
    parameters: {durationMinutes: 1}
  - type: CC_Charge
    parameters: {targetCurrent: 10, cutoffVoltage: 4.2, maxDurationMinutes: 60}
`), 0o600))

	ft := &fakeTransport{result: gateway.Result{Success: true, JobID: "j-1"}}
	out, err := execute(t, ft, "start", "A-01", "-f", path)
	require.NoError(t, err)
	assert.True(t, ft.closed)
	assert.Equal(t, gateway.CmdStartJob, ft.command)

	spec := ft.payload.(models.JobSpec)
	assert.Equal(t, "A-01", spec.SlotID)
	assert.Equal(t, "B-7", spec.BatchID)
	require.Len(t, spec.Steps, 2)
	assert.JSONEq(t, `{"durationMinutes":1}`, string(spec.Steps[0].Parameters))

	var res gateway.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "j-1", res.JobID)
}

func TestFailedResultExitsNonZero(t *testing.T) {
	ft := &fakeTransport{result: gateway.Result{Code: "InvalidStateError", Message: "slot A-01 is Running"}}
	out, err := execute(t, ft, "pause", "A-01")
	require.Error(t, err)
	assert.Contains(t, out, "InvalidStateError")
	assert.Equal(t, gateway.SlotRequest{SlotID: "A-01"}, ft.payload)
}

func TestWriteBuildsCells(t *testing.T) {
	ft := &fakeTransport{result: gateway.Result{Success: true}}
	_, err := execute(t, ft, "write", "A-01", "--tray", "T-1", "--cell", "C1:0", "--cell", "C2:1:reject")
	require.NoError(t, err)
	assert.Equal(t, gateway.WriteRequest{
		SlotID:      "A-01",
		TrayBarcode: "T-1",
		Cells: []gateway.CellInput{
			{Barcode: "C1", ChannelIndex: 0},
			{Barcode: "C2", ChannelIndex: 1, Reject: true},
		},
	}, ft.payload)
}

func TestMoveAndClear(t *testing.T) {
	ft := &fakeTransport{result: gateway.Result{Success: true}}
	_, err := execute(t, ft, "move", "A-01", "A-02")
	require.NoError(t, err)
	assert.Equal(t, gateway.MoveRequest{SourceID: "A-01", TargetID: "A-02"}, ft.payload)

	_, err = execute(t, ft, "clear", "A-02", "--purge")
	require.NoError(t, err)
	assert.Equal(t, gateway.ClearRequest{SlotID: "A-02", Purge: true}, ft.payload)
}

func TestWatchPrintsEvents(t *testing.T) {
	out, err := execute(t, &fakeTransport{}, "watch", "A-01")
	require.NoError(t, err)
	assert.Equal(t, "telemetry {\"slot_id\":\"A-01\"}\n", out)
}

func TestParseCell(t *testing.T) {
	for _, bad := range []string{"C1", ":1", "C1:x", "C1:1:maybe", "a:1:reject:x"} {
		_, err := parseCell(bad)
		assert.Error(t, err, bad)
	}
}
