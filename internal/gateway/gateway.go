// Package gateway is the request/response facade in front of the lifecycle
// controller and the inventory service. Every call returns a Result; errors
// and panics never cross it.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devghori1264/agingwms/internal/metrics"
	"github.com/devghori1264/agingwms/internal/models"
	"go.uber.org/zap"
)

// DefaultTimeout bounds every command.
const DefaultTimeout = 10 * time.Second

// Command names, shared by every transport.
const (
	CmdStartJob  = "StartJob"
	CmdPauseJob  = "PauseJob"
	CmdResumeJob = "ResumeJob"
	CmdStopJob   = "StopJob"
	CmdWriteSlot = "WriteSlot"
	CmdMoveSlot  = "MoveSlot"
	CmdClearSlot = "ClearSlot"
	CmdGetSlot   = "GetSlot"
	CmdListSlots = "ListSlots"
)

// Commands lists every command Dispatch accepts.
var Commands = []string{
	CmdStartJob, CmdPauseJob, CmdResumeJob, CmdStopJob,
	CmdWriteSlot, CmdMoveSlot, CmdClearSlot, CmdGetSlot, CmdListSlots,
}

// Jobs is implemented by *lifecycle.Controller.
type Jobs interface {
	Start(ctx context.Context, spec models.JobSpec) (string, error)
	Pause(ctx context.Context, slotID string) (*models.Slot, error)
	Resume(ctx context.Context, slotID string) (*models.Slot, error)
	Stop(ctx context.Context, slotID, reason string) (*models.Slot, error)
}

// Inventory is implemented by *inventory.Service.
type Inventory interface {
	Write(ctx context.Context, slotID, tray string, cells []models.Cell) (*models.Slot, error)
	Move(ctx context.Context, src, dst string) ([]*models.Slot, error)
	Clear(ctx context.Context, slotID string, purge bool) (*models.Slot, error)
	Get(ctx context.Context, slotID string) (*models.Slot, error)
	List(ctx context.Context) ([]*models.Slot, error)
}

// Result is the uniform command outcome.
type Result struct {
	Success bool           `json:"success"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	JobID   string         `json:"job_id,omitempty"`
	Slot    *models.Slot   `json:"slot,omitempty"`
	Slots   []*models.Slot `json:"slots,omitempty"`
}

// Err rebuilds a classified error from a failed result, nil on success.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("%s: %s", r.Code, r.Message)
}

type SlotRequest struct {
	SlotID string `json:"slot_id"`
}

type StopRequest struct {
	SlotID string `json:"slot_id"`
	Reason string `json:"reason,omitempty"`
}

type CellInput struct {
	Barcode      string `json:"barcode" yaml:"barcode"`
	ChannelIndex int    `json:"channel_index" yaml:"channel_index"`
	Reject       bool   `json:"reject,omitempty" yaml:"reject"`
}

type WriteRequest struct {
	SlotID      string      `json:"slot_id"`
	TrayBarcode string      `json:"tray_barcode"`
	Cells       []CellInput `json:"cells"`
}

type MoveRequest struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

type ClearRequest struct {
	SlotID string `json:"slot_id"`
	Purge  bool   `json:"purge,omitempty"`
}

type Gateway struct {
	jobs    Jobs
	inv     Inventory
	log     *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// New builds a gateway. m may be nil; timeout <= 0 means DefaultTimeout.
func New(jobs Jobs, inv Inventory, log *zap.Logger, m *metrics.Metrics, timeout time.Duration) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{jobs: jobs, inv: inv, log: log.Named("gateway"), metrics: m, timeout: timeout}
}

func (g *Gateway) StartJob(ctx context.Context, spec models.JobSpec) Result {
	return g.call(ctx, CmdStartJob, func(ctx context.Context) (Result, error) {
		id, err := g.jobs.Start(ctx, spec)
		if err != nil {
			return Result{}, err
		}
		return Result{JobID: id, Message: fmt.Sprintf("job %s started on slot %s", id, spec.SlotID)}, nil
	})
}

func (g *Gateway) PauseJob(ctx context.Context, slotID string) Result {
	return g.call(ctx, CmdPauseJob, func(ctx context.Context) (Result, error) {
		s, err := g.jobs.Pause(ctx, slotID)
		return slotResult(s, "slot "+slotID+" paused"), err
	})
}

func (g *Gateway) ResumeJob(ctx context.Context, slotID string) Result {
	return g.call(ctx, CmdResumeJob, func(ctx context.Context) (Result, error) {
		s, err := g.jobs.Resume(ctx, slotID)
		return slotResult(s, "slot "+slotID+" resumed"), err
	})
}

func (g *Gateway) StopJob(ctx context.Context, slotID, reason string) Result {
	return g.call(ctx, CmdStopJob, func(ctx context.Context) (Result, error) {
		s, err := g.jobs.Stop(ctx, slotID, reason)
		return slotResult(s, "slot "+slotID+" stopped"), err
	})
}

func (g *Gateway) WriteSlot(ctx context.Context, req WriteRequest) Result {
	return g.call(ctx, CmdWriteSlot, func(ctx context.Context) (Result, error) {
		cells := make([]models.Cell, len(req.Cells))
		for i, c := range req.Cells {
			cells[i] = models.Cell{Barcode: c.Barcode, ChannelIndex: c.ChannelIndex, Reject: c.Reject}
		}
		s, err := g.inv.Write(ctx, req.SlotID, req.TrayBarcode, cells)
		return slotResult(s, fmt.Sprintf("tray %s written to slot %s", req.TrayBarcode, req.SlotID)), err
	})
}

func (g *Gateway) MoveSlot(ctx context.Context, src, dst string) Result {
	return g.call(ctx, CmdMoveSlot, func(ctx context.Context) (Result, error) {
		slots, err := g.inv.Move(ctx, src, dst)
		if err != nil {
			return Result{}, err
		}
		return Result{Slots: slots, Message: fmt.Sprintf("moved slot %s to %s", src, dst)}, nil
	})
}

func (g *Gateway) ClearSlot(ctx context.Context, slotID string, purge bool) Result {
	return g.call(ctx, CmdClearSlot, func(ctx context.Context) (Result, error) {
		s, err := g.inv.Clear(ctx, slotID, purge)
		if purge {
			s = nil
		}
		return slotResult(s, "slot "+slotID+" cleared"), err
	})
}

func (g *Gateway) GetSlot(ctx context.Context, slotID string) Result {
	return g.call(ctx, CmdGetSlot, func(ctx context.Context) (Result, error) {
		s, err := g.inv.Get(ctx, slotID)
		return slotResult(s, "ok"), err
	})
}

func (g *Gateway) ListSlots(ctx context.Context) Result {
	return g.call(ctx, CmdListSlots, func(ctx context.Context) (Result, error) {
		slots, err := g.inv.List(ctx)
		if err != nil {
			return Result{}, err
		}
		return Result{Slots: slots, Message: fmt.Sprintf("%d slots", len(slots))}, nil
	})
}

// Dispatch decodes a JSON payload for the named command and runs it. Message
// transports call it; an empty payload is accepted where no field is needed.
func (g *Gateway) Dispatch(ctx context.Context, command string, payload []byte) Result {
	switch command {
	case CmdStartJob:
		var req models.JobSpec
		if err := decode(payload, &req); err != nil {
			return g.reject(command, err)
		}
		return g.StartJob(ctx, req)
	case CmdPauseJob, CmdResumeJob, CmdGetSlot:
		var req SlotRequest
		if err := decode(payload, &req); err != nil {
			return g.reject(command, err)
		}
		switch command {
		case CmdPauseJob:
			return g.PauseJob(ctx, req.SlotID)
		case CmdResumeJob:
			return g.ResumeJob(ctx, req.SlotID)
		default:
			return g.GetSlot(ctx, req.SlotID)
		}
	case CmdStopJob:
		var req StopRequest
		if err := decode(payload, &req); err != nil {
			return g.reject(command, err)
		}
		return g.StopJob(ctx, req.SlotID, req.Reason)
	case CmdWriteSlot:
		var req WriteRequest
		if err := decode(payload, &req); err != nil {
			return g.reject(command, err)
		}
		return g.WriteSlot(ctx, req)
	case CmdMoveSlot:
		var req MoveRequest
		if err := decode(payload, &req); err != nil {
			return g.reject(command, err)
		}
		return g.MoveSlot(ctx, req.SourceID, req.TargetID)
	case CmdClearSlot:
		var req ClearRequest
		if err := decode(payload, &req); err != nil {
			return g.reject(command, err)
		}
		return g.ClearSlot(ctx, req.SlotID, req.Purge)
	case CmdListSlots:
		return g.ListSlots(ctx)
	}
	return g.reject(command, fmt.Errorf("%w: unknown command %q", models.ErrArgument, command))
}

func (g *Gateway) call(ctx context.Context, command string, fn func(context.Context) (Result, error)) (res Result) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("command panicked", zap.String("command", command), zap.Any("panic", r), zap.Stack("stack"))
			res = Result{Code: "Internal", Message: fmt.Sprintf("internal error: %v", r)}
		}
		if g.metrics != nil {
			g.metrics.ObserveCommand(command, res.Code, time.Since(start))
		}
	}()

	res, err := fn(ctx)
	if err != nil {
		res = failure(err)
		g.log.Info("command rejected", zap.String("command", command), zap.String("code", res.Code), zap.Error(err))
		return res
	}
	res.Success = true
	g.log.Debug("command ok", zap.String("command", command), zap.Duration("took", time.Since(start)))
	return res
}

func (g *Gateway) reject(command string, err error) Result {
	res := failure(err)
	if g.metrics != nil {
		g.metrics.ObserveCommand(command, res.Code, 0)
	}
	return res
}

func failure(err error) Result {
	code := models.Code(err)
	if code == "Internal" && errors.Is(err, context.DeadlineExceeded) {
		code = "Timeout"
	}
	return Result{Code: code, Message: err.Error()}
}

func slotResult(s *models.Slot, msg string) Result {
	return Result{Slot: s, Message: msg}
}

func decode(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", models.ErrArgument, err)
	}
	return nil
}
