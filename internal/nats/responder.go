package natsclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/devghori1264/agingwms/internal/gateway"
	"github.com/devghori1264/agingwms/internal/models"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Dispatcher is implemented by *gateway.Gateway.
type Dispatcher interface {
	Dispatch(ctx context.Context, command string, payload []byte) gateway.Result
}

// Responder answers command requests on aging.cmd.<name>. Several agingd
// processes share the load through the queue group.
type Responder struct {
	nc   *nats.Conn
	d    Dispatcher
	log  *zap.Logger
	subs []*nats.Subscription
}

func NewResponder(nc *nats.Conn, d Dispatcher, log *zap.Logger) *Responder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Responder{nc: nc, d: d, log: log.Named("nats")}
}

// Start subscribes to every gateway command.
func (r *Responder) Start(ctx context.Context) error {
	for _, cmd := range gateway.Commands {
		sub, err := r.nc.QueueSubscribe(CommandSubject(cmd), QueueGroup, func(m *nats.Msg) {
			reply := r.handle(ctx, cmd, m.Data)
			if m.Reply == "" {
				return
			}
			if err := m.Respond(reply); err != nil {
				r.log.Warn("respond", zap.String("command", cmd), zap.Error(err))
			}
		})
		if err != nil {
			r.Stop()
			return fmt.Errorf("subscribe %s: %w", cmd, err)
		}
		r.subs = append(r.subs, sub)
	}
	r.log.Info("command responder started", zap.Int("commands", len(r.subs)))
	return nil
}

func (r *Responder) Stop() {
	for _, s := range r.subs {
		_ = s.Unsubscribe()
	}
	r.subs = nil
}

// handle runs one command and encodes its result.
func (r *Responder) handle(ctx context.Context, cmd string, data []byte) []byte {
	res := r.d.Dispatch(ctx, cmd, data)
	b, err := json.Marshal(res)
	if err != nil {
		r.log.Error("encode result", zap.String("command", cmd), zap.Error(err))
		b, _ = json.Marshal(gateway.Result{Code: "Internal", Message: "encode result: " + err.Error()})
	}
	return b
}

// Request sends a command over NATS and decodes the gateway result.
func Request(ctx context.Context, nc *nats.Conn, command string, payload any) (gateway.Result, error) {
	var data []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return gateway.Result{}, fmt.Errorf("%w: encode %s: %v", models.ErrArgument, command, err)
		}
		data = b
	}
	msg, err := nc.RequestWithContext(ctx, CommandSubject(command), data)
	if err != nil {
		return gateway.Result{}, fmt.Errorf("request %s: %w", command, err)
	}
	return DecodeResult(msg.Data)
}

func DecodeResult(data []byte) (gateway.Result, error) {
	var res gateway.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return gateway.Result{}, fmt.Errorf("decode result: %w", err)
	}
	return res, nil
}

// Watch subscribes to telemetry and step-state events of slotID, or of every
// slot when slotID is empty.
func Watch(nc *nats.Conn, slotID string, fn func(subject string, data []byte)) ([]*nats.Subscription, error) {
	tok := "*"
	if slotID != "" {
		tok = token(slotID)
	}
	var subs []*nats.Subscription
	for _, prefix := range []string{TelemetryPrefix, StepStatePrefix} {
		sub, err := nc.Subscribe(prefix+tok, func(m *nats.Msg) { fn(m.Subject, m.Data) })
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
