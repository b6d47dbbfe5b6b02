// Package natsclient bridges the event stream and the command gateway onto NATS.
package natsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/devghori1264/agingwms/internal/models"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subject layout.
const (
	CommandPrefix   = "aging.cmd."
	TelemetryPrefix = "aging.telemetry."
	StepStatePrefix = "aging.stepstate."
	QueueGroup      = "agingd"
)

func CommandSubject(command string) string { return CommandPrefix + command }

func TelemetrySubject(slotID string) string { return TelemetryPrefix + token(slotID) }

func StepStateSubject(slotID string) string { return StepStatePrefix + token(slotID) }

// token makes a slot id safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// Connect dials NATS with unlimited reconnects, logging connection changes.
func Connect(url, name string, log *zap.Logger) (*nats.Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// publishConn is the part of *nats.Conn the publisher uses.
type publishConn interface {
	Publish(subject string, data []byte) error
	IsClosed() bool
}

// Publisher is an events.Publisher that forwards events as JSON.
type Publisher struct {
	nc  publishConn
	log *zap.Logger
}

func NewPublisher(nc *nats.Conn, log *zap.Logger) *Publisher {
	if nc == nil {
		return newPublisher(nil, log)
	}
	return newPublisher(nc, log)
}

func newPublisher(nc publishConn, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{nc: nc, log: log.Named("nats")}
}

func (p *Publisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	return p.nc.Publish(subject, payload)
}

func (p *Publisher) PublishTelemetry(ctx context.Context, ev models.Telemetry) {
	p.publishJSON(ctx, TelemetrySubject(ev.SlotID), ev)
}

func (p *Publisher) PublishStepState(ctx context.Context, ev models.StepState) {
	p.publishJSON(ctx, StepStateSubject(ev.SlotID), ev)
}

// publishJSON is fire-and-forget; failures are logged only.
func (p *Publisher) publishJSON(ctx context.Context, subject string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		p.log.Error("encode event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.Publish(ctx, subject, b); err != nil {
		p.log.Debug("publish event", zap.String("subject", subject), zap.Error(err))
	}
}
