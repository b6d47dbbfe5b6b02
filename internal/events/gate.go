package events

import (
	"context"
	"sync"

	"github.com/devghori1264/agingwms/internal/models"
)

// Gate wraps a publisher for one job. After Close no telemetry passes;
// step-state events still do so the closing Faulted reaches observers.
type Gate struct {
	next   Publisher
	mu     sync.RWMutex
	closed bool
}

func NewGate(next Publisher) *Gate {
	return &Gate{next: next}
}

func (g *Gate) PublishTelemetry(ctx context.Context, ev models.Telemetry) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return
	}
	g.next.PublishTelemetry(ctx, ev)
}

func (g *Gate) PublishStepState(ctx context.Context, ev models.StepState) {
	g.next.PublishStepState(ctx, ev)
}

// Close blocks until in-flight telemetry publishes have returned.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

func (g *Gate) Closed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}
