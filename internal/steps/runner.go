// Package steps runs the control loop of a single aging step.
package steps

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/devghori1264/agingwms/internal/events"
	"github.com/devghori1264/agingwms/internal/metrics"
	"github.com/devghori1264/agingwms/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/devghori1264/agingwms/internal/steps")

// Options control loop timing. SimulatedTick is the elapsed time credited per
// tick, so a test can run a one-hour step with a millisecond Tick.
type Options struct {
	Tick          time.Duration
	SimulatedTick time.Duration
	PauseWait     time.Duration
}

func DefaultOptions() Options {
	return Options{Tick: time.Second, SimulatedTick: time.Second, PauseWait: 2 * time.Second}
}

// StatusSource answers "has an operator asked me to stop or pause?".
type StatusSource interface {
	Status(ctx context.Context, slotID string) (models.SlotStatus, error)
}

// Env is what a step needs to know about the job running it.
type Env struct {
	JobID       string
	SlotID      string
	TrayBarcode string
	Events      events.Publisher
}

// StepError is the fault a step aborts with.
type StepError struct {
	Kind  models.StepKind
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type Runner struct {
	status  StatusSource
	log     *zap.Logger
	metrics *metrics.Metrics
	opts    Options
	rand    func() float64
}

func NewRunner(status StatusSource, log *zap.Logger, m *metrics.Metrics, opts Options) *Runner {
	def := DefaultOptions()
	if opts.Tick <= 0 {
		opts.Tick = def.Tick
	}
	if opts.SimulatedTick <= 0 {
		opts.SimulatedTick = opts.Tick
	}
	if opts.PauseWait <= 0 {
		opts.PauseWait = def.PauseWait
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{status: status, log: log, metrics: m, opts: opts, rand: rand.Float64}
}

// Options returns the effective loop timing.
func (r *Runner) Options() Options { return r.opts }

// Run executes one step until its cutoff. On abort it returns the partial log
// together with a *StepError wrapping ErrTimeout, ErrForcedTermination or the
// context cause.
func (r *Runner) Run(ctx context.Context, env Env, index int, params models.StepParams) (models.StepLog, error) {
	p, err := newPlant(params)
	if err != nil {
		return models.StepLog{}, &StepError{Kind: params.Kind(), Index: index, Err: err}
	}
	kind := p.kind()
	name := kind.DisplayName()
	log := r.log.With(zap.String("slot", env.SlotID), zap.String("job", env.JobID),
		zap.Int("step", index), zap.String("kind", string(kind)))

	ctx, span := tracer.Start(ctx, "step."+string(kind), trace.WithAttributes(
		attribute.String("slot.id", env.SlotID),
		attribute.Int("step.index", index),
	))
	defer span.End()

	if r.metrics != nil {
		defer r.metrics.StepStarted(string(kind))()
	}

	res := models.StepLog{Kind: kind, SlotID: env.SlotID, StepIndex: index, StartTime: time.Now().UTC()}
	var stats accumulator

	env.Events.PublishStepState(ctx, models.StepState{
		SlotID:           env.SlotID,
		EventType:        models.StepStarted,
		StepName:         name,
		StepIndex:        index,
		RemainingMinutes: p.estimate().Minutes(),
		Message:          p.startMessage(),
	})
	log.Info("step started")

	abort := func(cause error, outcome string) (models.StepLog, error) {
		res.EndTime = time.Now().UTC()
		res.EndReason = outcome
		res.Capacity = stats.capacity
		res.Metrics = stats.metrics()
		span.RecordError(cause)
		span.SetStatus(codes.Error, outcome)
		r.finished(kind, outcome)
		log.Warn("step aborted", zap.String("reason", outcome), zap.Error(cause))
		return res, &StepError{Kind: kind, Index: index, Err: cause}
	}

	var (
		elapsed time.Duration
		paused  bool
	)
	for !p.done(elapsed) {
		if ctx.Err() != nil {
			return abort(context.Cause(ctx), outcomeOf(context.Cause(ctx)))
		}

		st, err := r.status.Status(ctx, env.SlotID)
		if err != nil {
			log.Warn("status check failed, retrying next tick", zap.Error(err))
			if err := sleep(ctx, r.opts.Tick); err != nil {
				return abort(err, outcomeOf(err))
			}
			continue
		}
		switch st {
		case models.StatusError, models.StatusEmpty:
			err := fmt.Errorf("%w: slot is %s", models.ErrForcedTermination, st)
			return abort(err, outcomeOf(err))
		case models.StatusPaused:
			if !paused {
				paused = true
				env.Events.PublishStepState(ctx, models.StepState{
					SlotID:          env.SlotID,
					EventType:       models.StepPaused,
					StepName:        name,
					StepIndex:       index,
					ProgressPercent: p.progress(elapsed),
					Message:         name + " paused",
				})
				log.Info("step paused", zap.Duration("elapsed", elapsed), zap.Float64("capacity", stats.capacity))
			}
			if err := sleep(ctx, r.opts.PauseWait); err != nil {
				return abort(err, outcomeOf(err))
			}
			continue
		}
		if paused {
			paused = false
			env.Events.PublishStepState(ctx, models.StepState{
				SlotID:           env.SlotID,
				EventType:        models.StepRunning,
				StepName:         name,
				StepIndex:        index,
				ProgressPercent:  p.progress(elapsed),
				RemainingMinutes: remaining(p, elapsed),
				Message:          name + " running",
			})
			log.Info("step continuing")
		}

		if limit := p.limit(); limit > 0 && elapsed > limit {
			err := fmt.Errorf("%w: %s exceeded %s", models.ErrTimeout, name, limit)
			return abort(err, outcomeOf(err))
		}

		s := p.advance(elapsed, r.opts.SimulatedTick, r.rand)
		stats.add(s, r.opts.SimulatedTick)

		env.Events.PublishTelemetry(ctx, models.Telemetry{
			SlotID:          env.SlotID,
			TrayBarcode:     env.TrayBarcode,
			Voltage:         s.voltage,
			Current:         s.current,
			Temperature:     s.temperature,
			Capacity:        stats.capacity,
			CurrentStepName: p.label(),
			RunDuration:     elapsed,
		})
		if r.metrics != nil {
			r.metrics.Telemetry.Inc()
		}

		if err := sleep(ctx, r.opts.Tick); err != nil {
			return abort(err, outcomeOf(err))
		}
		elapsed += r.opts.SimulatedTick
	}

	res.EndTime = time.Now().UTC()
	res.EndReason = p.endReason()
	res.Capacity = stats.capacity
	res.Metrics = stats.metrics()
	env.Events.PublishStepState(ctx, models.StepState{
		SlotID:          env.SlotID,
		EventType:       models.StepCompleted,
		StepName:        name,
		StepIndex:       index,
		ProgressPercent: 100,
		Message:         p.doneMessage(stats.capacity),
	})
	r.finished(kind, "completed")
	log.Info("step completed", zap.Duration("elapsed", elapsed), zap.Float64("capacity", stats.capacity))
	return res, nil
}

// Compensate runs the rollback of a step: it announces the fault. There is no
// physical undo of charge or discharge.
func (r *Runner) Compensate(ctx context.Context, env Env, sl models.StepLog, cause error) {
	msg := sl.Kind.DisplayName() + " rolled back"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	env.Events.PublishStepState(ctx, models.StepState{
		SlotID:    env.SlotID,
		EventType: models.StepFaulted,
		StepName:  sl.Kind.DisplayName(),
		StepIndex: sl.StepIndex,
		Message:   msg,
	})
}

func (r *Runner) finished(kind models.StepKind, outcome string) {
	if r.metrics != nil {
		r.metrics.StepFinished(string(kind), outcome)
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, models.ErrTimeout):
		return "Timeout"
	case errors.Is(err, models.ErrForcedTermination):
		return "ForcedTermination"
	default:
		return "Cancelled"
	}
}

func remaining(p plant, elapsed time.Duration) float64 {
	left := p.estimate() - elapsed
	if left < 0 {
		return 0
	}
	return left.Minutes()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}

type accumulator struct {
	n           int
	capacity    float64
	first, last sample
	sumTemp     float64
	maxTemp     float64
	sumCurrent  float64
}

func (a *accumulator) add(s sample, dt time.Duration) {
	if a.n == 0 {
		a.first = s
		a.maxTemp = s.temperature
	}
	a.n++
	a.last = s
	a.capacity += s.current * dt.Hours()
	a.sumTemp += s.temperature
	a.sumCurrent += s.current
	if s.temperature > a.maxTemp {
		a.maxTemp = s.temperature
	}
}

func (a *accumulator) metrics() models.StepMetrics {
	if a.n == 0 {
		return models.StepMetrics{}
	}
	return models.StepMetrics{
		StartVoltage:   a.first.voltage,
		EndVoltage:     a.last.voltage,
		AvgTemperature: a.sumTemp / float64(a.n),
		MaxTemperature: a.maxTemp,
		AvgCurrent:     a.sumCurrent / float64(a.n),
		Capacity:       a.capacity,
	}
}
