// Package lifecycle validates job commands against the slot state machine
// and owns the goroutines that run job chains.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devghori1264/agingwms/internal/events"
	"github.com/devghori1264/agingwms/internal/metrics"
	"github.com/devghori1264/agingwms/internal/models"
	"github.com/devghori1264/agingwms/internal/statuscache"
	"github.com/devghori1264/agingwms/internal/steps"
	"github.com/devghori1264/agingwms/internal/storage"
	"github.com/devghori1264/agingwms/internal/workflow"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/devghori1264/agingwms/internal/lifecycle")

// StartingStep is the display step persisted until the first step begins.
const StartingStep = "Starting"

// FinishedStep names the job-level event published when a chain completes.
const FinishedStep = "Finished"

var (
	errShutdown  = errors.New("controller shut down")
	errUnchanged = errors.New("unchanged")
)

// Config wires the controller's collaborators. Logger, Metrics and Retry are optional.
type Config struct {
	Store   storage.Store
	Cache   *statuscache.Cache
	Builder *workflow.Builder
	Events  events.Publisher
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Retry   storage.RetryPolicy
}

// Controller implements Start/Pause/Resume/Stop and runs one chain per slot.
type Controller struct {
	store   storage.Store
	cache   *statuscache.Cache
	builder *workflow.Builder
	events  events.Publisher
	log     *zap.Logger
	metrics *metrics.Metrics
	retry   storage.RetryPolicy

	// operations mutex per slot id
	opMu sync.Map

	mu   sync.Mutex
	jobs map[string]*job

	base context.Context
	stop context.CancelCauseFunc
	wg   sync.WaitGroup
}

type job struct {
	id     string
	slotID string
	cancel context.CancelCauseFunc
	gate   *events.Gate
	done   chan struct{}
}

func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = storage.DefaultRetryPolicy
	}
	if cfg.Metrics != nil && cfg.Retry.OnConflict == nil {
		cfg.Retry.OnConflict = cfg.Metrics.Conflict
	}
	base, stop := context.WithCancelCause(context.Background())
	return &Controller{
		store:   cfg.Store,
		cache:   cfg.Cache,
		builder: cfg.Builder,
		events:  cfg.Events,
		log:     cfg.Logger.Named("lifecycle"),
		metrics: cfg.Metrics,
		retry:   cfg.Retry,
		jobs:    make(map[string]*job),
		base:    base,
		stop:    stop,
	}
}

// Start validates spec, moves the slot to Running and dispatches the chain
// on its own goroutine. It returns the new job id.
func (c *Controller) Start(ctx context.Context, spec models.JobSpec) (jobID string, err error) {
	ctx, span := tracer.Start(ctx, "lifecycle.Start", trace.WithAttributes(attribute.String("slot.id", spec.SlotID)))
	defer func() { endSpan(span, err) }()

	chain, err := c.builder.Build(spec)
	if err != nil {
		return "", err
	}

	unlock := c.LockSlots(spec.SlotID)
	defer unlock()

	if id, ok := c.ActiveJob(spec.SlotID); ok {
		return "", fmt.Errorf("%w: slot %s already runs job %s", models.ErrInvalidState, spec.SlotID, id)
	}

	out, err := storage.UpdateSlots(ctx, c.store, c.retry, []string{spec.SlotID}, func(slots []*models.Slot) error {
		s := slots[0]
		switch {
		case s == nil:
			return fmt.Errorf("%w: slot %s does not exist", models.ErrInvalidState, spec.SlotID)
		case !s.HasTray():
			return fmt.Errorf("%w: slot %s has no tray", models.ErrInvalidState, spec.SlotID)
		case s.Status != models.StatusEmpty && s.Status != models.StatusOccupied && s.Status != models.StatusRunning:
			return fmt.Errorf("%w: cannot start slot %s in status %s", models.ErrInvalidState, spec.SlotID, s.Status)
		}
		s.CurrentStep = StartingStep
		s.SetStatus(models.StatusRunning)
		return nil
	})
	if err != nil {
		return "", err
	}
	slot := out[0]
	c.cache.Set(slot.ID, slot.Status)

	jobCtx, cancel := context.WithCancelCause(c.base)
	jobCtx = trace.ContextWithSpanContext(jobCtx, span.SpanContext())
	j := c.register(slot.ID, cancel)
	span.SetAttributes(attribute.String("job.id", j.id))
	c.events.PublishStepState(ctx, models.StepState{
		SlotID:           slot.ID,
		EventType:        models.StepStarted,
		StepName:         StartingStep,
		StepIndex:        -1,
		RemainingMinutes: estimate(chain),
		Message:          fmt.Sprintf("job %s started with %d steps", j.id, chain.Len()),
	})
	c.log.Info("job started", zap.String("slot", slot.ID), zap.String("job", j.id),
		zap.String("batch", spec.BatchID), zap.Int("steps", chain.Len()))

	c.wg.Add(1)
	go c.run(jobCtx, j, chain, slot.TrayBarcode)
	return j.id, nil
}

// Pause freezes the running step of slotID.
func (c *Controller) Pause(ctx context.Context, slotID string) (*models.Slot, error) {
	return c.transition(ctx, "Pause", slotID, func(s *models.Slot) error {
		if s.Status != models.StatusOccupied && s.Status != models.StatusRunning {
			return fmt.Errorf("%w: cannot pause slot %s in status %s", models.ErrInvalidState, slotID, s.Status)
		}
		s.SetStatus(models.StatusPaused)
		return nil
	}, func(ctx context.Context, s *models.Slot) {
		c.events.PublishStepState(ctx, models.StepState{
			SlotID:    s.ID,
			EventType: models.StepPaused,
			StepName:  s.CurrentStep,
			Message:   "paused by operator",
		})
	})
}

// Resume continues a paused slot. The Resumed event carries the persisted
// current step so observers can label it before the next telemetry tick.
func (c *Controller) Resume(ctx context.Context, slotID string) (*models.Slot, error) {
	return c.transition(ctx, "Resume", slotID, func(s *models.Slot) error {
		if s.Status != models.StatusPaused {
			return fmt.Errorf("%w: cannot resume slot %s in status %s", models.ErrInvalidState, slotID, s.Status)
		}
		s.SetStatus(models.StatusRunning)
		return nil
	}, func(ctx context.Context, s *models.Slot) {
		c.events.PublishStepState(ctx, models.StepState{
			SlotID:    s.ID,
			EventType: models.StepResumed,
			StepName:  s.CurrentStep,
			Message:   "resumed by operator",
		})
	})
}

// Stop moves the slot to Error. The running chain, if any, loses its
// telemetry feed before Stop returns and aborts within one tick.
func (c *Controller) Stop(ctx context.Context, slotID, reason string) (*models.Slot, error) {
	if reason == "" {
		reason = "stopped by operator"
	}
	return c.transition(ctx, "Stop", slotID, func(s *models.Slot) error {
		if s.Status == models.StatusEmpty {
			return fmt.Errorf("%w: slot %s is empty", models.ErrInvalidState, slotID)
		}
		s.SetStatus(models.StatusError)
		return nil
	}, func(ctx context.Context, s *models.Slot) {
		c.Abort(s.ID, fmt.Errorf("%w: %s", models.ErrForcedTermination, reason))
		c.events.PublishStepState(ctx, models.StepState{
			SlotID:    s.ID,
			EventType: models.StepFaulted,
			StepName:  s.CurrentStep,
			Message:   reason,
		})
	})
}

// transition is the shared update-then-save path of Pause, Resume and Stop.
func (c *Controller) transition(ctx context.Context, op, slotID string, mutate func(*models.Slot) error, after func(context.Context, *models.Slot)) (slot *models.Slot, err error) {
	ctx, span := tracer.Start(ctx, "lifecycle."+op, trace.WithAttributes(attribute.String("slot.id", slotID)))
	defer func() { endSpan(span, err) }()

	unlock := c.LockSlots(slotID)
	defer unlock()

	slot, err = storage.UpdateSlot(ctx, c.store, c.retry, slotID, mutate)
	if err != nil {
		return nil, err
	}
	c.cache.Set(slot.ID, slot.Status)
	after(ctx, slot)
	c.log.Info("slot transition", zap.String("op", op), zap.String("slot", slotID), zap.Stringer("status", slot.Status))
	return slot, nil
}

// Abort cuts the telemetry feed of the slot's chain and cancels it with
// cause. It does not wait for the chain to exit.
func (c *Controller) Abort(slotID string, cause error) bool {
	c.mu.Lock()
	j, ok := c.jobs[slotID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	j.gate.Close()
	j.cancel(cause)
	return true
}

// ActiveJob returns the id of the chain running in this process for slotID.
func (c *Controller) ActiveJob(slotID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[slotID]
	if !ok {
		return "", false
	}
	return j.id, true
}

// Wait blocks until the chain of slotID exits or ctx is done.
func (c *Controller) Wait(ctx context.Context, slotID string) error {
	c.mu.Lock()
	j, ok := c.jobs[slotID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recover warms the status cache from the store and faults slots left
// Running or Paused by a previous process. It returns the faulted slot ids.
func (c *Controller) Recover(ctx context.Context) ([]string, error) {
	slots, err := c.store.ListSlots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	var faulted []string
	for _, s := range slots {
		c.cache.Set(s.ID, s.Status)
		if !s.Status.Active() {
			continue
		}
		if _, ok := c.ActiveJob(s.ID); ok {
			continue
		}
		if _, err := c.Stop(ctx, s.ID, "job interrupted by restart"); err != nil {
			c.log.Warn("recover slot", zap.String("slot", s.ID), zap.Error(err))
			continue
		}
		faulted = append(faulted, s.ID)
	}
	c.log.Info("recovered slot states", zap.Int("slots", len(slots)), zap.Strings("faulted", faulted))
	return faulted, nil
}

// Shutdown cancels every chain and waits for them to exit. Slots are left in
// their persisted state for Recover on the next start.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.stop(errShutdown)
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LockSlots takes the per-slot operation locks in a fixed order and returns
// the release func.
func (c *Controller) LockSlots(ids ...string) func() {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	var held []*sync.Mutex
	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue
		}
		v, _ := c.opMu.LoadOrStore(id, &sync.Mutex{})
		mtx := v.(*sync.Mutex)
		mtx.Lock()
		held = append(held, mtx)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func (c *Controller) register(slotID string, cancel context.CancelCauseFunc) *job {
	j := &job{
		id:     uuid.NewString(),
		slotID: slotID,
		cancel: cancel,
		gate:   events.NewGate(c.events),
		done:   make(chan struct{}),
	}
	c.mu.Lock()
	c.jobs[slotID] = j
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.ActiveJobs.Inc()
	}
	return j
}

func (c *Controller) unregister(j *job) {
	c.mu.Lock()
	if c.jobs[j.slotID] == j {
		delete(c.jobs, j.slotID)
	}
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.ActiveJobs.Dec()
	}
	j.cancel(nil)
	close(j.done)
}

func (c *Controller) run(ctx context.Context, j *job, chain *workflow.Chain, tray string) {
	defer c.wg.Done()
	defer c.unregister(j)

	log := c.log.With(zap.String("slot", j.slotID), zap.String("job", j.id))
	env := steps.Env{JobID: j.id, SlotID: j.slotID, TrayBarcode: tray, Events: j.gate}
	err := chain.Run(ctx, env, workflow.Hooks{
		OnStepStart: func(ctx context.Context, index int, p models.StepParams) {
			c.bookkeep(ctx, j.slotID, log, func(s *models.Slot) error {
				if !s.Status.Active() {
					return errUnchanged
				}
				s.CurrentStep = p.Kind().DisplayName()
				s.UpdatedAt = time.Now().UTC()
				return nil
			})
		},
		OnStepDone: func(ctx context.Context, index int, sl models.StepLog) {
			c.bookkeep(ctx, j.slotID, log, func(s *models.Slot) error {
				if len(s.Cells) == 0 || s.Status == models.StatusEmpty {
					return errUnchanged
				}
				rec := models.ProcessStep{
					StepID:    fmt.Sprintf("%s/%d", j.id, index),
					StepName:  sl.Kind.DisplayName(),
					StartTime: sl.StartTime,
					EndTime:   sl.EndTime,
					Metrics:   sl.Metrics,
				}
				for i := range s.Cells {
					s.Cells[i].AddProcessStep(rec)
				}
				return nil
			})
		},
	})

	switch {
	case err == nil:
		// A pause that lands after the last cutoff has nothing left to hold.
		if c.finish(ctx, j.slotID, log, models.StatusOccupied, func(s *models.Slot) bool {
			return s.Status.Active()
		}) {
			c.events.PublishStepState(context.WithoutCancel(ctx), models.StepState{
				SlotID:          j.slotID,
				EventType:       models.StepCompleted,
				StepName:        FinishedStep,
				StepIndex:       -1,
				ProgressPercent: 100,
				Message:         fmt.Sprintf("job %s completed %d steps", j.id, chain.Len()),
			})
		}
		log.Info("job completed")
	case errors.Is(context.Cause(ctx), errShutdown):
		log.Info("job interrupted by shutdown", zap.Error(err))
	default:
		c.finish(ctx, j.slotID, log, models.StatusError, func(s *models.Slot) bool {
			return s.Status != models.StatusError && s.Status != models.StatusEmpty
		})
		log.Warn("job faulted", zap.String("code", models.Code(err)), zap.Error(err))
	}
}

// bookkeep persists chain progress under the slot lock. Failures are logged;
// they never fail the step that produced them.
func (c *Controller) bookkeep(ctx context.Context, slotID string, log *zap.Logger, mutate func(*models.Slot) error) {
	ctx = context.WithoutCancel(ctx)
	unlock := c.LockSlots(slotID)
	defer unlock()
	_, err := storage.UpdateSlot(ctx, c.store, c.retry, slotID, mutate)
	if err != nil && !errors.Is(err, errUnchanged) {
		log.Warn("persist chain progress", zap.Error(err))
	}
}

// finish applies the job outcome when still relevant and reports whether
// the slot changed.
func (c *Controller) finish(ctx context.Context, slotID string, log *zap.Logger, to models.SlotStatus, when func(*models.Slot) bool) bool {
	ctx = context.WithoutCancel(ctx)
	unlock := c.LockSlots(slotID)
	defer unlock()
	s, err := storage.UpdateSlot(ctx, c.store, c.retry, slotID, func(s *models.Slot) error {
		if !when(s) {
			return errUnchanged
		}
		if to == models.StatusOccupied {
			s.CurrentStep = ""
		}
		s.SetStatus(to)
		return nil
	})
	switch {
	case err == nil:
		c.cache.Set(s.ID, s.Status)
		return true
	case errors.Is(err, errUnchanged), errors.Is(err, models.ErrNotFound):
	default:
		log.Warn("persist job outcome", zap.Stringer("status", to), zap.Error(err))
	}
	return false
}

func estimate(chain *workflow.Chain) float64 {
	var total time.Duration
	for _, p := range chain.Steps() {
		switch p := p.(type) {
		case models.RestParams:
			total += models.Minutes(p.DurationMinutes)
		case models.CCChargeParams:
			total += models.Minutes(p.MaxDurationMinutes)
		case models.CVChargeParams:
			total += models.Minutes(p.MaxDurationMinutes)
		case models.DischargeParams:
			total += models.Minutes(p.MaxDurationMinutes)
		}
	}
	return total.Minutes()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, models.Code(err))
	}
	span.End()
}
