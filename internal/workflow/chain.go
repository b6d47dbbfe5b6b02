package workflow

import (
	"context"
	"time"

	"github.com/devghori1264/agingwms/internal/models"
	"github.com/devghori1264/agingwms/internal/steps"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/devghori1264/agingwms/internal/workflow")

// Hooks let the owner of a chain persist progress. Both are optional and run
// on the chain goroutine.
type Hooks struct {
	OnStepStart func(ctx context.Context, index int, p models.StepParams)
	OnStepDone  func(ctx context.Context, index int, sl models.StepLog)
}

// Chain is a built, not yet running, linear pipeline of steps.
type Chain struct {
	SlotID  string
	BatchID string

	steps []models.StepParams
	exec  Executor
	log   *zap.Logger
}

func (c *Chain) Steps() []models.StepParams {
	out := make([]models.StepParams, len(c.steps))
	copy(out, c.steps)
	return out
}

func (c *Chain) Len() int { return len(c.steps) }

// Run executes the steps in order. Step k+1 starts only after step k has
// returned to Run. An undo entry is pushed as each step starts; on fault the
// stack is unwound in reverse, failing step first, and the fault returned.
func (c *Chain) Run(ctx context.Context, env steps.Env, hooks Hooks) error {
	ctx, span := tracer.Start(ctx, "workflow.chain", trace.WithAttributes(
		attribute.String("slot.id", c.SlotID),
		attribute.String("job.id", env.JobID),
		attribute.Int("chain.steps", len(c.steps)),
	))
	defer span.End()

	var saga compensations
	for i, p := range c.steps {
		if ctx.Err() != nil {
			err := context.Cause(ctx)
			saga.unwind(ctx, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return err
		}
		if hooks.OnStepStart != nil {
			hooks.OnStepStart(ctx, i, p)
		}

		sl := &models.StepLog{Kind: p.Kind(), SlotID: c.SlotID, StepIndex: i, StartTime: time.Now().UTC()}
		saga.push(func(ctx context.Context, cause error) {
			c.exec.Compensate(ctx, env, *sl, cause)
		})

		res, err := c.exec.Run(ctx, env, i, p)
		if res.Kind != "" {
			*sl = res
		}
		if err != nil {
			c.log.Warn("step faulted, compensating", zap.Int("step", i), zap.Int("undo", saga.len()), zap.Error(err))
			saga.unwind(ctx, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, models.Code(err))
			return err
		}
		if hooks.OnStepDone != nil {
			hooks.OnStepDone(ctx, i, res)
		}
	}
	c.log.Info("chain completed", zap.String("job", env.JobID), zap.Int("steps", len(c.steps)))
	return nil
}

type compensation func(ctx context.Context, cause error)

// compensations is the saga undo stack.
type compensations struct {
	stack []compensation
}

func (s *compensations) push(f compensation) { s.stack = append(s.stack, f) }

func (s *compensations) len() int { return len(s.stack) }

// unwind pops every entry, newest first. It runs on a context detached from
// cancellation since the job context is usually already done.
func (s *compensations) unwind(ctx context.Context, cause error) {
	ctx = context.WithoutCancel(ctx)
	for len(s.stack) > 0 {
		f := s.stack[len(s.stack)-1]
		s.stack = s.stack[:len(s.stack)-1]
		f(ctx, cause)
	}
}
