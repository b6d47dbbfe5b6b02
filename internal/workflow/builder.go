// Package workflow turns a job request into an ordered, compensable chain of
// typed steps and drives it.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/devghori1264/agingwms/internal/models"
	"github.com/devghori1264/agingwms/internal/steps"
	"go.uber.org/zap"
)

// Executor runs and compensates single steps. *steps.Runner implements it.
type Executor interface {
	Run(ctx context.Context, env steps.Env, index int, p models.StepParams) (models.StepLog, error)
	Compensate(ctx context.Context, env steps.Env, sl models.StepLog, cause error)
}

type Builder struct {
	exec Executor
	log  *zap.Logger
}

func NewBuilder(exec Executor, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{exec: exec, log: log}
}

// Build validates every step before returning; a malformed entry fails the
// whole request so no partial chain is ever dispatched.
func (b *Builder) Build(spec models.JobSpec) (*Chain, error) {
	params, err := Parse(spec)
	if err != nil {
		return nil, err
	}
	return &Chain{
		SlotID:  spec.SlotID,
		BatchID: spec.BatchID,
		steps:   params,
		exec:    b.exec,
		log:     b.log.With(zap.String("slot", spec.SlotID)),
	}, nil
}

// Parse decodes the step list of spec into typed parameters with the slot id
// injected.
func Parse(spec models.JobSpec) ([]models.StepParams, error) {
	if strings.TrimSpace(spec.SlotID) == "" {
		return nil, fmt.Errorf("%w: slot id is required", models.ErrArgument)
	}
	if len(spec.Steps) == 0 {
		return nil, fmt.Errorf("%w: job has no steps", models.ErrArgument)
	}
	out := make([]models.StepParams, 0, len(spec.Steps))
	for i, sc := range spec.Steps {
		p, err := decode(spec.SlotID, sc)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// ParseKind resolves a step type tag, ignoring case.
func ParseKind(s string) (models.StepKind, error) {
	for _, k := range []models.StepKind{models.KindRest, models.KindCCCharge, models.KindCVCharge, models.KindDischarge} {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown step type %q", models.ErrArgument, s)
}

func decode(slotID string, sc models.StepConfig) (models.StepParams, error) {
	kind, err := ParseKind(string(sc.Type))
	if err != nil {
		return nil, err
	}
	raw := sc.Parameters
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = []byte("{}")
	}

	// encoding/json matches field names case-insensitively, which is what
	// loosely typed callers rely on.
	switch kind {
	case models.KindRest:
		var p models.RestParams
		if err := unmarshal(kind, raw, &p); err != nil {
			return nil, err
		}
		p.SlotID = slotID
		return p, positive(kind, "durationMinutes", p.DurationMinutes)
	case models.KindCCCharge:
		var p models.CCChargeParams
		if err := unmarshal(kind, raw, &p); err != nil {
			return nil, err
		}
		p.SlotID = slotID
		return p, firstErr(
			positive(kind, "targetCurrent", p.TargetCurrent),
			positive(kind, "cutoffVoltage", p.CutoffVoltage),
			positive(kind, "maxDurationMinutes", p.MaxDurationMinutes),
		)
	case models.KindCVCharge:
		var p models.CVChargeParams
		if err := unmarshal(kind, raw, &p); err != nil {
			return nil, err
		}
		p.SlotID = slotID
		return p, firstErr(
			positive(kind, "targetVoltage", p.TargetVoltage),
			positive(kind, "cutoffCurrent", p.CutoffCurrent),
			positive(kind, "maxDurationMinutes", p.MaxDurationMinutes),
		)
	case models.KindDischarge:
		var p models.DischargeParams
		if err := unmarshal(kind, raw, &p); err != nil {
			return nil, err
		}
		p.SlotID = slotID
		return p, firstErr(
			positive(kind, "targetCurrent", p.TargetCurrent),
			positive(kind, "cutoffVoltage", p.CutoffVoltage),
			positive(kind, "maxDurationMinutes", p.MaxDurationMinutes),
		)
	}
	return nil, fmt.Errorf("%w: unknown step type %q", models.ErrArgument, sc.Type)
}

func unmarshal(kind models.StepKind, raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s parameters: %v", models.ErrArgument, kind, err)
	}
	return nil
}

func positive(kind models.StepKind, field string, v float64) error {
	if v <= 0 {
		return fmt.Errorf("%w: %s %s must be > 0", models.ErrArgument, kind, field)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
