package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// StepKind is the wire tag of a step type.
type StepKind string

const (
	KindRest      StepKind = "Rest"
	KindCCCharge  StepKind = "CC_Charge"
	KindCVCharge  StepKind = "CV_Charge"
	KindDischarge StepKind = "Discharge"
)

// DisplayName is the operator-facing label of the step kind.
func (k StepKind) DisplayName() string {
	switch k {
	case KindRest:
		return "Rest"
	case KindCCCharge:
		return "CC Charge"
	case KindCVCharge:
		return "CV Charge"
	case KindDischarge:
		return "Discharge"
	}
	return string(k)
}

// StepConfig is one entry of a job request: a type tag and an untyped parameter bag.
type StepConfig struct {
	Type       StepKind        `json:"type" yaml:"type"`
	Parameters json.RawMessage `json:"parameters,omitempty" yaml:"-"`
}

// UnmarshalYAML lets job files write parameters as a plain mapping.
func (c *StepConfig) UnmarshalYAML(n *yaml.Node) error {
	var raw struct {
		Type       StepKind       `yaml:"type"`
		Parameters map[string]any `yaml:"parameters"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	c.Type = raw.Type
	c.Parameters = nil
	if raw.Parameters == nil {
		return nil
	}
	b, err := json.Marshal(raw.Parameters)
	if err != nil {
		return fmt.Errorf("%w: step %s parameters: %v", ErrArgument, raw.Type, err)
	}
	c.Parameters = b
	return nil
}

// JobSpec describes one run of an ordered step chain against a slot.
type JobSpec struct {
	SlotID  string       `json:"slot_id" yaml:"slot_id"`
	BatchID string       `json:"batch_id,omitempty" yaml:"batch_id"`
	Steps   []StepConfig `json:"steps" yaml:"steps"`
}

// StepParams is the closed set of typed step arguments.
type StepParams interface {
	Kind() StepKind
	Slot() string
	sealed()
}

// RestParams holds the cell at rest for a fixed time.
type RestParams struct {
	SlotID          string  `json:"slotId"`
	DurationMinutes float64 `json:"durationMinutes"`
}

// CCChargeParams charges at constant current until the cutoff voltage.
type CCChargeParams struct {
	SlotID             string  `json:"slotId"`
	TargetCurrent      float64 `json:"targetCurrent"`
	CutoffVoltage      float64 `json:"cutoffVoltage"`
	MaxDurationMinutes float64 `json:"maxDurationMinutes"`
}

// CVChargeParams holds a constant voltage until current decays to the cutoff.
type CVChargeParams struct {
	SlotID             string  `json:"slotId"`
	TargetVoltage      float64 `json:"targetVoltage"`
	CutoffCurrent      float64 `json:"cutoffCurrent"`
	MaxDurationMinutes float64 `json:"maxDurationMinutes"`
}

// DischargeParams discharges at constant current down to the cutoff voltage.
type DischargeParams struct {
	SlotID             string  `json:"slotId"`
	TargetCurrent      float64 `json:"targetCurrent"`
	CutoffVoltage      float64 `json:"cutoffVoltage"`
	MaxDurationMinutes float64 `json:"maxDurationMinutes"`
}

func (RestParams) Kind() StepKind      { return KindRest }
func (CCChargeParams) Kind() StepKind  { return KindCCCharge }
func (CVChargeParams) Kind() StepKind  { return KindCVCharge }
func (DischargeParams) Kind() StepKind { return KindDischarge }

func (p RestParams) Slot() string      { return p.SlotID }
func (p CCChargeParams) Slot() string  { return p.SlotID }
func (p CVChargeParams) Slot() string  { return p.SlotID }
func (p DischargeParams) Slot() string { return p.SlotID }

func (RestParams) sealed()      {}
func (CCChargeParams) sealed()  {}
func (CVChargeParams) sealed()  {}
func (DischargeParams) sealed() {}

// Minutes converts a fractional minute parameter to a duration.
func Minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

// StepLog is what a finished step hands to the chain driver.
type StepLog struct {
	Kind      StepKind    `json:"kind"`
	SlotID    string      `json:"slot_id"`
	StepIndex int         `json:"step_index"`
	Capacity  float64     `json:"capacity_ah"`
	StartTime time.Time   `json:"start_time"`
	EndTime   time.Time   `json:"end_time"`
	EndReason string      `json:"end_reason"`
	Metrics   StepMetrics `json:"metrics"`
}
