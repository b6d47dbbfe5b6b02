package models

import "time"

// StepEventType enumerates step-state transitions.
type StepEventType string

const (
	StepStarted   StepEventType = "Started"
	StepRunning   StepEventType = "Running"
	StepCompleted StepEventType = "Completed"
	StepFaulted   StepEventType = "Faulted"
	StepPaused    StepEventType = "Paused"
	StepResumed   StepEventType = "Resumed"
)

// Telemetry is the per-tick snapshot of live quantities for a slot.
type Telemetry struct {
	EventID         string        `json:"event_id"`
	SlotID          string        `json:"slot_id"`
	TrayBarcode     string        `json:"tray_barcode"`
	Voltage         float64       `json:"voltage"`
	Current         float64       `json:"current"`
	Temperature     float64       `json:"temperature"`
	Capacity        float64       `json:"capacity"`
	CurrentStepName string        `json:"current_step_name"`
	RunDuration     time.Duration `json:"run_duration"`
	Timestamp       time.Time     `json:"timestamp"`
}

// StepState is emitted on a step lifecycle transition.
type StepState struct {
	EventID          string        `json:"event_id"`
	SlotID           string        `json:"slot_id"`
	EventType        StepEventType `json:"event_type"`
	StepName         string        `json:"step_name"`
	StepIndex        int           `json:"step_index"`
	ProgressPercent  float64       `json:"progress_percent"`
	RemainingMinutes float64       `json:"remaining_minutes"`
	Message          string        `json:"message"`
	Timestamp        time.Time     `json:"timestamp"`
}
