package models

import "time"

// Slot is an addressable warehouse location holding a tray of cells.
// Shared between the lifecycle, inventory and storage layers.
type Slot struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	Status      SlotStatus `json:"status"`
	TrayBarcode string     `json:"tray_barcode,omitempty"`
	CurrentStep string     `json:"current_step,omitempty"`
	Cells       []Cell     `json:"cells,omitempty"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewSlot returns an empty slot that has never been saved (Version 0).
func NewSlot(id string) *Slot {
	now := time.Now().UTC()
	return &Slot{
		ID:        id,
		Name:      id,
		Status:    StatusEmpty,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetStatus moves the slot to st and bumps the update timestamp.
func (s *Slot) SetStatus(st SlotStatus) {
	s.Status = st
	s.UpdatedAt = time.Now().UTC()
}

// Clear drops tray and cells and leaves the slot Empty.
func (s *Slot) Clear() {
	s.TrayBarcode = ""
	s.CurrentStep = ""
	s.Cells = nil
	s.SetStatus(StatusEmpty)
}

// LoadTray replaces the slot contents with a tray and its cells.
func (s *Slot) LoadTray(tray string, cells []Cell) {
	s.TrayBarcode = tray
	loaded := make([]Cell, 0, len(cells))
	for _, c := range cells {
		c.SlotID = s.ID
		c.Status = StatusOccupied
		c.UpdatedAt = time.Now().UTC()
		loaded = append(loaded, c)
	}
	s.Cells = loaded
	s.SetStatus(StatusOccupied)
}

// HasTray reports whether a tray is loaded.
func (s *Slot) HasTray() bool {
	return s.TrayBarcode != ""
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Slot) Clone() *Slot {
	if s == nil {
		return nil
	}
	out := *s
	if s.Cells != nil {
		out.Cells = make([]Cell, len(s.Cells))
		for i, c := range s.Cells {
			out.Cells[i] = c.clone()
		}
	}
	return &out
}

// Cell is a single battery cell identified by its barcode.
type Cell struct {
	Barcode      string        `json:"barcode"`
	ChannelIndex int           `json:"channel_index"`
	Reject       bool          `json:"reject"`
	SlotID       string        `json:"slot_id,omitempty"`
	ProcessSteps []ProcessStep `json:"process_steps,omitempty"`
	Status       SlotStatus    `json:"status"`
	Version      int64         `json:"version"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// AddProcessStep appends a completed step record.
func (c *Cell) AddProcessStep(p ProcessStep) {
	c.ProcessSteps = append(c.ProcessSteps, p)
	c.UpdatedAt = time.Now().UTC()
}

func (c Cell) clone() Cell {
	if c.ProcessSteps != nil {
		c.ProcessSteps = append([]ProcessStep(nil), c.ProcessSteps...)
	}
	return c
}

// ProcessStep records one completed test step for a cell.
type ProcessStep struct {
	StepID    string      `json:"step_id"`
	StepName  string      `json:"step_name"`
	StartTime time.Time   `json:"start_time"`
	EndTime   time.Time   `json:"end_time"`
	Metrics   StepMetrics `json:"metrics"`
}

// StepMetrics is the statistics snapshot taken at the end of a step.
type StepMetrics struct {
	StartVoltage   float64 `json:"start_voltage"`
	EndVoltage     float64 `json:"end_voltage"`
	AvgTemperature float64 `json:"avg_temperature"`
	MaxTemperature float64 `json:"max_temperature"`
	AvgCurrent     float64 `json:"avg_current"`
	Capacity       float64 `json:"capacity"`
}
