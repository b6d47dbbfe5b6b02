package models

import "fmt"

// SlotStatus is the lifecycle state shared by slots and cells.
type SlotStatus int

const (
	StatusEmpty    SlotStatus = 0
	StatusOccupied SlotStatus = 1
	StatusRunning  SlotStatus = 2
	StatusPaused   SlotStatus = 3
	StatusError    SlotStatus = 99
)

var statusNames = map[SlotStatus]string{
	StatusEmpty:    "Empty",
	StatusOccupied: "Occupied",
	StatusRunning:  "Running",
	StatusPaused:   "Paused",
	StatusError:    "Error",
}

func (s SlotStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("SlotStatus(%d)", int(s))
}

// Active reports whether a job owns the slot (Running or Paused).
func (s SlotStatus) Active() bool {
	return s == StatusRunning || s == StatusPaused
}

func (s SlotStatus) MarshalText() ([]byte, error) {
	n, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown slot status %d", int(s))
	}
	return []byte(n), nil
}

func (s *SlotStatus) UnmarshalText(b []byte) error {
	st, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseStatus accepts the status name as produced by String.
func ParseStatus(name string) (SlotStatus, error) {
	for st, n := range statusNames {
		if n == name {
			return st, nil
		}
	}
	return StatusEmpty, fmt.Errorf("%w: unknown slot status %q", ErrArgument, name)
}
