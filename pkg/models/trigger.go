package models

import "time"

// TriggerCause says why a cycle fired.
type TriggerCause string

const (
	CauseScheduled TriggerCause = "SCHEDULED"
	CauseManual    TriggerCause = "MANUAL"
	CauseEmergency TriggerCause = "EMERGENCY"
)

// Trigger is one request to run a cycle for a pair. FireTime is monotonic per
// pair; the scheduler never re-delivers an earlier instant.
type Trigger struct {
	Pair     Pair         `json:"pair"`
	Interval Interval     `json:"interval"`
	FireTime time.Time    `json:"fire_time"`
	Cause    TriggerCause `json:"cause"`
	Reason   string       `json:"reason,omitempty"`
}
