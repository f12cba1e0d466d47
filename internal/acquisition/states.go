package acquisition

import (
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/gpio"
	"github.com/KevinKickass/OpenSensorCore/internal/stats"
	"github.com/google/uuid"
)

// State is the controller state. Transitions run
// Idle -> Acquiring -> Finalizing -> Idle, or Acquiring -> Idle on failure.
type State string

const (
	StateIdle       State = "idle"
	StateAcquiring  State = "acquiring"
	StateFinalizing State = "finalizing"
)

// Trigger records what started a session.
type Trigger string

const (
	TriggerRequest Trigger = "request"
	TriggerEdge    Trigger = "edge"
)

// MaxSampleCount bounds Request.SampleCount.
const MaxSampleCount = 1000

// Request asks for one session.
type Request struct {
	// SampleCount of 0 selects the configured default.
	SampleCount int    `json:"sample_count"`
	Label       string `json:"label"`
}

// Sample is one decoded reading.
type Sample struct {
	Index  int       `json:"index"`
	Level  float64   `json:"level"`
	Signal uint16    `json:"signal"`
	At     time.Time `json:"at"`
}

// Result is the outcome of one successful session. It belongs to the caller
// once returned.
type Result struct {
	ID         uuid.UUID       `json:"id"`
	Label      string          `json:"label,omitempty"`
	Trigger    Trigger         `json:"trigger"`
	Edge       *gpio.EdgeEvent `json:"edge,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Requested  int             `json:"requested"`
	Failures   int             `json:"failures"`
	Samples    []Sample        `json:"samples"`
	Stats      stats.Record    `json:"stats"`
}

// Levels returns the decoded level of every sample in read order.
func (r *Result) Levels() []float64 {
	out := make([]float64, len(r.Samples))
	for i, s := range r.Samples {
		out[i] = s.Level
	}
	return out
}

// Status is a snapshot of the controller state and session counters.
type Status struct {
	State           State     `json:"state"`
	SessionID       string    `json:"session_id,omitempty"`
	LastResultID    string    `json:"last_result_id,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	Completed       int       `json:"sessions_completed"`
	Failed          int       `json:"sessions_failed"`
	Rejected        int       `json:"sessions_rejected"`
	LastStateChange time.Time `json:"last_state_change"`
}
