package feeding

import (
	"time"

	pkgerrors "github.com/pkg/errors"
)

// State is a step of a feeding cycle.
type State string

const (
	StateIdle       State = "Idle"
	StateSensing    State = "Sensing"
	StateDetecting  State = "Detecting"
	StateDispensing State = "Dispensing"
	StateWeighing   State = "Weighing"
	StateDone       State = "Done"
)

// Transition is reported every time the controller enters a state,
// including repeated entries of Sensing and Weighing on each poll.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Request describes one feeding. It does not change once a cycle starts.
type Request struct {
	AnimalID    string
	VoiceClipID string
	TargetGrams int
}

func (r Request) Validate() error {
	if r.AnimalID == "" {
		return pkgerrors.New("animal id is required")
	}
	if r.TargetGrams <= 0 {
		return pkgerrors.Errorf("target amount must be positive, got %d", r.TargetGrams)
	}
	return nil
}

// Timing holds the coarse pacing of a cycle.
type Timing struct {
	PollInterval      time.Duration
	OpenSettle        time.Duration
	SimulatedDispense time.Duration
	WeighInterval     time.Duration
	// DetectTimeout bounds one presence detection. Zero waits forever.
	DetectTimeout time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		PollInterval:      time.Second,
		OpenSettle:        time.Second,
		SimulatedDispense: 5 * time.Second,
		WeighInterval:     500 * time.Millisecond,
	}
}
