// Package ultrasonic reads distances from an HC-SR04 style trigger/echo
// ranging sensor.
package ultrasonic

import (
	"math"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/feedr/pkg/hw"
)

// CentimetersPerSecond converts a round-trip echo duration into a one-way
// distance: the speed of sound (34300 cm/s) halved.
const CentimetersPerSecond = 17150

const (
	DefaultSettle  = 50 * time.Millisecond
	DefaultPulse   = 10 * time.Microsecond
	DefaultTimeout = 100 * time.Millisecond
)

type Sensor struct {
	trigger hw.DigitalOutput
	echo    hw.DigitalInput

	settle  time.Duration
	pulse   time.Duration
	timeout time.Duration

	now   hw.Clock
	sleep func(time.Duration)
}

type Option func(*Sensor)

// WithTimeout bounds each wait on the echo line. Zero waits forever.
func WithTimeout(d time.Duration) Option {
	return func(s *Sensor) { s.timeout = d }
}

// WithSettle overrides how long the trigger is held low before a pulse.
func WithSettle(d time.Duration) Option {
	return func(s *Sensor) { s.settle = d }
}

func WithClock(now hw.Clock, sleep func(time.Duration)) Option {
	return func(s *Sensor) {
		s.now = now
		s.sleep = sleep
	}
}

func New(trigger hw.DigitalOutput, echo hw.DigitalInput, opts ...Option) *Sensor {
	s := &Sensor{
		trigger: trigger,
		echo:    echo,
		settle:  DefaultSettle,
		pulse:   DefaultPulse,
		timeout: DefaultTimeout,
		now:     time.Now,
		sleep:   time.Sleep,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MeasureDistance fires one trigger pulse and times the echo. The result
// is in centimeters, rounded to two decimals. hw.ErrSensorTimeout is
// returned if the echo never rises or never falls.
func (s *Sensor) MeasureDistance() (float64, error) {
	if err := s.trigger.Set(false); err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to reset trigger")
	}
	s.sleep(s.settle)

	if err := s.trigger.Set(true); err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to raise trigger")
	}
	hw.Spin(s.pulse, s.now)
	if err := s.trigger.Set(false); err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to lower trigger")
	}

	// The pulse starts at the first sample that reads high, never before.
	start, err := hw.WaitForLevel(s.echo, true, s.timeout, s.now)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "echo did not rise")
	}
	end, err := hw.WaitForLevel(s.echo, false, s.timeout, s.now)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "echo did not fall")
	}

	return DistanceFromEcho(end.Sub(start)), nil
}

// DistanceFromEcho converts an echo pulse width to centimeters.
func DistanceFromEcho(d time.Duration) float64 {
	return math.Round(d.Seconds()*CentimetersPerSecond*100) / 100
}
