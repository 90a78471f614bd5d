// Package servo positions the hobby servo that opens and closes the food
// gate.
package servo

import (
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/feedr/pkg/hw"
)

const (
	AngleClosed = 0
	AngleOpen   = 90

	MinAngle = 0
	MaxAngle = 180

	DefaultDwell = 500 * time.Millisecond
)

var ErrAngleOutOfRange = pkgerrors.New("servo angle out of range")

// Servo drives a PWM channel at 50 Hz. After each move the pulse train is
// stopped so the horn does not jitter while idle.
type Servo struct {
	pwm   hw.PWMOutput
	dwell time.Duration
	sleep func(time.Duration)

	mu    sync.Mutex
	angle int
	moved bool
}

type Option func(*Servo)

// WithDwell sets how long the pulse is held before it is released.
func WithDwell(d time.Duration) Option {
	return func(s *Servo) { s.dwell = d }
}

func WithSleep(sleep func(time.Duration)) Option {
	return func(s *Servo) { s.sleep = sleep }
}

func New(pwm hw.PWMOutput, opts ...Option) *Servo {
	s := &Servo{
		pwm:   pwm,
		dwell: DefaultDwell,
		sleep: time.Sleep,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DutyForAngle maps 0..180 degrees onto a 2..12% duty cycle.
func DutyForAngle(angle int) float64 {
	return float64(angle)/18 + 2
}

func (s *Servo) SetAngle(angle int) error {
	if angle < MinAngle || angle > MaxAngle {
		return pkgerrors.Wrapf(ErrAngleOutOfRange, "%d not in [%d, %d]", angle, MinAngle, MaxAngle)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	duty := DutyForAngle(angle)
	logrus.WithFields(logrus.Fields{
		"angle": angle,
		"duty":  duty,
	}).Trace("moving servo")

	if err := s.pwm.SetDutyCycle(duty); err != nil {
		return pkgerrors.Wrapf(err, "failed to move servo to %d°", angle)
	}
	s.sleep(s.dwell)
	if err := s.pwm.SetDutyCycle(0); err != nil {
		return pkgerrors.Wrapf(err, "failed to release servo")
	}

	s.angle = angle
	s.moved = true
	return nil
}

// Angle returns the last commanded angle and whether any move happened.
func (s *Servo) Angle() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angle, s.moved
}
