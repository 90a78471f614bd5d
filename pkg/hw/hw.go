// Package hw abstracts the GPIO lines and PWM channels used by the feeder.
//
// Drivers in sibling packages only depend on the small interfaces defined
// here, so they can be exercised against the in-memory fakes in fake.go
// instead of a real Raspberry Pi.
package hw

import (
	"time"

	pkgerrors "github.com/pkg/errors"
)

// ErrSensorTimeout is returned when an input line does not reach the
// expected level within the allotted time.
var ErrSensorTimeout = pkgerrors.New("sensor timed out waiting for input level")

// DigitalOutput is a GPIO line driven by the controller.
type DigitalOutput interface {
	Set(high bool) error
}

// DigitalInput is a GPIO line sampled by the controller.
type DigitalInput interface {
	Read() bool
}

// PWMOutput is a pulse-width-modulated channel. A duty cycle of 0 stops
// the pulse train.
type PWMOutput interface {
	SetDutyCycle(percent float64) error
}

// Clock returns the current time. Drivers take a Clock so that timing
// sensitive code can be driven by FakeClock in tests.
type Clock func() time.Time

// WaitForLevel spins until in reads level and returns the time at which
// the level was observed. A timeout <= 0 waits forever.
func WaitForLevel(in DigitalInput, level bool, timeout time.Duration, now Clock) (time.Time, error) {
	if now == nil {
		now = time.Now
	}

	deadline := now().Add(timeout)
	for {
		t := now()
		if in.Read() == level {
			return t, nil
		}
		if timeout > 0 && t.After(deadline) {
			return t, ErrSensorTimeout
		}
	}
}

// Spin busy-waits for d. time.Sleep is far too coarse for the
// microsecond pulses some sensors need.
func Spin(d time.Duration, now Clock) {
	if now == nil {
		now = time.Now
	}
	end := now().Add(d)
	for now().Before(end) {
	}
}
