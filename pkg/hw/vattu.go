package hw

import (
	"strconv"
	"strings"

	"github.com/hjkoskel/govattu"
	pkgerrors "github.com/pkg/errors"
)

const (
	// 19.2 MHz / 19 / 20000 gives roughly a 50 Hz frame.
	vattuClockDivisor = 19
	vattuRange        = 20000
)

// VattuPWM drives the BCM2835 hardware PWM0 channel through /dev/mem.
// Only GPIO18 (ALT5) routes to PWM0, which is the line most servo hats use.
type VattuPWM struct {
	set   func(v uint32)
	close func() error
}

// BCMLine extracts the Broadcom line number from a name such as "GPIO18".
func BCMLine(name string) (uint8, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToUpper(name), "GPIO"), 10, 8)
	if err != nil {
		return 0, pkgerrors.Errorf("invalid GPIO line name %q", name)
	}
	return uint8(n), nil
}

// OpenVattuPWM maps the peripheral registers and configures PWM0 on the
// named line in mark-space mode.
func OpenVattuPWM(name string) (*VattuPWM, error) {
	line, err := BCMLine(name)
	if err != nil {
		return nil, err
	}
	if line != 18 {
		return nil, pkgerrors.Errorf("hardware PWM servo backend requires GPIO18, got %s", name)
	}

	hw, err := govattu.Open()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to map BCM peripherals")
	}

	hw.PinMode(line, govattu.ALT5)
	hw.PwmSetMode(true, true, false, false)
	hw.PwmSetClock(vattuClockDivisor)
	hw.Pwm0SetRange(vattuRange)
	hw.Pwm0Set(0)

	return &VattuPWM{
		set:   func(v uint32) { hw.Pwm0Set(v) },
		close: func() error { return hw.Close() },
	}, nil
}

func (v *VattuPWM) SetDutyCycle(percent float64) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	v.set(uint32(percent / 100 * vattuRange))
	return nil
}

func (v *VattuPWM) Close() error {
	v.set(0)
	return v.close()
}
