package hw

import (
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// ServoFrequency is the PWM frequency hobby servos expect.
const ServoFrequency = 50 * physic.Hertz

var (
	periphOnce sync.Once
	periphErr  error
)

// InitPeriph loads the periph host drivers. It is safe to call more than once.
func InitPeriph() error {
	periphOnce.Do(func() {
		state, err := host.Init()
		if err != nil {
			periphErr = pkgerrors.Wrapf(err, "failed to initialize GPIO host drivers")
			return
		}
		for _, d := range state.Loaded {
			logrus.WithField("driver", d.String()).Trace("loaded host driver")
		}
	})
	return periphErr
}

// PeriphPin is a GPIO line backed by periph.io. It satisfies DigitalOutput
// and DigitalInput.
type PeriphPin struct {
	pin gpio.PinIO
}

func lookupPin(name string) (gpio.PinIO, error) {
	if err := InitPeriph(); err != nil {
		return nil, err
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, pkgerrors.Errorf("no GPIO line named %q", name)
	}
	return p, nil
}

// OpenOutput configures name as an output driven low.
func OpenOutput(name string) (*PeriphPin, error) {
	p, err := lookupPin(name)
	if err != nil {
		return nil, err
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to configure %s as output", name)
	}
	return &PeriphPin{pin: p}, nil
}

// OpenInput configures name as a floating input.
func OpenInput(name string) (*PeriphPin, error) {
	p, err := lookupPin(name)
	if err != nil {
		return nil, err
	}
	if err := p.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to configure %s as input", name)
	}
	return &PeriphPin{pin: p}, nil
}

func (p *PeriphPin) Set(high bool) error {
	return p.pin.Out(gpio.Level(high))
}

func (p *PeriphPin) Read() bool {
	return p.pin.Read() == gpio.High
}

func (p *PeriphPin) String() string {
	return p.pin.Name()
}

// Close stops any activity on the line and leaves it in its default state.
func (p *PeriphPin) Close() error {
	return p.pin.Halt()
}

// PeriphPWM is a PWM channel backed by periph.io. On lines without a
// hardware PWM block the host driver falls back to a software pulse train.
type PeriphPWM struct {
	pin  gpio.PinIO
	freq physic.Frequency
}

// OpenPWM configures name as a PWM output at freq. The line starts low.
func OpenPWM(name string, freq physic.Frequency) (*PeriphPWM, error) {
	p, err := lookupPin(name)
	if err != nil {
		return nil, err
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to configure %s as PWM output", name)
	}
	return &PeriphPWM{pin: p, freq: freq}, nil
}

func (p *PeriphPWM) SetDutyCycle(percent float64) error {
	if percent <= 0 {
		return p.pin.Out(gpio.Low)
	}
	if percent > 100 {
		percent = 100
	}
	duty := gpio.Duty(percent / 100 * float64(gpio.DutyMax))
	if err := p.pin.PWM(duty, p.freq); err != nil {
		return pkgerrors.Wrapf(err, "failed to set duty cycle %.2f%% on %s", percent, p.pin.Name())
	}
	return nil
}

func (p *PeriphPWM) Close() error {
	return p.pin.Halt()
}
