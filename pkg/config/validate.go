package config

import (
	"math"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Validate checks that the effective configuration is usable. It does not
// modify the configuration.
func (f *File) Validate() error {
	pins := map[string]string{
		"trigger":       f.TriggerPin(),
		"echo":          f.EchoPin(),
		"servo":         f.ServoPin(),
		"loadCellData":  f.LoadCellDataPin(),
		"loadCellClock": f.LoadCellClockPin(),
	}
	owner := make(map[string]string, len(pins))
	for _, role := range []string{"trigger", "echo", "servo", "loadCellData", "loadCellClock"} {
		name := pins[role]
		if prev, ok := owner[name]; ok {
			return pkgerrors.Errorf("pins: %s and %s both use %s", prev, role, name)
		}
		owner[name] = role
	}

	switch f.ServoBackend() {
	case ServoBackendPeriph, ServoBackendGovattu:
	default:
		return pkgerrors.Errorf("servoBackend: unknown backend %q", f.ServoBackend())
	}

	switch f.HistoryBackend() {
	case "json", "sqlite":
	default:
		return pkgerrors.Errorf("historyBackend: unknown backend %q", f.HistoryBackend())
	}

	if sf := f.ScaleFactor(); sf == 0 || math.IsNaN(sf) || math.IsInf(sf, 0) {
		return pkgerrors.Errorf("scaleFactor: must be a finite non-zero number, got %v", sf)
	}
	if th := f.DistanceThreshold(); th <= 0 || math.IsNaN(th) {
		return pkgerrors.Errorf("distanceThresholdCm: must be positive, got %v", th)
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"pollInterval", f.PollInterval()},
		{"weighInterval", f.WeighInterval()},
		{"servoDwell", f.ServoDwell()},
		{"cycleTimeout", f.CycleTimeout()},
		{"loadCellReadyTimeout", f.LoadCellReadyTimeout()},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return pkgerrors.Errorf("%s: must be positive, got %s", p.name, p.d)
		}
	}

	nonNegative := []struct {
		name string
		d    time.Duration
	}{
		{"openSettle", f.OpenSettle()},
		{"simulatedDispense", f.SimulatedDispense()},
		{"sensorTimeout", f.SensorTimeout()},
		{"minPresence", f.MinPresence()},
		{"detectTimeout", f.DetectTimeout()},
	}
	for _, p := range nonNegative {
		if p.d < 0 {
			return pkgerrors.Errorf("%s: must not be negative, got %s", p.name, p.d)
		}
	}

	if f.MaxSensorTimeouts() < 0 {
		return pkgerrors.Errorf("maxSensorTimeouts: must not be negative, got %d", f.MaxSensorTimeouts())
	}
	if f.ListenAddr() == "" {
		return pkgerrors.New("listenAddr: must not be empty")
	}

	return nil
}
