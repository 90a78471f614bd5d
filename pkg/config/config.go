package config

import (
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string ("1s",
// "500ms") in both JSON and YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return pkgerrors.Wrapf(err, "duration must be a string such as \"1s\"")
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return pkgerrors.Wrapf(err, "line %d: duration must be a string such as \"1s\"", value.Line)
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return pkgerrors.Wrapf(err, "invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

// PinConfig names the GPIO lines, e.g. "GPIO23".
type PinConfig struct {
	Trigger       string `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Echo          string `json:"echo,omitempty" yaml:"echo,omitempty"`
	Servo         string `json:"servo,omitempty" yaml:"servo,omitempty"`
	LoadCellData  string `json:"loadCellData,omitempty" yaml:"loadCellData,omitempty"`
	LoadCellClock string `json:"loadCellClock,omitempty" yaml:"loadCellClock,omitempty"`
}

const (
	ServoBackendPeriph  = "periph"
	ServoBackendGovattu = "govattu"
)

// RawFileConfig is the on-disk shape. Unset fields fall back to defaults.
type RawFileConfig struct {
	Pins         *PinConfig `json:"pins,omitempty" yaml:"pins,omitempty"`
	ServoBackend *string    `json:"servoBackend,omitempty" yaml:"servoBackend,omitempty"`
	WeightSensor *bool      `json:"weightSensor,omitempty" yaml:"weightSensor,omitempty"`
	ScaleFactor  *float64   `json:"scaleFactor,omitempty" yaml:"scaleFactor,omitempty"`

	DistanceThresholdCm *float64  `json:"distanceThresholdCm,omitempty" yaml:"distanceThresholdCm,omitempty"`
	PollInterval        *Duration `json:"pollInterval,omitempty" yaml:"pollInterval,omitempty"`
	OpenSettle          *Duration `json:"openSettle,omitempty" yaml:"openSettle,omitempty"`
	SimulatedDispense   *Duration `json:"simulatedDispense,omitempty" yaml:"simulatedDispense,omitempty"`
	WeighInterval       *Duration `json:"weighInterval,omitempty" yaml:"weighInterval,omitempty"`
	ServoDwell          *Duration `json:"servoDwell,omitempty" yaml:"servoDwell,omitempty"`
	SensorTimeout       *Duration `json:"sensorTimeout,omitempty" yaml:"sensorTimeout,omitempty"`
	MaxSensorTimeouts   *int      `json:"maxSensorTimeouts,omitempty" yaml:"maxSensorTimeouts,omitempty"`

	LoadCellReadyTimeout *Duration `json:"loadCellReadyTimeout,omitempty" yaml:"loadCellReadyTimeout,omitempty"`

	MinPresence     *Duration `json:"minPresence,omitempty" yaml:"minPresence,omitempty"`
	DetectTimeout   *Duration `json:"detectTimeout,omitempty" yaml:"detectTimeout,omitempty"`
	DetectorCommand []string  `json:"detectorCommand,omitempty" yaml:"detectorCommand,omitempty"`
	OutputDir       *string   `json:"outputDir,omitempty" yaml:"outputDir,omitempty"`

	VoiceDir    *string  `json:"voiceDir,omitempty" yaml:"voiceDir,omitempty"`
	VoicePlayer []string `json:"voicePlayer,omitempty" yaml:"voicePlayer,omitempty"`

	ListenAddr     *string   `json:"listenAddr,omitempty" yaml:"listenAddr,omitempty"`
	SchedulePath   *string   `json:"schedulePath,omitempty" yaml:"schedulePath,omitempty"`
	HistoryBackend *string   `json:"historyBackend,omitempty" yaml:"historyBackend,omitempty"`
	HistoryPath    *string   `json:"historyPath,omitempty" yaml:"historyPath,omitempty"`
	CycleTimeout   *Duration `json:"cycleTimeout,omitempty" yaml:"cycleTimeout,omitempty"`
	LockPath       *string   `json:"lockPath,omitempty" yaml:"lockPath,omitempty"`
}
