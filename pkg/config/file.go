package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/charlie0129/feedr/pkg/utils/ptr"
)

var (
	defaultPins = PinConfig{
		Trigger:       "GPIO23",
		Echo:          "GPIO24",
		Servo:         "GPIO17",
		LoadCellData:  "GPIO5",
		LoadCellClock: "GPIO6",
	}

	defaultFileConfig = &RawFileConfig{
		ServoBackend: ptr.To(ServoBackendPeriph),
		WeightSensor: ptr.To(true),
		// Reference unit the feeder shipped with. Run "feedr calibrate" for
		// a value that matches the actual load cell.
		ScaleFactor: ptr.To(22.0),

		DistanceThresholdCm: ptr.To(30.0),
		PollInterval:        ptr.To(Duration(time.Second)),
		OpenSettle:          ptr.To(Duration(time.Second)),
		SimulatedDispense:   ptr.To(Duration(5 * time.Second)),
		WeighInterval:       ptr.To(Duration(500 * time.Millisecond)),
		ServoDwell:          ptr.To(Duration(500 * time.Millisecond)),
		SensorTimeout:       ptr.To(Duration(100 * time.Millisecond)),
		MaxSensorTimeouts:   ptr.To(5),
		// The HX711 converts at 10 Hz by default, so a sample can take
		// ~100ms to become ready.
		LoadCellReadyTimeout: ptr.To(Duration(500 * time.Millisecond)),

		MinPresence:   ptr.To(Duration(10 * time.Second)),
		DetectTimeout: ptr.To(Duration(0)),
		OutputDir:     ptr.To("/home/pi/auto_feeder/output"),

		VoiceDir:    ptr.To("/home/pi/auto_feeder/voices"),
		VoicePlayer: []string{"mpg123"},

		ListenAddr:     ptr.To(":5000"),
		SchedulePath:   ptr.To("saved_schedules.json"),
		HistoryBackend: ptr.To("json"),
		HistoryPath:    ptr.To("feeding_history.json"),
		CycleTimeout:   ptr.To(Duration(120 * time.Second)),
		LockPath:       ptr.To("/var/run/feedr.lock"),
	}
)

// File is a configuration backed by a JSON or YAML file. The format is
// chosen by extension: ".yaml" and ".yml" are YAML, anything else JSON.
type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

func (f *File) Path() string {
	return f.filepath
}

func (f *File) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(f.filepath))
	return ext == ".yaml" || ext == ".yml"
}

func get[T any](f *File, field func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if v := field(f.c); v != nil {
		return *v
	}
	return *field(defaultFileConfig)
}

func getSlice(f *File, field func(*RawFileConfig) []string) []string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if v := field(f.c); len(v) > 0 {
		return append([]string(nil), v...)
	}
	return append([]string(nil), field(defaultFileConfig)...)
}

func (f *File) pin(field func(PinConfig) string) string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c.Pins != nil {
		if v := field(*f.c.Pins); v != "" {
			return v
		}
	}
	return field(defaultPins)
}

func (f *File) TriggerPin() string {
	return f.pin(func(p PinConfig) string { return p.Trigger })
}

func (f *File) EchoPin() string {
	return f.pin(func(p PinConfig) string { return p.Echo })
}

func (f *File) ServoPin() string {
	return f.pin(func(p PinConfig) string { return p.Servo })
}

func (f *File) LoadCellDataPin() string {
	return f.pin(func(p PinConfig) string { return p.LoadCellData })
}

func (f *File) LoadCellClockPin() string {
	return f.pin(func(p PinConfig) string { return p.LoadCellClock })
}

func (f *File) ServoBackend() string {
	return get(f, func(c *RawFileConfig) *string { return c.ServoBackend })
}

func (f *File) WeightSensor() bool {
	return get(f, func(c *RawFileConfig) *bool { return c.WeightSensor })
}

func (f *File) ScaleFactor() float64 {
	return get(f, func(c *RawFileConfig) *float64 { return c.ScaleFactor })
}

func (f *File) DistanceThreshold() float64 {
	return get(f, func(c *RawFileConfig) *float64 { return c.DistanceThresholdCm })
}

func (f *File) PollInterval() time.Duration {
	return get(f, func(c *RawFileConfig) *Duration { return c.PollInterval }).Std()
}

func (f *File) OpenSettle() time.Duration {
	return get(f, func(c *RawFileConfig) *Duration { return c.OpenSettle }).Std()
}

func (f *File) SimulatedDispense() time.Duration {
	return get(f, func(c *RawFileConfig) *Duration { return c.SimulatedDispense }).Std()
}

func (f *File) WeighInterval() time.Duration {
	return get(f, func(c *RawFileConfig) *Duration { return c.WeighInterval }).Std()
}

func (f *File) ServoDwell() time.Duration {
	return get(f, func(c *RawFileConfig) *Duration { return c.ServoDwell }).Std()
}

// SensorTimeout bounds every wait on an input line. Zero disables it.
func (f *File) SensorTimeout() time.Duration {
	return get(f, func(c *RawFileConfig) *Duration { return c.SensorTimeout }).Std()
}

func (f *File) MaxSensorTimeouts() int {
	return get(f, func(c *RawFileConfig) *int { return c.MaxSensorTimeouts })
}

// LoadCellReadyTimeout bounds the wait for the HX711 to finish a
// conversion. It is separate from SensorTimeout because the amplifier is
// much slower than the ultrasonic echo.
func (f *File) LoadCellReadyTimeout() time.Duration {
	return get(f, func(c *RawFileConfig) *Duration { return c.LoadCellReadyTimeout }).Std()
}

func (f *File) MinPresence() time.Duration {
	return get(f, func(c *RawFileConfig) *Duration { return c.MinPresence }).Std()
}

func (f *File) DetectTimeout() time.Duration {
	return get(f, func(c *RawFileConfig) *Duration { return c.DetectTimeout }).Std()
}

// DetectorCommand is the classifier to run. Empty means no camera.
func (f *File) DetectorCommand() []string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return append([]string(nil), f.c.DetectorCommand...)
}

func (f *File) OutputDir() string {
	return get(f, func(c *RawFileConfig) *string { return c.OutputDir })
}

func (f *File) VoiceDir() string {
	return get(f, func(c *RawFileConfig) *string { return c.VoiceDir })
}

func (f *File) VoicePlayer() []string {
	return getSlice(f, func(c *RawFileConfig) []string { return c.VoicePlayer })
}

func (f *File) ListenAddr() string {
	return get(f, func(c *RawFileConfig) *string { return c.ListenAddr })
}

func (f *File) SchedulePath() string {
	return get(f, func(c *RawFileConfig) *string { return c.SchedulePath })
}

func (f *File) HistoryBackend() string {
	return get(f, func(c *RawFileConfig) *string { return c.HistoryBackend })
}

func (f *File) HistoryPath() string {
	return get(f, func(c *RawFileConfig) *string { return c.HistoryPath })
}

func (f *File) CycleTimeout() time.Duration {
	return get(f, func(c *RawFileConfig) *Duration { return c.CycleTimeout }).Std()
}

func (f *File) LockPath() string {
	return get(f, func(c *RawFileConfig) *string { return c.LockPath })
}

func (f *File) SetScaleFactor(v float64) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.ScaleFactor = &v
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	if f.isYAML() {
		err = yaml.Unmarshal(b, &conf)
	} else {
		err = json.Unmarshal(b, &conf)
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

// Reload reads the file again and adopts it only if it loads and
// validates. On error the current configuration is left untouched.
func (f *File) Reload() error {
	next, err := NewFile(f.filepath)
	if err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c = next.c
	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	var (
		b   []byte
		err error
	)
	if f.isYAML() {
		b, err = yaml.Marshal(f.c)
	} else {
		b, err = json.MarshalIndent(f.c, "", "  ")
		b = append(b, '\n')
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to marshal config")
	}

	if err := os.WriteFile(f.filepath, b, 0644); err != nil {
		return pkgerrors.Wrapf(err, "failed to write file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"servoBackend":         f.ServoBackend(),
		"weightSensor":         f.WeightSensor(),
		"scaleFactor":          f.ScaleFactor(),
		"distanceThresholdCm":  f.DistanceThreshold(),
		"sensorTimeout":        f.SensorTimeout(),
		"loadCellReadyTimeout": f.LoadCellReadyTimeout(),
		"detector":             strings.Join(f.DetectorCommand(), " "),
		"listenAddr":           f.ListenAddr(),
		"historyBackend":       f.HistoryBackend(),
	}
}
