// Package config loads the keypad-monitor configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/keypad-monitor/internal/gpio"
	"github.com/sweeney/keypad-monitor/internal/health"
	"github.com/sweeney/keypad-monitor/internal/input"
	"github.com/sweeney/keypad-monitor/internal/keypad"
	"github.com/sweeney/keypad-monitor/internal/mqtt"
	"github.com/sweeney/keypad-monitor/internal/stmpe"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/keypad-monitor/config.yaml"

// ErrInvalid is returned for any configuration that fails validation.
var ErrInvalid = errors.New("config: invalid")

// Duration is a time.Duration written as a string such as "200ms".
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML parses a duration scalar.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// KeyCell places a logical key at a row and column.
type KeyCell struct {
	Row int `toml:"row" yaml:"row"`
	Col int `toml:"col" yaml:"col"`
	Key int `toml:"key" yaml:"key"`
}

// BusConfig selects the I2C bus and controller address.
type BusConfig struct {
	Name    string `toml:"name" yaml:"name"`
	Address uint16 `toml:"address" yaml:"address"`
}

// GPIOConfig holds host line offsets; -1 means unset.
type GPIOConfig struct {
	Chip        string `toml:"chip" yaml:"chip"`
	Reset       int    `toml:"reset" yaml:"reset"`
	Interrupt   int    `toml:"interrupt" yaml:"interrupt"`
	Regulator   int    `toml:"regulator" yaml:"regulator"`
	ResetDetect int    `toml:"reset_detect" yaml:"reset_detect"`
}

// ControllerConfig holds the controller scan registers.
type ControllerConfig struct {
	RowMask       int `toml:"row_mask" yaml:"row_mask"`
	ColumnMask    int `toml:"column_mask" yaml:"column_mask"`
	ScanCount     int `toml:"scan_count" yaml:"scan_count"`
	Debounce      int `toml:"debounce" yaml:"debounce"`
	ScanFrequency int `toml:"scan_frequency" yaml:"scan_frequency"`
	// ResetDetectGPIO is the controller GPIO driven high as a reset canary;
	// -1 disables it.
	ResetDetectGPIO int `toml:"reset_detect_gpio" yaml:"reset_detect_gpio"`
}

// AdjacencyConfig tunes the neighbour rule of the inadvertent filter.
type AdjacencyConfig struct {
	SkipVerticalSelf bool `toml:"skip_vertical_self" yaml:"skip_vertical_self"`
}

// SlideConfig names the slide switch input device.
type SlideConfig struct {
	Device         string `toml:"device" yaml:"device"`
	TransitionCode uint16 `toml:"transition_code" yaml:"transition_code"`
}

// HealthConfig controls periodic checks and reset recovery.
type HealthConfig struct {
	CheckInterval    Duration `toml:"check_interval" yaml:"check_interval"`
	RetryInterval    Duration `toml:"retry_interval" yaml:"retry_interval"`
	MaxRetryInterval Duration `toml:"max_retry_interval" yaml:"max_retry_interval"`
	MaxAttempts      int      `toml:"max_attempts" yaml:"max_attempts"`
	Settle           Duration `toml:"settle" yaml:"settle"`
}

// MQTTConfig configures telemetry; an empty broker disables it.
type MQTTConfig struct {
	Broker      string `toml:"broker" yaml:"broker"`
	ClientID    string `toml:"client_id" yaml:"client_id"`
	TopicPrefix string `toml:"topic_prefix" yaml:"topic_prefix"`
	BufferSize  int    `toml:"buffer_size" yaml:"buffer_size"`
}

// HTTPConfig configures the status server; an empty address disables it.
type HTTPConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// Config is the whole configuration file.
type Config struct {
	Bus        BusConfig        `toml:"bus" yaml:"bus"`
	GPIO       GPIOConfig       `toml:"gpio" yaml:"gpio"`
	Controller ControllerConfig `toml:"controller" yaml:"controller"`

	Keymap         []KeyCell `toml:"keymap" yaml:"keymap"`
	PhysicalKeymap []KeyCell `toml:"physical_keymap" yaml:"physical_keymap"`

	CheckInadvertent   []int           `toml:"check_inadvertent" yaml:"check_inadvertent"`
	ModifierKeys       []int           `toml:"modifier_keys" yaml:"modifier_keys"`
	KeyCount           []int           `toml:"key_count" yaml:"key_count"`
	InadvertentTimeout Duration        `toml:"inadvertent_timeout" yaml:"inadvertent_timeout"`
	Adjacency          AdjacencyConfig `toml:"adjacency" yaml:"adjacency"`

	Slide         SlideConfig  `toml:"slide" yaml:"slide"`
	EnableOnStart bool         `toml:"enable_on_start" yaml:"enable_on_start"`
	Health        HealthConfig `toml:"health" yaml:"health"`
	MQTT          MQTTConfig   `toml:"mqtt" yaml:"mqtt"`
	HTTP          HTTPConfig   `toml:"http" yaml:"http"`
	Log           LogConfig    `toml:"log" yaml:"log"`
}

// Default returns a configuration with every optional value filled in.
// The reset and interrupt lines have no default.
func Default() *Config {
	return &Config{
		Bus: BusConfig{Address: stmpe.DefaultAddress},
		GPIO: GPIOConfig{
			Chip:        gpio.DefaultChip,
			Reset:       -1,
			Interrupt:   -1,
			Regulator:   -1,
			ResetDetect: -1,
		},
		Controller: ControllerConfig{
			ScanFrequency:   60,
			ResetDetectGPIO: -1,
		},
		InadvertentTimeout: Duration(keypad.DefaultInadvertentTimeout),
		Slide:              SlideConfig{TransitionCode: input.DefaultTransitionCode},
		Health: HealthConfig{
			RetryInterval:    Duration(time.Second),
			MaxRetryInterval: Duration(time.Second),
			Settle:           Duration(20 * time.Millisecond),
		},
		MQTT: MQTTConfig{
			ClientID:    "keypad-monitor",
			TopicPrefix: mqtt.DefaultTopicPrefix,
			BufferSize:  mqtt.DefaultBufferSize,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info"},
	}
}

// Load reads, decodes and validates the file at path. The format follows
// the extension: .yaml, .yml or .toml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data over the defaults without validating it.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := Default()
	switch ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q", ErrInvalid, ext)
	}
	return cfg, nil
}

func toKeys(ids []int) []keypad.Key {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]keypad.Key, len(ids))
	for i, id := range ids {
		keys[i] = keypad.Key(id)
	}
	return keys
}

// Layout returns the static key configuration. The grid is nil when no
// physical keymap is configured.
func (c *Config) Layout() keypad.Layout {
	l := keypad.Layout{
		SkipVerticalSelf:   c.Adjacency.SkipVerticalSelf,
		CheckInadvertent:   toKeys(c.CheckInadvertent),
		Modifiers:          toKeys(c.ModifierKeys),
		ReportCount:        toKeys(c.KeyCount),
		InadvertentTimeout: c.InadvertentTimeout.D(),
	}
	for _, kc := range c.Keymap {
		l.Keymap[keypad.MatrixScanCode(uint8(kc.Row), uint8(kc.Col))] = keypad.Key(kc.Key)
	}
	if len(c.PhysicalKeymap) > 0 {
		g := &keypad.Grid{}
		for _, kc := range c.PhysicalKeymap {
			g[kc.Row-1][kc.Col-1] = keypad.Key(kc.Key)
		}
		l.Grid = g
	}
	return l
}

// ChipConfig returns the controller register configuration.
func (c *Config) ChipConfig() stmpe.Config {
	cc := stmpe.Config{
		RowMask:       uint8(c.Controller.RowMask),
		ColumnMask:    uint16(c.Controller.ColumnMask),
		ScanCount:     uint8(c.Controller.ScanCount),
		Debounce:      uint8(c.Controller.Debounce),
		ScanFrequency: c.Controller.ScanFrequency,
	}
	if c.Controller.ResetDetectGPIO >= 0 {
		cc.ResetDetect = true
		cc.ResetDetectGPIO = uint8(c.Controller.ResetDetectGPIO)
	}
	return cc
}

// HealthConfig returns the reset-recovery settings.
func (c *Config) HealthConfig() health.Config {
	hc := health.DefaultConfig(stmpe.ChipID)
	hc.Settle = c.Health.Settle.D()
	hc.RetryInterval = c.Health.RetryInterval.D()
	hc.MaxRetryInterval = c.Health.MaxRetryInterval.D()
	hc.MaxAttempts = c.Health.MaxAttempts
	return hc
}
