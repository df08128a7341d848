package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the mixsync daemon.
//
// Precedence: DefaultConfig, then an optional file (YAML or TOML), then flags.
// Validate runs last so the rest of the code can assume a well-formed config.
type Config struct {
	// Control whose volume is followed
	Source MixerConfig `yaml:"source" toml:"source"`

	// Control that receives the mapped volume
	Target MixerConfig `yaml:"target" toml:"target"`

	Mapping MappingConfig `yaml:"mapping" toml:"mapping"`
	Daemon  DaemonConfig  `yaml:"daemon" toml:"daemon"`

	// Optional state publication surfaces
	State StateConfig `yaml:"state" toml:"state"`

	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

type MixerConfig struct {
	Device  string `yaml:"device" toml:"device"`
	Control string `yaml:"control" toml:"control"`
}

type MappingConfig struct {
	Mode      string `yaml:"mode" toml:"mode"`             // "normalized" or "linear"
	MaxVolume int    `yaml:"max_volume" toml:"max_volume"` // percent, 0..100
}

type DaemonConfig struct {
	Daemonize bool   `yaml:"daemonize" toml:"daemonize"`
	LockFile  string `yaml:"lock_file" toml:"lock_file"`
}

type StateConfig struct {
	WsAddr       string `yaml:"ws_addr,omitempty" toml:"ws_addr"`             // e.g. "127.0.0.1:8765"; empty disables
	StatusSocket string `yaml:"status_socket,omitempty" toml:"status_socket"` // unix socket path; empty disables
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// The target control has no default: it must come from the file or -y.
func DefaultConfig() Config {
	return Config{
		Source: MixerConfig{
			Device:  defaultDevice,
			Control: defaultSourceControl,
		},
		Target: MixerConfig{
			Device: defaultDevice,
		},
		Mapping: MappingConfig{
			Mode:      string(MappingNormalized),
			MaxVolume: defaultMaxVolume,
		},
		Daemon: DaemonConfig{
			LockFile: defaultLockFile,
		},
		Logging: LoggingConfig{
			Level: defaultLogLevel,
		},
	}
}

// LoadConfigFile reads a config file on top of the defaults. The format follows the
// extension: .yaml/.yml or .toml. Unknown keys are rejected in both formats.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	path = ExpandPath(path)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loadYAMLConfig(path)
	case ".toml":
		return loadTOMLConfig(path)
	default:
		return Config{}, errors.Errorf("config file %s: unsupported format (want .yaml, .yml or .toml)", path)
	}
}

func loadYAMLConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config yaml")
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

func loadTOMLConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrap(err, "decode config toml")
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Config{}, errors.Errorf("decode config toml: unknown keys: %s", strings.Join(keys, ", "))
	}

	return cfg, nil
}

// FlagOverrides holds the flags the user actually set. Each non-nil pointer is applied,
// even when it points at a zero value.
type FlagOverrides struct {
	SourceDevice  *string
	SourceControl *string
	TargetDevice  *string
	TargetControl *string

	MaxVolume *int
	Linear    *bool

	Daemonize *bool
	LockFile  *string

	StateWsAddr  *string
	StatusSocket *string

	// -v 0|1|2; wins over the config file's logging.level
	Verbosity *int
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	if o.SourceDevice != nil {
		cfg.Source.Device = *o.SourceDevice
	}
	if o.SourceControl != nil {
		cfg.Source.Control = *o.SourceControl
	}
	if o.TargetDevice != nil {
		cfg.Target.Device = *o.TargetDevice
	}
	if o.TargetControl != nil {
		cfg.Target.Control = *o.TargetControl
	}

	if o.MaxVolume != nil {
		cfg.Mapping.MaxVolume = *o.MaxVolume
	}
	if o.Linear != nil {
		if *o.Linear {
			cfg.Mapping.Mode = string(MappingLinear)
		} else {
			cfg.Mapping.Mode = string(MappingNormalized)
		}
	}

	if o.Daemonize != nil {
		cfg.Daemon.Daemonize = *o.Daemonize
	}
	if o.LockFile != nil {
		cfg.Daemon.LockFile = *o.LockFile
	}

	if o.StateWsAddr != nil {
		cfg.State.WsAddr = *o.StateWsAddr
	}
	if o.StatusSocket != nil {
		cfg.State.StatusSocket = *o.StatusSocket
	}

	if o.Verbosity != nil {
		level, err := verbosityLevel(*o.Verbosity)
		if err != nil {
			return &ConfigurationError{Msg: err.Error()}
		}
		cfg.Logging.Level = string(level)
	}
	return nil
}

// Validate checks config invariants and returns a ConfigurationError describing the
// first violation. Called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	c.Source.Device = strings.TrimSpace(c.Source.Device)
	c.Source.Control = strings.TrimSpace(c.Source.Control)
	c.Target.Device = strings.TrimSpace(c.Target.Device)
	c.Target.Control = strings.TrimSpace(c.Target.Control)

	if c.Source.Device == "" {
		return configErrorf("source.device must not be empty")
	}
	if c.Source.Control == "" {
		return configErrorf("source.control must not be empty")
	}
	if c.Target.Device == "" {
		return configErrorf("target.device must not be empty")
	}
	if c.Target.Control == "" {
		return configErrorf("target.control is required (-y)")
	}
	if _, err := parseDeviceName(c.Source.Device); err != nil {
		return configErrorf("source.device: %v", err)
	}
	if _, err := parseDeviceName(c.Target.Device); err != nil {
		return configErrorf("target.device: %v", err)
	}
	if sameControl(c.Source, c.Target) {
		return configErrorf("source and target are the same control (%s %q)", c.Target.Device, c.Target.Control)
	}

	if c.Mapping.MaxVolume < 0 || c.Mapping.MaxVolume > 100 {
		return configErrorf("mapping.max_volume must be between 0 and 100 (got %d)", c.Mapping.MaxVolume)
	}
	if _, err := parseMappingMode(c.Mapping.Mode); err != nil {
		return configErrorf("mapping.mode: %v", err)
	}

	if c.Daemon.LockFile == "" {
		return configErrorf("daemon.lock_file must not be empty")
	}
	c.Daemon.LockFile = ExpandPath(c.Daemon.LockFile)
	c.State.StatusSocket = ExpandPath(c.State.StatusSocket)

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return configErrorf("logging.level: %v", err)
	}

	return nil
}

// sameControl reports whether two mixer configs name the same control on the same card.
// Card ids are only compared textually; resolving them would touch hardware.
func sameControl(a, b MixerConfig) bool {
	an, ai := splitControlName(a.Control)
	bn, bi := splitControlName(b.Control)
	if an != bn || ai != bi {
		return false
	}
	as, aerr := parseDeviceName(a.Device)
	bs, berr := parseDeviceName(b.Device)
	if aerr != nil || berr != nil {
		return a.Device == b.Device
	}
	return as == bs
}

// String renders the effective configuration for debug logging.
func (c Config) String() string {
	return fmt.Sprintf("source=%s/%s target=%s/%s mode=%s max_volume=%d lock_file=%s",
		c.Source.Device, c.Source.Control, c.Target.Device, c.Target.Control,
		c.Mapping.Mode, c.Mapping.MaxVolume, c.Daemon.LockFile)
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
