package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Target.Control = "PCM"
	return cfg
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func expectConfigError(t *testing.T, err error, substr string) {
	t.Helper()
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if !strings.Contains(ce.Msg, substr) {
		t.Errorf("error %q does not mention %q", ce.Msg, substr)
	}
}

func TestDefaultConfig_NeedsTargetControl(t *testing.T) {
	cfg := DefaultConfig()
	expectConfigError(t, cfg.Validate(), "target.control")

	cfg = validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_MaxVolumeRange(t *testing.T) {
	for _, v := range []int{-1, 101, 1000} {
		cfg := validConfig()
		cfg.Mapping.MaxVolume = v
		expectConfigError(t, cfg.Validate(), "max_volume")
	}
	for _, v := range []int{0, 1, 50, 100} {
		cfg := validConfig()
		cfg.Mapping.MaxVolume = v
		if err := cfg.Validate(); err != nil {
			t.Errorf("max_volume %d: %v", v, err)
		}
	}
}

func TestValidate_SameControlRejected(t *testing.T) {
	cfg := validConfig()
	cfg.Target.Control = "Master"
	expectConfigError(t, cfg.Validate(), "same control")

	cfg = validConfig()
	cfg.Source.Device = "default"
	cfg.Target.Device = "hw:0"
	cfg.Target.Control = "Master"
	expectConfigError(t, cfg.Validate(), "same control")

	cfg = validConfig()
	cfg.Target.Device = "hw:1"
	cfg.Target.Control = "Master"
	if err := cfg.Validate(); err != nil {
		t.Errorf("different cards must be accepted: %v", err)
	}
}

func TestValidate_BadModeAndLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Mapping.Mode = "logarithmic"
	expectConfigError(t, cfg.Validate(), "mapping.mode")

	cfg = validConfig()
	cfg.Logging.Level = "chatty"
	expectConfigError(t, cfg.Validate(), "logging.level")

	cfg = validConfig()
	cfg.Target.Device = "pulse"
	expectConfigError(t, cfg.Validate(), "target.device")
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()
	target := "Speaker"
	maxVol := 0
	linear := true
	verbosity := 2
	err := FlagOverrides{
		TargetControl: &target,
		MaxVolume:     &maxVol,
		Linear:        &linear,
		Verbosity:     &verbosity,
	}.Apply(&cfg)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if cfg.Target.Control != "Speaker" {
		t.Errorf("target control not applied: %q", cfg.Target.Control)
	}
	if cfg.Mapping.MaxVolume != 0 {
		t.Errorf("zero max volume must still override, got %d", cfg.Mapping.MaxVolume)
	}
	if cfg.Mapping.Mode != string(MappingLinear) {
		t.Errorf("expected linear mode, got %q", cfg.Mapping.Mode)
	}
	if cfg.Logging.Level != string(LogLevelDebug) {
		t.Errorf("expected debug level, got %q", cfg.Logging.Level)
	}
	if cfg.Source.Control != defaultSourceControl {
		t.Errorf("unset override changed source control: %q", cfg.Source.Control)
	}
}

func TestFlagOverrides_NegativeVerbosity(t *testing.T) {
	cfg := DefaultConfig()
	v := -1
	err := FlagOverrides{Verbosity: &v}.Apply(&cfg)
	expectConfigError(t, err, "verbosity")
}

func TestLoadConfigFile_YAML(t *testing.T) {
	p := writeFile(t, "mixsync.yaml", `
source:
  device: hw:1
  control: Digital
target:
  control: Headphone
mapping:
  mode: linear
  max_volume: 80
state:
  ws_addr: 127.0.0.1:8765
`)
	cfg, err := LoadConfigFile(p)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Source.Device != "hw:1" || cfg.Source.Control != "Digital" {
		t.Errorf("unexpected source: %+v", cfg.Source)
	}
	if cfg.Target.Device != defaultDevice {
		t.Errorf("default target device lost: %q", cfg.Target.Device)
	}
	if cfg.Mapping.Mode != "linear" || cfg.Mapping.MaxVolume != 80 {
		t.Errorf("unexpected mapping: %+v", cfg.Mapping)
	}
	if cfg.State.WsAddr != "127.0.0.1:8765" {
		t.Errorf("unexpected ws addr: %q", cfg.State.WsAddr)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfigFile_YAMLUnknownField(t *testing.T) {
	p := writeFile(t, "mixsync.yml", "target:\n  contrl: PCM\n")
	if _, err := LoadConfigFile(p); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadConfigFile_TOML(t *testing.T) {
	p := writeFile(t, "mixsync.toml", `
[target]
device = "hw:CARD=USB"
control = "PCM"

[mapping]
max_volume = 60

[daemon]
lock_file = "/tmp/mixsync-test.pid"
`)
	cfg, err := LoadConfigFile(p)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Target.Device != "hw:CARD=USB" || cfg.Target.Control != "PCM" {
		t.Errorf("unexpected target: %+v", cfg.Target)
	}
	if cfg.Mapping.MaxVolume != 60 || cfg.Mapping.Mode != string(MappingNormalized) {
		t.Errorf("unexpected mapping: %+v", cfg.Mapping)
	}
	if cfg.Daemon.LockFile != "/tmp/mixsync-test.pid" {
		t.Errorf("unexpected lock file: %q", cfg.Daemon.LockFile)
	}
}

func TestLoadConfigFile_TOMLUnknownKey(t *testing.T) {
	p := writeFile(t, "mixsync.toml", "[target]\ncontrol = \"PCM\"\ncolour = \"blue\"\n")
	_, err := LoadConfigFile(p)
	if err == nil || !strings.Contains(err.Error(), "target.colour") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadConfigFile_UnsupportedExtension(t *testing.T) {
	p := writeFile(t, "mixsync.json", "{}")
	if _, err := LoadConfigFile(p); err == nil {
		t.Fatal("expected error")
	}
}
