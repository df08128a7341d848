package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

const versionLegal = `This is free software; see the source for copying conditions. There is NO
warranty; not even MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.`

var rootCmd = newRootCommand().cmd

type rootCommand struct {
	cmd *cobra.Command

	configPath  string
	showVersion bool

	sourceDevice  string
	sourceControl string
	targetDevice  string
	targetControl string
	maxVolume     int
	linear        bool
	daemonize     bool
	verbosity     int
	lockFile      string
	stateWsAddr   string
	statusSocket  string
}

func newRootCommand() *rootCommand {
	cmd := &cobra.Command{
		Use:   "mixsync",
		Short: "Mirror one ALSA mixer control onto another",
		Long: "mixsync follows the volume of a source mixer control and applies it to a target\n" +
			"control with a normalized (perceptual) or linear mapping, capped by a maximum\n" +
			"volume ceiling.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	out := &rootCommand{cmd: cmd}
	cmd.RunE = out.run

	f := cmd.Flags()
	f.StringVarP(&out.configPath, "config", "c", "", "config file (.yaml, .yml or .toml)")
	f.BoolVarP(&out.showVersion, "version", "V", false, "print version information")

	f.StringVarP(&out.sourceDevice, "source-device", "s", defaultDevice, "source mixer device")
	f.StringVarP(&out.sourceControl, "source-control", "t", defaultSourceControl, "source mixer control")
	f.StringVarP(&out.targetDevice, "target-device", "x", defaultDevice, "target mixer device")
	f.StringVarP(&out.targetControl, "target-control", "y", "", "target mixer control (required)")
	f.IntVarP(&out.maxVolume, "max-volume", "m", defaultMaxVolume, "maximum volume [0-100]")
	f.BoolVarP(&out.linear, "linear", "l", false, "use linear volume mapping")
	f.BoolVarP(&out.daemonize, "daemonize", "d", false, "detach and log to syslog")
	f.IntVarP(&out.verbosity, "verbose", "v", 0, "verbosity: 0 errors, 1 info, 2 debug")

	f.StringVar(&out.lockFile, "lock-file", defaultLockFile, "single-instance lock file")
	f.StringVar(&out.stateWsAddr, "state-ws-addr", "", "serve the state websocket feed on this address")
	f.StringVar(&out.statusSocket, "status-socket", "", "serve status queries on this unix socket")

	return out
}

// overrides collects only the flags given on the command line, so unset flags
// never mask values from the config file.
func (r *rootCommand) overrides() FlagOverrides {
	f := r.cmd.Flags()
	var o FlagOverrides
	if f.Changed("source-device") {
		o.SourceDevice = &r.sourceDevice
	}
	if f.Changed("source-control") {
		o.SourceControl = &r.sourceControl
	}
	if f.Changed("target-device") {
		o.TargetDevice = &r.targetDevice
	}
	if f.Changed("target-control") {
		o.TargetControl = &r.targetControl
	}
	if f.Changed("max-volume") {
		o.MaxVolume = &r.maxVolume
	}
	if f.Changed("linear") {
		o.Linear = &r.linear
	}
	if f.Changed("daemonize") {
		o.Daemonize = &r.daemonize
	}
	if f.Changed("verbose") {
		o.Verbosity = &r.verbosity
	}
	if f.Changed("lock-file") {
		o.LockFile = &r.lockFile
	}
	if f.Changed("state-ws-addr") {
		o.StateWsAddr = &r.stateWsAddr
	}
	if f.Changed("status-socket") {
		o.StatusSocket = &r.statusSocket
	}
	return o
}

// loadConfig builds the effective configuration: defaults, file, flags, validation.
func (r *rootCommand) loadConfig() (Config, error) {
	cfg := DefaultConfig()
	if r.configPath != "" {
		var err error
		if cfg, err = LoadConfigFile(r.configPath); err != nil {
			return Config{}, &ConfigurationError{Msg: err.Error()}
		}
	}
	if err := r.overrides().Apply(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (r *rootCommand) run(cmd *cobra.Command, _ []string) error {
	if r.showVersion {
		fmt.Fprintf(cmd.OutOrStdout(), "mixsync %s\n\n%s\n", version, versionLegal)
		return nil
	}

	cfg, err := r.loadConfig()
	if err != nil {
		return err
	}

	if cfg.Daemon.Daemonize && !isDaemonChild() {
		// The detached child repeats the whole startup; the parent is done.
		return spawnDaemon()
	}

	logger, err := newDaemonLogger(cfg)
	if err != nil {
		return err
	}
	logger.Debug("starting mixsync", "version", version, "config", cfg.String())

	return runDaemon(cmd.Context(), cfg, openALSADevice, logger)
}

func main() {
	err := fang.Execute(context.Background(), rootCmd, fang.WithoutManpage(), fang.WithoutCompletions(), fang.WithoutVersion())
	os.Exit(exitCode(err))
}
