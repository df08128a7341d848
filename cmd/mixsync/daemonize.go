package main

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/pkg/errors"
)

// isDaemonChild reports whether this process is the detached child started by -d.
func isDaemonChild() bool {
	return os.Getenv(daemonChildEnv) == "1"
}

// spawnDaemon re-executes the binary with the same arguments in a new session with
// stdio on /dev/null. The child takes the lock itself; the parent only reports
// whether the child started.
func spawnDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "locate executable")
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "open /dev/null")
	}
	defer devNull.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonChildEnv+"=1")
	cmd.Dir = "/"
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start daemon process")
	}
	return cmd.Process.Release()
}
