package main

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigurationError reports bad flags or config file contents. Always fatal at startup,
// before any hardware is touched.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.Msg }

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// DeviceInitError reports a failure while opening or resolving a mixer control.
type DeviceInitError struct {
	Device  string
	Control string
	Err     error
}

func (e *DeviceInitError) Error() string {
	if e.Control == "" {
		return fmt.Sprintf("init mixer %s: %v", e.Device, e.Err)
	}
	return fmt.Sprintf("init mixer %s control %q: %v", e.Device, e.Control, e.Err)
}

func (e *DeviceInitError) Unwrap() error { return e.Err }

// DeviceReadError reports a failure reading the source control.
type DeviceReadError struct {
	Err error
}

func (e *DeviceReadError) Error() string { return "read source mixer: " + e.Err.Error() }
func (e *DeviceReadError) Unwrap() error { return e.Err }

// DeviceWaitError reports a failure while waiting for or draining notifications.
type DeviceWaitError struct {
	Err error
}

func (e *DeviceWaitError) Error() string { return "wait for mixer event: " + e.Err.Error() }
func (e *DeviceWaitError) Unwrap() error { return e.Err }

// DeviceWriteError reports a failed target write. Not fatal: the next distinct source
// change retries.
type DeviceWriteError struct {
	Err error
}

func (e *DeviceWriteError) Error() string { return "set target mixer: " + e.Err.Error() }
func (e *DeviceWriteError) Unwrap() error { return e.Err }

// LockBusyError means another instance holds the lock file.
type LockBusyError struct {
	Path string
}

func (e *LockBusyError) Error() string {
	return fmt.Sprintf("lock file %s is held by another instance", e.Path)
}

// DomainError reports arithmetic that cannot be performed on the given ranges.
type DomainError struct {
	Msg string
}

func (e *DomainError) Error() string { return "gain mapping: " + e.Msg }

// isWriteError reports whether err is (or wraps) a DeviceWriteError.
func isWriteError(err error) bool {
	var we *DeviceWriteError
	return errors.As(err, &we)
}
