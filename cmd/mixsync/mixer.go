package main

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
)

// ControlDevice is one open connection to the host mixer subsystem (one sound card).
type ControlDevice interface {
	// FindControl resolves a simple-mixer control name such as "Master".
	FindControl(name string) (Control, error)

	// Subscribe starts queueing change notifications for this connection.
	Subscribe() error

	// Wait blocks until at least one notification is pending, an error occurs,
	// or ctx is done. It has no timeout of its own.
	Wait(ctx context.Context) error

	// Drain consumes every pending notification and returns how many there were.
	Drain() (int, error)

	Close() error
}

// Control is a resolved volume control on a ControlDevice.
type Control interface {
	Name() string
	Range() (min, max int64, err error)
	Read() (int64, error)
	WriteAll(value int64) error
	WriteNormalized(fraction float64) error
}

// DeviceOpener opens a ControlDevice by name (e.g. "hw:0").
type DeviceOpener func(device string) (ControlDevice, error)

// MixerHandle owns one device connection and the control resolved on it.
type MixerHandle struct {
	Device      string
	ControlName string

	dev   ControlDevice
	ctl   Control
	rng   MixerRange
	close func() error
}

// OpenMixerHandle opens device, resolves controlName and loads its range.
// Any failure is a DeviceInitError; partially opened resources are released.
func OpenMixerHandle(open DeviceOpener, device, controlName string, logger *slog.Logger) (*MixerHandle, error) {
	dev, err := open(device)
	if err != nil {
		return nil, &DeviceInitError{Device: device, Err: err}
	}

	ctl, err := dev.FindControl(controlName)
	if err != nil {
		_ = dev.Close()
		return nil, &DeviceInitError{Device: device, Control: controlName, Err: err}
	}

	lo, hi, err := ctl.Range()
	if err != nil {
		_ = dev.Close()
		return nil, &DeviceInitError{Device: device, Control: controlName, Err: errors.Wrap(err, "query volume range")}
	}

	h := &MixerHandle{
		Device:      device,
		ControlName: controlName,
		dev:         dev,
		ctl:         ctl,
		rng:         NewMixerRange(lo, hi),
		close:       dev.Close,
	}

	logger.Debug("mixer volume range",
		"device", device,
		"control", ctl.Name(),
		"range", h.rng.Range,
		"min", h.rng.Min,
		"max", h.rng.Max)

	return h, nil
}

// Range returns the raw range reported at open time.
func (h *MixerHandle) Range() MixerRange { return h.rng }

// Read returns the control's current raw value (first channel).
func (h *MixerHandle) Read() (int64, error) { return h.ctl.Read() }

// WriteRaw sets every channel of the control to value.
func (h *MixerHandle) WriteRaw(value int64) error { return h.ctl.WriteAll(value) }

// WriteNormalized sets the control through the perceptual volume curve.
func (h *MixerHandle) WriteNormalized(fraction float64) error {
	return h.ctl.WriteNormalized(fraction)
}

// Subscribe starts notification delivery for the device.
func (h *MixerHandle) Subscribe() error { return h.dev.Subscribe() }

// Wait blocks on the device's notification channel.
func (h *MixerHandle) Wait(ctx context.Context) error { return h.dev.Wait(ctx) }

// Drain discards pending notifications.
func (h *MixerHandle) Drain() (int, error) { return h.dev.Drain() }

// Close releases the device. Safe on a nil handle and safe to call twice.
func (h *MixerHandle) Close() error {
	if h == nil || h.close == nil {
		return nil
	}
	closeFn := h.close
	h.close = nil
	return closeFn()
}
