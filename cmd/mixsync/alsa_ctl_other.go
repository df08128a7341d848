//go:build !(linux && (amd64 || arm64 || riscv64))

package main

import (
	"runtime"

	"github.com/pkg/errors"
)

func openALSADevice(device string) (ControlDevice, error) {
	return nil, errors.Errorf("mixer device %s: not supported on %s/%s", device, runtime.GOOS, runtime.GOARCH)
}
