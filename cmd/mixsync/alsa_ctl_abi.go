//go:build linux && (amd64 || arm64 || riscv64)

package main

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Kernel sound control interface (include/uapi/sound/asound.h), 64-bit layout.
// `long` fields are 8 bytes; only LP64 targets with the generic ioctl encoding are
// supported.

const (
	ctlIfaceMixer = 2

	ctlElemTypeInteger = 2

	ctlAccessRead    = 1 << 0
	ctlAccessWrite   = 1 << 1
	ctlAccessTLVRead = 1 << 4

	ctlEventElem = 0

	ctlEventMaskValue  = 1 << 0
	ctlEventMaskRemove = ^uint32(0)

	ctlElemIDNameMax = 44
	ctlValueCount    = 128

	ctlProtocolMajor = 2
)

// struct snd_ctl_elem_id
type ctlElemID struct {
	Numid     uint32
	Iface     int32
	Device    uint32
	Subdevice uint32
	Name      [ctlElemIDNameMax]byte
	Index     uint32
}

func (id *ctlElemID) name() string { return cString(id.Name[:]) }

// struct snd_ctl_card_info
type ctlCardInfo struct {
	Card       int32
	Pad        int32
	ID         [16]byte
	Driver     [16]byte
	Name       [32]byte
	Longname   [80]byte
	Reserved   [16]byte
	Mixername  [80]byte
	Components [128]byte
}

// struct snd_ctl_elem_list
type ctlElemList struct {
	Offset   uint32
	Space    uint32
	Used     uint32
	Count    uint32
	Pids     uintptr
	Reserved [50]byte
}

// struct snd_ctl_elem_info. Value holds the integer union member: min, max, step.
type ctlElemInfo struct {
	ID       ctlElemID
	Type     int32
	Access   uint32
	Count    uint32
	Owner    int32
	Value    [16]int64
	Reserved [64]byte
}

// struct snd_ctl_elem_value, integer member of the value union.
type ctlElemValue struct {
	ID       ctlElemID
	Indirect uint32
	_        uint32
	Integer  [ctlValueCount]int64
	Reserved [128]byte
}

// struct snd_ctl_event, element variant.
type ctlEvent struct {
	Type int32
	Mask uint32
	ID   ctlElemID
}

// struct snd_ctl_tlv header; the TLV words follow.
type ctlTLVHeader struct {
	Numid  uint32
	Length uint32
}

const (
	iocWrite = 1
	iocRead  = 2
)

func ctlIoc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | uintptr('U')<<8 | nr
}

var (
	ioctlPVersion        = ctlIoc(iocRead, 0x00, unsafe.Sizeof(int32(0)))
	ioctlCardInfo        = ctlIoc(iocRead, 0x01, unsafe.Sizeof(ctlCardInfo{}))
	ioctlElemList        = ctlIoc(iocRead|iocWrite, 0x10, unsafe.Sizeof(ctlElemList{}))
	ioctlElemInfo        = ctlIoc(iocRead|iocWrite, 0x11, unsafe.Sizeof(ctlElemInfo{}))
	ioctlElemRead        = ctlIoc(iocRead|iocWrite, 0x12, unsafe.Sizeof(ctlElemValue{}))
	ioctlElemWrite       = ctlIoc(iocRead|iocWrite, 0x13, unsafe.Sizeof(ctlElemValue{}))
	ioctlSubscribeEvents = ctlIoc(iocRead|iocWrite, 0x16, unsafe.Sizeof(int32(0)))
	ioctlTLVRead         = ctlIoc(iocRead|iocWrite, 0x1a, unsafe.Sizeof(ctlTLVHeader{}))
)

// ctlIoctl issues one control ioctl, retrying on EINTR.
func ctlIoctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}

func cString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
