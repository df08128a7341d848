//go:build linux && (amd64 || arm64 || riscv64)

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var ctlDevDir = "/dev/snd"

// alsaDevice is one open control device (/dev/snd/controlC<card>).
//
// Notifications are delivered through epoll on the control fd. A second eventfd
// registered in the same epoll set lets Wait return as soon as its context is done.
type alsaDevice struct {
	name string
	card int
	info ctlCardInfo

	fd     int
	epfd   int
	wakefd int

	subscribed bool
	watched    map[uint32]string // numid -> element name

	closeOnce sync.Once
	closeErr  error
}

// openALSADevice is the production DeviceOpener.
func openALSADevice(device string) (ControlDevice, error) {
	spec, err := parseDeviceName(device)
	if err != nil {
		return nil, err
	}
	card := spec.Index
	if spec.ID != "" {
		if card, err = cardIndexByID(spec.ID); err != nil {
			return nil, err
		}
	}

	fd, err := openControlFD(card)
	if err != nil {
		return nil, err
	}
	d := &alsaDevice{name: device, card: card, fd: fd, epfd: -1, wakefd: -1, watched: make(map[uint32]string)}

	if err := d.init(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func openControlFD(card int) (int, error) {
	path := filepath.Join(ctlDevDir, fmt.Sprintf("controlC%d", card))
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, errors.Wrapf(err, "open %s", path)
	}
	return fd, nil
}

// cardIndexByID scans the control devices for a card whose id matches.
func cardIndexByID(id string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(ctlDevDir, "controlC*"))
	if err != nil {
		return -1, errors.Wrap(err, "list control devices")
	}
	sort.Strings(paths)
	for _, p := range paths {
		var card int
		if _, err := fmt.Sscanf(filepath.Base(p), "controlC%d", &card); err != nil {
			continue
		}
		fd, err := openControlFD(card)
		if err != nil {
			continue
		}
		var info ctlCardInfo
		err = ctlIoctl(fd, ioctlCardInfo, unsafe.Pointer(&info))
		_ = unix.Close(fd)
		if err == nil && cString(info.ID[:]) == id {
			return card, nil
		}
	}
	return -1, errors.Errorf("no sound card with id %q", id)
}

func (d *alsaDevice) init() error {
	var version int32
	if err := ctlIoctl(d.fd, ioctlPVersion, unsafe.Pointer(&version)); err != nil {
		return errors.Wrap(err, "control protocol version")
	}
	if major := version >> 16; major != ctlProtocolMajor {
		return errors.Errorf("unsupported control protocol %d.%d.%d",
			version>>16, (version>>8)&0xff, version&0xff)
	}

	if err := ctlIoctl(d.fd, ioctlCardInfo, unsafe.Pointer(&d.info)); err != nil {
		return errors.Wrap(err, "card info")
	}

	var err error
	if d.epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return errors.Wrap(err, "epoll_create1")
	}
	if d.wakefd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		return errors.Wrap(err, "eventfd")
	}
	for _, fd := range []int{d.fd, d.wakefd} {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			return errors.Wrapf(err, "epoll_ctl_add fd=%d", fd)
		}
	}
	return nil
}

func (d *alsaDevice) String() string {
	return fmt.Sprintf("%s (card %d: %s)", d.name, d.card, cString(d.info.Name[:]))
}

// listElements returns the ids of every element on the card.
func (d *alsaDevice) listElements() ([]ctlElemID, error) {
	var list ctlElemList
	if err := ctlIoctl(d.fd, ioctlElemList, unsafe.Pointer(&list)); err != nil {
		return nil, errors.Wrap(err, "count elements")
	}
	if list.Count == 0 {
		return nil, nil
	}

	ids := make([]ctlElemID, list.Count)
	list.Space = list.Count
	list.Pids = uintptr(unsafe.Pointer(&ids[0]))
	err := ctlIoctl(d.fd, ioctlElemList, unsafe.Pointer(&list))
	runtime.KeepAlive(ids)
	if err != nil {
		return nil, errors.Wrap(err, "list elements")
	}
	return ids[:list.Used], nil
}

func (d *alsaDevice) elemInfo(numid uint32) (ctlElemInfo, error) {
	info := ctlElemInfo{ID: ctlElemID{Numid: numid}}
	err := ctlIoctl(d.fd, ioctlElemInfo, unsafe.Pointer(&info))
	return info, err
}

// FindControl resolves a simple control name ("Master", "PCM,1") to a readable and
// writable integer element, trying "<name> Playback Volume", "<name> Volume" and
// "<name>" in turn.
func (d *alsaDevice) FindControl(name string) (Control, error) {
	base, index := splitControlName(name)
	ids, err := d.listElements()
	if err != nil {
		return nil, err
	}

	var unusable error
	for _, candidate := range controlCandidates(base) {
		for _, id := range ids {
			if id.Iface != ctlIfaceMixer || id.Index != index || id.name() != candidate {
				continue
			}
			info, err := d.elemInfo(id.Numid)
			if err != nil {
				return nil, errors.Wrapf(err, "element info %q", candidate)
			}
			if err := checkVolumeElement(info); err != nil {
				if unusable == nil {
					unusable = errors.Wrapf(err, "element %q", candidate)
				}
				continue
			}

			d.watched[info.ID.Numid] = candidate
			return &alsaControl{
				dev:      d,
				id:       info.ID,
				name:     candidate,
				min:      info.Value[0],
				max:      info.Value[1],
				channels: int(info.Count),
				hasTLV:   info.Access&ctlAccessTLVRead != 0,
			}, nil
		}
	}
	if unusable != nil {
		return nil, unusable
	}
	return nil, errors.Errorf("no volume control %q on %s", name, d)
}

func checkVolumeElement(info ctlElemInfo) error {
	switch {
	case info.Type != ctlElemTypeInteger:
		return errors.Errorf("not an integer control (type %d)", info.Type)
	case info.Access&(ctlAccessRead|ctlAccessWrite) != ctlAccessRead|ctlAccessWrite:
		return errors.New("control is not both readable and writable")
	case info.Count == 0 || info.Count > ctlValueCount:
		return errors.Errorf("unsupported channel count %d", info.Count)
	}
	return nil
}

// Subscribe enables event delivery on the control fd. Idempotent.
func (d *alsaDevice) Subscribe() error {
	if d.subscribed {
		return nil
	}
	on := int32(1)
	if err := ctlIoctl(d.fd, ioctlSubscribeEvents, unsafe.Pointer(&on)); err != nil {
		return errors.Wrap(err, "subscribe to control events")
	}
	d.subscribed = true
	return nil
}

// Wait blocks until the control device has pending notifications or ctx is done.
func (d *alsaDevice) Wait(ctx context.Context) error {
	if err := d.Subscribe(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, d.wake)
	defer stop()

	events := make([]unix.EpollEvent, 2)
	for {
		n, err := unix.EpollWait(d.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return errors.Wrap(err, "epoll_wait")
		}

		for i := 0; i < n; i++ {
			switch int(events[i].Fd) {
			case d.wakefd:
				d.clearWake()
				if err := ctx.Err(); err != nil {
					return err
				}
			case d.fd:
				if events[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
					return errors.Errorf("control device %s: error/hangup", d)
				}
				return nil
			}
		}
	}
}

func (d *alsaDevice) wake() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(d.wakefd, buf[:])
}

func (d *alsaDevice) clearWake() {
	var buf [8]byte
	_, _ = unix.Read(d.wakefd, buf[:])
}

// Drain reads every queued event record. Removal of a resolved control is an error;
// everything else only counts.
func (d *alsaDevice) Drain() (int, error) {
	evSize := int(unsafe.Sizeof(ctlEvent{}))
	buf := make([]byte, evSize*16)
	reader := bytes.NewReader(nil)

	count := 0
	for {
		n, err := unix.Read(d.fd, buf)
		if err != nil {
			if err == unix.EAGAIN {
				return count, nil
			}
			if err == unix.EINTR {
				continue
			}
			return count, errors.Wrap(err, "read control events")
		}
		if n == 0 {
			return count, nil
		}

		reader.Reset(buf[:n-n%evSize])
		for reader.Len() > 0 {
			var ev ctlEvent
			if err := binary.Read(reader, binary.NativeEndian, &ev); err != nil {
				break
			}
			count++
			if ev.Type != ctlEventElem || ev.Mask != ctlEventMaskRemove {
				continue
			}
			if name, ok := d.watched[ev.ID.Numid]; ok {
				return count, errors.Errorf("control %q was removed from %s", name, d)
			}
		}
	}
}

// Close releases the epoll set, the eventfd and the control fd.
func (d *alsaDevice) Close() error {
	d.closeOnce.Do(func() {
		if d.epfd >= 0 {
			_ = unix.Close(d.epfd)
		}
		if d.wakefd >= 0 {
			_ = unix.Close(d.wakefd)
		}
		if err := unix.Close(d.fd); err != nil {
			d.closeErr = errors.Wrapf(err, "close %s", d.name)
		}
	})
	return d.closeErr
}

// alsaControl is one integer mixer element.
type alsaControl struct {
	dev      *alsaDevice
	id       ctlElemID
	name     string
	min, max int64
	channels int

	hasTLV bool
	dbOnce sync.Once
	db     *dbTLV
}

func (c *alsaControl) Name() string { return c.name }

func (c *alsaControl) Range() (int64, int64, error) {
	info, err := c.dev.elemInfo(c.id.Numid)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "element info %q", c.name)
	}
	c.min, c.max = info.Value[0], info.Value[1]
	return c.min, c.max, nil
}

// Read returns the first channel's value.
func (c *alsaControl) Read() (int64, error) {
	v := ctlElemValue{ID: ctlElemID{Numid: c.id.Numid}}
	if err := ctlIoctl(c.dev.fd, ioctlElemRead, unsafe.Pointer(&v)); err != nil {
		return 0, errors.Wrapf(err, "read %q", c.name)
	}
	return v.Integer[0], nil
}

// WriteAll sets every channel to value, clamped to the element range.
func (c *alsaControl) WriteAll(value int64) error {
	value = max(c.min, min(c.max, value))
	v := ctlElemValue{ID: ctlElemID{Numid: c.id.Numid}}
	for i := 0; i < c.channels; i++ {
		v.Integer[i] = value
	}
	if err := ctlIoctl(c.dev.fd, ioctlElemWrite, unsafe.Pointer(&v)); err != nil {
		return errors.Wrapf(err, "write %q", c.name)
	}
	return nil
}

// WriteNormalized sets every channel through the perceptual volume curve.
func (c *alsaControl) WriteNormalized(fraction float64) error {
	return c.WriteAll(normalizedToRaw(fraction, c.min, c.max, c.dbInfo()))
}

// dbInfo reads the element's dB description once. Elements without one map linearly.
func (c *alsaControl) dbInfo() *dbTLV {
	c.dbOnce.Do(func() {
		if !c.hasTLV {
			return
		}
		words, err := c.readTLV()
		if err != nil {
			return
		}
		c.db, _ = parseDBTLV(words)
	})
	return c.db
}

func (c *alsaControl) readTLV() ([]uint32, error) {
	const maxWords = 1024
	buf := make([]uint32, 2+maxWords)
	buf[0] = c.id.Numid
	buf[1] = maxWords * 4
	err := ctlIoctl(c.dev.fd, ioctlTLVRead, unsafe.Pointer(&buf[0]))
	if err != nil {
		return nil, errors.Wrapf(err, "read dB info %q", c.name)
	}
	words := buf[2:]
	if len(words) < 2 {
		return nil, errors.New("short tlv")
	}
	n := min(2+int(words[1]/4), len(words))
	return words[:n], nil
}
