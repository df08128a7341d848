package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeSource is a test double for the source handle. Each value sent on events is one
// hardware notification carrying the control's new raw value.
type fakeSource struct {
	mu      sync.Mutex
	current int64

	events chan int64
	reads  chan int64

	readErr error
	waitErr error
}

func newFakeSource(initial int64) *fakeSource {
	return &fakeSource{
		current: initial,
		events:  make(chan int64, 64),
		reads:   make(chan int64, 64),
	}
}

func (f *fakeSource) Read() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	select {
	case f.reads <- f.current:
	default:
	}
	return f.current, nil
}

func (f *fakeSource) Subscribe() error { return nil }

func (f *fakeSource) Wait(ctx context.Context) error {
	f.mu.Lock()
	waitErr := f.waitErr
	f.mu.Unlock()
	if waitErr != nil {
		return waitErr
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case v := <-f.events:
		f.mu.Lock()
		f.current = v
		f.mu.Unlock()
		return nil
	}
}

func (f *fakeSource) Drain() (int, error) {
	n := 1
	for {
		select {
		case v := <-f.events:
			f.mu.Lock()
			f.current = v
			f.mu.Unlock()
			n++
		default:
			return n, nil
		}
	}
}

// fakeTarget records every write.
type fakeTarget struct {
	mu  sync.Mutex
	rng MixerRange

	raw  []int64
	norm []float64

	// failNext makes the next N writes fail.
	failNext int
}

func newFakeTarget(rng MixerRange) *fakeTarget {
	return &fakeTarget{rng: rng}
}

var errFakeWrite = errors.New("fake write failure")

func (f *fakeTarget) Range() MixerRange { return f.rng }

func (f *fakeTarget) WriteRaw(v int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errFakeWrite
	}
	f.raw = append(f.raw, v)
	return nil
}

func (f *fakeTarget) WriteNormalized(v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errFakeWrite
	}
	f.norm = append(f.norm, v)
	return nil
}

func (f *fakeTarget) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.raw) + len(f.norm)
}

func (f *fakeTarget) rawWrites() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.raw...)
}

// fakeControl / fakeDevice implement the host subsystem interfaces for handle tests.
type fakeControl struct {
	name     string
	min, max int64
	value    int64
	rangeErr error
}

func (c *fakeControl) Name() string                    { return c.name }
func (c *fakeControl) Range() (int64, int64, error)    { return c.min, c.max, c.rangeErr }
func (c *fakeControl) Read() (int64, error)            { return c.value, nil }
func (c *fakeControl) WriteAll(v int64) error          { c.value = v; return nil }
func (c *fakeControl) WriteNormalized(f float64) error { c.value = c.min + int64(f*float64(c.max-c.min)); return nil }

type fakeDevice struct {
	controls map[string]*fakeControl
	closed   int
}

func (d *fakeDevice) FindControl(name string) (Control, error) {
	c, ok := d.controls[name]
	if !ok {
		return nil, errors.New("control not found")
	}
	return c, nil
}

func (d *fakeDevice) Subscribe() error { return nil }

func (d *fakeDevice) Wait(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *fakeDevice) Drain() (int, error) { return 0, nil }

func (d *fakeDevice) Close() error {
	d.closed++
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
