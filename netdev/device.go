// Package netdev binds router interfaces to real Linux network devices: a
// TAP device per router-facing link, or a raw AF_PACKET socket bridged onto
// an existing NIC. It is the only package in this module that touches the
// host network stack; everything above it deals exclusively in frame bytes.
package netdev

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gopherlab/vnet/internal"
)

// rawDevice is the minimal surface both TAP and bridged raw-socket devices
// provide; platform-specific files implement it.
type rawDevice interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
	HardwareAddress6() ([6]byte, error)
}

// Device is one router interface bound to a host network device.
type Device struct {
	ifaceName string
	dev       rawDevice
	log       *slog.Logger
	queue     *SendQueue
}

// EnableAsyncSend buffers future Send calls through a SendQueue of the
// given byte capacity, drained by a background writer goroutine, instead
// of writing to the device inline. Call before Run.
func (d *Device) EnableAsyncSend(ctx context.Context, capacity int) {
	d.queue = NewSendQueue(capacity)
	go d.drainSendQueue(ctx)
}

func (d *Device) drainSendQueue(ctx context.Context) {
	for {
		frame, ok := d.queue.Dequeue()
		if !ok {
			return
		}
		if _, err := d.dev.Write(frame); err != nil {
			d.log.Warn("netdev async write failed", "iface", d.ifaceName, "err", err)
		}
		select {
		case <-ctx.Done():
			d.queue.Close()
		default:
		}
	}
}

// Open creates or attaches to the named host device. If create is true a
// new TAP device is allocated under that name; otherwise the name must
// refer to an existing NIC, which is bridged via a raw AF_PACKET socket.
func Open(ifaceName string, create bool, log *slog.Logger) (*Device, error) {
	if log == nil {
		log = slog.Default()
	}
	var dev rawDevice
	var err error
	if create {
		dev, err = newTap(ifaceName)
	} else {
		dev, err = newBridge(ifaceName)
	}
	if err != nil {
		return nil, fmt.Errorf("netdev: open %s: %w", ifaceName, err)
	}
	return &Device{ifaceName: ifaceName, dev: dev, log: log}, nil
}

// HardwareAddress6 returns the device's MAC, as assigned by the kernel.
func (d *Device) HardwareAddress6() ([6]byte, error) {
	return d.dev.HardwareAddress6()
}

// Close releases the underlying file descriptor.
func (d *Device) Close() error {
	return d.dev.Close()
}

// Send implements router.FrameIO for a single device: ifaceName must match
// the name this Device was opened under.
func (d *Device) Send(ifaceName string, frame []byte) error {
	if ifaceName != d.ifaceName {
		return fmt.Errorf("netdev: frame addressed to %q sent on device %q", ifaceName, d.ifaceName)
	}
	if d.queue != nil {
		if !d.queue.Enqueue(frame) {
			return fmt.Errorf("netdev: send queue full on %q", d.ifaceName)
		}
		return nil
	}
	_, err := d.dev.Write(frame)
	return err
}

// Dispatcher receives frames read off a Device's read loop.
type Dispatcher interface {
	HandleFrame(ifaceName string, buf []byte)
}

// ReadLoop reads frames from the device and hands each to dispatch until
// ctx is done, then returns ctx.Err(); ctx is checked between reads. Every
// read error is logged and retried with exponential backoff: no read error
// ends the loop.
func (d *Device) ReadLoop(ctx context.Context, mtu int, dispatch Dispatcher) error {
	buf := make([]byte, mtu)
	bo := internal.NewBackoff(internal.BackoffCriticalPath)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := d.dev.Read(buf)
		if err != nil {
			d.log.Warn("netdev read error, backing off", "iface", d.ifaceName, "err", err)
			bo.Miss()
			continue
		}
		bo.Hit()
		dispatch.HandleFrame(d.ifaceName, buf[:n])
	}
}

// Set is a name-indexed collection of open devices, one per router
// interface, driven together by Run.
type Set struct {
	devices map[string]*Device
	log     *slog.Logger
}

// NewSet wraps the given devices for joint operation.
func NewSet(log *slog.Logger, devices ...*Device) *Set {
	if log == nil {
		log = slog.Default()
	}
	s := &Set{devices: make(map[string]*Device, len(devices)), log: log}
	for _, d := range devices {
		s.devices[d.ifaceName] = d
	}
	return s
}

// Send implements router.FrameIO by dispatching to the named device.
func (s *Set) Send(ifaceName string, frame []byte) error {
	d, ok := s.devices[ifaceName]
	if !ok {
		return fmt.Errorf("netdev: unknown interface %q", ifaceName)
	}
	return d.Send(ifaceName, frame)
}

// Run starts one read loop per device and blocks until ctx is done or any
// loop returns a non-context error.
func (s *Set) Run(ctx context.Context, mtu int, dispatch Dispatcher) error {
	errc := make(chan error, len(s.devices))
	for _, d := range s.devices {
		go func(d *Device) {
			errc <- d.ReadLoop(ctx, mtu, dispatch)
		}(d)
	}
	for range s.devices {
		if err := <-errc; err != nil && ctx.Err() == nil {
			return err
		}
	}
	return nil
}

// Close closes every device in the set.
func (s *Set) Close() error {
	var first error
	for _, d := range s.devices {
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
