// Package capture drives one streaming session per configured device and
// keeps the latest frame of each.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/smazurov/videocap/internal/config"
	"github.com/smazurov/videocap/internal/events"
	"github.com/smazurov/videocap/internal/logging"
	"github.com/smazurov/videocap/pkg/linuxav/v4l2"
)

const (
	// DefaultMaxConsecutiveTimeouts is how many polls in a row may time out
	// before the session is reopened.
	DefaultMaxConsecutiveTimeouts = 3
	// DefaultReopenDelay is the wait before reopening a failed session.
	DefaultReopenDelay = 2 * time.Second
)

// ErrNoDevices is returned by Run when no device can ever be opened.
var ErrNoDevices = errors.New("no usable capture devices")

// Session is the part of *v4l2.Session the runner uses.
type Session interface {
	PollFrame(fn func(v4l2.Frame)) error
	Close()
	Format() v4l2.Format
	BufferCount() int
}

// Opener opens a capture session.
type Opener func(path string, opts ...v4l2.Option) (Session, error)

// OpenV4L2 opens a real device.
func OpenV4L2(path string, opts ...v4l2.Option) (Session, error) {
	s, err := v4l2.Open(path, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Device is one capture source.
type Device struct {
	Name    string
	Path    string
	Options []v4l2.Option
}

// DevicesFromSpecs resolves configured devices into capture sources.
// Stable IDs that don't resolve yet are kept as given; opening them fails
// and is reported like any other missing device.
func DevicesFromSpecs(specs []config.DeviceSpec) ([]Device, error) {
	devices := make([]Device, 0, len(specs))
	for _, spec := range specs {
		opts, err := spec.SessionOptions()
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", spec.Path, err)
		}
		path := spec.Path
		if resolved, err := v4l2.ResolvePath(spec.Path); err == nil {
			path = resolved
		}
		devices = append(devices, Device{Name: spec.DisplayName(), Path: path, Options: opts})
	}
	return devices, nil
}

// Option configures a Runner.
type Option func(*Runner)

// WithOpener replaces the function used to open sessions.
func WithOpener(open Opener) Option {
	return func(r *Runner) {
		if open != nil {
			r.open = open
		}
	}
}

// WithMaxConsecutiveTimeouts sets how many timeouts in a row trigger a reopen.
func WithMaxConsecutiveTimeouts(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxTimeouts = n
		}
	}
}

// WithReopenDelay sets the wait before reopening a session.
func WithReopenDelay(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.reopenDelay = d
		}
	}
}

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// Runner polls every device in turn and publishes what it sees on the bus.
type Runner struct {
	devices     []*device
	bus         *events.Bus
	open        Opener
	maxTimeouts int
	reopenDelay time.Duration
	logger      *slog.Logger
}

type device struct {
	Device
	store    *Store
	session  Session
	timeouts int
	retryAt  time.Time
	failed   bool
}

// NewRunner creates a runner for devices. bus may be nil.
func NewRunner(devices []Device, bus *events.Bus, opts ...Option) *Runner {
	r := &Runner{
		bus:         bus,
		open:        OpenV4L2,
		maxTimeouts: DefaultMaxConsecutiveTimeouts,
		reopenDelay: DefaultReopenDelay,
		logger:      logging.GetLogger("capture"),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, d := range devices {
		r.devices = append(r.devices, &device{Device: d, store: newStore(d.Name, d.Path)})
	}
	return r
}

// Stores returns the per-device stores in configuration order.
func (r *Runner) Stores() []*Store {
	stores := make([]*Store, len(r.devices))
	for i, d := range r.devices {
		stores[i] = d.store
	}
	return stores
}

// Run opens every device and polls them in sequence until ctx is done or
// every device has failed with a configuration error. All sessions are
// closed before it returns.
//
// A poll blocks for at most the session timeout, so cancellation is
// noticed within one timeout per device.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.devices) == 0 {
		return ErrNoDevices
	}
	defer r.closeAll()

	for _, d := range r.devices {
		r.openDevice(d)
	}

	timer := time.NewTimer(r.reopenDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		polled, pending := false, false
		var next time.Time

		for _, d := range r.devices {
			if ctx.Err() != nil {
				return nil
			}
			switch {
			case d.failed:
			case d.session != nil:
				r.poll(d)
				polled = true
			case !time.Now().Before(d.retryAt):
				r.openDevice(d)
				polled = polled || d.session != nil
				pending = pending || d.session == nil && !d.failed
			default:
				pending = true
			}
			if d.session == nil && !d.failed && (next.IsZero() || d.retryAt.Before(next)) {
				next = d.retryAt
			}
		}

		if !polled && !pending {
			return ErrNoDevices
		}
		if polled {
			continue
		}

		// Nothing is streaming; sleep until the earliest reopen.
		timer.Reset(time.Until(next))
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

func (r *Runner) openDevice(d *device) {
	logger := r.logger.With("device", d.Path)

	s, err := r.open(d.Path, append([]v4l2.Option{v4l2.WithLogger(logger)}, d.Options...)...)
	if err != nil {
		d.store.recordError(err)
		r.publishError(d, err)
		if v4l2.IsConfigurationError(err) {
			logger.Error("device unusable", "error", err)
			d.failed = true
			d.store.setState(events.StateFailed)
			r.publishState(d, events.StateFailed, err)
			return
		}
		logger.Warn("failed to open device, will retry", "error", err, "delay", r.reopenDelay)
		d.retryAt = time.Now().Add(r.reopenDelay)
		d.store.setState(events.StateReopening)
		r.publishState(d, events.StateReopening, err)
		return
	}

	d.session = s
	d.timeouts = 0
	d.store.setStreaming(s.Format(), s.BufferCount())
	logger.Info("device streaming", "format", s.Format().String(), "buffers", s.BufferCount())
	r.publishState(d, events.StateStreaming, nil)
}

func (r *Runner) poll(d *device) {
	start := time.Now()
	var captured *events.FrameCapturedEvent

	err := d.session.PollFrame(func(f v4l2.Frame) {
		now := time.Now()
		d.store.recordFrame(f, now)
		captured = &events.FrameCapturedEvent{
			Device:    d.Path,
			Index:     f.Index,
			Sequence:  f.Sequence,
			Bytes:     len(f.Data),
			Wait:      now.Sub(start),
			Timestamp: now,
		}
	})

	if err == nil {
		d.timeouts = 0
		if captured != nil && r.bus != nil {
			r.bus.Publish(*captured)
		}
		return
	}

	if v4l2.IsTimeout(err) {
		d.timeouts++
		d.store.recordTimeout(err)
		r.publishError(d, err)
		r.logger.Debug("poll timed out", "device", d.Path, "consecutive", d.timeouts)
		if d.timeouts >= r.maxTimeouts {
			r.reopen(d, fmt.Errorf("%d consecutive timeouts: %w", d.timeouts, err))
		}
		return
	}

	d.store.recordError(err)
	r.publishError(d, err)
	r.reopen(d, err)
}

func (r *Runner) reopen(d *device, cause error) {
	r.logger.Warn("closing session for reopen", "device", d.Path, "error", cause, "delay", r.reopenDelay)
	d.session.Close()
	d.session = nil
	d.timeouts = 0
	d.retryAt = time.Now().Add(r.reopenDelay)
	d.store.setState(events.StateReopening)
	r.publishState(d, events.StateReopening, cause)
}

func (r *Runner) closeAll() {
	for _, d := range r.devices {
		if d.session == nil {
			continue
		}
		d.session.Close()
		d.session = nil
		d.store.setState(events.StateStopped)
		r.publishState(d, events.StateStopped, nil)
	}
	r.logger.Info("capture stopped")
}

func (r *Runner) publishState(d *device, state string, cause error) {
	if r.bus == nil {
		return
	}
	ev := events.SessionStateEvent{Device: d.Path, State: state, Timestamp: time.Now()}
	if state == events.StateStreaming && d.session != nil {
		ev.Format = d.session.Format().String()
		ev.Buffers = d.session.BufferCount()
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	r.bus.Publish(ev)
}

func (r *Runner) publishError(d *device, err error) {
	if r.bus == nil {
		return
	}
	op, kind := classify(err)
	r.bus.Publish(events.CaptureErrorEvent{
		Device:    d.Path,
		Op:        op,
		Kind:      kind,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
}

var kindNames = []struct {
	err  error
	name string
}{
	{v4l2.ErrTimeout, "timeout"},
	{v4l2.ErrDequeue, "dequeue"},
	{v4l2.ErrEnqueue, "enqueue"},
	{v4l2.ErrStream, "stream"},
	{v4l2.ErrFormatNegotiation, "format"},
	{v4l2.ErrMapping, "mapping"},
	{v4l2.ErrInvariant, "invariant"},
	{v4l2.ErrClosed, "closed"},
}

// classify returns the failed operation and a short error kind for metrics
// labels.
func classify(err error) (op, kind string) {
	var de *v4l2.DeviceError
	if errors.As(err, &de) {
		op = de.Op
	}
	for _, k := range kindNames {
		if errors.Is(err, k.err) {
			return op, k.name
		}
	}
	if v4l2.IsConfigurationError(err) {
		return op, "configuration"
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return op, "syscall"
	}
	return op, "other"
}
