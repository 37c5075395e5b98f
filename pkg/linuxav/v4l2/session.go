package v4l2

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"
)

const (
	// DefaultBufferCount is the number of mmap buffers requested per session.
	DefaultBufferCount = 4
	// DefaultTimeout bounds each wait for a frame.
	DefaultTimeout = 2 * time.Second
)

// Option configures a session.
type Option func(*options)

type options struct {
	force       bool
	format      Format
	bufferCount uint32
	timeout     time.Duration
	logger      *slog.Logger
	opener      DriverOpener
}

func defaultOptions() options {
	return options{
		bufferCount: DefaultBufferCount,
		timeout:     DefaultTimeout,
		logger:      slog.With("component", "linuxav"),
		opener:      OpenDriver,
	}
}

// WithForceFormat requests f instead of keeping the device's current format.
// The driver may adjust width and height; the session uses what it applies.
func WithForceFormat(f Format) Option {
	return func(o *options) {
		o.force = true
		o.format = f
	}
}

// WithDefaultForcedFormat requests DefaultForcedFormat.
func WithDefaultForcedFormat() Option {
	return WithForceFormat(DefaultForcedFormat)
}

// WithBufferCount sets the number of buffers requested from the driver.
func WithBufferCount(n uint32) Option {
	return func(o *options) {
		o.bufferCount = n
	}
}

// WithTimeout sets how long Poll waits for the device before failing.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger used for teardown warnings and debug output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDriverOpener replaces the function used to open the device node.
func WithDriverOpener(open DriverOpener) Option {
	return func(o *options) {
		if open != nil {
			o.opener = open
		}
	}
}

// Session is a streaming capture session on one device. It owns the open
// device, the negotiated format and the mapped buffer pool.
//
// Poll and Close are serialized; a Session is meant to be driven from a
// single goroutine.
type Session struct {
	path    string
	drv     Driver
	caps    Capability
	format  Format
	pool    *bufferPool
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	state  StreamState
	closed bool
	frames uint64
}

// Open opens the capture device at path, negotiates its format, maps the
// buffer pool and starts streaming. If any step fails, everything set up by
// earlier steps is released before the error is returned.
func Open(path string, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if err := checkDeviceNode(path); err != nil {
		return nil, err
	}

	drv, err := o.opener(path)
	if err != nil {
		return nil, openError(path, err)
	}

	s := &Session{
		path:    path,
		drv:     drv,
		pool:    newBufferPool(path, drv),
		timeout: o.timeout,
		logger:  o.logger.With("device", path),
	}

	if err := s.start(o); err != nil {
		s.release()
		s.closed = true
		return nil, err
	}

	s.logger.Debug("capture session streaming",
		"format", s.format.String(),
		"buffers", s.pool.size())
	return s, nil
}

// checkDeviceNode verifies that path exists and is a character device.
func checkDeviceNode(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return deviceError(path, "stat", ErrDeviceNotFound, err)
		}
		return deviceError(path, "stat", nil, err)
	}
	if fi.Mode()&os.ModeCharDevice == 0 {
		return deviceError(path, "stat", ErrNotDevice, nil)
	}
	return nil
}

func openError(path string, err error) error {
	if errors.Is(err, ErrUnsupportedPlatform) {
		return err
	}
	var kind error
	if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ENODEV) || errors.Is(err, syscall.ENXIO) {
		kind = ErrDeviceNotFound
	}
	return deviceError(path, "open", kind, err)
}

func (s *Session) start(o options) error {
	caps, err := s.drv.QueryCapability()
	if err != nil {
		if errors.Is(err, syscall.EINVAL) {
			return deviceError(s.path, "VIDIOC_QUERYCAP", ErrNotV4L2, err)
		}
		return deviceError(s.path, "VIDIOC_QUERYCAP", nil, err)
	}
	s.caps = caps

	if !caps.CanCapture() {
		return deviceError(s.path, "VIDIOC_QUERYCAP", ErrNotCaptureDevice, nil)
	}
	if !caps.CanStream() {
		return deviceError(s.path, "VIDIOC_QUERYCAP", ErrNoStreaming, nil)
	}

	s.resetCrop()

	format, err := s.negotiate(o)
	if err != nil {
		return err
	}
	if format.Overflows() {
		return deviceError(s.path, "format", ErrImageTooLarge,
			fmt.Errorf("%dx%d %s bpl=%d", format.Width, format.Height, FourCC(format.PixelFormat), format.BytesPerLine))
	}
	s.format = format.Sanitize()

	if err := s.pool.allocate(o.bufferCount, s.format.SizeImage); err != nil {
		return err
	}
	if err := s.pool.enqueueAll(); err != nil {
		return err
	}

	if err := s.drv.StreamOn(); err != nil {
		return deviceError(s.path, "VIDIOC_STREAMON", ErrStream, err)
	}
	s.state = StateStreaming
	return nil
}

// resetCrop restores the default crop rectangle. Many devices do not
// support cropping, so failures are only logged.
func (s *Session) resetCrop() {
	cc, err := s.drv.CropCapability()
	if err != nil {
		s.logger.Debug("crop capability unavailable", "error", err)
		return
	}
	if err := s.drv.SetCrop(cc.Default); err != nil {
		s.logger.Debug("failed to reset crop", "error", err)
	}
}

func (s *Session) negotiate(o options) (Format, error) {
	if o.force {
		f, err := s.drv.SetFormat(o.format)
		if err != nil {
			return Format{}, deviceError(s.path, "VIDIOC_S_FMT", ErrFormatNegotiation, err)
		}
		if f.Width != o.format.Width || f.Height != o.format.Height {
			s.logger.Debug("driver adjusted requested size",
				"requested", fmt.Sprintf("%dx%d", o.format.Width, o.format.Height),
				"applied", fmt.Sprintf("%dx%d", f.Width, f.Height))
		}
		return f, nil
	}

	// Keep whatever was configured before, e.g. by v4l2-ctl.
	f, err := s.drv.GetFormat()
	if err != nil {
		return Format{}, deviceError(s.path, "VIDIOC_G_FMT", ErrFormatNegotiation, err)
	}
	return f, nil
}

// Poll waits for the next frame, passes its bytes to fn and returns the
// buffer to the driver. data is only valid until fn returns.
func (s *Session) Poll(fn FrameFunc) error {
	return s.PollFrame(func(f Frame) {
		fn(f.Data)
	})
}

// PollFrame is like Poll but also passes the buffer index, sequence number
// and capture timestamp.
//
// A wait that times out returns an error matching ErrTimeout and leaves the
// session usable. Signal interruptions and spurious wakeups are retried.
func (s *Session) PollFrame(fn func(Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != StateStreaming {
		return deviceError(s.path, "poll", ErrClosed, nil)
	}

	for {
		ready, err := s.drv.WaitReadable(s.timeout)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return deviceError(s.path, "poll", nil, err)
		}
		if !ready {
			return deviceError(s.path, "poll", ErrTimeout, nil)
		}

		buf, info, err := s.pool.dequeue()
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) {
				continue
			}
			return err
		}

		return s.consume(buf, info, fn)
	}
}

// consume runs fn over a dequeued buffer and queues it again, even if fn
// panics.
func (s *Session) consume(buf *buffer, info BufferInfo, fn func(Frame)) (err error) {
	defer func() {
		if qerr := s.pool.enqueue(buf.index); qerr != nil && err == nil {
			err = qerr
		}
	}()

	n := int(info.BytesUsed)
	if n > len(buf.data) {
		s.logger.Debug("bytesused exceeds buffer length", "index", buf.index, "bytesused", n, "length", len(buf.data))
		n = len(buf.data)
	}

	s.frames++
	fn(Frame{
		Index:     buf.index,
		Sequence:  info.Sequence,
		Timestamp: info.Timestamp,
		Data:      buf.data[:n:n],
	})
	return nil
}

// Close stops streaming, unmaps the buffers and closes the device. It is
// safe to call more than once and never fails; problems are logged.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.release()
}

func (s *Session) release() {
	if s.state == StateStreaming {
		if err := s.drv.StreamOff(); err != nil {
			s.logger.Warn("VIDIOC_STREAMOFF failed", "error", err)
		}
		s.state = StateStopped
	}

	s.pool.release(s.logger)

	if err := s.drv.Close(); err != nil {
		s.logger.Warn("close failed", "error", err)
	}
}

// Path returns the device path.
func (s *Session) Path() string { return s.path }

// Format returns the negotiated format.
func (s *Session) Format() Format { return s.format }

// Capability returns the device capabilities.
func (s *Session) Capability() Capability { return s.caps }

// BufferCount returns the number of buffers granted by the driver.
func (s *Session) BufferCount() int { return s.pool.size() }

// State returns the streaming state.
func (s *Session) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Frames returns the number of frames consumed so far.
func (s *Session) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// BufferStates returns the ownership state of every buffer, by index.
func (s *Session) BufferStates() []BufferState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.states()
}
