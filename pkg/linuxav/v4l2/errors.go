package v4l2

import (
	"errors"
	"fmt"
	"syscall"
)

// Configuration errors. These are raised while opening a session and are
// not worth retrying with the same arguments.
var (
	ErrDeviceNotFound      = errors.New("device not found")
	ErrNotDevice           = errors.New("not a character device")
	ErrNotV4L2             = errors.New("not a V4L2 device")
	ErrNotCaptureDevice    = errors.New("not a video capture device")
	ErrNoStreaming         = errors.New("streaming I/O not supported")
	ErrMmapUnsupported     = errors.New("memory mapping not supported")
	ErrInsufficientBuffers = errors.New("insufficient buffer memory")
	ErrBufferTooSmall      = errors.New("buffer smaller than image size")
	ErrImageTooLarge       = errors.New("image size exceeds 32 bits")
)

// Runtime errors.
var (
	ErrFormatNegotiation   = errors.New("format negotiation failed")
	ErrMapping             = errors.New("buffer mapping failed")
	ErrStream              = errors.New("stream control failed")
	ErrTimeout             = errors.New("timed out waiting for frame")
	ErrDequeue             = errors.New("buffer dequeue failed")
	ErrEnqueue             = errors.New("buffer enqueue failed")
	ErrInvariant           = errors.New("buffer ownership invariant violated")
	ErrClosed              = errors.New("session closed")
	ErrUnsupportedPlatform = errors.New("v4l2 capture is not supported on this platform")
)

// DeviceError describes a failed operation on a device. Op is the ioctl or
// system call name, Err the underlying error (usually a syscall.Errno) and
// Kind the sentinel the failure is classified under.
type DeviceError struct {
	Path string
	Op   string
	Kind error
	Err  error
}

func (e *DeviceError) Error() string {
	var errno syscall.Errno
	switch {
	case errors.As(e.Err, &errno) && e.Kind != nil:
		return fmt.Sprintf("%s: %s error %d, %s (%v)", e.Path, e.Op, int(errno), errno.Error(), e.Kind)
	case errors.As(e.Err, &errno):
		return fmt.Sprintf("%s: %s error %d, %s", e.Path, e.Op, int(errno), errno.Error())
	case e.Err != nil && e.Kind != nil:
		return fmt.Sprintf("%s: %s: %v: %v", e.Path, e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Op, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Op, e.Kind)
	default:
		return fmt.Sprintf("%s: %s failed", e.Path, e.Op)
	}
}

// Unwrap returns the underlying error.
func (e *DeviceError) Unwrap() error { return e.Err }

// Is matches the error's classification sentinel.
func (e *DeviceError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// Errno returns the kernel error number, or 0 if the failure did not come
// from a system call.
func (e *DeviceError) Errno() syscall.Errno {
	var errno syscall.Errno
	if errors.As(e.Err, &errno) {
		return errno
	}
	return 0
}

// Timeout reports whether the failure was a wait timeout.
func (e *DeviceError) Timeout() bool {
	return errors.Is(e.Kind, ErrTimeout)
}

// IsConfigurationError reports whether err is a non-retryable construction
// error caused by the device or its arguments rather than a transient fault.
func IsConfigurationError(err error) bool {
	for _, target := range []error{
		ErrDeviceNotFound,
		ErrNotDevice,
		ErrNotV4L2,
		ErrNotCaptureDevice,
		ErrNoStreaming,
		ErrMmapUnsupported,
		ErrInsufficientBuffers,
		ErrBufferTooSmall,
		ErrImageTooLarge,
		ErrUnsupportedPlatform,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsTimeout reports whether err is a wait timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func deviceError(path, op string, kind, err error) *DeviceError {
	return &DeviceError{Path: path, Op: op, Kind: kind, Err: err}
}
