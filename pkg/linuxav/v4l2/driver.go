package v4l2

import "time"

// Driver is the kernel interface of one open V4L2 device node. Methods that
// fail because of the kernel return the raw syscall.Errno so callers can
// distinguish EINVAL, EAGAIN and EINTR.
//
// The default implementation issues ioctls on a file descriptor. Tests and
// alternative backends can supply their own through WithDriverOpener.
type Driver interface {
	QueryCapability() (Capability, error)
	EnumFormat(index uint32) (FormatInfo, error)
	CropCapability() (CropCapability, error)
	SetCrop(r Rect) error
	GetFormat() (Format, error)
	// SetFormat requests f and returns what the driver actually applied.
	SetFormat(f Format) (Format, error)
	// RequestBuffers asks for count mmap buffers and returns the number
	// granted. A count of zero releases the allocation.
	RequestBuffers(count uint32) (uint32, error)
	QueryBuffer(index uint32) (BufferInfo, error)
	Map(offset int64, length int) ([]byte, error)
	Unmap(b []byte) error
	QueueBuffer(index uint32) error
	DequeueBuffer() (BufferInfo, error)
	StreamOn() error
	StreamOff() error
	// WaitReadable blocks until a buffer may be dequeued or the timeout
	// elapses. It returns false on timeout and syscall.EINTR when
	// interrupted by a signal.
	WaitReadable(timeout time.Duration) (bool, error)
	Close() error
}

// DriverOpener opens a device node and returns its driver.
type DriverOpener func(path string) (Driver, error)

// OpenDriver opens path with the platform's default driver.
func OpenDriver(path string) (Driver, error) {
	return openDevice(path)
}
