//go:build linux && (amd64 || arm64 || arm)

package v4l2

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// fdDriver implements Driver with ioctls on an open device node.
type fdDriver struct {
	fd int
}

func openDevice(path string) (Driver, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &fdDriver{fd: fd}, nil
}

// ioctl retries requests interrupted by a signal.
func (d *fdDriver) ioctl(req uint, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), uintptr(req), uintptr(arg))
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

func (d *fdDriver) QueryCapability() (Capability, error) {
	c := v4l2Capability{}
	if err := d.ioctl(vidiocQuerycap, unsafe.Pointer(&c)); err != nil {
		return Capability{}, err
	}
	return Capability{
		Driver:       cstr(c.driver[:]),
		Card:         cstr(c.card[:]),
		BusInfo:      cstr(c.busInfo[:]),
		Version:      c.version,
		Capabilities: c.capabilities,
		DeviceCaps:   c.deviceCaps,
	}, nil
}

func (d *fdDriver) EnumFormat(index uint32) (FormatInfo, error) {
	desc := v4l2Fmtdesc{
		index: index,
		typ:   bufTypeVideoCapture,
	}
	if err := d.ioctl(vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
		return FormatInfo{}, err
	}
	return FormatInfo{
		PixelFormat: desc.pixelformat,
		FormatName:  cstr(desc.description[:]),
		Compressed:  desc.flags&fmtFlagCompressed != 0,
		Emulated:    desc.flags&fmtFlagEmulated != 0,
	}, nil
}

func (d *fdDriver) CropCapability() (CropCapability, error) {
	cc := v4l2Cropcap{typ: bufTypeVideoCapture}
	if err := d.ioctl(vidiocCropcap, unsafe.Pointer(&cc)); err != nil {
		return CropCapability{}, err
	}
	return CropCapability{
		Bounds:  fromRect(cc.bounds),
		Default: fromRect(cc.defrect),
	}, nil
}

func (d *fdDriver) SetCrop(r Rect) error {
	crop := v4l2Crop{
		typ: bufTypeVideoCapture,
		c: v4l2Rect{
			left:   r.Left,
			top:    r.Top,
			width:  r.Width,
			height: r.Height,
		},
	}
	return d.ioctl(vidiocSCrop, unsafe.Pointer(&crop))
}

func (d *fdDriver) GetFormat() (Format, error) {
	f := v4l2Format{typ: bufTypeVideoCapture}
	if err := d.ioctl(vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return Format{}, err
	}
	return fromPixFormat(f.pix), nil
}

func (d *fdDriver) SetFormat(req Format) (Format, error) {
	f := v4l2Format{
		typ: bufTypeVideoCapture,
		pix: v4l2PixFormat{
			width:       req.Width,
			height:      req.Height,
			pixelformat: req.PixelFormat,
			field:       req.Field,
		},
	}
	if err := d.ioctl(vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return Format{}, err
	}
	// The driver writes back the format it actually applied.
	return fromPixFormat(f.pix), nil
}

func (d *fdDriver) RequestBuffers(count uint32) (uint32, error) {
	rb := v4l2RequestBuffers{
		count:  count,
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := d.ioctl(vidiocReqbufs, unsafe.Pointer(&rb)); err != nil {
		return 0, err
	}
	return rb.count, nil
}

func (d *fdDriver) QueryBuffer(index uint32) (BufferInfo, error) {
	qb := v4l2Buffer{
		index:  index,
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := d.ioctl(vidiocQuerybuf, unsafe.Pointer(&qb)); err != nil {
		return BufferInfo{}, err
	}
	return fromBuffer(&qb), nil
}

func (d *fdDriver) Map(offset int64, length int) ([]byte, error) {
	return unix.Mmap(d.fd, offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (d *fdDriver) Unmap(b []byte) error {
	return unix.Munmap(b)
}

func (d *fdDriver) QueueBuffer(index uint32) error {
	qb := v4l2Buffer{
		index:  index,
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	return d.ioctl(vidiocQbuf, unsafe.Pointer(&qb))
}

func (d *fdDriver) DequeueBuffer() (BufferInfo, error) {
	dq := v4l2Buffer{
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := d.ioctl(vidiocDqbuf, unsafe.Pointer(&dq)); err != nil {
		return BufferInfo{}, err
	}
	return fromBuffer(&dq), nil
}

func (d *fdDriver) StreamOn() error {
	typ := uint32(bufTypeVideoCapture)
	return d.ioctl(vidiocStreamon, unsafe.Pointer(&typ))
}

func (d *fdDriver) StreamOff() error {
	typ := uint32(bufTypeVideoCapture)
	return d.ioctl(vidiocStreamoff, unsafe.Pointer(&typ))
}

func (d *fdDriver) WaitReadable(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *fdDriver) Close() error {
	return unix.Close(d.fd)
}

func fromPixFormat(p v4l2PixFormat) Format {
	return Format{
		Width:        p.width,
		Height:       p.height,
		PixelFormat:  p.pixelformat,
		Field:        p.field,
		BytesPerLine: p.bytesperline,
		SizeImage:    p.sizeimage,
		Colorspace:   p.colorspace,
	}
}

func fromRect(r v4l2Rect) Rect {
	return Rect{Left: r.left, Top: r.top, Width: r.width, Height: r.height}
}

func fromBuffer(b *v4l2Buffer) BufferInfo {
	return BufferInfo{
		Index:     b.index,
		BytesUsed: b.bytesused,
		Flags:     b.flags,
		Sequence:  b.sequence,
		Offset:    b.offset,
		Length:    b.length,
		Timestamp: bufferTime(b.flags, time.Duration(b.timestamp.Nano()), monotonicNow(), time.Now()),
	}
}

// monotonicNow reads CLOCK_MONOTONIC, the clock drivers stamp buffers with.
func monotonicNow() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}
