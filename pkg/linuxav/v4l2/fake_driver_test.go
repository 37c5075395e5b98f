package v4l2

import (
	"errors"
	"syscall"
	"time"
)

type waitStep struct {
	ready bool
	err   error
}

// fakeDriver simulates a capture driver. Queued buffers complete in FIFO
// order; scripted wait results and dequeue errors are consumed first.
type fakeDriver struct {
	caps    Capability
	capsErr error

	cropErr    error
	setCropErr error
	cropSet    *Rect

	current   Format
	getFmtErr error
	setFmtErr error
	adjust    func(Format) Format
	requested *Format

	grant      uint32 // 0 grants what was requested
	reqErr     error
	reqCalls   []uint32
	bufLen     uint32
	queryErr   error
	mapErr     error
	mapFailAt  int // index whose mapping fails, -1 for none
	unmapErr   error
	mapped     int
	unmapped   int
	bytesUsed  uint32 // 0 reports the full buffer length
	dequeueErr []error
	badIndex   *uint32

	queueErr     error
	queueCalls   int
	queued       []uint32
	doubleQueued bool

	waits []waitStep
	waitN int

	streamOnErr  error
	streamOffErr error
	streaming    bool
	streamOffs   int

	closeErr error
	closed   int

	seq    uint32
	events []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		caps: Capability{
			Driver:       "fake",
			Card:         "Fake Camera",
			BusInfo:      "usb-0000:00:14.0-1",
			Capabilities: CapVideoCapture | CapStreaming,
		},
		current: Format{
			Width:        320,
			Height:       240,
			PixelFormat:  PixFmtYUYV,
			Field:        FieldNone,
			BytesPerLine: 640,
			SizeImage:    320 * 240 * 2,
		},
		bufLen:    640 * 480 * 2,
		mapFailAt: -1,
	}
}

func (d *fakeDriver) opener() DriverOpener {
	return func(string) (Driver, error) { return d, nil }
}

func (d *fakeDriver) QueryCapability() (Capability, error) {
	d.events = append(d.events, "querycap")
	return d.caps, d.capsErr
}

func (d *fakeDriver) EnumFormat(index uint32) (FormatInfo, error) {
	formats := []FormatInfo{
		{PixelFormat: PixFmtYUYV, FormatName: "YUYV 4:2:2"},
		{PixelFormat: PixFmtMJPEG, FormatName: "Motion-JPEG", Compressed: true},
	}
	if int(index) >= len(formats) {
		return FormatInfo{}, syscall.EINVAL
	}
	return formats[index], nil
}

func (d *fakeDriver) CropCapability() (CropCapability, error) {
	d.events = append(d.events, "cropcap")
	if d.cropErr != nil {
		return CropCapability{}, d.cropErr
	}
	return CropCapability{Default: Rect{Width: d.current.Width, Height: d.current.Height}}, nil
}

func (d *fakeDriver) SetCrop(r Rect) error {
	d.events = append(d.events, "s_crop")
	d.cropSet = &r
	return d.setCropErr
}

func (d *fakeDriver) GetFormat() (Format, error) {
	d.events = append(d.events, "g_fmt")
	return d.current, d.getFmtErr
}

func (d *fakeDriver) SetFormat(f Format) (Format, error) {
	d.events = append(d.events, "s_fmt")
	d.requested = &f
	if d.setFmtErr != nil {
		return Format{}, d.setFmtErr
	}
	applied := f
	applied.BytesPerLine = f.Width * 2
	applied.SizeImage = applied.BytesPerLine * f.Height
	if d.adjust != nil {
		applied = d.adjust(applied)
	}
	d.current = applied
	return applied, nil
}

func (d *fakeDriver) RequestBuffers(count uint32) (uint32, error) {
	d.events = append(d.events, "reqbufs")
	d.reqCalls = append(d.reqCalls, count)
	if d.reqErr != nil && count != 0 {
		return 0, d.reqErr
	}
	if count == 0 || d.grant == 0 {
		return count, nil
	}
	return d.grant, nil
}

func (d *fakeDriver) QueryBuffer(index uint32) (BufferInfo, error) {
	if d.queryErr != nil {
		return BufferInfo{}, d.queryErr
	}
	return BufferInfo{Index: index, Offset: index * 4096, Length: d.bufLen}, nil
}

func (d *fakeDriver) Map(offset int64, length int) ([]byte, error) {
	if d.mapErr != nil && int(offset/4096) == d.mapFailAt {
		return nil, d.mapErr
	}
	d.mapped++
	return make([]byte, length), nil
}

func (d *fakeDriver) Unmap([]byte) error {
	d.unmapped++
	return d.unmapErr
}

func (d *fakeDriver) QueueBuffer(index uint32) error {
	d.queueCalls++
	if d.queueErr != nil {
		return d.queueErr
	}
	if d.isQueued(index) {
		d.doubleQueued = true
		return syscall.EINVAL
	}
	d.queued = append(d.queued, index)
	return nil
}

func (d *fakeDriver) isQueued(index uint32) bool {
	for _, q := range d.queued {
		if q == index {
			return true
		}
	}
	return false
}

func (d *fakeDriver) DequeueBuffer() (BufferInfo, error) {
	if len(d.dequeueErr) > 0 {
		err := d.dequeueErr[0]
		d.dequeueErr = d.dequeueErr[1:]
		if err != nil {
			return BufferInfo{}, err
		}
	}
	if d.badIndex != nil {
		return BufferInfo{Index: *d.badIndex}, nil
	}
	if !d.streaming || len(d.queued) == 0 {
		return BufferInfo{}, syscall.EINVAL
	}
	index := d.queued[0]
	d.queued = d.queued[1:]
	d.seq++
	used := d.bytesUsed
	if used == 0 {
		used = d.bufLen
	}
	return BufferInfo{
		Index:     index,
		BytesUsed: used,
		Sequence:  d.seq,
		Length:    d.bufLen,
		Timestamp: time.Unix(int64(d.seq), 0),
	}, nil
}

func (d *fakeDriver) StreamOn() error {
	d.events = append(d.events, "streamon")
	if d.streamOnErr != nil {
		return d.streamOnErr
	}
	d.streaming = true
	return nil
}

func (d *fakeDriver) StreamOff() error {
	d.events = append(d.events, "streamoff")
	d.streamOffs++
	d.streaming = false
	d.queued = nil
	return d.streamOffErr
}

func (d *fakeDriver) WaitReadable(time.Duration) (bool, error) {
	d.waitN++
	if len(d.waits) > 0 {
		step := d.waits[0]
		d.waits = d.waits[1:]
		return step.ready, step.err
	}
	return true, nil
}

func (d *fakeDriver) Close() error {
	d.events = append(d.events, "close")
	d.closed++
	return d.closeErr
}

var errFake = errors.New("fake failure")
