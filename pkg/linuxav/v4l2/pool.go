package v4l2

import (
	"errors"
	"fmt"
	"log/slog"
	"syscall"
)

// buffer is one memory-mapped region shared with the driver.
type buffer struct {
	index uint32
	data  []byte
	state BufferState
}

// bufferPool tracks the mapped buffers of a session and the owner of each.
// Ownership only changes through enqueue and dequeue, and every change goes
// Dequeued -> Queued -> Dequeued.
type bufferPool struct {
	path      string
	drv       Driver
	bufs      []buffer
	requested bool
}

func newBufferPool(path string, drv Driver) *bufferPool {
	return &bufferPool{path: path, drv: drv}
}

// allocate requests count buffers and maps every buffer the driver grants.
// Mapped buffers start out owned by the application. On failure the pool
// keeps whatever was mapped so release can undo it.
func (p *bufferPool) allocate(count, minSize uint32) error {
	granted, err := p.drv.RequestBuffers(count)
	if err != nil {
		if errors.Is(err, syscall.EINVAL) {
			return deviceError(p.path, "VIDIOC_REQBUFS", ErrMmapUnsupported, err)
		}
		return deviceError(p.path, "VIDIOC_REQBUFS", nil, err)
	}
	p.requested = true

	if granted < 2 {
		return deviceError(p.path, "VIDIOC_REQBUFS", ErrInsufficientBuffers,
			fmt.Errorf("driver granted %d of %d buffers", granted, count))
	}

	p.bufs = make([]buffer, 0, granted)
	for i := uint32(0); i < granted; i++ {
		info, err := p.drv.QueryBuffer(i)
		if err != nil {
			return deviceError(p.path, "VIDIOC_QUERYBUF", ErrMapping, err)
		}
		if info.Length < minSize {
			return deviceError(p.path, "VIDIOC_QUERYBUF", ErrBufferTooSmall,
				fmt.Errorf("buffer %d is %d bytes, image needs %d", i, info.Length, minSize))
		}

		data, err := p.drv.Map(int64(info.Offset), int(info.Length))
		if err != nil {
			return deviceError(p.path, "mmap", ErrMapping, err)
		}
		p.bufs = append(p.bufs, buffer{index: i, data: data, state: BufferDequeued})
	}

	return nil
}

// enqueue hands buffer index to the driver.
func (p *bufferPool) enqueue(index uint32) error {
	if int(index) >= len(p.bufs) {
		return deviceError(p.path, "VIDIOC_QBUF", ErrInvariant,
			fmt.Errorf("buffer index %d out of range [0,%d)", index, len(p.bufs)))
	}
	b := &p.bufs[index]
	if b.state != BufferDequeued {
		return deviceError(p.path, "VIDIOC_QBUF", ErrInvariant,
			fmt.Errorf("buffer %d is already queued", index))
	}
	if err := p.drv.QueueBuffer(index); err != nil {
		return deviceError(p.path, "VIDIOC_QBUF", ErrEnqueue, err)
	}
	b.state = BufferQueued
	return nil
}

// enqueueAll hands every buffer to the driver.
func (p *bufferPool) enqueueAll() error {
	for i := range p.bufs {
		if err := p.enqueue(p.bufs[i].index); err != nil {
			return err
		}
	}
	return nil
}

// dequeue reclaims the next filled buffer from the driver. A driver that
// has nothing ready reports syscall.EAGAIN, which callers can test with
// errors.Is.
func (p *bufferPool) dequeue() (*buffer, BufferInfo, error) {
	info, err := p.drv.DequeueBuffer()
	if err != nil {
		return nil, BufferInfo{}, deviceError(p.path, "VIDIOC_DQBUF", ErrDequeue, err)
	}
	if int(info.Index) >= len(p.bufs) {
		return nil, info, deviceError(p.path, "VIDIOC_DQBUF", ErrInvariant,
			fmt.Errorf("driver returned buffer index %d, pool has %d", info.Index, len(p.bufs)))
	}
	b := &p.bufs[info.Index]
	if b.state != BufferQueued {
		return nil, info, deviceError(p.path, "VIDIOC_DQBUF", ErrInvariant,
			fmt.Errorf("driver returned buffer %d which was not queued", info.Index))
	}
	b.state = BufferDequeued
	return b, info, nil
}

// release unmaps every buffer and frees the driver allocation. Failures are
// logged and do not stop the remaining buffers from being released.
func (p *bufferPool) release(logger *slog.Logger) {
	for i := range p.bufs {
		b := &p.bufs[i]
		if b.data == nil {
			continue
		}
		if err := p.drv.Unmap(b.data); err != nil {
			logger.Warn("munmap failed", "index", b.index, "error", err)
		}
		b.data = nil
	}

	if p.requested {
		if _, err := p.drv.RequestBuffers(0); err != nil {
			logger.Debug("failed to free driver buffers", "error", err)
		}
		p.requested = false
	}
}

func (p *bufferPool) size() int {
	return len(p.bufs)
}

// states returns the ownership state of every buffer, by index.
func (p *bufferPool) states() []BufferState {
	out := make([]BufferState, len(p.bufs))
	for i, b := range p.bufs {
		out[i] = b.state
	}
	return out
}
