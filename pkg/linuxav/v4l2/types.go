package v4l2

import (
	"bytes"
	"fmt"
	"time"
)

// Capability flags.
const (
	CapVideoCapture       = 0x00000001
	CapVideoOutput        = 0x00000002
	CapVideoOverlay       = 0x00000004
	CapVBICapture         = 0x00000010
	CapVideoCaptureMplane = 0x00001000
	CapVideoOutputMplane  = 0x00002000
	CapVideoM2MMplane     = 0x00004000
	CapVideoM2M           = 0x00008000
	CapTuner              = 0x00010000
	CapAudio              = 0x00020000
	CapExtPixFormat       = 0x00200000
	CapMetaCapture        = 0x00800000
	CapReadWrite          = 0x01000000
	CapStreaming          = 0x04000000
	CapMetaOutput         = 0x08000000
	CapTouch              = 0x10000000
	CapIOMC               = 0x20000000
	CapDeviceCaps         = 0x80000000
)

var capabilityNames = []struct {
	flag uint32
	name string
}{
	{CapVideoCapture, "Video Capture"},
	{CapVideoOutput, "Video Output"},
	{CapVideoOverlay, "Video Overlay"},
	{CapVBICapture, "VBI Capture"},
	{CapVideoCaptureMplane, "Video Capture Multiplanar"},
	{CapVideoOutputMplane, "Video Output Multiplanar"},
	{CapVideoM2MMplane, "Video Memory-to-Memory Multiplanar"},
	{CapVideoM2M, "Video Memory-to-Memory"},
	{CapTuner, "Tuner"},
	{CapAudio, "Audio"},
	{CapExtPixFormat, "Extended Pix Format"},
	{CapMetaCapture, "Metadata Capture"},
	{CapReadWrite, "Read/Write"},
	{CapStreaming, "Streaming"},
	{CapMetaOutput, "Metadata Output"},
	{CapTouch, "Touch Device"},
	{CapIOMC, "I/O Media Controller"},
	{CapDeviceCaps, "Device Capabilities"},
}

// CapabilityNames lists the readable names of the flags set in caps, in
// bit order.
func CapabilityNames(caps uint32) []string {
	var names []string
	for _, c := range capabilityNames {
		if caps&c.flag != 0 {
			names = append(names, c.name)
		}
	}
	return names
}

// Field orders.
const (
	FieldAny        = 0
	FieldNone       = 1
	FieldTop        = 2
	FieldBottom     = 3
	FieldInterlaced = 4
)

// Common pixel formats.
const (
	PixFmtYUYV   uint32 = 0x56595559 // 'YUYV'
	PixFmtUYVY   uint32 = 0x59565955 // 'UYVY'
	PixFmtYVYU   uint32 = 0x55595659 // 'YVYU'
	PixFmtVYUY   uint32 = 0x59555956 // 'VYUY'
	PixFmtGrey   uint32 = 0x59455247 // 'GREY'
	PixFmtY16    uint32 = 0x20363159 // 'Y16 '
	PixFmtZ16    uint32 = 0x2036315a // 'Z16 '
	PixFmtRGB565 uint32 = 0x50424752 // 'RGBP'
	PixFmtRGB24  uint32 = 0x33424752 // 'RGB3'
	PixFmtBGR24  uint32 = 0x33524742 // 'BGR3'
	PixFmtRGB32  uint32 = 0x34424752 // 'RGB4'
	PixFmtBGR32  uint32 = 0x34524742 // 'BGR4'
	PixFmtNV12   uint32 = 0x3231564e // 'NV12'
	PixFmtYUV420 uint32 = 0x32315559 // 'YU12'
	PixFmtMJPEG  uint32 = 0x47504a4d // 'MJPG'
	PixFmtH264   uint32 = 0x34363248 // 'H264'
	PixFmtHEVC   uint32 = 0x43564548 // 'HEVC'

	// PixFmtINZI packs each pixel as 16-bit little-endian depth followed by
	// 8-bit infrared, as streamed by Intel RealSense depth cameras.
	PixFmtINZI uint32 = 0x495a4e49 // 'INZI'
)

// Buffer timestamp flags (V4L2_BUF_FLAG_TIMESTAMP_*).
const (
	BufFlagTimestampMask      = 0xe000
	BufFlagTimestampUnknown   = 0x0000
	BufFlagTimestampMonotonic = 0x2000
	BufFlagTimestampCopy      = 0x4000
)

// Format flags.
const (
	fmtFlagCompressed = 0x0001
	fmtFlagEmulated   = 0x0002
)

const (
	bufTypeVideoCapture = 1
	memoryMmap          = 1
)

// Capability is the result of VIDIOC_QUERYCAP.
type Capability struct {
	Driver       string
	Card         string
	BusInfo      string
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
}

// Effective returns the capabilities of the opened node. Drivers that set
// CapDeviceCaps report per-node capabilities separately from the physical
// device as a whole.
func (c Capability) Effective() uint32 {
	if c.Capabilities&CapDeviceCaps != 0 {
		return c.DeviceCaps
	}
	return c.Capabilities
}

// CanCapture reports whether the node supports single-planar video capture.
func (c Capability) CanCapture() bool {
	return c.Effective()&CapVideoCapture != 0
}

// CanStream reports whether the node supports streaming I/O.
func (c Capability) CanStream() bool {
	return c.Effective()&CapStreaming != 0
}

// VersionString formats the kernel version triplet.
func (c Capability) VersionString() string {
	return fmt.Sprintf("%d.%d.%d", byte(c.Version>>16), byte(c.Version>>8), byte(c.Version))
}

// Rect is a crop rectangle.
type Rect struct {
	Left   int32
	Top    int32
	Width  uint32
	Height uint32
}

// CropCapability is the result of VIDIOC_CROPCAP.
type CropCapability struct {
	Bounds  Rect
	Default Rect
}

// BufferInfo describes a driver buffer as reported by VIDIOC_QUERYBUF or
// VIDIOC_DQBUF.
type BufferInfo struct {
	Index     uint32
	BytesUsed uint32
	Flags     uint32
	Sequence  uint32
	Offset    uint32
	Length    uint32
	Timestamp time.Time
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat uint32
	FormatName  string
	Compressed  bool
	Emulated    bool
}

// DeviceInfo contains information about a V4L2 capture device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Caps       uint32
}

// Frame is one captured frame. Data aliases the mapped driver buffer and
// is only valid for the duration of the callback it was passed to.
type Frame struct {
	Index     uint32
	Sequence  uint32
	Timestamp time.Time
	Data      []byte
}

// FrameFunc consumes the bytes of one frame. len(data) is the number of
// bytes the driver reported as used, which may be less than the negotiated
// image size.
type FrameFunc func(data []byte)

// StreamState is the streaming state of a session.
type StreamState int

// Stream states.
const (
	StateStopped StreamState = iota
	StateStreaming
)

func (s StreamState) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	default:
		return "stopped"
	}
}

// BufferState is the ownership state of a pool buffer.
type BufferState int

// Buffer states. A dequeued buffer is owned by the application; a queued
// buffer is owned by the driver.
const (
	BufferDequeued BufferState = iota
	BufferQueued
)

func (s BufferState) String() string {
	if s == BufferQueued {
		return "queued"
	}
	return "dequeued"
}

// cstr converts a null-terminated byte slice to a Go string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
