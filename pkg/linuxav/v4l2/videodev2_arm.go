//go:build linux && arm && !arm64

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Compile-time struct size assertions for 32-bit ARM.
// These will cause build failures if struct sizes don't match kernel expectations.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2Fmtdesc{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2RequestBuffers{})]byte{}
	_ [16]byte  = [unsafe.Sizeof(v4l2Timecode{})]byte{}
	_ [68]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
	_ [16]byte  = [unsafe.Sizeof(v4l2Rect{})]byte{}
	_ [44]byte  = [unsafe.Sizeof(v4l2Cropcap{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2Crop{})]byte{}
)

// IOCTL constants for 32-bit ARM.
// v4l2_format and v4l2_buffer are smaller than on 64-bit: the format union
// is only 4-byte aligned and struct timeval is 8 bytes.
const (
	vidiocQuerycap  = 0x80685600
	vidiocEnumFmt   = 0xc0405602
	vidiocGFmt      = 0xc0cc5604
	vidiocSFmt      = 0xc0cc5605
	vidiocReqbufs   = 0xc0145608
	vidiocQuerybuf  = 0xc0445609
	vidiocQbuf      = 0xc044560f
	vidiocDqbuf     = 0xc0445611
	vidiocStreamon  = 0x40045612
	vidiocStreamoff = 0x40045613
	vidiocCropcap   = 0xc02c563a
	vidiocSCrop     = 0x4014563c
)

// v4l2Capability - size 104 bytes (same as 64-bit)
type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

// v4l2Fmtdesc - size 64 bytes (same as 64-bit)
type v4l2Fmtdesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelformat uint32
	mbusCode    uint32
	reserved    [3]uint32
}

// v4l2PixFormat - size 48 bytes
type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2Format - size 204 bytes (union starts at offset 4)
type v4l2Format struct {
	typ uint32
	pix v4l2PixFormat
	_   [152]byte
}

// v4l2RequestBuffers - size 20 bytes
type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

// v4l2Timecode - size 16 bytes
type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

// v4l2Buffer - size 68 bytes
type v4l2Buffer struct {
	index     uint32       // offset 0
	typ       uint32       // offset 4
	bytesused uint32       // offset 8
	flags     uint32       // offset 12
	field     uint32       // offset 16
	timestamp unix.Timeval // offset 20
	timecode  v4l2Timecode // offset 28
	sequence  uint32       // offset 44
	memory    uint32       // offset 48
	offset    uint32       // offset 52 (union m)
	length    uint32       // offset 56
	reserved2 uint32       // offset 60
	requestFD int32        // offset 64
}

// v4l2Rect - size 16 bytes
type v4l2Rect struct {
	left   int32
	top    int32
	width  uint32
	height uint32
}

// v4l2Fract - size 8 bytes
type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

// v4l2Cropcap - size 44 bytes
type v4l2Cropcap struct {
	typ         uint32
	bounds      v4l2Rect
	defrect     v4l2Rect
	pixelaspect v4l2Fract
}

// v4l2Crop - size 20 bytes
type v4l2Crop struct {
	typ uint32
	c   v4l2Rect
}
