package v4l2

import (
	"fmt"
	"math"
	"strings"
)

// Format is a single-planar capture format (struct v4l2_pix_format).
type Format struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
}

// DefaultForcedFormat is requested when a session forces a format without
// specifying one.
var DefaultForcedFormat = Format{
	Width:       640,
	Height:      480,
	PixelFormat: PixFmtYUYV,
	Field:       FieldInterlaced,
}

// Sanitize raises BytesPerLine and SizeImage to the smallest values
// consistent with the geometry. Some drivers under-report both. Values that
// don't fit in 32 bits saturate; check Overflows first.
func (f Format) Sanitize() Format {
	if bpp := BytesPerPixel(f.PixelFormat); bpp > 0 {
		if minLine := saturate(uint64(f.Width) * uint64(bpp)); f.BytesPerLine < minLine {
			f.BytesPerLine = minLine
		}
	}
	if minSize := saturate(uint64(f.BytesPerLine) * uint64(f.Height)); f.SizeImage < minSize {
		f.SizeImage = minSize
	}
	return f
}

// Overflows reports whether the sanitized line stride or image size would
// exceed what a 32-bit buffer length can describe.
func (f Format) Overflows() bool {
	line := uint64(f.BytesPerLine)
	if bpp := BytesPerPixel(f.PixelFormat); bpp > 0 {
		line = max(line, uint64(f.Width)*uint64(bpp))
	}
	return line > math.MaxUint32 || line*uint64(f.Height) > math.MaxUint32
}

func saturate(n uint64) uint32 {
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}

// BytesPerPixel returns the size of one pixel in the first plane. Compressed
// formats return 0 since they have no fixed line stride. Unknown formats are
// assumed to be packed 16-bit.
func BytesPerPixel(pixelFormat uint32) uint32 {
	switch pixelFormat {
	case PixFmtGrey, PixFmtNV12, PixFmtYUV420:
		return 1
	case PixFmtYUYV, PixFmtUYVY, PixFmtYVYU, PixFmtVYUY, PixFmtY16, PixFmtZ16, PixFmtRGB565:
		return 2
	case PixFmtRGB24, PixFmtBGR24, PixFmtINZI:
		return 3
	case PixFmtRGB32, PixFmtBGR32:
		return 4
	case PixFmtMJPEG, PixFmtH264, PixFmtHEVC:
		return 0
	default:
		return 2
	}
}

func (f Format) String() string {
	return fmt.Sprintf("%dx%d %s %s bpl=%d size=%d",
		f.Width, f.Height, FourCC(f.PixelFormat), FieldName(f.Field), f.BytesPerLine, f.SizeImage)
}

// FourCC converts a 4-byte pixel format to a human-readable string.
func FourCC(format uint32) string {
	b := make([]byte, 4)
	b[0] = byte(format & 0xFF)
	b[1] = byte((format >> 8) & 0xFF)
	b[2] = byte((format >> 16) & 0xFF)
	b[3] = byte((format >> 24) & 0xFF)
	return string(b)
}

// ParsePixelFormat converts a fourcc such as "YUYV" or "Y16" into its
// numeric code. Codes shorter than four characters are space padded.
func ParsePixelFormat(s string) (uint32, error) {
	s = strings.ToUpper(s)
	if s == "MJPEG" {
		s = "MJPG"
	}
	if len(s) == 0 || len(s) > 4 {
		return 0, fmt.Errorf("invalid pixel format %q", s)
	}
	s += strings.Repeat(" ", 4-len(s))
	return uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24, nil
}

// FieldName returns the name of a field order.
func FieldName(field uint32) string {
	switch field {
	case FieldAny:
		return "any"
	case FieldNone:
		return "progressive"
	case FieldTop:
		return "top"
	case FieldBottom:
		return "bottom"
	case FieldInterlaced:
		return "interlaced"
	default:
		return fmt.Sprintf("field(%d)", field)
	}
}
