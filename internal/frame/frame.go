// Package frame converts raw V4L2 frame payloads into images.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/smazurov/videocap/pkg/linuxav/v4l2"
)

var (
	// ErrShortFrame is returned when the payload holds fewer bytes than
	// the negotiated format describes.
	ErrShortFrame = errors.New("short frame")
	// ErrUnsupportedFormat is returned for pixel formats Decode can't convert.
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
)

// packed 4:2:2 byte offsets within a two-pixel macropixel
type yuvLayout struct{ y0, u, y1, v int }

var packed422 = map[uint32]yuvLayout{
	v4l2.PixFmtYUYV: {y0: 0, u: 1, y1: 2, v: 3},
	v4l2.PixFmtYVYU: {y0: 0, v: 1, y1: 2, u: 3},
	v4l2.PixFmtUYVY: {u: 0, y0: 1, v: 2, y1: 3},
	v4l2.PixFmtVYUY: {v: 0, y0: 1, u: 2, y1: 3},
}

// Supported reports whether Decode can convert pixelFormat.
func Supported(pixelFormat uint32) bool {
	if _, ok := packed422[pixelFormat]; ok {
		return true
	}
	switch pixelFormat {
	case v4l2.PixFmtGrey, v4l2.PixFmtY16, v4l2.PixFmtZ16, v4l2.PixFmtINZI,
		v4l2.PixFmtRGB24, v4l2.PixFmtBGR24, v4l2.PixFmtMJPEG:
		return true
	}
	return false
}

// Decode converts one frame in format f into an image. data is only read.
func Decode(f v4l2.Format, data []byte) (image.Image, error) {
	if f.PixelFormat == v4l2.PixFmtMJPEG {
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode MJPEG frame: %w", err)
		}
		return img, nil
	}

	if !Supported(f.PixelFormat) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, v4l2.FourCC(f.PixelFormat))
	}
	if f.Width == 0 || f.Height == 0 {
		return nil, fmt.Errorf("invalid frame geometry %dx%d", f.Width, f.Height)
	}

	stride, err := checkSize(f, data)
	if err != nil {
		return nil, err
	}

	w, h := int(f.Width), int(f.Height)
	rect := image.Rect(0, 0, w, h)
	if layout, ok := packed422[f.PixelFormat]; ok {
		return decode422(rect, stride, data, layout), nil
	}

	switch f.PixelFormat {
	case v4l2.PixFmtINZI:
		depth, _ := splitINZI(rect, stride, data)
		return depth, nil

	case v4l2.PixFmtGrey:
		img := image.NewGray(rect)
		for y := 0; y < h; y++ {
			copy(img.Pix[y*img.Stride:y*img.Stride+w], data[y*stride:])
		}
		return img, nil

	case v4l2.PixFmtY16, v4l2.PixFmtZ16:
		img := image.NewGray16(rect)
		for y := 0; y < h; y++ {
			row := data[y*stride:]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < w; x++ {
				// little endian on the wire, big endian in image.Gray16
				binary.BigEndian.PutUint16(dst[2*x:], binary.LittleEndian.Uint16(row[2*x:]))
			}
		}
		return img, nil

	default: // RGB24, BGR24
		r, b := 0, 2
		if f.PixelFormat == v4l2.PixFmtBGR24 {
			r, b = 2, 0
		}
		img := image.NewRGBA(rect)
		for y := 0; y < h; y++ {
			row := data[y*stride:]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < w; x++ {
				dst[4*x] = row[3*x+r]
				dst[4*x+1] = row[3*x+1]
				dst[4*x+2] = row[3*x+b]
				dst[4*x+3] = 0xff
			}
		}
		return img, nil
	}
}

// SplitDepthInfrared separates an INZI frame into its depth and infrared
// images.
func SplitDepthInfrared(f v4l2.Format, data []byte) (*image.Gray16, *image.Gray, error) {
	if f.PixelFormat != v4l2.PixFmtINZI {
		return nil, nil, fmt.Errorf("%w: %s is not interleaved depth", ErrUnsupportedFormat, v4l2.FourCC(f.PixelFormat))
	}
	if f.Width == 0 || f.Height == 0 {
		return nil, nil, fmt.Errorf("invalid frame geometry %dx%d", f.Width, f.Height)
	}
	stride, err := checkSize(f, data)
	if err != nil {
		return nil, nil, err
	}
	depth, ir := splitINZI(image.Rect(0, 0, int(f.Width), int(f.Height)), stride, data)
	return depth, ir, nil
}

// checkSize returns the line stride of f once data is known to hold a
// whole frame.
func checkSize(f v4l2.Format, data []byte) (int, error) {
	w, h := int(f.Width), int(f.Height)
	rowBytes := w * int(v4l2.BytesPerPixel(f.PixelFormat))
	stride := max(int(f.BytesPerLine), rowBytes)
	need := max(stride*(h-1)+rowBytes, int(f.SizeImage))
	if len(data) < need {
		return 0, fmt.Errorf("%w: got %d bytes, want %d", ErrShortFrame, len(data), need)
	}
	return stride, nil
}

func splitINZI(rect image.Rectangle, stride int, data []byte) (*image.Gray16, *image.Gray) {
	depth := image.NewGray16(rect)
	ir := image.NewGray(rect)
	w, h := rect.Dx(), rect.Dy()

	for y := 0; y < h; y++ {
		row := data[y*stride:]
		dRow := depth.Pix[y*depth.Stride:]
		irRow := ir.Pix[y*ir.Stride:]
		for x := 0; x < w; x++ {
			p := row[3*x:]
			dRow[2*x] = p[1]
			dRow[2*x+1] = p[0]
			irRow[x] = p[2]
		}
	}
	return depth, ir
}

func decode422(rect image.Rectangle, stride int, data []byte, l yuvLayout) *image.YCbCr {
	img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio422)
	w, h := rect.Dx(), rect.Dy()

	for y := 0; y < h; y++ {
		row := data[y*stride:]
		yRow := img.Y[y*img.YStride:]
		cbRow := img.Cb[y*img.CStride:]
		crRow := img.Cr[y*img.CStride:]
		for x := 0; x < w; x += 2 {
			m := row[2*x:]
			yRow[x] = m[l.y0]
			if x+1 < w {
				yRow[x+1] = m[l.y1]
			}
			cbRow[x/2] = m[l.u]
			crRow[x/2] = m[l.v]
		}
	}
	return img
}

// EncodePNG decodes one frame and writes it to w as PNG.
func EncodePNG(w io.Writer, f v4l2.Format, data []byte) error {
	img, err := Decode(f, data)
	if err != nil {
		return err
	}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(w, img); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}
