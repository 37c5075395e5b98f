package v4l2

import (
	"math"
	"syscall"
	"testing"
)

func TestFormatSanitize(t *testing.T) {
	tests := []struct {
		name     string
		in       Format
		wantBPL  uint32
		wantSize uint32
	}{
		{
			name:     "under-reported stride and size",
			in:       Format{Width: 640, Height: 480, PixelFormat: PixFmtYUYV, BytesPerLine: 0, SizeImage: 0},
			wantBPL:  1280,
			wantSize: 1280 * 480,
		},
		{
			name:     "under-reported size only",
			in:       Format{Width: 640, Height: 480, PixelFormat: PixFmtYUYV, BytesPerLine: 1280, SizeImage: 1000},
			wantBPL:  1280,
			wantSize: 1280 * 480,
		},
		{
			name:     "padded stride is kept",
			in:       Format{Width: 640, Height: 480, PixelFormat: PixFmtYUYV, BytesPerLine: 1536, SizeImage: 0},
			wantBPL:  1536,
			wantSize: 1536 * 480,
		},
		{
			name:     "oversized image is kept",
			in:       Format{Width: 640, Height: 480, PixelFormat: PixFmtYUYV, BytesPerLine: 1280, SizeImage: 700000},
			wantBPL:  1280,
			wantSize: 700000,
		},
		{
			name:     "greyscale uses one byte per pixel",
			in:       Format{Width: 640, Height: 480, PixelFormat: PixFmtGrey},
			wantBPL:  640,
			wantSize: 640 * 480,
		},
		{
			name:     "depth uses two bytes per pixel",
			in:       Format{Width: 1280, Height: 720, PixelFormat: PixFmtZ16, BytesPerLine: 1280},
			wantBPL:  2560,
			wantSize: 2560 * 720,
		},
		{
			name:     "interleaved depth and infrared uses three bytes per pixel",
			in:       Format{Width: 320, Height: 240, PixelFormat: PixFmtINZI},
			wantBPL:  960,
			wantSize: 960 * 240,
		},
		{
			name:     "stride larger than 32 bits saturates",
			in:       Format{Width: 0x80000000, Height: 1, PixelFormat: PixFmtRGB24},
			wantBPL:  math.MaxUint32,
			wantSize: math.MaxUint32,
		},
		{
			name:     "image larger than 32 bits saturates",
			in:       Format{Width: 65536, Height: 65536, PixelFormat: PixFmtYUYV, SizeImage: 4096},
			wantBPL:  131072,
			wantSize: math.MaxUint32,
		},
		{
			name:     "compressed stride is untouched",
			in:       Format{Width: 1920, Height: 1080, PixelFormat: PixFmtMJPEG, SizeImage: 4147200},
			wantBPL:  0,
			wantSize: 4147200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Sanitize()
			if got.BytesPerLine != tt.wantBPL {
				t.Errorf("BytesPerLine = %d, want %d", got.BytesPerLine, tt.wantBPL)
			}
			if got.SizeImage != tt.wantSize {
				t.Errorf("SizeImage = %d, want %d", got.SizeImage, tt.wantSize)
			}
			if got.Width != tt.in.Width || got.Height != tt.in.Height || got.PixelFormat != tt.in.PixelFormat {
				t.Errorf("Sanitize() changed geometry: %+v", got)
			}
		})
	}
}

func TestFormatOverflows(t *testing.T) {
	tests := []struct {
		name string
		in   Format
		want bool
	}{
		{name: "vga", in: Format{Width: 640, Height: 480, PixelFormat: PixFmtYUYV}, want: false},
		{name: "largest 32-bit image", in: Format{Width: 32768, Height: 65535, PixelFormat: PixFmtYUYV}, want: false},
		{name: "product wraps", in: Format{Width: 65536, Height: 65536, PixelFormat: PixFmtYUYV}, want: true},
		{name: "driver stride wraps", in: Format{Width: 16, Height: 3, PixelFormat: PixFmtGrey, BytesPerLine: 0x60000000}, want: true},
		{name: "stride wraps", in: Format{Width: 0x80000000, Height: 1, PixelFormat: PixFmtRGB24}, want: true},
		{name: "compressed", in: Format{Width: 1 << 20, Height: 1 << 20, PixelFormat: PixFmtMJPEG, SizeImage: 1 << 20}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Overflows(); got != tt.want {
				t.Errorf("Overflows() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFourCC(t *testing.T) {
	tests := []struct {
		format uint32
		want   string
	}{
		{PixFmtYUYV, "YUYV"},
		{PixFmtMJPEG, "MJPG"},
		{PixFmtY16, "Y16 "},
		{PixFmtZ16, "Z16 "},
		{PixFmtYUV420, "YU12"},
		{PixFmtRGB24, "RGB3"},
	}

	for _, tt := range tests {
		if got := FourCC(tt.format); got != tt.want {
			t.Errorf("FourCC(%#x) = %q, want %q", tt.format, got, tt.want)
		}
	}
}

func TestParsePixelFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{in: "YUYV", want: PixFmtYUYV},
		{in: "yuyv", want: PixFmtYUYV},
		{in: "MJPEG", want: PixFmtMJPEG},
		{in: "MJPG", want: PixFmtMJPEG},
		{in: "Y16", want: PixFmtY16},
		{in: "z16", want: PixFmtZ16},
		{in: "GREY", want: PixFmtGrey},
		{in: "", wantErr: true},
		{in: "TOOLONG", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePixelFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePixelFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePixelFormat(%q) = %#x, want %#x", tt.in, got, tt.want)
			}
		})
	}
}

func TestBytesPerPixel(t *testing.T) {
	tests := []struct {
		format uint32
		want   uint32
	}{
		{PixFmtGrey, 1},
		{PixFmtNV12, 1},
		{PixFmtYUYV, 2},
		{PixFmtUYVY, 2},
		{PixFmtY16, 2},
		{PixFmtRGB565, 2},
		{PixFmtRGB24, 3},
		{PixFmtINZI, 3},
		{PixFmtBGR32, 4},
		{PixFmtH264, 0},
		{0x31323334, 2},
	}

	for _, tt := range tests {
		if got := BytesPerPixel(tt.format); got != tt.want {
			t.Errorf("BytesPerPixel(%s) = %d, want %d", FourCC(tt.format), got, tt.want)
		}
	}
}

func TestFormatString(t *testing.T) {
	f := Format{Width: 640, Height: 480, PixelFormat: PixFmtYUYV, Field: FieldNone, BytesPerLine: 1280, SizeImage: 614400}
	want := "640x480 YUYV progressive bpl=1280 size=614400"
	if got := f.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCapability(t *testing.T) {
	tests := []struct {
		name       string
		caps       Capability
		wantCap    bool
		wantStream bool
	}{
		{
			name:       "capture and streaming",
			caps:       Capability{Capabilities: CapVideoCapture | CapStreaming},
			wantCap:    true,
			wantStream: true,
		},
		{
			name:    "read only",
			caps:    Capability{Capabilities: CapVideoCapture | CapReadWrite},
			wantCap: true,
		},
		{
			name: "metadata node of capture device",
			caps: Capability{
				Capabilities: CapVideoCapture | CapStreaming | CapDeviceCaps,
				DeviceCaps:   CapStreaming,
			},
			wantStream: true,
		},
		{
			name:       "multiplanar only",
			caps:       Capability{Capabilities: CapVideoCaptureMplane | CapStreaming},
			wantStream: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.caps.CanCapture(); got != tt.wantCap {
				t.Errorf("CanCapture() = %v, want %v", got, tt.wantCap)
			}
			if got := tt.caps.CanStream(); got != tt.wantStream {
				t.Errorf("CanStream() = %v, want %v", got, tt.wantStream)
			}
		})
	}
}

func TestDeviceErrorString(t *testing.T) {
	err := deviceError("/dev/video0", "VIDIOC_S_FMT", ErrFormatNegotiation, syscall.EINVAL)
	want := "/dev/video0: VIDIOC_S_FMT error 22, invalid argument (format negotiation failed)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	reqbufs := deviceError("/dev/video0", "VIDIOC_REQBUFS", ErrInsufficientBuffers, syscall.ENOMEM)
	want = "/dev/video0: VIDIOC_REQBUFS error 12, cannot allocate memory (insufficient buffer memory)"
	if got := reqbufs.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := &DeviceError{Path: "/dev/video0", Op: "close", Err: syscall.EBADF}
	if got := bare.Error(); got != "/dev/video0: close error 9, bad file descriptor" {
		t.Errorf("Error() = %q", got)
	}

	timeout := deviceError("/dev/video0", "poll", ErrTimeout, nil)
	if got := timeout.Error(); got != "/dev/video0: poll: timed out waiting for frame" {
		t.Errorf("Error() = %q", got)
	}
	if timeout.Errno() != 0 {
		t.Errorf("Errno() = %v, want 0", timeout.Errno())
	}
}

func TestCapabilityNames(t *testing.T) {
	got := CapabilityNames(CapVideoCapture | CapStreaming | CapDeviceCaps)
	want := []string{"Video Capture", "Streaming", "Device Capabilities"}
	if len(got) != len(want) {
		t.Fatalf("CapabilityNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("CapabilityNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if names := CapabilityNames(0); len(names) != 0 {
		t.Errorf("CapabilityNames(0) = %v, want none", names)
	}
}
