package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/videocap/internal/logging"
	"github.com/smazurov/videocap/pkg/linuxav/v4l2"
)

// File holds the parts of the configuration file that don't fit the flat
// options struct.
type File struct {
	Logging logging.Config `toml:"logging"`
	Devices []DeviceSpec   `toml:"devices"`
}

// DeviceSpec is one [[devices]] entry.
type DeviceSpec struct {
	// Path is a device node or a stable ID as reported by `videocap list`.
	Path        string `toml:"path" json:"path"`
	Name        string `toml:"name,omitempty" json:"name,omitempty"`
	ForceFormat bool   `toml:"force_format,omitempty" json:"force_format,omitempty"`
	Width       uint32 `toml:"width,omitempty" json:"width,omitempty"`
	Height      uint32 `toml:"height,omitempty" json:"height,omitempty"`
	PixelFormat string `toml:"pixel_format,omitempty" json:"pixel_format,omitempty"`
	Buffers     uint32 `toml:"buffers,omitempty" json:"buffers,omitempty"`
	Timeout     string `toml:"timeout,omitempty" json:"timeout,omitempty"`
}

// LoadFile reads the configuration file. A missing file yields an empty
// File.
func LoadFile(path string) (File, error) {
	var f File
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return f, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := ValidateDevices(f.Devices); err != nil {
		return f, err
	}
	return f, nil
}

// DevicesFromPaths builds specs for devices given on the command line.
func DevicesFromPaths(paths []string, force bool) []DeviceSpec {
	specs := make([]DeviceSpec, 0, len(paths))
	for _, p := range paths {
		specs = append(specs, DeviceSpec{Path: p, ForceFormat: force})
	}
	return specs
}

// ValidateDevices checks every spec and rejects duplicate paths.
func ValidateDevices(specs []DeviceSpec) error {
	seen := make(map[string]int, len(specs))
	for i, s := range specs {
		if s.Path == "" {
			return fmt.Errorf("devices[%d]: path is required", i)
		}
		if j, dup := seen[s.Path]; dup {
			return fmt.Errorf("devices[%d]: %s already configured as devices[%d]", i, s.Path, j)
		}
		seen[s.Path] = i
		if _, err := s.SessionOptions(); err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
	}
	return nil
}

// DisplayName returns Name, or the base name of Path.
func (s DeviceSpec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return filepath.Base(s.Path)
}

// Forced reports whether the spec asks for a format instead of keeping the
// device's current one. Setting any geometry field forces.
func (s DeviceSpec) Forced() bool {
	return s.ForceFormat || s.Width > 0 || s.Height > 0 || s.PixelFormat != ""
}

// SessionOptions converts the spec into capture session options.
func (s DeviceSpec) SessionOptions() ([]v4l2.Option, error) {
	var opts []v4l2.Option

	if s.Forced() {
		f := v4l2.DefaultForcedFormat
		if s.Width > 0 {
			f.Width = s.Width
		}
		if s.Height > 0 {
			f.Height = s.Height
		}
		if s.PixelFormat != "" {
			pf, err := v4l2.ParsePixelFormat(s.PixelFormat)
			if err != nil {
				return nil, err
			}
			f.PixelFormat = pf
		}
		opts = append(opts, v4l2.WithForceFormat(f))
	}

	if s.Buffers > 0 {
		if s.Buffers < 2 {
			return nil, fmt.Errorf("buffers must be at least 2, got %d", s.Buffers)
		}
		opts = append(opts, v4l2.WithBufferCount(s.Buffers))
	}

	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("timeout must be positive, got %s", s.Timeout)
		}
		opts = append(opts, v4l2.WithTimeout(d))
	}

	return opts, nil
}
