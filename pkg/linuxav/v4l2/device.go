package v4l2

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	sysfsVideoDir = "/sys/class/video4linux"
	devByIDDir    = "/dev/v4l/by-id"
	devByPathDir  = "/dev/v4l/by-path"
)

// DeviceReport describes a device without streaming from it.
type DeviceReport struct {
	Path       string
	Capability Capability
	Format     Format
	Formats    []FormatInfo
}

// Probe opens path, reads its capabilities, current format and supported
// pixel formats, and closes it again. Only WithDriverOpener and WithLogger
// are honored.
func Probe(path string, opts ...Option) (*DeviceReport, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if err := checkDeviceNode(path); err != nil {
		return nil, err
	}
	drv, err := o.opener(path)
	if err != nil {
		return nil, openError(path, err)
	}
	defer func() {
		if cerr := drv.Close(); cerr != nil {
			o.logger.Warn("close failed", "device", path, "error", cerr)
		}
	}()

	caps, err := drv.QueryCapability()
	if err != nil {
		if errors.Is(err, syscall.EINVAL) {
			return nil, deviceError(path, "VIDIOC_QUERYCAP", ErrNotV4L2, err)
		}
		return nil, deviceError(path, "VIDIOC_QUERYCAP", nil, err)
	}

	report := &DeviceReport{Path: path, Capability: caps}
	if !caps.CanCapture() {
		return report, nil
	}

	if report.Format, err = drv.GetFormat(); err != nil {
		return nil, deviceError(path, "VIDIOC_G_FMT", ErrFormatNegotiation, err)
	}

	for i := uint32(0); ; i++ {
		info, err := drv.EnumFormat(i)
		if err != nil {
			if errors.Is(err, syscall.EINVAL) {
				break // End of enumeration
			}
			return nil, deviceError(path, "VIDIOC_ENUM_FMT", nil, fmt.Errorf("format %d: %w", i, err))
		}
		report.Formats = append(report.Formats, info)
	}

	return report, nil
}

// FindDevices finds all V4L2 video capture devices on the system.
func FindDevices() ([]DeviceInfo, error) {
	return findDevices(sysfsVideoDir, "/dev", devByIDDir, OpenDriver)
}

func findDevices(sysfsDir, devDir, byIDDir string, open DriverOpener) ([]DeviceInfo, error) {
	entries, err := os.ReadDir(sysfsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []DeviceInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read video4linux directory: %w", err)
	}

	logger := slog.With("component", "linuxav")
	devices := []DeviceInfo{}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "video") {
			continue
		}
		devicePath := filepath.Join(devDir, name)

		drv, err := open(devicePath)
		if err != nil {
			logger.Debug("failed to open video device", "path", devicePath, "error", err)
			continue
		}
		caps, err := drv.QueryCapability()
		_ = drv.Close()
		if err != nil {
			logger.Debug("failed to query device capabilities", "path", devicePath, "error", err)
			continue
		}

		// Metadata and output nodes share the video4linux class.
		if !caps.CanCapture() {
			continue
		}

		index := readSysfsInt(filepath.Join(sysfsDir, name, "index"))
		stableID := findStableID(byIDDir, name, index)
		if stableID == "" {
			if strings.HasPrefix(caps.BusInfo, "usb-") {
				stableID = fmt.Sprintf("%s-video-index%d", caps.BusInfo, index)
			} else {
				stableID = fmt.Sprintf("platform-%s-video-index%d", caps.BusInfo, index)
			}
		}

		devices = append(devices, DeviceInfo{
			DevicePath: devicePath,
			DeviceName: caps.Card,
			DeviceID:   stableID,
			Caps:       caps.Effective(),
		})
	}

	return devices, nil
}

// ResolvePath converts a device ID reported by FindDevices into a device
// node path. Absolute paths are returned unchanged.
func ResolvePath(id string) (string, error) {
	return resolvePath(id, []string{devByIDDir, devByPathDir}, FindDevices)
}

func resolvePath(id string, linkDirs []string, find func() ([]DeviceInfo, error)) (string, error) {
	if filepath.IsAbs(id) {
		return id, nil
	}

	for _, dir := range linkDirs {
		p := filepath.Join(dir, id)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	// Synthetic IDs have no symlink.
	devices, err := find()
	if err != nil {
		return "", err
	}
	for _, d := range devices {
		if d.DeviceID == id {
			return d.DevicePath, nil
		}
	}
	return "", deviceError(id, "resolve", ErrDeviceNotFound, nil)
}

// findStableID looks for a by-id symlink that points at deviceName.
func findStableID(byIDDir, deviceName string, index int) string {
	entries, err := os.ReadDir(byIDDir)
	if err != nil {
		return ""
	}

	suffix := fmt.Sprintf("-video-index%d", index)
	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink == 0 {
			continue
		}
		target, err := os.Readlink(filepath.Join(byIDDir, entry.Name()))
		if err != nil {
			continue
		}
		if filepath.Base(target) == deviceName && strings.HasSuffix(entry.Name(), suffix) {
			return entry.Name()
		}
	}

	return ""
}

func readSysfsInt(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	val, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return val
}
