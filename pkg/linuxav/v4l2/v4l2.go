// Package v4l2 provides pure Go streaming capture from Video4Linux2 (V4L2)
// devices using memory-mapped buffers.
//
// This package does not use cgo. Kernel structures are laid out per
// architecture (amd64, arm64, arm) with compile-time size assertions.
//
// # Capture Sessions
//
// Open negotiates a capture format, maps a pool of kernel buffers, queues
// them and starts streaming:
//
//	s, err := v4l2.Open("/dev/video0", v4l2.WithDefaultForcedFormat())
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	err = s.Poll(func(data []byte) {
//	    // data aliases driver memory; copy what you need before returning
//	})
//
// Poll blocks for at most the session timeout (2 seconds by default) and
// handles exactly one frame per call. The buffer is handed back to the
// driver before Poll returns, so data must not be retained.
//
// # Errors
//
// Construction and acquisition failures can be classified with errors.Is
// against the Err* sentinels. Failed ioctls are reported as *DeviceError,
// which carries the operation name and the kernel errno:
//
//	var devErr *v4l2.DeviceError
//	if errors.As(err, &devErr) {
//	    fmt.Println(devErr.Op, devErr.Errno())
//	}
//
// Close never fails; teardown problems are logged as warnings.
//
// # Device Enumeration
//
// FindDevices lists capture devices from sysfs and Probe reports the
// capabilities and formats of a single device without streaming.
package v4l2
