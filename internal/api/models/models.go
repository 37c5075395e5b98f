// Package models defines the request and response bodies of the HTTP API.
package models

import (
	"github.com/smazurov/videocap/internal/capture"
	"github.com/smazurov/videocap/internal/logging"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.2.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"a1b2c3d" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2026-01-01T00:00:00Z" doc:"Build timestamp"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go toolchain version"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Operating system and architecture"`
}

type VersionResponse struct {
	Body VersionData
}

// Capture session models
type SessionListData struct {
	Devices []capture.Status `json:"devices" doc:"Configured capture devices"`
	Count   int              `json:"count" example:"2" doc:"Number of configured devices"`
}

type SessionListResponse struct {
	Body SessionListData
}

type SessionResponse struct {
	Body capture.Status
}

// FrameResponse carries one frame, raw or encoded.
type FrameResponse struct {
	ContentType string `header:"Content-Type" doc:"application/octet-stream for raw frames, image/png for snapshots"`
	Format      string `header:"X-Frame-Format" doc:"Negotiated format of the frame"`
	Sequence    string `header:"X-Frame-Sequence" doc:"Driver sequence number"`
	Timestamp   string `header:"X-Frame-Timestamp" doc:"Capture time, RFC 3339"`
	Body        []byte
}

// Device discovery models
type DeviceInfo struct {
	DevicePath   string   `json:"device_path" example:"/dev/video0" doc:"Device node"`
	DeviceName   string   `json:"device_name" example:"USB Camera" doc:"Card name reported by the driver"`
	DeviceID     string   `json:"device_id" example:"usb-046d_HD_Webcam-video-index0" doc:"Stable device identifier"`
	Capabilities []string `json:"capabilities" doc:"Device capabilities"`
}

type DeviceData struct {
	Devices []DeviceInfo `json:"devices" doc:"Capture devices present on the system"`
	Count   int          `json:"count" example:"1" doc:"Number of devices"`
}

type DeviceResponse struct {
	Body DeviceData
}

// Log models
type LogData struct {
	Entries []logging.Entry `json:"entries" doc:"Log records, oldest first"`
	Count   int             `json:"count" example:"100" doc:"Number of entries returned"`
	Limit   int             `json:"limit" example:"500" doc:"History capacity"`
}

type LogResponse struct {
	Body LogData
}

type LogLevelsData struct {
	Modules []logging.ModuleLevel `json:"modules" doc:"Per-module log levels"`
}

type LogLevelsResponse struct {
	Body LogLevelsData
}
