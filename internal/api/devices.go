package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/videocap/internal/api/models"
	"github.com/smazurov/videocap/pkg/linuxav/v4l2"
)

func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "Video capture devices present on the system, whether configured or not",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(_ context.Context, _ *struct{}) (*models.DeviceResponse, error) {
		found, err := s.options.FindDevices()
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to enumerate devices", err)
		}

		data := models.DeviceData{Devices: make([]models.DeviceInfo, 0, len(found))}
		for _, d := range found {
			data.Devices = append(data.Devices, deviceInfo(d))
		}
		data.Count = len(data.Devices)
		return &models.DeviceResponse{Body: data}, nil
	})
}

func deviceInfo(d v4l2.DeviceInfo) models.DeviceInfo {
	caps := v4l2.CapabilityNames(d.Caps)
	if caps == nil {
		caps = []string{}
	}
	return models.DeviceInfo{
		DevicePath:   d.DevicePath,
		DeviceName:   d.DeviceName,
		DeviceID:     d.DeviceID,
		Capabilities: caps,
	}
}
