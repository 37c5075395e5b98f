package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/videocap/internal/api/models"
	"github.com/smazurov/videocap/internal/capture"
	"github.com/smazurov/videocap/internal/frame"
)

// SessionInput selects a configured device by position.
type SessionInput struct {
	Index int `path:"index" minimum:"0" example:"0" doc:"Device position in the configuration"`
}

// FrameInput selects a device and the encoding of its latest frame.
type FrameInput struct {
	SessionInput
	Format string `query:"format" enum:"raw,png" default:"raw" doc:"raw returns the driver payload, png a decoded snapshot"`
}

func (s *Server) store(index int) (*capture.Store, error) {
	if s.options.Stores == nil {
		return nil, huma.Error404NotFound("No capture devices configured")
	}
	stores := s.options.Stores.Stores()
	if index < 0 || index >= len(stores) {
		return nil, huma.Error404NotFound("Unknown device index")
	}
	return stores[index], nil
}

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/api/sessions",
		Summary:     "List Capture Sessions",
		Description: "State and counters of every configured capture device",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.SessionListResponse, error) {
		var list []capture.Status
		if s.options.Stores != nil {
			for _, st := range s.options.Stores.Stores() {
				list = append(list, st.Status())
			}
		}
		if list == nil {
			list = []capture.Status{}
		}
		return &models.SessionListResponse{
			Body: models.SessionListData{Devices: list, Count: len(list)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{index}",
		Summary:     "Get Capture Session",
		Description: "State and counters of one capture device",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *SessionInput) (*models.SessionResponse, error) {
		st, err := s.store(input.Index)
		if err != nil {
			return nil, err
		}
		return &models.SessionResponse{Body: st.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session-frame",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{index}/frame",
		Summary:     "Latest Frame",
		Description: "Most recent frame of a capture device, as the raw driver payload or a PNG snapshot",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 415, 422, 503},
	}, func(_ context.Context, input *FrameInput) (*models.FrameResponse, error) {
		st, err := s.store(input.Index)
		if err != nil {
			return nil, err
		}
		snap, ok := st.Latest()
		if !ok {
			return nil, huma.Error503ServiceUnavailable("No frame captured yet")
		}

		resp := &models.FrameResponse{
			ContentType: "application/octet-stream",
			Format:      snap.Format.String(),
			Sequence:    strconv.FormatUint(uint64(snap.Sequence), 10),
			Timestamp:   snap.Timestamp.Format(time.RFC3339Nano),
			Body:        snap.Data,
		}
		if input.Format != "png" {
			return resp, nil
		}

		var buf bytes.Buffer
		if err := frame.EncodePNG(&buf, snap.Format, snap.Data); err != nil {
			switch {
			case errors.Is(err, frame.ErrUnsupportedFormat):
				return nil, huma.Error415UnsupportedMediaType("Pixel format cannot be converted to PNG", err)
			case errors.Is(err, frame.ErrShortFrame):
				return nil, huma.Error422UnprocessableEntity("Frame is shorter than its format", err)
			}
			return nil, huma.Error500InternalServerError("Failed to encode frame", err)
		}
		resp.ContentType = "image/png"
		resp.Body = buf.Bytes()
		return resp, nil
	})
}
