package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/videocap/internal/capture"
	"github.com/smazurov/videocap/internal/events"
)

// EventStreamInput selects which events to stream.
type EventStreamInput struct {
	Frames bool `query:"frames" default:"false" doc:"Include a frame-captured event for every frame"`
}

// registerSSERoutes registers the capture event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Session state changes and capture errors as they happen, optionally every captured frame",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"session-status": capture.Status{},
		"session-state":  events.SessionStateEvent{},
		"capture-error":  events.CaptureErrorEvent{},
		"frame-captured": events.FrameCapturedEvent{},
	}, func(ctx context.Context, input *EventStreamInput, send sse.Sender) {
		// Current state first, so clients don't wait for the next change.
		if s.options.Stores != nil {
			for _, st := range s.options.Stores.Stores() {
				if err := send.Data(st.Status()); err != nil {
					return
				}
			}
		}
		if s.eventBus == nil {
			return
		}

		eventCh := make(chan any, 64)
		unsubscribers := []func(){
			events.SubscribeToChannel[events.SessionStateEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.CaptureErrorEvent](s.eventBus, eventCh),
		}
		if input.Frames {
			unsubscribers = append(unsubscribers, events.SubscribeToChannel[events.FrameCapturedEvent](s.eventBus, eventCh))
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}
