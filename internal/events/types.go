package events

import "time"

// Event type identifiers for kelindar/event.
const (
	TypeFrameCaptured uint32 = iota + 1
	TypeCaptureError
	TypeSessionState
)

// Event is implemented by everything published on the bus.
type Event interface {
	Type() uint32
}

// Session states reported by SessionStateEvent.
const (
	StateStreaming = "streaming"
	StateStopped   = "stopped"
	StateReopening = "reopening"
	StateFailed    = "failed"
)

// FrameCapturedEvent is published for every frame consumed from a device.
type FrameCapturedEvent struct {
	Device    string        `json:"device" example:"/dev/video0" doc:"Device path"`
	Index     uint32        `json:"index" doc:"Driver buffer index"`
	Sequence  uint32        `json:"sequence" doc:"Driver frame sequence number"`
	Bytes     int           `json:"bytes" example:"614400" doc:"Bytes used by the driver"`
	Wait      time.Duration `json:"wait_ns" doc:"Time spent waiting for the frame"`
	Timestamp time.Time     `json:"timestamp" doc:"Capture time"`
}

// Type returns the event type identifier for FrameCapturedEvent.
func (e FrameCapturedEvent) Type() uint32 { return TypeFrameCaptured }

// CaptureErrorEvent is published when opening or polling a device fails.
type CaptureErrorEvent struct {
	Device    string    `json:"device" example:"/dev/video0" doc:"Device path"`
	Op        string    `json:"op" example:"VIDIOC_DQBUF" doc:"Failed operation"`
	Kind      string    `json:"kind" example:"timeout" doc:"Error classification"`
	Error     string    `json:"error" doc:"Error description"`
	Timestamp time.Time `json:"timestamp" doc:"Error time"`
}

// Type returns the event type identifier for CaptureErrorEvent.
func (e CaptureErrorEvent) Type() uint32 { return TypeCaptureError }

// SessionStateEvent is published when a capture session starts, stops or
// is scheduled for reopening.
type SessionStateEvent struct {
	Device    string    `json:"device" example:"/dev/video0" doc:"Device path"`
	State     string    `json:"state" enum:"streaming,stopped,reopening,failed" doc:"New session state"`
	Format    string    `json:"format,omitempty" example:"640x480 YUYV progressive bpl=1280 size=614400" doc:"Negotiated format"`
	Buffers   int       `json:"buffers,omitempty" example:"4" doc:"Mapped buffer count"`
	Error     string    `json:"error,omitempty" doc:"Cause of the change"`
	Timestamp time.Time `json:"timestamp" doc:"Change time"`
}

// Type returns the event type identifier for SessionStateEvent.
func (e SessionStateEvent) Type() uint32 { return TypeSessionState }
