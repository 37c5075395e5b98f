package capture

import (
	"sync"
	"time"

	"github.com/smazurov/videocap/internal/events"
	"github.com/smazurov/videocap/pkg/linuxav/v4l2"
)

// Status is a point-in-time view of one device.
type Status struct {
	Name      string    `json:"name" example:"front" doc:"Display name"`
	Path      string    `json:"path" example:"/dev/video0" doc:"Device node"`
	State     string    `json:"state" enum:"streaming,stopped,reopening,failed" doc:"Session state"`
	Format    string    `json:"format,omitempty" example:"640x480 YUYV progressive bpl=1280 size=614400" doc:"Negotiated format"`
	Buffers   int       `json:"buffers" doc:"Mapped buffer count"`
	Frames    uint64    `json:"frames" doc:"Frames captured"`
	Bytes     uint64    `json:"bytes" doc:"Frame bytes captured"`
	Timeouts  uint64    `json:"timeouts" doc:"Polls that timed out"`
	Errors    uint64    `json:"errors" doc:"Failed opens and polls, excluding timeouts"`
	Reopens   uint64    `json:"reopens" doc:"Times a reopen was scheduled"`
	LastError string    `json:"last_error,omitempty" doc:"Most recent error"`
	LastFrame time.Time `json:"last_frame,omitzero" doc:"Time of the most recent frame"`
}

// Snapshot is a copy of the most recent frame of a device.
type Snapshot struct {
	Format    v4l2.Format
	Sequence  uint32
	Timestamp time.Time
	Data      []byte
}

// Store keeps the latest frame and counters of one device. It is written by
// the runner and read concurrently by the API.
type Store struct {
	mu     sync.RWMutex
	status Status
	format v4l2.Format
	frame  []byte
	seq    uint32
	stamp  time.Time
	ready  bool
}

func newStore(name, path string) *Store {
	return &Store{status: Status{Name: name, Path: path, State: events.StateStopped}}
}

// Status returns the device's counters and state.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Latest returns a copy of the most recent frame. ok is false until the
// first frame arrives.
func (s *Store) Latest() (snap Snapshot, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return Snapshot{}, false
	}
	return Snapshot{
		Format:    s.format,
		Sequence:  s.seq,
		Timestamp: s.stamp,
		Data:      append([]byte(nil), s.frame...),
	}, true
}

func (s *Store) recordFrame(f v4l2.Frame, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = append(s.frame[:0], f.Data...)
	s.seq = f.Sequence
	s.stamp = f.Timestamp
	if s.stamp.IsZero() {
		s.stamp = at
	}
	s.ready = true
	s.status.Frames++
	s.status.Bytes += uint64(len(f.Data))
	s.status.LastFrame = at
}

func (s *Store) recordTimeout(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Timeouts++
	s.status.LastError = err.Error()
}

func (s *Store) recordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Errors++
	s.status.LastError = err.Error()
}

func (s *Store) setStreaming(format v4l2.Format, buffers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.format = format
	s.status.State = events.StateStreaming
	s.status.Format = format.String()
	s.status.Buffers = buffers
}

func (s *Store) setState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == events.StateReopening {
		s.status.Reopens++
	}
	s.status.State = state
	if state != events.StateStreaming {
		s.status.Buffers = 0
	}
}
