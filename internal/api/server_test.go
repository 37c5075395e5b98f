package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/videocap/internal/capture"
	"github.com/smazurov/videocap/internal/events"
	"github.com/smazurov/videocap/internal/logging"
	"github.com/smazurov/videocap/pkg/linuxav/v4l2"
)

var greyFormat = v4l2.Format{Width: 4, Height: 2, PixelFormat: v4l2.PixFmtGrey, BytesPerLine: 4, SizeImage: 8}

type stubSession struct {
	format v4l2.Format
	seq    uint32
}

func (s *stubSession) PollFrame(fn func(v4l2.Frame)) error {
	time.Sleep(time.Millisecond)
	s.seq++
	fn(v4l2.Frame{Sequence: s.seq, Data: []byte{0, 32, 64, 96, 128, 160, 192, 224}})
	return nil
}

func (s *stubSession) Close()              {}
func (s *stubSession) Format() v4l2.Format { return s.format }
func (s *stubSession) BufferCount() int    { return 4 }

// capturedRunner returns a runner whose single device has captured at least
// one frame in format f.
func capturedRunner(t *testing.T, f v4l2.Format, bus *events.Bus) *capture.Runner {
	t.Helper()
	open := func(string, ...v4l2.Option) (capture.Session, error) {
		return &stubSession{format: f}, nil
	}
	r := capture.NewRunner([]capture.Device{{Name: "cam", Path: "/dev/video0"}}, bus, capture.WithOpener(open))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := r.Stores()[0].Latest(); ok {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("runner captured no frame")
	return nil
}

func do(t *testing.T, s *Server, method, target string, body io.Reader, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.SetBasicAuth("admin", "secret")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthNeedsNoAuth(t *testing.T) {
	s := NewServer(Options{AuthUsername: "admin", AuthPassword: "secret"})
	w := do(t, s, http.MethodGet, "/api/health", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", w.Body)
	}

	if w := do(t, s, http.MethodGet, "/api/version", nil, false); w.Code != http.StatusOK {
		t.Errorf("version status = %d, want 200", w.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	s := NewServer(Options{AuthUsername: "admin", AuthPassword: "secret"})

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "header", header: "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:secret")), want: http.StatusOK},
		{name: "wrong password", header: "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:nope")), want: http.StatusUnauthorized},
		{name: "bearer", header: "Bearer token", want: http.StatusUnauthorized},
		{name: "garbage", header: "Basic !!!", want: http.StatusUnauthorized},
		{name: "no colon", header: "Basic " + base64.StdEncoding.EncodeToString([]byte("admin")), want: http.StatusUnauthorized},
		{name: "query", query: "?auth=" + base64.StdEncoding.EncodeToString([]byte("admin:secret")), want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/sessions"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestListSessions(t *testing.T) {
	r := capturedRunner(t, greyFormat, nil)
	s := NewServer(Options{Stores: r})

	w := do(t, s, http.MethodGet, "/api/sessions", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var body struct {
		Devices []capture.Status `json:"devices"`
		Count   int              `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 || body.Devices[0].Path != "/dev/video0" || body.Devices[0].Frames == 0 {
		t.Errorf("body = %+v", body)
	}

	if w := do(t, s, http.MethodGet, "/api/sessions/0", nil, false); w.Code != http.StatusOK {
		t.Errorf("get session status = %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/sessions/3", nil, false); w.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", w.Code)
	}
}

func TestListSessionsEmpty(t *testing.T) {
	s := NewServer(Options{})
	w := do(t, s, http.MethodGet, "/api/sessions", nil, false)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"devices":[]`) {
		t.Errorf("status = %d, body = %s", w.Code, w.Body)
	}
}

func TestSessionFrame(t *testing.T) {
	r := capturedRunner(t, greyFormat, nil)
	s := NewServer(Options{Stores: r})

	t.Run("raw", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/sessions/0/frame", nil, false)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/octet-stream" {
			t.Errorf("Content-Type = %q", ct)
		}
		if got := w.Header().Get("X-Frame-Format"); got != greyFormat.String() {
			t.Errorf("X-Frame-Format = %q", got)
		}
		if w.Header().Get("X-Frame-Sequence") == "" {
			t.Error("missing X-Frame-Sequence")
		}
		if !bytes.Equal(w.Body.Bytes(), []byte{0, 32, 64, 96, 128, 160, 192, 224}) {
			t.Errorf("body = %v", w.Body.Bytes())
		}
	})

	t.Run("png", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/sessions/0/frame?format=png", nil, false)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body)
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("Content-Type = %q", ct)
		}
		img, err := png.Decode(w.Body)
		if err != nil {
			t.Fatalf("png.Decode() error = %v", err)
		}
		if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 2 {
			t.Errorf("bounds = %v", img.Bounds())
		}
	})

	t.Run("bad format", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/sessions/0/frame?format=bmp", nil, false)
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", w.Code)
		}
	})
}

func TestSessionFrameNotReady(t *testing.T) {
	r := capture.NewRunner([]capture.Device{{Path: "/dev/video0"}}, nil)
	s := NewServer(Options{Stores: r})

	w := do(t, s, http.MethodGet, "/api/sessions/0/frame", nil, false)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestSessionFrameUnsupportedPNG(t *testing.T) {
	h264 := v4l2.Format{Width: 4, Height: 2, PixelFormat: v4l2.PixFmtH264, SizeImage: 8}
	r := capturedRunner(t, h264, nil)
	s := NewServer(Options{Stores: r})

	if w := do(t, s, http.MethodGet, "/api/sessions/0/frame?format=png", nil, false); w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/sessions/0/frame", nil, false); w.Code != http.StatusOK {
		t.Errorf("raw status = %d, want 200", w.Code)
	}
}

func TestListDevices(t *testing.T) {
	s := NewServer(Options{FindDevices: func() ([]v4l2.DeviceInfo, error) {
		return []v4l2.DeviceInfo{{
			DevicePath: "/dev/video0",
			DeviceName: "USB Camera",
			DeviceID:   "usb-cam-video-index0",
			Caps:       v4l2.CapVideoCapture | v4l2.CapStreaming,
		}}, nil
	}})

	w := do(t, s, http.MethodGet, "/api/devices", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	for _, want := range []string{`"device_id":"usb-cam-video-index0"`, `"Video Capture"`, `"Streaming"`, `"count":1`} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("body missing %s: %s", want, w.Body)
		}
	}
}

func TestLogs(t *testing.T) {
	logging.Initialize(logging.Config{Level: "debug", History: 50})
	logger := logging.GetLogger("apitest")
	logger.Info("first entry")
	logger.Warn("second entry")
	logging.GetLogger("other").Info("unrelated")

	s := NewServer(Options{})

	w := do(t, s, http.MethodGet, "/api/logs?module=apitest", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var body struct {
		Entries []logging.Entry `json:"entries"`
		Limit   int             `json:"limit"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Entries) != 2 || body.Entries[0].Message != "first entry" || body.Limit != 50 {
		t.Errorf("body = %+v", body)
	}

	w = do(t, s, http.MethodGet, "/api/logs?module=apitest&level=warn", nil, false)
	if strings.Contains(w.Body.String(), "first entry") || !strings.Contains(w.Body.String(), "second entry") {
		t.Errorf("level filter body = %s", w.Body)
	}

	w = do(t, s, http.MethodGet, "/api/logs?module=apitest&limit=1", nil, false)
	if strings.Contains(w.Body.String(), "first entry") || !strings.Contains(w.Body.String(), "second entry") {
		t.Errorf("limit body = %s", w.Body)
	}
}

func TestSetLogLevel(t *testing.T) {
	logging.Initialize(logging.Config{})
	s := NewServer(Options{})

	w := do(t, s, http.MethodPut, "/api/logs/levels/capture", strings.NewReader(`{"level":"debug"}`), false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if !strings.Contains(w.Body.String(), `{"module":"capture","level":"debug"}`) {
		t.Errorf("body = %s", w.Body)
	}

	w = do(t, s, http.MethodPut, "/api/logs/levels/capture", strings.NewReader(`{"level":"loud"}`), false)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid level status = %d, want 422", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "videocap_up 1\n")
	})
	s := NewServer(Options{AuthUsername: "admin", AuthPassword: "secret", Metrics: metrics})

	w := do(t, s, http.MethodGet, "/metrics", nil, false)
	if w.Code != http.StatusOK || w.Body.String() != "videocap_up 1\n" {
		t.Errorf("status = %d, body = %q", w.Code, w.Body)
	}
}

func TestEventStream(t *testing.T) {
	bus := events.New()
	r := capturedRunner(t, greyFormat, bus)
	s := NewServer(Options{Stores: r, EventBus: bus})

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	expect := func(prefix string) string {
		t.Helper()
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), prefix) {
				return lines.Text()
			}
		}
		t.Fatalf("stream ended before %q: %v", prefix, lines.Err())
		return ""
	}

	expect("event: session-status")
	if data := expect("data: "); !strings.Contains(data, `"path":"/dev/video0"`) {
		t.Errorf("status data = %s", data)
	}

	// Subscriptions are set up after the initial status; keep publishing
	// until one arrives.
	go func() {
		for ctx.Err() == nil {
			bus.Publish(events.CaptureErrorEvent{Device: "/dev/video0", Op: "poll", Kind: "timeout"})
			time.Sleep(20 * time.Millisecond)
		}
	}()
	expect("event: capture-error")
	if data := expect("data: "); !strings.Contains(data, `"kind":"timeout"`) {
		t.Errorf("error data = %s", data)
	}
}
