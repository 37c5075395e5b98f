package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/videocap/internal/api/models"
	"github.com/smazurov/videocap/internal/capture"
	"github.com/smazurov/videocap/internal/events"
	"github.com/smazurov/videocap/internal/logging"
	"github.com/smazurov/videocap/internal/version"
	"github.com/smazurov/videocap/pkg/linuxav/v4l2"
)

const authRealm = `Basic realm="videocap"`

// StoreSource provides the per-device capture stores, in configuration
// order. *capture.Runner implements it.
type StoreSource interface {
	Stores() []*capture.Store
}

// Options configures the API server.
type Options struct {
	AuthUsername string
	AuthPassword string
	Stores       StoreSource
	EventBus     *events.Bus
	Metrics      http.Handler // served at /metrics without auth when set

	// FindDevices enumerates capture devices; defaults to v4l2.FindDevices.
	FindDevices func() ([]v4l2.DeviceInfo, error)
}

// Server is the Huma v2 API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    Options
	eventBus   *events.Bus
	logger     *slog.Logger
}

// NewServer creates the API server and registers every route.
func NewServer(opts Options) *Server {
	if opts.FindDevices == nil {
		opts.FindDevices = v4l2.FindDevices
	}

	mux := http.NewServeMux()

	config := huma.DefaultConfig("videocap API", version.Version)
	config.Info.Description = "Frame capture from V4L2 devices"
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	s := &Server{
		api:      api,
		mux:      mux,
		options:  opts,
		eventBus: opts.EventBus,
		logger:   logging.GetLogger("api"),
	}

	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(s.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// API returns the Huma API instance.
func (s *Server) API() huma.API {
	return s.api
}

// Start serves on addr until Stop is called. It returns nil after a clean
// shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down, waiting up to ctx for requests to finish.
// Event streams are cut off when ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("stopping API server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

// basicAuthMiddleware enforces HTTP basic auth on operations that declare
// a security requirement. SSE clients that can't set headers may pass the
// base64 credentials in the auth query parameter.
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if op := ctx.Operation(); op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		user, pass, problem := credentials(ctx)
		if problem != "" {
			ctx.SetHeader("WWW-Authenticate", authRealm)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, problem)
			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
		if !userOK || !passOK {
			ctx.SetHeader("WWW-Authenticate", authRealm)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		next(ctx)
	}
}

// credentials extracts basic auth credentials. problem describes why they
// are unusable, or is empty.
func credentials(ctx huma.Context) (user, pass, problem string) {
	var encoded string
	if header := ctx.Header("Authorization"); header != "" {
		const prefix = "Basic "
		if !strings.HasPrefix(header, prefix) {
			return "", "", "Invalid authentication type"
		}
		encoded = header[len(prefix):]
	} else {
		encoded = ctx.Query("auth")
	}
	if encoded == "" {
		return "", "", "Authentication required"
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", "Invalid credentials format"
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", "Invalid credentials format"
	}
	return user, pass, ""
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"system"},
		Security:    []map[string][]string{}, // no auth
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{Status: "ok", Message: "API is healthy"},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{}, // no auth
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		v := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   v.Version,
				GitCommit: v.GitCommit,
				BuildDate: v.BuildDate,
				GoVersion: v.GoVersion,
				Platform:  v.Platform,
			},
		}, nil
	})

	s.registerSessionRoutes()
	s.registerDeviceRoutes()
	s.registerLogRoutes()
	s.registerSSERoutes()
}

// withAuth returns the security requirement for basic auth.
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
