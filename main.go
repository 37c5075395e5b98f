package main

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/videocap/cmd"
	"github.com/smazurov/videocap/internal/api"
	"github.com/smazurov/videocap/internal/capture"
	"github.com/smazurov/videocap/internal/config"
	"github.com/smazurov/videocap/internal/events"
	"github.com/smazurov/videocap/internal/logging"
	"github.com/smazurov/videocap/internal/metrics"
	"github.com/smazurov/videocap/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Auth settings; auth is off unless both are set
	AuthUsername string `help:"Basic auth username" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Capture settings, used when the config file has no [[devices]]
	CaptureDevices     string `help:"Comma-separated device paths or stable IDs" default:"/dev/video0" toml:"capture.devices" env:"CAPTURE_DEVICES"`
	CaptureForceFormat bool   `help:"Force 640x480 YUYV instead of keeping the current format" default:"false" toml:"capture.force_format" env:"CAPTURE_FORCE_FORMAT"`
	CaptureMaxTimeouts int    `help:"Consecutive poll timeouts before a session is reopened" default:"3" toml:"capture.max_timeouts" env:"CAPTURE_MAX_TIMEOUTS"`
	CaptureReopenDelay string `help:"Wait before reopening a failed session" default:"2s" toml:"capture.reopen_delay" env:"CAPTURE_REOPEN_DELAY"`

	// Metrics settings
	MetricsEnabled bool `help:"Serve Prometheus metrics at /metrics" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingHistory int    `help:"Log records kept for /api/logs" default:"500" toml:"logging.history" env:"LOGGING_HISTORY"`
	LoggingCapture string `help:"Capture logging level" default:"" toml:"logging.modules.capture" env:"LOGGING_CAPTURE"`
	LoggingAPI     string `help:"API logging level" default:"" toml:"logging.modules.api" env:"LOGGING_API"`
	LoggingHTTP    string `help:"HTTP request logging level" default:"" toml:"logging.modules.http" env:"LOGGING_HTTP"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}
		file, err := config.LoadFile(opts.Config)
		if err != nil {
			slog.Error("Invalid configuration file", "config", opts.Config, "error", err)
			os.Exit(1)
		}

		logging.Initialize(loggingConfig(opts, file.Logging))
		logger := logging.GetLogger("main")

		specs := file.Devices
		if len(specs) == 0 {
			specs = config.DevicesFromPaths(splitList(opts.CaptureDevices), opts.CaptureForceFormat)
		}
		if err := config.ValidateDevices(specs); err != nil {
			logger.Error("Invalid device configuration", "error", err)
			os.Exit(1)
		}
		devices, err := capture.DevicesFromSpecs(specs)
		if err != nil {
			logger.Error("Invalid device configuration", "error", err)
			os.Exit(1)
		}

		reopenDelay, err := time.ParseDuration(opts.CaptureReopenDelay)
		if err != nil || reopenDelay <= 0 {
			logger.Warn("Invalid reopen delay, using default", "value", opts.CaptureReopenDelay, "default", capture.DefaultReopenDelay)
			reopenDelay = capture.DefaultReopenDelay
		}

		eventBus := events.New()
		captureMetrics := metrics.New()
		unsubscribeMetrics := captureMetrics.Subscribe(eventBus)

		runner := capture.NewRunner(devices, eventBus,
			capture.WithMaxConsecutiveTimeouts(opts.CaptureMaxTimeouts),
			capture.WithReopenDelay(reopenDelay),
		)

		apiOpts := api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Stores:       runner,
			EventBus:     eventBus,
		}
		if opts.MetricsEnabled {
			apiOpts.Metrics = captureMetrics.Handler()
		}
		server := api.NewServer(apiOpts)

		ctx, cancel := context.WithCancel(context.Background())
		var wg sync.WaitGroup

		hooks.OnStart(func() {
			logger.Info("Starting videocap", "version", version.String(), "devices", len(devices))

			watcher := config.NewWatcher(opts.Config, config.LoadFile, logging.GetLogger("config"))
			watcher.OnReload(func(f config.File) {
				reloaded := f.Logging
				if reloaded.Level == "" {
					reloaded.Level = opts.LoggingLevel
				}
				logging.Reload(reloaded)
			})
			if watchErr := watcher.Start(ctx); watchErr != nil {
				logger.Warn("Config hot reload disabled", "error", watchErr)
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				if runErr := runner.Run(ctx); runErr != nil {
					logger.Error("Capture stopped", "error", runErr)
				}
			}()

			if _, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
				logger.Debug("sd_notify failed", "error", notifyErr)
			}

			if startErr := server.Start(opts.Port); startErr != nil {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			daemon.SdNotify(false, daemon.SdNotifyStopping)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if stopErr := server.Stop(shutdownCtx); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Closes every capture session
			cancel()
			wg.Wait()
			unsubscribeMetrics()
		})
	})

	root := cli.Root()
	root.Use = "videocap"
	root.Short = "Capture frames from V4L2 devices and serve them over HTTP"
	root.Version = version.String()

	root.AddCommand(cmd.CreateListCmd())
	root.AddCommand(cmd.CreateProbeCmd())
	root.AddCommand(cmd.CreateGrabCmd())

	cli.Run()
}

// loggingConfig merges the [logging] table with flag and env overrides.
func loggingConfig(opts *Options, file logging.Config) logging.Config {
	c := file
	c.Level = opts.LoggingLevel
	c.Format = opts.LoggingFormat
	c.History = opts.LoggingHistory
	c.Modules = maps.Clone(file.Modules)
	if c.Modules == nil {
		c.Modules = make(map[string]string)
	}
	for module, level := range map[string]string{
		"capture": opts.LoggingCapture,
		"api":     opts.LoggingAPI,
		"http":    opts.LoggingHTTP,
	} {
		if level != "" {
			c.Modules[module] = level
		}
	}
	return c
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
