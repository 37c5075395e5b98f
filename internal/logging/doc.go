// Package logging provides structured logging with per-module levels.
//
// Records go to stdout when it is connected to a terminal, pipe or file, to
// the systemd journal when journald is listening, and always to an
// in-memory History served by the HTTP API.
//
// Initialize once at startup, then fetch module loggers:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"capture": "debug",
//		},
//	})
//
//	logger := logging.GetLogger("capture")
//	logger.Info("session opened", "device", "/dev/video0")
//
// Levels can be changed without a restart through Reload, which the
// configuration watcher calls, or SetModuleLevel.
//
// # Configuration
//
//	[logging]
//	level = "info"
//	format = "text"   # or "json"
//	history = 500
//
//	[logging.modules]
//	capture = "debug"
//	api = "warn"
//
// # Journal
//
//	journalctl -t videocap -f
//	journalctl -t videocap MODULE=capture DEVICE=/dev/video0
package logging
