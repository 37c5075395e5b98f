package logging

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/journal"
)

const defaultHistorySize = 500

// Config is the [logging] section of the configuration file.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	History int               `toml:"history"`
	Modules map[string]string `toml:"modules"`
}

type moduleLogger struct {
	level  *slog.LevelVar
	logger *slog.Logger
}

var (
	mu        sync.RWMutex
	config    Config
	rootLevel = &slog.LevelVar{}
	modules   = make(map[string]*moduleLogger)
	history   = NewHistory(defaultHistorySize)
)

// Initialize configures outputs and levels. Loggers returned by GetLogger
// before Initialize are rebuilt, so modules should fetch theirs afterwards.
func Initialize(c Config) {
	mu.Lock()
	defer mu.Unlock()

	config = c
	size := c.History
	if size <= 0 {
		size = defaultHistorySize
	}
	if history.Cap() != size {
		history = NewHistory(size)
	}

	rootLevel.Set(levelOrDefault(c.Level, slog.LevelInfo))
	for name, m := range modules {
		m.level.Set(moduleLevel(name))
		m.logger = slog.New(newHandler(c.Format, m.level)).With("module", name)
	}

	slog.SetDefault(slog.New(newHandler(c.Format, rootLevel)))
}

// Reload applies the levels in c to the running loggers. Format and history
// size only take effect through Initialize.
func Reload(c Config) {
	mu.Lock()
	defer mu.Unlock()

	config.Level = c.Level
	config.Modules = c.Modules
	rootLevel.Set(levelOrDefault(c.Level, slog.LevelInfo))
	for name, m := range modules {
		m.level.Set(moduleLevel(name))
	}
}

// GetLogger returns the logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mu.RLock()
	m, ok := modules[module]
	mu.RUnlock()
	if ok {
		return m.logger
	}

	mu.Lock()
	defer mu.Unlock()
	return getLocked(module).logger
}

func getLocked(module string) *moduleLogger {
	if m, ok := modules[module]; ok {
		return m
	}
	level := &slog.LevelVar{}
	level.Set(moduleLevel(module))
	m := &moduleLogger{
		level:  level,
		logger: slog.New(newHandler(config.Format, level)).With("module", module),
	}
	modules[module] = m
	return m
}

// SetModuleLevel changes the level of one module at runtime.
func SetModuleLevel(module, level string) error {
	l, ok := parseLevel(level)
	if !ok {
		return fmt.Errorf("invalid log level %q", level)
	}

	mu.Lock()
	defer mu.Unlock()
	getLocked(module).level.Set(l)
	return nil
}

// Levels returns the current level of every module, sorted by name.
func Levels() []ModuleLevel {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]ModuleLevel, 0, len(modules))
	for name, m := range modules {
		out = append(out, ModuleLevel{Module: name, Level: levelName(m.level.Level())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out
}

// ModuleLevel is a module name and its level.
type ModuleLevel struct {
	Module string `json:"module"`
	Level  string `json:"level"`
}

// GetHistory returns the in-memory log history.
func GetHistory() *History {
	mu.RLock()
	defer mu.RUnlock()
	return history
}

// moduleLevel must be called with mu held.
func moduleLevel(module string) slog.Level {
	level := levelOrDefault(config.Level, slog.LevelInfo)
	if s, ok := config.Modules[module]; ok {
		level = levelOrDefault(s, level)
	}
	return level
}

// newHandler routes records to stdout, the journal when one is listening,
// and the history ring.
func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdout slog.Handler
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	var sinks []slog.Handler
	if stdoutAvailable() {
		sinks = append(sinks, stdout)
	}
	if journal.Enabled() {
		sinks = append(sinks, newJournalHandler(level))
	}
	sinks = append(sinks, newHistoryHandler(level))

	if len(sinks) == 1 {
		return sinks[0]
	}
	return newFanout(sinks...)
}

// stdoutAvailable reports whether stdout is a terminal, pipe, socket or file.
func stdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0 || mode.IsRegular()
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}

func levelOrDefault(s string, def slog.Level) slog.Level {
	if l, ok := parseLevel(s); ok {
		return l
	}
	return def
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
