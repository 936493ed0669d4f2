package logging

import (
	"io"
	"log/slog"
	"maps"
	"os"
	"strings"
	"sync"
)

// DefaultHistorySize is the number of log entries kept for the API.
const DefaultHistorySize = 1000

var (
	moduleLoggers   = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	globalConfig    Config
	globalLevelVar  = &slog.LevelVar{}
	isInitialized   bool
	mutex           sync.RWMutex
	logHistory      *History
	logCallback     LogCallback
	output          io.Writer = os.Stdout
)

// Config represents logging configuration.
type Config struct {
	Level       string            `toml:"level"`
	Format      string            `toml:"format"`
	HistorySize int               `toml:"history_size"`
	Modules     map[string]string `toml:"modules"`
}

// Initialize sets up the logging system. Loggers handed out earlier keep
// their handlers; only their levels follow the new configuration.
func Initialize(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig = config
	isInitialized = true

	size := config.HistorySize
	if size <= 0 {
		size = DefaultHistorySize
	}
	logHistory = NewHistory(size)

	applyLevelsLocked(config.Level, config.Modules)

	slog.SetDefault(slog.New(createHandler(config.Format, globalLevelVar)))
}

// SetLevels changes the global and per-module levels at runtime. Modules no
// longer listed fall back to the global level.
func SetLevels(level string, modules map[string]string) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig.Level = level
	globalConfig.Modules = maps.Clone(modules)
	applyLevelsLocked(level, modules)
}

// Levels returns the effective level of every module logger created so far.
func Levels() map[string]string {
	mutex.RLock()
	defer mutex.RUnlock()

	levels := make(map[string]string, len(moduleLevelVars)+1)
	levels["*"] = levelToString(globalLevelVar.Level())
	for module, lv := range moduleLevelVars {
		levels[module] = levelToString(lv.Level())
	}
	return levels
}

func applyLevelsLocked(level string, modules map[string]string) {
	global := slog.LevelInfo
	if parsed := parseLevel(level); parsed != nil {
		global = *parsed
	}
	globalLevelVar.Set(global)

	for module, levelVar := range moduleLevelVars {
		levelVar.Set(moduleLevel(global, modules, module))
	}
}

func moduleLevel(global slog.Level, modules map[string]string, module string) slog.Level {
	if levelStr, exists := modules[module]; exists {
		if parsed := parseLevel(levelStr); parsed != nil {
			return *parsed
		}
	}
	return global
}

// GetHistory returns the log history, or nil before Initialize.
func GetHistory() *History {
	mutex.RLock()
	defer mutex.RUnlock()
	return logHistory
}

// SetLogCallback sets a callback to be called for each new log entry.
// Used for publishing log events to SSE clients.
func SetLogCallback(callback LogCallback) {
	mutex.Lock()
	defer mutex.Unlock()
	logCallback = callback
}

// GetLogger returns a logger for the specified module, creating it if needed.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	if logger, exists := moduleLoggers[module]; exists {
		mutex.RUnlock()
		return logger
	}
	mutex.RUnlock()

	mutex.Lock()
	defer mutex.Unlock()

	// Double-check in case another goroutine created it
	if logger, exists := moduleLoggers[module]; exists {
		return logger
	}

	levelVar := &slog.LevelVar{}
	format := "text"
	if isInitialized {
		levelVar.Set(moduleLevel(globalLevelVar.Level(), globalConfig.Modules, module))
		format = globalConfig.Format
	}

	logger := slog.New(createHandler(format, levelVar)).With("module", module)
	moduleLoggers[module] = logger
	moduleLevelVars[module] = levelVar
	return logger
}

// createHandler builds the handler chain: stdout when connected, the journal
// when available, and always the history.
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdoutHandler slog.Handler
	if format == "json" {
		stdoutHandler = slog.NewJSONHandler(output, opts)
	} else {
		stdoutHandler = slog.NewTextHandler(output, opts)
	}

	var handlers []slog.Handler
	if output != os.Stdout || isStdoutAvailable() {
		handlers = append(handlers, stdoutHandler)
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, NewHistoryHandler(level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

// isStdoutAvailable checks if stdout is connected to a terminal, pipe, socket, or file.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	// Available if terminal, pipe, socket, or regular file (not /dev/null which is ModeDevice)
	return (mode&os.ModeCharDevice) != 0 || (mode&os.ModeNamedPipe) != 0 || (mode&os.ModeSocket) != 0 || mode.IsRegular()
}

// ParseLevel reports whether level names a known log level.
func ParseLevel(level string) (slog.Level, bool) {
	l := parseLevel(level)
	if l == nil {
		return slog.LevelInfo, false
	}
	return *l, true
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}
