// Package logger owns the process-wide zap logger. Entries are written as
// JSON lines to a file so they never interleave with NDJSON on stdout.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JSON-OBJECT/claude-code-ui/paths"
)

var (
	root     *zap.Logger
	level    = zap.NewAtomicLevelAt(zap.InfoLevel)
	logFile  *os.File
	mu       sync.Mutex
	logPath  string
	initDone bool
)

// DefaultLogPath returns the default log file path for the main process
func DefaultLogPath() (string, error) {
	dir, err := paths.LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ccui.log"), nil
}

// StreamLogPath returns the log path for raw CLI stream lines of one session
func StreamLogPath(handle string) (string, error) {
	dir, err := paths.LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("stream-%s.log", handle)), nil
}

// OpenStreamLog opens (appending) the raw stream log for a session.
// The caller owns the returned file.
func OpenStreamLog(handle string) (*os.File, error) {
	path, err := StreamLogPath(handle)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// SetDebug enables or disables debug level logging
func SetDebug(enabled bool) {
	if enabled {
		level.SetLevel(zap.DebugLevel)
	} else {
		level.SetLevel(zap.InfoLevel)
	}
}

// SetLevel sets the minimum level from its text form ("debug", "info", "warn", "error").
func SetLevel(text string) error {
	lvl, err := zapcore.ParseLevel(text)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", text, err)
	}
	level.SetLevel(lvl)
	return nil
}

func newFileLogger(f *os.File) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level)
	return zap.New(core)
}

// openLocked opens path for appending and installs the root logger.
// Caller must hold mu.
func openLocked(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	logFile = f
	logPath = path
	root = newFileLogger(f)
	initDone = true

	root.Info("logger initialized", zap.String("path", path))
	return nil
}

// Init initializes the logger with a custom path. Must be called before logging.
// If not called, the default path is used on first log call.
func Init(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if initDone {
		return nil
	}
	return openLocked(path)
}

// ensureInit initializes the logger with default settings if needed.
// Caller must hold mu.
func ensureInit() {
	if initDone {
		return
	}

	defaultPath, err := DefaultLogPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to get default log path: %v\n", err)
		return
	}
	if err := openLocked(defaultPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// Get returns the root logger instance.
// Use this when you don't have session context.
func Get() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	ensureInit()

	if root == nil {
		return zap.L()
	}
	return root
}

// WithSession returns a logger with the session handle attached.
//
// Example:
//
//	log := logger.WithSession(handle)
//	log.Info("process spawned", zap.Int("pid", pid))
//	// {"level":"info","msg":"process spawned","sessionID":"abc123","pid":4242}
func WithSession(handle string) *zap.Logger {
	return Get().With(zap.String("sessionID", handle))
}

// WithComponent returns a logger with the component name attached.
func WithComponent(component string) *zap.Logger {
	return Get().With(zap.String("component", component))
}

// Path returns the file the root logger writes to, or "" before Init.
func Path() string {
	mu.Lock()
	defer mu.Unlock()
	return logPath
}

// Close flushes and closes the log file
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if root != nil {
		_ = root.Sync()
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	root = nil
}

// Reset resets the logger state, allowing reinitialization.
// This is primarily for testing purposes.
func Reset() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	initDone = false
	logPath = ""
	root = nil
	level = zap.NewAtomicLevelAt(zap.InfoLevel)
}

// ClearLogs removes the main log and all stream logs from the logs directory.
func ClearLogs() (int, error) {
	count := 0

	defaultPath, err := DefaultLogPath()
	if err != nil {
		return 0, fmt.Errorf("failed to get default log path: %w", err)
	}
	dir := filepath.Dir(defaultPath)

	if err := os.Remove(defaultPath); err == nil {
		count++
	} else if !os.IsNotExist(err) {
		return count, err
	}

	streamLogs, err := filepath.Glob(filepath.Join(dir, "stream-*.log"))
	if err != nil {
		return count, err
	}

	for _, p := range streamLogs {
		if err := os.Remove(p); err == nil {
			count++
		} else if !os.IsNotExist(err) {
			return count, err
		}
	}

	return count, nil
}
