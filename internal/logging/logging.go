// Package logging provides structured logging using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// logFile holds the current log file if logging to file.
var logFile *os.File

// baseOutput is the writer Logger was built from (console, or
// console+logFile), kept around so per-session loggers can fan into the
// same sinks plus their own session file instead of replacing them.
var baseOutput io.Writer

// currentConfig is the configuration Init last ran with, needed by
// ForSession to know whether (and where) to open a per-session file.
var currentConfig Config

var sessionMu sync.Mutex
var sessionFiles = map[string]*os.File{}

// Level represents log levels.
type Level = zerolog.Level

// Log levels exposed for convenience.
const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level Level
	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer
	// Pretty enables human-readable console output.
	Pretty bool
	// TimeFormat specifies the time format. Defaults to RFC3339.
	TimeFormat string
	// LogToFile enables logging to a timestamped file in /tmp.
	LogToFile bool
	// LogDir is the directory for log files. Defaults to /tmp.
	LogDir string
	// PerSessionFiles additionally routes each ForSession logger's output
	// into its own file under LogDir, so N concurrently-supervised agent
	// sessions don't interleave into one stream. Only takes effect when
	// LogToFile is also set.
	PerSessionFiles bool
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Level:           InfoLevel,
		Output:          os.Stderr,
		Pretty:          false,
		TimeFormat:      time.RFC3339,
		LogToFile:       false,
		LogDir:          "/tmp",
		PerSessionFiles: true,
	}
}

// Init initializes the global logger with the given configuration.
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "/tmp"
	}

	zerolog.TimeFieldFormat = cfg.TimeFormat

	var writers []io.Writer

	// Console output
	var consoleOutput io.Writer = cfg.Output
	if cfg.Pretty {
		consoleOutput = zerolog.ConsoleWriter{
			Out:        cfg.Output,
			TimeFormat: cfg.TimeFormat,
		}
	}
	writers = append(writers, consoleOutput)

	// File output
	if cfg.LogToFile {
		// Close previous log file if any
		if logFile != nil {
			logFile.Close()
		}

		// Create timestamped log file
		timestamp := time.Now().Format("20060102-150405")
		logPath := filepath.Join(cfg.LogDir, fmt.Sprintf("orchestrator-%s.log", timestamp))

		var err error
		logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			writers = append(writers, logFile)
		}
	}

	// Create multi-writer
	var output io.Writer
	if len(writers) == 1 {
		output = writers[0]
	} else {
		output = zerolog.MultiLevelWriter(writers...)
	}

	currentConfig = cfg
	baseOutput = output

	Logger = zerolog.New(output).
		Level(cfg.Level).
		With().
		Timestamp().
		Logger()

	closeAllSessionFilesLocked()
}

// GetLogFilePath returns the current log file path, or empty string if not logging to file.
func GetLogFilePath() string {
	if logFile != nil {
		return logFile.Name()
	}
	return ""
}

// Close closes the log file if one is open, and every per-session file
// opened by ForSession.
func Close() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	sessionMu.Lock()
	closeAllSessionFilesLocked()
	sessionMu.Unlock()
}

func closeAllSessionFilesLocked() {
	for id, f := range sessionFiles {
		f.Close()
		delete(sessionFiles, id)
	}
}

// ParseLevel parses a log level string (case-insensitive).
// Supported values: DEBUG, INFO, WARN, ERROR, FATAL.
// Returns InfoLevel if the string is not recognized.
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Debug starts a new debug level log message.
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Info starts a new info level log message.
func Info() *zerolog.Event {
	return Logger.Info()
}

// Warn starts a new warn level log message.
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Error starts a new error level log message.
func Error() *zerolog.Event {
	return Logger.Error()
}

// Fatal starts a new fatal level log message.
// Calling Msg or Send on the returned event will call os.Exit(1).
func Fatal() *zerolog.Event {
	return Logger.Fatal()
}

// With creates a child logger with the given fields.
func With() zerolog.Context {
	return Logger.With()
}

// Component returns a child logger tagged with a "component" field, used by
// the supervisor/orchestrator/router/interp packages to scope their log
// lines without each one re-deriving a sub-logger by hand.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// ForSession returns a child logger tagged with a "sessionID" field. When
// the active config has LogToFile and PerSessionFiles set, its output also
// fans into a dedicated file under LogDir (one process supervises N agent
// sessions at once, so a single shared stream gets noisy fast) in addition
// to the normal console/global-file sinks. CloseSession releases that file
// once the session is done logging.
func ForSession(sessionID string) zerolog.Logger {
	if !currentConfig.LogToFile || !currentConfig.PerSessionFiles || baseOutput == nil {
		return Logger.With().Str("sessionID", sessionID).Logger()
	}

	f := sessionLogFile(sessionID)
	if f == nil {
		return Logger.With().Str("sessionID", sessionID).Logger()
	}

	return zerolog.New(zerolog.MultiLevelWriter(baseOutput, f)).
		Level(Logger.GetLevel()).
		With().
		Timestamp().
		Str("sessionID", sessionID).
		Logger()
}

func sessionLogFile(sessionID string) *os.File {
	sessionMu.Lock()
	defer sessionMu.Unlock()

	if f, ok := sessionFiles[sessionID]; ok {
		return f
	}

	safeID := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, sessionID)
	path := filepath.Join(currentConfig.LogDir, fmt.Sprintf("session-%s.log", safeID))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil
	}
	sessionFiles[sessionID] = f
	return f
}

// CloseSession releases the per-session log file opened by ForSession, if
// any. Called by the Session Supervisor once a session has exited.
func CloseSession(sessionID string) {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	if f, ok := sessionFiles[sessionID]; ok {
		f.Close()
		delete(sessionFiles, sessionID)
	}
}

// init sets up a default logger so the package is usable without explicit initialization.
func init() {
	Init(DefaultConfig())
}
