package util

import (
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"gopkg.in/natefinch/lumberjack.v2"
)

// fileLogger mirrors every log line into the file set by SetLogFile. It uses
// the JSON formatter so the file never carries terminal color codes.
var fileLogger *pterm.Logger

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
	pterm.DefaultLogger.Writer = os.Stderr
}

// Leveled logging functions backed by the pterm default logger.
// All output goes to stderr unless SetLogFile adds a file sink.

func LogDebug(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	pterm.DefaultLogger.Debug(msg)
	if fileLogger != nil {
		fileLogger.Debug(msg)
	}
}

func LogInfo(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	pterm.DefaultLogger.Info(msg)
	if fileLogger != nil {
		fileLogger.Info(msg)
	}
}

func LogWarning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	pterm.DefaultLogger.Warn(msg)
	if fileLogger != nil {
		fileLogger.Warn(msg)
	}
}

func LogError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	pterm.DefaultLogger.Error(msg)
	if fileLogger != nil {
		fileLogger.Error(msg)
	}
}

// EnableDebug configures the loggers to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
	if fileLogger != nil {
		fileLogger.Level = pterm.LogLevelDebug
	}
}

// SetLogFile mirrors log output into a size-rotated file of JSON lines. The
// returned closer releases the file; an empty path is a no-op. Call it before
// any goroutine logs.
func SetLogFile(path string) io.Closer {
	if path == "" {
		return io.NopCloser(nil)
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MiB
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	fileLogger = pterm.DefaultLogger.
		WithFormatter(pterm.LogFormatterJSON).
		WithTimeFormat("2006-01-02T15:04:05.000Z07:00").
		WithWriter(lj)
	return lj
}
