package util

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"gopkg.in/natefinch/lumberjack.v2"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// netLogger writes transport-layer diagnostics (hole-punch, ACK, frame
// drops) to a rotating net.log independent of the interactive console.
// nil until InitFileLogging is called; until then LogNet is a no-op.
var netLogger *log.Logger

// InitFileLogging creates ./logs/<runDir>/app.log (truncated each run) and
// net.log (rotated at 5 MiB) and mirrors console output into app.log.
func InitFileLogging(runDir string) error {
	logDir := filepath.Join("logs", runDir)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("util: create log dir: %w", err)
	}

	appLog, err := os.Create(filepath.Join(logDir, "app.log"))
	if err != nil {
		return fmt.Errorf("util: create app.log: %w", err)
	}

	pterm.DefaultLogger.Writer = io.MultiWriter(os.Stderr, appLog)

	netLogger = log.New(&lumberjack.Logger{
		Filename: filepath.Join(logDir, "net.log"),
		MaxSize:  5, // MiB
	}, "", log.LstdFlags)

	return nil
}

// LogNet writes a network-layer diagnostic line to net.log. A no-op until
// InitFileLogging has been called.
func LogNet(format string, args ...interface{}) {
	if netLogger != nil {
		netLogger.Printf(format, args...)
	}
}

// Leveled logging functions backed by pterm's DefaultLogger. Once
// InitFileLogging has run, output goes to stderr plus app.log.

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}
