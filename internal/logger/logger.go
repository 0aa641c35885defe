// Package logger provides structured, leveled console logging for the
// replication bridge.
package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// ANSI color codes for console output.
const (
	ColorReset        = "\033[0m"
	ColorCyan         = "\033[36m"
	ColorGreen        = "\033[32m"
	ColorBrightRed    = "\033[91m"
	ColorBrightYellow = "\033[93m"
	ColorBrightGray   = "\033[90m"
)

// Column widths for console alignment.
const (
	ServiceNameWidth = 20
	LogLevelWidth    = 7
)

// Logger provides leveled logging with a fixed service/version banner and
// optional structured fields attached via WithFields.
type Logger struct {
	serviceName string
	version     string

	mu           sync.RWMutex
	colorEnabled bool
	minLevel     int
}

var levelOrder = map[string]int{
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
	"FATAL": 4,
}

// New creates a new logger instance for the given service/version banner.
func New(serviceName, version string) *Logger {
	return &Logger{
		serviceName:  serviceName,
		version:      version,
		colorEnabled: isTerminal(),
		minLevel:     levelOrder["INFO"],
	}
}

// SetLevel restricts output to the given level and above (DEBUG, INFO,
// WARN, ERROR). Unknown levels are ignored.
func (l *Logger) SetLevel(level string) {
	if ord, ok := levelOrder[strings.ToUpper(level)]; ok {
		l.mu.Lock()
		l.minLevel = ord
		l.mu.Unlock()
	}
}

func isTerminal() bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

func (l *Logger) getColorForLevel(level string) string {
	if !l.colorEnabled {
		return ""
	}
	switch level {
	case "DEBUG":
		return ColorBrightGray
	case "INFO":
		return ColorGreen
	case "WARN":
		return ColorBrightYellow
	case "ERROR", "FATAL":
		return ColorBrightRed
	default:
		return ColorReset
	}
}

func formatServiceName(serviceName string) string {
	if len(serviceName) > ServiceNameWidth {
		return serviceName[:ServiceNameWidth-1] + "…"
	}
	return fmt.Sprintf("%-*s", ServiceNameWidth, serviceName)
}

func formatLogLevel(level string) string {
	levelStr := level
	switch level {
	case "ERROR", "FATAL":
		levelStr = "✗ " + levelStr
	case "WARN":
		levelStr = "⚠ " + levelStr
	case "INFO":
		levelStr = "ℹ " + levelStr
	case "DEBUG":
		levelStr = "◦ " + levelStr
	}
	return fmt.Sprintf("%-*s", LogLevelWidth+2, levelStr)
}

func formatFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level, message string, fields map[string]string) {
	l.mu.RLock()
	enabled := levelOrder[level] >= l.minLevel
	colorEnabled := l.colorEnabled
	l.mu.RUnlock()
	if !enabled {
		return
	}

	now := time.Now()
	timestamp := now.Format("2006-01-02 15:04:05.000")

	color := l.getColorForLevel(level)
	resetColor := ""
	if colorEnabled {
		resetColor = ColorReset
	}

	formattedService := formatServiceName(l.serviceName)
	formattedLevel := formatLogLevel(level)

	line := fmt.Sprintf("%s[%s] [%s] [%s%s%s] %s%s%s",
		ColorCyan, timestamp, formattedService, color, formattedLevel, resetColor,
		message, formatFields(fields), resetColor)

	out := os.Stdout
	if level == "ERROR" || level == "FATAL" {
		out = os.Stderr
	}
	fmt.Fprintln(out, line)
}

func (l *Logger) Debug(message string, args ...interface{}) { l.logf("DEBUG", message, args, nil) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.logf("DEBUG", format, args, nil) }
func (l *Logger) Info(message string, args ...interface{})  { l.logf("INFO", message, args, nil) }
func (l *Logger) Infof(format string, args ...interface{})  { l.logf("INFO", format, args, nil) }
func (l *Logger) Warn(message string, args ...interface{})  { l.logf("WARN", message, args, nil) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.logf("WARN", format, args, nil) }
func (l *Logger) Error(message string, args ...interface{}) { l.logf("ERROR", message, args, nil) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.logf("ERROR", format, args, nil) }

// Fatal logs a fatal message and exits the process.
func (l *Logger) Fatal(message string) {
	l.log("FATAL", message, nil)
	os.Exit(1)
}

// Fatalf logs a formatted fatal message and exits the process.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log("FATAL", fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

func (l *Logger) logf(level, message string, args []interface{}, fields map[string]string) {
	if len(args) > 0 {
		l.log(level, fmt.Sprintf(message, args...), fields)
	} else {
		l.log(level, message, fields)
	}
}

// WithFields returns a child logger that attaches the given fields to every
// line it logs. Used to attribute a session's log lines with its
// storeId/appId/socketId once bound (see session.Controller).
func (l *Logger) WithFields(fields map[string]string) *LogContext {
	merged := make(map[string]string, len(fields))
	for k, v := range fields {
		merged[k] = v
	}
	return &LogContext{logger: l, fields: merged}
}

// LogContext is a logger bound to a fixed set of structured fields.
type LogContext struct {
	logger *Logger
	fields map[string]string
}

func (c *LogContext) Debug(message string, args ...interface{}) {
	c.logger.logf("DEBUG", message, args, c.fields)
}
func (c *LogContext) Info(message string, args ...interface{}) {
	c.logger.logf("INFO", message, args, c.fields)
}
func (c *LogContext) Warn(message string, args ...interface{}) {
	c.logger.logf("WARN", message, args, c.fields)
}
func (c *LogContext) Error(message string, args ...interface{}) {
	c.logger.logf("ERROR", message, args, c.fields)
}

// WithFields narrows/extends the field set further, merging new keys over
// the existing ones.
func (c *LogContext) WithFields(fields map[string]string) *LogContext {
	merged := make(map[string]string, len(c.fields)+len(fields))
	for k, v := range c.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &LogContext{logger: c.logger, fields: merged}
}
