// Package logging emits structured JSON log records shaped after the
// OTEL log data model, so a hook can mirror them into an OTLP stream
// without re-encoding.
package logging

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Level is the OTEL severity text of a record.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

// SeverityNumber returns the OTEL severity number for a level.
// See https://opentelemetry.io/docs/specs/otel/logs/data-model/#severity-fields
func SeverityNumber(level Level) int {
	switch level {
	case LevelDebug:
		return 5
	case LevelWarn:
		return 13
	case LevelError:
		return 17
	case LevelFatal:
		return 21
	default:
		return 9 // INFO
	}
}

// LogHook receives every emitted record, letting a secondary sink
// (OTLP export) attach without this package importing it.
type LogHook func(level Level, msg string, attrs map[string]interface{})

// LogEntry is the serialized record shape.
type LogEntry struct {
	Timestamp      string                 `json:"Timestamp"`
	SeverityText   string                 `json:"SeverityText"`
	SeverityNumber int                    `json:"SeverityNumber"`
	Body           string                 `json:"Body"`
	Attributes     map[string]interface{} `json:"Attributes,omitempty"`
	Resource       map[string]string      `json:"Resource,omitempty"`
}

// Logger writes records to a single output stream.
type Logger struct {
	mu       sync.Mutex
	output   io.Writer
	resource map[string]string
	hook     LogHook
	debug    bool
}

var defaultLogger = &Logger{output: os.Stdout}

// SetOutput redirects the default logger.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.output = w
}

// SetResource attaches OTEL resource attributes (service.name, run id)
// to every record. Called once at startup.
func SetResource(resource map[string]string) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.resource = resource
}

// SetDebug enables or disables DEBUG level output.
func SetDebug(enabled bool) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.debug = enabled
}

// SetHook registers the hook called for every emitted record.
func SetHook(hook LogHook) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.hook = hook
}

func (l *Logger) log(level Level, msg string, attrs map[string]interface{}) {
	entry := LogEntry{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		SeverityText:   string(level),
		SeverityNumber: SeverityNumber(level),
		Body:           msg,
		Attributes:     attrs,
	}

	l.mu.Lock()
	if level == LevelDebug && !l.debug {
		l.mu.Unlock()
		return
	}
	entry.Resource = l.resource
	hook := l.hook
	data, _ := json.Marshal(entry)
	_, _ = l.output.Write(data)
	_, _ = l.output.Write([]byte("\n"))
	l.mu.Unlock()

	// Hook runs outside the lock so it may log itself.
	if hook != nil {
		hook(level, msg, attrs)
	}
}

// Debug logs at DEBUG level. Suppressed unless SetDebug(true).
func Debug(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelDebug, msg, first(fields))
}

// Info logs at INFO level.
func Info(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelInfo, msg, first(fields))
}

// Warn logs at WARN level.
func Warn(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelWarn, msg, first(fields))
}

// Error logs at ERROR level.
func Error(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelError, msg, first(fields))
}

// Fatal logs at FATAL level and exits.
func Fatal(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelFatal, msg, first(fields))
	os.Exit(1)
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	return fields[0]
}

// F builds an attribute map from alternating keys and values. A
// trailing key without a value is dropped.
func F(keyvals ...interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok {
			fields[key] = keyvals[i+1]
		}
	}
	return fields
}
