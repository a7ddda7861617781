// Package eventlog writes machine-readable JSON event lines alongside the
// human-readable "[Component] ..." log lines used throughout Guidepost.
package eventlog

import (
	"encoding/json"
	"log"
	"time"
)

// Level is the severity recorded on an event line.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Logger stamps every event with its component and instance.
// The zero value logs with empty component and instance.
type Logger struct {
	component string
	instance  string
	logger    *log.Logger
}

// New creates a Logger writing through the standard logger.
func New(component, instance string) *Logger {
	return &Logger{component: component, instance: instance, logger: log.Default()}
}

// WithOutput returns a copy of the Logger writing through l. Used by tests to
// capture output.
func (e *Logger) WithOutput(l *log.Logger) *Logger {
	cp := *e
	cp.logger = l
	return &cp
}

// Event writes one JSON line at info level.
func (e *Logger) Event(eventType string, data map[string]interface{}) {
	e.write(LevelInfo, eventType, data)
}

// Warn writes one JSON line at warn level.
func (e *Logger) Warn(eventType string, data map[string]interface{}) {
	e.write(LevelWarn, eventType, data)
}

// Error writes one JSON line at error level.
func (e *Logger) Error(eventType string, data map[string]interface{}) {
	e.write(LevelError, eventType, data)
}

func (e *Logger) write(level Level, eventType string, data map[string]interface{}) {
	if e == nil {
		return
	}
	out := e.logger
	if out == nil {
		out = log.Default()
	}

	line := make(map[string]interface{}, len(data)+5)
	for k, v := range data {
		line[k] = v
	}
	line["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	line["level"] = string(level)
	line["component"] = e.component
	line["event_type"] = eventType
	line["instance"] = e.instance

	jsonData, err := json.Marshal(line)
	if err != nil {
		out.Printf("[%s] Failed to marshal log event: %v", e.component, err)
		return
	}

	out.Println(string(jsonData))
}
