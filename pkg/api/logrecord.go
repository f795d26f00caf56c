package api

import "time"

// Level is the severity of a LogRecord.
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// LogRecord is one immutable fact about a run. Records are appended in
// emission order to a durable sink keyed by (workflow, run ID) and are
// never rewritten by the run that produced them; readers such as a
// dashboard see them read-only.
type LogRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Workflow  string         `json:"workflow"`
	RunID     string         `json:"run_id"`
	Step      string         `json:"step,omitempty"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}
