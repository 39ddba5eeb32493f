package models

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// LogLevel is the severity of a deployment log line.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// LogPhase is the deployment phase a log line belongs to.
type LogPhase string

const (
	PhaseInitialization LogPhase = "initialization"
	PhaseValidating     LogPhase = "validating"
	PhasePlanning       LogPhase = "planning"
	PhaseApplying       LogPhase = "applying"
	PhaseFinalizing     LogPhase = "finalizing"
	PhaseFailed         LogPhase = "failed"
	PhaseUnknown        LogPhase = "unknown"
)

// NormalizeLevel upper-cases a level and folds WARN into WARNING.
func NormalizeLevel(s string) LogLevel {
	l := strings.ToUpper(strings.TrimSpace(s))
	switch l {
	case "":
		return LogLevelInfo
	case "WARN":
		return LogLevelWarning
	default:
		return LogLevel(l)
	}
}

// NormalizePhase lower-cases a phase. Empty becomes unknown.
func NormalizePhase(s string) LogPhase {
	p := strings.ToLower(strings.TrimSpace(s))
	if p == "" {
		return PhaseUnknown
	}
	return LogPhase(p)
}

// LogEntry is a single line in a deployment's log. Entries for a deployment
// are append-only and kept in arrival order, which Seq records.
type LogEntry struct {
	Seq          int64          `json:"seq"`
	DeploymentID string         `json:"deployment_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Level        LogLevel       `json:"level"`
	Phase        LogPhase       `json:"phase"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
}

var structuredLine = regexp.MustCompile(`^\[([^\]]+)\]\s*\[([^\]]+)\](?:\s*\[([^\]]+)\])?\s*(.+?)(?:\s*-\s*(\{.+\}))?$`)

// ParseLogLine parses "[timestamp] [LEVEL] [PHASE] message - {details}".
// Lines that do not match become INFO/unknown entries stamped with now.
func ParseLogLine(line string, now time.Time) LogEntry {
	m := structuredLine.FindStringSubmatch(line)
	if m == nil {
		return LogEntry{
			Timestamp: now,
			Level:     LogLevelInfo,
			Phase:     PhaseUnknown,
			Message:   line,
		}
	}

	entry := LogEntry{
		Timestamp: ParseTimestamp(m[1], now),
		Level:     NormalizeLevel(m[2]),
		Phase:     NormalizePhase(m[3]),
		Message:   strings.TrimSpace(m[4]),
	}
	if m[5] != "" {
		var details map[string]any
		if err := json.Unmarshal([]byte(m[5]), &details); err == nil {
			entry.Details = details
		}
	}
	return entry
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses the timestamp formats emitted by the deployment API.
func ParseTimestamp(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}
