package relay

import (
	"strings"

	"github.com/multicloud-portal/portal/internal/models"
)

// All disables a filter dimension.
const All = "ALL"

// Filter selects log entries by level, phase and message text. Empty or ALL
// dimensions match everything.
type Filter struct {
	Level  string `json:"level,omitempty"`
	Phase  string `json:"phase,omitempty"`
	Search string `json:"search,omitempty"`
}

func unset(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, All)
}

// Match reports whether e passes every dimension of the filter.
func (f Filter) Match(e models.LogEntry) bool {
	return matchLevel(e, f.Level) && matchPhase(e, f.Phase) && matchSearch(e, f.Search)
}

// Apply returns the matching entries in their original order. The input is
// never modified.
func (f Filter) Apply(entries []models.LogEntry) []models.LogEntry {
	out := make([]models.LogEntry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// ByLevel keeps entries of one level.
func ByLevel(entries []models.LogEntry, level string) []models.LogEntry {
	return Filter{Level: level}.Apply(entries)
}

// ByPhase keeps entries of one phase.
func ByPhase(entries []models.LogEntry, phase string) []models.LogEntry {
	return Filter{Phase: phase}.Apply(entries)
}

// BySearch keeps entries whose message contains text, ignoring case.
func BySearch(entries []models.LogEntry, text string) []models.LogEntry {
	return Filter{Search: text}.Apply(entries)
}

func matchLevel(e models.LogEntry, level string) bool {
	return unset(level) || models.NormalizeLevel(level) == models.NormalizeLevel(string(e.Level))
}

func matchPhase(e models.LogEntry, phase string) bool {
	return unset(phase) || models.NormalizePhase(phase) == models.NormalizePhase(string(e.Phase))
}

func matchSearch(e models.LogEntry, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), strings.ToLower(text))
}
