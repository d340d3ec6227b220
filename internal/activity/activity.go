// Package activity appends a human-readable trail of everything the
// perception-action loop does — perceptions arriving, decisions made,
// actions dispatched, feedback attached, errors hit — to a JSONL file,
// independent of the structured cycle_history.jsonl corectx writes.
// Grounded on the teacher's activity logger, generalized from a
// Discord-conversation trail (channel/thread/reflex-intent fields) to a
// perception/decision/action/feedback one.
package activity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Type identifies what kind of activity this is.
type Type string

const (
	TypePerception Type = "perception" // A monitor fired and the event reached the core
	TypeDecision   Type = "decision"   // The orchestrator's cognitive stage chose an action
	TypeAction     Type = "action"     // An action was dispatched to the executor
	TypeFeedback   Type = "feedback"   // A feedback signal was attached to a cycle
	TypeError      Type = "error"      // Something went wrong
)

// Entry represents a single activity log entry.
type Entry struct {
	Timestamp      time.Time      `json:"ts"`
	Type           Type           `json:"type"`
	Summary        string         `json:"summary"`
	CycleID        string         `json:"cycle_id,omitempty"`
	PerceptionKind string         `json:"perception_kind,omitempty"`
	ActionKind     string         `json:"action_kind,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// Log is the activity logger.
type Log struct {
	path string
	mu   sync.Mutex
}

// New creates an activity logger writing to statePath/system/activity.jsonl.
func New(statePath string) *Log {
	return &Log{
		path: filepath.Join(statePath, "system", "activity.jsonl"),
	}
}

// Log appends an entry to the activity log.
func (l *Log) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// LogPerception logs a perception event reaching the event loop core.
func (l *Log) LogPerception(summary, perceptionKind string) error {
	return l.Log(Entry{Type: TypePerception, Summary: summary, PerceptionKind: perceptionKind})
}

// LogDecision logs the cognitive stage's chosen action for a cycle.
func (l *Log) LogDecision(summary, cycleID, actionKind string, urgency, confidence float64) error {
	return l.Log(Entry{
		Type:       TypeDecision,
		Summary:    summary,
		CycleID:    cycleID,
		ActionKind: actionKind,
		Data: map[string]any{
			"urgency":    urgency,
			"confidence": confidence,
		},
	})
}

// LogAction logs an action dispatched to the executor.
func (l *Log) LogAction(summary, cycleID, actionID string) error {
	return l.Log(Entry{
		Type:       TypeAction,
		Summary:    summary,
		CycleID:    cycleID,
		Data:       map[string]any{"action_id": actionID},
	})
}

// LogFeedback logs a feedback signal attached to a cycle.
func (l *Log) LogFeedback(summary, cycleID, layer string, magnitude float64) error {
	return l.Log(Entry{
		Type:    TypeFeedback,
		Summary: summary,
		CycleID: cycleID,
		Data: map[string]any{
			"layer":     layer,
			"magnitude": magnitude,
		},
	})
}

// LogError logs an error.
func (l *Log) LogError(summary string, err error, data map[string]any) error {
	if data == nil {
		data = make(map[string]any)
	}
	data["error"] = err.Error()
	return l.Log(Entry{Type: TypeError, Summary: summary, Data: data})
}

// Recent returns the last n entries.
func (l *Log) Recent(n int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if n >= len(entries) {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}

// Today returns entries from today.
func (l *Log) Today() ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var result []Entry
	for _, e := range entries {
		if !e.Timestamp.Before(today) {
			result = append(result, e)
		}
	}
	return result, nil
}

// Search searches entries by text in the summary and structured data,
// most recent first.
func (l *Log) Search(query string, limit int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	var result []Entry
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := entries[i]
		if strings.Contains(strings.ToLower(e.Summary), query) {
			result = append(result, e)
			continue
		}
		if e.Data != nil {
			dataJSON, _ := json.Marshal(e.Data)
			if strings.Contains(strings.ToLower(string(dataJSON)), query) {
				result = append(result, e)
			}
		}
	}
	return result, nil
}

// ByType returns entries of a specific type, most recent first.
func (l *Log) ByType(t Type, limit int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	var result []Entry
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		if entries[i].Type == t {
			result = append(result, entries[i])
		}
	}
	return result, nil
}

// Range returns entries in a time range.
func (l *Log) Range(start, end time.Time) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	var result []Entry
	for _, e := range entries {
		if !e.Timestamp.Before(start) && !e.Timestamp.After(end) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (l *Log) readAll() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
